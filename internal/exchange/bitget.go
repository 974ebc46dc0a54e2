package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
)

// BitgetAdapter talks to Bitget's v2 mix (USDT-FUTURES) API.
type BitgetAdapter struct {
	cfg    Config
	client *http.Client
}

func NewBitgetAdapter(cfg Config) (*BitgetAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("bitget", "rest_url is required")
	}
	return &BitgetAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *BitgetAdapter) ID() string        { return "bitget" }
func (a *BitgetAdapter) IsConnected() bool { return true }

// bitgetSign implements "tsMs ‖ METHOD ‖ path ‖ body", HMAC-SHA256 base64.
func bitgetSign(secret, ts, method, path, body string) string {
	return hmacSHA256Base64(secret, ts+method+path+body)
}

func bitgetHeaders(apiKey, ts, sig, passphrase string) map[string]string {
	return map[string]string{
		"ACCESS-KEY":        apiKey,
		"ACCESS-SIGN":       sig,
		"ACCESS-TIMESTAMP":  ts,
		"ACCESS-PASSPHRASE": passphrase,
		"Content-Type":      "application/json",
	}
}

type bitgetEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func (a *BitgetAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	side := "buy"
	if req.Side == SideSell {
		side = "sell"
	}
	payload := map[string]interface{}{
		"symbol":      req.Symbol,
		"productType": "USDT-FUTURES",
		"marginMode":  "crossed",
		"marginCoin":  "USDT",
		"side":        side,
		"tradeSide":   "open",
		"orderType":   "limit",
		"size":        req.Quantity.String(),
		"clientOid":   req.ClientOrderID,
		"reduceOnly":  strconv.FormatBool(req.ReduceOnly),
	}
	if req.Price != nil {
		payload["price"] = req.Price.String()
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, newParseErr("bitget", "place_order encode", err)
	}

	ts := strconv.FormatInt(nowMillis(), 10)
	path := "/api/v2/mix/order/place-order"
	sig := bitgetSign(creds.APISecret, ts, http.MethodPost, path, string(bodyBytes))

	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, bitgetHeaders(creds.APIKey, ts, sig, creds.Passphrase), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("bitget", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bitget", fmt.Sprintf("place_order http %d: %s", status, respBody))
	}

	var env bitgetEnvelope[struct {
		OrderID   string `json:"orderId"`
		ClientOid string `json:"clientOid"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("bitget", "place_order decode", err)
	}
	if env.Code != "00000" {
		return nil, newVenueErr("bitget", fmt.Sprintf("place_order code=%s msg=%s", env.Code, env.Msg))
	}

	return &OrderResponse{
		ExchangeOrderID: env.Data.OrderID,
		ClientOrderID:   env.Data.ClientOid,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       OrderTypeLimit,
		Price:           req.Price,
		Quantity:        req.Quantity,
		FilledQuantity:  decimal.Zero,
		Status:          OrderStatusOpen,
		TimestampMs:     nowMillis(),
	}, nil
}

func (a *BitgetAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	payload := map[string]interface{}{
		"symbol":      symbol,
		"productType": "USDT-FUTURES",
		"orderId":     orderID,
	}
	bodyBytes, _ := json.Marshal(payload)

	ts := strconv.FormatInt(nowMillis(), 10)
	path := "/api/v2/mix/order/cancel-order"
	sig := bitgetSign(creds.APISecret, ts, http.MethodPost, path, string(bodyBytes))

	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, bitgetHeaders(creds.APIKey, ts, sig, creds.Passphrase), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("bitget", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bitget", fmt.Sprintf("cancel_order http %d: %s", status, respBody))
	}

	var env bitgetEnvelope[struct {
		OrderID string `json:"orderId"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("bitget", "cancel_order decode", err)
	}
	if env.Code != "00000" {
		return nil, newVenueErr("bitget", fmt.Sprintf("cancel_order code=%s msg=%s", env.Code, env.Msg))
	}

	return &OrderResponse{
		ExchangeOrderID: env.Data.OrderID,
		Symbol:          symbol,
		Side:            SideBuy,
		OrderType:       OrderTypeLimit,
		Quantity:        decimal.Zero,
		FilledQuantity:  decimal.Zero,
		Status:          OrderStatusCancelled,
		TimestampMs:     nowMillis(),
	}, nil
}

func (a *BitgetAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	path := fmt.Sprintf("/api/v2/mix/order/detail?symbol=%s&productType=USDT-FUTURES&orderId=%s", symbol, orderID)
	ts := strconv.FormatInt(nowMillis(), 10)
	sig := bitgetSign(creds.APISecret, ts, http.MethodGet, path, "")

	respBody, status, err := doRequest(ctx, a.client, http.MethodGet, a.cfg.RestURL+path, bitgetHeaders(creds.APIKey, ts, sig, creds.Passphrase), nil)
	if err != nil {
		return nil, newTransportErr("bitget", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bitget", fmt.Sprintf("get_order http %d: %s", status, respBody))
	}

	var env bitgetEnvelope[struct {
		OrderID       string `json:"orderId"`
		ClientOid     string `json:"clientOid"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		OrderType     string `json:"orderType"`
		Price         string `json:"price"`
		Size          string `json:"size"`
		BaseVolume    string `json:"baseVolume"`
		PriceAvg      string `json:"priceAvg"`
		State         string `json:"state"`
		CTime         string `json:"cTime"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("bitget", "get_order decode", err)
	}
	if env.Code != "00000" {
		return nil, newVenueErr("bitget", fmt.Sprintf("get_order code=%s msg=%s", env.Code, env.Msg))
	}
	d := env.Data

	qty, err := decimal.NewFromString(d.Size)
	if err != nil {
		return nil, newParseErr("bitget", "size parse", err)
	}
	filled, err := decimal.NewFromString(d.BaseVolume)
	if err != nil {
		return nil, newParseErr("bitget", "baseVolume parse", err)
	}
	resp := &OrderResponse{
		ExchangeOrderID: d.OrderID,
		ClientOrderID:   d.ClientOid,
		Symbol:          d.Symbol,
		Side:            bitgetSide(d.Side),
		OrderType:       OrderTypeLimit,
		Quantity:        qty,
		FilledQuantity:  filled,
		Status:          bitgetStatus(d.State),
	}
	if ms, err := strconv.ParseInt(d.CTime, 10, 64); err == nil {
		resp.TimestampMs = ms
	}
	if d.Price != "" {
		if p, err := decimal.NewFromString(d.Price); err == nil {
			resp.Price = &p
		}
	}
	if d.PriceAvg != "" {
		if p, err := decimal.NewFromString(d.PriceAvg); err == nil && !p.IsZero() {
			resp.AvgFillPrice = &p
		}
	}
	return resp, nil
}

func (a *BitgetAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/api/v2/mix/market/ticker?symbol=%s&productType=USDT-FUTURES", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("bitget", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("bitget", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env bitgetEnvelope[[]struct {
		BestBid string `json:"bestBid"`
		BestAsk string `json:"bestAsk"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bitget", "ticker decode", err)
	}
	if env.Code != "00000" || len(env.Data) == 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("bitget", fmt.Sprintf("get_best_price code=%s", env.Code))
	}
	bid, err := decimal.NewFromString(env.Data[0].BestBid)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bitget", "bid parse", err)
	}
	ask, err := decimal.NewFromString(env.Data[0].BestAsk)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bitget", "ask parse", err)
	}
	return bid, ask, nil
}

func bitgetSide(s string) Side {
	if s == "buy" {
		return SideBuy
	}
	return SideSell
}

func bitgetStatus(s string) OrderStatus {
	switch s {
	case "new", "init", "live":
		return OrderStatusOpen
	case "partial-fill", "partially_filled":
		return OrderStatusPartial
	case "full-fill", "filled":
		return OrderStatusFilled
	case "cancelled", "canceled":
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
