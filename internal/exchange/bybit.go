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

// BybitAdapter talks to Bybit's v5 unified trading API (linear futures).
type BybitAdapter struct {
	cfg    Config
	client *http.Client
}

func NewBybitAdapter(cfg Config) (*BybitAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("bybit", "rest_url is required")
	}
	return &BybitAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *BybitAdapter) ID() string        { return "bybit" }
func (a *BybitAdapter) IsConnected() bool { return true }

const bybitRecvWindow = "5000"

// sign implements "ts ‖ apiKey ‖ recvWindow ‖ (bodyOrQuery)", HMAC-SHA256 hex.
func bybitSign(secret, ts, apiKey, body string) string {
	return hmacSHA256Hex(secret, ts+apiKey+bybitRecvWindow+body)
}

func bybitHeaders(apiKey, ts, sig string) map[string]string {
	return map[string]string{
		"X-BAPI-API-KEY":     apiKey,
		"X-BAPI-SIGN":        sig,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": bybitRecvWindow,
		"Content-Type":       "application/json",
	}
}

type bybitEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

func (a *BybitAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	side := "Buy"
	if req.Side == SideSell {
		side = "Sell"
	}
	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      req.Symbol,
		"side":        side,
		"orderType":   "Limit",
		"qty":         req.Quantity.String(),
		"timeInForce": "GTC",
		"orderLinkId": req.ClientOrderID,
		"reduceOnly":  req.ReduceOnly,
	}
	if req.Price != nil {
		payload["price"] = req.Price.String()
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, newParseErr("bybit", "place_order encode", err)
	}

	ts := strconv.FormatInt(nowMillis(), 10)
	sig := bybitSign(creds.APISecret, ts, creds.APIKey, string(bodyBytes))

	reqURL := a.cfg.RestURL + "/v5/order/create"
	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, reqURL, bybitHeaders(creds.APIKey, ts, sig), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("bybit", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bybit", fmt.Sprintf("place_order http %d: %s", status, respBody))
	}

	var env bybitEnvelope[struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("bybit", "place_order decode", err)
	}
	if env.RetCode != 0 {
		return nil, newVenueErr("bybit", fmt.Sprintf("place_order retCode=%d retMsg=%s", env.RetCode, env.RetMsg))
	}

	// Bybit's create-order response does not echo full order state; the
	// remaining fields are synthesized from the request, and status is
	// reported conservatively as Open rather than claiming a fill we have
	// not observed.
	return &OrderResponse{
		ExchangeOrderID: env.Result.OrderID,
		ClientOrderID:   req.ClientOrderID,
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

func (a *BybitAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	payload := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	bodyBytes, _ := json.Marshal(payload)
	ts := strconv.FormatInt(nowMillis(), 10)
	sig := bybitSign(creds.APISecret, ts, creds.APIKey, string(bodyBytes))

	reqURL := a.cfg.RestURL + "/v5/order/cancel"
	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, reqURL, bybitHeaders(creds.APIKey, ts, sig), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("bybit", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bybit", fmt.Sprintf("cancel_order http %d: %s", status, respBody))
	}

	var env bybitEnvelope[struct {
		OrderID string `json:"orderId"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("bybit", "cancel_order decode", err)
	}
	if env.RetCode != 0 {
		return nil, newVenueErr("bybit", fmt.Sprintf("cancel_order retCode=%d retMsg=%s", env.RetCode, env.RetMsg))
	}

	// Cancel does not echo side/quantity either; consumers must not rely on
	// these synthesized fields after a cancel (see design notes).
	return &OrderResponse{
		ExchangeOrderID: env.Result.OrderID,
		Symbol:          symbol,
		Side:            SideBuy,
		OrderType:       OrderTypeLimit,
		Quantity:        decimal.Zero,
		FilledQuantity:  decimal.Zero,
		Status:          OrderStatusCancelled,
		TimestampMs:     nowMillis(),
	}, nil
}

func (a *BybitAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	reqURL := fmt.Sprintf("%s/v5/order/realtime?category=linear&symbol=%s&orderId=%s", a.cfg.RestURL, symbol, orderID)
	ts := strconv.FormatInt(nowMillis(), 10)
	sig := bybitSign(creds.APISecret, ts, creds.APIKey, fmt.Sprintf("category=linear&symbol=%s&orderId=%s", symbol, orderID))

	respBody, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, bybitHeaders(creds.APIKey, ts, sig), nil)
	if err != nil {
		return nil, newTransportErr("bybit", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bybit", fmt.Sprintf("get_order http %d: %s", status, respBody))
	}

	var env bybitEnvelope[struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			OrderStatus string `json:"orderStatus"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("bybit", "get_order decode", err)
	}
	if env.RetCode != 0 {
		return nil, newVenueErr("bybit", fmt.Sprintf("get_order retCode=%d retMsg=%s", env.RetCode, env.RetMsg))
	}
	if len(env.Result.List) == 0 {
		return nil, newVenueErr("bybit", "get_order: order not found")
	}
	o := env.Result.List[0]

	qty, err := decimal.NewFromString(o.Qty)
	if err != nil {
		return nil, newParseErr("bybit", "qty parse", err)
	}
	filled, err := decimal.NewFromString(o.CumExecQty)
	if err != nil {
		return nil, newParseErr("bybit", "cumExecQty parse", err)
	}
	resp := &OrderResponse{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.OrderLinkID,
		Symbol:          o.Symbol,
		Side:            bybitSide(o.Side),
		OrderType:       bybitOrderType(o.OrderType),
		Quantity:        qty,
		FilledQuantity:  filled,
		Status:          bybitStatus(o.OrderStatus),
	}
	if ts, err := strconv.ParseInt(o.UpdatedTime, 10, 64); err == nil {
		resp.TimestampMs = ts
	}
	if o.Price != "" {
		if p, err := decimal.NewFromString(o.Price); err == nil {
			resp.Price = &p
		}
	}
	if o.AvgPrice != "" {
		if p, err := decimal.NewFromString(o.AvgPrice); err == nil && !p.IsZero() {
			resp.AvgFillPrice = &p
		}
	}
	return resp, nil
}

func (a *BybitAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("bybit", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("bybit", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env bybitEnvelope[struct {
		List []struct {
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
		} `json:"list"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bybit", "ticker decode", err)
	}
	if env.RetCode != 0 || len(env.Result.List) == 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("bybit", fmt.Sprintf("get_best_price retCode=%d", env.RetCode))
	}
	t := env.Result.List[0]
	bid, err := decimal.NewFromString(t.Bid1Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bybit", "bid parse", err)
	}
	ask, err := decimal.NewFromString(t.Ask1Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bybit", "ask parse", err)
	}
	return bid, ask, nil
}

func bybitSide(s string) Side {
	if s == "Buy" {
		return SideBuy
	}
	return SideSell
}

func bybitOrderType(s string) OrderType {
	if s == "Limit" {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

func bybitStatus(s string) OrderStatus {
	switch s {
	case "New":
		return OrderStatusOpen
	case "PartiallyFilled":
		return OrderStatusPartial
	case "Filled":
		return OrderStatusFilled
	case "Cancelled":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusPending
	}
}
