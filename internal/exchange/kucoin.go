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

// KucoinAdapter talks to KuCoin Futures' v1 API.
type KucoinAdapter struct {
	cfg    Config
	client *http.Client
}

func NewKucoinAdapter(cfg Config) (*KucoinAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("kucoin", "rest_url is required")
	}
	return &KucoinAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *KucoinAdapter) ID() string        { return "kucoin" }
func (a *KucoinAdapter) IsConnected() bool { return true }

// kucoinSign implements "tsMs ‖ METHOD ‖ path ‖ body", HMAC-SHA256 base64.
// The passphrase itself is separately HMAC'd with the same secret.
func kucoinSign(secret, ts, method, path, body string) string {
	return hmacSHA256Base64(secret, ts+method+path+body)
}

func kucoinSignPassphrase(secret, passphrase string) string {
	return hmacSHA256Base64(secret, passphrase)
}

func kucoinHeaders(apiKey, ts, sig, signedPassphrase string) map[string]string {
	return map[string]string{
		"KC-API-KEY":         apiKey,
		"KC-API-SIGN":        sig,
		"KC-API-TIMESTAMP":   ts,
		"KC-API-PASSPHRASE":  signedPassphrase,
		"KC-API-KEY-VERSION": "2",
		"Content-Type":       "application/json",
	}
}

type kucoinEnvelope[T any] struct {
	Code string `json:"code"`
	Data T      `json:"data"`
	Msg  string `json:"msg"`
}

func (a *KucoinAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	side := "buy"
	if req.Side == SideSell {
		side = "sell"
	}
	payload := map[string]interface{}{
		"symbol":     req.Symbol,
		"side":       side,
		"type":       "limit",
		"leverage":   "5",
		"size":       req.Quantity.String(),
		"clientOid":  req.ClientOrderID,
		"reduceOnly": req.ReduceOnly,
	}
	if req.Price != nil {
		payload["price"] = req.Price.String()
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, newParseErr("kucoin", "place_order encode", err)
	}

	ts := strconv.FormatInt(nowMillis(), 10)
	path := "/api/v1/orders"
	sig := kucoinSign(creds.APISecret, ts, http.MethodPost, path, string(bodyBytes))
	signedPass := kucoinSignPassphrase(creds.APISecret, creds.Passphrase)

	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, kucoinHeaders(creds.APIKey, ts, sig, signedPass), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("kucoin", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("kucoin", fmt.Sprintf("place_order http %d: %s", status, respBody))
	}

	var env kucoinEnvelope[struct {
		OrderID string `json:"orderId"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("kucoin", "place_order decode", err)
	}
	if env.Code != "200000" {
		return nil, newVenueErr("kucoin", fmt.Sprintf("place_order code=%s msg=%s", env.Code, env.Msg))
	}

	// KuCoin's order-create response only returns orderId; every other
	// field is copied from the request rather than queried again, and
	// status is conservatively Pending since the placement call does not
	// report fill state.
	return &OrderResponse{
		ExchangeOrderID: env.Data.OrderID,
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       OrderTypeLimit,
		Price:           req.Price,
		Quantity:        req.Quantity,
		FilledQuantity:  decimal.Zero,
		Status:          OrderStatusPending,
		TimestampMs:     nowMillis(),
	}, nil
}

func (a *KucoinAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	path := fmt.Sprintf("/api/v1/orders/%s", orderID)
	ts := strconv.FormatInt(nowMillis(), 10)
	sig := kucoinSign(creds.APISecret, ts, http.MethodDelete, path, "")
	signedPass := kucoinSignPassphrase(creds.APISecret, creds.Passphrase)

	respBody, status, err := doRequest(ctx, a.client, http.MethodDelete, a.cfg.RestURL+path, kucoinHeaders(creds.APIKey, ts, sig, signedPass), nil)
	if err != nil {
		return nil, newTransportErr("kucoin", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("kucoin", fmt.Sprintf("cancel_order http %d: %s", status, respBody))
	}

	var env kucoinEnvelope[struct {
		CancelledOrderIds []string `json:"cancelledOrderIds"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("kucoin", "cancel_order decode", err)
	}
	if env.Code != "200000" {
		return nil, newVenueErr("kucoin", fmt.Sprintf("cancel_order code=%s msg=%s", env.Code, env.Msg))
	}

	// The cancel endpoint does not echo the order at all; every field but
	// the id and terminal status is synthetic and MUST NOT be relied upon.
	return &OrderResponse{
		ExchangeOrderID: orderID,
		Symbol:          symbol,
		Side:            SideBuy,
		OrderType:       OrderTypeLimit,
		Quantity:        decimal.Zero,
		FilledQuantity:  decimal.Zero,
		Status:          OrderStatusCancelled,
		TimestampMs:     nowMillis(),
	}, nil
}

func (a *KucoinAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	path := fmt.Sprintf("/api/v1/orders/%s", orderID)
	ts := strconv.FormatInt(nowMillis(), 10)
	sig := kucoinSign(creds.APISecret, ts, http.MethodGet, path, "")
	signedPass := kucoinSignPassphrase(creds.APISecret, creds.Passphrase)

	respBody, status, err := doRequest(ctx, a.client, http.MethodGet, a.cfg.RestURL+path, kucoinHeaders(creds.APIKey, ts, sig, signedPass), nil)
	if err != nil {
		return nil, newTransportErr("kucoin", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("kucoin", fmt.Sprintf("get_order http %d: %s", status, respBody))
	}

	var env kucoinEnvelope[struct {
		ID          string `json:"id"`
		ClientOid   string `json:"clientOid"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Type        string `json:"type"`
		Price       string `json:"price"`
		Size        string `json:"size"`
		FilledSize  string `json:"filledSize"`
		AvgDealPrice string `json:"avgDealPrice"`
		Status      string `json:"status"`
		CreatedAt   int64  `json:"createdAt"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("kucoin", "get_order decode", err)
	}
	if env.Code != "200000" {
		return nil, newVenueErr("kucoin", fmt.Sprintf("get_order code=%s msg=%s", env.Code, env.Msg))
	}
	d := env.Data

	qty, err := decimal.NewFromString(d.Size)
	if err != nil {
		return nil, newParseErr("kucoin", "size parse", err)
	}
	filled, err := decimal.NewFromString(d.FilledSize)
	if err != nil {
		return nil, newParseErr("kucoin", "filledSize parse", err)
	}
	resp := &OrderResponse{
		ExchangeOrderID: d.ID,
		ClientOrderID:   d.ClientOid,
		Symbol:          d.Symbol,
		Side:            kucoinSide(d.Side),
		OrderType:       OrderTypeLimit,
		Quantity:        qty,
		FilledQuantity:  filled,
		Status:          kucoinStatus(d.Status),
		TimestampMs:     d.CreatedAt,
	}
	if d.Price != "" {
		if p, err := decimal.NewFromString(d.Price); err == nil {
			resp.Price = &p
		}
	}
	if d.AvgDealPrice != "" {
		if p, err := decimal.NewFromString(d.AvgDealPrice); err == nil && !p.IsZero() {
			resp.AvgFillPrice = &p
		}
	}
	return resp, nil
}

func (a *KucoinAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/api/v1/ticker?symbol=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("kucoin", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("kucoin", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env kucoinEnvelope[struct {
		BestBidPrice string `json:"bestBidPrice"`
		BestAskPrice string `json:"bestAskPrice"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("kucoin", "ticker decode", err)
	}
	if env.Code != "200000" {
		return decimal.Zero, decimal.Zero, newVenueErr("kucoin", fmt.Sprintf("get_best_price code=%s", env.Code))
	}
	bid, err := decimal.NewFromString(env.Data.BestBidPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("kucoin", "bid parse", err)
	}
	ask, err := decimal.NewFromString(env.Data.BestAskPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("kucoin", "ask parse", err)
	}
	return bid, ask, nil
}

func kucoinSide(s string) Side {
	if s == "buy" {
		return SideBuy
	}
	return SideSell
}

func kucoinStatus(s string) OrderStatus {
	switch s {
	case "open", "new":
		return OrderStatusOpen
	case "match", "partial":
		return OrderStatusPartial
	case "done", "filled":
		return OrderStatusFilled
	case "cancelled", "canceled":
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
