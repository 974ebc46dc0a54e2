package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// OkxAdapter talks to OKX's v5 trade API.
type OkxAdapter struct {
	cfg    Config
	client *http.Client
}

func NewOkxAdapter(cfg Config) (*OkxAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("okx", "rest_url is required")
	}
	return &OkxAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *OkxAdapter) ID() string        { return "okx" }
func (a *OkxAdapter) IsConnected() bool { return true }

func okxTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// okxSign implements "tsISO ‖ METHOD ‖ path(+query) ‖ body", HMAC-SHA256
// base64.
func okxSign(secret, ts, method, path, body string) string {
	return hmacSHA256Base64(secret, ts+method+path+body)
}

func okxHeaders(apiKey, ts, sig, passphrase string) map[string]string {
	return map[string]string{
		"OK-ACCESS-KEY":        apiKey,
		"OK-ACCESS-SIGN":       sig,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": passphrase,
		"Content-Type":         "application/json",
	}
}

type okxEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func (a *OkxAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	side := "buy"
	if req.Side == SideSell {
		side = "sell"
	}
	payload := map[string]interface{}{
		"instId":     req.Symbol,
		"tdMode":     "cross",
		"side":       side,
		"ordType":    "limit",
		"sz":         req.Quantity.String(),
		"clOrdId":    req.ClientOrderID,
		"reduceOnly": req.ReduceOnly,
	}
	if req.Price != nil {
		payload["px"] = req.Price.String()
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, newParseErr("okx", "place_order encode", err)
	}

	ts := okxTimestamp()
	path := "/api/v5/trade/order"
	sig := okxSign(creds.APISecret, ts, http.MethodPost, path, string(bodyBytes))

	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, okxHeaders(creds.APIKey, ts, sig, creds.Passphrase), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("okx", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("okx", fmt.Sprintf("place_order http %d: %s", status, respBody))
	}

	var env okxEnvelope[struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("okx", "place_order decode", err)
	}
	if env.Code != "0" {
		return nil, newVenueErr("okx", fmt.Sprintf("place_order code=%s msg=%s", env.Code, env.Msg))
	}
	if len(env.Data) == 0 {
		return nil, newVenueErr("okx", "place_order: empty data")
	}
	d := env.Data[0]
	if d.SCode != "" && d.SCode != "0" {
		return nil, newVenueErr("okx", fmt.Sprintf("place_order sCode=%s sMsg=%s", d.SCode, d.SMsg))
	}

	return &OrderResponse{
		ExchangeOrderID: d.OrdID,
		ClientOrderID:   d.ClOrdID,
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

func (a *OkxAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	payload := map[string]interface{}{"instId": symbol, "ordId": orderID}
	bodyBytes, _ := json.Marshal(payload)

	ts := okxTimestamp()
	path := "/api/v5/trade/cancel-order"
	sig := okxSign(creds.APISecret, ts, http.MethodPost, path, string(bodyBytes))

	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, okxHeaders(creds.APIKey, ts, sig, creds.Passphrase), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("okx", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("okx", fmt.Sprintf("cancel_order http %d: %s", status, respBody))
	}

	var env okxEnvelope[struct {
		OrdID string `json:"ordId"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("okx", "cancel_order decode", err)
	}
	if env.Code != "0" {
		return nil, newVenueErr("okx", fmt.Sprintf("cancel_order code=%s msg=%s", env.Code, env.Msg))
	}

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

func (a *OkxAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", symbol, orderID)
	ts := okxTimestamp()
	sig := okxSign(creds.APISecret, ts, http.MethodGet, path, "")

	respBody, status, err := doRequest(ctx, a.client, http.MethodGet, a.cfg.RestURL+path, okxHeaders(creds.APIKey, ts, sig, creds.Passphrase), nil)
	if err != nil {
		return nil, newTransportErr("okx", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("okx", fmt.Sprintf("get_order http %d: %s", status, respBody))
	}

	var env okxEnvelope[struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		InstID  string `json:"instId"`
		Side    string `json:"side"`
		OrdType string `json:"ordType"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		AccFillSz string `json:"accFillSz"`
		AvgPx   string `json:"avgPx"`
		State   string `json:"state"`
		UTime   string `json:"uTime"`
	}]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("okx", "get_order decode", err)
	}
	if env.Code != "0" || len(env.Data) == 0 {
		return nil, newVenueErr("okx", fmt.Sprintf("get_order code=%s msg=%s", env.Code, env.Msg))
	}
	d := env.Data[0]

	qty, err := decimal.NewFromString(d.Sz)
	if err != nil {
		return nil, newParseErr("okx", "sz parse", err)
	}
	filled, err := decimal.NewFromString(d.AccFillSz)
	if err != nil {
		return nil, newParseErr("okx", "accFillSz parse", err)
	}
	resp := &OrderResponse{
		ExchangeOrderID: d.OrdID,
		ClientOrderID:   d.ClOrdID,
		Symbol:          d.InstID,
		Side:            okxSide(d.Side),
		OrderType:       OrderTypeLimit,
		Quantity:        qty,
		FilledQuantity:  filled,
		Status:          okxStatus(d.State),
	}
	if ms, err := decimal.NewFromString(d.UTime); err == nil {
		resp.TimestampMs = ms.IntPart()
	}
	if d.Px != "" {
		if p, err := decimal.NewFromString(d.Px); err == nil {
			resp.Price = &p
		}
	}
	if d.AvgPx != "" {
		if p, err := decimal.NewFromString(d.AvgPx); err == nil && !p.IsZero() {
			resp.AvgFillPrice = &p
		}
	}
	return resp, nil
}

func (a *OkxAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("okx", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("okx", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env okxEnvelope[struct {
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("okx", "ticker decode", err)
	}
	if env.Code != "0" || len(env.Data) == 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("okx", fmt.Sprintf("get_best_price code=%s", env.Code))
	}
	bid, err := decimal.NewFromString(env.Data[0].BidPx)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("okx", "bid parse", err)
	}
	ask, err := decimal.NewFromString(env.Data[0].AskPx)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("okx", "ask parse", err)
	}
	return bid, ask, nil
}

func okxSide(s string) Side {
	if s == "buy" {
		return SideBuy
	}
	return SideSell
}

func okxStatus(s string) OrderStatus {
	switch s {
	case "live":
		return OrderStatusOpen
	case "partially_filled":
		return OrderStatusPartial
	case "filled":
		return OrderStatusFilled
	case "canceled", "cancelled":
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
