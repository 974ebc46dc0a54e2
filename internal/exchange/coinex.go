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

// CoinexAdapter talks to CoinEx's v2 futures API.
type CoinexAdapter struct {
	cfg    Config
	client *http.Client
}

func NewCoinexAdapter(cfg Config) (*CoinexAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("coinex", "rest_url is required")
	}
	return &CoinexAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *CoinexAdapter) ID() string        { return "coinex" }
func (a *CoinexAdapter) IsConnected() bool { return true }

// coinexSign implements "METHOD ‖ path ‖ body ‖ tsMs", HMAC-SHA256 lowercase
// hex.
func coinexSign(secret, method, path, body, tsMs string) string {
	return hmacSHA256Hex(secret, method+path+body+tsMs)
}

func coinexHeaders(apiKey, sig, tsMs string) map[string]string {
	return map[string]string{
		"X-COINEX-KEY":       apiKey,
		"X-COINEX-SIGN":      sig,
		"X-COINEX-TIMESTAMP": tsMs,
		"Content-Type":       "application/json",
	}
}

type coinexEnvelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type coinexOrder struct {
	OrderID    int64  `json:"order_id"`
	Market     string `json:"market"`
	Side       int    `json:"side"`
	Type       int    `json:"type"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
	DealAmount string `json:"deal_amount"`
	AvgPrice   string `json:"avg_price"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
	ClientID   string `json:"client_id"`
}

func (a *CoinexAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	side := 1
	if req.Side == SideSell {
		side = 2
	}
	payload := map[string]interface{}{
		"market":    req.Symbol,
		"side":      side,
		"type":      1,
		"amount":    req.Quantity.String(),
		"client_id": req.ClientOrderID,
	}
	if req.Price != nil {
		payload["price"] = req.Price.String()
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, newParseErr("coinex", "place_order encode", err)
	}

	tsMs := strconv.FormatInt(nowMillis(), 10)
	path := "/v2/futures/order"
	sig := coinexSign(creds.APISecret, http.MethodPost, path, string(bodyBytes), tsMs)

	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, coinexHeaders(creds.APIKey, sig, tsMs), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("coinex", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("coinex", fmt.Sprintf("place_order http %d: %s", status, respBody))
	}

	var env coinexEnvelope[coinexOrder]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("coinex", "place_order decode", err)
	}
	if env.Code != 0 {
		return nil, newVenueErr("coinex", fmt.Sprintf("place_order code=%d message=%s", env.Code, env.Message))
	}
	return coinexToOrderResponse(&env.Data)
}

func (a *CoinexAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	orderIDInt, _ := strconv.ParseInt(orderID, 10, 64)
	payload := map[string]interface{}{
		"market":   symbol,
		"order_id": orderIDInt,
	}
	bodyBytes, _ := json.Marshal(payload)

	tsMs := strconv.FormatInt(nowMillis(), 10)
	path := "/v2/futures/order"
	sig := coinexSign(creds.APISecret, http.MethodDelete, path, string(bodyBytes), tsMs)

	respBody, status, err := doRequest(ctx, a.client, http.MethodDelete, a.cfg.RestURL+path, coinexHeaders(creds.APIKey, sig, tsMs), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("coinex", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("coinex", fmt.Sprintf("cancel_order http %d: %s", status, respBody))
	}

	var env coinexEnvelope[coinexOrder]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("coinex", "cancel_order decode", err)
	}
	if env.Code != 0 {
		return nil, newVenueErr("coinex", fmt.Sprintf("cancel_order code=%d message=%s", env.Code, env.Message))
	}
	resp, err := coinexToOrderResponse(&env.Data)
	if err != nil {
		return nil, err
	}
	resp.Status = OrderStatusCancelled
	return resp, nil
}

func (a *CoinexAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	path := fmt.Sprintf("/v2/futures/order?market=%s&order_id=%s", symbol, orderID)
	tsMs := strconv.FormatInt(nowMillis(), 10)
	sig := coinexSign(creds.APISecret, http.MethodGet, path, "", tsMs)

	respBody, status, err := doRequest(ctx, a.client, http.MethodGet, a.cfg.RestURL+path, coinexHeaders(creds.APIKey, sig, tsMs), nil)
	if err != nil {
		return nil, newTransportErr("coinex", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("coinex", fmt.Sprintf("get_order http %d: %s", status, respBody))
	}

	var env coinexEnvelope[coinexOrder]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("coinex", "get_order decode", err)
	}
	if env.Code != 0 {
		return nil, newVenueErr("coinex", fmt.Sprintf("get_order code=%d message=%s", env.Code, env.Message))
	}
	return coinexToOrderResponse(&env.Data)
}

func (a *CoinexAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/v2/futures/ticker?market=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("coinex", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("coinex", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env coinexEnvelope[struct {
		BestBidPrice string `json:"best_bid_price"`
		BestAskPrice string `json:"best_ask_price"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("coinex", "ticker decode", err)
	}
	if env.Code != 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("coinex", fmt.Sprintf("get_best_price code=%d", env.Code))
	}
	bid, err := decimal.NewFromString(env.Data.BestBidPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("coinex", "bid parse", err)
	}
	ask, err := decimal.NewFromString(env.Data.BestAskPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("coinex", "ask parse", err)
	}
	return bid, ask, nil
}

func coinexToOrderResponse(o *coinexOrder) (*OrderResponse, error) {
	amount, err := decimal.NewFromString(o.Amount)
	if err != nil {
		return nil, newParseErr("coinex", "amount parse", err)
	}
	dealAmount := decimal.Zero
	if o.DealAmount != "" {
		dealAmount, err = decimal.NewFromString(o.DealAmount)
		if err != nil {
			return nil, newParseErr("coinex", "deal_amount parse", err)
		}
	}
	resp := &OrderResponse{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:   o.ClientID,
		Symbol:          o.Market,
		Side:            coinexSide(o.Side),
		OrderType:       coinexOrderType(o.Type),
		Quantity:        amount,
		FilledQuantity:  dealAmount,
		Status:          coinexStatus(o.Status),
		TimestampMs:     o.CreatedAt,
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

func coinexSide(v int) Side {
	if v == 1 {
		return SideBuy
	}
	return SideSell
}

func coinexOrderType(v int) OrderType {
	if v == 1 {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

func coinexStatus(s string) OrderStatus {
	switch s {
	case "open", "not_deal":
		return OrderStatusOpen
	case "part_deal":
		return OrderStatusPartial
	case "done", "filled":
		return OrderStatusFilled
	case "cancel", "canceled":
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
