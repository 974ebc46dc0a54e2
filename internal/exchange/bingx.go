package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// BingxAdapter talks to BingX's swap v2 trade API.
type BingxAdapter struct {
	cfg    Config
	client *http.Client
}

func NewBingxAdapter(cfg Config) (*BingxAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("bingx", "rest_url is required")
	}
	return &BingxAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *BingxAdapter) ID() string        { return "bingx" }
func (a *BingxAdapter) IsConnected() bool { return true }

type bingxEnvelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type bingxOrder struct {
	OrderID       string `json:"orderId"`
	Symbol        string `json:"symbol"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Status        string `json:"status"`
	Time          int64  `json:"time"`
}

// bingxSortedQuery joins params sorted by key ascending as "k=v&...", the
// shared canonical-string shape BingX and LBank both sign.
func bingxSortedQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(parts, "&")
}

func (a *BingxAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	params := map[string]string{
		"symbol":    req.Symbol,
		"side":      strings.ToUpper(string(req.Side)),
		"type":      "LIMIT",
		"quantity":  req.Quantity.String(),
		"timestamp": strconv.FormatInt(nowMillis(), 10),
	}
	if req.Price != nil {
		params["price"] = req.Price.String()
	}
	if req.ClientOrderID != "" {
		params["clientOrderId"] = req.ClientOrderID
	}
	qs := bingxSortedQuery(params)
	sig := hmacSHA256Hex(creds.APISecret, qs)
	reqURL := fmt.Sprintf("%s/openApi/swap/v2/trade/order?%s&signature=%s", a.cfg.RestURL, qs, sig)

	body, status, err := doRequest(ctx, a.client, http.MethodPost, reqURL, map[string]string{
		"X-BX-APIKEY": creds.APIKey,
	}, nil)
	if err != nil {
		return nil, newTransportErr("bingx", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bingx", fmt.Sprintf("place_order http %d: %s", status, body))
	}

	var env bingxEnvelope[struct {
		Order bingxOrder `json:"order"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("bingx", "place_order decode", err)
	}
	if env.Code != 0 {
		return nil, newVenueErr("bingx", fmt.Sprintf("place_order code=%d msg=%s", env.Code, env.Msg))
	}
	return bingxToOrderResponse(&env.Data.Order)
}

func (a *BingxAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	params := map[string]string{
		"orderId":   orderID,
		"symbol":    symbol,
		"timestamp": strconv.FormatInt(nowMillis(), 10),
	}
	qs := bingxSortedQuery(params)
	sig := hmacSHA256Hex(creds.APISecret, qs)
	reqURL := fmt.Sprintf("%s/openApi/swap/v2/trade/order?%s&signature=%s", a.cfg.RestURL, qs, sig)

	body, status, err := doRequest(ctx, a.client, http.MethodDelete, reqURL, map[string]string{
		"X-BX-APIKEY": creds.APIKey,
	}, nil)
	if err != nil {
		return nil, newTransportErr("bingx", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bingx", fmt.Sprintf("cancel_order http %d: %s", status, body))
	}

	var env bingxEnvelope[struct {
		Order bingxOrder `json:"order"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("bingx", "cancel_order decode", err)
	}
	resp, err := bingxToOrderResponse(&env.Data.Order)
	if err != nil {
		return nil, err
	}
	resp.Status = OrderStatusCancelled
	return resp, nil
}

func (a *BingxAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	params := map[string]string{
		"orderId":   orderID,
		"symbol":    symbol,
		"timestamp": strconv.FormatInt(nowMillis(), 10),
	}
	qs := bingxSortedQuery(params)
	sig := hmacSHA256Hex(creds.APISecret, qs)
	reqURL := fmt.Sprintf("%s/openApi/swap/v2/trade/order?%s&signature=%s", a.cfg.RestURL, qs, sig)

	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, map[string]string{
		"X-BX-APIKEY": creds.APIKey,
	}, nil)
	if err != nil {
		return nil, newTransportErr("bingx", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("bingx", fmt.Sprintf("get_order http %d: %s", status, body))
	}

	var env bingxEnvelope[struct {
		Order bingxOrder `json:"order"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("bingx", "get_order decode", err)
	}
	return bingxToOrderResponse(&env.Data.Order)
}

func (a *BingxAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/openApi/swap/v2/quote/ticker?symbol=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("bingx", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("bingx", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env bingxEnvelope[struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bingx", "ticker decode", err)
	}
	if env.Code != 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("bingx", fmt.Sprintf("get_best_price code=%d", env.Code))
	}
	bid, err := decimal.NewFromString(env.Data.BidPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bingx", "bid parse", err)
	}
	ask, err := decimal.NewFromString(env.Data.AskPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("bingx", "ask parse", err)
	}
	return bid, ask, nil
}

func bingxToOrderResponse(o *bingxOrder) (*OrderResponse, error) {
	qty, err := decimal.NewFromString(o.OrigQty)
	if err != nil {
		return nil, newParseErr("bingx", "origQty parse", err)
	}
	filled, err := decimal.NewFromString(o.ExecutedQty)
	if err != nil {
		return nil, newParseErr("bingx", "executedQty parse", err)
	}
	resp := &OrderResponse{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            bingxSide(o.Side),
		OrderType:       bingxOrderType(o.Type),
		Quantity:        qty,
		FilledQuantity:  filled,
		Status:          bingxStatus(o.Status),
		TimestampMs:     o.Time,
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

func bingxSide(s string) Side {
	if s == "BUY" {
		return SideBuy
	}
	return SideSell
}

func bingxOrderType(s string) OrderType {
	if s == "LIMIT" {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

func bingxStatus(s string) OrderStatus {
	switch s {
	case "NEW", "PENDING":
		return OrderStatusOpen
	case "PARTIALLY_FILLED":
		return OrderStatusPartial
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
