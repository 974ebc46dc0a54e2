package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// BinanceAdapter talks to the Binance USDT-M futures REST API.
type BinanceAdapter struct {
	cfg    Config
	client *http.Client
}

func NewBinanceAdapter(cfg Config) (*BinanceAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("binance", "rest_url is required")
	}
	return &BinanceAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *BinanceAdapter) ID() string       { return "binance" }
func (a *BinanceAdapter) IsConnected() bool { return true }

type binanceOrderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Status        string `json:"status"`
	UpdateTime    int64  `json:"updateTime"`
}

// signedQuery builds the sorted-as-written query string plus
// signature for a set of params, per the canonical-string rule: "query
// string of all params sorted as written; signature appended as
// &signature=...".
func (a *BinanceAdapter) signedQuery(secret string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params.Get(k))
	}
	qs := sb.String()
	sig := hmacSHA256Hex(secret, qs)
	return qs + "&signature=" + sig
}

func (a *BinanceAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", "LIMIT")
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("timestamp", strconv.FormatInt(nowMillis(), 10))
	if req.Price != nil {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	final := a.signedQuery(creds.APISecret, params)
	reqURL := fmt.Sprintf("%s/fapi/v1/order?%s", a.cfg.RestURL, final)

	body, status, err := doRequest(ctx, a.client, http.MethodPost, reqURL, map[string]string{
		"X-MBX-APIKEY": creds.APIKey,
	}, nil)
	if err != nil {
		return nil, newTransportErr("binance", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("binance", fmt.Sprintf("place_order http %d: %s", status, body))
	}

	var raw binanceOrderResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, newParseErr("binance", "place_order decode", err)
	}
	return binanceToOrderResponse(&raw)
}

func (a *BinanceAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	params.Set("timestamp", strconv.FormatInt(nowMillis(), 10))

	final := a.signedQuery(creds.APISecret, params)
	reqURL := fmt.Sprintf("%s/fapi/v1/order?%s", a.cfg.RestURL, final)

	body, status, err := doRequest(ctx, a.client, http.MethodDelete, reqURL, map[string]string{
		"X-MBX-APIKEY": creds.APIKey,
	}, nil)
	if err != nil {
		return nil, newTransportErr("binance", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("binance", fmt.Sprintf("cancel_order http %d: %s", status, body))
	}

	var raw binanceOrderResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, newParseErr("binance", "cancel_order decode", err)
	}
	resp, err := binanceToOrderResponse(&raw)
	if err != nil {
		return nil, err
	}
	resp.Status = OrderStatusCancelled
	return resp, nil
}

func (a *BinanceAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	params.Set("timestamp", strconv.FormatInt(nowMillis(), 10))

	final := a.signedQuery(creds.APISecret, params)
	reqURL := fmt.Sprintf("%s/fapi/v1/order?%s", a.cfg.RestURL, final)

	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, map[string]string{
		"X-MBX-APIKEY": creds.APIKey,
	}, nil)
	if err != nil {
		return nil, newTransportErr("binance", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("binance", fmt.Sprintf("get_order http %d: %s", status, body))
	}

	var raw binanceOrderResp
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, newParseErr("binance", "get_order decode", err)
	}
	return binanceToOrderResponse(&raw)
}

func (a *BinanceAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/fapi/v1/ticker/bookTicker?symbol=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("binance", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("binance", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var ticker struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("binance", "ticker decode", err)
	}
	bid, err := decimal.NewFromString(ticker.BidPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("binance", "bid parse", err)
	}
	ask, err := decimal.NewFromString(ticker.AskPrice)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("binance", "ask parse", err)
	}
	return bid, ask, nil
}

func binanceToOrderResponse(raw *binanceOrderResp) (*OrderResponse, error) {
	qty, err := decimal.NewFromString(raw.OrigQty)
	if err != nil {
		return nil, newParseErr("binance", "quantity parse", err)
	}
	filled, err := decimal.NewFromString(raw.ExecutedQty)
	if err != nil {
		return nil, newParseErr("binance", "filled_quantity parse", err)
	}

	resp := &OrderResponse{
		ExchangeOrderID: strconv.FormatInt(raw.OrderID, 10),
		ClientOrderID:   raw.ClientOrderID,
		Symbol:          raw.Symbol,
		Side:            binanceSide(raw.Side),
		OrderType:       binanceOrderType(raw.Type),
		Quantity:        qty,
		FilledQuantity:  filled,
		Status:          binanceStatus(raw.Status),
		TimestampMs:     raw.UpdateTime,
	}
	if raw.Price != "" {
		if p, err := decimal.NewFromString(raw.Price); err == nil {
			resp.Price = &p
		}
	}
	if raw.AvgPrice != "" {
		if p, err := decimal.NewFromString(raw.AvgPrice); err == nil && !p.IsZero() {
			resp.AvgFillPrice = &p
		}
	}
	return resp, nil
}

func binanceSide(s string) Side {
	if strings.EqualFold(s, "BUY") {
		return SideBuy
	}
	return SideSell
}

func binanceOrderType(s string) OrderType {
	if strings.EqualFold(s, "LIMIT") {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

func binanceStatus(s string) OrderStatus {
	switch s {
	case "NEW":
		return OrderStatusOpen
	case "PARTIALLY_FILLED":
		return OrderStatusPartial
	case "FILLED":
		return OrderStatusFilled
	case "CANCELED":
		return OrderStatusCancelled
	case "REJECTED":
		return OrderStatusRejected
	case "EXPIRED":
		return OrderStatusExpired
	default:
		return OrderStatusPending
	}
}
