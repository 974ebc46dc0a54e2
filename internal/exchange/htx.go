package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HtxAdapter talks to HTX's (formerly Huobi) linear-swap cross-margin API.
type HtxAdapter struct {
	cfg    Config
	client *http.Client
}

func NewHtxAdapter(cfg Config) (*HtxAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("htx", "rest_url is required")
	}
	return &HtxAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *HtxAdapter) ID() string        { return "htx" }
func (a *HtxAdapter) IsConnected() bool { return true }

func (a *HtxAdapter) host() string {
	if strings.Contains(a.cfg.RestURL, "huobi") {
		return "api.huobi.pro"
	}
	return "api.htx.com"
}

// htxTimestamp mirrors the Rust original's unusual format: no milliseconds,
// no timezone suffix, e.g. "2024-01-02T15:04:05".
func htxTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05")
}

func htxSign(apiKey, secret, method, host, path, timestamp string) (string, string) {
	params := fmt.Sprintf("AccessKeyId=%s&SignatureMethod=HmacSHA256&SignatureVersion=2&Timestamp=%s",
		apiKey, url.QueryEscape(timestamp))
	payload := strings.ToUpper(method) + "\n" + host + "\n" + path + "\n" + params
	sig := hmacSHA256Base64(secret, payload)
	return sig, params
}

func (a *HtxAdapter) signedURL(method, path string, creds Credentials) string {
	ts := htxTimestamp()
	sig, _ := htxSign(creds.APIKey, creds.APISecret, method, a.host(), path, ts)
	return fmt.Sprintf("%s%s?AccessKeyId=%s&SignatureMethod=HmacSHA256&SignatureVersion=2&Timestamp=%s&Signature=%s",
		a.cfg.RestURL, path, creds.APIKey, url.QueryEscape(ts), url.QueryEscape(sig))
}

type htxResponse[T any] struct {
	Status  string `json:"status"`
	Data    T      `json:"data"`
	ErrCode string `json:"err-code"`
	ErrMsg  string `json:"err-msg"`
}

type htxOrderID struct {
	OrderID    int64  `json:"order_id"`
	OrderIDStr string `json:"order_id_str"`
}

type htxOrderDetail struct {
	OrderID         int64    `json:"order_id"`
	OrderIDStr      string   `json:"order_id_str"`
	Symbol          string   `json:"symbol"`
	ContractCode    string   `json:"contract_code"`
	Direction       string   `json:"direction"`
	Offset          string   `json:"offset"`
	Price           float64  `json:"price"`
	Volume          int64    `json:"volume"`
	TradeVolume     int64    `json:"trade_volume"`
	TradeAvgPrice   *float64 `json:"trade_avg_price"`
	Status          int      `json:"status"`
	CreatedAt       int64    `json:"created_at"`
}

func (a *HtxAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	const path = "/linear-swap-api/v1/swap_cross_order"

	orderPriceType := "limit"
	if req.Price == nil {
		orderPriceType = "optimal_20"
	}
	volume, _ := req.Quantity.Int64()
	if volume == 0 {
		volume = 1
	}
	payload := map[string]interface{}{
		"contract_code":    req.Symbol,
		"direction":        strings.ToLower(string(req.Side)),
		"offset":           "open",
		"order_price_type": orderPriceType,
		"volume":           volume,
		"lever_rate":       5,
		"reduce_only":      0,
	}
	if req.ReduceOnly {
		payload["reduce_only"] = 1
	}
	if req.Price != nil {
		priceF, _ := req.Price.Float64()
		payload["price"] = priceF
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, newParseErr("htx", "place_order encode", err)
	}

	reqURL := a.signedURL(http.MethodPost, path, creds)
	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, reqURL, map[string]string{
		"Content-Type": "application/json",
	}, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("htx", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("htx", fmt.Sprintf("place_order http %d: %s", status, respBody))
	}

	var env htxResponse[htxOrderID]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("htx", "place_order decode", err)
	}
	if env.Status != "ok" {
		return nil, newVenueErr("htx", fmt.Sprintf("place_order err-code=%s err-msg=%s", env.ErrCode, env.ErrMsg))
	}

	// The order-create response carries only an id; every other field is
	// copied from the request rather than observed.
	return &OrderResponse{
		ExchangeOrderID: env.Data.OrderIDStr,
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       req.OrderType,
		Price:           req.Price,
		Quantity:        req.Quantity,
		FilledQuantity:  decimal.Zero,
		Status:          OrderStatusPending,
		TimestampMs:     nowMillis(),
	}, nil
}

func (a *HtxAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	const path = "/linear-swap-api/v1/swap_cross_cancel"
	payload := map[string]interface{}{
		"contract_code": symbol,
		"order_id":      orderID,
	}
	bodyBytes, _ := json.Marshal(payload)

	reqURL := a.signedURL(http.MethodPost, path, creds)
	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, reqURL, map[string]string{
		"Content-Type": "application/json",
	}, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("htx", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("htx", fmt.Sprintf("cancel_order http %d: %s", status, respBody))
	}

	var env htxResponse[json.RawMessage]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("htx", "cancel_order decode", err)
	}
	if env.Status != "ok" {
		return nil, newVenueErr("htx", fmt.Sprintf("cancel_order err-code=%s err-msg=%s", env.ErrCode, env.ErrMsg))
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

func (a *HtxAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	const path = "/linear-swap-api/v1/swap_cross_order_info"
	payload := map[string]interface{}{
		"contract_code": symbol,
		"order_id":      orderID,
	}
	bodyBytes, _ := json.Marshal(payload)

	reqURL := a.signedURL(http.MethodPost, path, creds)
	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, reqURL, map[string]string{
		"Content-Type": "application/json",
	}, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("htx", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("htx", fmt.Sprintf("get_order http %d: %s", status, respBody))
	}

	var env htxResponse[[]htxOrderDetail]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, newParseErr("htx", "get_order decode", err)
	}
	if env.Status != "ok" {
		return nil, newVenueErr("htx", fmt.Sprintf("get_order err-code=%s err-msg=%s", env.ErrCode, env.ErrMsg))
	}
	if len(env.Data) == 0 {
		return nil, newVenueErr("htx", "get_order: empty result")
	}
	d := env.Data[0]

	price := decimal.NewFromFloat(d.Price)
	resp := &OrderResponse{
		ExchangeOrderID: d.OrderIDStr,
		Symbol:          d.ContractCode,
		Side:            htxSide(d.Direction),
		OrderType:       OrderTypeLimit,
		Price:           &price,
		Quantity:        decimal.NewFromInt(d.Volume),
		FilledQuantity:  decimal.NewFromInt(d.TradeVolume),
		Status:          htxStatus(d.Status),
		TimestampMs:     d.CreatedAt,
	}
	if d.TradeAvgPrice != nil && *d.TradeAvgPrice != 0 {
		avg := decimal.NewFromFloat(*d.TradeAvgPrice)
		resp.AvgFillPrice = &avg
	}
	return resp, nil
}

func (a *HtxAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/linear-swap-ex/market/depth?contract_code=%s&type=step0", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("htx", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("htx", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env struct {
		Tick struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("htx", "depth decode", err)
	}
	if len(env.Tick.Bids) == 0 || len(env.Tick.Asks) == 0 || len(env.Tick.Bids[0]) == 0 || len(env.Tick.Asks[0]) == 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("htx", "get_best_price: empty depth")
	}
	bid := decimal.NewFromFloat(env.Tick.Bids[0][0])
	ask := decimal.NewFromFloat(env.Tick.Asks[0][0])
	return bid, ask, nil
}

func htxSide(s string) Side {
	if s == "buy" {
		return SideBuy
	}
	return SideSell
}

func htxStatus(code int) OrderStatus {
	switch code {
	case 1, 2:
		return OrderStatusPending
	case 3:
		return OrderStatusOpen
	case 4:
		return OrderStatusPartial
	case 5, 6:
		return OrderStatusCancelled
	case 7:
		return OrderStatusFilled
	default:
		return OrderStatusPending
	}
}
