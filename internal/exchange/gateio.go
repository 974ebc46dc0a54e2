package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// GateioAdapter talks to Gate.io's v4 USDT futures API. It is the only
// venue signed with HMAC-SHA512, and like Binance it has no error-code
// envelope: failures surface purely via non-2xx HTTP status.
type GateioAdapter struct {
	cfg    Config
	client *http.Client
}

func NewGateioAdapter(cfg Config) (*GateioAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("gateio", "rest_url is required")
	}
	return &GateioAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *GateioAdapter) ID() string        { return "gateio" }
func (a *GateioAdapter) IsConnected() bool { return true }

// gateioSign implements "METHOD\npath\nquery\nhex(SHA512(body))\ntsSec",
// HMAC-SHA512 hex.
func gateioSign(secret, method, path, query, body, tsSec string) string {
	payload := method + "\n" + path + "\n" + query + "\n" + sha512Hex(body) + "\n" + tsSec
	return hmacSHA512Hex(secret, payload)
}

func gateioHeaders(apiKey, sig, tsSec string) map[string]string {
	return map[string]string{
		"KEY":          apiKey,
		"SIGN":         sig,
		"Timestamp":    tsSec,
		"Content-Type": "application/json",
	}
}

type gateioOrder struct {
	ID        int64  `json:"id,string"`
	Contract  string `json:"contract"`
	Size      int64  `json:"size"`
	Price     string `json:"price"`
	FillPrice string `json:"fill_price"`
	Left      int64  `json:"left"`
	Status    string `json:"status"`
	CreateTime float64 `json:"create_time"`
	Text      string `json:"text"`
}

func (a *GateioAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	size := req.Quantity.IntPart()
	if req.Side == SideSell {
		size = -size
	}
	price := "0"
	tif := "ioc"
	if req.Price != nil {
		price = req.Price.String()
		tif = "gtc"
	}
	payload := map[string]interface{}{
		"contract":    req.Symbol,
		"size":        size,
		"price":       price,
		"tif":         tif,
		"reduce_only": req.ReduceOnly,
		"text":        "t-" + req.ClientOrderID,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, newParseErr("gateio", "place_order encode", err)
	}

	tsSec := strconv.FormatInt(time.Now().Unix(), 10)
	path := "/api/v4/futures/usdt/orders"
	sig := gateioSign(creds.APISecret, http.MethodPost, path, "", string(bodyBytes), tsSec)

	respBody, status, err := doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, gateioHeaders(creds.APIKey, sig, tsSec), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newTransportErr("gateio", "place_order", err)
	}
	if status < 200 || status >= 300 {
		return nil, newVenueErr("gateio", fmt.Sprintf("place_order http %d: %s", status, respBody))
	}

	var order gateioOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, newParseErr("gateio", "place_order decode", err)
	}
	return gateioToOrderResponse(&order)
}

func (a *GateioAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	path := fmt.Sprintf("/api/v4/futures/usdt/orders/%s", orderID)
	tsSec := strconv.FormatInt(time.Now().Unix(), 10)
	sig := gateioSign(creds.APISecret, http.MethodDelete, path, "", "", tsSec)

	respBody, status, err := doRequest(ctx, a.client, http.MethodDelete, a.cfg.RestURL+path, gateioHeaders(creds.APIKey, sig, tsSec), nil)
	if err != nil {
		return nil, newTransportErr("gateio", "cancel_order", err)
	}
	if status < 200 || status >= 300 {
		return nil, newVenueErr("gateio", fmt.Sprintf("cancel_order http %d: %s", status, respBody))
	}

	var order gateioOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, newParseErr("gateio", "cancel_order decode", err)
	}
	resp, err := gateioToOrderResponse(&order)
	if err != nil {
		return nil, err
	}
	resp.Status = OrderStatusCancelled
	return resp, nil
}

func (a *GateioAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	path := fmt.Sprintf("/api/v4/futures/usdt/orders/%s", orderID)
	tsSec := strconv.FormatInt(time.Now().Unix(), 10)
	sig := gateioSign(creds.APISecret, http.MethodGet, path, "", "", tsSec)

	respBody, status, err := doRequest(ctx, a.client, http.MethodGet, a.cfg.RestURL+path, gateioHeaders(creds.APIKey, sig, tsSec), nil)
	if err != nil {
		return nil, newTransportErr("gateio", "get_order", err)
	}
	if status < 200 || status >= 300 {
		return nil, newVenueErr("gateio", fmt.Sprintf("get_order http %d: %s", status, respBody))
	}

	var order gateioOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, newParseErr("gateio", "get_order decode", err)
	}
	return gateioToOrderResponse(&order)
}

func (a *GateioAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/api/v4/futures/usdt/tickers?contract=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("gateio", "get_best_price", err)
	}
	if status < 200 || status >= 300 {
		return decimal.Zero, decimal.Zero, newVenueErr("gateio", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var tickers []struct {
		HighestBid string `json:"highest_bid"`
		LowestAsk  string `json:"lowest_ask"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("gateio", "ticker decode", err)
	}
	if len(tickers) == 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("gateio", "get_best_price: empty ticker list")
	}
	bid, err := decimal.NewFromString(tickers[0].HighestBid)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("gateio", "bid parse", err)
	}
	ask, err := decimal.NewFromString(tickers[0].LowestAsk)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("gateio", "ask parse", err)
	}
	return bid, ask, nil
}

func gateioToOrderResponse(o *gateioOrder) (*OrderResponse, error) {
	side := SideBuy
	size := o.Size
	if size < 0 {
		side = SideSell
		size = -size
	}
	filled := size - absInt64(o.Left)

	resp := &OrderResponse{
		ExchangeOrderID: strconv.FormatInt(o.ID, 10),
		ClientOrderID:   o.Text,
		Symbol:          o.Contract,
		Side:            side,
		OrderType:       OrderTypeLimit,
		Quantity:        decimal.NewFromInt(size),
		FilledQuantity:  decimal.NewFromInt(filled),
		Status:          gateioStatus(o.Status),
		TimestampMs:     int64(o.CreateTime * 1000),
	}
	if o.Price != "" && o.Price != "0" {
		if p, err := decimal.NewFromString(o.Price); err == nil {
			resp.Price = &p
		}
	}
	if o.FillPrice != "" {
		if p, err := decimal.NewFromString(o.FillPrice); err == nil && !p.IsZero() {
			resp.AvgFillPrice = &p
		}
	}
	return resp, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func gateioStatus(s string) OrderStatus {
	switch s {
	case "open":
		return OrderStatusOpen
	case "finished":
		return OrderStatusFilled
	case "cancelled":
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
