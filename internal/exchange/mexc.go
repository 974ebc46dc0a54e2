package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MexcAdapter talks to MEXC's futures v1 private-order API. It uses its own
// side/type codes rather than the plain buy/sell and limit/market strings
// most other venues accept.
type MexcAdapter struct {
	cfg    Config
	client *http.Client
}

func NewMexcAdapter(cfg Config) (*MexcAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("mexc", "rest_url is required")
	}
	return &MexcAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *MexcAdapter) ID() string        { return "mexc" }
func (a *MexcAdapter) IsConnected() bool { return true }

type mexcEnvelope[T any] struct {
	Code int    `json:"code"`
	Data T      `json:"data"`
	Msg  string `json:"msg"`
}

type mexcOrderData struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          int    `json:"side"`
	OrderType     int    `json:"orderType"`
	Price         string `json:"price"`
	Vol           string `json:"vol"`
	DealVol       string `json:"dealVol"`
	DealAvgPrice  string `json:"dealAvgPrice"`
	State         int    `json:"state"`
	CreateTime    int64  `json:"createTime"`
}

func (a *MexcAdapter) request(ctx context.Context, method, path, query, apiKey string, ts int64, sig string) ([]byte, int, error) {
	reqURL := fmt.Sprintf("%s%s?signature=%s", a.cfg.RestURL, path, sig)
	headers := map[string]string{
		"ApiKey":       apiKey,
		"Request-Time": strconv.FormatInt(ts, 10),
		"Signature":    sig,
		"Content-Type": "application/json",
	}
	return doRequest(ctx, a.client, method, reqURL, headers, strings.NewReader(query))
}

func (a *MexcAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	ts := nowMillis()

	side := 1
	if req.Side == SideSell {
		side = 3
	}
	orderType := 1
	if req.OrderType == OrderTypeMarket {
		orderType = 5
	}

	params := []string{
		fmt.Sprintf("symbol=%s", req.Symbol),
		fmt.Sprintf("side=%d", side),
		"openType=2",
		fmt.Sprintf("type=%d", orderType),
		fmt.Sprintf("vol=%s", req.Quantity.String()),
		fmt.Sprintf("timestamp=%d", ts),
	}
	if req.Price != nil {
		params = append(params, fmt.Sprintf("price=%s", req.Price.String()))
	}
	if req.ClientOrderID != "" {
		params = append(params, fmt.Sprintf("externalOid=%s", req.ClientOrderID))
	}
	query := strings.Join(params, "&")
	sig := hmacSHA256Hex(creds.APISecret, query)

	body, status, err := a.request(ctx, http.MethodPost, "/api/v1/private/order/submit", query, creds.APIKey, ts, sig)
	if err != nil {
		return nil, newTransportErr("mexc", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("mexc", fmt.Sprintf("place_order http %d: %s", status, body))
	}

	var env mexcEnvelope[mexcOrderData]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("mexc", "place_order decode", err)
	}
	if env.Code != 0 {
		return nil, newVenueErr("mexc", fmt.Sprintf("place_order code=%d msg=%s", env.Code, env.Msg))
	}
	return mexcToOrderResponse(&env.Data, true)
}

func (a *MexcAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	ts := nowMillis()
	query := fmt.Sprintf("symbol=%s&orderId=%s&timestamp=%d", symbol, orderID, ts)
	sig := hmacSHA256Hex(creds.APISecret, query)

	body, status, err := a.request(ctx, http.MethodPost, "/api/v1/private/order/cancel", query, creds.APIKey, ts, sig)
	if err != nil {
		return nil, newTransportErr("mexc", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("mexc", fmt.Sprintf("cancel_order http %d: %s", status, body))
	}

	var env mexcEnvelope[mexcOrderData]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("mexc", "cancel_order decode", err)
	}
	if env.Code != 0 {
		return nil, newVenueErr("mexc", fmt.Sprintf("cancel_order code=%d msg=%s", env.Code, env.Msg))
	}
	resp, err := mexcToOrderResponse(&env.Data, false)
	if err != nil {
		return nil, err
	}
	resp.Status = OrderStatusCancelled
	return resp, nil
}

func (a *MexcAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	ts := nowMillis()
	query := fmt.Sprintf("symbol=%s&order_id=%s&timestamp=%d", symbol, orderID, ts)
	sig := hmacSHA256Hex(creds.APISecret, query)

	reqURL := fmt.Sprintf("%s/api/v1/private/order/get/%s?signature=%s", a.cfg.RestURL, orderID, sig)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, map[string]string{
		"ApiKey":       creds.APIKey,
		"Request-Time": strconv.FormatInt(ts, 10),
		"Signature":    sig,
	}, nil)
	if err != nil {
		return nil, newTransportErr("mexc", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("mexc", fmt.Sprintf("get_order http %d: %s", status, body))
	}

	var env mexcEnvelope[mexcOrderData]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("mexc", "get_order decode", err)
	}
	if env.Code != 0 {
		return nil, newVenueErr("mexc", fmt.Sprintf("get_order code=%d msg=%s", env.Code, env.Msg))
	}
	return mexcToOrderResponse(&env.Data, true)
}

func (a *MexcAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/api/v1/contract/ticker?symbol=%s", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("mexc", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("mexc", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env mexcEnvelope[struct {
		Bid1 string `json:"bid1"`
		Ask1 string `json:"ask1"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("mexc", "ticker decode", err)
	}
	if env.Code != 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("mexc", fmt.Sprintf("get_best_price code=%d", env.Code))
	}
	bid, err := decimal.NewFromString(env.Data.Bid1)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("mexc", "bid parse", err)
	}
	ask, err := decimal.NewFromString(env.Data.Ask1)
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("mexc", "ask parse", err)
	}
	return bid, ask, nil
}

func mexcToOrderResponse(o *mexcOrderData, keepOrderType bool) (*OrderResponse, error) {
	qty, err := decimal.NewFromString(o.Vol)
	if err != nil {
		return nil, newParseErr("mexc", "vol parse", err)
	}
	filled := decimal.Zero
	if o.DealVol != "" {
		filled, err = decimal.NewFromString(o.DealVol)
		if err != nil {
			return nil, newParseErr("mexc", "dealVol parse", err)
		}
	}

	orderType := OrderTypeLimit
	if keepOrderType && o.OrderType != 1 {
		orderType = OrderTypeMarket
	}

	resp := &OrderResponse{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            mexcSide(o.Side),
		OrderType:       orderType,
		Quantity:        qty,
		FilledQuantity:  filled,
		Status:          mexcStatus(o.State),
		TimestampMs:     o.CreateTime,
	}
	if o.Price != "" {
		if p, err := decimal.NewFromString(o.Price); err == nil {
			resp.Price = &p
		}
	}
	if o.DealAvgPrice != "" {
		if p, err := decimal.NewFromString(o.DealAvgPrice); err == nil && !p.IsZero() {
			resp.AvgFillPrice = &p
		}
	}
	return resp, nil
}

// mexcSide maps MEXC's four-way open/close long/short code back onto the
// plain buy/sell model: 1=open long, 2=close short, 3=open short, 4=close
// long.
func mexcSide(v int) Side {
	if v == 1 || v == 2 {
		return SideBuy
	}
	return SideSell
}

func mexcStatus(state int) OrderStatus {
	switch state {
	case 1:
		return OrderStatusPending
	case 2:
		return OrderStatusFilled
	case 3:
		return OrderStatusPartial
	case 4:
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
