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

// LbankAdapter talks to LBank's CFD open-API. Unlike every other venue it
// signs a form-encoded body and never sets an API-key header — the key
// itself is one of the signed parameters.
type LbankAdapter struct {
	cfg    Config
	client *http.Client
}

func NewLbankAdapter(cfg Config) (*LbankAdapter, error) {
	if cfg.RestURL == "" {
		return nil, newConfigErr("lbank", "rest_url is required")
	}
	return &LbankAdapter{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *LbankAdapter) ID() string        { return "lbank" }
func (a *LbankAdapter) IsConnected() bool { return true }

type lbankEnvelope[T any] struct {
	Result    bool   `json:"result"`
	ErrorCode int    `json:"error_code"`
	Data      T      `json:"data"`
}

type lbankOrder struct {
	OrderID       string `json:"order_id"`
	Symbol        string `json:"symbol"`
	Direction     string `json:"direction"`
	Price         string `json:"price"`
	Volume        string `json:"volume"`
	TradedVolume  string `json:"traded_volume"`
	AvgPrice      string `json:"avg_price"`
	Status        int    `json:"status"`
	CreateTime    int64  `json:"create_time"`
	ClientOrderID string `json:"client_order_id"`
}

func (a *LbankAdapter) sign(secret, paramsStr string) string {
	return hmacSHA256Hex(secret, paramsStr)
}

func (a *LbankAdapter) post(ctx context.Context, path string, params map[string]string, secret string) ([]byte, int, error) {
	qs := bingxSortedQuery(params)
	sig := a.sign(secret, qs)
	body := qs + "&sign=" + sig
	return doRequest(ctx, a.client, http.MethodPost, a.cfg.RestURL+path, map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}, strings.NewReader(body))
}

func (a *LbankAdapter) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	params := map[string]string{
		"api_key":   creds.APIKey,
		"symbol":    req.Symbol,
		"direction": strings.ToLower(string(req.Side)),
		"offset":    "open",
		"type":      "1",
		"volume":    req.Quantity.String(),
		"timestamp": strconv.FormatInt(nowMillis(), 10),
	}
	if req.Price != nil {
		params["price"] = req.Price.String()
	}
	if req.ClientOrderID != "" {
		params["client_order_id"] = req.ClientOrderID
	}

	body, status, err := a.post(ctx, "/cfd/openApi/v1/order/create", params, creds.APISecret)
	if err != nil {
		return nil, newTransportErr("lbank", "place_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("lbank", fmt.Sprintf("place_order http %d: %s", status, body))
	}

	var env lbankEnvelope[lbankOrder]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("lbank", "place_order decode", err)
	}
	if !env.Result {
		return nil, newVenueErr("lbank", fmt.Sprintf("place_order error_code=%d", env.ErrorCode))
	}
	return lbankToOrderResponse(&env.Data)
}

func (a *LbankAdapter) CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	params := map[string]string{
		"api_key":   creds.APIKey,
		"symbol":    symbol,
		"order_id":  orderID,
		"timestamp": strconv.FormatInt(nowMillis(), 10),
	}
	body, status, err := a.post(ctx, "/cfd/openApi/v1/order/cancel", params, creds.APISecret)
	if err != nil {
		return nil, newTransportErr("lbank", "cancel_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("lbank", fmt.Sprintf("cancel_order http %d: %s", status, body))
	}

	var env lbankEnvelope[lbankOrder]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("lbank", "cancel_order decode", err)
	}
	if !env.Result {
		return nil, newVenueErr("lbank", fmt.Sprintf("cancel_order error_code=%d", env.ErrorCode))
	}
	resp, err := lbankToOrderResponse(&env.Data)
	if err != nil {
		return nil, err
	}
	resp.Status = OrderStatusCancelled
	return resp, nil
}

func (a *LbankAdapter) GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error) {
	params := map[string]string{
		"api_key":   creds.APIKey,
		"symbol":    symbol,
		"order_id":  orderID,
		"timestamp": strconv.FormatInt(nowMillis(), 10),
	}
	qs := bingxSortedQuery(params)
	sig := a.sign(creds.APISecret, qs)
	reqURL := fmt.Sprintf("%s/cfd/openApi/v1/order/detail?%s&sign=%s", a.cfg.RestURL, qs, sig)

	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return nil, newTransportErr("lbank", "get_order", err)
	}
	if status != http.StatusOK {
		return nil, newVenueErr("lbank", fmt.Sprintf("get_order http %d: %s", status, body))
	}

	var env lbankEnvelope[lbankOrder]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, newParseErr("lbank", "get_order decode", err)
	}
	if !env.Result {
		return nil, newVenueErr("lbank", fmt.Sprintf("get_order error_code=%d", env.ErrorCode))
	}
	return lbankToOrderResponse(&env.Data)
}

func (a *LbankAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/cfd/openApi/v1/pub/depth?symbol=%s&size=1", a.cfg.RestURL, symbol)
	body, status, err := doRequest(ctx, a.client, http.MethodGet, reqURL, nil, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, newTransportErr("lbank", "get_best_price", err)
	}
	if status != http.StatusOK {
		return decimal.Zero, decimal.Zero, newVenueErr("lbank", fmt.Sprintf("get_best_price http %d: %s", status, body))
	}

	var env lbankEnvelope[struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}]
	if err := json.Unmarshal(body, &env); err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("lbank", "depth decode", err)
	}
	if !env.Result || len(env.Data.Bids) == 0 || len(env.Data.Asks) == 0 || len(env.Data.Bids[0]) == 0 || len(env.Data.Asks[0]) == 0 {
		return decimal.Zero, decimal.Zero, newVenueErr("lbank", "get_best_price: empty depth")
	}
	bid, err := decimal.NewFromString(env.Data.Bids[0][0])
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("lbank", "bid parse", err)
	}
	ask, err := decimal.NewFromString(env.Data.Asks[0][0])
	if err != nil {
		return decimal.Zero, decimal.Zero, newParseErr("lbank", "ask parse", err)
	}
	return bid, ask, nil
}

func lbankToOrderResponse(o *lbankOrder) (*OrderResponse, error) {
	volume, err := decimal.NewFromString(o.Volume)
	if err != nil {
		return nil, newParseErr("lbank", "volume parse", err)
	}
	traded := decimal.Zero
	if o.TradedVolume != "" {
		traded, err = decimal.NewFromString(o.TradedVolume)
		if err != nil {
			return nil, newParseErr("lbank", "traded_volume parse", err)
		}
	}
	resp := &OrderResponse{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            lbankSide(o.Direction),
		OrderType:       OrderTypeLimit,
		Quantity:        volume,
		FilledQuantity:  traded,
		Status:          lbankStatus(o.Status),
		TimestampMs:     o.CreateTime,
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

func lbankSide(s string) Side {
	if s == "buy" {
		return SideBuy
	}
	return SideSell
}

func lbankStatus(code int) OrderStatus {
	switch code {
	case 1:
		return OrderStatusOpen
	case 2:
		return OrderStatusPartial
	case 3:
		return OrderStatusFilled
	case 4, 5:
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
