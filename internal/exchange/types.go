// Package exchange implements the normalized futures-exchange adapter contract:
// one order lifecycle (place, cancel, get, best price) projected from eleven
// heterogeneous venue REST APIs.
package exchange

import (
	"github.com/shopspring/decimal"
)

// Side is the normalized order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the normalized order type. Only Limit orders are placed by the
// slicer; Market is retained in the vocabulary because several venues report
// it back on get_order for orders placed outside this gateway.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the normalized order status. Unknown venue status strings
// MUST translate to Pending — never silently to a terminal state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusExpired   OrderStatus = "expired"
)

// OrderRequest is the normalized order placement request handed to every
// adapter. Price is required when OrderType is Limit.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	OrderType     OrderType
	Price         *decimal.Decimal
	Quantity      decimal.Decimal
	ReduceOnly    bool
}

// OrderResponse is the normalized order state returned by place/cancel/get.
// Invariant: FilledQuantity is zero when Status is Pending, Open, or
// Rejected; FilledQuantity equals Quantity when Status is Filled (within
// venue rounding).
type OrderResponse struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            Side
	OrderType       OrderType
	Price           *decimal.Decimal
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	AvgFillPrice    *decimal.Decimal
	Status          OrderStatus
	TimestampMs     int64
}

// Credentials is the decrypted (api_key, api_secret, passphrase) triple an
// adapter needs to sign requests. Passphrase is required for OKX, KuCoin,
// and Bitget and empty otherwise.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Config describes one configured venue: its stable id, REST/WS base URLs,
// and whether it points at a sandbox/testnet environment.
type Config struct {
	ID      string
	RestURL string
	WSURL   string
	Testnet bool
}
