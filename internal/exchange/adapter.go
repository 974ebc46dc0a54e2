package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Adapter is the capability-set contract every venue implements: place,
// cancel, get an order, read the best bid/ask, report identity, and report
// liveness. REST-only adapters report IsConnected unconditionally true.
type Adapter interface {
	ID() string
	PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error)
	GetOrder(ctx context.Context, creds Credentials, symbol, orderID string) (*OrderResponse, error)
	GetBestPrice(ctx context.Context, symbol string) (bid, ask decimal.Decimal, err error)
	IsConnected() bool
}

// Registry is the read-only-after-start map of venue id to Adapter the
// execution server resolves both trade legs against. It is safe for
// concurrent reads from many in-flight requests; Register is only called
// during startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own ID. Intended for startup only.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get resolves a venue id to its adapter.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Len reports how many adapters are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// GenerateClientOrderID produces the idempotency key every venue honors:
// prefix "cs_" followed by the first 16 hex characters of a UUID-v4 with
// dashes stripped. Reproducible format, not a reproducible value — each call
// mints a fresh id.
func GenerateClientOrderID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("cs_%s", raw[:16])
}
