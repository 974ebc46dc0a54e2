package server

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/internal/crypto"
	"github.com/crossspread/execution-gateway/internal/exchange"
	"github.com/crossspread/execution-gateway/internal/slicer"
	"github.com/crossspread/execution-gateway/internal/store"
	"github.com/crossspread/execution-gateway/pkg/observability"
)

// fakeAdapter is a minimal in-memory exchange.Adapter, mirroring the one in
// internal/slicer's tests but local to this package to keep the two test
// suites independent.
type fakeAdapter struct {
	id       string
	bid, ask decimal.Decimal
	filled   decimal.Decimal
	placed   []exchange.OrderRequest
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) PlaceOrder(ctx context.Context, creds exchange.Credentials, req exchange.OrderRequest) (*exchange.OrderResponse, error) {
	f.placed = append(f.placed, req)
	avg := *req.Price
	return &exchange.OrderResponse{
		ExchangeOrderID: fmt.Sprintf("%s-%d", f.id, len(f.placed)),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       req.OrderType,
		Price:           req.Price,
		Quantity:        req.Quantity,
		FilledQuantity:  f.filled,
		AvgFillPrice:    &avg,
		Status:          exchange.OrderStatusFilled,
	}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, creds exchange.Credentials, symbol, orderID string) (*exchange.OrderResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAdapter) GetOrder(ctx context.Context, creds exchange.Credentials, symbol, orderID string) (*exchange.OrderResponse, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeAdapter) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	return f.bid, f.ask, nil
}

func (f *fakeAdapter) IsConnected() bool { return true }

type mapLoader struct {
	records map[uuid.UUID]*store.CredentialRecord
}

func (m *mapLoader) GetCredentialRecord(ctx context.Context, apiKeyID uuid.UUID) (*store.CredentialRecord, error) {
	rec, ok := m.records[apiKeyID]
	if !ok {
		return nil, fmt.Errorf("no such credential record: %s", apiKeyID)
	}
	return rec, nil
}

func newTestServer(t *testing.T, registry *exchange.Registry, loader credentialRecordLoader, key crypto.MasterKey) *Server {
	t.Helper()
	cfg, err := slicer.NewConfig(config.SlicerConfig{
		DefaultSlicePercent: "1.0",
		DustThreshold:       "0.001",
		CompletionTolerance: "0.99",
		PriceToleranceBps:   5,
		EmergencyExitBps:    50,
	})
	require.NoError(t, err)

	logger := observability.NewLogger(config.ObservabilityConfig{
		ServiceName: "server-test",
		LogLevel:    "error",
		LogFormat:   "json",
	})

	return &Server{
		cfg:        config.RedisConfig{},
		registry:   registry,
		slicer:     slicer.New(cfg, observability.NewExecutionLogger(logger)),
		creds:      &CredentialCache{entries: make(map[uuid.UUID]cacheEntry), store: loader, key: key, ttl: -1},
		logger:     logger,
		execLogger: observability.NewExecutionLogger(logger),
	}
}

func encryptedRecord(t *testing.T, key crypto.MasterKey, apiKeyID uuid.UUID) *store.CredentialRecord {
	t.Helper()
	apiKeyEnc, err := crypto.Encrypt(key, []byte("key"))
	require.NoError(t, err)
	apiSecretEnc, err := crypto.Encrypt(key, []byte("secret"))
	require.NoError(t, err)
	return &store.CredentialRecord{
		APIKeyID:           apiKeyID,
		APIKeyEncrypted:    apiKeyEnc,
		APISecretEncrypted: apiSecretEnc,
	}
}

func TestHandleEntrySimModeShortCircuits(t *testing.T) {
	s := newTestServer(t, exchange.NewRegistry(), &mapLoader{}, testKey(t))

	result := s.handleEntry(context.Background(), TradeEntryRequest{
		TradeID:     "t1",
		Mode:        ModeSim,
		SizeInCoins: "0.5",
	})

	assert.True(t, result.Success)
	assert.Equal(t, "0.5", result.LongFilled)
	assert.Equal(t, "0.5", result.ShortFilled)
	assert.Equal(t, "0", result.LongAvgPrice)
	assert.Equal(t, "0", result.ShortAvgPrice)
	assert.Nil(t, result.Error)
}

func TestHandleEntryUnknownExchangeFailsWithoutPlacingOrders(t *testing.T) {
	registry := exchange.NewRegistry()
	short := &fakeAdapter{id: "bybit", bid: decimal.NewFromInt(100), ask: decimal.NewFromInt(101), filled: decimal.NewFromFloat(1)}
	registry.Register(short)

	s := newTestServer(t, registry, &mapLoader{}, testKey(t))

	result := s.handleEntry(context.Background(), TradeEntryRequest{
		TradeID:         "t2",
		Mode:            ModeLive,
		SizeInCoins:     "1.0",
		LongExchangeID:  "foo",
		ShortExchangeID: "bybit",
	})

	require.NotNil(t, result.Error)
	assert.Equal(t, "unknown exchange: foo", *result.Error)
	assert.False(t, result.Success)
	assert.Equal(t, "0", result.LongFilled)
	assert.Empty(t, short.placed, "short leg must not be touched when the long exchange is unknown")
}

func TestHandleEntryLiveModeExecutesBothLegsInOrder(t *testing.T) {
	key := testKey(t)
	registry := exchange.NewRegistry()
	long := &fakeAdapter{id: "binance", bid: decimal.NewFromInt(100), ask: decimal.NewFromInt(101), filled: decimal.NewFromFloat(2)}
	short := &fakeAdapter{id: "bybit", bid: decimal.NewFromInt(100), ask: decimal.NewFromInt(101), filled: decimal.NewFromFloat(2)}
	registry.Register(long)
	registry.Register(short)

	longKeyID := uuid.New()
	shortKeyID := uuid.New()
	loader := &mapLoader{records: map[uuid.UUID]*store.CredentialRecord{
		longKeyID:  encryptedRecord(t, key, longKeyID),
		shortKeyID: encryptedRecord(t, key, shortKeyID),
	}}

	s := newTestServer(t, registry, loader, key)

	result := s.handleEntry(context.Background(), TradeEntryRequest{
		TradeID:         "t3",
		Mode:            ModeLive,
		SizeInCoins:     "2.0",
		LongExchangeID:  "binance",
		LongSymbol:      "BTCUSDT",
		LongAPIKeyID:    longKeyID.String(),
		ShortExchangeID: "bybit",
		ShortSymbol:     "BTCUSDT",
		ShortAPIKeyID:   shortKeyID.String(),
	})

	assert.True(t, result.Success)
	assert.Nil(t, result.Error)
	require.Len(t, long.placed, 1)
	require.Len(t, short.placed, 1)
	assert.Equal(t, exchange.SideBuy, long.placed[0].Side)
	assert.Equal(t, exchange.SideSell, short.placed[0].Side)
	assert.False(t, long.placed[0].ReduceOnly)
}

func TestHandleExitReversesSidesAndSetsReduceOnly(t *testing.T) {
	key := testKey(t)
	registry := exchange.NewRegistry()
	long := &fakeAdapter{id: "binance", bid: decimal.NewFromInt(100), ask: decimal.NewFromInt(101), filled: decimal.NewFromFloat(1)}
	short := &fakeAdapter{id: "bybit", bid: decimal.NewFromInt(100), ask: decimal.NewFromInt(101), filled: decimal.NewFromFloat(1)}
	registry.Register(long)
	registry.Register(short)

	longKeyID := uuid.New()
	shortKeyID := uuid.New()
	loader := &mapLoader{records: map[uuid.UUID]*store.CredentialRecord{
		longKeyID:  encryptedRecord(t, key, longKeyID),
		shortKeyID: encryptedRecord(t, key, shortKeyID),
	}}

	s := newTestServer(t, registry, loader, key)

	result := s.handleExit(context.Background(), TradeExitRequest{
		TradeID:         "t4",
		LongExchangeID:  "binance",
		LongSymbol:      "BTCUSDT",
		LongQuantity:    "1.0",
		LongAPIKeyID:    longKeyID.String(),
		ShortExchangeID: "bybit",
		ShortSymbol:     "BTCUSDT",
		ShortQuantity:   "1.0",
		ShortAPIKeyID:   shortKeyID.String(),
	})

	assert.True(t, result.Success)
	require.Len(t, long.placed, 1)
	require.Len(t, short.placed, 1)
	assert.Equal(t, exchange.SideSell, long.placed[0].Side)
	assert.Equal(t, exchange.SideBuy, short.placed[0].Side)
	assert.True(t, long.placed[0].ReduceOnly)
	assert.True(t, short.placed[0].ReduceOnly)
}

func TestHandleExitEmergencyUsesAggressivePricing(t *testing.T) {
	key := testKey(t)
	registry := exchange.NewRegistry()
	long := &fakeAdapter{id: "binance", bid: decimal.NewFromInt(100), ask: decimal.NewFromFloat(100.10), filled: decimal.NewFromFloat(1)}
	short := &fakeAdapter{id: "bybit", bid: decimal.NewFromInt(100), ask: decimal.NewFromFloat(100.10), filled: decimal.NewFromFloat(1)}
	registry.Register(long)
	registry.Register(short)

	longKeyID := uuid.New()
	shortKeyID := uuid.New()
	loader := &mapLoader{records: map[uuid.UUID]*store.CredentialRecord{
		longKeyID:  encryptedRecord(t, key, longKeyID),
		shortKeyID: encryptedRecord(t, key, shortKeyID),
	}}

	s := newTestServer(t, registry, loader, key)

	result := s.handleExit(context.Background(), TradeExitRequest{
		TradeID:         "t5",
		IsEmergency:     true,
		LongExchangeID:  "binance",
		LongSymbol:      "BTCUSDT",
		LongQuantity:    "1.0",
		LongAPIKeyID:    longKeyID.String(),
		ShortExchangeID: "bybit",
		ShortSymbol:     "BTCUSDT",
		ShortQuantity:   "1.0",
		ShortAPIKeyID:   shortKeyID.String(),
	})

	assert.True(t, result.Success)
	require.Len(t, long.placed, 1)
	assert.True(t, long.placed[0].ReduceOnly)
	assert.True(t, long.placed[0].Price.Equal(decimal.RequireFromString("99.5")), "long leg sell should cross down through bid")
}

func TestDecodeStrictDisambiguatesEntryFromExit(t *testing.T) {
	entryPayload := []byte(`{"trade_id":"t1","mode":"sim","size_in_coins":"1.0"}`)
	var entry TradeEntryRequest
	assert.NoError(t, decodeStrict(entryPayload, &entry))
	var exitFromEntry TradeExitRequest
	assert.Error(t, decodeStrict(entryPayload, &exitFromEntry))

	exitPayload := []byte(`{"trade_id":"t2","position_id":"p1","is_emergency":true,"long_quantity":"1.0","short_quantity":"1.0"}`)
	var exit TradeExitRequest
	assert.NoError(t, decodeStrict(exitPayload, &exit))
	var entryFromExit TradeEntryRequest
	assert.Error(t, decodeStrict(exitPayload, &entryFromExit))
}
