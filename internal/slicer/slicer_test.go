package slicer

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/internal/exchange"
	"github.com/crossspread/execution-gateway/pkg/observability"
)

func newTestSlicer(t *testing.T, slicePercent, toleranceBps, emergencyBps string) *Slicer {
	t.Helper()
	cfg, err := NewConfig(config.SlicerConfig{
		DefaultSlicePercent: slicePercent,
		DustThreshold:       "0.001",
		CompletionTolerance: "0.99",
		PriceToleranceBps:   5,
		EmergencyExitBps:    50,
		SliceTimeout:        0,
	})
	require.NoError(t, err)
	if toleranceBps != "" {
		cfg.PriceToleranceBps, err = decimal.NewFromString(toleranceBps)
		require.NoError(t, err)
	}
	logger := observability.NewExecutionLogger(observability.NewLogger(config.ObservabilityConfig{
		ServiceName: "slicer-test",
		LogLevel:    "error",
		LogFormat:   "json",
	}))
	return New(cfg, logger)
}

func TestCalculateSlicesTenEven(t *testing.T) {
	s := newTestSlicer(t, "0.10", "", "")
	slices := s.CalculateSlices(decimal.NewFromFloat(1.0))
	require.Len(t, slices, 10)
	for _, sl := range slices {
		assert.True(t, sl.Equal(decimal.NewFromFloat(0.1)), "slice %s != 0.1", sl)
	}
}

func TestCalculateSlicesRemainder(t *testing.T) {
	s := newTestSlicer(t, "0.30", "", "")
	slices := s.CalculateSlices(decimal.NewFromFloat(1.0))
	require.Len(t, slices, 4)
	expected := []string{"0.3", "0.3", "0.3", "0.1"}
	sum := decimal.Zero
	for i, sl := range slices {
		assert.True(t, sl.Equal(decimal.RequireFromString(expected[i])), "slice %d = %s", i, sl)
		sum = sum.Add(sl)
	}
	assert.True(t, sum.Equal(decimal.NewFromFloat(1.0)))
}

func TestCalculateSlicesDustCollapsesToOne(t *testing.T) {
	s := newTestSlicer(t, "0.05", "", "")
	slices := s.CalculateSlices(decimal.NewFromFloat(0.0005))
	require.Len(t, slices, 1)
	assert.True(t, slices[0].Equal(decimal.NewFromFloat(0.0005)))
}

func TestCalculateSlicesSumAlwaysEqualsTotal(t *testing.T) {
	s := newTestSlicer(t, "0.07", "", "")
	total := decimal.NewFromFloat(2.345)
	slices := s.CalculateSlices(total)

	sum := decimal.Zero
	for _, sl := range slices {
		assert.True(t, sl.GreaterThan(decimal.Zero))
		sum = sum.Add(sl)
	}
	assert.True(t, sum.Equal(total))
}

func TestCalculateLimitPriceBuy(t *testing.T) {
	price := CalculateLimitPrice(exchange.SideBuy, decimal.NewFromFloat(100), decimal.NewFromFloat(100.10), decimal.NewFromInt(5))
	assert.True(t, price.Equal(decimal.NewFromFloat(100.05)), "got %s", price)
}

func TestCalculateLimitPriceSell(t *testing.T) {
	price := CalculateLimitPrice(exchange.SideSell, decimal.NewFromFloat(100), decimal.NewFromFloat(100.10), decimal.NewFromInt(5))
	assert.True(t, price.Equal(decimal.RequireFromString("100.04995")), "got %s", price)
}

// fakeAdapter is a minimal in-memory exchange.Adapter for exercising the
// slicer's placement loop without a network call.
type fakeAdapter struct {
	id           string
	bid, ask     decimal.Decimal
	fillQuantity decimal.Decimal
	placeErr     error
	placed       []exchange.OrderRequest
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) PlaceOrder(ctx context.Context, creds exchange.Credentials, req exchange.OrderRequest) (*exchange.OrderResponse, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	avg := *req.Price
	return &exchange.OrderResponse{
		ExchangeOrderID: fmt.Sprintf("ex-%d", len(f.placed)),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		OrderType:       req.OrderType,
		Price:           req.Price,
		Quantity:        req.Quantity,
		FilledQuantity:  f.fillQuantity,
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

func TestExecuteSlicedOrderFullFill(t *testing.T) {
	s := newTestSlicer(t, "0.5", "5", "")
	adapter := &fakeAdapter{id: "binance", bid: decimal.NewFromFloat(100), ask: decimal.NewFromFloat(100.10), fillQuantity: decimal.NewFromFloat(0.5)}

	result, err := s.ExecuteSlicedOrder(context.Background(), adapter, exchange.Credentials{}, "BTCUSDT", exchange.SideBuy, decimal.NewFromFloat(1.0), false)
	require.NoError(t, err)

	assert.True(t, result.FilledQuantity.Equal(decimal.NewFromFloat(1.0)))
	assert.True(t, result.IsComplete)
	assert.Len(t, result.Slices, 2)

	sum := decimal.Zero
	for _, sl := range result.Slices {
		sum = sum.Add(sl.FilledQuantity)
	}
	assert.True(t, sum.Equal(result.FilledQuantity))
}

func TestExecuteSlicedOrderThreadsReduceOnly(t *testing.T) {
	s := newTestSlicer(t, "1.0", "5", "")
	adapter := &fakeAdapter{id: "bybit", bid: decimal.NewFromFloat(100), ask: decimal.NewFromFloat(101), fillQuantity: decimal.NewFromFloat(1.0)}

	_, err := s.ExecuteSlicedOrder(context.Background(), adapter, exchange.Credentials{}, "BTCUSDT", exchange.SideSell, decimal.NewFromFloat(1.0), true)
	require.NoError(t, err)

	require.Len(t, adapter.placed, 1)
	assert.True(t, adapter.placed[0].ReduceOnly)
}

func TestExecuteSlicedOrderPlacementFailureRecordsRejected(t *testing.T) {
	s := newTestSlicer(t, "1.0", "5", "")
	adapter := &fakeAdapter{id: "okx", bid: decimal.NewFromFloat(100), ask: decimal.NewFromFloat(101), placeErr: fmt.Errorf("venue rejected")}

	result, err := s.ExecuteSlicedOrder(context.Background(), adapter, exchange.Credentials{}, "BTC-USDT", exchange.SideBuy, decimal.NewFromFloat(1.0), false)
	require.NoError(t, err)

	require.Len(t, result.Slices, 1)
	assert.Equal(t, exchange.OrderStatusRejected, result.Slices[0].Status)
	assert.False(t, result.IsComplete)
	assert.True(t, result.FilledQuantity.Equal(decimal.Zero))
}

func TestExecuteEmergencyExitSellCrossesSpread(t *testing.T) {
	s := newTestSlicer(t, "0.05", "5", "50")
	adapter := &fakeAdapter{id: "bybit", bid: decimal.NewFromFloat(100), ask: decimal.NewFromFloat(100.10), fillQuantity: decimal.NewFromFloat(2)}

	result, err := s.ExecuteEmergencyExit(context.Background(), adapter, exchange.Credentials{}, "BTCUSDT", exchange.SideSell, decimal.NewFromFloat(2))
	require.NoError(t, err)

	require.Len(t, adapter.placed, 1)
	assert.True(t, adapter.placed[0].ReduceOnly, "emergency exit must set reduce_only")
	assert.True(t, adapter.placed[0].Price.Equal(decimal.NewFromFloat(99.5)), "got %s", adapter.placed[0].Price)
	assert.True(t, result.IsComplete)
}

func TestExecuteEmergencyExitBuyCrossesSpread(t *testing.T) {
	s := newTestSlicer(t, "0.05", "5", "50")
	adapter := &fakeAdapter{id: "bybit", bid: decimal.NewFromFloat(100), ask: decimal.NewFromFloat(100.10), fillQuantity: decimal.NewFromFloat(2)}

	_, err := s.ExecuteEmergencyExit(context.Background(), adapter, exchange.Credentials{}, "BTCUSDT", exchange.SideBuy, decimal.NewFromFloat(2))
	require.NoError(t, err)

	require.Len(t, adapter.placed, 1)
	assert.True(t, adapter.placed[0].ReduceOnly)
	expected := decimal.NewFromFloat(100.10).Mul(decimal.NewFromFloat(1.005))
	assert.True(t, adapter.placed[0].Price.Equal(expected), "got %s want %s", adapter.placed[0].Price, expected)
}
