// Package slicer splits a trade leg into smaller limit-order slices, walking
// them onto the venue's book sequentially instead of crossing the spread in
// one shot, and provides the aggressive-pricing emergency-exit path used
// when a paired trade must be unwound immediately.
package slicer

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/internal/exchange"
	"github.com/crossspread/execution-gateway/pkg/observability"
)

// one, bps and the emergency factors below are kept as package-level decimals so the
// hot path never re-parses a string literal per slice.
var (
	one                 = decimal.NewFromInt(1)
	bps                 = decimal.NewFromInt(10000)
	emergencyBuyFactor  = decimal.NewFromFloat(1.005)
	emergencySellFactor = decimal.NewFromFloat(0.995)
)

// Config mirrors config.SlicerConfig with its string fields parsed into
// decimals once at startup.
type Config struct {
	SlicePercent        decimal.Decimal
	SliceInterval       time.Duration
	MaxParallelSlices   int
	PriceToleranceBps   decimal.Decimal
	SliceTimeout        time.Duration
	DustThreshold       decimal.Decimal
	CompletionTolerance decimal.Decimal
	EmergencyExitBps    decimal.Decimal
}

// NewConfig parses a config.SlicerConfig's decimal-as-string fields.
func NewConfig(cfg config.SlicerConfig) (Config, error) {
	slicePercent, err := decimal.NewFromString(cfg.DefaultSlicePercent)
	if err != nil {
		return Config{}, fmt.Errorf("invalid slice percent %q: %w", cfg.DefaultSlicePercent, err)
	}
	dust, err := decimal.NewFromString(cfg.DustThreshold)
	if err != nil {
		return Config{}, fmt.Errorf("invalid dust threshold %q: %w", cfg.DustThreshold, err)
	}
	completion, err := decimal.NewFromString(cfg.CompletionTolerance)
	if err != nil {
		return Config{}, fmt.Errorf("invalid completion tolerance %q: %w", cfg.CompletionTolerance, err)
	}

	return Config{
		SlicePercent:        slicePercent,
		SliceInterval:       cfg.DefaultSliceInterval,
		MaxParallelSlices:   cfg.MaxParallelSlices,
		PriceToleranceBps:   decimal.NewFromInt(int64(cfg.PriceToleranceBps)),
		SliceTimeout:        cfg.SliceTimeout,
		DustThreshold:       dust,
		CompletionTolerance: completion,
		EmergencyExitBps:    decimal.NewFromInt(int64(cfg.EmergencyExitBps)),
	}, nil
}

// Result is the outcome of executing a (possibly sliced) order.
type Result struct {
	TotalQuantity  decimal.Decimal
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Slices         []SliceResult
	IsComplete     bool
}

// SliceResult is the outcome of placing one slice.
type SliceResult struct {
	Index           int
	ClientOrderID   string
	ExchangeOrderID string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	FilledQuantity  decimal.Decimal
	AvgFillPrice    *decimal.Decimal
	Status          exchange.OrderStatus
}

// Slicer splits and walks a leg's quantity through a venue adapter.
type Slicer struct {
	cfg    Config
	logger *observability.ExecutionLogger
}

// New creates a Slicer bound to cfg.
func New(cfg Config, logger *observability.ExecutionLogger) *Slicer {
	return &Slicer{cfg: cfg, logger: logger}
}

// CalculateSlices splits totalQuantity into a series of slice sizes of
// cfg.SlicePercent fraction each, with the final slice absorbing the
// remainder. A total below DustThreshold, or a slice size below
// DustThreshold, collapses to a single slice equal to the whole quantity.
func (s *Slicer) CalculateSlices(totalQuantity decimal.Decimal) []decimal.Decimal {
	if totalQuantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	sliceSize := totalQuantity.Mul(s.cfg.SlicePercent)
	if sliceSize.LessThan(s.cfg.DustThreshold) {
		return []decimal.Decimal{totalQuantity}
	}

	var slices []decimal.Decimal
	remaining := totalQuantity
	for remaining.GreaterThan(decimal.Zero) {
		slice := sliceSize
		if remaining.LessThan(sliceSize) {
			slice = remaining
		}
		slices = append(slices, slice)
		remaining = remaining.Sub(slice)
	}
	return slices
}

// CalculateLimitPrice nudges the quote by toleranceBps in the direction that
// improves fill probability: just above best bid for buys, just below best
// ask for sells. The result is not clamped to the opposite touch, so when
// the spread is narrower than the tolerance the price crosses it.
func CalculateLimitPrice(side exchange.Side, bestBid, bestAsk, toleranceBps decimal.Decimal) decimal.Decimal {
	tolerance := toleranceBps.Div(bps)
	if side == exchange.SideBuy {
		return bestBid.Mul(one.Add(tolerance))
	}
	return bestAsk.Mul(one.Sub(tolerance))
}

// ExecuteSlicedOrder places totalQuantity of symbol on adapter as a series
// of limit-order slices, re-quoting off the live book before each slice and
// sleeping SliceInterval between slices. A slice whose quote or placement
// fails is recorded as Rejected and execution continues with the next
// slice; the caller decides what to do with a non-IsComplete result.
// reduceOnly is threaded onto every slice's OrderRequest; the entry flow
// passes false, the exit flow passes true.
func (s *Slicer) ExecuteSlicedOrder(
	ctx context.Context,
	adapter exchange.Adapter,
	creds exchange.Credentials,
	symbol string,
	side exchange.Side,
	totalQuantity decimal.Decimal,
	reduceOnly bool,
) (*Result, error) {
	slices := s.CalculateSlices(totalQuantity)
	numSlices := len(slices)

	s.logger.LogOrderEvent(ctx, "slice_plan_created", adapter.ID(), symbol, "", map[string]interface{}{
		"side":        side,
		"quantity":    totalQuantity.String(),
		"slice_count": numSlices,
	})

	results := make([]SliceResult, 0, numSlices)
	totalFilled := decimal.Zero
	weightedPriceSum := decimal.Zero

	for index, sliceQty := range slices {
		if index > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.SliceInterval):
			}
		}

		bid, ask, err := adapter.GetBestPrice(ctx, symbol)
		if err != nil {
			s.logger.LogOrderEvent(ctx, "slice_rejected", adapter.ID(), symbol, "", map[string]interface{}{
				"error": fmt.Sprintf("get best price: %s", err.Error()),
				"index": index,
			})
			results = append(results, SliceResult{Index: index, Quantity: sliceQty, Status: exchange.OrderStatusRejected})
			continue
		}

		limitPrice := CalculateLimitPrice(side, bid, ask, s.cfg.PriceToleranceBps)
		clientOrderID := exchange.GenerateClientOrderID()

		sliceCtx, cancel := context.WithTimeout(ctx, s.cfg.SliceTimeout)
		resp, err := adapter.PlaceOrder(sliceCtx, creds, exchange.OrderRequest{
			ClientOrderID: clientOrderID,
			Symbol:        symbol,
			Side:          side,
			OrderType:     exchange.OrderTypeLimit,
			Price:         &limitPrice,
			Quantity:      sliceQty,
			ReduceOnly:    reduceOnly,
		})
		cancel()

		if err != nil {
			s.logger.LogOrderEvent(ctx, "slice_rejected", adapter.ID(), symbol, clientOrderID, map[string]interface{}{
				"error": err.Error(),
				"index": index,
			})
			results = append(results, SliceResult{
				Index:         index,
				ClientOrderID: clientOrderID,
				Quantity:      sliceQty,
				Price:         limitPrice,
				Status:        exchange.OrderStatusRejected,
			})
			continue
		}

		if resp.AvgFillPrice != nil {
			weightedPriceSum = weightedPriceSum.Add(resp.AvgFillPrice.Mul(resp.FilledQuantity))
		}
		totalFilled = totalFilled.Add(resp.FilledQuantity)

		results = append(results, SliceResult{
			Index:           index,
			ClientOrderID:   clientOrderID,
			ExchangeOrderID: resp.ExchangeOrderID,
			Quantity:        sliceQty,
			Price:           limitPrice,
			FilledQuantity:  resp.FilledQuantity,
			AvgFillPrice:    resp.AvgFillPrice,
			Status:          resp.Status,
		})
	}

	avgFillPrice := decimal.Zero
	if totalFilled.GreaterThan(decimal.Zero) {
		avgFillPrice = weightedPriceSum.Div(totalFilled)
	}

	isComplete := totalFilled.GreaterThanOrEqual(totalQuantity.Mul(s.cfg.CompletionTolerance))

	s.logger.LogOrderEvent(ctx, "slice_plan_completed", adapter.ID(), symbol, "", map[string]interface{}{
		"filled":      totalFilled.String(),
		"total":       totalQuantity.String(),
		"avg_price":   avgFillPrice.String(),
		"is_complete": isComplete,
	})

	return &Result{
		TotalQuantity:  totalQuantity,
		FilledQuantity: totalFilled,
		AvgFillPrice:   avgFillPrice,
		Slices:         results,
		IsComplete:     isComplete,
	}, nil
}

// ExecuteEmergencyExit places a single reduce-only limit order priced to
// cross the spread (0.5% through the touch by default, scaled by
// EmergencyExitBps), used to unwind a leg immediately rather than walking it
// through the book.
func (s *Slicer) ExecuteEmergencyExit(
	ctx context.Context,
	adapter exchange.Adapter,
	creds exchange.Credentials,
	symbol string,
	side exchange.Side,
	quantity decimal.Decimal,
) (*Result, error) {
	s.logger.LogOrderEvent(ctx, "emergency_exit_started", adapter.ID(), symbol, "", map[string]interface{}{
		"side":     side,
		"quantity": quantity.String(),
	})

	bid, ask, err := adapter.GetBestPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get best price for emergency exit: %w", err)
	}

	crossFactor := s.cfg.EmergencyExitBps.Div(bps)
	var aggressivePrice decimal.Decimal
	if side == exchange.SideBuy {
		aggressivePrice = ask.Mul(one.Add(crossFactor))
	} else {
		aggressivePrice = bid.Mul(one.Sub(crossFactor))
	}

	clientOrderID := exchange.GenerateClientOrderID()
	sliceCtx, cancel := context.WithTimeout(ctx, s.cfg.SliceTimeout)
	defer cancel()

	resp, err := adapter.PlaceOrder(sliceCtx, creds, exchange.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		OrderType:     exchange.OrderTypeLimit,
		Price:         &aggressivePrice,
		Quantity:      quantity,
		ReduceOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("emergency exit place order: %w", err)
	}

	avgFillPrice := aggressivePrice
	if resp.AvgFillPrice != nil {
		avgFillPrice = *resp.AvgFillPrice
	}

	s.logger.LogOrderEvent(ctx, "emergency_exit_completed", adapter.ID(), symbol, clientOrderID, map[string]interface{}{
		"status":   resp.Status,
		"filled":   resp.FilledQuantity.String(),
		"price":    aggressivePrice.String(),
	})

	return &Result{
		TotalQuantity:  quantity,
		FilledQuantity: resp.FilledQuantity,
		AvgFillPrice:   avgFillPrice,
		IsComplete:     resp.Status == exchange.OrderStatusFilled,
		Slices: []SliceResult{{
			ClientOrderID:   clientOrderID,
			ExchangeOrderID: resp.ExchangeOrderID,
			Quantity:        quantity,
			Price:           aggressivePrice,
			FilledQuantity:  resp.FilledQuantity,
			AvgFillPrice:    resp.AvgFillPrice,
			Status:          resp.Status,
		}},
	}, nil
}
