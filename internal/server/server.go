// Package server runs the execution gateway's Redis Streams request loop:
// it decodes paired-trade entry and exit requests, resolves credentials and
// adapters, drives the order slicer for each leg, and publishes the
// aggregated result.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crossspread/execution-gateway/internal/config"
	"github.com/crossspread/execution-gateway/internal/exchange"
	"github.com/crossspread/execution-gateway/internal/slicer"
	"github.com/crossspread/execution-gateway/pkg/database"
	"github.com/crossspread/execution-gateway/pkg/observability"
)

// Server owns one consumer's worth of the execution:requests stream.
type Server struct {
	cfg      config.RedisConfig
	registry *exchange.Registry
	slicer   *slicer.Slicer
	redis    *database.RedisClient
	creds    *CredentialCache

	logger     *observability.Logger
	execLogger *observability.ExecutionLogger
	metrics    *observability.MetricsProvider
}

// New builds a Server. metrics may be nil, in which case request/slice
// counters are simply not recorded.
func New(
	cfg config.RedisConfig,
	registry *exchange.Registry,
	sl *slicer.Slicer,
	redis *database.RedisClient,
	creds *CredentialCache,
	logger *observability.Logger,
	metrics *observability.MetricsProvider,
) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		slicer:     sl,
		redis:      redis,
		creds:      creds,
		logger:     logger,
		execLogger: observability.NewExecutionLogger(logger),
		metrics:    metrics,
	}
}

// Run ensures the consumer group exists and then blocks processing entries
// from execution:requests until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.redis.EnsureConsumerGroup(ctx, s.cfg.RequestsStream, s.cfg.ConsumerGroup); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	s.logger.Info(ctx, "execution server consuming requests", map[string]interface{}{
		"stream":   s.cfg.RequestsStream,
		"group":    s.cfg.ConsumerGroup,
		"consumer": s.cfg.ConsumerName,
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messages, err := s.redis.XReadGroupJSON(ctx, s.cfg.RequestsStream, s.cfg.ConsumerGroup, s.cfg.ConsumerName, 10, s.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error(ctx, "read execution requests stream", err)
			continue
		}

		for _, msg := range messages {
			s.handleMessage(ctx, msg)
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, msg database.StreamMessage) {
	defer func() {
		if err := s.redis.XAck(ctx, s.cfg.RequestsStream, s.cfg.ConsumerGroup, msg.ID); err != nil {
			s.logger.Error(ctx, "ack execution request", err, map[string]interface{}{"id": msg.ID})
		}
	}()

	if !utf8.Valid(msg.Payload) {
		s.logger.Warn(ctx, "dropping non-utf8 execution request", map[string]interface{}{"id": msg.ID})
		return
	}

	var entry TradeEntryRequest
	if decodeStrict(msg.Payload, &entry) == nil {
		s.publishResult(ctx, s.handleEntry(ctx, entry))
		return
	}

	var exit TradeExitRequest
	if decodeStrict(msg.Payload, &exit) == nil {
		s.publishResult(ctx, s.handleExit(ctx, exit))
		return
	}

	s.logger.Warn(ctx, "dropping unrecognized execution request", map[string]interface{}{"id": msg.ID})
}

func decodeStrict(payload []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) publishResult(ctx context.Context, result ExecutionResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Error(ctx, "marshal execution result", err, map[string]interface{}{"trade_id": result.TradeID})
		return
	}
	if _, err := s.redis.XAddJSON(ctx, s.cfg.ResultsStream, payload); err != nil {
		s.logger.Error(ctx, "publish execution result", err, map[string]interface{}{"trade_id": result.TradeID})
	}
}

func (s *Server) handleEntry(ctx context.Context, req TradeEntryRequest) ExecutionResult {
	if req.Mode == ModeSim {
		size, err := decimal.NewFromString(req.SizeInCoins)
		if err != nil {
			s.recordRequest(ctx, "entry", "failure")
			return failureResult(req.TradeID, "invalid size_in_coins")
		}
		s.recordRequest(ctx, "entry", "sim")
		return ExecutionResult{
			TradeID:       req.TradeID,
			Success:       true,
			LongFilled:    size.String(),
			LongAvgPrice:  "0",
			ShortFilled:   size.String(),
			ShortAvgPrice: "0",
		}
	}

	longAdapter, ok := s.registry.Get(req.LongExchangeID)
	if !ok {
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, fmt.Sprintf("unknown exchange: %s", req.LongExchangeID))
	}
	shortAdapter, ok := s.registry.Get(req.ShortExchangeID)
	if !ok {
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, fmt.Sprintf("unknown exchange: %s", req.ShortExchangeID))
	}

	size, err := decimal.NewFromString(req.SizeInCoins)
	if err != nil {
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, "invalid size_in_coins")
	}

	longAPIKeyID, err := uuid.Parse(req.LongAPIKeyID)
	if err != nil {
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, "invalid long_api_key_id")
	}
	shortAPIKeyID, err := uuid.Parse(req.ShortAPIKeyID)
	if err != nil {
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, "invalid short_api_key_id")
	}

	longCreds, err := s.creds.Get(ctx, longAPIKeyID)
	if err != nil {
		s.logger.Error(ctx, "load long leg credentials", err, map[string]interface{}{"trade_id": req.TradeID})
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, "credential load failed")
	}
	shortCreds, err := s.creds.Get(ctx, shortAPIKeyID)
	if err != nil {
		s.logger.Error(ctx, "load short leg credentials", err, map[string]interface{}{"trade_id": req.TradeID})
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, "credential load failed")
	}

	longResult, err := s.slicer.ExecuteSlicedOrder(ctx, longAdapter, longCreds, req.LongSymbol, exchange.SideBuy, size, false)
	if err != nil {
		s.logger.Error(ctx, "execute long leg", err, map[string]interface{}{"trade_id": req.TradeID})
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, "long leg execution failed")
	}

	shortResult, err := s.slicer.ExecuteSlicedOrder(ctx, shortAdapter, shortCreds, req.ShortSymbol, exchange.SideSell, size, false)
	if err != nil {
		s.logger.Error(ctx, "execute short leg", err, map[string]interface{}{"trade_id": req.TradeID})
		s.recordRequest(ctx, "entry", "failure")
		return failureResult(req.TradeID, "short leg execution failed")
	}

	success := longResult.IsComplete && shortResult.IsComplete
	s.recordRequest(ctx, "entry", resultLabel(success))

	return ExecutionResult{
		TradeID:       req.TradeID,
		Success:       success,
		LongFilled:    longResult.FilledQuantity.String(),
		LongAvgPrice:  longResult.AvgFillPrice.String(),
		ShortFilled:   shortResult.FilledQuantity.String(),
		ShortAvgPrice: shortResult.AvgFillPrice.String(),
	}
}

func (s *Server) handleExit(ctx context.Context, req TradeExitRequest) ExecutionResult {
	longAdapter, ok := s.registry.Get(req.LongExchangeID)
	if !ok {
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, fmt.Sprintf("unknown exchange: %s", req.LongExchangeID))
	}
	shortAdapter, ok := s.registry.Get(req.ShortExchangeID)
	if !ok {
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, fmt.Sprintf("unknown exchange: %s", req.ShortExchangeID))
	}

	longQty, err := decimal.NewFromString(req.LongQuantity)
	if err != nil {
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, "invalid long_quantity")
	}
	shortQty, err := decimal.NewFromString(req.ShortQuantity)
	if err != nil {
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, "invalid short_quantity")
	}

	longAPIKeyID, err := uuid.Parse(req.LongAPIKeyID)
	if err != nil {
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, "invalid long_api_key_id")
	}
	shortAPIKeyID, err := uuid.Parse(req.ShortAPIKeyID)
	if err != nil {
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, "invalid short_api_key_id")
	}

	longCreds, err := s.creds.Get(ctx, longAPIKeyID)
	if err != nil {
		s.logger.Error(ctx, "load long leg credentials", err, map[string]interface{}{"trade_id": req.TradeID})
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, "credential load failed")
	}
	shortCreds, err := s.creds.Get(ctx, shortAPIKeyID)
	if err != nil {
		s.logger.Error(ctx, "load short leg credentials", err, map[string]interface{}{"trade_id": req.TradeID})
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, "credential load failed")
	}

	// Exit reverses each leg's side: the long leg sells to close, the short
	// leg buys to close.
	var longResult, shortResult *slicer.Result
	if req.IsEmergency {
		longResult, err = s.slicer.ExecuteEmergencyExit(ctx, longAdapter, longCreds, req.LongSymbol, exchange.SideSell, longQty)
		if err == nil {
			shortResult, err = s.slicer.ExecuteEmergencyExit(ctx, shortAdapter, shortCreds, req.ShortSymbol, exchange.SideBuy, shortQty)
		}
	} else {
		longResult, err = s.slicer.ExecuteSlicedOrder(ctx, longAdapter, longCreds, req.LongSymbol, exchange.SideSell, longQty, true)
		if err == nil {
			shortResult, err = s.slicer.ExecuteSlicedOrder(ctx, shortAdapter, shortCreds, req.ShortSymbol, exchange.SideBuy, shortQty, true)
		}
	}
	if err != nil {
		s.logger.Error(ctx, "execute exit leg", err, map[string]interface{}{"trade_id": req.TradeID, "emergency": req.IsEmergency})
		s.recordRequest(ctx, "exit", "failure")
		return failureResult(req.TradeID, "exit execution failed")
	}

	success := longResult.IsComplete && shortResult.IsComplete
	s.recordRequest(ctx, "exit", resultLabel(success))

	return ExecutionResult{
		TradeID:       req.TradeID,
		Success:       success,
		LongFilled:    longResult.FilledQuantity.String(),
		LongAvgPrice:  longResult.AvgFillPrice.String(),
		ShortFilled:   shortResult.FilledQuantity.String(),
		ShortAvgPrice: shortResult.AvgFillPrice.String(),
	}
}

func (s *Server) recordRequest(ctx context.Context, requestType, result string) {
	if s.metrics != nil {
		s.metrics.RecordRequest(ctx, requestType, result)
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "partial"
}
