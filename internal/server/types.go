package server

// Mode selects whether an entry request dispatches real orders or returns a
// synthetic fill for backtesting/dry-run callers.
type Mode string

const (
	ModeLive Mode = "live"
	ModeSim  Mode = "sim"
)

// Slicing carries optional per-request overrides of the configured slicer
// defaults. Neither field is currently honored by the server (the slicer is
// shared and configured once at startup) but both are accepted and ignored
// rather than rejected, since the originating system sends them on every
// request.
type Slicing struct {
	SliceSizeCoins  *string `json:"slice_size_coins,omitempty"`
	SliceIntervalMs *int64  `json:"slice_interval_ms,omitempty"`
}

// TradeEntryRequest opens both legs of a paired arbitrage trade.
type TradeEntryRequest struct {
	TradeID  string   `json:"trade_id"`
	UserID   string   `json:"user_id"`
	SpreadID string   `json:"spread_id"`
	Mode     Mode     `json:"mode"`
	Slicing  *Slicing `json:"slicing,omitempty"`

	SizeInCoins string `json:"size_in_coins"`

	LongExchangeID string `json:"long_exchange_id"`
	LongSymbol     string `json:"long_symbol"`
	LongAPIKeyID   string `json:"long_api_key_id"`

	ShortExchangeID string `json:"short_exchange_id"`
	ShortSymbol     string `json:"short_symbol"`
	ShortAPIKeyID   string `json:"short_api_key_id"`
}

// TradeExitRequest unwinds both legs of a previously opened paired trade.
// The leg fields are flattened, not nested, matching what the originating
// system actually publishes.
type TradeExitRequest struct {
	TradeID     string `json:"trade_id"`
	PositionID  string `json:"position_id"`
	IsEmergency bool   `json:"is_emergency"`

	LongExchangeID string `json:"long_exchange_id"`
	LongSymbol     string `json:"long_symbol"`
	LongQuantity   string `json:"long_quantity"`
	LongAPIKeyID   string `json:"long_api_key_id"`

	ShortExchangeID string `json:"short_exchange_id"`
	ShortSymbol     string `json:"short_symbol"`
	ShortQuantity   string `json:"short_quantity"`
	ShortAPIKeyID   string `json:"short_api_key_id"`
}

// ExecutionResult is published to the results stream for every entry or
// exit request the server processes, successful or not. Error never carries
// a venue-supplied message, only the server's own classification of the
// failure.
type ExecutionResult struct {
	TradeID       string  `json:"trade_id"`
	Success       bool    `json:"success"`
	LongFilled    string  `json:"long_filled"`
	LongAvgPrice  string  `json:"long_avg_price"`
	ShortFilled   string  `json:"short_filled"`
	ShortAvgPrice string  `json:"short_avg_price"`
	Error         *string `json:"error,omitempty"`
}

func failureResult(tradeID, reason string) ExecutionResult {
	return ExecutionResult{
		TradeID:       tradeID,
		Success:       false,
		LongFilled:    "0",
		LongAvgPrice:  "0",
		ShortFilled:   "0",
		ShortAvgPrice: "0",
		Error:         &reason,
	}
}
