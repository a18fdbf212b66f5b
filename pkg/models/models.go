package models

import (
	"sort"
	"time"
)

// Candle is a single OHLCV bar for a symbol at a given interval.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// CachedSeries is the in-memory view of a (symbol, interval) candle history.
// Candles are always sorted ascending by OpenTime with no duplicates.
type CachedSeries struct {
	Symbol        string    `json:"symbol"`
	Interval      string    `json:"interval"`
	Candles       []Candle  `json:"candles"`
	CoverageStart time.Time `json:"coverage_start"`
	CoverageEnd   time.Time `json:"coverage_end"`
	LastRefresh   time.Time `json:"last_refresh"`
	Stale         bool      `json:"stale"`
}

// Closes returns the close prices in series order.
func (s *CachedSeries) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high prices in series order.
func (s *CachedSeries) Highs() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.High
	}
	return out
}

// Lows returns the low prices in series order.
func (s *CachedSeries) Lows() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Low
	}
	return out
}

// Volumes returns the traded volumes in series order.
func (s *CachedSeries) Volumes() []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = c.Volume
	}
	return out
}

// SortCandles orders candles ascending by open time.
func SortCandles(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
}

// Direction tags which way a technical signal points.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
)

// SignalKind identifies the indicator family that produced a technical signal.
type SignalKind string

const (
	KindRSI        SignalKind = "RSI"
	KindMACD       SignalKind = "MACD"
	KindBollinger  SignalKind = "BOLLINGER"
	KindMACross    SignalKind = "MA_CROSS"
	KindStochastic SignalKind = "STOCHASTIC"
	KindPattern    SignalKind = "PATTERN"
)

// TechnicalSignal is one indicator's directional reading on a symbol.
// Strength and Confidence are both within [0, 1]. Support and Resistance
// are only set by pattern signals that located swing levels; zero means
// no level was detected.
type TechnicalSignal struct {
	Symbol      string     `json:"symbol"`
	Kind        SignalKind `json:"kind"`
	Direction   Direction  `json:"direction"`
	Strength    float64    `json:"strength"`
	Confidence  float64    `json:"confidence"`
	Price       float64    `json:"price"`
	Support     float64    `json:"support,omitempty"`
	Resistance  float64    `json:"resistance,omitempty"`
	Rationale   string     `json:"rationale"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// SentimentSignal is the market-mood reading for a symbol. Score is in
// [-1, 1] where -1 is maximally bearish. IsFallback marks a substituted
// neutral signal produced when the provider could not answer.
type SentimentSignal struct {
	Symbol      string    `json:"symbol"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Rationale   string    `json:"rationale"`
	IsFallback  bool      `json:"is_fallback"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Action is the trade decision of a fused signal.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// FusedSignal is the combined technical + sentiment verdict for one symbol
// in one cycle. StopLoss and TakeProfit are absolute prices; both are zero
// when Action is Hold.
type FusedSignal struct {
	Symbol         string    `json:"symbol"`
	Action         Action    `json:"action"`
	Score          float64   `json:"score"`
	Confidence     float64   `json:"confidence"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	SizeMultiplier float64   `json:"size_multiplier"`
	Rationale      string    `json:"rationale"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Tier selects which strategy parameter set a position trades under.
type Tier string

const (
	TierScalp Tier = "SCALP"
	TierSwing Tier = "SWING"
)

// StrategyProfile carries the per-tier trading parameters. Percentages are
// fractions (0.012 means 1.2%).
type StrategyProfile struct {
	Tier            Tier          `json:"tier"`
	RiskPerTrade    float64       `json:"risk_per_trade"`
	TakeProfitPct   float64       `json:"take_profit_pct"`
	StopLossPct     float64       `json:"stop_loss_pct"`
	MaxHold         time.Duration `json:"max_hold"`
	TechnicalWeight float64       `json:"technical_weight"`
	SentimentWeight float64       `json:"sentiment_weight"`
}

// RiskState is the account-level adaptive risk bookkeeping. DayStart is the
// UTC midnight anchoring the current daily trade window.
type RiskState struct {
	ConsecutiveLosses int       `json:"consecutive_losses"`
	RiskMultiplier    float64   `json:"risk_multiplier"`
	DailyTradeCount   int       `json:"daily_trade_count"`
	DayStart          time.Time `json:"day_start"`
	LastLossAt        time.Time `json:"last_loss_at"`
}

// Decision is the risk manager's verdict on a proposed entry.
type Decision struct {
	Approved       bool    `json:"approved"`
	SizeMultiplier float64 `json:"size_multiplier"`
	Reason         string  `json:"reason"`
}

// PositionState is the lifecycle state of a position. The implicit NONE
// state is the absence of a position for a symbol.
type PositionState string

const (
	StateOpen    PositionState = "OPEN"
	StateClosing PositionState = "CLOSING"
	StateClosed  PositionState = "CLOSED"
)

// CloseReason records why a position left the OPEN state. It is written
// exactly once, when the position transitions to CLOSING.
type CloseReason string

const (
	ReasonTakeProfit CloseReason = "TAKE_PROFIT"
	ReasonStopLoss   CloseReason = "STOP_LOSS"
	ReasonMaxHold    CloseReason = "MAX_HOLD"
	ReasonManual     CloseReason = "MANUAL"
)

// Position is one trade from entry to settlement.
type Position struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	Side          Action        `json:"side"`
	State         PositionState `json:"state"`
	Tier          Tier          `json:"tier"`
	EntryPrice    float64       `json:"entry_price"`
	Quantity      float64       `json:"quantity"`
	StopLoss      float64       `json:"stop_loss"`
	TakeProfit    float64       `json:"take_profit"`
	OpenedAt      time.Time     `json:"opened_at"`
	MaxHoldUntil  time.Time     `json:"max_hold_until"`
	ClosedAt      time.Time     `json:"closed_at,omitempty"`
	CloseReason   CloseReason   `json:"close_reason,omitempty"`
	ExitPrice     float64       `json:"exit_price,omitempty"`
	RealizedPnL   float64       `json:"realized_pnl,omitempty"`
	CloseAttempts int           `json:"close_attempts,omitempty"`
	Escalated     bool          `json:"escalated,omitempty"`
	EntryOrderID  string        `json:"entry_order_id,omitempty"`
	ExitOrderID   string        `json:"exit_order_id,omitempty"`
}

// Snapshot is the durable engine state written between cycles and on
// shutdown, and re-attached on startup.
type Snapshot struct {
	Positions []Position `json:"positions"`
	Risk      RiskState  `json:"risk"`
	Equity    float64    `json:"equity"`
	SavedAt   time.Time  `json:"saved_at"`
}
