// Package notification defines the outbound event contract. Delivery
// always happens off the decision path, via the engine's background
// dispatcher.
package notification

import (
	"context"
	"time"
)

// Event kinds published by the engine.
const (
	KindPositionOpened = "POSITION_OPENED"
	KindPositionClosed = "POSITION_CLOSED"
	KindTradingPaused  = "TRADING_PAUSED"
	KindEscalation     = "ESCALATION"
	KindDataGap        = "DATA_GAP"
)

// Event is one notification to be delivered to operators.
type Event struct {
	Kind   string    `json:"kind"`
	Symbol string    `json:"symbol,omitempty"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Fatal  bool      `json:"fatal,omitempty"`
	At     time.Time `json:"at"`
}

// Sink delivers events. Implementations must tolerate being called
// concurrently; errors are logged by the caller, never escalated.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
