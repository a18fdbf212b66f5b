// Package broker defines the order execution contract and its bundled
// paper implementation. Live exchange adapters implement ExecutionGateway
// behind the same interface.
package broker

import (
	"context"
	"time"

	"robotcrypt/pkg/models"
)

// Order is a submitted order and its fill outcome.
type Order struct {
	ID          string        `json:"id"`
	Symbol      string        `json:"symbol"`
	Side        models.Action `json:"side"`
	Quantity    float64       `json:"quantity"`
	FillPrice   float64       `json:"fill_price"`
	Status      string        `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
	FilledAt    time.Time     `json:"filled_at,omitempty"`
}

const (
	StatusFilled   = "FILLED"
	StatusCanceled = "CANCELED"
)

// ExecutionGateway places and cancels orders. refPrice is the decision
// price the caller observed; market-order implementations fill at or near
// it, limit-order implementations may treat it as the limit.
type ExecutionGateway interface {
	SubmitOrder(ctx context.Context, symbol string, side models.Action, quantity, refPrice float64) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}
