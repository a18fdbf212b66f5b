package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"robotcrypt/pkg/models"
)

// PaperGateway fills every order instantly at the reference price plus
// configured slippage. It keeps a ledger of fills for inspection but holds
// no balances; equity accounting lives in the engine.
type PaperGateway struct {
	logger      *zap.Logger
	slippagePct float64

	mu     sync.Mutex
	orders map[string]Order
}

func NewPaperGateway(slippagePct float64, logger *zap.Logger) *PaperGateway {
	return &PaperGateway{
		logger:      logger.Named("paper"),
		slippagePct: slippagePct,
		orders:      make(map[string]Order),
	}
}

func (g *PaperGateway) SubmitOrder(ctx context.Context, symbol string, side models.Action, quantity, refPrice float64) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if side != models.Buy && side != models.Sell {
		return Order{}, &models.ValidationError{Field: "side", Reason: fmt.Sprintf("unsupported side %q", side)}
	}
	if quantity <= 0 {
		return Order{}, &models.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if refPrice <= 0 {
		return Order{}, &models.ValidationError{Field: "ref_price", Reason: "must be positive"}
	}

	fill := refPrice
	if side == models.Buy {
		fill *= 1 + g.slippagePct
	} else {
		fill *= 1 - g.slippagePct
	}

	now := time.Now().UTC()
	order := Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		FillPrice:   fill,
		Status:      StatusFilled,
		SubmittedAt: now,
		FilledAt:    now,
	}

	g.mu.Lock()
	g.orders[order.ID] = order
	g.mu.Unlock()

	g.logger.Info("paper fill",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", quantity),
		zap.Float64("price", fill))
	return order, nil
}

func (g *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	order.Status = StatusCanceled
	g.orders[orderID] = order
	return nil
}

// Orders returns a copy of the fill ledger.
func (g *PaperGateway) Orders() []Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Order, 0, len(g.orders))
	for _, o := range g.orders {
		out = append(out, o)
	}
	return out
}
