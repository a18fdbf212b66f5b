package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"robotcrypt/notification"
	"robotcrypt/pkg/models"
)

// openPosition places the entry order and records the new position. A
// failed entry leaves no position behind.
func (e *Engine) openPosition(ctx context.Context, symbol string, fused models.FusedSignal,
	dec models.Decision, profile models.StrategyProfile, price float64) error {

	e.mu.RLock()
	existing, exists := e.positions[symbol]
	e.mu.RUnlock()
	if exists && existing.State != models.StateClosed {
		return &models.ValidationError{Field: "symbol", Reason: "position already open for " + symbol}
	}

	qty := e.positionSize(fused, dec, profile, price)
	if qty <= 0 {
		return &models.ValidationError{Field: "quantity", Reason: "sizing produced nothing tradable"}
	}

	order, err := e.gateway.SubmitOrder(ctx, symbol, fused.Action, qty, price)
	if err != nil {
		return &models.ExecutionError{Symbol: symbol, Attempts: 1, Err: err}
	}

	now := e.now().UTC()
	pos := &models.Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Side:         fused.Action,
		State:        models.StateOpen,
		Tier:         profile.Tier,
		EntryPrice:   order.FillPrice,
		Quantity:     order.Quantity,
		StopLoss:     fused.StopLoss,
		TakeProfit:   fused.TakeProfit,
		OpenedAt:     now,
		MaxHoldUntil: now.Add(profile.MaxHold),
		EntryOrderID: order.ID,
	}

	e.mu.Lock()
	e.positions[symbol] = pos
	e.mu.Unlock()
	e.risk.RecordEntry()

	e.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.String("tier", string(pos.Tier)),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("take_profit", pos.TakeProfit))

	e.persistAsync("position opened")
	e.notifyAsync(notification.Event{
		Kind:   notification.KindPositionOpened,
		Symbol: symbol,
		Title:  fmt.Sprintf("%s %s opened", pos.Tier, pos.Side),
		Body: fmt.Sprintf("entry %.6g, qty %.6g, SL %.6g, TP %.6g, %s",
			pos.EntryPrice, pos.Quantity, pos.StopLoss, pos.TakeProfit, fused.Rationale),
		At: now,
	})
	return nil
}

// positionSize converts approved risk into quantity: the account risks
// RiskPerTrade of equity (scaled by the decision multiplier) against the
// stop distance, capped at unleveraged notional.
func (e *Engine) positionSize(fused models.FusedSignal, dec models.Decision, profile models.StrategyProfile, price float64) float64 {
	equity := e.Equity()
	stopDistance := math.Abs(price - fused.StopLoss)
	if stopDistance <= 0 {
		stopDistance = price * profile.StopLossPct
	}
	if stopDistance <= 0 || price <= 0 {
		return 0
	}
	qty := equity * profile.RiskPerTrade * dec.SizeMultiplier / stopDistance
	if max := equity / price; qty > max {
		qty = max
	}
	return qty
}

// managePosition drives the lifecycle of an existing position against the
// latest price.
func (e *Engine) managePosition(ctx context.Context, pos *models.Position, price float64) {
	switch pos.State {
	case models.StateOpen:
		reason, due := closeReasonFor(pos, price, e.now().UTC())
		if !due {
			return
		}
		e.beginClose(pos, reason)
		e.executeClose(ctx, pos, price)
	case models.StateClosing:
		if pos.Escalated {
			e.logger.Debug("position awaiting manual intervention",
				zap.String("symbol", pos.Symbol))
			return
		}
		e.executeClose(ctx, pos, price)
	}
}

// closeReasonFor checks the exit conditions in priority order: stop-loss,
// take-profit, then max-hold expiry.
func closeReasonFor(pos *models.Position, price float64, now time.Time) (models.CloseReason, bool) {
	if pos.Side == models.Buy {
		if price <= pos.StopLoss {
			return models.ReasonStopLoss, true
		}
		if price >= pos.TakeProfit {
			return models.ReasonTakeProfit, true
		}
	} else {
		if price >= pos.StopLoss {
			return models.ReasonStopLoss, true
		}
		if price <= pos.TakeProfit {
			return models.ReasonTakeProfit, true
		}
	}
	if !now.Before(pos.MaxHoldUntil) {
		return models.ReasonMaxHold, true
	}
	return "", false
}

// beginClose transitions OPEN to CLOSING. The close reason is written here
// and never overwritten.
func (e *Engine) beginClose(pos *models.Position, reason models.CloseReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos.State != models.StateOpen {
		return
	}
	pos.State = models.StateClosing
	pos.CloseReason = reason
	e.logger.Info("position closing",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(reason)))
}

// executeClose submits the closing order with bounded backoff retries. When
// the budget is exhausted the position stays CLOSING and is escalated for
// manual intervention. The close is claimed first: ForceClose and the
// symbol's own cycle can race here, and only one of them may submit and
// settle.
func (e *Engine) executeClose(ctx context.Context, pos *models.Position, price float64) {
	if !e.claimClose(pos) {
		return
	}
	defer e.releaseClose(pos)

	side := models.Sell
	if pos.Side == models.Sell {
		side = models.Buy
	}

	b := &backoff.Backoff{
		Min:    time.Duration(e.cfg.Execution.RetryBackoffMinMs) * time.Millisecond,
		Max:    time.Duration(e.cfg.Execution.RetryBackoffMaxMs) * time.Millisecond,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.Execution.MaxCloseRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Duration()):
			}
		}

		order, err := e.gateway.SubmitOrder(ctx, pos.Symbol, side, pos.Quantity, price)
		e.mu.Lock()
		pos.CloseAttempts++
		e.mu.Unlock()
		if err != nil {
			lastErr = err
			e.logger.Warn("closing order failed",
				zap.String("symbol", pos.Symbol),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		e.settleClose(pos, order.FillPrice, order.ID)
		return
	}
	e.escalate(pos, lastErr)
}

// claimClose marks the position's close as in flight. It fails when the
// position already left CLOSING or another goroutine holds the claim.
func (e *Engine) claimClose(pos *models.Position) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos.State != models.StateClosing || e.closing[pos.ID] {
		return false
	}
	e.closing[pos.ID] = true
	return true
}

func (e *Engine) releaseClose(pos *models.Position) {
	e.mu.Lock()
	delete(e.closing, pos.ID)
	e.mu.Unlock()
}

// settleClose finalizes a filled closing order: CLOSED state, realized P/L,
// equity update and risk settlement.
func (e *Engine) settleClose(pos *models.Position, fillPrice float64, orderID string) {
	now := e.now().UTC()
	pnl := (fillPrice - pos.EntryPrice) * pos.Quantity
	if pos.Side == models.Sell {
		pnl = -pnl
	}

	e.mu.Lock()
	if pos.State == models.StateClosed {
		e.mu.Unlock()
		return
	}
	pos.State = models.StateClosed
	pos.ExitPrice = fillPrice
	pos.ExitOrderID = orderID
	pos.ClosedAt = now
	pos.RealizedPnL = pnl
	e.equity += pnl
	closed := *pos
	delete(e.positions, pos.Symbol)
	e.closed = append(e.closed, closed)
	if len(e.closed) > closedHistoryCap {
		e.closed = e.closed[len(e.closed)-closedHistoryCap:]
	}
	equity := e.equity
	e.mu.Unlock()

	e.risk.Settle(pnl)

	e.logger.Info("position closed",
		zap.String("symbol", closed.Symbol),
		zap.String("reason", string(closed.CloseReason)),
		zap.Float64("exit", fillPrice),
		zap.Float64("pnl", pnl),
		zap.Float64("equity", equity))

	e.persistAsync("position closed")
	e.notifyAsync(notification.Event{
		Kind:   notification.KindPositionClosed,
		Symbol: closed.Symbol,
		Title:  fmt.Sprintf("closed (%s)", closed.CloseReason),
		Body:   fmt.Sprintf("exit %.6g, P/L %+.6g, equity %.6g", fillPrice, pnl, equity),
		At:     now,
	})

	if pnl < 0 {
		if state := e.risk.State(); state.ConsecutiveLosses == e.cfg.Risk.PauseThreshold {
			e.notifyAsync(notification.Event{
				Kind:   notification.KindTradingPaused,
				Title:  "trading paused",
				Body:   fmt.Sprintf("%d consecutive losses, cooling for %d minutes", state.ConsecutiveLosses, e.cfg.Risk.CoolingMinutes),
				At:     now,
			})
		}
	}
}

// escalate marks a position that survived the retry budget. It stays
// CLOSING until an operator intervenes through ForceClose.
func (e *Engine) escalate(pos *models.Position, cause error) {
	e.mu.Lock()
	if pos.Escalated {
		e.mu.Unlock()
		return
	}
	pos.Escalated = true
	attempts := pos.CloseAttempts
	e.mu.Unlock()

	err := &models.ExecutionError{Symbol: pos.Symbol, Attempts: attempts, Err: cause}
	e.logger.Error("close retries exhausted, manual intervention required",
		zap.String("symbol", pos.Symbol),
		zap.Int("attempts", attempts),
		zap.Error(cause))

	e.persistAsync("escalation")
	e.notifyAsync(notification.Event{
		Kind:   notification.KindEscalation,
		Symbol: pos.Symbol,
		Title:  "closing order failed repeatedly",
		Body:   err.Error(),
		Fatal:  true,
		At:     e.now().UTC(),
	})
}

// ForceClose closes the symbol's position with reason MANUAL. On an
// escalated position it re-arms the retry budget and tries again with the
// originally recorded reason.
func (e *Engine) ForceClose(ctx context.Context, symbol string) error {
	e.mu.Lock()
	pos, ok := e.positions[symbol]
	if !ok || pos.State == models.StateClosed {
		e.mu.Unlock()
		return fmt.Errorf("no open position for %s", symbol)
	}
	if pos.State == models.StateOpen {
		pos.State = models.StateClosing
		pos.CloseReason = models.ReasonManual
	}
	pos.Escalated = false
	pos.CloseAttempts = 0
	e.mu.Unlock()

	price := e.lastKnownPrice(ctx, symbol, pos.EntryPrice)
	e.executeClose(ctx, pos, price)

	e.mu.Lock()
	defer e.mu.Unlock()
	if current, still := e.positions[symbol]; still && current.State != models.StateClosed {
		return &models.ExecutionError{Symbol: symbol, Attempts: current.CloseAttempts, Err: fmt.Errorf("close did not complete")}
	}
	return nil
}

func (e *Engine) lastKnownPrice(ctx context.Context, symbol string, fallback float64) float64 {
	series, err := e.cache.GetSeries(ctx, symbol, e.cfg.Trading.Interval)
	if err != nil && (series == nil || len(series.Candles) == 0) {
		return fallback
	}
	if series == nil || len(series.Candles) == 0 {
		return fallback
	}
	return series.Candles[len(series.Candles)-1].Close
}
