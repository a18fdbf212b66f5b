// Package risk holds the account-level adaptive risk manager.
package risk

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// Manager gates entries and adapts position sizing to recent performance.
// Evaluate never mutates loss bookkeeping; Settle is the single mutation
// point and runs exactly once per closed position. All methods are safe for
// concurrent use; the account state is serialized behind one mutex.
type Manager struct {
	mu     sync.Mutex
	cfg    utilities.RiskConfig
	state  models.RiskState
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(cfg utilities.RiskConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		state:  models.RiskState{RiskMultiplier: 1.0},
		logger: logger.Named("risk"),
		now:    time.Now,
	}
}

// Evaluate decides whether a proposed entry may proceed. An approval
// carries the effective size multiplier, the signal's own multiplier scaled
// by the account risk multiplier.
func (m *Manager) Evaluate(sig models.FusedSignal) models.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	m.rolloverLocked(now)

	if sig.Action == models.Hold {
		return models.Decision{Reason: "no entry signal"}
	}

	if m.state.ConsecutiveLosses >= m.cfg.PauseThreshold {
		coolUntil := m.state.LastLossAt.Add(time.Duration(m.cfg.CoolingMinutes) * time.Minute)
		if now.Before(coolUntil) {
			return models.Decision{Reason: fmt.Sprintf(
				"paused after %d consecutive losses until %s",
				m.state.ConsecutiveLosses, coolUntil.Format(time.RFC3339))}
		}
	}

	if m.state.DailyTradeCount >= m.cfg.DailyTradeCap {
		return models.Decision{Reason: fmt.Sprintf("daily trade cap %d reached", m.cfg.DailyTradeCap)}
	}

	return models.Decision{
		Approved:       true,
		SizeMultiplier: sig.SizeMultiplier * m.state.RiskMultiplier,
		Reason:         "approved",
	}
}

// RecordEntry counts an opened trade against the daily window.
func (m *Manager) RecordEntry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(m.now().UTC())
	m.state.DailyTradeCount++
}

// Settle folds a closed position's realized P/L into the account state. A
// loss extends the streak and decays the multiplier once the streak passes
// the soft threshold; a win resets the streak and recovers the multiplier
// gradually. Breakeven leaves the streak untouched.
func (m *Manager) Settle(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	switch {
	case pnl < 0:
		m.state.ConsecutiveLosses++
		m.state.LastLossAt = now
		if m.state.ConsecutiveLosses > m.cfg.SoftLossThreshold {
			m.state.RiskMultiplier = maxF(m.cfg.MinMultiplier, m.state.RiskMultiplier*m.cfg.DecayFactor)
		}
		m.logger.Info("loss settled",
			zap.Float64("pnl", pnl),
			zap.Int("consecutive_losses", m.state.ConsecutiveLosses),
			zap.Float64("risk_multiplier", m.state.RiskMultiplier))
	case pnl > 0:
		m.state.ConsecutiveLosses = 0
		m.state.RiskMultiplier = minF(1.0, m.state.RiskMultiplier*m.cfg.RecoveryFactor)
		m.logger.Info("win settled",
			zap.Float64("pnl", pnl),
			zap.Float64("risk_multiplier", m.state.RiskMultiplier))
	}
}

// State returns a copy of the current risk state.
func (m *Manager) State() models.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore re-attaches persisted state on startup.
func (m *Manager) Restore(state models.RiskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.RiskMultiplier <= 0 {
		state.RiskMultiplier = 1.0
	}
	m.state = state
}

// rolloverLocked resets the daily window at UTC midnight.
func (m *Manager) rolloverLocked(now time.Time) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if m.state.DayStart.Equal(midnight) {
		return
	}
	if m.state.DailyTradeCount > 0 {
		m.logger.Debug("daily trade window reset",
			zap.Int("previous_count", m.state.DailyTradeCount))
	}
	m.state.DayStart = midnight
	m.state.DailyTradeCount = 0
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
