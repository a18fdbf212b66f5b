package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"robotcrypt/dataprovider"
	"robotcrypt/pkg/broker"
	"robotcrypt/pkg/logger"
	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// fakeGateway fills at the reference price. failNext rejects that many
// submissions before healing.
type fakeGateway struct {
	mu       sync.Mutex
	failNext int
	orders   []broker.Order
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, symbol string, side models.Action, quantity, refPrice float64) (broker.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNext > 0 {
		g.failNext--
		return broker.Order{}, &models.NetworkError{Op: "submit", Err: errors.New("venue down")}
	}
	order := broker.Order{
		ID:        fmt.Sprintf("ord-%d", len(g.orders)+1),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		FillPrice: refPrice,
		Status:    broker.StatusFilled,
	}
	g.orders = append(g.orders, order)
	return order, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderID string) error { return nil }

type memStore struct {
	mu   sync.Mutex
	snap models.Snapshot
}

func (s *memStore) SaveSnapshot(snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	return nil
}

func (s *memStore) LoadSnapshot() (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, nil
}

// deadProvider never serves candles, forcing price fallbacks.
type deadProvider struct{}

func (deadProvider) FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]models.Candle, error) {
	return nil, &models.NetworkError{Op: "fetch", Err: errors.New("no market data")}
}

type neutralSentiment struct{}

func (neutralSentiment) AnalyzeSymbol(ctx context.Context, symbol string) (models.SentimentSignal, error) {
	return models.SentimentSignal{Symbol: symbol, Score: 0, Confidence: 0.4}, nil
}

func testEngineConfig() *utilities.AppConfig {
	return &utilities.AppConfig{
		Trading: utilities.TradingConfig{
			Symbols:        []string{"BTC/USD"},
			Interval:       "5m",
			InitialCapital: 250,
			MaxConcurrency: 2,
		},
		MarketData: utilities.MarketDataConfig{
			LookbackBars: 50, PageSize: 20, RequestsPerSecond: 10000,
			RateBurst: 1000, StaleAfterBars: 2, MaxRepairAttempts: 1,
		},
		Indicators: utilities.IndicatorsConfig{
			RSIPeriod: 14, RSIOversold: 30, RSIOverbought: 70,
			StochKPeriod: 14, StochDPeriod: 3, StochOversold: 20, StochOverbought: 80,
			MACDFastPeriod: 12, MACDSlowPeriod: 26, MACDSignalPeriod: 9,
			BollingerPeriod: 20, BollingerStdDev: 2,
			EMAFastPeriod: 9, EMASlowPeriod: 21, ATRPeriod: 14,
			VolumeSpikeFactor: 2, VolumeLookback: 20, SwingLookback: 20,
			StaleConfidencePct: 0.5,
		},
		Sentiment: utilities.SentimentConfig{RequestTimeoutSec: 1, CacheTTLSec: 60, FallbackConfidence: 0.2},
		Fusion:    utilities.FusionConfig{BuyThreshold: 0.25, SellThreshold: -0.25, MinConfidence: 0.3},
		Risk: utilities.RiskConfig{
			DailyTradeCap: 10, PauseThreshold: 2, CoolingMinutes: 30,
			SoftLossThreshold: 1, DecayFactor: 0.75, RecoveryFactor: 1.15, MinMultiplier: 0.1,
		},
		Strategy: utilities.StrategyConfig{
			CapitalThreshold: 300,
			Scalp: utilities.TierConfig{
				RiskPerTrade: 0.01, TakeProfitPct: 0.012, StopLossPct: 0.008,
				MaxHoldMinutes: 240, TechnicalWeight: 0.7, SentimentWeight: 0.3,
			},
			Swing: utilities.TierConfig{
				RiskPerTrade: 0.02, TakeProfitPct: 0.04, StopLossPct: 0.025,
				MaxHoldMinutes: 4320, TechnicalWeight: 0.55, SentimentWeight: 0.45,
			},
		},
		Execution: utilities.ExecutionConfig{
			MaxCloseRetries: 3, RetryBackoffMinMs: 1, RetryBackoffMaxMs: 2,
		},
	}
}

func newTestEngine(t *testing.T, gateway broker.ExecutionGateway, store StateStore) (*Engine, *time.Time) {
	t.Helper()
	cfg := testEngineConfig()
	log := logger.NewNop()
	cache := dataprovider.NewSeriesCache(deadProvider{}, nil, cfg.MarketData, log)
	e, err := NewEngine(cfg, log, cache, neutralSentiment{}, gateway, store, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return current }
	return e, &current
}

func scalpProfile() models.StrategyProfile {
	return models.StrategyProfile{
		Tier: models.TierScalp, RiskPerTrade: 0.01,
		TakeProfitPct: 0.012, StopLossPct: 0.008,
		MaxHold: 4 * time.Hour, TechnicalWeight: 0.7, SentimentWeight: 0.3,
	}
}

func buyFused() models.FusedSignal {
	return models.FusedSignal{
		Symbol: "BTC/USD", Action: models.Buy,
		Score: 0.5, Confidence: 0.7,
		StopLoss: 99.2, TakeProfit: 101.2, SizeMultiplier: 1.0,
	}
}

func approved() models.Decision {
	return models.Decision{Approved: true, SizeMultiplier: 1.0}
}

func mustOpen(t *testing.T, e *Engine) *models.Position {
	t.Helper()
	if err := e.openPosition(context.Background(), "BTC/USD", buyFused(), approved(), scalpProfile(), 100); err != nil {
		t.Fatalf("openPosition: %v", err)
	}
	pos := e.position("BTC/USD")
	if pos == nil {
		t.Fatal("no position recorded after entry")
	}
	return pos
}

func TestOpenPositionSizesAgainstStopDistance(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGateway{}, nil)
	pos := mustOpen(t, e)

	if pos.State != models.StateOpen || pos.Side != models.Buy || pos.Tier != models.TierScalp {
		t.Fatalf("position = %+v", pos)
	}
	// 250 * 0.01 / 0.8 = 3.125 exceeds the notional cap 250/100.
	if pos.Quantity != 2.5 {
		t.Fatalf("quantity = %.4f, want notional-capped 2.5", pos.Quantity)
	}
	if pos.StopLoss != 99.2 || pos.TakeProfit != 101.2 {
		t.Fatalf("exit levels = %.2f / %.2f", pos.StopLoss, pos.TakeProfit)
	}
	if pos.EntryOrderID == "" || pos.ID == "" {
		t.Fatal("order and position identifiers must be set")
	}
	if got := e.GetRiskState().DailyTradeCount; got != 1 {
		t.Fatalf("daily trade count after entry = %d, want 1", got)
	}
}

func TestOpenPositionRejectsSecondEntrySameSymbol(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGateway{}, nil)
	mustOpen(t, e)

	err := e.openPosition(context.Background(), "BTC/USD", buyFused(), approved(), scalpProfile(), 100)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate entry, got %v", err)
	}
}

func TestOpenPositionFailedEntryLeavesNothing(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGateway{failNext: 1}, nil)
	err := e.openPosition(context.Background(), "BTC/USD", buyFused(), approved(), scalpProfile(), 100)
	var exErr *models.ExecutionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if e.position("BTC/USD") != nil {
		t.Fatal("failed entry must not leave a position behind")
	}
	if got := e.GetRiskState().DailyTradeCount; got != 0 {
		t.Fatalf("failed entry counted against the daily cap: %d", got)
	}
}

func TestTakeProfitCloseSettlesEquityAndRisk(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGateway{}, nil)
	pos := mustOpen(t, e)

	e.managePosition(context.Background(), pos, 101.5)

	if e.position("BTC/USD") != nil {
		t.Fatal("closed position must leave the open set")
	}
	if len(e.closed) != 1 {
		t.Fatalf("closed history has %d entries, want 1", len(e.closed))
	}
	done := e.closed[0]
	if done.State != models.StateClosed || done.CloseReason != models.ReasonTakeProfit {
		t.Fatalf("closed position = %+v", done)
	}
	wantPnl := (101.5 - 100.0) * 2.5
	if diff := done.RealizedPnL - wantPnl; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("realized pnl = %.4f, want %.4f", done.RealizedPnL, wantPnl)
	}
	if diff := e.Equity() - (250 + wantPnl); diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("equity = %.4f, want %.4f", e.Equity(), 250+wantPnl)
	}
	if got := e.GetRiskState().ConsecutiveLosses; got != 0 {
		t.Fatalf("a win must not grow the loss streak: %d", got)
	}
}

func TestStopLossCloseRecordsLoss(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGateway{}, nil)
	pos := mustOpen(t, e)

	e.managePosition(context.Background(), pos, 99.0)

	if len(e.closed) != 1 || e.closed[0].CloseReason != models.ReasonStopLoss {
		t.Fatalf("closed = %+v", e.closed)
	}
	if e.closed[0].RealizedPnL >= 0 {
		t.Fatalf("stop-loss exit should realize a loss, got %+.4f", e.closed[0].RealizedPnL)
	}
	if got := e.GetRiskState().ConsecutiveLosses; got != 1 {
		t.Fatalf("loss streak = %d, want 1", got)
	}
	if e.Equity() >= 250 {
		t.Fatalf("equity did not absorb the loss: %.4f", e.Equity())
	}
}

func TestMaxHoldExpiryCloses(t *testing.T) {
	e, current := newTestEngine(t, &fakeGateway{}, nil)
	pos := mustOpen(t, e)

	// In-band price, not yet expired: nothing happens.
	e.managePosition(context.Background(), pos, 100.3)
	if pos.State != models.StateOpen {
		t.Fatalf("position left OPEN early: %s", pos.State)
	}

	*current = current.Add(4*time.Hour + time.Minute)
	e.managePosition(context.Background(), pos, 100.3)
	if len(e.closed) != 1 || e.closed[0].CloseReason != models.ReasonMaxHold {
		t.Fatalf("closed = %+v", e.closed)
	}
}

func TestStopLossOutranksMaxHold(t *testing.T) {
	pos := &models.Position{
		Side: models.Buy, State: models.StateOpen,
		StopLoss: 99.2, TakeProfit: 101.2,
		MaxHoldUntil: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	after := pos.MaxHoldUntil.Add(time.Hour)

	reason, due := closeReasonFor(pos, 99.0, after)
	if !due || reason != models.ReasonStopLoss {
		t.Fatalf("reason = %s (due %v), want STOP_LOSS", reason, due)
	}
	reason, due = closeReasonFor(pos, 102.0, after)
	if !due || reason != models.ReasonTakeProfit {
		t.Fatalf("reason = %s (due %v), want TAKE_PROFIT", reason, due)
	}
}

func TestShortCloseReasonsAreMirrored(t *testing.T) {
	pos := &models.Position{
		Side: models.Sell, State: models.StateOpen,
		StopLoss: 100.8, TakeProfit: 98.8,
		MaxHoldUntil: time.Date(2026, 8, 1, 16, 0, 0, 0, time.UTC),
	}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if reason, due := closeReasonFor(pos, 101.0, now); !due || reason != models.ReasonStopLoss {
		t.Fatalf("short above stop: %s (due %v)", reason, due)
	}
	if reason, due := closeReasonFor(pos, 98.5, now); !due || reason != models.ReasonTakeProfit {
		t.Fatalf("short below target: %s (due %v)", reason, due)
	}
	if _, due := closeReasonFor(pos, 100.0, now); due {
		t.Fatal("in-band short must stay open")
	}
}

func TestCloseRetriesExhaustAndEscalate(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, nil)
	pos := mustOpen(t, e)

	gw.mu.Lock()
	gw.failNext = 10
	gw.mu.Unlock()

	e.managePosition(context.Background(), pos, 101.5)

	if pos.State != models.StateClosing {
		t.Fatalf("state = %s, want CLOSING after exhausted retries", pos.State)
	}
	if !pos.Escalated {
		t.Fatal("exhausted retry budget must escalate")
	}
	if pos.CloseAttempts != 3 {
		t.Fatalf("close attempts = %d, want the full budget of 3", pos.CloseAttempts)
	}
	if pos.CloseReason != models.ReasonTakeProfit {
		t.Fatalf("close reason = %s, want the original TAKE_PROFIT", pos.CloseReason)
	}

	// Escalated positions wait for an operator; no more automatic retries.
	e.managePosition(context.Background(), pos, 101.5)
	if pos.CloseAttempts != 3 {
		t.Fatalf("escalated position retried automatically: %d attempts", pos.CloseAttempts)
	}
}

func TestForceCloseReArmsEscalatedPosition(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw, nil)
	pos := mustOpen(t, e)

	gw.mu.Lock()
	gw.failNext = 10
	gw.mu.Unlock()
	e.managePosition(context.Background(), pos, 101.5)
	if !pos.Escalated {
		t.Fatal("setup: position must be escalated")
	}

	gw.mu.Lock()
	gw.failNext = 0
	gw.mu.Unlock()
	if err := e.ForceClose(context.Background(), "BTC/USD"); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}
	if e.position("BTC/USD") != nil {
		t.Fatal("force-closed position still in the open set")
	}
	// The reason written at CLOSING time survives the manual intervention.
	if len(e.closed) != 1 || e.closed[0].CloseReason != models.ReasonTakeProfit {
		t.Fatalf("closed = %+v", e.closed)
	}
}

func TestForceCloseOpenPositionIsManual(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGateway{}, nil)
	mustOpen(t, e)

	if err := e.ForceClose(context.Background(), "BTC/USD"); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}
	if len(e.closed) != 1 || e.closed[0].CloseReason != models.ReasonManual {
		t.Fatalf("closed = %+v", e.closed)
	}
	// No market data is reachable, so the exit fell back to the entry price.
	if e.closed[0].ExitPrice != e.closed[0].EntryPrice {
		t.Fatalf("exit %.4f, want entry-price fallback %.4f", e.closed[0].ExitPrice, e.closed[0].EntryPrice)
	}
}

func TestForceCloseUnknownSymbol(t *testing.T) {
	e, _ := newTestEngine(t, &fakeGateway{}, nil)
	err := e.ForceClose(context.Background(), "ETH/USD")
	if err == nil || !strings.Contains(err.Error(), "no open position") {
		t.Fatalf("err = %v, want no-open-position error", err)
	}
}

func TestSnapshotRestoreReattachesState(t *testing.T) {
	store := &memStore{}
	e, _ := newTestEngine(t, &fakeGateway{}, store)
	mustOpen(t, e)

	if err := store.SaveSnapshot(e.snapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	fresh, _ := newTestEngine(t, &fakeGateway{}, store)
	if err := fresh.restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	open := fresh.GetOpenPositions()
	if len(open) != 1 || open[0].Symbol != "BTC/USD" || open[0].State != models.StateOpen {
		t.Fatalf("restored positions = %+v", open)
	}
	if fresh.Equity() != e.Equity() {
		t.Fatalf("restored equity %.4f, want %.4f", fresh.Equity(), e.Equity())
	}
}

func TestRestoreSkipsClosedPositions(t *testing.T) {
	store := &memStore{snap: models.Snapshot{
		Positions: []models.Position{
			{Symbol: "BTC/USD", State: models.StateClosed},
			{Symbol: "ETH/USD", State: models.StateClosing, CloseReason: models.ReasonStopLoss},
		},
		Equity: 240,
	}}
	e, _ := newTestEngine(t, &fakeGateway{}, store)
	if err := e.restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}
	open := e.GetOpenPositions()
	if len(open) != 1 || open[0].Symbol != "ETH/USD" {
		t.Fatalf("restored positions = %+v", open)
	}
	if e.Equity() != 240 {
		t.Fatalf("equity = %.2f, want 240", e.Equity())
	}
}

func TestNewEngineValidatesWatchlist(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Trading.Symbols = []string{"BTC/USD", "not a pair"}
	log := logger.NewNop()
	cache := dataprovider.NewSeriesCache(deadProvider{}, nil, cfg.MarketData, log)

	e, err := NewEngine(cfg, log, cache, neutralSentiment{}, &fakeGateway{}, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if len(e.symbols) != 1 || e.symbols[0] != "BTC/USD" {
		t.Fatalf("symbols = %v, want the invalid entry dropped", e.symbols)
	}

	cfg.Trading.Symbols = []string{"nope"}
	_, err = NewEngine(cfg, log, cache, neutralSentiment{}, &fakeGateway{}, nil, nil)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for an empty watchlist, got %v", err)
	}
}
