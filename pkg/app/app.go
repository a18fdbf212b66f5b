// Package app wires the decision engine: per cycle, each symbol's series is
// refreshed, analyzed technically and by sentiment, fused, risk-checked and
// finally turned into lifecycle transitions.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"robotcrypt/dataprovider"
	"robotcrypt/notification"
	"robotcrypt/pkg/broker"
	"robotcrypt/pkg/models"
	"robotcrypt/pkg/risk"
	"robotcrypt/strategy"
	"robotcrypt/utilities"
)

const closedHistoryCap = 200

// StateStore persists the engine snapshot between cycles and runs.
type StateStore interface {
	SaveSnapshot(models.Snapshot) error
	LoadSnapshot() (models.Snapshot, error)
}

// Engine is the continuously running decision loop. Positions are owned by
// the engine; within a cycle only the symbol's own goroutine touches its
// position, while the risk manager serializes account-level state itself.
type Engine struct {
	cfg       *utilities.AppConfig
	logger    *zap.Logger
	cache     *dataprovider.SeriesCache
	technical *strategy.TechnicalGenerator
	sentiment *strategy.SentimentGenerator
	risk      *risk.Manager
	gateway   broker.ExecutionGateway
	store     StateStore
	sink      notification.Sink
	disp      *dispatcher
	now       func() time.Time

	symbols []string

	mu        sync.RWMutex
	positions map[string]*models.Position
	closed    []models.Position
	closing   map[string]bool
	staleGap  map[string]bool
	equity    float64
}

// NewEngine validates the watchlist and assembles the engine. Symbols that
// fail validation are dropped and reported; an empty validated watchlist is
// an error.
func NewEngine(
	cfg *utilities.AppConfig,
	logger *zap.Logger,
	cache *dataprovider.SeriesCache,
	sentimentProvider dataprovider.SentimentProvider,
	gateway broker.ExecutionGateway,
	store StateStore,
	sink notification.Sink,
) (*Engine, error) {
	var symbols []string
	for _, s := range cfg.Trading.Symbols {
		if err := utilities.ValidateSymbol(s); err != nil {
			logger.Warn("dropping invalid symbol from watchlist",
				zap.String("symbol", s),
				zap.Error(&models.ValidationError{Field: "symbol", Reason: err.Error()}))
			continue
		}
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return nil, &models.ValidationError{Field: "trading.symbols", Reason: "no valid symbols"}
	}
	if sink == nil {
		sink = notification.NopSink{}
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger.Named("engine"),
		cache:     cache,
		technical: strategy.NewTechnicalGenerator(cfg.Indicators, logger),
		sentiment: strategy.NewSentimentGenerator(sentimentProvider, cfg.Sentiment, logger),
		risk:      risk.NewManager(cfg.Risk, logger),
		gateway:   gateway,
		store:     store,
		sink:      sink,
		disp:      newDispatcher(64, logger),
		now:       time.Now,
		symbols:   symbols,
		positions: make(map[string]*models.Position),
		closing:   make(map[string]bool),
		staleGap:  make(map[string]bool),
		equity:    cfg.Trading.InitialCapital,
	}, nil
}

// Run restores persisted state and drives the cycle loop until ctx is
// cancelled. The in-flight cycle finishes before shutdown; open positions
// survive in the final snapshot and re-attach on the next start.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.restore(); err != nil {
		return err
	}
	go e.disp.run()

	interval := time.Duration(e.cfg.Trading.CycleIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("engine started",
		zap.Strings("symbols", e.symbols),
		zap.Duration("cycle_interval", interval),
		zap.Float64("equity", e.Equity()))

	if err := e.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("cycle failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("cycle failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one decision cycle across the watchlist. Symbols are processed
// concurrently and isolated from each other; a symbol's failure is logged
// and never aborts its siblings.
func (e *Engine) Tick(ctx context.Context) error {
	profile := strategy.SelectProfile(e.Equity(), e.cfg.Strategy)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Trading.MaxConcurrency)
	for _, symbol := range e.symbols {
		symbol := symbol
		g.Go(func() error {
			e.processSymbol(gctx, symbol, profile)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.persistAsync("cycle")
	return ctx.Err()
}

// processSymbol runs the per-symbol pipeline: series, concurrent technical
// and sentiment generation, fusion, risk gate, lifecycle.
func (e *Engine) processSymbol(ctx context.Context, symbol string, profile models.StrategyProfile) {
	series, err := e.cache.GetSeries(ctx, symbol, e.cfg.Trading.Interval)
	if series == nil || len(series.Candles) == 0 {
		e.logger.Error("no candles available, skipping analysis",
			zap.String("symbol", symbol), zap.Error(err))
		// A market-data outage must not stall position management. Expiry
		// and pending closes proceed against the entry price; stop-loss and
		// take-profit wait for a real quote.
		if pos := e.position(symbol); pos != nil {
			e.managePosition(ctx, pos, pos.EntryPrice)
		}
		return
	}
	if err != nil {
		var gapErr *models.DataGapError
		if errors.As(err, &gapErr) {
			e.logger.Warn("continuing on stale series",
				zap.String("symbol", symbol),
				zap.Time("last_covered", gapErr.LastCovered))
			e.noteDataGap(symbol, gapErr)
		} else {
			e.logger.Warn("series refresh failed, continuing with cached candles",
				zap.String("symbol", symbol), zap.Error(err))
		}
	} else {
		e.clearDataGap(symbol)
	}
	price := series.Candles[len(series.Candles)-1].Close

	var (
		techSignals []models.TechnicalSignal
		sentSignal  models.SentimentSignal
		wg          sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		techSignals = e.technical.Generate(series)
	}()
	go func() {
		defer wg.Done()
		sentSignal = e.sentiment.Generate(ctx, symbol)
	}()
	wg.Wait()

	fused := strategy.Fuse(symbol, techSignals, sentSignal, profile, e.cfg.Fusion, price, e.now().UTC())
	e.logger.Debug("cycle verdict",
		zap.String("symbol", symbol),
		zap.String("action", string(fused.Action)),
		zap.Float64("score", fused.Score),
		zap.Float64("confidence", fused.Confidence))

	if pos := e.position(symbol); pos != nil {
		e.managePosition(ctx, pos, price)
		return
	}
	if fused.Action == models.Hold {
		return
	}

	dec := e.risk.Evaluate(fused)
	if !dec.Approved {
		e.logger.Info("entry rejected",
			zap.String("symbol", symbol),
			zap.String("reason", dec.Reason))
		return
	}
	if err := e.openPosition(ctx, symbol, fused, dec, profile, price); err != nil {
		e.logger.Error("entry failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// GetOpenPositions returns copies of every non-CLOSED position.
func (e *Engine) GetOpenPositions() []models.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// GetRiskState returns the current account risk state.
func (e *Engine) GetRiskState() models.RiskState {
	return e.risk.State()
}

// Equity returns the account's current equity.
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equity
}

func (e *Engine) position(symbol string) *models.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions[symbol]
}

func (e *Engine) snapshot() models.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := models.Snapshot{
		Risk:    e.risk.State(),
		Equity:  e.equity,
		SavedAt: e.now().UTC(),
	}
	for _, p := range e.positions {
		snap.Positions = append(snap.Positions, *p)
	}
	return snap
}

func (e *Engine) restore() error {
	if e.store == nil {
		return nil
	}
	snap, err := e.store.LoadSnapshot()
	if err != nil {
		return err
	}
	if snap.Equity > 0 {
		e.mu.Lock()
		e.equity = snap.Equity
		e.mu.Unlock()
	}
	if !snap.Risk.DayStart.IsZero() || snap.Risk.RiskMultiplier > 0 {
		e.risk.Restore(snap.Risk)
	}

	reattached := 0
	e.mu.Lock()
	for i := range snap.Positions {
		p := snap.Positions[i]
		if p.State == models.StateClosed {
			continue
		}
		e.positions[p.Symbol] = &p
		reattached++
	}
	e.mu.Unlock()
	if reattached > 0 {
		e.logger.Info("re-attached persisted positions", zap.Int("count", reattached))
	}
	return nil
}

func (e *Engine) shutdown() {
	if e.store != nil {
		if err := e.store.SaveSnapshot(e.snapshot()); err != nil {
			e.logger.Error("final snapshot failed", zap.Error(err))
		}
	}
	e.disp.close()
	e.logger.Info("engine stopped", zap.Float64("equity", e.Equity()))
}

func (e *Engine) persistAsync(trigger string) {
	if e.store == nil {
		return
	}
	e.disp.enqueue("persist "+trigger, func(ctx context.Context) error {
		return e.store.SaveSnapshot(e.snapshot())
	})
}

// noteDataGap publishes a DATA_GAP event the first cycle a symbol's series
// turns stale; repeats are suppressed until the gap heals.
func (e *Engine) noteDataGap(symbol string, gapErr *models.DataGapError) {
	e.mu.Lock()
	already := e.staleGap[symbol]
	e.staleGap[symbol] = true
	e.mu.Unlock()
	if already {
		return
	}
	e.notifyAsync(notification.Event{
		Kind:   notification.KindDataGap,
		Symbol: symbol,
		Title:  "series gap unrepaired",
		Body:   gapErr.Error(),
		At:     e.now().UTC(),
	})
}

func (e *Engine) clearDataGap(symbol string) {
	e.mu.Lock()
	delete(e.staleGap, symbol)
	e.mu.Unlock()
}

func (e *Engine) notifyAsync(ev notification.Event) {
	e.disp.enqueue("notify "+ev.Kind, func(ctx context.Context) error {
		return e.sink.Publish(ctx, ev)
	})
}
