package dataprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// SeriesCache maintains one candle series per (symbol, interval). Reads go
// through GetSeries, which backfills, refreshes and repairs the series
// before returning a copy. Fetches are rate limited globally across all
// series.
type SeriesCache struct {
	provider MarketDataProvider
	store    CandleStore
	limiter  *rate.Limiter
	cfg      utilities.MarketDataConfig
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	series map[string]*models.CachedSeries
	locks  map[string]*sync.Mutex
}

// NewSeriesCache builds a cache over the given provider. store may be nil
// to run purely in memory.
func NewSeriesCache(provider MarketDataProvider, store CandleStore, cfg utilities.MarketDataConfig, logger *zap.Logger) *SeriesCache {
	return &SeriesCache{
		provider: provider,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RateBurst),
		cfg:      cfg,
		logger:   logger.Named("seriescache"),
		now:      time.Now,
		series:   make(map[string]*models.CachedSeries),
		locks:    make(map[string]*sync.Mutex),
	}
}

// GetSeries returns an up-to-date copy of the series for symbol/interval.
// When a coverage gap survives the configured repair attempts the series is
// returned marked stale together with a *models.DataGapError; callers may
// keep using it at reduced confidence.
func (c *SeriesCache) GetSeries(ctx context.Context, symbol, interval string) (*models.CachedSeries, error) {
	step, err := utilities.IntervalDuration(interval)
	if err != nil {
		return nil, &models.ValidationError{Field: "interval", Reason: err.Error()}
	}

	key := symbol + "|" + interval
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	entry := c.entry(symbol, interval, key)
	now := c.now()
	desiredStart := now.Add(-time.Duration(c.cfg.LookbackBars) * step)

	if len(entry.Candles) == 0 && c.store != nil {
		stored, loadErr := c.store.LoadCandles(symbol, interval, desiredStart, now)
		if loadErr != nil {
			c.logger.Warn("store load failed, fetching from provider",
				zap.String("symbol", symbol), zap.Error(loadErr))
		} else if len(stored) > 0 {
			entry.Candles = mergeCandles(entry.Candles, stored)
		}
	}

	if err := c.backfill(ctx, entry, desiredStart, now, step); err != nil {
		if len(entry.Candles) == 0 {
			return nil, err
		}
		c.logger.Warn("backfill incomplete, continuing with cached data",
			zap.String("symbol", symbol), zap.Error(err))
	}

	if err := c.refresh(ctx, entry, now, step); err != nil {
		c.logger.Warn("refresh failed, continuing with cached data",
			zap.String("symbol", symbol), zap.Error(err))
	}

	c.trim(entry, step)
	entry.LastRefresh = now

	gapErr := c.repairGaps(ctx, entry, now, step)
	entry.Stale = gapErr != nil

	if c.store != nil && len(entry.Candles) > 0 {
		if saveErr := c.store.SaveCandles(entry.Candles); saveErr != nil {
			c.logger.Warn("store save failed", zap.String("symbol", symbol), zap.Error(saveErr))
		}
	}

	return copySeries(entry), gapErr
}

func (c *SeriesCache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[key] = l
	return l
}

func (c *SeriesCache) entry(symbol, interval, key string) *models.CachedSeries {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.series[key]; ok {
		return e
	}
	e := &models.CachedSeries{Symbol: symbol, Interval: interval}
	c.series[key] = e
	return e
}

// backfill pages history forward from desiredStart until coverage reaches
// the present or the provider stops returning candles.
func (c *SeriesCache) backfill(ctx context.Context, entry *models.CachedSeries, desiredStart, now time.Time, step time.Duration) error {
	cursor := desiredStart
	if len(entry.Candles) > 0 && entry.Candles[0].OpenTime.Before(desiredStart.Add(step)) {
		// History already covers the window; only the tail needs refresh.
		return nil
	}

	maxPages := c.cfg.LookbackBars/c.cfg.PageSize + 2
	for page := 0; page < maxPages && cursor.Before(now); page++ {
		batch, err := c.fetchPage(ctx, entry.Symbol, entry.Interval, cursor, now)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		entry.Candles = mergeCandles(entry.Candles, batch)
		cursor = batch[len(batch)-1].OpenTime.Add(step)
		if delay := time.Duration(c.cfg.InterRequestDelayMs) * time.Millisecond; delay > 0 && cursor.Before(now) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

// refresh performs the incremental fetch from the last known candle to now.
func (c *SeriesCache) refresh(ctx context.Context, entry *models.CachedSeries, now time.Time, step time.Duration) error {
	if len(entry.Candles) == 0 {
		return nil
	}
	last := entry.Candles[len(entry.Candles)-1].OpenTime
	if now.Sub(last) < step {
		return nil
	}
	batch, err := c.fetchPage(ctx, entry.Symbol, entry.Interval, last, now)
	if err != nil {
		return err
	}
	entry.Candles = mergeCandles(entry.Candles, batch)
	return nil
}

// repairGaps locates the oldest missing range, interior or at the tail, and
// refetches it up to the configured attempt budget. A surviving gap yields
// a DataGapError.
func (c *SeriesCache) repairGaps(ctx context.Context, entry *models.CachedSeries, now time.Time, step time.Duration) error {
	for attempt := 0; ; attempt++ {
		gapStart, gapEnd, ok := findGap(entry.Candles, now, step, c.cfg.StaleAfterBars)
		if !ok {
			return nil
		}
		if attempt >= c.cfg.MaxRepairAttempts {
			c.logger.Warn("gap repair exhausted",
				zap.String("symbol", entry.Symbol),
				zap.String("interval", entry.Interval),
				zap.Time("gap_start", gapStart),
				zap.Int("attempts", attempt))
			return &models.DataGapError{Symbol: entry.Symbol, Interval: entry.Interval, LastCovered: gapStart}
		}
		batch, err := c.fetchPage(ctx, entry.Symbol, entry.Interval, gapStart, gapEnd)
		if err != nil {
			c.logger.Warn("gap repair fetch failed",
				zap.String("symbol", entry.Symbol), zap.Error(err))
			continue
		}
		before := len(entry.Candles)
		entry.Candles = mergeCandles(entry.Candles, batch)
		if len(entry.Candles) == before {
			// Provider had nothing new for the range; retrying the same
			// fetch cannot close the gap.
			return &models.DataGapError{Symbol: entry.Symbol, Interval: entry.Interval, LastCovered: gapStart}
		}
	}
}

func (c *SeriesCache) fetchPage(ctx context.Context, symbol, interval string, start, end time.Time) ([]models.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	batch, err := c.provider.FetchCandles(ctx, symbol, interval, start, end, c.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", symbol, interval, err)
	}
	return batch, nil
}

func (c *SeriesCache) trim(entry *models.CachedSeries, step time.Duration) {
	if n := len(entry.Candles); n > c.cfg.LookbackBars {
		entry.Candles = append([]models.Candle(nil), entry.Candles[n-c.cfg.LookbackBars:]...)
	}
	if len(entry.Candles) > 0 {
		entry.CoverageStart = entry.Candles[0].OpenTime
		entry.CoverageEnd = entry.Candles[len(entry.Candles)-1].OpenTime.Add(step)
	}
}

// findGap returns the first missing range in the series. The tail counts as
// a gap once the newest candle is more than staleAfterBars intervals old.
func findGap(candles []models.Candle, now time.Time, step time.Duration, staleAfterBars int) (start, end time.Time, ok bool) {
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime.Sub(candles[i-1].OpenTime) > step+step/2 {
			return candles[i-1].OpenTime.Add(step), candles[i].OpenTime, true
		}
	}
	if len(candles) > 0 {
		newest := candles[len(candles)-1].OpenTime
		if now.Sub(newest) > time.Duration(staleAfterBars)*step {
			return newest.Add(step), now, true
		}
	}
	return time.Time{}, time.Time{}, false
}

// mergeCandles deduplicates by open time and returns the union sorted
// ascending. Incoming candles win on conflicts.
func mergeCandles(existing, incoming []models.Candle) []models.Candle {
	merged := make(map[int64]models.Candle, len(existing)+len(incoming))
	for _, cd := range existing {
		merged[cd.OpenTime.UnixMilli()] = cd
	}
	for _, cd := range incoming {
		merged[cd.OpenTime.UnixMilli()] = cd
	}
	out := make([]models.Candle, 0, len(merged))
	for _, cd := range merged {
		out = append(out, cd)
	}
	models.SortCandles(out)
	return out
}

func copySeries(entry *models.CachedSeries) *models.CachedSeries {
	cp := *entry
	cp.Candles = append([]models.Candle(nil), entry.Candles...)
	return &cp
}
