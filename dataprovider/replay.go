package dataprovider

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"robotcrypt/pkg/models"
)

// ReplayProvider serves candles from CSV files on disk, one file per
// (symbol, interval) named like BTC-USD_5m.csv with rows of
// open_time_ms,open,high,low,close,volume. It exists so the engine can run
// end to end without exchange credentials; live market-data adapters plug
// in behind the same MarketDataProvider interface.
type ReplayProvider struct {
	dir string

	mu     sync.Mutex
	loaded map[string][]models.Candle
}

func NewReplayProvider(dir string) *ReplayProvider {
	return &ReplayProvider{dir: dir, loaded: make(map[string][]models.Candle)}
}

// FetchCandles returns up to limit candles with open times in [start, end).
func (p *ReplayProvider) FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := p.load(symbol, interval)
	if err != nil {
		return nil, err
	}

	var out []models.Candle
	for _, c := range all {
		if c.OpenTime.Before(start) || !c.OpenTime.Before(end) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *ReplayProvider) load(symbol, interval string) ([]models.Candle, error) {
	key := symbol + "|" + interval
	p.mu.Lock()
	defer p.mu.Unlock()
	if candles, ok := p.loaded[key]; ok {
		return candles, nil
	}

	name := strings.ReplaceAll(symbol, "/", "-") + "_" + interval + ".csv"
	path := filepath.Join(p.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, &models.NetworkError{Op: "replay open " + name, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &models.ValidationError{Field: name, Reason: err.Error()}
	}

	candles := make([]models.Candle, 0, len(records))
	for i, rec := range records {
		c, err := parseCandleRow(rec)
		if err != nil {
			return nil, &models.ValidationError{Field: name, Reason: fmt.Sprintf("row %d: %v", i+1, err)}
		}
		c.Symbol = symbol
		c.Interval = interval
		candles = append(candles, c)
	}
	models.SortCandles(candles)
	p.loaded[key] = candles
	return candles, nil
}

func parseCandleRow(rec []string) (models.Candle, error) {
	var c models.Candle
	ms, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	if err != nil {
		return c, fmt.Errorf("open_time: %w", err)
	}
	c.OpenTime = time.UnixMilli(ms).UTC()

	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return c, fmt.Errorf("column %d: %w", i+2, err)
		}
		*dst = v
	}
	return c, nil
}
