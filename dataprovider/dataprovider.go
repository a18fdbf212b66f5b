package dataprovider

import (
	"context"
	"time"

	"robotcrypt/pkg/models"
)

// MarketDataProvider serves historical candles for a symbol. Implementations
// return at most limit candles with open times in [start, end), ascending.
type MarketDataProvider interface {
	FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]models.Candle, error)
}

// SentimentProvider produces a sentiment reading for a symbol. Errors are
// classified by the caller; providers should return the typed errors from
// pkg/models where the cause is known.
type SentimentProvider interface {
	AnalyzeSymbol(ctx context.Context, symbol string) (models.SentimentSignal, error)
}

// CandleStore persists candles between runs so the cache can re-prime from
// disk instead of refetching history.
type CandleStore interface {
	SaveCandles(candles []models.Candle) error
	LoadCandles(symbol, interval string, start, end time.Time) ([]models.Candle, error)
}
