package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"robotcrypt/dataprovider"
	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// SentimentGenerator wraps a SentimentProvider with a hard timeout, a
// short-lived per-symbol cache, and fallback substitution. Generate never
// fails: when the provider cannot answer, the caller receives a neutral
// fallback signal instead of an error.
type SentimentGenerator struct {
	provider dataprovider.SentimentProvider
	logger   *zap.Logger
	timeout  time.Duration
	cacheTTL time.Duration
	ceiling  float64
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]models.SentimentSignal
}

func NewSentimentGenerator(provider dataprovider.SentimentProvider, cfg utilities.SentimentConfig, logger *zap.Logger) *SentimentGenerator {
	return &SentimentGenerator{
		provider: provider,
		logger:   logger.Named("sentiment"),
		timeout:  time.Duration(cfg.RequestTimeoutSec) * time.Second,
		cacheTTL: time.Duration(cfg.CacheTTLSec) * time.Second,
		ceiling:  cfg.FallbackConfidence,
		now:      time.Now,
		cache:    make(map[string]models.SentimentSignal),
	}
}

// Generate returns the sentiment reading for symbol, serving repeat
// requests within the cache TTL from memory.
func (g *SentimentGenerator) Generate(ctx context.Context, symbol string) models.SentimentSignal {
	now := g.now()

	g.mu.Lock()
	if cached, ok := g.cache[symbol]; ok && now.Sub(cached.GeneratedAt) < g.cacheTTL {
		g.mu.Unlock()
		return cached
	}
	g.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	sig, err := g.provider.AnalyzeSymbol(tctx, symbol)
	if err != nil {
		sig = g.fallback(symbol, err, now)
	} else {
		sig.Symbol = symbol
		sig.Score = utilities.Clamp(sig.Score, -1, 1)
		sig.Confidence = utilities.Clamp(sig.Confidence, 0, 1)
		if sig.GeneratedAt.IsZero() {
			sig.GeneratedAt = now
		}
	}

	g.mu.Lock()
	g.cache[symbol] = sig
	g.mu.Unlock()
	return sig
}

// fallback builds the neutral substitute signal and logs what was replaced.
func (g *SentimentGenerator) fallback(symbol string, cause error, now time.Time) models.SentimentSignal {
	var (
		timeoutErr *models.TimeoutError
		refusalErr *models.ProviderRefusalError
		kind       string
	)
	switch {
	case errors.Is(cause, context.DeadlineExceeded) || errors.As(cause, &timeoutErr):
		kind = "timeout"
	case errors.As(cause, &refusalErr):
		kind = "refusal"
	default:
		kind = "provider error"
	}

	g.logger.Warn("sentiment unavailable, substituting neutral fallback",
		zap.String("symbol", symbol),
		zap.String("cause", kind),
		zap.Error(cause))

	return models.SentimentSignal{
		Symbol:      symbol,
		Score:       0,
		Confidence:  utilities.Clamp(g.ceiling, 0, 0.2),
		Rationale:   "fallback: sentiment " + kind,
		IsFallback:  true,
		GeneratedAt: now,
	}
}
