package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// TechnicalGenerator turns a candle series into per-indicator signals. Each
// indicator contributes at most one signal per cycle; an indicator with
// nothing to say contributes none.
type TechnicalGenerator struct {
	cfg    utilities.IndicatorsConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewTechnicalGenerator(cfg utilities.IndicatorsConfig, logger *zap.Logger) *TechnicalGenerator {
	return &TechnicalGenerator{cfg: cfg, logger: logger.Named("technical"), now: time.Now}
}

// Generate runs the indicator battery over the series. A stale series still
// produces signals, at reduced confidence.
func (g *TechnicalGenerator) Generate(series *models.CachedSeries) []models.TechnicalSignal {
	if series == nil || len(series.Candles) < g.cfg.RSIPeriod+1 {
		return nil
	}

	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()
	volumes := series.Volumes()
	price := closes[len(closes)-1]

	penalty := 1.0
	if series.Stale {
		penalty = g.cfg.StaleConfidencePct
	}
	penalty *= g.volatilityDampener(highs, lows, closes, price)

	var signals []models.TechnicalSignal

	if s, ok := g.rsiSignal(closes); ok {
		signals = append(signals, s)
	}
	if s, ok := g.stochasticSignal(highs, lows, closes); ok {
		signals = append(signals, s)
	}
	if s, ok := g.macdSignal(closes); ok {
		signals = append(signals, s)
	}
	if s, ok := g.bollingerSignal(closes, price); ok {
		signals = append(signals, s)
	}
	if s, ok := g.maCrossSignal(closes); ok {
		signals = append(signals, s)
	}
	signals = append(signals, g.detectPatterns(series, volumes)...)

	ts := g.now().UTC()
	for i := range signals {
		signals[i].Symbol = series.Symbol
		signals[i].Price = price
		signals[i].GeneratedAt = ts
		signals[i].Strength = utilities.Clamp(signals[i].Strength, 0, 1)
		signals[i].Confidence = utilities.Clamp(signals[i].Confidence*penalty, 0, 1)
	}
	if series.Stale && len(signals) > 0 {
		g.logger.Debug("signals produced from stale series",
			zap.String("symbol", series.Symbol), zap.Int("count", len(signals)))
	}
	return signals
}

// volatilityDampener trims confidence when ATR marks the market as choppy.
func (g *TechnicalGenerator) volatilityDampener(highs, lows, closes []float64, price float64) float64 {
	if len(closes) <= g.cfg.ATRPeriod || price <= 0 {
		return 1.0
	}
	atr := talib.Atr(highs, lows, closes, g.cfg.ATRPeriod)
	atrPct := atr[len(atr)-1] / price
	if math.IsNaN(atrPct) {
		return 1.0
	}
	if atrPct > 0.03 {
		return 0.8
	}
	return 1.0
}

func (g *TechnicalGenerator) rsiSignal(closes []float64) (models.TechnicalSignal, bool) {
	value := calculateRSI(closes, g.cfg.RSIPeriod)
	switch {
	case value < g.cfg.RSIOversold:
		depth := (g.cfg.RSIOversold - value) / g.cfg.RSIOversold
		return models.TechnicalSignal{
			Kind:       models.KindRSI,
			Direction:  models.Bullish,
			Strength:   0.6 + 0.4*depth,
			Confidence: 0.5 + 0.5*depth,
			Rationale:  fmt.Sprintf("RSI %.1f below %.0f", value, g.cfg.RSIOversold),
		}, true
	case value > g.cfg.RSIOverbought:
		depth := (value - g.cfg.RSIOverbought) / (100 - g.cfg.RSIOverbought)
		return models.TechnicalSignal{
			Kind:       models.KindRSI,
			Direction:  models.Bearish,
			Strength:   0.6 + 0.4*depth,
			Confidence: 0.5 + 0.5*depth,
			Rationale:  fmt.Sprintf("RSI %.1f above %.0f", value, g.cfg.RSIOverbought),
		}, true
	}
	return models.TechnicalSignal{}, false
}

func (g *TechnicalGenerator) stochasticSignal(highs, lows, closes []float64) (models.TechnicalSignal, bool) {
	k, d := stochasticOscillator(highs, lows, closes, g.cfg.StochKPeriod, g.cfg.StochDPeriod)
	switch {
	case k < g.cfg.StochOversold:
		depth := (g.cfg.StochOversold - k) / g.cfg.StochOversold
		conf := 0.45 + 0.4*depth
		if d < g.cfg.StochOversold {
			conf += 0.1
		}
		return models.TechnicalSignal{
			Kind:       models.KindStochastic,
			Direction:  models.Bullish,
			Strength:   0.55 + 0.45*depth,
			Confidence: conf,
			Rationale:  fmt.Sprintf("stochastic %%K %.1f / %%D %.1f oversold", k, d),
		}, true
	case k > g.cfg.StochOverbought:
		depth := (k - g.cfg.StochOverbought) / (100 - g.cfg.StochOverbought)
		conf := 0.45 + 0.4*depth
		if d > g.cfg.StochOverbought {
			conf += 0.1
		}
		return models.TechnicalSignal{
			Kind:       models.KindStochastic,
			Direction:  models.Bearish,
			Strength:   0.55 + 0.45*depth,
			Confidence: conf,
			Rationale:  fmt.Sprintf("stochastic %%K %.1f / %%D %.1f overbought", k, d),
		}, true
	}
	return models.TechnicalSignal{}, false
}

func (g *TechnicalGenerator) macdSignal(closes []float64) (models.TechnicalSignal, bool) {
	need := g.cfg.MACDSlowPeriod + g.cfg.MACDSignalPeriod + 1
	if len(closes) < need {
		return models.TechnicalSignal{}, false
	}
	_, _, hist := talib.Macd(closes, g.cfg.MACDFastPeriod, g.cfg.MACDSlowPeriod, g.cfg.MACDSignalPeriod)
	n := len(hist)
	last, prev := hist[n-1], hist[n-2]
	if last == 0 || math.IsNaN(last) {
		return models.TechnicalSignal{}, false
	}

	norm := math.Abs(last) / maxAbs(hist[maxInt(0, n-50):])
	crossed := (last > 0) != (prev > 0)
	strength := 0.35 + 0.35*norm
	conf := 0.4 + 0.3*norm
	if crossed {
		strength += 0.2
		conf += 0.15
	}

	dir := models.Bullish
	if last < 0 {
		dir = models.Bearish
	}
	rationale := fmt.Sprintf("MACD histogram %.4g", last)
	if crossed {
		rationale += " (fresh cross)"
	}
	return models.TechnicalSignal{
		Kind:       models.KindMACD,
		Direction:  dir,
		Strength:   strength,
		Confidence: conf,
		Rationale:  rationale,
	}, true
}

func (g *TechnicalGenerator) bollingerSignal(closes []float64, price float64) (models.TechnicalSignal, bool) {
	if len(closes) < g.cfg.BollingerPeriod+1 {
		return models.TechnicalSignal{}, false
	}
	upper, _, lower := talib.BBands(closes, g.cfg.BollingerPeriod, g.cfg.BollingerStdDev, g.cfg.BollingerStdDev, talib.SMA)
	u, l := upper[len(upper)-1], lower[len(lower)-1]
	width := u - l
	if width <= 0 || math.IsNaN(width) {
		return models.TechnicalSignal{}, false
	}
	switch {
	case price <= l:
		depth := utilities.Clamp((l-price)/width, 0, 1)
		return models.TechnicalSignal{
			Kind:       models.KindBollinger,
			Direction:  models.Bullish,
			Strength:   0.6 + 0.4*depth,
			Confidence: 0.5 + 0.4*depth,
			Rationale:  fmt.Sprintf("price %.4g at lower band %.4g", price, l),
		}, true
	case price >= u:
		depth := utilities.Clamp((price-u)/width, 0, 1)
		return models.TechnicalSignal{
			Kind:       models.KindBollinger,
			Direction:  models.Bearish,
			Strength:   0.6 + 0.4*depth,
			Confidence: 0.5 + 0.4*depth,
			Rationale:  fmt.Sprintf("price %.4g at upper band %.4g", price, u),
		}, true
	}
	return models.TechnicalSignal{}, false
}

func (g *TechnicalGenerator) maCrossSignal(closes []float64) (models.TechnicalSignal, bool) {
	if len(closes) < g.cfg.EMASlowPeriod+2 {
		return models.TechnicalSignal{}, false
	}
	fast := talib.Ema(closes, g.cfg.EMAFastPeriod)
	slow := talib.Ema(closes, g.cfg.EMASlowPeriod)
	n := len(closes)

	crossUp := fast[n-1] > slow[n-1] && fast[n-2] <= slow[n-2]
	crossDown := fast[n-1] < slow[n-1] && fast[n-2] >= slow[n-2]
	switch {
	case crossUp:
		return models.TechnicalSignal{
			Kind:       models.KindMACross,
			Direction:  models.Bullish,
			Strength:   0.7,
			Confidence: 0.6,
			Rationale:  fmt.Sprintf("EMA%d crossed above EMA%d", g.cfg.EMAFastPeriod, g.cfg.EMASlowPeriod),
		}, true
	case crossDown:
		return models.TechnicalSignal{
			Kind:       models.KindMACross,
			Direction:  models.Bearish,
			Strength:   0.7,
			Confidence: 0.6,
			Rationale:  fmt.Sprintf("EMA%d crossed below EMA%d", g.cfg.EMAFastPeriod, g.cfg.EMASlowPeriod),
		}, true
	}
	return models.TechnicalSignal{}, false
}

func maxAbs(values []float64) float64 {
	max := 1e-12
	for _, v := range values {
		if a := math.Abs(v); a > max && !math.IsNaN(a) {
			max = a
		}
	}
	return max
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
