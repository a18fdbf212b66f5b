package strategy

import (
	"fmt"
	"math"

	"robotcrypt/pkg/models"
)

// wickRatio is the minimum wick-to-body ratio for hammer and shooting star
// candles.
const wickRatio = 2.0

// detectPatterns scans the tail of the series for candlestick and breakout
// patterns. Pattern signals carry the swing support and resistance levels
// they were judged against so fusion can tighten stops toward them.
func (g *TechnicalGenerator) detectPatterns(series *models.CachedSeries, volumes []float64) []models.TechnicalSignal {
	candles := series.Candles
	if len(candles) < g.cfg.SwingLookback+2 {
		return nil
	}

	support, resistance := swingLevels(candles, g.cfg.SwingLookback)
	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]
	spike := checkVolumeSpike(volumes, g.cfg.VolumeSpikeFactor, g.cfg.VolumeLookback)

	var signals []models.TechnicalSignal
	add := func(dir models.Direction, strength, conf float64, rationale string) {
		signals = append(signals, models.TechnicalSignal{
			Kind:       models.KindPattern,
			Direction:  dir,
			Strength:   strength,
			Confidence: conf,
			Support:    support,
			Resistance: resistance,
			Rationale:  rationale,
		})
	}

	switch {
	case isBullishEngulfing(prev, last):
		add(models.Bullish, 0.65, 0.55, "bullish engulfing")
	case isBearishEngulfing(prev, last):
		add(models.Bearish, 0.65, 0.55, "bearish engulfing")
	case isHammer(last):
		add(models.Bullish, 0.6, 0.5, "hammer rejection of lows")
	case isShootingStar(last):
		add(models.Bearish, 0.6, 0.5, "shooting star rejection of highs")
	}

	if spike {
		switch {
		case last.Close > resistance:
			add(models.Bullish, 0.75, 0.65, fmt.Sprintf("breakout above %.4g on volume", resistance))
		case last.Close < support:
			add(models.Bearish, 0.75, 0.65, fmt.Sprintf("breakdown below %.4g on volume", support))
		}
	}
	return signals
}

// swingLevels returns the lowest low and highest high of the lookback
// window preceding the current candle.
func swingLevels(candles []models.Candle, lookback int) (support, resistance float64) {
	n := len(candles)
	window := candles[n-1-lookback : n-1]
	support, resistance = window[0].Low, window[0].High
	for _, c := range window {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance
}

func isBullishEngulfing(prev, last models.Candle) bool {
	return prev.Close < prev.Open &&
		last.Close > last.Open &&
		last.Open <= prev.Close &&
		last.Close >= prev.Open
}

func isBearishEngulfing(prev, last models.Candle) bool {
	return prev.Close > prev.Open &&
		last.Close < last.Open &&
		last.Open >= prev.Close &&
		last.Close <= prev.Open
}

func isHammer(c models.Candle) bool {
	body := math.Abs(c.Close - c.Open)
	if body == 0 {
		return false
	}
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return lowerWick/body >= wickRatio && upperWick <= body
}

func isShootingStar(c models.Candle) bool {
	body := math.Abs(c.Close - c.Open)
	if body == 0 {
		return false
	}
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	return upperWick/body >= wickRatio && lowerWick <= body
}
