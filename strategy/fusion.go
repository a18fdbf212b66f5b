package strategy

import (
	"fmt"
	"strings"
	"time"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// Fuse combines the technical signals and the sentiment reading into one
// actionable verdict for the symbol. Weights come from the strategy
// profile; a fallback sentiment signal is excluded and its weight shifted
// entirely onto the technical side. With no usable evidence on either side
// the result is HOLD with confidence zero.
func Fuse(symbol string, technical []models.TechnicalSignal, sentiment models.SentimentSignal,
	profile models.StrategyProfile, cfg utilities.FusionConfig, price float64, now time.Time) models.FusedSignal {

	out := models.FusedSignal{
		Symbol:      symbol,
		Action:      models.Hold,
		GeneratedAt: now,
	}

	techScore, techConf, hasTech := aggregateTechnical(technical)
	hasSent := !sentiment.IsFallback

	if !hasTech && !hasSent {
		out.Rationale = "no technical evidence and sentiment fell back"
		return out
	}

	tw, sw := profile.TechnicalWeight, profile.SentimentWeight
	switch {
	case !hasSent:
		tw, sw = 1, 0
	case !hasTech:
		tw, sw = 0, 1
	default:
		total := tw + sw
		tw, sw = tw/total, sw/total
	}

	out.Score = utilities.Clamp(tw*techScore+sw*sentiment.Score, -1, 1)
	evidenceConf := tw*techConf + sw*sentiment.Confidence
	out.Confidence = utilities.Clamp(evidenceConf*(0.5+0.5*absScore(out.Score)), 0, 1)
	out.Rationale = buildRationale(technical, sentiment, hasSent)

	switch {
	case out.Score > cfg.BuyThreshold && out.Confidence >= cfg.MinConfidence:
		out.Action = models.Buy
	case out.Score < cfg.SellThreshold && out.Confidence >= cfg.MinConfidence:
		out.Action = models.Sell
	default:
		return out
	}

	out.StopLoss, out.TakeProfit = exitLevels(out.Action, price, profile, technical)
	out.SizeMultiplier = sizeMultiplier(out.Confidence)
	return out
}

// aggregateTechnical folds the per-indicator signals into one signed score
// weighted by each signal's confidence.
func aggregateTechnical(signals []models.TechnicalSignal) (score, confidence float64, ok bool) {
	if len(signals) == 0 {
		return 0, 0, false
	}
	var weighted, confSum float64
	for _, s := range signals {
		sign := 1.0
		if s.Direction == models.Bearish {
			sign = -1.0
		}
		weighted += sign * s.Strength * s.Confidence
		confSum += s.Confidence
	}
	if confSum == 0 {
		return 0, 0, false
	}
	return utilities.Clamp(weighted/confSum, -1, 1), utilities.Clamp(confSum/float64(len(signals)), 0, 1), true
}

// exitLevels derives stop-loss and take-profit from the tier percentages,
// then tightens them toward swing levels reported by pattern signals.
func exitLevels(action models.Action, price float64, profile models.StrategyProfile, technical []models.TechnicalSignal) (stop, take float64) {
	support, resistance := nearestLevels(technical)

	if action == models.Buy {
		stop = price * (1 - profile.StopLossPct)
		take = price * (1 + profile.TakeProfitPct)
		if support > stop && support < price {
			stop = support * 0.999
		}
		if resistance > price && resistance < take {
			take = resistance
		}
		return stop, take
	}

	stop = price * (1 + profile.StopLossPct)
	take = price * (1 - profile.TakeProfitPct)
	if resistance > price && resistance < stop {
		stop = resistance * 1.001
	}
	if support < price && support > take {
		take = support
	}
	return stop, take
}

func nearestLevels(signals []models.TechnicalSignal) (support, resistance float64) {
	for _, s := range signals {
		if s.Kind != models.KindPattern {
			continue
		}
		if s.Support > support {
			support = s.Support
		}
		if resistance == 0 || (s.Resistance > 0 && s.Resistance < resistance) {
			resistance = s.Resistance
		}
	}
	return support, resistance
}

// sizeMultiplier maps fused confidence onto a position size scale.
func sizeMultiplier(confidence float64) float64 {
	switch {
	case confidence >= 0.75:
		return 1.0
	case confidence >= 0.5:
		return 0.75
	default:
		return 0.5
	}
}

func buildRationale(technical []models.TechnicalSignal, sentiment models.SentimentSignal, hasSent bool) string {
	parts := make([]string, 0, len(technical)+1)
	for _, s := range technical {
		parts = append(parts, fmt.Sprintf("%s %s", strings.ToLower(string(s.Kind)), strings.ToLower(string(s.Direction))))
	}
	if hasSent {
		parts = append(parts, sentiment.Rationale)
	} else {
		parts = append(parts, "sentiment excluded (fallback)")
	}
	return strings.Join(parts, "; ")
}

func absScore(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
