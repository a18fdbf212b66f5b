package strategy

import (
	"testing"
	"time"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

func testFusionConfig() utilities.FusionConfig {
	return utilities.FusionConfig{BuyThreshold: 0.25, SellThreshold: -0.25, MinConfidence: 0.3}
}

func scalpProfile() models.StrategyProfile {
	return models.StrategyProfile{
		Tier: models.TierScalp, RiskPerTrade: 0.01,
		TakeProfitPct: 0.012, StopLossPct: 0.008,
		MaxHold: 4 * time.Hour, TechnicalWeight: 0.7, SentimentWeight: 0.3,
	}
}

func fallbackSentiment() models.SentimentSignal {
	return models.SentimentSignal{Symbol: "BTC/USD", Score: 0, Confidence: 0.2, IsFallback: true}
}

func techSignal(dir models.Direction, strength, conf float64) models.TechnicalSignal {
	return models.TechnicalSignal{Symbol: "BTC/USD", Kind: models.KindRSI, Direction: dir, Strength: strength, Confidence: conf}
}

func TestFuseNoEvidenceHoldsWithZeroConfidence(t *testing.T) {
	out := Fuse("BTC/USD", nil, fallbackSentiment(), scalpProfile(), testFusionConfig(), 100, time.Now())
	if out.Action != models.Hold {
		t.Fatalf("action = %s, want HOLD", out.Action)
	}
	if out.Confidence != 0 {
		t.Fatalf("confidence = %.3f, want exactly 0", out.Confidence)
	}
}

func TestFuseFallbackShiftsWeightToTechnical(t *testing.T) {
	signals := []models.TechnicalSignal{techSignal(models.Bullish, 0.9, 0.9)}
	out := Fuse("BTC/USD", signals, fallbackSentiment(), scalpProfile(), testFusionConfig(), 100, time.Now())

	if out.Action != models.Buy {
		t.Fatalf("action = %s, want BUY from technical evidence alone", out.Action)
	}
	// With the fallback excluded the score is the pure technical score.
	if diff := out.Score - 0.9; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("score = %.3f, want 0.9 (technical only)", out.Score)
	}
}

func TestFuseRealSentimentPullsScore(t *testing.T) {
	signals := []models.TechnicalSignal{techSignal(models.Bullish, 0.9, 0.9)}
	bearish := models.SentimentSignal{Symbol: "BTC/USD", Score: -1, Confidence: 0.8}
	out := Fuse("BTC/USD", signals, bearish, scalpProfile(), testFusionConfig(), 100, time.Now())

	want := 0.7*0.9 + 0.3*(-1)
	if diff := out.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("score = %.3f, want %.3f", out.Score, want)
	}
	if out.Action != models.Buy {
		t.Fatalf("action = %s, want BUY (score %.2f above threshold)", out.Action, out.Score)
	}
}

func TestFuseScoreAtThresholdHolds(t *testing.T) {
	signals := []models.TechnicalSignal{techSignal(models.Bullish, 0.25, 0.9)}
	out := Fuse("BTC/USD", signals, fallbackSentiment(), scalpProfile(), testFusionConfig(), 100, time.Now())
	if out.Action != models.Hold {
		t.Fatalf("score exactly at the buy threshold must HOLD, got %s", out.Action)
	}
}

func TestFuseBuyExitLevels(t *testing.T) {
	signals := []models.TechnicalSignal{techSignal(models.Bullish, 0.9, 0.9)}
	out := Fuse("BTC/USD", signals, fallbackSentiment(), scalpProfile(), testFusionConfig(), 100, time.Now())

	if out.StopLoss >= 100 || out.TakeProfit <= 100 {
		t.Fatalf("BUY levels inverted: SL %.4f, TP %.4f", out.StopLoss, out.TakeProfit)
	}
	if diff := out.StopLoss - 99.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("stop loss = %.4f, want 99.2", out.StopLoss)
	}
	if diff := out.TakeProfit - 101.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("take profit = %.4f, want 101.2", out.TakeProfit)
	}
	if out.SizeMultiplier != 1.0 {
		t.Errorf("size multiplier = %.2f, want 1.0 at high confidence", out.SizeMultiplier)
	}
}

func TestFuseSellExitLevels(t *testing.T) {
	signals := []models.TechnicalSignal{techSignal(models.Bearish, 0.9, 0.9)}
	out := Fuse("BTC/USD", signals, fallbackSentiment(), scalpProfile(), testFusionConfig(), 100, time.Now())

	if out.Action != models.Sell {
		t.Fatalf("action = %s, want SELL", out.Action)
	}
	if out.StopLoss <= 100 || out.TakeProfit >= 100 {
		t.Fatalf("SELL levels inverted: SL %.4f, TP %.4f", out.StopLoss, out.TakeProfit)
	}
}

func TestFuseStopTightensTowardPatternSupport(t *testing.T) {
	signals := []models.TechnicalSignal{
		techSignal(models.Bullish, 0.9, 0.9),
		{
			Symbol: "BTC/USD", Kind: models.KindPattern, Direction: models.Bullish,
			Strength: 0.6, Confidence: 0.5, Support: 99.5, Resistance: 105,
		},
	}
	out := Fuse("BTC/USD", signals, fallbackSentiment(), scalpProfile(), testFusionConfig(), 100, time.Now())
	if out.Action != models.Buy {
		t.Fatalf("action = %s, want BUY", out.Action)
	}
	want := 99.5 * 0.999
	if diff := out.StopLoss - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("stop loss = %.4f, want tightened to %.4f", out.StopLoss, want)
	}
}
