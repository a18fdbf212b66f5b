package strategy

import (
	"testing"
	"time"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

func testStrategyConfig() utilities.StrategyConfig {
	return utilities.StrategyConfig{
		CapitalThreshold: 300,
		Scalp: utilities.TierConfig{
			RiskPerTrade: 0.01, TakeProfitPct: 0.012, StopLossPct: 0.008,
			MaxHoldMinutes: 240, TechnicalWeight: 0.7, SentimentWeight: 0.3,
		},
		Swing: utilities.TierConfig{
			RiskPerTrade: 0.02, TakeProfitPct: 0.04, StopLossPct: 0.025,
			MaxHoldMinutes: 4320, TechnicalWeight: 0.55, SentimentWeight: 0.45,
		},
	}
}

func TestSelectProfileBelowThresholdIsScalp(t *testing.T) {
	p := SelectProfile(299.99, testStrategyConfig())
	if p.Tier != models.TierScalp {
		t.Fatalf("tier = %s, want SCALP below threshold", p.Tier)
	}
	if p.MaxHold != 240*time.Minute {
		t.Fatalf("max hold = %s, want 4h", p.MaxHold)
	}
	if p.TakeProfitPct != 0.012 || p.StopLossPct != 0.008 {
		t.Fatalf("scalp exits = TP %.3f / SL %.3f", p.TakeProfitPct, p.StopLossPct)
	}
}

func TestSelectProfileAtThresholdIsSwing(t *testing.T) {
	p := SelectProfile(300, testStrategyConfig())
	if p.Tier != models.TierSwing {
		t.Fatalf("tier = %s, want SWING at threshold", p.Tier)
	}
	if p.TechnicalWeight != 0.55 || p.SentimentWeight != 0.45 {
		t.Fatalf("swing weights = %.2f / %.2f", p.TechnicalWeight, p.SentimentWeight)
	}
}
