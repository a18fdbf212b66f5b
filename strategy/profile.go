package strategy

import (
	"time"

	"robotcrypt/pkg/models"
	"robotcrypt/utilities"
)

// SelectProfile picks the strategy tier for the given allocatable capital.
// Below the threshold the account trades the SCALP tier; at or above it,
// SWING. Positions already open keep the profile they were opened under,
// so a capital change only affects subsequent entries.
func SelectProfile(capital float64, cfg utilities.StrategyConfig) models.StrategyProfile {
	if capital < cfg.CapitalThreshold {
		return tierProfile(models.TierScalp, cfg.Scalp)
	}
	return tierProfile(models.TierSwing, cfg.Swing)
}

func tierProfile(tier models.Tier, cfg utilities.TierConfig) models.StrategyProfile {
	return models.StrategyProfile{
		Tier:            tier,
		RiskPerTrade:    cfg.RiskPerTrade,
		TakeProfitPct:   cfg.TakeProfitPct,
		StopLossPct:     cfg.StopLossPct,
		MaxHold:         time.Duration(cfg.MaxHoldMinutes) * time.Minute,
		TechnicalWeight: cfg.TechnicalWeight,
		SentimentWeight: cfg.SentimentWeight,
	}
}
