package strategy

// Hand-rolled oscillator math. RSI and the stochastic use simple averaging
// so a flat window resolves to the neutral 50 reading instead of the NaN a
// Wilder-smoothed implementation produces on zero movement.

// calculateRSI computes the Relative Strength Index over the last period
// changes. Insufficient data or a flat window yields the neutral 50.
func calculateRSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return 50.0
	}
	gains, losses := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if gains == 0 && losses == 0 {
		return 50.0
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// stochasticOscillator returns %K and %D over the given windows. A window
// with no range resolves both to the neutral 50.
func stochasticOscillator(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d float64) {
	if len(closes) < kPeriod+dPeriod-1 || kPeriod <= 0 || dPeriod <= 0 {
		return 50.0, 50.0
	}

	kValues := make([]float64, dPeriod)
	for i := 0; i < dPeriod; i++ {
		end := len(closes) - i
		kValues[i] = rawStochK(highs[:end], lows[:end], closes[:end], kPeriod)
	}

	k = kValues[0]
	sum := 0.0
	for _, v := range kValues {
		sum += v
	}
	d = sum / float64(dPeriod)
	return k, d
}

func rawStochK(highs, lows, closes []float64, period int) float64 {
	lowest, highest := lows[len(lows)-period], highs[len(highs)-period]
	for i := len(closes) - period; i < len(closes); i++ {
		if lows[i] < lowest {
			lowest = lows[i]
		}
		if highs[i] > highest {
			highest = highs[i]
		}
	}
	if highest == lowest {
		return 50.0
	}
	return 100.0 * (closes[len(closes)-1] - lowest) / (highest - lowest)
}

// checkVolumeSpike reports whether the latest volume exceeds the average of
// the preceding lookback volumes by the given factor.
func checkVolumeSpike(volumes []float64, factor float64, lookback int) bool {
	if len(volumes) <= lookback || lookback <= 0 {
		return false
	}
	sum := 0.0
	for i := len(volumes) - lookback - 1; i < len(volumes)-1; i++ {
		sum += volumes[i]
	}
	avg := sum / float64(lookback)
	return avg > 0 && volumes[len(volumes)-1] >= avg*factor
}
