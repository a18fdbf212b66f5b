package strategy

import (
	"math"
	"testing"
)

// closesWithRSI builds a close series whose simple-average RSI over period
// 14 is exactly the requested ratio of gains to losses.
func closesFromDeltas(start float64, deltas []float64) []float64 {
	closes := make([]float64, 0, len(deltas)+1)
	closes = append(closes, start)
	for _, d := range deltas {
		closes = append(closes, closes[len(closes)-1]+d)
	}
	return closes
}

func TestCalculateRSIKnownValue(t *testing.T) {
	// 7 gains of 4 and 7 losses of 72/7 give gains 28 / losses 72,
	// so RSI = 100 - 100/(1 + 28/72) = 28.
	deltas := make([]float64, 0, 14)
	for i := 0; i < 7; i++ {
		deltas = append(deltas, 4, -72.0/7.0)
	}
	closes := closesFromDeltas(1000, deltas)

	got := calculateRSI(closes, 14)
	if math.Abs(got-28.0) > 1e-9 {
		t.Fatalf("calculateRSI = %.6f, want 28.0", got)
	}
}

func TestCalculateRSIFlatWindowIsNeutral(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 500
	}
	if got := calculateRSI(closes, 14); got != 50.0 {
		t.Fatalf("flat window RSI = %.2f, want neutral 50", got)
	}
}

func TestCalculateRSIInsufficientData(t *testing.T) {
	if got := calculateRSI([]float64{1, 2, 3}, 14); got != 50.0 {
		t.Fatalf("short series RSI = %.2f, want neutral 50", got)
	}
}

func TestCalculateRSIAllGains(t *testing.T) {
	closes := closesFromDeltas(100, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	if got := calculateRSI(closes, 14); got != 100.0 {
		t.Fatalf("all-gains RSI = %.2f, want 100", got)
	}
}

func TestStochasticFlatWindowIsNeutral(t *testing.T) {
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i], lows[i], closes[i] = 200, 200, 200
	}
	k, d := stochasticOscillator(highs, lows, closes, 14, 3)
	if k != 50.0 || d != 50.0 {
		t.Fatalf("flat stochastic = (%.2f, %.2f), want (50, 50)", k, d)
	}
}

func TestStochasticAtExtremes(t *testing.T) {
	n := 20
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = 110
		lows[i] = 90
		closes[i] = 110 // closing at the top of the range
	}
	k, _ := stochasticOscillator(highs, lows, closes, 14, 3)
	if k != 100.0 {
		t.Fatalf("top-of-range %%K = %.2f, want 100", k)
	}
}

func TestCheckVolumeSpike(t *testing.T) {
	volumes := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 25}
	if !checkVolumeSpike(volumes, 2.0, 10) {
		t.Fatal("expected spike at 2.5x average volume")
	}
	volumes[len(volumes)-1] = 15
	if checkVolumeSpike(volumes, 2.0, 10) {
		t.Fatal("did not expect spike at 1.5x average volume")
	}
}
