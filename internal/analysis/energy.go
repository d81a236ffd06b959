// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"reactor/internal/config"
)

// Band layout and output scaling of the energy estimator.
const (
	LowBandEnd     = 0.2 // Fraction of bins in the low (bass) band.
	MidBandEnd     = 0.6 // Fraction of bins up to the end of the mid band.
	HighBandStride = 2   // Only every HighBandStride-th high bin is sampled.
	EnergyGain     = 1.1
	MaxEnergy      = 1.3
)

// BandWeights are the per-band contributions to the weighted mean.
type BandWeights struct {
	Bass float64
	Mid  float64
	High float64
}

// WeightsFrom extracts the band weights from an analyzer config.
func WeightsFrom(c config.AnalyzerConfig) BandWeights {
	return BandWeights{Bass: c.BassWeight, Mid: c.MidWeight, High: c.HighWeight}
}

// EstimateEnergy collapses a snapshot to one scalar in [0, MaxEnergy]: the
// band-weighted mean of the sampled bins, normalised by 255 and scaled by
// EnergyGain. An all-zero snapshot or zero total weight yields exactly 0.
func EstimateEnergy(snap FrequencySnapshot, w BandWeights) float64 {
	n := len(snap)
	if n == 0 {
		return 0
	}
	bass, mid, high := nonNegative(w.Bass), nonNegative(w.Mid), nonNegative(w.High)

	lowEnd := int(float64(n) * LowBandEnd)
	midEnd := int(float64(n) * MidBandEnd)

	var sum, weight float64
	for i := 0; i < lowEnd; i++ {
		sum += bass * float64(snap[i])
		weight += bass
	}
	for i := lowEnd; i < midEnd; i++ {
		sum += mid * float64(snap[i])
		weight += mid
	}
	for i := midEnd; i < n; i += HighBandStride {
		sum += high * float64(snap[i])
		weight += high
	}

	if weight == 0 || sum == 0 {
		return 0
	}
	e := sum / weight / 255 * EnergyGain
	if math.IsNaN(e) || e < 0 {
		return 0
	}
	return math.Min(e, MaxEnergy)
}

func nonNegative(v float64) float64 {
	if v > 0 && !math.IsInf(v, 1) {
		return v
	}
	return 0
}
