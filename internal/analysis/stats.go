// SPDX-License-Identifier: MIT
package analysis

import (
	"context"
	"sort"

	"reactor/internal/config"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EnergyStats summarises an energy envelope.
type EnergyStats struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"avg"`
	StdDev       float64 `json:"stdDev"`
	DynamicRange float64 `json:"dynamicRange"` // 95th minus 5th percentile.
}

// EnergyEnvelope replays pcm through the live estimator at the configured
// tick cadence and returns one energy value per tick.
func EnergyEnvelope(ctx context.Context, pcm []float32, sampleRate float64, fftSize int, cfg config.AnalyzerConfig) ([]float64, error) {
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	a, err := NewAnalyser(fftSize, sampleRate, Hann)
	if err != nil {
		return nil, err
	}
	hop := int(sampleRate * cfg.AnalyzeInterval().Seconds())
	if hop < 1 {
		hop = 1
	}

	weights := WeightsFrom(cfg)
	snap := make(FrequencySnapshot, a.Bins())
	out := make([]float64, 0, len(pcm)/hop+1)
	for end := fftSize; end <= len(pcm); end += hop {
		if len(out)&255 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := a.Compute(snap, pcm[end-fftSize:end], cfg.SmoothingTimeConstant); err != nil {
			return nil, err
		}
		out = append(out, EstimateEnergy(snap, weights))
	}
	if len(out) == 0 {
		return nil, ErrTooShort
	}
	return out, nil
}

// Summarize computes envelope statistics. An empty envelope yields zeros.
func Summarize(values []float64) EnergyStats {
	if len(values) == 0 {
		return EnergyStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}
	return EnergyStats{
		Min:          floats.Min(sorted),
		Max:          floats.Max(sorted),
		Mean:         mean,
		StdDev:       std,
		DynamicRange: stat.Quantile(0.95, stat.Empirical, sorted, nil) - stat.Quantile(0.05, stat.Empirical, sorted, nil),
	}
}
