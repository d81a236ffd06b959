// SPDX-License-Identifier: MIT
package profile

import (
	"context"
	"errors"
	"math"
	"time"

	"reactor/internal/analysis"
	"reactor/internal/config"
	"reactor/internal/log"
)

// Tuning derived from offline statistics.
const (
	thresholdStdDevs      = 0.5  // Beats fire this many deviations above the mean.
	refractoryFraction    = 0.5  // Minimum beat interval as a fraction of the beat period.
	sensitivityRange      = 0.25 // Dynamic range that maps to sensitivity 1.
	minDerivedSensitivity = 0.5
	maxDerivedSensitivity = 2.0
)

// Generate analyses a decoded track and returns a profile whose overrides
// fit it: the threshold sits above the track's typical energy, the
// refractory period follows its tempo and the sensitivity compensates for
// compressed dynamics. A failed tempo estimate leaves tempo fields unset.
func Generate(ctx context.Context, pcm []float32, sampleRate float64, fftSize int, base config.AnalyzerConfig) (*TrackProfile, error) {
	if sampleRate <= 0 {
		return nil, &analysis.AnalysisError{Op: "generate profile", Err: analysis.ErrBadRate}
	}
	env, err := analysis.EnergyEnvelope(ctx, pcm, sampleRate, fftSize, base)
	if err != nil {
		return nil, &analysis.AnalysisError{Op: "generate profile", Err: err}
	}
	es := analysis.Summarize(env)
	stats := &Stats{
		EnergyMin:    es.Min,
		EnergyMax:    es.Max,
		EnergyAvg:    es.Mean,
		EnergyStdDev: es.StdDev,
		DynamicRange: es.DynamicRange,
	}

	p := &TrackProfile{Stats: stats, Generated: time.Now().UTC()}

	threshold := es.Mean + thresholdStdDevs*es.StdDev
	p.Analyzer.EnergyThreshold = &threshold

	sensitivity := math.Max(minDerivedSensitivity, math.Min(maxDerivedSensitivity,
		sensitivityRange/math.Max(es.DynamicRange, 1e-3)))
	p.Analyzer.BeatSensitivity = &sensitivity

	tempo, err := analysis.DetectTempo(ctx, pcm, sampleRate)
	switch {
	case err == nil:
		stats.BPM = tempo.BPM
		stats.TempoConfidence = tempo.Confidence
		stats.BeatIntervalMs = 60000 / tempo.BPM
		interval := stats.BeatIntervalMs * refractoryFraction
		p.Analyzer.MinBeatIntervalMs = &interval
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		log.Debugf("Profile: No tempo estimate: %v", err)
	}

	// Store the values the analyzer will actually use.
	applied := p.Analyzer.Apply(base)
	p.Analyzer.EnergyThreshold = &applied.EnergyThreshold
	p.Analyzer.BeatSensitivity = &applied.BeatSensitivity
	if p.Analyzer.MinBeatIntervalMs != nil {
		p.Analyzer.MinBeatIntervalMs = &applied.MinBeatIntervalMs
	}
	return p, nil
}
