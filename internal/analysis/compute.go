// SPDX-License-Identifier: MIT
package analysis

import (
	"time"

	"reactor/internal/config"
)

// Input is everything one analysis tick needs. It carries no references to
// live objects, so it can be handed to a worker goroutine unchanged.
type Input struct {
	Snapshot FrequencySnapshot
	Config   config.AnalyzerConfig
	State    DetectorState
	Now      time.Time
	Roll     float64 // Uniform [0, 1) sample for beat damping.
}

// Output is the result of one analysis tick.
type Output struct {
	Energy    float64 // Raw estimator output in [0, MaxEnergy].
	Beat      bool
	Intensity float64 // energy/threshold when armed, else 0.
	State     DetectorState
}

// Analyze runs the energy estimator and then the beat detector on its output.
// It is pure: equal inputs give equal outputs on any goroutine.
func Analyze(in Input) Output {
	energy := EstimateEnergy(in.Snapshot, WeightsFrom(in.Config))
	state, fired, intensity := DetectBeat(in.State, energy, in.Now, in.Roll, ParamsFrom(in.Config))
	return Output{Energy: energy, Beat: fired, Intensity: intensity, State: state}
}
