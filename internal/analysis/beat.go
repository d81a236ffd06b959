// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"time"

	"reactor/internal/config"
)

// Beat detection constants. Both are perceptual tuning values; callers may
// override AcceptProbability through BeatParams.
const (
	BeatMargin        = 0.1  // Intensity above 1 required at sensitivity 1.
	AcceptProbability = 0.85 // Share of eligible beats that actually fire.
)

// Phase is the detector state between ticks.
type Phase int

const (
	PhaseIdle  Phase = iota // Energy below threshold or in the refractory period.
	PhaseArmed              // Eligible, but the last step did not fire.
	PhaseFired              // Reported only for the step that fired.
)

func (p Phase) String() string {
	switch p {
	case PhaseArmed:
		return "armed"
	case PhaseFired:
		return "fired"
	default:
		return "idle"
	}
}

// DetectorState is the whole memory of a beat detector. It is a value so the
// step function stays pure and can be shipped to a worker and back.
type DetectorState struct {
	Phase    Phase
	LastBeat time.Time
	HasBeat  bool // LastBeat is meaningful.
}

// BeatParams are the tuning inputs of one detection step.
type BeatParams struct {
	Threshold         float64
	Sensitivity       float64
	MinInterval       time.Duration
	AcceptProbability float64
}

// ParamsFrom derives detector parameters from an analyzer config.
func ParamsFrom(c config.AnalyzerConfig) BeatParams {
	return BeatParams{
		Threshold:         c.EnergyThreshold,
		Sensitivity:       c.BeatSensitivity,
		MinInterval:       c.MinBeatInterval(),
		AcceptProbability: AcceptProbability,
	}
}

// FireBar returns the intensity (energy/threshold) a step must exceed to
// fire. Higher sensitivity lowers the bar.
func (p BeatParams) FireBar() float64 {
	return 1 + BeatMargin/p.sensitivity()
}

func (p BeatParams) threshold() float64 {
	if !(p.Threshold >= config.MinEnergyThreshold) {
		return config.MinEnergyThreshold
	}
	return p.Threshold
}

func (p BeatParams) sensitivity() float64 {
	if !(p.Sensitivity >= config.MinBeatSensitivity) {
		return config.MinBeatSensitivity
	}
	return p.Sensitivity
}

// DetectBeat advances the state machine by one tick.
//
//	Idle  -> Armed  energy >= threshold and the refractory period has passed
//	Armed -> Fired  energy/threshold > FireBar() and roll < AcceptProbability
//	Fired -> Idle   on the next step; LastBeat = now is recorded at once
//
// roll is a uniform sample in [0, 1) supplied by the caller. The returned
// intensity is energy/threshold (0 when not armed).
func DetectBeat(s DetectorState, energy float64, now time.Time, roll float64, p BeatParams) (next DetectorState, fired bool, intensity float64) {
	next = s
	next.Phase = PhaseIdle

	if math.IsNaN(energy) || math.IsInf(energy, 0) {
		return next, false, 0
	}

	threshold := p.threshold()
	if energy < threshold {
		return next, false, 0
	}
	if s.HasBeat && now.Sub(s.LastBeat) < p.MinInterval {
		return next, false, 0
	}

	next.Phase = PhaseArmed
	intensity = energy / threshold
	if intensity <= p.FireBar() || roll >= p.AcceptProbability {
		return next, false, intensity
	}

	next.Phase = PhaseFired
	next.LastBeat = now
	next.HasBeat = true
	return next, true, intensity
}
