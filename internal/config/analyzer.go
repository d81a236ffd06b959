// SPDX-License-Identifier: MIT
package config

import "time"

// Analyzer tuning defaults and safe ranges. Every write goes through Clamp so
// the analysis math never sees a zero threshold or a runaway interval.
const (
	DefaultAnalyzeIntervalMs     = 50.0
	DefaultEnergyThreshold       = 0.2
	DefaultBeatSensitivity       = 1.0
	DefaultSmoothingTimeConstant = 0.8
	DefaultMinBeatIntervalMs     = 150.0
	DefaultBassWeight            = 1.5
	DefaultMidWeight             = 1.0
	DefaultHighWeight            = 0.5

	MinAnalyzeIntervalMs = 16.0
	MaxAnalyzeIntervalMs = 1000.0
	MinEnergyThreshold   = 0.01
	MaxEnergyThreshold   = 0.95
	MinBeatSensitivity   = 0.1
	MaxBeatSensitivity   = 5.0
	MaxSmoothing         = 0.99
	MinBeatIntervalMs    = 50.0
	MaxBeatIntervalMs    = 2000.0
	MaxBandWeight        = 5.0
)

// AnalyzerConfig is the live tuning record read by every analysis tick.
type AnalyzerConfig struct {
	AnalyzeIntervalMs     float64 `json:"analyzeIntervalMs"`     // Tick cadence floor.
	EnergyThreshold       float64 `json:"energyThreshold"`       // Energy (0-1) above which beats may fire.
	BeatSensitivity       float64 `json:"beatSensitivity"`       // Higher values lower the bar for firing.
	SmoothingTimeConstant float64 `json:"smoothingTimeConstant"` // Temporal smoothing of the spectrum.
	MinBeatIntervalMs     float64 `json:"minBeatIntervalMs"`     // Refractory period between beats.
	BassWeight            float64 `json:"bassWeight"`
	MidWeight             float64 `json:"midWeight"`
	HighWeight            float64 `json:"highWeight"`
}

// DefaultAnalyzer returns the compiled-in analyzer tuning.
func DefaultAnalyzer() AnalyzerConfig {
	return AnalyzerConfig{
		AnalyzeIntervalMs:     DefaultAnalyzeIntervalMs,
		EnergyThreshold:       DefaultEnergyThreshold,
		BeatSensitivity:       DefaultBeatSensitivity,
		SmoothingTimeConstant: DefaultSmoothingTimeConstant,
		MinBeatIntervalMs:     DefaultMinBeatIntervalMs,
		BassWeight:            DefaultBassWeight,
		MidWeight:             DefaultMidWeight,
		HighWeight:            DefaultHighWeight,
	}
}

// Clamp bounds every field to its safe range in place.
func (c *AnalyzerConfig) Clamp() {
	c.AnalyzeIntervalMs = clamp(c.AnalyzeIntervalMs, MinAnalyzeIntervalMs, MaxAnalyzeIntervalMs, DefaultAnalyzeIntervalMs)
	c.EnergyThreshold = clamp(c.EnergyThreshold, MinEnergyThreshold, MaxEnergyThreshold, DefaultEnergyThreshold)
	c.BeatSensitivity = clamp(c.BeatSensitivity, MinBeatSensitivity, MaxBeatSensitivity, DefaultBeatSensitivity)
	c.SmoothingTimeConstant = clamp(c.SmoothingTimeConstant, 0, MaxSmoothing, DefaultSmoothingTimeConstant)
	c.MinBeatIntervalMs = clamp(c.MinBeatIntervalMs, MinBeatIntervalMs, MaxBeatIntervalMs, DefaultMinBeatIntervalMs)
	c.BassWeight = clamp(c.BassWeight, 0, MaxBandWeight, DefaultBassWeight)
	c.MidWeight = clamp(c.MidWeight, 0, MaxBandWeight, DefaultMidWeight)
	c.HighWeight = clamp(c.HighWeight, 0, MaxBandWeight, DefaultHighWeight)
}

func (c AnalyzerConfig) validate(chk *fieldCheck) {
	chk.inRange("analyzer.analyzeIntervalMs", c.AnalyzeIntervalMs, MinAnalyzeIntervalMs, MaxAnalyzeIntervalMs)
	chk.inRange("analyzer.energyThreshold", c.EnergyThreshold, MinEnergyThreshold, MaxEnergyThreshold)
	chk.inRange("analyzer.beatSensitivity", c.BeatSensitivity, MinBeatSensitivity, MaxBeatSensitivity)
	chk.inRange("analyzer.smoothingTimeConstant", c.SmoothingTimeConstant, 0, MaxSmoothing)
	chk.inRange("analyzer.minBeatIntervalMs", c.MinBeatIntervalMs, MinBeatIntervalMs, MaxBeatIntervalMs)
	chk.inRange("analyzer.bassWeight", c.BassWeight, 0, MaxBandWeight)
	chk.inRange("analyzer.midWeight", c.MidWeight, 0, MaxBandWeight)
	chk.inRange("analyzer.highWeight", c.HighWeight, 0, MaxBandWeight)
}

// AnalyzeInterval returns the tick cadence as a duration.
func (c AnalyzerConfig) AnalyzeInterval() time.Duration {
	return msDuration(c.AnalyzeIntervalMs)
}

// MinBeatInterval returns the refractory period as a duration.
func (c AnalyzerConfig) MinBeatInterval() time.Duration {
	return msDuration(c.MinBeatIntervalMs)
}

// AnalyzerOverride is a partial AnalyzerConfig. Nil fields keep the base value.
// Track profiles carry one of these.
type AnalyzerOverride struct {
	AnalyzeIntervalMs     *float64 `json:"analyzeIntervalMs,omitempty"`
	EnergyThreshold       *float64 `json:"energyThreshold,omitempty"`
	BeatSensitivity       *float64 `json:"beatSensitivity,omitempty"`
	SmoothingTimeConstant *float64 `json:"smoothingTimeConstant,omitempty"`
	MinBeatIntervalMs     *float64 `json:"minBeatIntervalMs,omitempty"`
	BassWeight            *float64 `json:"bassWeight,omitempty"`
	MidWeight             *float64 `json:"midWeight,omitempty"`
	HighWeight            *float64 `json:"highWeight,omitempty"`
}

// Apply returns base with the override's set fields replaced, clamped.
func (o AnalyzerOverride) Apply(base AnalyzerConfig) AnalyzerConfig {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.AnalyzeIntervalMs, o.AnalyzeIntervalMs)
	set(&base.EnergyThreshold, o.EnergyThreshold)
	set(&base.BeatSensitivity, o.BeatSensitivity)
	set(&base.SmoothingTimeConstant, o.SmoothingTimeConstant)
	set(&base.MinBeatIntervalMs, o.MinBeatIntervalMs)
	set(&base.BassWeight, o.BassWeight)
	set(&base.MidWeight, o.MidWeight)
	set(&base.HighWeight, o.HighWeight)
	base.Clamp()
	return base
}

// IsZero reports whether the override sets nothing.
func (o AnalyzerOverride) IsZero() bool {
	return o == AnalyzerOverride{}
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
