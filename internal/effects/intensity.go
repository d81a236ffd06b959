// SPDX-License-Identifier: MIT
package effects

import (
	"math"
	"time"

	"reactor/internal/config"
)

// Response curve tuning. These values are perceptual and were tuned by eye;
// override them through Curve rather than changing the math.
const (
	CurveExponent    = 0.5 // Square-root response.
	BeatBoost        = 0.3 // Added per unit of beat sensitivity on a beat.
	MaxDurationScale = 2.0 // Loudest triggers last at most twice the base duration.
)

// Curve maps gated energy to intensity.
type Curve struct {
	Exponent  float64
	BeatBoost float64
}

// DefaultCurve is the square-root curve with the standard beat boost.
var DefaultCurve = Curve{Exponent: CurveExponent, BeatBoost: BeatBoost}

// Intensity evaluates the default curve.
func Intensity(energy float64, beat bool, cfg config.EffectConfig, level float64) float64 {
	return DefaultCurve.Intensity(energy, beat, cfg, level)
}

// Intensity returns the effect strength in [0, 1]. Energy below the kind's
// threshold yields 0 unless a beat arrives for a beat-reactive kind. Above
// the gate the normalised energy follows the curve, scaled by the kind's
// sensitivity and the level knob.
func (c Curve) Intensity(energy float64, beat bool, cfg config.EffectConfig, level float64) float64 {
	if !finite(energy) || !finite(level) || level <= 0 {
		return 0
	}
	boosted := beat && cfg.ReactsToBeats
	if energy < cfg.EnergyThreshold && !boosted {
		return 0
	}

	var v float64
	if span := 1 - cfg.EnergyThreshold; span > 0 && energy > cfg.EnergyThreshold {
		norm := math.Min((energy-cfg.EnergyThreshold)/span, 1)
		exp := c.Exponent
		if !(exp > 0) {
			exp = CurveExponent
		}
		v = math.Pow(norm, exp) * cfg.EnergySensitivity
	}
	if boosted {
		v += c.BeatBoost * cfg.BeatSensitivity
	}
	return clamp01(v * level)
}

// TileCount returns how many of positions tiles light up. It never exceeds
// MaxPercent of positions.
func TileCount(intensity float64, positions int, cfg config.EffectConfig) int {
	if positions <= 0 {
		return 0
	}
	limit := int(math.Floor(cfg.MaxPercent * float64(positions)))
	return scaledCount(intensity, limit)
}

// GlitchCount returns the number of glitch slices, at most cfg.MaxCount.
func GlitchCount(intensity float64, cfg config.EffectConfig) int {
	return scaledCount(intensity, cfg.MaxCount)
}

// VeinCount returns the number of veins drawn, at most cfg.MaxCount.
func VeinCount(intensity float64, cfg config.EffectConfig) int {
	return scaledCount(intensity, cfg.MaxCount)
}

// ColorEligible reports whether a color change may fire at this intensity.
func ColorEligible(intensity float64) bool {
	return intensity > 0
}

// ScaledDuration stretches the base duration with intensity, up to
// MaxDurationScale times the base.
func ScaledDuration(intensity float64, cfg config.EffectConfig) time.Duration {
	scale := 1 + clamp01(intensity)*(MaxDurationScale-1)
	return time.Duration(float64(cfg.Duration()) * scale)
}

func scaledCount(intensity float64, limit int) int {
	if limit <= 0 {
		return 0
	}
	n := int(math.Round(clamp01(intensity) * float64(limit)))
	return min(max(n, 0), limit)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	return math.Min(v, 1)
}
