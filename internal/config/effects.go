// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"strings"
	"time"
)

// EffectKind names one visual effect family. Each kind has independent
// reactivity tuning.
type EffectKind int

const (
	EffectColor EffectKind = iota
	EffectGlitch
	EffectBackground
	EffectVeins
	EffectTiles
)

// EffectKinds lists every kind in a stable order.
var EffectKinds = []EffectKind{EffectColor, EffectGlitch, EffectBackground, EffectVeins, EffectTiles}

// String returns the JSON section name for the kind.
func (k EffectKind) String() string {
	switch k {
	case EffectColor:
		return "color"
	case EffectGlitch:
		return "glitch"
	case EffectBackground:
		return "background"
	case EffectVeins:
		return "veins"
	case EffectTiles:
		return "tiles"
	default:
		return "unknown"
	}
}

// ParseEffectKind converts a section name (case-insensitive) to an EffectKind.
func ParseEffectKind(name string) (EffectKind, error) {
	for _, k := range EffectKinds {
		if strings.EqualFold(name, k.String()) {
			return k, nil
		}
	}
	return EffectColor, fmt.Errorf("unknown effect kind: '%s'", name)
}

// Effect tuning ranges.
const (
	MaxEffectSensitivity = 5.0
	MaxEffectCooldownMs  = 10000.0
	MinEffectDurationMs  = 16.0
	MaxEffectDurationMs  = 10000.0
	MaxEffectCount       = 256
)

// EffectConfig is the persisted reactivity tuning of one effect kind. The
// transient trigger state lives in effects.Tracker and is never persisted.
type EffectConfig struct {
	EnergyThreshold   float64 `json:"energyThreshold"`   // Gate below which the effect stays idle.
	EnergySensitivity float64 `json:"energySensitivity"` // Multiplier on the energy response curve.
	ReactsToBeats     bool    `json:"reactsToBeats"`
	BeatSensitivity   float64 `json:"beatSensitivity"` // Scales the additive beat boost.
	CooldownMs        float64 `json:"cooldownMs"`
	DurationMs        float64 `json:"durationMs"`
	MaxPercent        float64 `json:"maxPercent"` // Cap as a fraction of addressable positions.
	MaxCount          int     `json:"maxCount"`   // Absolute cap for counted effects.
}

// Cooldown returns the retrigger guard as a duration.
func (c EffectConfig) Cooldown() time.Duration {
	return msDuration(c.CooldownMs)
}

// Duration returns the base active duration.
func (c EffectConfig) Duration() time.Duration {
	return msDuration(c.DurationMs)
}

// Clamp bounds every field to its safe range in place.
func (c *EffectConfig) Clamp(def EffectConfig) {
	c.EnergyThreshold = clamp(c.EnergyThreshold, 0, 0.99, def.EnergyThreshold)
	c.EnergySensitivity = clamp(c.EnergySensitivity, 0, MaxEffectSensitivity, def.EnergySensitivity)
	c.BeatSensitivity = clamp(c.BeatSensitivity, 0, MaxEffectSensitivity, def.BeatSensitivity)
	c.CooldownMs = clamp(c.CooldownMs, 0, MaxEffectCooldownMs, def.CooldownMs)
	c.DurationMs = clamp(c.DurationMs, MinEffectDurationMs, MaxEffectDurationMs, def.DurationMs)
	c.MaxPercent = clamp(c.MaxPercent, 0, 1, def.MaxPercent)
	if c.MaxCount < 0 {
		c.MaxCount = 0
	}
	if c.MaxCount > MaxEffectCount {
		c.MaxCount = MaxEffectCount
	}
}

func (c EffectConfig) validate(name string, chk *fieldCheck) {
	chk.inRange(name+".energyThreshold", c.EnergyThreshold, 0, 0.99)
	chk.inRange(name+".energySensitivity", c.EnergySensitivity, 0, MaxEffectSensitivity)
	chk.inRange(name+".beatSensitivity", c.BeatSensitivity, 0, MaxEffectSensitivity)
	chk.inRange(name+".cooldownMs", c.CooldownMs, 0, MaxEffectCooldownMs)
	chk.inRange(name+".durationMs", c.DurationMs, MinEffectDurationMs, MaxEffectDurationMs)
	chk.inRange(name+".maxPercent", c.MaxPercent, 0, 1)
	chk.inRange(name+".maxCount", float64(c.MaxCount), 0, MaxEffectCount)
}

// EffectsConfig holds one section per effect kind. Named fields rather than a
// map keep partial JSON imports merging field-by-field over the defaults.
type EffectsConfig struct {
	Color      EffectConfig `json:"color"`
	Glitch     EffectConfig `json:"glitch"`
	Background EffectConfig `json:"background"`
	Veins      EffectConfig `json:"veins"`
	Tiles      EffectConfig `json:"tiles"`
}

// DefaultEffects returns the compiled-in per-kind tuning.
func DefaultEffects() EffectsConfig {
	return EffectsConfig{
		Color: EffectConfig{
			EnergyThreshold: 0.25, EnergySensitivity: 1.0,
			ReactsToBeats: true, BeatSensitivity: 1.0,
			CooldownMs: 400, DurationMs: 300,
		},
		Glitch: EffectConfig{
			EnergyThreshold: 0.35, EnergySensitivity: 1.2,
			ReactsToBeats: true, BeatSensitivity: 1.5,
			CooldownMs: 250, DurationMs: 150,
			MaxCount: 12,
		},
		Background: EffectConfig{
			EnergyThreshold: 0.15, EnergySensitivity: 0.8,
			ReactsToBeats: false, BeatSensitivity: 0,
			CooldownMs: 1000, DurationMs: 800,
		},
		Veins: EffectConfig{
			EnergyThreshold: 0.3, EnergySensitivity: 1.0,
			ReactsToBeats: true, BeatSensitivity: 1.0,
			CooldownMs: 500, DurationMs: 600,
			MaxCount: 8,
		},
		Tiles: EffectConfig{
			EnergyThreshold: 0.2, EnergySensitivity: 1.0,
			ReactsToBeats: true, BeatSensitivity: 1.2,
			CooldownMs: 200, DurationMs: 250,
			MaxPercent: 0.4,
		},
	}
}

// Get returns the section for kind.
func (e EffectsConfig) Get(kind EffectKind) EffectConfig {
	switch kind {
	case EffectGlitch:
		return e.Glitch
	case EffectBackground:
		return e.Background
	case EffectVeins:
		return e.Veins
	case EffectTiles:
		return e.Tiles
	default:
		return e.Color
	}
}

// ptr returns the address of the section for kind.
func (e *EffectsConfig) ptr(kind EffectKind) *EffectConfig {
	switch kind {
	case EffectGlitch:
		return &e.Glitch
	case EffectBackground:
		return &e.Background
	case EffectVeins:
		return &e.Veins
	case EffectTiles:
		return &e.Tiles
	default:
		return &e.Color
	}
}

// Clamp bounds every section in place.
func (e *EffectsConfig) Clamp() {
	def := DefaultEffects()
	for _, k := range EffectKinds {
		e.ptr(k).Clamp(def.Get(k))
	}
}

func (e EffectsConfig) validate(chk *fieldCheck) {
	for _, k := range EffectKinds {
		e.Get(k).validate("effects."+k.String(), chk)
	}
}
