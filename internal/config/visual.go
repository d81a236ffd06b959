// SPDX-License-Identifier: MIT
package config

import "github.com/lucasb-eyer/go-colorful"

// Level knob range. A level of 1 leaves an effect at its tuned strength, 0
// disables it and 3 triples its count (still subject to the caps).
const (
	DefaultLevel = 1.0
	MaxLevel     = 3.0
)

// DefaultPalette is the sword glow gradient, cold steel to ember.
var DefaultPalette = []string{"#8fb8de", "#c6e2ff", "#ffffff", "#ffd27f", "#ff7b39", "#ff2e4c"}

// VisualConfig holds the per-visual-parameter section: level knobs and the
// color palette handed to the renderer.
type VisualConfig struct {
	ColorLevel      float64  `json:"colorLevel"`
	GlitchLevel     float64  `json:"glitchLevel"`
	BackgroundLevel float64  `json:"backgroundLevel"`
	VeinLevel       float64  `json:"veinLevel"`
	TileLevel       float64  `json:"tileLevel"`
	Palette         []string `json:"palette"`
}

// DefaultVisual returns the compiled-in visual parameters.
func DefaultVisual() VisualConfig {
	return VisualConfig{
		ColorLevel:      DefaultLevel,
		GlitchLevel:     DefaultLevel,
		BackgroundLevel: DefaultLevel,
		VeinLevel:       DefaultLevel,
		TileLevel:       DefaultLevel,
		Palette:         append([]string(nil), DefaultPalette...),
	}
}

// Level returns the knob for kind.
func (v VisualConfig) Level(kind EffectKind) float64 {
	switch kind {
	case EffectGlitch:
		return v.GlitchLevel
	case EffectBackground:
		return v.BackgroundLevel
	case EffectVeins:
		return v.VeinLevel
	case EffectTiles:
		return v.TileLevel
	default:
		return v.ColorLevel
	}
}

// Colors parses the palette. Entries that are not valid hex colors are
// skipped; an empty result falls back to DefaultPalette.
func (v VisualConfig) Colors() []colorful.Color {
	out := make([]colorful.Color, 0, len(v.Palette))
	for _, hex := range v.Palette {
		if c, err := colorful.Hex(hex); err == nil {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		for _, hex := range DefaultPalette {
			c, _ := colorful.Hex(hex)
			out = append(out, c)
		}
	}
	return out
}

// Clamp bounds the level knobs in place.
func (v *VisualConfig) Clamp() {
	v.ColorLevel = clamp(v.ColorLevel, 0, MaxLevel, DefaultLevel)
	v.GlitchLevel = clamp(v.GlitchLevel, 0, MaxLevel, DefaultLevel)
	v.BackgroundLevel = clamp(v.BackgroundLevel, 0, MaxLevel, DefaultLevel)
	v.VeinLevel = clamp(v.VeinLevel, 0, MaxLevel, DefaultLevel)
	v.TileLevel = clamp(v.TileLevel, 0, MaxLevel, DefaultLevel)
	if len(v.Palette) == 0 {
		v.Palette = append([]string(nil), DefaultPalette...)
	}
}

func (v VisualConfig) validate(chk *fieldCheck) {
	chk.inRange("visual.colorLevel", v.ColorLevel, 0, MaxLevel)
	chk.inRange("visual.glitchLevel", v.GlitchLevel, 0, MaxLevel)
	chk.inRange("visual.backgroundLevel", v.BackgroundLevel, 0, MaxLevel)
	chk.inRange("visual.veinLevel", v.VeinLevel, 0, MaxLevel)
	chk.inRange("visual.tileLevel", v.TileLevel, 0, MaxLevel)
}
