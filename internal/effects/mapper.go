// SPDX-License-Identifier: MIT
package effects

import (
	"slices"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"reactor/internal/config"
	"reactor/internal/reaction"
)

// ColorHandle names the color the renderer should use this tick.
type ColorHandle struct {
	Index   int    `json:"index"`   // Palette entry the color is based on.
	Hex     string `json:"hex"`     // Entry blended toward the next by intensity.
	Changed bool   `json:"changed"` // A color change fired this tick.
}

// EffectState is the per-kind trigger state exposed in a frame.
type EffectState struct {
	Kind      string  `json:"kind"`
	Phase     string  `json:"phase"`
	Intensity float64 `json:"intensity"`
	Triggered bool    `json:"triggered"`
}

// Frame is the bounded description of one tick's effects.
type Frame struct {
	Time            time.Time     `json:"time"`
	Energy          float64       `json:"energy"`
	Beat            bool          `json:"beat"`
	AudioActive     bool          `json:"audioActive"`
	Tiles           int           `json:"tiles"`
	Glitches        int           `json:"glitches"`
	GlitchDuration  time.Duration `json:"glitchDurationNs"`
	Veins           int           `json:"veins"`
	BackgroundShift float64       `json:"backgroundShift"`
	Color           ColorHandle   `json:"color"`
	Effects         []EffectState `json:"effects"`
}

// Mapper turns reaction state into frames. Tuning is read from the live
// settings on every call; trigger state is kept per kind.
type Mapper struct {
	live  *config.Live
	curve Curve

	mu       sync.Mutex
	trackers []Tracker
	color    int

	palette []string
	colors  []colorful.Color
}

// NewMapper returns a mapper reading tuning from live.
func NewMapper(live *config.Live) *Mapper {
	m := &Mapper{live: live, curve: DefaultCurve}
	m.trackers = make([]Tracker, len(config.EffectKinds))
	for i, k := range config.EffectKinds {
		m.trackers[i].Kind = k
	}
	return m
}

// SetCurve replaces the response curve.
func (m *Mapper) SetCurve(c Curve) {
	m.mu.Lock()
	m.curve = c
	m.mu.Unlock()
}

// Map advances every tracker to now and describes the effects for positions
// addressable tile slots.
func (m *Mapper) Map(now time.Time, st reaction.State, positions int) Frame {
	effects := m.live.Effects()
	visual := m.live.Visual()

	m.mu.Lock()
	defer m.mu.Unlock()

	frame := Frame{
		Time:        now,
		Energy:      st.Energy,
		Beat:        st.BeatDetected,
		AudioActive: st.IsAudioActive,
		Effects:     make([]EffectState, len(m.trackers)),
	}
	var colorIntensity float64
	var colorChanged bool

	for i := range m.trackers {
		tr := &m.trackers[i]
		cfg := effects.Get(tr.Kind)
		intensity := m.curve.Intensity(st.Energy, st.BeatDetected, cfg, visual.Level(tr.Kind))
		triggered := tr.Step(now, intensity, cfg)
		active := tr.Active(now)

		frame.Effects[i] = EffectState{
			Kind:      tr.Kind.String(),
			Phase:     tr.Phase.String(),
			Intensity: tr.Intensity,
			Triggered: triggered,
		}
		if !active {
			continue
		}

		switch tr.Kind {
		case config.EffectTiles:
			frame.Tiles = TileCount(tr.Intensity, positions, cfg)
		case config.EffectGlitch:
			frame.Glitches = GlitchCount(tr.Intensity, cfg)
			frame.GlitchDuration = tr.ActiveUntil.Sub(tr.LastTriggered)
		case config.EffectVeins:
			frame.Veins = VeinCount(tr.Intensity, cfg)
		case config.EffectBackground:
			frame.BackgroundShift = tr.Intensity
		case config.EffectColor:
			colorIntensity = tr.Intensity
			if triggered && ColorEligible(tr.Intensity) {
				m.color++
				colorChanged = true
			}
		}
	}

	frame.Color = m.colorHandle(visual, colorChanged, colorIntensity)
	return frame
}

// Trackers returns a copy of the per-kind trigger state.
func (m *Mapper) Trackers() []Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.trackers)
}

// colorHandle blends the current palette entry toward the next one by
// intensity. Parsed colors are cached until the palette changes.
func (m *Mapper) colorHandle(visual config.VisualConfig, changed bool, intensity float64) ColorHandle {
	if m.colors == nil || !slices.Equal(m.palette, visual.Palette) {
		m.palette = visual.Palette
		m.colors = visual.Colors()
	}
	n := len(m.colors)
	idx := m.color % n
	from, to := m.colors[idx], m.colors[(idx+1)%n]
	return ColorHandle{
		Index:   idx,
		Hex:     from.BlendLab(to, clamp01(intensity)).Clamped().Hex(),
		Changed: changed,
	}
}
