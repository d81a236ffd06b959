// SPDX-License-Identifier: MIT
package effects

import (
	"time"

	"reactor/internal/config"
)

// Phase is the trigger state of one effect kind.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseActive
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Tracker holds the transient trigger state of one effect kind. It is
// advanced by the analysis tick clock, never by its own timers. Expired is
// visible for exactly one step before the tracker returns to Idle.
type Tracker struct {
	Kind          config.EffectKind
	Phase         Phase
	LastTriggered time.Time
	ActiveUntil   time.Time
	Intensity     float64
}

// Step advances the tracker to now and reports whether it triggered. A
// trigger needs a positive intensity and the cooldown to have elapsed since
// the previous trigger.
func (t *Tracker) Step(now time.Time, intensity float64, cfg config.EffectConfig) bool {
	switch t.Phase {
	case PhaseExpired:
		t.Phase = PhaseIdle
	case PhaseActive:
		if !now.Before(t.ActiveUntil) {
			t.Phase = PhaseExpired
			t.Intensity = 0
		}
	}

	if intensity <= 0 || !t.ready(now, cfg) {
		return false
	}
	t.Phase = PhaseActive
	t.LastTriggered = now
	t.ActiveUntil = now.Add(ScaledDuration(intensity, cfg))
	t.Intensity = intensity
	return true
}

// Active reports whether the effect is running at now.
func (t *Tracker) Active(now time.Time) bool {
	return t.Phase == PhaseActive && now.Before(t.ActiveUntil)
}

func (t *Tracker) ready(now time.Time, cfg config.EffectConfig) bool {
	return t.LastTriggered.IsZero() || now.Sub(t.LastTriggered) >= cfg.Cooldown()
}
