// SPDX-License-Identifier: MIT
package idle

import (
	"math"
	"time"

	"github.com/charmbracelet/harmonica"

	"reactor/internal/config"
)

// Spring tuning for the eased idle wave. A damping ratio of 1 is critically
// damped: the energy follows the sine without overshooting.
const (
	springFrequency = 6.0
	springDamping   = 1.0
)

// wave produces the synthetic energy sequence, one value per tick.
type wave struct {
	cfg    config.IdleConfig
	spring harmonica.Spring
	pos    float64
	vel    float64
}

func newWave(cfg config.IdleConfig) *wave {
	fps := int(time.Second / max(cfg.TickInterval, time.Millisecond))
	return &wave{
		cfg:    cfg,
		spring: harmonica.NewSpring(harmonica.FPS(max(fps, 1)), springFrequency, springDamping),
		pos:    cfg.Base,
	}
}

// target is the undamped oscillation at elapsed time t.
func (w *wave) target(t time.Duration) float64 {
	if w.cfg.Period <= 0 {
		return w.cfg.Base
	}
	phase := 2 * math.Pi * t.Seconds() / w.cfg.Period.Seconds()
	return w.cfg.Base + w.cfg.Amplitude*math.Sin(phase)
}

// step advances the spring toward the oscillation and returns the clamped
// energy for this tick.
func (w *wave) step(t time.Duration) float64 {
	w.pos, w.vel = w.spring.Update(w.pos, w.vel, w.target(t))
	return math.Max(w.cfg.Min, math.Min(w.cfg.Max, w.pos))
}
