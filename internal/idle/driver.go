// SPDX-License-Identifier: MIT
package idle

import (
	"math/rand/v2"
	"sync"
	"time"

	"reactor/internal/config"
	"reactor/internal/log"
	"reactor/internal/reaction"
)

// Driver keeps the visualization moving while no real audio is active. A
// watchdog decides when to fall back; while active a synthesis loop writes a
// slow bounded energy wave and occasional beats into the store. Real
// playback or real activity preempts the loop immediately.
type Driver struct {
	store *reaction.Store
	cfg   config.IdleConfig
	rand  func() float64
	now   func() time.Time

	mu           sync.Mutex
	running      bool
	stopWatch    chan struct{}
	watchDone    chan struct{}
	unsubscribe  func()
	synth        *synthesis
	playingSince time.Time
	wasPlaying   bool
	activations  int
}

// synthesis is one activation of the synthetic loop.
type synthesis struct {
	gen  uint64
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *synthesis) halt() { s.once.Do(func() { close(s.stop) }) }

// Option configures a Driver.
type Option func(*Driver)

// WithRand replaces the beat roll source, which must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(d *Driver) { d.rand = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// NewDriver returns a stopped driver writing into store.
func NewDriver(store *reaction.Store, cfg config.IdleConfig, opts ...Option) *Driver {
	def := config.DefaultIdle()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	d := &Driver{store: store, cfg: cfg, rand: rand.Float64, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the watchdog. Calling Start on a running driver is a no-op.
func (d *Driver) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopWatch = make(chan struct{})
	d.watchDone = make(chan struct{})
	st := d.store.State()
	d.wasPlaying = st.IsMusicPlaying
	if st.IsMusicPlaying {
		d.playingSince = d.now()
	}
	d.unsubscribe = d.store.Subscribe(d.observe)
	d.mu.Unlock()

	go d.watch(d.stopWatch, d.watchDone)
	log.Debugf("Idle: Watchdog started (poll %v, grace %v)", d.cfg.PollInterval, d.cfg.GracePeriod)
}

// Stop halts the watchdog and any synthesis. It is safe to call repeatedly.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopWatch)
	watchDone := d.watchDone
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	<-watchDone
	d.deactivate()
	log.Debugf("Idle: Watchdog stopped")
}

// Active reports whether synthetic output is running.
func (d *Driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.synth != nil
}

// Activations returns how many synthesis loops have been started.
func (d *Driver) Activations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activations
}

func (d *Driver) watch(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.check()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.check()
		}
	}
}

// check is one watchdog poll. The state and generation are read together;
// if either moves before the fallback takes over, the poll backs off.
func (d *Driver) check() {
	st, gen := d.store.Observe()
	if !st.IsMusicPlaying {
		d.fallback(gen)
		return
	}

	d.mu.Lock()
	silentSince := d.playingSince
	d.mu.Unlock()
	if last := d.store.LastActivity(); last.After(silentSince) {
		silentSince = last
	}
	if d.now().Sub(silentSince) < d.cfg.GracePeriod {
		return
	}
	if st.IsAudioActive {
		log.Infof("Idle: No audio for %v during playback, falling back", d.cfg.GracePeriod)
	}
	d.fallback(gen)
}

// fallback demotes audio activity and starts synthesis, both only while the
// store is still at gen.
func (d *Driver) fallback(gen uint64) {
	if !d.store.DemoteAudio(gen) {
		return
	}
	d.activate(gen)
}

// observe preempts synthesis on real playback or real activity.
func (d *Driver) observe(st reaction.State) {
	d.mu.Lock()
	if st.IsMusicPlaying && !d.wasPlaying {
		d.playingSince = d.now()
	}
	d.wasPlaying = st.IsMusicPlaying
	s := d.synth
	d.mu.Unlock()

	if s == nil {
		return
	}
	if st.IsAudioActive || d.store.Generation() != s.gen {
		s.halt()
	}
}

// activate starts a synthesis loop bound to gen unless one is already
// running or the generation has moved. Synthesize rejects gen once it is
// stale, so a loop started just before playback never writes.
func (d *Driver) activate(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.synth != nil || !d.running || d.store.Generation() != gen {
		return
	}
	s := &synthesis{
		gen:  gen,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	d.synth = s
	d.activations++
	go d.synthesize(s)
	log.Debugf("Idle: Fallback active")
}

// deactivate stops the current synthesis loop and waits for it to exit.
func (d *Driver) deactivate() {
	d.mu.Lock()
	s := d.synth
	d.mu.Unlock()
	if s == nil {
		return
	}
	s.halt()
	<-s.done
}

func (d *Driver) synthesize(s *synthesis) {
	defer func() {
		d.mu.Lock()
		if d.synth == s {
			d.synth = nil
		}
		d.mu.Unlock()
		close(s.done)
		log.Debugf("Idle: Fallback stopped")
	}()

	w := newWave(d.cfg)
	start := d.now()
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		energy := w.step(d.now().Sub(start))
		beat := d.rand() < d.cfg.BeatProbability
		if !d.store.Synthesize(s.gen, energy, beat) {
			return
		}
	}
}
