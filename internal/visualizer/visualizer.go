// SPDX-License-Identifier: MIT

// Package visualizer wires the audio sampler, the analysis scheduler, the
// reaction store, the idle fallback and the effect mapper into the single
// surface a screen embeds: Initialize a source, Start, Stop, and subscribe to
// beats, energy or whole effect frames.
package visualizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reactor/internal/analysis"
	"reactor/internal/audio"
	"reactor/internal/config"
	"reactor/internal/effects"
	"reactor/internal/idle"
	"reactor/internal/log"
	"reactor/internal/profile"
	"reactor/internal/reaction"
	"reactor/internal/scheduler"
	"reactor/internal/transport"
)

// DefaultPositions is the number of addressable tile slots when none is set.
const DefaultPositions = 200

// Config selects the pipeline's structural parameters. Tuning lives in the
// config.Live passed to New.
type Config struct {
	FFTSize       int
	Window        string
	Positions     int // Addressable tile slots used for tile caps.
	Idle          config.IdleConfig
	ProfilesDir   string
	UseWorker     bool
	WorkerTimeout time.Duration
}

// ConfigFrom extracts the pipeline parameters from the application config.
func ConfigFrom(app *config.App) Config {
	return Config{
		FFTSize:       app.Audio.FFTSize,
		Window:        app.Audio.FFTWindow,
		Positions:     DefaultPositions,
		Idle:          app.Idle,
		ProfilesDir:   app.Analysis.ProfilesDir,
		UseWorker:     app.Analysis.UseWorker,
		WorkerTimeout: app.Analysis.WorkerTimeout,
	}
}

// Option configures a Visualizer.
type Option func(*options)

type options struct {
	probe     audio.CapabilityProbe
	idleOpts  []idle.Option
	schedOpts []scheduler.Option
}

// WithProbe sets the platform capability probe run on first attach.
func WithProbe(p audio.CapabilityProbe) Option {
	return func(o *options) { o.probe = p }
}

// WithIdleOptions forwards options to the idle driver.
func WithIdleOptions(opts ...idle.Option) Option {
	return func(o *options) { o.idleOpts = append(o.idleOpts, opts...) }
}

// WithSchedulerOptions forwards options to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.schedOpts = append(o.schedOpts, opts...) }
}

// Visualizer is the embedding surface of the reactive pipeline.
type Visualizer struct {
	settings  *config.Live
	store     *reaction.Store
	actx      *audio.Context
	registry  *audio.Registry
	sampler   *audio.Sampler
	sched     *scheduler.Scheduler
	idle      *idle.Driver
	mapper    *effects.Mapper
	profiles  *profile.Loader
	positions int

	mu         sync.Mutex
	closed     bool
	base       *config.AnalyzerConfig // Analyzer tuning before the track profile.
	track      string
	transports []transport.Transport
	removeTick func()
	removeSub  func()

	framesMu sync.RWMutex
	nextID   int
	frames   map[int]func(effects.Frame)
}

// New builds a stopped pipeline. Nothing touches audio hardware until
// Initialize.
func New(settings *config.Live, cfg Config, opts ...Option) (*Visualizer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	window, err := analysis.ParseWindowFunc(cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("visualizer: %w", err)
	}
	if cfg.FFTSize == 0 {
		cfg.FFTSize = config.DefaultApp().Audio.FFTSize
	}
	if cfg.Positions <= 0 {
		cfg.Positions = DefaultPositions
	}

	v := &Visualizer{
		settings:  settings,
		store:     reaction.NewStore(),
		actx:      audio.NewContext(o.probe),
		registry:  audio.NewRegistry(cfg.FFTSize, window),
		mapper:    effects.NewMapper(settings),
		profiles:  profile.NewLoader(cfg.ProfilesDir),
		positions: cfg.Positions,
		frames:    make(map[int]func(effects.Frame)),
	}
	v.sampler = audio.NewSampler(v.actx, v.registry, func() float64 {
		return settings.Analyzer().SmoothingTimeConstant
	})

	schedOpts := o.schedOpts
	if cfg.UseWorker {
		schedOpts = append([]scheduler.Option{scheduler.WithComputer(scheduler.NewWorker(cfg.WorkerTimeout))}, schedOpts...)
	}
	v.sched = scheduler.New(v.sampler, settings, v.store, schedOpts...)
	v.idle = idle.NewDriver(v.store, cfg.Idle, o.idleOpts...)

	v.removeTick = v.sched.OnTick(v.onTick)
	v.removeSub = v.store.Subscribe(v.onState)
	return v, nil
}

// Initialize attaches src for analysis. On failure the idle driver is
// started so the visualization stays alive, and the error is returned.
func (v *Visualizer) Initialize(src audio.Source) error {
	if err := v.sampler.Attach(src); err != nil {
		log.Warnf("Visualizer: Initialization failed, falling back to idle animation: %v", err)
		v.idle.Start()
		return err
	}
	log.Infof("Visualizer: Attached source %q (%d bins)", src.ID(), v.sampler.Bins())
	return nil
}

// Start begins idle supervision and live analysis. A scheduler start failure
// leaves the idle driver running and is returned.
func (v *Visualizer) Start() error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return &audio.InitializationError{Err: audio.ErrContextClosed}
	}

	v.idle.Start()
	if err := v.sched.Start(); err != nil {
		log.Warnf("Visualizer: Analysis unavailable, idle animation only: %v", err)
		return err
	}
	return nil
}

// Stop halts analysis and idle synthesis. It is safe from any state.
func (v *Visualizer) Stop() {
	v.sched.Stop()
	v.idle.Stop()
	v.store.ResetBeat()
}

// OnBeat registers fn for every beat, real or synthetic.
func (v *Visualizer) OnBeat(fn func(time.Time)) (unsubscribe func()) { return v.store.OnBeat(fn) }

// OnEnergy registers fn for every energy update.
func (v *Visualizer) OnEnergy(fn func(float64)) (unsubscribe func()) { return v.store.OnEnergy(fn) }

// OnFrame registers fn for every effect frame. Frames follow analysis ticks
// while a source is live and store updates while only the idle animation
// runs.
func (v *Visualizer) OnFrame(fn func(effects.Frame)) (unsubscribe func()) {
	v.framesMu.Lock()
	id := v.nextID
	v.nextID++
	v.frames[id] = fn
	v.framesMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.framesMu.Lock()
			delete(v.frames, id)
			v.framesMu.Unlock()
		})
	}
}

// AddTransport publishes every frame through t. Close closes it.
func (v *Visualizer) AddTransport(t transport.Transport) {
	v.mu.Lock()
	v.transports = append(v.transports, t)
	v.mu.Unlock()
	v.OnFrame(transport.FrameSink(t))
}

// LoadTrack applies the profile stored for id over the analyzer tuning in
// effect before any profile. A missing or unreadable profile leaves that
// tuning in place. It returns the applied profile, or nil.
func (v *Visualizer) LoadTrack(id string) *profile.TrackProfile {
	v.mu.Lock()
	if v.base == nil {
		b := v.settings.Analyzer()
		v.base = &b
	}
	base := *v.base
	v.track = id
	v.mu.Unlock()

	p, err := v.profiles.Load(id)
	if err != nil {
		log.Warnf("Visualizer: Ignoring profile for %q: %v", id, err)
		p = nil
	}
	next := profile.Apply(base, p)
	v.settings.UpdateAnalyzer(func(c *config.AnalyzerConfig) { *c = next })

	if p == nil {
		// Later UI edits become the new base.
		v.mu.Lock()
		v.base = nil
		v.mu.Unlock()
		log.Debugf("Visualizer: No profile for %q, using current tuning", id)
		return nil
	}
	log.Infof("Visualizer: Applied profile %q (threshold %.3f, sensitivity %.2f)",
		id, next.EnergyThreshold, next.BeatSensitivity)
	return p
}

// Track returns the identity passed to the last LoadTrack.
func (v *Visualizer) Track() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.track
}

// SetMusicPlaying reports whether the host is playing music.
func (v *Visualizer) SetMusicPlaying(playing bool) { v.store.SetMusicPlaying(playing) }

// Settings returns the live tuning shared by every component.
func (v *Visualizer) Settings() *config.Live { return v.settings }

// State returns the current reaction state.
func (v *Visualizer) State() reaction.State { return v.store.State() }

// Store returns the reaction store for read access and subscription.
func (v *Visualizer) Store() *reaction.Store { return v.store }

// Profiles returns the track profile loader.
func (v *Visualizer) Profiles() *profile.Loader { return v.profiles }

// Idle reports whether the idle animation is driving the store.
func (v *Visualizer) Idle() bool { return v.idle.Active() }

// Ticks returns the number of completed analysis ticks.
func (v *Visualizer) Ticks() int64 { return v.sched.Ticks() }

// DetectTempo analyses the whole attached track without stalling ticks.
func (v *Visualizer) DetectTempo(ctx context.Context) (analysis.Tempo, error) {
	return v.sched.DetectTempo(ctx)
}

// GuessBeat estimates tempo and beat phase of the attached track.
func (v *Visualizer) GuessBeat(ctx context.Context) (analysis.BeatGuess, error) {
	return v.sched.GuessBeat(ctx)
}

// Close stops the pipeline and releases the analysis graph and transports.
func (v *Visualizer) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	ts := v.transports
	v.transports = nil
	v.mu.Unlock()

	v.Stop()
	v.removeTick()
	v.removeSub()
	v.sampler.Detach()

	var errs []error
	if err := v.sched.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := transport.Fanout(ts).Close(); err != nil {
		errs = append(errs, err)
	}
	v.store.Close()
	if err := v.actx.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Debugf("Visualizer: Closed (graphs built %d, released %d)", v.registry.Built(), v.registry.Released())
	return errors.Join(errs...)
}

// onTick maps every analysis tick to a frame.
func (v *Visualizer) onTick(t scheduler.Tick) {
	v.emit(v.mapper.Map(t.Time, t.State, v.positions))
}

// onState maps store updates to frames while no analysis tick is flowing.
func (v *Visualizer) onState(st reaction.State) {
	if v.sched.Running() && v.sampler.Attached() {
		return
	}
	if !v.idle.Active() {
		return
	}
	v.emit(v.mapper.Map(time.Now(), st, v.positions))
}

func (v *Visualizer) emit(f effects.Frame) {
	v.framesMu.RLock()
	fns := make([]func(effects.Frame), 0, len(v.frames))
	for _, fn := range v.frames {
		fns = append(fns, fn)
	}
	v.framesMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorfr("visualizer-frame", log.DefaultInterval, "Visualizer: Frame listener panicked: %v", r)
				}
			}()
			fn(f)
		}()
	}
}
