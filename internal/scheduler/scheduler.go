// SPDX-License-Identifier: MIT
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"reactor/internal/analysis"
	"reactor/internal/audio"
	"reactor/internal/config"
	"reactor/internal/log"
	"reactor/internal/reaction"
)

// Sampler is the part of audio.Sampler the scheduler depends on.
type Sampler interface {
	Sample() analysis.FrequencySnapshot
	Source() audio.Source
	Context() *audio.Context
}

var _ Sampler = (*audio.Sampler)(nil)

// Tick is what listeners receive after the store has absorbed a tick.
type Tick struct {
	Time      time.Time
	Energy    float64 // Raw estimator output.
	Beat      bool
	Intensity float64
	State     reaction.State
}

// Scheduler drives the live analysis loop: each tick samples the spectrum,
// computes energy and beat, writes both to the store and then notifies tick
// listeners, in that order.
type Scheduler struct {
	sampler  Sampler
	settings *config.Live
	store    *reaction.Store
	computer Computer
	rand     func() float64
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	doneChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	detector analysis.DetectorState // Owned by the loop goroutine.
	ticks    atomic.Int64

	listenersMu sync.RWMutex
	nextID      int
	listeners   map[int]func(Tick)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithComputer selects the compute transport. The default is InProcess.
func WithComputer(c Computer) Option {
	return func(s *Scheduler) { s.computer = c }
}

// WithRand replaces the source of beat damping rolls.
func WithRand(fn func() float64) Option {
	return func(s *Scheduler) { s.rand = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a stopped scheduler.
func New(sampler Sampler, settings *config.Live, store *reaction.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		sampler:   sampler,
		settings:  settings,
		store:     store,
		computer:  InProcess{},
		rand:      rand.Float64,
		now:       time.Now,
		listeners: make(map[int]func(Tick)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnTick registers fn to run after every tick. fn runs on the loop goroutine.
func (s *Scheduler) OnTick(fn func(Tick)) (remove func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Start resumes the audio context and begins ticking. It is a no-op while
// running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Debugf("Scheduler: Start called but already running")
		return nil
	}
	if ctx := s.sampler.Context(); ctx != nil {
		if err := ctx.Resume(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.doneChan = make(chan struct{})
	s.cancel = cancel
	doneChan := s.doneChan

	s.wg.Add(1)
	go s.loop(ctx, doneChan)
	log.Infof("Scheduler: Started (interval %v)", s.interval())
	return nil
}

// Stop halts the loop. An in-flight tick completes; no further tick starts.
// Stop is safe to call from any state and more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.doneChan)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	log.Infof("Scheduler: Stopped after %d ticks", s.ticks.Load())
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() int64 { return s.ticks.Load() }

// Close stops the loop and the compute transport.
func (s *Scheduler) Close() error {
	s.Stop()
	return s.computer.Close()
}

// interval is the current tick period, re-read from the live settings.
func (s *Scheduler) interval() time.Duration {
	d := s.settings.Analyzer().AnalyzeInterval()
	if floor := time.Duration(config.MinAnalyzeIntervalMs * float64(time.Millisecond)); d < floor {
		d = floor
	}
	return d
}

func (s *Scheduler) loop(ctx context.Context, doneChan chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-doneChan:
			return
		case <-timer.C:
		}
		s.tick(ctx)
		timer.Reset(s.interval())
	}
}

// tick runs one analysis step. Panics are logged and swallowed so the loop
// survives momentary failures.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorfr("scheduler-tick", log.DefaultInterval, "Scheduler: Tick failed: %v", r)
		}
	}()

	snap := s.sampler.Sample()
	if len(snap) == 0 {
		// Nothing attached.
		return
	}

	now := s.now()
	in := analysis.Input{
		Snapshot: snap,
		Config:   s.settings.Analyzer(),
		State:    s.detector,
		Now:      now,
		Roll:     s.rand(),
	}
	out := withFallback(ctx, s.computer, in)
	s.detector = out.State

	// Sub-floor energy from an inactive source carries no information and
	// would fight the idle driver for the store.
	if out.Energy > reaction.NoiseFloor || s.store.State().IsAudioActive {
		s.store.UpdateEnergy(out.Energy)
	}
	if out.Beat {
		s.store.TriggerBeat(now)
	}
	s.ticks.Add(1)

	t := Tick{
		Time:      now,
		Energy:    out.Energy,
		Beat:      out.Beat,
		Intensity: out.Intensity,
		State:     s.store.State(),
	}
	s.listenersMu.RLock()
	fns := make([]func(Tick), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()
	for _, fn := range fns {
		s.notify(fn, t)
	}
}

func (s *Scheduler) notify(fn func(Tick), t Tick) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorfr("scheduler-listener", log.DefaultInterval, "Scheduler: Tick listener panicked: %v", r)
		}
	}()
	fn(t)
}

// offline decodes the attached source for a one-shot analysis.
func (s *Scheduler) offline(ctx context.Context, op string) ([]float32, float64, error) {
	src := s.sampler.Source()
	if src == nil {
		return nil, 0, &analysis.AnalysisError{Op: op, Err: fmt.Errorf("no source attached: %w", analysis.ErrNoDecoding)}
	}
	buffered, ok := src.(audio.Buffered)
	if !ok {
		return nil, 0, &analysis.AnalysisError{Op: op, Err: analysis.ErrNoDecoding}
	}
	pcm, err := buffered.Decode(ctx)
	if err != nil {
		return nil, 0, &analysis.AnalysisError{Op: op, Err: err}
	}
	return pcm, src.SampleRate(), nil
}

// DetectTempo estimates the tempo of the whole attached track. It runs on
// the caller's goroutine, independent of the tick loop.
func (s *Scheduler) DetectTempo(ctx context.Context) (analysis.Tempo, error) {
	pcm, sr, err := s.offline(ctx, "detect tempo")
	if err != nil {
		return analysis.Tempo{}, err
	}
	return analysis.DetectTempo(ctx, pcm, sr)
}

// GuessBeat estimates the tempo and beat phase of the whole attached track.
func (s *Scheduler) GuessBeat(ctx context.Context) (analysis.BeatGuess, error) {
	pcm, sr, err := s.offline(ctx, "guess beat")
	if err != nil {
		return analysis.BeatGuess{}, err
	}
	return analysis.GuessBeat(ctx, pcm, sr)
}
