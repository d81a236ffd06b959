// SPDX-License-Identifier: MIT
package reaction

import (
	"sync"
	"time"

	"reactor/internal/log"
)

const (
	// NoiseFloor is the energy above which audio counts as active.
	NoiseFloor = 0.02
	// BeatPulse is how long BeatDetected stays set after a beat.
	BeatPulse = 100 * time.Millisecond
)

// State is a point-in-time copy of the reaction state.
type State struct {
	Energy         float64   `json:"energy"`
	BeatDetected   bool      `json:"beatDetected"`
	LastBeatTime   time.Time `json:"lastBeatTime"`
	IsAudioActive  bool      `json:"isAudioActive"`
	IsMusicPlaying bool      `json:"isMusicPlaying"`
}

// Store is the single source of truth for effect consumers. All mutation
// goes through its action methods; subscribers are notified synchronously
// after each mutation, outside the store lock.
type Store struct {
	mu           sync.Mutex
	state        State
	generation   uint64
	lastActivity time.Time

	pulse      time.Duration
	pulseTimer *time.Timer
	pulseSeq   uint64

	now func() time.Time

	subs   listeners[func(State)]
	beats  listeners[func(time.Time)]
	energy listeners[func(float64)]
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBeatPulse overrides how long a beat flag stays set.
func WithBeatPulse(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pulse = d
		}
	}
}

// NewStore returns a store with zeroed state.
func NewStore(opts ...Option) *Store {
	s := &Store{pulse: BeatPulse, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation changes whenever real playback starts or real audio activity
// is promoted. Synthetic writers must present the generation they observed.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Observe returns the state together with the generation it belongs to.
func (s *Store) Observe() (State, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.generation
}

// LastActivity returns the time of the last real above-floor energy or beat.
func (s *Store) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// UpdateEnergy records real analysed energy, clamped to [0, 1]. Energy above
// NoiseFloor promotes IsAudioActive; it never demotes it.
func (s *Store) UpdateEnergy(e float64) {
	e = clamp01(e)
	s.mu.Lock()
	s.state.Energy = e
	if e > NoiseFloor {
		s.promoteLocked()
		s.lastActivity = s.now()
	}
	st := s.state
	s.mu.Unlock()

	s.emitEnergy(e)
	s.notify(st)
}

// TriggerBeat records a real beat at t. It sets IsAudioActive and arms the
// pulse timer that clears BeatDetected.
func (s *Store) TriggerBeat(t time.Time) {
	s.mu.Lock()
	s.promoteLocked()
	s.lastActivity = t
	s.beatLocked(t)
	st := s.state
	s.mu.Unlock()

	s.emitBeat(t, st)
}

// ResetBeat clears BeatDetected.
func (s *Store) ResetBeat() {
	s.mu.Lock()
	if !s.state.BeatDetected {
		s.mu.Unlock()
		return
	}
	s.state.BeatDetected = false
	if s.pulseTimer != nil {
		s.pulseTimer.Stop()
		s.pulseTimer = nil
	}
	st := s.state
	s.mu.Unlock()

	s.notify(st)
}

// SetAudioActive sets the audio activity flag. Demotion is the watchdog's job.
func (s *Store) SetAudioActive(active bool) {
	s.mu.Lock()
	if active {
		s.promoteLocked()
	} else {
		s.state.IsAudioActive = false
	}
	st := s.state
	s.mu.Unlock()

	s.notify(st)
}

// DemoteAudio clears IsAudioActive only while the generation is still gen.
// It reports false, changing nothing, when playback started or real audio
// was promoted since gen was observed.
func (s *Store) DemoteAudio(gen uint64) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	if !s.state.IsAudioActive {
		s.mu.Unlock()
		return true
	}
	s.state.IsAudioActive = false
	st := s.state
	s.mu.Unlock()

	s.notify(st)
	return true
}

// SetMusicPlaying sets the playback flag. A transition to playing advances
// the generation so in-flight synthetic writes are rejected.
func (s *Store) SetMusicPlaying(playing bool) {
	s.mu.Lock()
	if playing && !s.state.IsMusicPlaying {
		s.generation++
	}
	s.state.IsMusicPlaying = playing
	st := s.state
	s.mu.Unlock()

	s.notify(st)
}

// Synthesize writes idle-driver energy and optionally a synthetic beat. It
// is rejected, returning false, when gen is stale or real audio is active.
// Synthetic writes never promote IsAudioActive or touch LastActivity.
func (s *Store) Synthesize(gen uint64, energy float64, beat bool) bool {
	s.mu.Lock()
	if gen != s.generation || s.state.IsAudioActive {
		s.mu.Unlock()
		return false
	}
	energy = clamp01(energy)
	s.state.Energy = energy
	var t time.Time
	if beat {
		t = s.now()
		s.beatLocked(t)
	}
	st := s.state
	s.mu.Unlock()

	s.emitEnergy(energy)
	if beat {
		s.emitBeat(t, st)
		return true
	}
	s.notify(st)
	return true
}

// Subscribe registers fn for every state change.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) { return s.subs.add(fn) }

// OnBeat registers fn for every beat, real or synthetic.
func (s *Store) OnBeat(fn func(time.Time)) (unsubscribe func()) { return s.beats.add(fn) }

// OnEnergy registers fn for every energy write.
func (s *Store) OnEnergy(fn func(float64)) (unsubscribe func()) { return s.energy.add(fn) }

// Close stops the pending pulse timer.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pulseTimer != nil {
		s.pulseTimer.Stop()
		s.pulseTimer = nil
	}
}

func (s *Store) promoteLocked() {
	if !s.state.IsAudioActive {
		s.state.IsAudioActive = true
		s.generation++
	}
}

// beatLocked sets the beat flag and re-arms the clear timer. The sequence
// number keeps a stale timer from clearing a newer pulse.
func (s *Store) beatLocked(t time.Time) {
	s.state.BeatDetected = true
	s.state.LastBeatTime = t

	if s.pulseTimer != nil {
		s.pulseTimer.Stop()
	}
	s.pulseSeq++
	seq := s.pulseSeq
	s.pulseTimer = time.AfterFunc(s.pulse, func() { s.clearPulse(seq) })
}

func (s *Store) clearPulse(seq uint64) {
	s.mu.Lock()
	if seq != s.pulseSeq || !s.state.BeatDetected {
		s.mu.Unlock()
		return
	}
	s.state.BeatDetected = false
	s.pulseTimer = nil
	st := s.state
	s.mu.Unlock()

	s.notify(st)
}

func (s *Store) emitEnergy(e float64) {
	for _, fn := range s.energy.snapshot() {
		safeCall("energy", fn, e)
	}
}

func (s *Store) emitBeat(t time.Time, st State) {
	for _, fn := range s.beats.snapshot() {
		safeCall("beat", fn, t)
	}
	s.notify(st)
}

func (s *Store) notify(st State) {
	for _, fn := range s.subs.snapshot() {
		safeCall("state", fn, st)
	}
}

// safeCall isolates the store and its caller from a panicking listener.
func safeCall[T any](kind string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorfr("reaction-"+kind, log.DefaultInterval, "Reaction: %s listener panicked: %v", kind, r)
		}
	}()
	fn(v)
}

func clamp01(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
