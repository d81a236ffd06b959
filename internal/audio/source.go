// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"reactor/internal/analysis"
)

// Source is a playable audio element the sampler can analyse. ID is the
// stable identity used to dedupe analysis graphs.
type Source interface {
	ID() string
	SampleRate() float64
	Closed() bool
	// Tap registers fn to receive mono blocks as the source produces them.
	// fn must not retain the block. The returned func removes the tap.
	Tap(fn func(block []float32)) (untap func(), err error)
}

// Buffered is implemented by sources that can decode their whole signal for
// offline analysis.
type Buffered interface {
	Source
	Decode(ctx context.Context) ([]float32, error)
}

// tapSet fans one producer out to registered taps.
type tapSet struct {
	mu     sync.RWMutex
	nextID int
	taps   map[int]func([]float32)
}

func (t *tapSet) add(fn func([]float32)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.taps == nil {
		t.taps = make(map[int]func([]float32))
	}
	id := t.nextID
	t.nextID++
	t.taps[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.taps, id)
			t.mu.Unlock()
		})
	}
}

func (t *tapSet) deliver(block []float32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, fn := range t.taps {
		fn(block)
	}
}

func (t *tapSet) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.taps)
}

// PCMSource is an in-memory source. Push delivers blocks to taps; when built
// with a full signal it also implements Buffered.
type PCMSource struct {
	id         string
	sampleRate float64
	signal     []float32
	closed     atomic.Bool
	taps       tapSet
}

var _ Buffered = (*PCMSource)(nil)

// NewPCMSource returns a source with the given identity. signal, when not
// nil, is the full decoded track returned by Decode.
func NewPCMSource(id string, sampleRate float64, signal []float32) *PCMSource {
	return &PCMSource{id: id, sampleRate: sampleRate, signal: signal}
}

func (s *PCMSource) ID() string          { return s.id }
func (s *PCMSource) SampleRate() float64 { return s.sampleRate }
func (s *PCMSource) Closed() bool        { return s.closed.Load() }

// Tap implements Source.
func (s *PCMSource) Tap(fn func([]float32)) (func(), error) {
	if s.Closed() {
		return nil, ErrSourceClosed
	}
	return s.taps.add(fn), nil
}

// Taps returns the number of registered taps.
func (s *PCMSource) Taps() int { return s.taps.len() }

// Push delivers block to every tap.
func (s *PCMSource) Push(block []float32) {
	if s.Closed() {
		return
	}
	s.taps.deliver(block)
}

// Decode returns a copy of the full signal.
func (s *PCMSource) Decode(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.signal == nil {
		return nil, analysis.ErrNoDecoding
	}
	return append([]float32(nil), s.signal...), nil
}

// Close marks the source unusable.
func (s *PCMSource) Close() error {
	s.closed.Store(true)
	return nil
}

// downmix averages interleaved frames into mono. dst must hold
// len(src)/channels samples.
func downmix(dst []float32, src []float32, channels int) []float32 {
	if channels <= 1 {
		return append(dst[:0], src...)
	}
	frames := len(src) / channels
	dst = dst[:frames]
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += src[i*channels+ch]
		}
		dst[i] = sum * inv
	}
	return dst
}
