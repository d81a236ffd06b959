// SPDX-License-Identifier: MIT
package audio

import (
	"sync"

	"reactor/internal/analysis"
	"reactor/internal/config"
)

// FFT size limits for analysis graphs.
const (
	minFFTSize = config.MinFFTSize
	maxFFTSize = config.MaxFFTSize
)

// Sampler bridges one attached source to frequency snapshots. It holds at
// most one graph at a time, acquired from a shared Registry.
type Sampler struct {
	ctx       *Context
	registry  *Registry
	smoothing func() float64

	mu    sync.Mutex
	src   Source
	graph *Graph
}

var _ analysis.SpectrumProvider = (*Sampler)(nil)

// NewSampler returns a detached sampler. smoothing is read on every Sample
// call; nil means the default time constant.
func NewSampler(ctx *Context, registry *Registry, smoothing func() float64) *Sampler {
	if smoothing == nil {
		smoothing = func() float64 { return config.DefaultSmoothingTimeConstant }
	}
	return &Sampler{ctx: ctx, registry: registry, smoothing: smoothing}
}

// Attach binds src. Attaching the source already attached is a no-op;
// attaching a different one releases the previous graph first. Attach works
// while the context is suspended.
func (s *Sampler) Attach(src Source) error {
	if src == nil {
		return &InitializationError{Err: ErrNilSource}
	}
	if err := s.ctx.Check(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.graph != nil && s.src.ID() == src.ID() {
		return nil
	}
	g, err := s.registry.Acquire(src)
	if err != nil {
		return err
	}
	if s.graph != nil {
		s.registry.Release(s.graph)
	}
	s.src, s.graph = src, g
	return nil
}

// Detach releases the graph. Calling it again, or before any Attach, is safe.
func (s *Sampler) Detach() {
	s.mu.Lock()
	g := s.graph
	s.src, s.graph = nil, nil
	s.mu.Unlock()

	s.registry.Release(g)
}

// Sample returns the latest magnitudes, one byte per bin. It is all-zero
// until the source has delivered a full FFT window and empty when detached.
func (s *Sampler) Sample() analysis.FrequencySnapshot {
	s.mu.Lock()
	g := s.graph
	s.mu.Unlock()

	if g == nil {
		return analysis.FrequencySnapshot{}
	}
	snap := make(analysis.FrequencySnapshot, g.Bins())
	g.Snapshot(snap, s.smoothing())
	return snap
}

// Source returns the attached source, or nil.
func (s *Sampler) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Attached reports whether a source is attached.
func (s *Sampler) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph != nil
}

// Bins returns the snapshot length for the attached source (0 if detached).
func (s *Sampler) Bins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph == nil {
		return 0
	}
	return s.graph.Bins()
}

// Context returns the processing context the sampler checks on attach.
func (s *Sampler) Context() *Context { return s.ctx }
