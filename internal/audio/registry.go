// SPDX-License-Identifier: MIT
package audio

import (
	"sync"
	"sync/atomic"

	"reactor/internal/analysis"
	"reactor/internal/log"
	"reactor/pkg/bitint"
)

// Graph is the analysis chain built for one source: a tap feeding a ring of
// recent samples and a spectrum analyser over it. Graphs are shared by every
// sampler attached to the same source.
type Graph struct {
	id       string
	ring     *ringBuffer
	analyser *analysis.Analyser
	untap    func()

	mu    sync.Mutex // Guards block.
	block []float32

	refs int // Guarded by Registry.mu.
}

// ID returns the source identity the graph was built for.
func (g *Graph) ID() string { return g.id }

// Bins returns the number of magnitude bins per snapshot.
func (g *Graph) Bins() int { return g.analyser.Bins() }

// Analyser returns the graph's spectrum analyser.
func (g *Graph) Analyser() *analysis.Analyser { return g.analyser }

// Snapshot writes the current spectrum into dst. Before the source has
// delivered a full window dst is zeroed and false is returned.
func (g *Graph) Snapshot(dst analysis.FrequencySnapshot, smoothing float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ring.Latest(g.block) {
		clear(dst)
		return false
	}
	if err := g.analyser.Compute(dst, g.block, smoothing); err != nil {
		log.Warnfr("graph-compute", log.DefaultInterval, "Audio: Spectrum for %q failed: %v", g.id, err)
		clear(dst)
		return false
	}
	return true
}

// Registry owns every live graph, keyed by source ID. Acquire builds a graph
// at most once per source; Release tears it down when the last user lets go.
type Registry struct {
	fftSize int
	window  analysis.WindowFunc

	mu     sync.Mutex
	graphs map[string]*Graph

	built    atomic.Int64
	released atomic.Int64
}

// NewRegistry returns a registry building graphs of fftSize points (rounded
// to a power of two within the config limits).
func NewRegistry(fftSize int, window analysis.WindowFunc) *Registry {
	return &Registry{
		fftSize: bitint.ClampPowerOfTwo(fftSize, minFFTSize, maxFFTSize),
		window:  window,
		graphs:  make(map[string]*Graph),
	}
}

// FFTSize returns the normalised FFT size used for new graphs.
func (r *Registry) FFTSize() int { return r.fftSize }

// Acquire returns the graph for src, building it on first use. Every
// successful Acquire must be paired with one Release.
func (r *Registry) Acquire(src Source) (*Graph, error) {
	if src == nil {
		return nil, &InitializationError{Err: ErrNilSource}
	}
	id := src.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.graphs[id]; ok {
		g.refs++
		return g, nil
	}

	if src.Closed() {
		return nil, &InitializationError{Source: id, Err: ErrSourceClosed}
	}
	if !(src.SampleRate() > 0) {
		return nil, &InitializationError{Source: id, Err: ErrBadSampleRate}
	}

	analyser, err := analysis.NewAnalyser(r.fftSize, src.SampleRate(), r.window)
	if err != nil {
		return nil, &InitializationError{Source: id, Err: err}
	}
	g := &Graph{
		id:       id,
		ring:     newRingBuffer(r.fftSize),
		analyser: analyser,
		block:    make([]float32, r.fftSize),
		refs:     1,
	}
	untap, err := src.Tap(g.ring.Write)
	if err != nil {
		return nil, &InitializationError{Source: id, Err: err}
	}
	g.untap = untap

	r.graphs[id] = g
	r.built.Add(1)
	log.Debugf("Audio: Built analysis graph for %q (FFT %d)", id, r.fftSize)
	return g, nil
}

// Release drops one reference to g. The last release untaps the source and
// forgets the graph; extra releases are ignored.
func (r *Registry) Release(g *Graph) {
	if g == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.graphs[g.id]; !ok || cur != g || g.refs == 0 {
		return
	}
	g.refs--
	if g.refs > 0 {
		return
	}
	delete(r.graphs, g.id)
	g.untap()
	g.ring.Reset()
	r.released.Add(1)
	log.Debugf("Audio: Released analysis graph for %q", g.id)
}

// Built returns the number of graphs constructed so far.
func (r *Registry) Built() int64 { return r.built.Load() }

// Released returns the number of graphs torn down so far.
func (r *Registry) Released() int64 { return r.released.Load() }

// Live returns the number of graphs currently held.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.graphs)
}

// Refs returns the reference count of the graph for id (0 when absent).
func (r *Registry) Refs(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.graphs[id]; ok {
		return g.refs
	}
	return 0
}
