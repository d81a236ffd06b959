// SPDX-License-Identifier: MIT
package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reactor/internal/analysis"
	"reactor/internal/audio"
	"reactor/internal/config"
	"reactor/internal/reaction"
	"reactor/pkg/utils"
)

// fakeSampler serves a fixed snapshot.
type fakeSampler struct {
	mu    sync.Mutex
	snap  analysis.FrequencySnapshot
	src   audio.Source
	ctx   *audio.Context
	calls atomic.Int64
}

func (f *fakeSampler) Sample() analysis.FrequencySnapshot {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(analysis.FrequencySnapshot(nil), f.snap...)
}

func (f *fakeSampler) set(snap analysis.FrequencySnapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

func (f *fakeSampler) Source() audio.Source    { return f.src }
func (f *fakeSampler) Context() *audio.Context { return f.ctx }

// liveSource is a Source that cannot be decoded offline.
type liveSource struct{}

func (liveSource) ID() string                          { return "live" }
func (liveSource) SampleRate() float64                 { return 44100 }
func (liveSource) Closed() bool                        { return false }
func (liveSource) Tap(func([]float32)) (func(), error) { return func() {}, nil }

// failingComputer always reports the worker as unavailable.
type failingComputer struct{ calls atomic.Int64 }

func (f *failingComputer) Compute(context.Context, analysis.Input) (analysis.Output, error) {
	f.calls.Add(1)
	return analysis.Output{}, ErrWorkerClosed
}
func (f *failingComputer) Close() error { return nil }

func fastSettings() *config.Live {
	live := config.NewLive(config.Defaults())
	live.UpdateAnalyzer(func(c *config.AnalyzerConfig) { c.AnalyzeIntervalMs = config.MinAnalyzeIntervalMs })
	return live
}

func loud(bins int) analysis.FrequencySnapshot {
	return analysis.FrequencySnapshot(utils.ConstantSnapshot(bins, 255))
}

func waitTicks(t *testing.T, s *Scheduler, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Ticks() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d ticks, want %d", s.Ticks(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTickOrdering(t *testing.T) {
	store := reaction.NewStore()
	defer store.Close()
	sampler := &fakeSampler{snap: loud(256), ctx: audio.NewContext(nil)}
	s := New(sampler, fastSettings(), store, WithRand(func() float64 { return 0 }))

	ticks := make(chan Tick, 16)
	s.OnTick(func(tk Tick) {
		select {
		case ticks <- tk:
		default:
		}
	})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	select {
	case tk := <-ticks:
		if !tk.Beat {
			t.Fatalf("first loud tick did not fire a beat: %+v", tk)
		}
		if !tk.State.BeatDetected || tk.State.Energy == 0 || !tk.State.IsAudioActive {
			t.Errorf("listener saw state without the tick's writes: %+v", tk.State)
		}
		if tk.State.Energy != 1 {
			t.Errorf("store energy = %v, want clamp to 1", tk.State.Energy)
		}
		if math.Abs(tk.Energy-analysis.EnergyGain) > 1e-9 {
			t.Errorf("tick energy = %v, want %v", tk.Energy, analysis.EnergyGain)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick")
	}
	if sampler.ctx.State() != audio.StateRunning {
		t.Errorf("context state = %v, want running", sampler.ctx.State())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	store := reaction.NewStore()
	defer store.Close()
	sampler := &fakeSampler{snap: loud(64)}
	s := New(sampler, fastSettings(), store)

	s.Stop() // Safe before Start.
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !s.Running() {
		t.Fatal("not running after Start")
	}
	waitTicks(t, s, 3)

	s.Stop()
	s.Stop()
	after := s.Ticks()
	calls := sampler.calls.Load()
	time.Sleep(60 * time.Millisecond)
	if s.Ticks() != after || sampler.calls.Load() != calls {
		t.Error("ticks continued after Stop")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	waitTicks(t, s, after+2)
	s.Stop()
}

func TestStartFailsWithoutCapability(t *testing.T) {
	sampler := &fakeSampler{ctx: audio.NewContext(func() error { return errors.New("no device") })}
	s := New(sampler, fastSettings(), reaction.NewStore())
	err := s.Start()
	if !errors.Is(err, audio.ErrNoCapability) {
		t.Fatalf("Start() error = %v, want ErrNoCapability", err)
	}
	if s.Running() {
		t.Error("scheduler running after failed Start")
	}
}

func TestIntervalReadPerTick(t *testing.T) {
	live := fastSettings()
	s := New(&fakeSampler{}, live, reaction.NewStore())
	if got := s.interval(); got != 16*time.Millisecond {
		t.Errorf("interval() = %v, want 16ms", got)
	}
	live.UpdateAnalyzer(func(c *config.AnalyzerConfig) { c.AnalyzeIntervalMs = 120 })
	if got := s.interval(); got != 120*time.Millisecond {
		t.Errorf("interval() = %v after update, want 120ms", got)
	}
	live.UpdateAnalyzer(func(c *config.AnalyzerConfig) { c.AnalyzeIntervalMs = 1 })
	if got := s.interval(); got < 16*time.Millisecond {
		t.Errorf("interval() = %v, faster than the floor", got)
	}
}

func TestDetachedSamplerSkipsStore(t *testing.T) {
	store := reaction.NewStore()
	store.Synthesize(store.Generation(), 0.2, false)
	s := New(&fakeSampler{}, fastSettings(), store)
	s.tick(context.Background())
	if s.Ticks() != 0 || store.State().Energy != 0.2 {
		t.Errorf("detached tick wrote to the store: %+v", store.State())
	}
}

func TestSilentSourceLeavesIdleEnergy(t *testing.T) {
	store := reaction.NewStore()
	store.Synthesize(store.Generation(), 0.2, false)
	s := New(&fakeSampler{snap: make(analysis.FrequencySnapshot, 64)}, fastSettings(), store)
	s.tick(context.Background())
	if s.Ticks() != 1 {
		t.Fatal("silent tick not counted")
	}
	if store.State().Energy != 0.2 {
		t.Errorf("silent tick overwrote idle energy: %v", store.State().Energy)
	}

	store.UpdateEnergy(0.5)
	s.tick(context.Background())
	if store.State().Energy != 0 {
		t.Errorf("silence not written while audio active: %v", store.State().Energy)
	}
}

func TestFallbackToInProcess(t *testing.T) {
	store := reaction.NewStore()
	defer store.Close()
	fc := &failingComputer{}
	s := New(&fakeSampler{snap: loud(64)}, fastSettings(), store, WithComputer(fc))

	s.tick(context.Background())
	if fc.calls.Load() != 1 {
		t.Fatalf("worker called %d times", fc.calls.Load())
	}
	if store.State().Energy != 1 {
		t.Errorf("fallback tick energy = %v, want 1", store.State().Energy)
	}
}

func TestPanickingListenerDoesNotStopLoop(t *testing.T) {
	store := reaction.NewStore()
	defer store.Close()
	s := New(&fakeSampler{snap: loud(64)}, fastSettings(), store)
	s.OnTick(func(Tick) { panic("listener bug") })
	var seen atomic.Int32
	remove := s.OnTick(func(Tick) { seen.Add(1) })

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitTicks(t, s, 3)
	s.Stop()
	if seen.Load() < 3 {
		t.Errorf("healthy listener ran %d times", seen.Load())
	}

	remove()
	before := seen.Load()
	s.tick(context.Background())
	if seen.Load() != before {
		t.Error("removed listener still called")
	}
}

func TestWorkerMatchesInProcess(t *testing.T) {
	w := NewWorker(time.Second)
	defer w.Close()

	cfg := config.DefaultAnalyzer()
	now := time.Unix(100, 0)
	state := analysis.DetectorState{}
	for i, level := range []uint8{0, 10, 60, 120, 200, 255, 255, 30} {
		in := analysis.Input{
			Snapshot: analysis.FrequencySnapshot(utils.ConstantSnapshot(128, level)),
			Config:   cfg,
			State:    state,
			Now:      now.Add(time.Duration(i) * 100 * time.Millisecond),
			Roll:     float64(i) / 10,
		}
		want, _ := InProcess{}.Compute(context.Background(), in)
		got, err := w.Compute(context.Background(), in)
		if err != nil {
			t.Fatalf("Compute() error = %v", err)
		}
		if got != want {
			t.Fatalf("step %d: worker %+v, in-process %+v", i, got, want)
		}
		state = got.State
	}
}

func TestWorkerClosedAndTimeout(t *testing.T) {
	w := NewWorker(time.Second)
	w.Close()
	w.Close()
	if _, err := w.Compute(context.Background(), analysis.Input{}); !errors.Is(err, ErrWorkerClosed) {
		t.Errorf("Compute() on closed worker = %v, want ErrWorkerClosed", err)
	}

	slow := newWorker(func(in analysis.Input) analysis.Output {
		time.Sleep(50 * time.Millisecond)
		return analysis.Analyze(in)
	}, 5*time.Millisecond)
	defer slow.Close()
	if _, err := slow.Compute(context.Background(), analysis.Input{}); !errors.Is(err, ErrWorkerTimeout) {
		t.Errorf("Compute() on slow worker = %v, want ErrWorkerTimeout", err)
	}

	store := reaction.NewStore()
	defer store.Close()
	s := New(&fakeSampler{snap: loud(64)}, fastSettings(), store, WithComputer(slow))
	s.tick(context.Background())
	if store.State().Energy != 1 {
		t.Errorf("timed-out tick energy = %v, want in-process result 1", store.State().Energy)
	}
}

func TestDetectTempoOnAttachedSource(t *testing.T) {
	pcm := utils.GenerateKickTrack(10, 44100, 120)
	src := audio.NewPCMSource("kick", 44100, pcm)
	s := New(&fakeSampler{src: src}, fastSettings(), reaction.NewStore())

	tempo, err := s.DetectTempo(context.Background())
	if err != nil {
		t.Fatalf("DetectTempo() error = %v", err)
	}
	if math.Abs(tempo.BPM-120) > 3 {
		t.Errorf("BPM = %v, want about 120", tempo.BPM)
	}

	guess, err := s.GuessBeat(context.Background())
	if err != nil {
		t.Fatalf("GuessBeat() error = %v", err)
	}
	if guess.Offset < 0 || guess.Offset >= guess.Period() {
		t.Errorf("offset %v outside [0, %v)", guess.Offset, guess.Period())
	}
}

func TestOfflineAnalysisErrors(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		src  audio.Source
		ctx  context.Context
		want error
	}{
		{"no source", nil, context.Background(), analysis.ErrNoDecoding},
		{"live source", liveSource{}, context.Background(), analysis.ErrNoDecoding},
		{"no signal", audio.NewPCMSource("empty", 44100, nil), context.Background(), analysis.ErrNoDecoding},
		{"too short", audio.NewPCMSource("short", 44100, make([]float32, 64)), context.Background(), analysis.ErrTooShort},
		{"cancelled", audio.NewPCMSource("x", 44100, make([]float32, 44100)), cancelled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeSampler{src: tt.src}, fastSettings(), reaction.NewStore())
			_, err := s.DetectTempo(tt.ctx)
			var ae *analysis.AnalysisError
			if !errors.As(err, &ae) {
				t.Fatalf("DetectTempo() error = %v, want *AnalysisError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("DetectTempo() error = %v, want %v", err, tt.want)
			}
			if _, err := s.GuessBeat(tt.ctx); !errors.As(err, &ae) {
				t.Errorf("GuessBeat() error = %v, want *AnalysisError", err)
			}
		})
	}
}

func TestOfflineAnalysisDoesNotStallTicks(t *testing.T) {
	store := reaction.NewStore()
	defer store.Close()
	src := audio.NewPCMSource("kick", 44100, utils.GenerateKickTrack(20, 44100, 128))
	s := New(&fakeSampler{snap: loud(64), src: src}, fastSettings(), store)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := s.DetectTempo(context.Background())
		done <- err
	}()
	start := s.Ticks()
	waitTicks(t, s, start+3)
	if err := <-done; err != nil {
		t.Errorf("DetectTempo() error = %v", err)
	}
}

func BenchmarkTick(b *testing.B) {
	store := reaction.NewStore()
	defer store.Close()
	s := New(&fakeSampler{snap: loud(1024)}, fastSettings(), store)
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		s.tick(ctx)
	}
}
