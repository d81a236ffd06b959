// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"testing"

	"reactor/internal/analysis"
	"reactor/pkg/utils"
)

func newTestSampler(probe CapabilityProbe) (*Sampler, *Registry) {
	r := NewRegistry(512, analysis.Hann)
	return NewSampler(NewContext(probe), r, nil), r
}

func TestSamplerAttachIsIdempotent(t *testing.T) {
	s, r := newTestSampler(nil)
	src := NewPCMSource("track", 44100, nil)

	for range 3 {
		if err := s.Attach(src); err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
	}
	if r.Built() != 1 || r.Refs("track") != 1 {
		t.Errorf("built=%d refs=%d, want 1/1", r.Built(), r.Refs("track"))
	}
	if src.Taps() != 1 {
		t.Errorf("taps = %d, want 1", src.Taps())
	}
}

func TestSamplerReattachAfterDetach(t *testing.T) {
	s, r := newTestSampler(nil)
	src := NewPCMSource("track", 44100, nil)

	if err := s.Attach(src); err != nil {
		t.Fatal(err)
	}
	s.Detach()
	s.Detach()
	if err := s.Attach(src); err != nil {
		t.Fatalf("reattach error = %v", err)
	}

	if r.Built() != 2 || r.Released() != 1 || r.Live() != 1 {
		t.Errorf("built=%d released=%d live=%d, want 2/1/1", r.Built(), r.Released(), r.Live())
	}
	if src.Taps() != 1 {
		t.Errorf("taps = %d, want 1", src.Taps())
	}
}

func TestSamplerSwitchSource(t *testing.T) {
	s, r := newTestSampler(nil)
	a := NewPCMSource("a", 44100, nil)
	b := NewPCMSource("b", 48000, nil)

	if err := s.Attach(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(b); err != nil {
		t.Fatal(err)
	}
	if a.Taps() != 0 || b.Taps() != 1 {
		t.Errorf("taps a=%d b=%d, want 0/1", a.Taps(), b.Taps())
	}
	if s.Source() != b || r.Live() != 1 {
		t.Errorf("attached=%v live=%d", s.Source(), r.Live())
	}
}

func TestSamplersShareGraph(t *testing.T) {
	r := NewRegistry(512, analysis.Hann)
	ctx := NewContext(nil)
	s1 := NewSampler(ctx, r, nil)
	s2 := NewSampler(ctx, r, nil)
	src := NewPCMSource("track", 44100, nil)

	if err := s1.Attach(src); err != nil {
		t.Fatal(err)
	}
	if err := s2.Attach(src); err != nil {
		t.Fatal(err)
	}
	if r.Built() != 1 || r.Refs("track") != 2 {
		t.Fatalf("built=%d refs=%d, want 1/2", r.Built(), r.Refs("track"))
	}
	s1.Detach()
	if r.Live() != 1 {
		t.Error("graph released while second sampler still attached")
	}
	s2.Detach()
	if r.Live() != 0 || r.Released() != 1 {
		t.Errorf("live=%d released=%d, want 0/1", r.Live(), r.Released())
	}
}

func TestSamplerAttachFailures(t *testing.T) {
	probeErr := errors.New("no host API")
	closed := NewPCMSource("closed", 44100, nil)
	closed.Close()

	tests := []struct {
		name  string
		probe CapabilityProbe
		src   Source
		want  error
	}{
		{"no capability", func() error { return probeErr }, NewPCMSource("x", 44100, nil), ErrNoCapability},
		{"probe cause kept", func() error { return probeErr }, NewPCMSource("x", 44100, nil), probeErr},
		{"closed source", nil, closed, ErrSourceClosed},
		{"bad sample rate", nil, NewPCMSource("x", 0, nil), ErrBadSampleRate},
		{"nil source", nil, nil, ErrNilSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, r := newTestSampler(tt.probe)
			err := s.Attach(tt.src)
			var initErr *InitializationError
			if !errors.As(err, &initErr) {
				t.Fatalf("Attach() error = %v, want *InitializationError", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Attach() error = %v, want %v", err, tt.want)
			}
			if s.Attached() || r.Live() != 0 {
				t.Error("failed attach left a graph behind")
			}
		})
	}
}

func TestSamplerAttachWhileSuspended(t *testing.T) {
	s, _ := newTestSampler(nil)
	if s.Context().State() != StateSuspended {
		t.Fatalf("new context state = %v", s.Context().State())
	}
	if err := s.Attach(NewPCMSource("x", 44100, nil)); err != nil {
		t.Fatalf("Attach() while suspended error = %v", err)
	}
	if s.Context().State() != StateSuspended {
		t.Error("Attach should not resume the context")
	}
}

func TestSamplerSample(t *testing.T) {
	s, _ := newTestSampler(nil)

	if snap := s.Sample(); len(snap) != 0 {
		t.Fatalf("detached Sample() len = %d, want 0", len(snap))
	}

	src := NewPCMSource("sine", 44100, nil)
	if err := s.Attach(src); err != nil {
		t.Fatal(err)
	}
	snap := s.Sample()
	if len(snap) != 256 || s.Bins() != 256 {
		t.Fatalf("Sample() len = %d, Bins() = %d, want 256", len(snap), s.Bins())
	}
	if !snap.IsZero() {
		t.Error("Sample() before warm-up should be all zero")
	}

	src.Push(utils.GenerateComplexWave(1024, 44100))
	first := s.Sample()
	if first.IsZero() {
		t.Fatal("Sample() after warm-up is zero")
	}
	second := s.Sample()
	second[0] = ^second[0]
	if first[0] == second[0] {
		t.Error("Sample() results share storage")
	}

	s.Detach()
	if snap := s.Sample(); len(snap) != 0 {
		t.Errorf("Sample() after Detach len = %d, want 0", len(snap))
	}
}

func TestSamplerSmoothingReadPerCall(t *testing.T) {
	tau := 0.0
	r := NewRegistry(512, analysis.Hann)
	s := NewSampler(NewContext(nil), r, func() float64 { return tau })
	src := NewPCMSource("x", 44100, nil)
	if err := s.Attach(src); err != nil {
		t.Fatal(err)
	}

	src.Push(utils.GenerateSineWave(512, 44100, 2000))
	loud := s.Sample()
	peak := utils.FindPeakBin(loud, 0, len(loud))

	// With full smoothing the silent block cannot pull the peak down.
	tau = 0.99
	src.Push(make([]float32, 512))
	held := s.Sample()
	if held[peak] == 0 {
		t.Error("smoothing constant change was not picked up")
	}

	tau = 0
	src.Push(make([]float32, 512))
	if snap := s.Sample(); snap[peak] >= held[peak] {
		t.Errorf("unsmoothed silence bin = %d, want below %d", snap[peak], held[peak])
	}
}

func BenchmarkSamplerSample(b *testing.B) {
	s, _ := newTestSampler(nil)
	src := NewPCMSource("bench", 44100, nil)
	if err := s.Attach(src); err != nil {
		b.Fatal(err)
	}
	src.Push(utils.GenerateComplexWave(512, 44100))

	b.ReportAllocs()
	for b.Loop() {
		_ = s.Sample()
	}
}
