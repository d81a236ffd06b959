// SPDX-License-Identifier: MIT
package analysis

import (
	"testing"

	"reactor/pkg/utils"
)

const (
	testFFTSize    = 2048
	testSampleRate = 44100
)

func newTestAnalyser(t testing.TB) *Analyser {
	t.Helper()
	a, err := NewAnalyser(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatalf("NewAnalyser() error = %v", err)
	}
	return a
}

func TestNewAnalyserRejectsBadParams(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
	}{
		{"Not power of two", 1000, testSampleRate},
		{"Zero size", 0, testSampleRate},
		{"Zero rate", 1024, 0},
		{"Negative rate", 1024, -44100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAnalyser(tt.size, tt.sampleRate, Hann); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestComputeSinePeak(t *testing.T) {
	a := newTestAnalyser(t)
	snap := make(FrequencySnapshot, a.Bins())
	block := utils.GenerateSineWave(testFFTSize, testSampleRate, 1000)

	if err := a.Compute(snap, block, 0); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if a.Bins() != testFFTSize/2 {
		t.Fatalf("Bins() = %d, want %d", a.Bins(), testFFTSize/2)
	}

	binHz := float64(testSampleRate) / testFFTSize
	peak := int(1000 / binHz)
	if snap[peak] != 255 {
		t.Errorf("bin %d = %d, want 255", peak, snap[peak])
	}
	if snap[500] > 32 {
		t.Errorf("bin 500 = %d, want near zero", snap[500])
	}
	if got := a.BinFrequency(peak); got < 980 || got > 1000 {
		t.Errorf("BinFrequency(%d) = %.1f, want ~990", peak, got)
	}
}

func TestComputeSilenceIsZero(t *testing.T) {
	a := newTestAnalyser(t)
	snap := make(FrequencySnapshot, a.Bins())
	if err := a.Compute(snap, make([]float32, testFFTSize), 0.8); err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if !snap.IsZero() {
		t.Error("expected an all-zero snapshot for silence")
	}
	// Short blocks are zero-padded, never an error.
	if err := a.Compute(snap, nil, 0.8); err != nil || !snap.IsZero() {
		t.Errorf("Compute(nil) = %v, zero=%v", err, snap.IsZero())
	}
}

func TestComputeSmoothingKeepsHistory(t *testing.T) {
	sine := utils.GenerateSineWave(testFFTSize, testSampleRate, 1000)
	silence := make([]float32, testFFTSize)
	binHz := float64(testSampleRate) / testFFTSize
	peak := int(1000 / binHz)

	for _, tc := range []struct {
		smoothing float64
		wantDecay bool
	}{{0, false}, {0.5, true}} {
		a := newTestAnalyser(t)
		snap := make(FrequencySnapshot, a.Bins())
		_ = a.Compute(snap, sine, tc.smoothing)
		_ = a.Compute(snap, silence, tc.smoothing)
		if got := snap[peak] > 0; got != tc.wantDecay {
			t.Errorf("smoothing %.1f: peak after silence = %d, want nonzero=%v", tc.smoothing, snap[peak], tc.wantDecay)
		}
		a.Reset()
		_ = a.Compute(snap, silence, tc.smoothing)
		if !snap.IsZero() {
			t.Errorf("smoothing %.1f: history survived Reset", tc.smoothing)
		}
	}
}

func TestComputeRejectsWrongDestination(t *testing.T) {
	a := newTestAnalyser(t)
	if err := a.Compute(make(FrequencySnapshot, 10), nil, 0); err == nil {
		t.Error("expected error for wrong destination length")
	}
}

func TestComputeZeroAllocs(t *testing.T) {
	a := newTestAnalyser(t)
	snap := make(FrequencySnapshot, a.Bins())
	block := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	_ = a.Compute(snap, block, 0.8)
	allocs := testing.AllocsPerRun(100, func() {
		_ = a.Compute(snap, block, 0.8)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Compute hot path, got %.1f", allocs)
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		in      string
		want    WindowFunc
		wantErr bool
	}{
		{"Blackman", Blackman, false},
		{"hanning", Hann, false},
		{"NUTTALL", Nuttall, false},
		{"", Hann, false},
		{"triangle", Hann, true},
	}
	for _, tt := range tests {
		got, err := ParseWindowFunc(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseWindowFunc(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func BenchmarkCompute(b *testing.B) {
	a := newTestAnalyser(b)
	snap := make(FrequencySnapshot, a.Bins())
	block := utils.GenerateComplexWave(testFFTSize, testSampleRate)

	b.ReportAllocs()

	for b.Loop() {
		_ = a.Compute(snap, block, 0.8)
	}
}
