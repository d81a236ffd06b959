// SPDX-License-Identifier: MIT
package utils

import (
	"math"
	"testing"
)

func TestMockTransport(t *testing.T) {
	mt := &MockTransport{}
	for i := range 3 {
		if err := mt.Send(i); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if mt.Count() != 3 {
		t.Errorf("Count() = %d, want 3", mt.Count())
	}
	if err := mt.Close(); err != nil || !mt.Closed {
		t.Errorf("Close() err=%v closed=%v", err, mt.Closed)
	}
}

func TestGenerateComplexWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
	}{
		{"Standard", 1024, 44100},
		{"Small", 16, 8000},
		{"Large", 8192, 96000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateComplexWave(tt.size, tt.sampleRate)
			if len(result) != tt.size {
				t.Errorf("GenerateComplexWave() buffer size = %d, want %d", len(result), tt.size)
			}
			hasNonZero := false
			for _, v := range result {
				if v > 1 || v < -1 {
					t.Fatalf("sample %f outside [-1, 1]", v)
				}
				if v != 0 {
					hasNonZero = true
				}
			}
			if !hasNonZero {
				t.Errorf("GenerateComplexWave() produced all zeros")
			}
		})
	}
}

func TestGenerateSineWave(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		sampleRate float64
		frequency  float64
	}{
		{"A4 Note", 1024, 44100, 440.0},
		{"Middle C", 1024, 44100, 261.63},
		{"High Sample Rate", 1024, 192000, 440.0},
		{"Low Sample Rate", 1024, 8000, 440.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateSineWave(tt.size, tt.sampleRate, tt.frequency)
			samplesPerCycle := tt.sampleRate / tt.frequency
			if samplesPerCycle > 2 && float64(tt.size) > samplesPerCycle {
				crossCount := 0
				for i := 1; i < tt.size; i++ {
					if (result[i-1] < 0 && result[i] >= 0) ||
						(result[i-1] >= 0 && result[i] < 0) {
						crossCount++
					}
				}
				// Two crossings per cycle, 20% margin for phase alignment.
				expected := float64(tt.size) / (samplesPerCycle / 2)
				if math.Abs(float64(crossCount)-expected) > 0.2*expected {
					t.Errorf("zero crossings = %d, expected approximately %.1f", crossCount, expected)
				}
			}
		})
	}
}

func TestGenerateKickTrack(t *testing.T) {
	const sr = 8000.0
	track := GenerateKickTrack(2, sr, 120)
	if len(track) != 16000 {
		t.Fatalf("len = %d, want 16000", len(track))
	}
	// Beats land every 0.5s; the gap just before the second beat is silent.
	if track[3999] != 0 {
		t.Errorf("expected silence before beat, got %f", track[3999])
	}
	if track[4010] == 0 {
		t.Errorf("expected burst after beat boundary")
	}
}

func TestFindPeakBin(t *testing.T) {
	mags := []uint8{1, 5, 3, 200, 7, 9}
	tests := []struct {
		name       string
		start, end int
		want       int
	}{
		{"Full", 0, 5, 3},
		{"Clamped", -4, 100, 3},
		{"Tail", 4, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FindPeakBin(mags, tt.start, tt.end); got != tt.want {
				t.Errorf("FindPeakBin() = %d, want %d", got, tt.want)
			}
		})
	}
	if FindPeakBin(nil, 0, 3) != 0 {
		t.Errorf("FindPeakBin(nil) should be 0")
	}
}
