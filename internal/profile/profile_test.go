// SPDX-License-Identifier: MIT
package profile

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"reactor/internal/analysis"
	"reactor/internal/config"
	"reactor/pkg/utils"
)

func TestTrackID(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"/music/Daft Punk - One More Time.mp3", "daft-punk-one-more-time"},
		{"song.flac", "song"},
		{"C:/tracks/__Intro__.WAV", "intro"},
		{"mix (2024) [Live].ogg", "mix-2024-live"},
		{"Ünïcode Sóng.mp3", "ünïcode-sóng"},
		{"---.mp3", "track"},
		{"", "track"},
	}
	for _, tt := range tests {
		if got := TrackID(tt.path); got != tt.want {
			t.Errorf("TrackID(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLoaderMissingProfileIsNotAnError(t *testing.T) {
	l := NewLoader(t.TempDir())
	p, err := l.Load("unknown")
	if err != nil || p != nil {
		t.Errorf("Load(missing) = %v, %v; want nil, nil", p, err)
	}

	l = NewLoader(filepath.Join(t.TempDir(), "does-not-exist"))
	if p, err := l.Load("x"); err != nil || p != nil {
		t.Errorf("Load from missing dir = %v, %v", p, err)
	}
}

func TestLoaderMalformedProfile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader(dir).Load("bad"); err == nil {
		t.Error("Load(malformed) error = nil")
	}
}

func TestLoaderRejectsPathIDs(t *testing.T) {
	l := NewLoader(t.TempDir())
	for _, id := range []string{"", "..", "../etc/passwd", `a\b`} {
		if _, err := l.Load(id); err == nil {
			t.Errorf("Load(%q) error = nil", id)
		}
	}
}

func TestLoaderSaveLoadList(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "profiles"))
	threshold := 0.35
	want := &TrackProfile{
		ID:       "one-more-time",
		Title:    "One More Time",
		Analyzer: config.AnalyzerOverride{EnergyThreshold: &threshold},
		Stats:    &Stats{EnergyAvg: 0.3, BPM: 123},
	}
	if err := l.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := l.Save(&TrackProfile{ID: "another"}); err != nil {
		t.Fatal(err)
	}

	got, err := l.Load("one-more-time")
	if err != nil || got == nil {
		t.Fatalf("Load() = %v, %v", got, err)
	}
	if got.Title != want.Title || *got.Analyzer.EnergyThreshold != threshold || got.Stats.BPM != 123 {
		t.Errorf("Load() = %+v", got)
	}
	if got.Analyzer.BeatSensitivity != nil {
		t.Error("unset override field came back set")
	}

	ids, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "another" || ids[1] != "one-more-time" {
		t.Errorf("List() = %v", ids)
	}
}

func TestLoadFillsMissingID(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "quiet.json"), []byte(`{"analyzer":{"energyThreshold":0.1}}`), 0o644)
	p, err := NewLoader(dir).Load("quiet")
	if err != nil || p == nil {
		t.Fatalf("Load() = %v, %v", p, err)
	}
	if p.ID != "quiet" {
		t.Errorf("ID = %q, want quiet", p.ID)
	}
}

func TestApply(t *testing.T) {
	base := config.DefaultAnalyzer()
	if got := Apply(base, nil); got != base {
		t.Errorf("Apply(nil) = %+v, want base", got)
	}

	threshold, weight := 0.4, 99.0
	p := &TrackProfile{Analyzer: config.AnalyzerOverride{
		EnergyThreshold: &threshold,
		BassWeight:      &weight,
	}}
	got := Apply(base, p)
	if got.EnergyThreshold != 0.4 {
		t.Errorf("EnergyThreshold = %v, want 0.4", got.EnergyThreshold)
	}
	if got.BassWeight != config.MaxBandWeight {
		t.Errorf("BassWeight = %v, want clamp to %v", got.BassWeight, config.MaxBandWeight)
	}
	if got.MidWeight != base.MidWeight || got.BeatSensitivity != base.BeatSensitivity {
		t.Error("Apply changed fields the profile does not set")
	}
}

func TestTitleFallsBackToFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Night Drive.mp3")
	os.WriteFile(path, []byte("not an mp3"), 0o644)
	if got := Title(path); got != "Night Drive" {
		t.Errorf("Title() = %q, want Night Drive", got)
	}
	if got := Title(filepath.Join(t.TempDir(), "missing.flac")); got != "missing" {
		t.Errorf("Title(missing) = %q", got)
	}
}

func TestGenerate(t *testing.T) {
	const sr = 44100.0
	pcm := utils.GenerateKickTrack(10, sr, 120)
	base := config.DefaultAnalyzer()

	p, err := Generate(context.Background(), pcm, sr, 1024, base)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if p.Stats == nil {
		t.Fatal("Generate() returned no stats")
	}
	if math.Abs(p.Stats.BPM-120) > 3 {
		t.Errorf("BPM = %v, want about 120", p.Stats.BPM)
	}
	if math.Abs(p.Stats.BeatIntervalMs-500) > 15 {
		t.Errorf("BeatIntervalMs = %v, want about 500", p.Stats.BeatIntervalMs)
	}
	if p.Stats.EnergyMax < p.Stats.EnergyAvg || p.Stats.EnergyAvg < p.Stats.EnergyMin {
		t.Errorf("inconsistent stats %+v", p.Stats)
	}

	applied := Apply(base, p)
	if applied != p.Analyzer.Apply(base) {
		t.Error("Apply disagrees with the override")
	}
	for name, v := range map[string]*float64{
		"EnergyThreshold":   p.Analyzer.EnergyThreshold,
		"BeatSensitivity":   p.Analyzer.BeatSensitivity,
		"MinBeatIntervalMs": p.Analyzer.MinBeatIntervalMs,
	} {
		if v == nil {
			t.Errorf("%s override not set", name)
		}
	}
	if *p.Analyzer.MinBeatIntervalMs != applied.MinBeatIntervalMs {
		t.Error("stored override is not the clamped value")
	}
}

func TestGenerateErrors(t *testing.T) {
	base := config.DefaultAnalyzer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		pcm  []float32
		sr   float64
		want error
	}{
		{"no audio", context.Background(), nil, 44100, analysis.ErrNoAudio},
		{"bad rate", context.Background(), make([]float32, 4096), 0, analysis.ErrBadRate},
		{"too short", context.Background(), make([]float32, 100), 44100, analysis.ErrTooShort},
		{"cancelled", ctx, utils.GenerateKickTrack(4, 22050, 120), 22050, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.ctx, tt.pcm, tt.sr, 1024, base)
			if !errors.Is(err, tt.want) {
				t.Errorf("Generate() error = %v, want %v", err, tt.want)
			}
		})
	}
}
