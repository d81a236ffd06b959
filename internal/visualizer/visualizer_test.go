// SPDX-License-Identifier: MIT
package visualizer

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reactor/internal/audio"
	"reactor/internal/config"
	"reactor/internal/effects"
	"reactor/internal/profile"
	"reactor/pkg/utils"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	idle := config.DefaultIdle()
	idle.PollInterval = 10 * time.Millisecond
	idle.TickInterval = 2 * time.Millisecond
	idle.GracePeriod = time.Hour
	idle.Period = 200 * time.Millisecond
	return Config{
		FFTSize:     512,
		Window:      "Hann",
		Positions:   200,
		Idle:        idle,
		ProfilesDir: t.TempDir(),
	}
}

func fastSettings() *config.Live {
	live := config.NewLive(config.Defaults())
	live.UpdateAnalyzer(func(c *config.AnalyzerConfig) { c.AnalyzeIntervalMs = config.MinAnalyzeIntervalMs })
	return live
}

func newTest(t *testing.T, cfg Config, opts ...Option) *Visualizer {
	t.Helper()
	v, err := New(fastSettings(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// frameLog collects frames delivered to OnFrame.
type frameLog struct {
	mu     sync.Mutex
	frames []effects.Frame
}

func (l *frameLog) add(f effects.Frame) {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
}

func (l *frameLog) snapshot() []effects.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]effects.Frame(nil), l.frames...)
}

func TestNewRejectsUnknownWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Window = "triangle-ish"
	if _, err := New(fastSettings(), cfg); err == nil {
		t.Fatal("New accepted an unknown window")
	}
}

func TestInitializeFailureFallsBackToIdle(t *testing.T) {
	cfg := testConfig(t)
	probeErr := errors.New("no audio backend")
	v := newTest(t, cfg, WithProbe(func() error { return probeErr }))

	var frames frameLog
	v.OnFrame(frames.add)

	err := v.Initialize(audio.NewPCMSource("track", 44100, nil))
	var initErr *audio.InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("Initialize error = %v, want InitializationError", err)
	}
	if !errors.Is(err, audio.ErrNoCapability) || !errors.Is(err, probeErr) {
		t.Errorf("error %v does not wrap both the sentinel and the probe cause", err)
	}

	waitFor(t, "idle animation", v.Idle)
	waitFor(t, "idle frames", func() bool { return len(frames.snapshot()) >= 10 })

	for i, f := range frames.snapshot() {
		if f.Energy < cfg.Idle.Min || f.Energy > cfg.Idle.Max {
			t.Fatalf("frame %d energy %v outside idle range [%v, %v]", i, f.Energy, cfg.Idle.Min, cfg.Idle.Max)
		}
	}

	// Start reports the same failure and leaves the fallback running.
	if err := v.Start(); !errors.Is(err, audio.ErrNoCapability) {
		t.Errorf("Start error = %v, want ErrNoCapability", err)
	}
	if !v.Idle() {
		t.Error("idle animation stopped after failed Start")
	}
}

func TestLiveSourceDrivesFrames(t *testing.T) {
	v := newTest(t, testConfig(t))
	src := audio.NewPCMSource("sine", 44100, nil)
	if err := v.Initialize(src); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v.SetMusicPlaying(true)

	var frames frameLog
	v.OnFrame(frames.add)
	var energies atomic.Int64
	v.OnEnergy(func(float64) { energies.Add(1) })

	if err := v.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Broadband noise lights up every band.
		rng := rand.New(rand.NewPCG(1, 2))
		block := make([]float32, 512)
		for i := range block {
			block[i] = float32(rng.Float64()*1.6 - 0.8)
		}
		for {
			select {
			case <-stop:
				return
			default:
			}
			src.Push(block)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	defer func() {
		close(stop)
		<-done
	}()

	waitFor(t, "active frames", func() bool {
		for _, f := range frames.snapshot() {
			if f.AudioActive && f.Energy > 0 {
				return true
			}
		}
		return false
	})
	if v.Ticks() == 0 {
		t.Error("frames arrived without analysis ticks")
	}
	if energies.Load() == 0 {
		t.Error("OnEnergy never called")
	}
	if v.Idle() {
		t.Error("idle animation active during live audio")
	}
	for _, f := range frames.snapshot() {
		if f.Tiles > 80 {
			t.Fatalf("tile count %d exceeds 40%% of 200 positions", f.Tiles)
		}
	}
}

func TestMusicPlaybackPreemptsIdle(t *testing.T) {
	v := newTest(t, testConfig(t))
	if err := v.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "idle animation", v.Idle)

	v.SetMusicPlaying(true)
	waitFor(t, "idle to yield", func() bool { return !v.Idle() })
	if !v.State().IsMusicPlaying {
		t.Error("store does not report playback")
	}
}

func TestSyntheticBeatsReachOnBeat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Idle.BeatProbability = 1
	v := newTest(t, cfg)

	var beats atomic.Int64
	v.OnBeat(func(time.Time) { beats.Add(1) })
	if err := v.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "synthetic beat", func() bool { return beats.Load() > 0 })
}

func TestLoadTrack(t *testing.T) {
	cfg := testConfig(t)
	v := newTest(t, cfg)

	threshold := 0.3
	if err := v.Profiles().Save(&profile.TrackProfile{
		ID:       "anthem",
		Analyzer: config.AnalyzerOverride{EnergyThreshold: &threshold},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.ProfilesDir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	def := v.Settings().Analyzer()

	tests := []struct {
		id          string
		wantProfile bool
		want        float64
	}{
		{"anthem", true, 0.3},
		{"no-such-track", false, def.EnergyThreshold},
		{"anthem", true, 0.3},
		{"broken", false, def.EnergyThreshold},
	}
	for _, tt := range tests {
		p := v.LoadTrack(tt.id)
		if (p != nil) != tt.wantProfile {
			t.Errorf("LoadTrack(%q) profile = %v, want present=%t", tt.id, p, tt.wantProfile)
		}
		got := v.Settings().Analyzer()
		if got.EnergyThreshold != tt.want {
			t.Errorf("LoadTrack(%q) threshold = %v, want %v", tt.id, got.EnergyThreshold, tt.want)
		}
		if got.BeatSensitivity != def.BeatSensitivity {
			t.Errorf("LoadTrack(%q) touched sensitivity: %v", tt.id, got.BeatSensitivity)
		}
		if v.Track() != tt.id {
			t.Errorf("Track() = %q, want %q", v.Track(), tt.id)
		}
	}
}

func TestLoadTrackKeepsUIEditsWithoutProfile(t *testing.T) {
	v := newTest(t, testConfig(t))
	v.Settings().UpdateAnalyzer(func(c *config.AnalyzerConfig) { c.BeatSensitivity = 2 })
	v.LoadTrack("unknown")
	if got := v.Settings().Analyzer().BeatSensitivity; got != 2 {
		t.Errorf("sensitivity = %v, want UI edit 2 kept", got)
	}
}

func TestStopIsSafeFromAnyState(t *testing.T) {
	v := newTest(t, testConfig(t))
	v.Stop()
	if err := v.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	v.Stop()
	v.Stop()
	if v.Idle() {
		t.Error("idle still active after Stop")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	v, err := New(fastSettings(), testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := audio.NewPCMSource("track", 44100, nil)
	if err := v.Initialize(src); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := v.Initialize(src); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if v.registry.Built() != 1 {
		t.Errorf("graphs built = %d, want 1", v.registry.Built())
	}
	mock := &utils.MockTransport{}
	v.AddTransport(mock)
	if err := v.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if v.registry.Live() != 0 || v.registry.Released() != 1 {
		t.Errorf("live=%d released=%d, want 0/1", v.registry.Live(), v.registry.Released())
	}
	if src.Taps() != 0 {
		t.Errorf("source still has %d taps", src.Taps())
	}
	if !mock.Closed {
		t.Error("transport not closed")
	}
	if err := v.Start(); err == nil {
		t.Error("Start after Close succeeded")
	}
}
