// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"reactor/internal/audio"
	"reactor/internal/config"
	"reactor/internal/reaction"
)

type fakeTarget struct {
	live  *config.Live
	state reaction.State
	idle  bool
	ticks int64
}

func (f *fakeTarget) State() reaction.State  { return f.state }
func (f *fakeTarget) Settings() *config.Live { return f.live }
func (f *fakeTarget) Idle() bool             { return f.idle }
func (f *fakeTarget) Ticks() int64           { return f.ticks }
func (f *fakeTarget) Track() string          { return "test-track" }

func newTarget() *fakeTarget {
	return &fakeTarget{live: config.NewLive(config.Defaults())}
}

func press(m tea.Model, keys ...string) tea.Model {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "left":
			msg = tea.KeyMsg{Type: tea.KeyLeft}
		case "right":
			msg = tea.KeyMsg{Type: tea.KeyRight}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		m, _ = m.Update(msg)
	}
	return m
}

func TestKnobsAdjustLiveSettings(t *testing.T) {
	target := newTarget()
	def := config.DefaultAnalyzer()
	m := tea.Model(NewMonitor(target, ""))

	tests := []struct {
		name  string
		keys  []string
		field func(config.AnalyzerConfig) float64
		want  float64
	}{
		{"threshold up", []string{"right", "right"}, func(c config.AnalyzerConfig) float64 { return c.EnergyThreshold }, def.EnergyThreshold + 0.02},
		{"sensitivity down", []string{"down", "left"}, func(c config.AnalyzerConfig) float64 { return c.BeatSensitivity }, def.BeatSensitivity - 0.1},
		{"interval up", []string{"down", "l"}, func(c config.AnalyzerConfig) float64 { return c.AnalyzeIntervalMs }, def.AnalyzeIntervalMs + 5},
		{"smoothing down", []string{"down", "-"}, func(c config.AnalyzerConfig) float64 { return c.SmoothingTimeConstant }, def.SmoothingTimeConstant - 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m = press(m, tt.keys...)
			if got := tt.field(target.live.Analyzer()); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKnobClamps(t *testing.T) {
	live := config.NewLive(config.Defaults())
	k := analyzerKnobs[0]
	for range 200 {
		k.nudge(live, -1)
	}
	if got := live.Analyzer().EnergyThreshold; got != config.MinEnergyThreshold {
		t.Errorf("threshold = %v, want floor %v", got, config.MinEnergyThreshold)
	}
}

func TestMonitorSelectionBounds(t *testing.T) {
	m := press(NewMonitor(newTarget(), ""), "up", "up")
	if sel := m.(Monitor).selected; sel != 0 {
		t.Errorf("selected = %d after up at top", sel)
	}
	for range len(analyzerKnobs) + 3 {
		m = press(m, "down")
	}
	if sel := m.(Monitor).selected; sel != len(analyzerKnobs)-1 {
		t.Errorf("selected = %d, want last knob", sel)
	}
}

func TestMonitorResetAndSave(t *testing.T) {
	target := newTarget()
	path := filepath.Join(t.TempDir(), "settings.json")
	m := press(NewMonitor(target, path), "right", "r")
	if got := target.live.Analyzer(); got != config.DefaultAnalyzer() {
		t.Errorf("reset left %+v", got)
	}

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	if cmd == nil {
		t.Fatal("save produced no command")
	}
	m, _ = m.Update(cmd())
	if status := m.(Monitor).status; !strings.HasPrefix(status, "saved") {
		t.Errorf("status = %q", status)
	}
	if _, err := config.LoadSettings(path); err != nil {
		t.Errorf("saved settings unreadable: %v", err)
	}
}

func TestMonitorSaveWithoutPath(t *testing.T) {
	m := press(NewMonitor(newTarget(), ""), "s")
	if status := m.(Monitor).status; status != "no settings file configured" {
		t.Errorf("status = %q", status)
	}
}

func TestMonitorCountsBeats(t *testing.T) {
	target := newTarget()
	m := tea.Model(NewMonitor(target, ""))
	base := time.Now()

	step := func() { m, _ = m.Update(refreshMsg(time.Now())) }
	target.state = reaction.State{Energy: 0.4, LastBeatTime: base, BeatDetected: true, IsAudioActive: true}
	step()
	step() // same beat, not counted again
	target.state.LastBeatTime = base.Add(500 * time.Millisecond)
	step()

	mon := m.(Monitor)
	if mon.beats != 2 {
		t.Errorf("beats = %d, want 2", mon.beats)
	}
	view := mon.View()
	for _, want := range []string{"Reactor Monitor", "test-track", "BEAT", "Energy threshold", "0.400"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestMonitorQuit(t *testing.T) {
	_, cmd := NewMonitor(newTarget(), "").Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("no quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func testDevices() []audio.Device {
	return []audio.Device{
		{ID: 0, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{ID: 1, Name: "Built-in Mic", MaxInputChannels: 1, DefaultSampleRate: 44100},
		{ID: 2, Name: "Interface", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 96000},
	}
}

func TestDevicePickerChoosesInputAndRate(t *testing.T) {
	p := DevicePicker{fetch: func() ([]audio.Device, error) { return testDevices(), nil }}

	msg := p.Init()()
	dm, ok := msg.(devicesMsg)
	if !ok {
		t.Fatalf("Init produced %T", msg)
	}
	if len(dm.devices) != 2 {
		t.Fatalf("listed %d devices, want 2 inputs", len(dm.devices))
	}

	var m tea.Model = p
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = m.Update(dm)
	if !strings.Contains(m.View(), "Built-in Mic") {
		t.Errorf("view missing device:\n%s", m.View())
	}

	m = press(m, "down", "enter")
	if got := m.(DevicePicker).sampleRateIndex; commonSampleRates[got] != 96000 {
		t.Errorf("rate preselect = %v, want device default 96000", commonSampleRates[got])
	}
	m = press(m, "up", "esc", "enter", "enter")
	choice := m.(DevicePicker).Choice()
	if choice == nil {
		t.Fatal("no choice")
	}
	if choice.Device.ID != 2 || choice.SampleRate != 96000 {
		t.Errorf("choice = %+v, want device 2 at 96000", choice)
	}
}

func TestDevicePickerError(t *testing.T) {
	boom := errors.New("no portaudio")
	p := DevicePicker{fetch: func() ([]audio.Device, error) { return nil, boom }}
	m, _ := p.Update(p.Init()())
	if !strings.Contains(m.View(), "no portaudio") {
		t.Errorf("view = %q", m.View())
	}
	if m.(DevicePicker).Choice() != nil {
		t.Error("choice set after error")
	}
}
