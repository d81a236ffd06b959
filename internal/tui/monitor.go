// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"reactor/internal/config"
	"reactor/internal/reaction"
	"reactor/internal/visualizer"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	beatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF2E4C")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C6C6C"))
)

const (
	refreshInterval = 33 * time.Millisecond
	beatFlashFrames = 4
	meterWidth      = 48
)

// Target is what the monitor observes and tunes.
type Target interface {
	State() reaction.State
	Settings() *config.Live
	Idle() bool
	Ticks() int64
	Track() string
}

var _ Target = (*visualizer.Visualizer)(nil)

type monitorKeys struct {
	Up    key.Binding
	Down  key.Binding
	Less  key.Binding
	More  key.Binding
	Save  key.Binding
	Reset key.Binding
	Help  key.Binding
	Quit  key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Less, k.Save, k.Help, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Less, k.More}, {k.Save, k.Reset, k.Help, k.Quit}}
}

var defaultMonitorKeys = monitorKeys{
	Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "prev knob")),
	Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next knob")),
	Less:  key.NewBinding(key.WithKeys("left", "h", "-"), key.WithHelp("←/h", "decrease")),
	More:  key.NewBinding(key.WithKeys("right", "l", "+", "="), key.WithHelp("→/l", "increase")),
	Save:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save settings")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset analyzer")),
	Help:  key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// refreshMsg drives the meter redraw.
type refreshMsg time.Time

// savedMsg reports the outcome of a settings save.
type savedMsg struct{ err error }

// Monitor is the Bubble Tea model of the live debug monitor: an energy
// meter, a beat lamp and knobs for the analyzer tuning.
type Monitor struct {
	target       Target
	settingsPath string
	keys         monitorKeys
	help         help.Model
	meter        progress.Model

	selected int
	state    reaction.State
	idle     bool
	ticks    int64
	lastBeat time.Time
	beats    int
	flash    int
	status   string
}

// NewMonitor returns a monitor for target. Saving writes to settingsPath;
// an empty path disables saving.
func NewMonitor(target Target, settingsPath string) Monitor {
	return Monitor{
		target:       target,
		settingsPath: settingsPath,
		keys:         defaultMonitorKeys,
		help:         help.New(),
		meter:        progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(meterWidth)),
	}
}

// Init starts the refresh loop.
func (m Monitor) Init() tea.Cmd {
	return refresh()
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

// Update handles input, refreshes and save results.
func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.meter.Width = min(max(msg.Width-24, 10), meterWidth)
		m.help.Width = msg.Width

	case refreshMsg:
		m.observe()
		return m, refresh()

	case savedMsg:
		if msg.err != nil {
			m.status = "save failed: " + msg.err.Error()
		} else {
			m.status = "saved " + m.settingsPath
		}

	case tea.KeyMsg:
		live := m.target.Settings()
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(analyzerKnobs)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Less):
			analyzerKnobs[m.selected].nudge(live, -1)
		case key.Matches(msg, m.keys.More):
			analyzerKnobs[m.selected].nudge(live, 1)
		case key.Matches(msg, m.keys.Reset):
			live.UpdateAnalyzer(func(c *config.AnalyzerConfig) { *c = config.DefaultAnalyzer() })
			m.status = "analyzer reset to defaults"
		case key.Matches(msg, m.keys.Save):
			if m.settingsPath == "" {
				m.status = "no settings file configured"
				break
			}
			return m, m.save(live.Snapshot())
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

func (m Monitor) save(s config.Settings) tea.Cmd {
	path := m.settingsPath
	return func() tea.Msg {
		return savedMsg{err: config.SaveSettings(path, s)}
	}
}

// observe pulls the latest state from the target.
func (m *Monitor) observe() {
	m.state = m.target.State()
	m.idle = m.target.Idle()
	m.ticks = m.target.Ticks()
	if m.state.LastBeatTime.After(m.lastBeat) {
		m.lastBeat = m.state.LastBeatTime
		m.beats++
		m.flash = beatFlashFrames
	} else if m.flash > 0 {
		m.flash--
	}
}

// View renders the monitor.
func (m Monitor) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Reactor Monitor"))
	if track := m.target.Track(); track != "" {
		sb.WriteString(" " + infoStyle.Render(track))
	}
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Energy  %s %.3f\n", m.meter.ViewAs(m.state.Energy), m.state.Energy)

	lamp := dimStyle.Render("○ beat")
	if m.flash > 0 || m.state.BeatDetected {
		lamp = beatStyle.Render("● BEAT")
	}
	source := highlightStyle.Render("live")
	switch {
	case m.idle:
		source = dimStyle.Render("idle animation")
	case !m.state.IsAudioActive:
		source = dimStyle.Render("silent")
	}
	playing := "stopped"
	if m.state.IsMusicPlaying {
		playing = "playing"
	}
	fmt.Fprintf(&sb, "%s   beats %d   ticks %d   %s   %s\n\n", lamp, m.beats, m.ticks, source, playing)

	cfg := m.target.Settings().Analyzer()
	for i, k := range analyzerKnobs {
		line := fmt.Sprintf("  %-18s %10s", k.name, k.format(cfg))
		if i == m.selected {
			line = highlightStyle.Render("▶" + line[1:])
		}
		sb.WriteString(line + "\n")
	}

	if m.status != "" {
		sb.WriteString("\n" + infoStyle.Render(m.status) + "\n")
	}
	sb.WriteString("\n" + m.help.View(m.keys))
	return sb.String()
}

// RunMonitor runs the monitor until the user quits.
func RunMonitor(target Target, settingsPath string) error {
	p := tea.NewProgram(NewMonitor(target, settingsPath), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
