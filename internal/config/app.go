// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardware and processing limits for the audio section.
const (
	DefaultDeviceID = -1 // -1 represents the system default input device.
	MinSampleRate   = 8000
	MaxSampleRate   = 192000
	MinFFTSize      = 32
	MaxFFTSize      = 32768
)

// App is the application configuration, loaded from YAML. Tuning values that
// the debug UI edits live in Settings and are persisted separately as JSON.
type App struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (verbose logging).
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Audio capture and spectrum settings.
	Analysis  AnalysisConfig  `yaml:"analysis"`  // Analysis scheduling and tuning sources.
	Transport TransportConfig `yaml:"transport"` // Frame publishing to external renderers.
	Idle      IdleConfig      `yaml:"idle"`      // Idle fallback animation.
}

// AudioConfig holds settings related to audio input and the spectrum analyser.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for capture (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Capture sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per PortAudio callback.
	InputChannels   int     `yaml:"input_channels"`    // Channels to capture (downmixed to mono for analysis).
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from the device.
	FFTSize         int     `yaml:"fft_size"`          // Analyser FFT size; bin count is half of this.
	FFTWindow       string  `yaml:"fft_window"`        // Window function name (e.g., "Hann", "Blackman").
	RecordTo        string  `yaml:"record_to"`         // Optional WAV path for recording captured input.
}

// AnalysisConfig selects how ticks are computed and where tuning comes from.
type AnalysisConfig struct {
	UseWorker     bool          `yaml:"use_worker"`     // Compute energy/beat on a background worker.
	WorkerTimeout time.Duration `yaml:"worker_timeout"` // Per-request worker deadline before falling back in-process.
	SettingsFile  string        `yaml:"settings_file"`  // JSON tuning file (deep-merged over defaults).
	ProfilesDir   string        `yaml:"profiles_dir"`   // Directory of per-track profile JSON files.
}

// TransportConfig holds settings related to sending frames to renderers.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve frames over a WebSocket.
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address for the WebSocket server.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send reaction packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets.
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
}

// IdleConfig tunes the synthetic animation shown when nothing is playing.
type IdleConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`    // Watchdog cadence.
	GracePeriod     time.Duration `yaml:"grace_period"`     // Silence tolerated during playback before falling back.
	TickInterval    time.Duration `yaml:"tick_interval"`    // Synthetic energy update cadence.
	Period          time.Duration `yaml:"period"`           // Oscillation period of the idle wave.
	Base            float64       `yaml:"base"`             // Center of the idle wave.
	Amplitude       float64       `yaml:"amplitude"`        // Half-height of the idle wave.
	Min             float64       `yaml:"min"`              // Hard floor of synthetic energy.
	Max             float64       `yaml:"max"`              // Hard ceiling of synthetic energy.
	BeatProbability float64       `yaml:"beat_probability"` // Chance of a synthetic beat per tick.
}

// DefaultIdle returns the compiled-in idle fallback tuning.
func DefaultIdle() IdleConfig {
	return IdleConfig{
		PollInterval:    time.Second,
		GracePeriod:     5 * time.Second,
		TickInterval:    50 * time.Millisecond,
		Period:          4 * time.Second,
		Base:            0.175,
		Amplitude:       0.05,
		Min:             0.10,
		Max:             0.25,
		BeatProbability: 0.02,
	}
}

// DefaultApp returns the built-in application configuration.
func DefaultApp() App {
	return App{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      44100,
			FramesPerBuffer: 512,
			InputChannels:   1,
			LowLatency:      false,
			FFTSize:         2048,
			FFTWindow:       "Blackman",
		},
		Analysis: AnalysisConfig{
			UseWorker:     true,
			WorkerTimeout: 20 * time.Millisecond,
			SettingsFile:  "settings.json",
			ProfilesDir:   "profiles",
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddr:    ":8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond, // Default ~30Hz.
		},
		Idle: DefaultIdle(),
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("reactor.yaml", "config.yaml"). If no file is found, it
// uses built-in defaults. After loading defaults or from file, it applies environment
// variable overrides and validates the final configuration.
func LoadConfig(path string) (*App, error) {
	cfg := DefaultApp()

	if path == "" {
		candidates := []string{"reactor.yaml", "config.yaml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate rejects application settings the engine cannot start with.
func (c *App) Validate() error {
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %.0f outside %d..%d", c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.FFTSize < MinFFTSize || c.Audio.FFTSize > MaxFFTSize {
		return fmt.Errorf("audio.fft_size %d outside %d..%d", c.Audio.FFTSize, MinFFTSize, MaxFFTSize)
	}
	if c.Audio.InputChannels < 1 {
		return fmt.Errorf("audio.input_channels must be at least 1, got %d", c.Audio.InputChannels)
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			return fmt.Errorf("transport.udp_target_address must be set when UDP is enabled")
		}
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}
	if c.Idle.Min > c.Idle.Max {
		return fmt.Errorf("idle.min %.2f exceeds idle.max %.2f", c.Idle.Min, c.Idle.Max)
	}
	return nil
}

// applyEnvOverrides lets ENV_* variables override file and default values.
func (cfg *App) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok && val != "" {
		cfg.LogLevel = val
	}
	// ENV_PROFILES_DIR
	if val, ok := os.LookupEnv("ENV_PROFILES_DIR"); ok && val != "" {
		cfg.Analysis.ProfilesDir = val
	}

	// ENV_WS_{...} and ENV_UDP_{...} are specific to the transport layer.

	// ENV_WS_ADDR
	if val, ok := os.LookupEnv("ENV_WS_ADDR"); ok && val != "" {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddr = val
	}
	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
		}
	}
}
