// SPDX-License-Identifier: MIT
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	applog "reactor/internal/log"
)

// Settings is the persisted tuning layout: the analyzer record plus nested
// per-effect-kind and per-visual-parameter sections.
type Settings struct {
	Analyzer AnalyzerConfig `json:"analyzer"`
	Effects  EffectsConfig  `json:"effects"`
	Visual   VisualConfig   `json:"visual"`
}

// Defaults returns the compiled-in settings.
func Defaults() Settings {
	return Settings{
		Analyzer: DefaultAnalyzer(),
		Effects:  DefaultEffects(),
		Visual:   DefaultVisual(),
	}
}

// Clamp bounds every section in place.
func (s *Settings) Clamp() {
	s.Analyzer.Clamp()
	s.Effects.Clamp()
	s.Visual.Clamp()
}

// Validate reports out-of-range values as a *ConfigurationError without
// modifying s.
func (s Settings) Validate() error {
	var chk fieldCheck
	s.Analyzer.validate(&chk)
	s.Effects.validate(&chk)
	s.Visual.validate(&chk)
	return chk.err()
}

// clone returns a deep copy (the palette slice is not shared).
func (s Settings) clone() Settings {
	s.Visual.Palette = append([]string(nil), s.Visual.Palette...)
	return s
}

// Import decodes partial JSON over the compiled-in defaults. Fields missing
// from data keep their default; nested sections merge field by field. Values
// outside their range are clamped and logged, never rejected.
func Import(data []byte) (Settings, error) {
	s := Defaults()
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Defaults(), fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		applog.Warnf("Settings: %v; clamping", err)
	}
	s.Clamp()
	return s, nil
}

// Export writes s as indented JSON.
func Export(w io.Writer, s Settings) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return nil
}

// LoadSettings reads a settings file. A missing file yields defaults.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), fmt.Errorf("failed to read settings file: %w", err)
	}
	return Import(data)
}

// SaveSettings writes s to path, creating parent directories.
func SaveSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	var buf bytes.Buffer
	if err := Export(&buf, s); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// Live is the mutable settings holder shared between the tick loop and the
// debug UI. Readers take a snapshot per tick; writers go through Update* which
// clamp after every change.
type Live struct {
	mu sync.RWMutex
	s  Settings
}

// NewLive returns a holder seeded with s (clamped).
func NewLive(s Settings) *Live {
	s = s.clone()
	s.Clamp()
	return &Live{s: s}
}

// Snapshot returns a deep copy of the current settings.
func (l *Live) Snapshot() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.clone()
}

// Analyzer returns the current analyzer tuning.
func (l *Live) Analyzer() AnalyzerConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.Analyzer
}

// Effects returns the current per-kind tuning.
func (l *Live) Effects() EffectsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.Effects
}

// Visual returns a copy of the current visual parameters.
func (l *Live) Visual() VisualConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.clone().Visual
}

// UpdateAnalyzer applies fn to the analyzer record and clamps the result.
func (l *Live) UpdateAnalyzer(fn func(*AnalyzerConfig)) AnalyzerConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.s.Analyzer)
	l.s.Analyzer.Clamp()
	return l.s.Analyzer
}

// UpdateEffect applies fn to one effect section and clamps the result.
func (l *Live) UpdateEffect(kind EffectKind, fn func(*EffectConfig)) EffectConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.s.Effects.ptr(kind)
	fn(p)
	p.Clamp(DefaultEffects().Get(kind))
	return *p
}

// UpdateVisual applies fn to the visual section and clamps the result.
func (l *Live) UpdateVisual(fn func(*VisualConfig)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.s.Visual)
	l.s.Visual.Clamp()
}

// Replace swaps in a whole settings value (clamped).
func (l *Live) Replace(s Settings) {
	s = s.clone()
	s.Clamp()
	l.mu.Lock()
	l.s = s
	l.mu.Unlock()
}
