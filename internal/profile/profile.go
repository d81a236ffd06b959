// SPDX-License-Identifier: MIT
package profile

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/bogem/id3v2/v2"

	"reactor/internal/config"
)

// Stats are offline measurements of a track.
type Stats struct {
	EnergyMin       float64 `json:"energyMin"`
	EnergyMax       float64 `json:"energyMax"`
	EnergyAvg       float64 `json:"energyAvg"`
	EnergyStdDev    float64 `json:"energyStdDev"`
	DynamicRange    float64 `json:"dynamicRange"`
	BeatIntervalMs  float64 `json:"beatIntervalMs,omitempty"` // Nominal beat period.
	BPM             float64 `json:"bpm,omitempty"`
	TempoConfidence float64 `json:"tempoConfidence,omitempty"`
}

// TrackProfile is a per-track override of analyzer tuning.
type TrackProfile struct {
	ID        string                  `json:"id"`
	Title     string                  `json:"title,omitempty"`
	Analyzer  config.AnalyzerOverride `json:"analyzer"`
	Stats     *Stats                  `json:"stats,omitempty"`
	Generated time.Time               `json:"generated,omitzero"`
}

// TrackID derives a stable identity from a file path: the lower-case base
// name without extension, with runs of other characters collapsed to '-'.
func TrackID(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	id := strings.TrimSuffix(b.String(), "-")
	if id == "" {
		return "track"
	}
	return id
}

// Apply overlays the fields the profile sets on base and clamps the result.
// A nil profile returns base unchanged (clamped).
func Apply(base config.AnalyzerConfig, p *TrackProfile) config.AnalyzerConfig {
	if p == nil {
		base.Clamp()
		return base
	}
	return p.Analyzer.Apply(base)
}

// Title reads the ID3v2 title (and artist) of path, falling back to the
// file name without extension.
func Title(path string) string {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err == nil {
		defer tag.Close()
		title := strings.TrimSpace(tag.Title())
		artist := strings.TrimSpace(tag.Artist())
		if title != "" {
			if artist != "" {
				return artist + " - " + title
			}
			return title
		}
	}

	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
