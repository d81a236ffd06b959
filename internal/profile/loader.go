// SPDX-License-Identifier: MIT
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Loader reads and writes profiles stored as <dir>/<id>.json.
type Loader struct {
	dir string
}

// NewLoader returns a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the profile directory.
func (l *Loader) Dir() string { return l.dir }

// Path returns the file a profile with id is stored in.
func (l *Loader) Path(id string) string {
	return filepath.Join(l.dir, id+".json")
}

// Load returns the profile for id. A missing profile is not an error: it
// returns nil, nil and callers keep their defaults. A malformed file returns
// an error, which callers log and otherwise ignore.
func (l *Loader) Load(id string) (*TrackProfile, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading profile %q: %w", id, err)
	}

	var p TrackProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %q: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// Save writes p as indented JSON, creating the directory if needed.
func (l *Loader) Save(p *TrackProfile) error {
	if p == nil {
		return errors.New("nil profile")
	}
	if err := checkID(p.ID); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.Path(p.ID), append(data, '\n'), 0o644)
}

// List returns the IDs of every stored profile, sorted.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	slices.Sort(ids)
	return ids, nil
}

// checkID rejects identities that would escape the profile directory.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid profile id %q", id)
	}
	return nil
}
