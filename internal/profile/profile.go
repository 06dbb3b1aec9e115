// Package profile reads and writes the YAML profile library used to seed
// the store.
package profile

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/reflow-controller/internal/logic"
)

// File is the on-disk layout of a profile library.
type File struct {
	Profiles []Entry `yaml:"profiles"`
}

// Entry is one profile in the library.
type Entry struct {
	Name     string `yaml:"name"`
	Preheat  Stage  `yaml:"preheat"`
	Soak     Stage  `yaml:"soak"`
	Reflow   Stage  `yaml:"reflow"`
	Cooldown Stage  `yaml:"cooldown"`
}

// Stage is a target temperature held for a duration in milliseconds.
type Stage struct {
	TempC      float64 `yaml:"temp_c"`
	DurationMs int64   `yaml:"duration_ms"`
}

func (s Stage) duration() time.Duration {
	return logic.DurationMs(s.DurationMs)
}

func stage(temp float64, d time.Duration) Stage {
	return Stage{TempC: temp, DurationMs: d.Milliseconds()}
}

// Profile converts the entry to a logic.Profile.
func (e Entry) Profile() logic.Profile {
	return logic.Profile{
		Name:             e.Name,
		PreheatTemp:      e.Preheat.TempC,
		PreheatDuration:  e.Preheat.duration(),
		SoakTemp:         e.Soak.TempC,
		SoakDuration:     e.Soak.duration(),
		ReflowTemp:       e.Reflow.TempC,
		ReflowDuration:   e.Reflow.duration(),
		CooldownTemp:     e.Cooldown.TempC,
		CooldownDuration: e.Cooldown.duration(),
	}
}

// FromProfile converts a logic.Profile to a library entry.
func FromProfile(p logic.Profile) Entry {
	return Entry{
		Name:     p.Name,
		Preheat:  stage(p.PreheatTemp, p.PreheatDuration),
		Soak:     stage(p.SoakTemp, p.SoakDuration),
		Reflow:   stage(p.ReflowTemp, p.ReflowDuration),
		Cooldown: stage(p.CooldownTemp, p.CooldownDuration),
	}
}

// Load reads and validates the library at filename. A missing file yields
// no profiles and no error.
func Load(filename string) ([]logic.Profile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a library.
func Parse(data []byte) ([]logic.Profile, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}

	seen := make(map[string]bool, len(f.Profiles))
	out := make([]logic.Profile, 0, len(f.Profiles))
	for i, e := range f.Profiles {
		p := e.Profile()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %d (%q): %w", i, e.Name, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("profile %d: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out, nil
}

// Save writes profiles to filename as YAML.
func Save(filename string, profiles []logic.Profile) error {
	f := File{Profiles: make([]Entry, len(profiles))}
	for i, p := range profiles {
		f.Profiles[i] = FromProfile(p)
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	return nil
}
