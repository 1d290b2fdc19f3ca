package tuidaw

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Session is the on-disk project format: one rack and one song in a single
// YAML document.
type Session struct {
	Rack Rack `yaml:"rack"`
	Song Song `yaml:"song"`
}

// LoadSession reads a session file. Songs saved without tempo fields get the
// config-independent defaults filled in.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session %v: %w", path, err)
	}
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session %v: %w", path, err)
	}
	if s.Song.BPM <= 0 {
		s.Song.BPM = 120
	}
	if s.Song.TicksPerBeat <= 0 {
		s.Song.TicksPerBeat = DefaultTicksPerBeat
	}
	if s.Song.TimeSignature == [2]int{} {
		s.Song.TimeSignature = [2]int{4, 4}
	}
	return &s, nil
}

// Save writes the session as YAML.
func (s *Session) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("could not serialize session: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write session %v: %w", path, err)
	}
	return nil
}
