package tuidaw

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the engine-wide limits and defaults. The zero value is not
// usable; start from DefaultConfig and override fields, or load a YAML file
// over the defaults with LoadConfig.
type Config struct {
	// ServerAddr is the UDP address of the scsynth server.
	ServerAddr string `yaml:"serveraddr"`

	// AudioBuses, ControlBuses and MaxNodes bound the allocator namespaces.
	// Exhausting any of them is a configuration error, not an expected
	// runtime condition.
	AudioBuses   int `yaml:"audiobuses"`
	ControlBuses int `yaml:"controlbuses"`
	MaxNodes     int `yaml:"maxnodes"`

	// HardwareChannels is the number of hardware output (and input) channel
	// pairs; the first 2*HardwareChannels audio buses are reserved for
	// hardware I/O and never allocated dynamically.
	HardwareChannels int `yaml:"hardwarechannels"`

	// MixerBuses is the number of stereo mixer-level buses carved from the
	// top of the audio bus range.
	MixerBuses int `yaml:"mixerbuses"`

	// AheadSeconds is how far into the future note bundles are time-tagged,
	// so that frame-rate jitter never delays an audible event.
	AheadSeconds float64 `yaml:"aheadseconds"`

	// ReleaseMarginSeconds is added to the worst-case envelope release when
	// deciding a releasing voice must be gone even without a node-end
	// notice from the server.
	ReleaseMarginSeconds float64 `yaml:"releasemarginseconds"`

	// Musical defaults for new songs.
	BPM           float64 `yaml:"bpm"`
	TicksPerBeat  int     `yaml:"ticksperbeat"`
	TimeSignature [2]int  `yaml:"timesignature,flow"`
	TuningA4      float64 `yaml:"tuninga4"`
}

// DefaultConfig returns the engine defaults: a local scsynth on the standard
// port and the server's default resource limits.
func DefaultConfig() Config {
	return Config{
		ServerAddr:           "127.0.0.1:57110",
		AudioBuses:           1024,
		ControlBuses:         16384,
		MaxNodes:             1024,
		HardwareChannels:     8,
		MixerBuses:           8,
		AheadSeconds:         0.05,
		ReleaseMarginSeconds: 0.25,
		BPM:                  120,
		TicksPerBeat:         DefaultTicksPerBeat,
		TimeSignature:        [2]int{4, 4},
		TuningA4:             440,
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file is
// not an error; the defaults are returned.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("could not read config %v: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config %v: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the limits leave room for the reserved ranges.
func (c *Config) Validate() error {
	if c.AudioBuses <= 2*c.HardwareChannels+2*c.MixerBuses {
		return fmt.Errorf("audiobuses (%d) must exceed the hardware and mixer reservations", c.AudioBuses)
	}
	if c.ControlBuses < 1 || c.MaxNodes < 1 {
		return fmt.Errorf("controlbuses and maxnodes must be positive")
	}
	if c.BPM <= 0 || c.TicksPerBeat <= 0 {
		return fmt.Errorf("bpm and ticksperbeat must be positive")
	}
	return nil
}
