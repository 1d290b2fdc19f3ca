package tuidaw_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/mohsenil85/tuidaw"
)

func TestFrequency(t *testing.T) {
	for _, c := range []struct {
		pitch byte
		want  float64
	}{
		{69, 440},
		{81, 880},
		{57, 220},
		{60, 261.6255653005986},
	} {
		if got := tuidaw.Frequency(c.pitch); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Frequency(%d) = %v, want %v", c.pitch, got, c.want)
		}
	}
	if got := tuidaw.FrequencyTuned(69, 432); got != 432 {
		t.Errorf("FrequencyTuned(69, 432) = %v", got)
	}
}

func TestSnapPitch(t *testing.T) {
	// C# snaps into C major; C stays put
	if got := tuidaw.SnapPitch(61, tuidaw.KeyC, tuidaw.Major); got != 60 && got != 62 {
		t.Errorf("SnapPitch(61) = %d, want a neighboring scale degree", got)
	}
	if got := tuidaw.SnapPitch(60, tuidaw.KeyC, tuidaw.Major); got != 60 {
		t.Errorf("SnapPitch(60) = %d, want 60", got)
	}
	if got := tuidaw.SnapPitch(61, tuidaw.KeyC, tuidaw.Chromatic); got != 61 {
		t.Errorf("chromatic snapping moved the pitch to %d", got)
	}
}

func TestKindSpecsAreComplete(t *testing.T) {
	for kind, spec := range tuidaw.KindSpecs {
		if spec.SynthDef == "" {
			t.Errorf("%v has no synthdef", kind)
		}
		if spec.Voiced && len(spec.AudioOuts) == 0 {
			t.Errorf("%v is voiced but has no audio output", kind)
		}
		if spec.Voiced {
			m := tuidaw.NewModule(1, kind)
			if _, ok := m.Param("release"); !ok {
				t.Errorf("%v is voiced but has no release parameter", kind)
			}
		}
	}
	if spec := tuidaw.Output.Spec(); len(spec.AudioIns) == 0 || len(spec.AudioOuts) != 0 {
		t.Errorf("output spec has wrong ports: %+v", spec)
	}
}

func TestNewModuleCopiesDefaults(t *testing.T) {
	m := tuidaw.NewModule(1, tuidaw.LPF)
	if !m.SetParam("cutoff", 5000) {
		t.Fatal("cutoff is not a parameter of the filter")
	}
	if p := tuidaw.LPF.Spec().Params[0]; p.Value == 5000 {
		t.Errorf("editing a module changed the kind defaults")
	}
}

func TestSetParamClamps(t *testing.T) {
	m := tuidaw.NewModule(1, tuidaw.LPF)
	m.SetParam("cutoff", 1e9)
	if p, _ := m.Param("cutoff"); p.Value != 20000 {
		t.Errorf("cutoff not clamped: %v", p.Value)
	}
	if m.SetParam("bogus", 1) {
		t.Errorf("unknown parameter accepted")
	}
}

func TestModuleCap(t *testing.T) {
	m := tuidaw.NewModule(1, tuidaw.SawOsc)
	if m.Cap() != tuidaw.DefaultMaxVoices {
		t.Errorf("default cap = %d", m.Cap())
	}
	m.MaxVoices = 4
	if m.Cap() != 4 {
		t.Errorf("explicit cap = %d", m.Cap())
	}
}

func TestRackCopyIsDeep(t *testing.T) {
	r := tuidaw.Rack{
		Modules:     []tuidaw.Module{tuidaw.NewModule(1, tuidaw.LPF)},
		Connections: []tuidaw.Connection{{From: 1, FromPort: "out", To: 2, ToPort: "in"}},
	}
	c := r.Copy()
	c.Modules[0].SetParam("cutoff", 9999)
	c.Connections[0].To = 7
	if p, _ := r.Modules[0].Param("cutoff"); p.Value == 9999 {
		t.Errorf("module edit leaked into the original")
	}
	if r.Connections[0].To != 2 {
		t.Errorf("connection edit leaked into the original")
	}
}

func TestSongTiming(t *testing.T) {
	s := tuidaw.Song{BPM: 120, TicksPerBeat: 480, TimeSignature: [2]int{4, 4}}
	if got := s.SecsPerTick(); math.Abs(got-1.0/960) > 1e-12 {
		t.Errorf("SecsPerTick = %v", got)
	}
	if got := s.TicksPerBar(); got != 1920 {
		t.Errorf("TicksPerBar = %v", got)
	}
}

func TestAutomationValueAt(t *testing.T) {
	l := tuidaw.AutomationLane{Points: []tuidaw.AutomationPoint{
		{Tick: 100, Value: 1},
		{Tick: 200, Value: 2},
	}}
	if _, ok := l.ValueAt(50); ok {
		t.Errorf("value before the first point")
	}
	if v, _ := l.ValueAt(150); v != 1 {
		t.Errorf("ValueAt(150) = %v", v)
	}
	if v, _ := l.ValueAt(200); v != 2 {
		t.Errorf("ValueAt(200) = %v", v)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := tuidaw.LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != tuidaw.DefaultConfig() {
		t.Errorf("missing file did not yield defaults")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := tuidaw.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	cfg.AudioBuses = 16
	if err := cfg.Validate(); err == nil {
		t.Errorf("reservation overflow accepted")
	}
}

func TestSessionRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yml")
	s := &tuidaw.Session{
		Rack: tuidaw.Rack{
			Modules:     []tuidaw.Module{tuidaw.NewModule(1, tuidaw.SawOsc)},
			Connections: []tuidaw.Connection{{From: 1, FromPort: "out", To: 2, ToPort: "in"}},
		},
		Song: tuidaw.Song{
			BPM: 90, TicksPerBeat: 480, TimeSignature: [2]int{3, 4},
			Tracks: []tuidaw.NoteTrack{{Module: 1, Notes: []tuidaw.Note{
				{Tick: 0, Duration: 240, Pitch: 60, Velocity: 100},
			}}},
		},
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := tuidaw.LoadSession(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Song.BPM != 90 || len(loaded.Rack.Modules) != 1 || len(loaded.Song.Tracks[0].Notes) != 1 {
		t.Errorf("roundtrip lost data: %+v", loaded)
	}
	if loaded.Song.Tracks[0].Notes[0].Pitch != 60 {
		t.Errorf("note pitch lost")
	}
}

func TestLoadSessionFillsSongDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yml")
	s := &tuidaw.Session{Rack: tuidaw.Rack{Modules: []tuidaw.Module{tuidaw.NewModule(1, tuidaw.SawOsc)}}}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := tuidaw.LoadSession(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Song.BPM != 120 || loaded.Song.TicksPerBeat != tuidaw.DefaultTicksPerBeat {
		t.Errorf("song defaults not filled: %+v", loaded.Song)
	}
}
