package tuidaw

import "math"

type (
	// Tick is the integer unit of musical time, TicksPerBeat ticks to a
	// beat, independent of frame rate. Ticks only ever move backwards when
	// the playhead wraps to the loop start.
	Tick int

	// Note is one note in a track.
	Note struct {
		Tick     Tick `yaml:"tick"`
		Duration Tick `yaml:"duration"`
		Pitch    byte `yaml:"pitch"` // MIDI note number
		Velocity byte `yaml:"velocity"`
	}

	// NoteTrack holds the notes driving one voiced module.
	NoteTrack struct {
		Module ModuleID `yaml:"module"`
		Notes  []Note   `yaml:"notes,flow,omitempty"`
	}

	// AutomationPoint sets a parameter value from a given tick onwards.
	AutomationPoint struct {
		Tick  Tick    `yaml:"tick"`
		Value float64 `yaml:"value"`
	}

	// AutomationLane drives one module parameter from the playhead position.
	// Values hold until the next point (no interpolation).
	AutomationLane struct {
		Module  ModuleID          `yaml:"module"`
		Param   string            `yaml:"param"`
		Enabled bool              `yaml:"enabled"`
		Points  []AutomationPoint `yaml:"points,flow,omitempty"`
	}

	// Song is the tempo, loop and note content the scheduler plays. Like the
	// rack, it is owned by the session state and read by the engine as a
	// snapshot.
	Song struct {
		BPM           float64          `yaml:"bpm"`
		TicksPerBeat  int              `yaml:"ticksperbeat"`
		TimeSignature [2]int           `yaml:"timesignature,flow"`
		Looping       bool             `yaml:"looping"`
		LoopStart     Tick             `yaml:"loopstart"`
		LoopEnd       Tick             `yaml:"loopend"`
		Tracks        []NoteTrack      `yaml:"tracks,omitempty"`
		Lanes         []AutomationLane `yaml:"lanes,omitempty"`
	}

	// Key is a pitch class, C through B.
	Key int

	// Scale is a set of intervals from the key root.
	Scale int
)

const (
	KeyC Key = iota
	KeyCs
	KeyD
	KeyDs
	KeyE
	KeyF
	KeyFs
	KeyG
	KeyGs
	KeyA
	KeyAs
	KeyB
)

const (
	Major Scale = iota
	Minor
	Dorian
	Phrygian
	Lydian
	Mixolydian
	Pentatonic
	Blues
	Chromatic
)

// DefaultTicksPerBeat matches the piano roll resolution.
const DefaultTicksPerBeat = 480

var scaleIntervals = map[Scale][]int{
	Major:      {0, 2, 4, 5, 7, 9, 11},
	Minor:      {0, 2, 3, 5, 7, 8, 10},
	Dorian:     {0, 2, 3, 5, 7, 9, 10},
	Phrygian:   {0, 1, 3, 5, 7, 8, 10},
	Lydian:     {0, 2, 4, 6, 7, 9, 11},
	Mixolydian: {0, 2, 4, 5, 7, 9, 10},
	Pentatonic: {0, 2, 4, 7, 9},
	Blues:      {0, 3, 5, 6, 7, 10},
	Chromatic:  {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
}

// Intervals returns the semitone intervals of the scale from its root.
func (s Scale) Intervals() []int {
	return scaleIntervals[s]
}

// Frequency maps a MIDI note number to Hz with the standard equal-tempered
// tuning, A4 (note 69) = 440 Hz.
func Frequency(pitch byte) float64 {
	return FrequencyTuned(pitch, 440)
}

// FrequencyTuned is Frequency with a configurable A4 reference.
func FrequencyTuned(pitch byte, a4 float64) float64 {
	return a4 * math.Pow(2, (float64(pitch)-69)/12)
}

// SnapPitch snaps a MIDI note number to the nearest degree of the given
// scale, searching at most two semitones in either direction.
func SnapPitch(pitch byte, key Key, scale Scale) byte {
	intervals := scale.Intervals()
	best, bestDist := int(pitch), math.MaxInt
	for offset := -2; offset <= 2; offset++ {
		candidate := int(pitch) + offset
		if candidate < 0 || candidate > 127 {
			continue
		}
		relative := ((candidate-int(key))%12 + 12) % 12
		for _, iv := range intervals {
			if iv == relative {
				if d := offset * offset; d < bestDist {
					best, bestDist = candidate, d
				}
				break
			}
		}
	}
	return byte(best)
}

// SecsPerTick returns the wall-clock duration of one tick.
func (s *Song) SecsPerTick() float64 {
	if divisor := s.BPM * float64(s.TicksPerBeat); divisor > 0 {
		return 60 / divisor
	}
	return 0
}

// TicksPerBar returns the length of one bar in ticks.
func (s *Song) TicksPerBar() Tick {
	return Tick(s.TicksPerBeat * s.TimeSignature[0])
}

func (t *NoteTrack) Copy() NoteTrack {
	notes := make([]Note, len(t.Notes))
	copy(notes, t.Notes)
	return NoteTrack{Module: t.Module, Notes: notes}
}

func (l *AutomationLane) Copy() AutomationLane {
	points := make([]AutomationPoint, len(l.Points))
	copy(points, l.Points)
	ret := *l
	ret.Points = points
	return ret
}

// ValueAt returns the value of the last point at or before the given tick.
func (l *AutomationLane) ValueAt(tick Tick) (float64, bool) {
	value, found := 0.0, false
	for _, p := range l.Points {
		if p.Tick > tick {
			break
		}
		value, found = p.Value, true
	}
	return value, found
}

func (s *Song) Copy() Song {
	tracks := make([]NoteTrack, len(s.Tracks))
	for i := range s.Tracks {
		tracks[i] = s.Tracks[i].Copy()
	}
	lanes := make([]AutomationLane, len(s.Lanes))
	for i := range s.Lanes {
		lanes[i] = s.Lanes[i].Copy()
	}
	ret := *s
	ret.Tracks = tracks
	ret.Lanes = lanes
	return ret
}
