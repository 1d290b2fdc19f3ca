package engine

import (
	"time"

	"github.com/mohsenil85/tuidaw"
	"github.com/mohsenil85/tuidaw/scsynth"
)

// liveNote is a note the scheduler has spawned and still owes a release.
// remaining is measured in ticks from the playhead position at spawn time,
// so it survives loop wraps unchanged.
type liveNote struct {
	module    tuidaw.ModuleID
	pitch     byte
	remaining float64
}

// Scheduler turns wall-clock frame times into tick positions and drives the
// voice manager from the song's note tracks. The playhead is a float64 tick
// count: advancing carries the fractional part instead of truncating it, so
// a given frame-time sequence always yields the same spawn ticks regardless
// of how the frames subdivide the interval.
type Scheduler struct {
	client *scsynth.Client
	voices *VoiceManager
	song   *tuidaw.Song

	playing bool
	pos     float64
	last    time.Time
	live    []liveNote
	sent    map[int]float64 // last automation value pushed, per lane index
}

func NewScheduler(client *scsynth.Client, voices *VoiceManager) *Scheduler {
	return &Scheduler{client: client, voices: voices, sent: map[int]float64{}}
}

// SetSong swaps the song being played. Playback state and position carry
// over; automation resends from scratch.
func (s *Scheduler) SetSong(song *tuidaw.Song) {
	s.song = song
	s.sent = map[int]float64{}
}

// Play starts playback from the given tick.
func (s *Scheduler) Play(from tuidaw.Tick) {
	s.playing = true
	s.pos = float64(from)
	s.last = time.Time{}
	s.sent = map[int]float64{}
}

// Playing reports whether the transport is running.
func (s *Scheduler) Playing() bool {
	return s.playing
}

// Pos returns the current playhead tick.
func (s *Scheduler) Pos() tuidaw.Tick {
	return tuidaw.Tick(s.pos)
}

// Stop halts the playhead and releases every note the scheduler spawned.
// Releases go through the normal gate so envelope tails ring out; Stop is a
// musical pause, not a panic.
func (s *Scheduler) Stop() {
	s.playing = false
	s.last = time.Time{}
	readyAt := s.client.FutureInstant(0)
	for _, n := range s.live {
		s.voices.Release(n.module, n.pitch, readyAt)
	}
	s.live = s.live[:0]
}

// Advance moves the playhead to the frame time now, spawning every note
// whose start tick the playhead crossed and releasing every live note whose
// duration elapsed. Each event is time-tagged with its exact sub-frame
// offset, so note timing does not quantize to the frame rate.
func (s *Scheduler) Advance(now time.Time) {
	if !s.playing || s.song == nil {
		return
	}
	if s.last.IsZero() {
		s.last = now
		return
	}
	spt := s.song.SecsPerTick()
	if spt <= 0 {
		return
	}
	elapsed := now.Sub(s.last).Seconds()
	s.last = now
	if elapsed <= 0 {
		return
	}
	ticks := elapsed / spt
	prev := s.pos
	cur := prev + ticks

	loopLen := float64(s.song.LoopEnd - s.song.LoopStart)
	if s.song.Looping && loopLen > 0 && cur >= float64(s.song.LoopEnd) {
		// play out the rest of the loop, then continue from the start
		s.scanNotes(prev, float64(s.song.LoopEnd), prev, spt)
		carried := float64(s.song.LoopEnd) - prev
		wrapped := float64(s.song.LoopStart) + (cur - float64(s.song.LoopEnd))
		s.scanNotes(float64(s.song.LoopStart), wrapped, float64(s.song.LoopStart)-carried, spt)
		cur = wrapped
	} else {
		s.scanNotes(prev, cur, prev, spt)
	}
	s.pos = cur

	s.releaseElapsed(ticks, spt)
	s.applyAutomation(tuidaw.Tick(cur))
}

// scanNotes spawns every note starting in [from, to). base is the tick
// position corresponding to offset zero; it differs from `from` on the
// wrapped half of a loop, where the note's offset includes the part of the
// frame spent before the wrap.
func (s *Scheduler) scanNotes(from, to, base float64, spt float64) {
	for _, track := range s.song.Tracks {
		for _, note := range track.Notes {
			at := float64(note.Tick)
			if at < from || at >= to {
				continue
			}
			offset := time.Duration((at - base) * spt * float64(time.Second))
			readyAt := s.client.FutureInstant(offset)
			if err := s.voices.Spawn(track.Module, note.Pitch, note.Velocity, readyAt); err != nil {
				continue // stale track target; the voice manager already classified it
			}
			s.live = append(s.live, liveNote{
				module:    track.Module,
				pitch:     note.Pitch,
				remaining: (at - base) + float64(note.Duration),
			})
		}
	}
}

// releaseElapsed counts the frame's ticks against every live note and
// releases the ones that finished, each at its exact sub-frame offset.
func (s *Scheduler) releaseElapsed(ticks, spt float64) {
	kept := s.live[:0]
	for _, n := range s.live {
		left := n.remaining - ticks
		if left <= 0 {
			offset := time.Duration(n.remaining * spt * float64(time.Second))
			s.voices.Release(n.module, n.pitch, s.client.FutureInstant(offset))
			continue
		}
		n.remaining = left
		kept = append(kept, n)
	}
	s.live = kept
}

// applyAutomation pushes lane values for the playhead tick, once per value
// change. Held values are not resent every frame.
func (s *Scheduler) applyAutomation(tick tuidaw.Tick) {
	for i, lane := range s.song.Lanes {
		if !lane.Enabled {
			continue
		}
		value, ok := lane.ValueAt(tick)
		if !ok {
			continue
		}
		if last, sent := s.sent[i]; sent && last == value {
			continue
		}
		s.sent[i] = value
		s.voices.SetLiveParam(lane.Module, lane.Param, value)
	}
}
