// Package engine drives an scsynth server from rack and song snapshots: it
// allocates buses and node IDs, resolves the module graph into an ordered
// synth chain, manages note voices and schedules playback. All methods are
// called from one control goroutine; nothing here locks.
package engine

import (
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"

	"github.com/mohsenil85/tuidaw"
	"github.com/mohsenil85/tuidaw/scsynth"
)

// Engine owns the server-side realization of one rack. The session state
// edits its own rack and song and hands the engine snapshots; the engine
// never mutates what it is given.
type Engine struct {
	cfg    *tuidaw.Config
	client *scsynth.Client
	alloc  *Allocator
	res    *Resolution
	rack   tuidaw.Rack
	voices *VoiceManager
	sched  *Scheduler
}

// Diagnostics is a point-in-time summary for status displays.
type Diagnostics struct {
	Connected bool
	Usage     Usage
	Sounding  int
	Releasing int
	Playing   bool
	Pos       tuidaw.Tick
}

// New creates an engine with an empty rack. Nothing reaches the server until
// the first Rebuild.
func New(cfg *tuidaw.Config, client *scsynth.Client) *Engine {
	voices := NewVoiceManager(client, cfg)
	e := &Engine{
		cfg:    cfg,
		client: client,
		alloc:  NewAllocator(cfg),
		voices: voices,
		sched:  NewScheduler(client, voices),
	}
	voices.SetResolution(nil, e.alloc, &e.rack)
	return e
}

// Rebuild realizes a new rack snapshot on the server. The whole operation is
// transactional: resolution runs against a clone of the allocator, and on
// any error the previous chain, buses and resolution stay live. On success
// all voices are hard-freed (their buses belong to the outgoing resolution),
// the old chain is torn down and the new one is instantiated in topological
// order within a single bundle.
func (e *Engine) Rebuild(rack *tuidaw.Rack) error {
	snapshot := rack.Copy()
	trial := e.alloc.Clone()
	res, err := Resolve(&snapshot, trial)
	if err != nil {
		return errors.Wrap(err, "rack rebuild rejected")
	}

	var teardown []osc.Message
	if e.res != nil {
		for _, asgn := range e.res.Assignments {
			if asgn.NodeID != 0 {
				teardown = append(teardown, scsynth.NodeFree(asgn.NodeID))
			}
		}
	}

	e.rack = snapshot
	e.voices.SetResolution(res, trial, &e.rack)
	e.voices.FreeAll()
	if len(teardown) > 0 {
		_ = e.client.SendBundle(teardown, e.client.FutureInstant(0))
	}
	e.alloc = trial
	e.res = res

	if err := e.installChain(); err != nil && err != scsynth.ErrNotConnected {
		return errors.Wrap(err, "instantiating chain")
	}
	return nil
}

// installChain creates the persistent node of every non-voiced module, in
// resolution order, added to the tail so chain nodes execute after voices.
// One bundle: the server brings the whole chain up on a single cycle.
func (e *Engine) installChain() error {
	msgs := make([]osc.Message, 0, len(e.res.Order))
	for _, id := range e.res.Order {
		asgn := e.res.Assignments[id]
		if asgn.NodeID == 0 {
			continue
		}
		m := e.rack.ModuleByID(id)
		spec := m.Kind.Spec()
		params := make([]scsynth.ParamPair, 0, len(m.Params)+4)
		for port, bus := range asgn.AudioIn {
			params = append(params, scsynth.ParamPair{Name: port, Value: float32(bus)})
		}
		for port, bus := range asgn.AudioOut {
			params = append(params, scsynth.ParamPair{Name: port, Value: float32(bus)})
		}
		for port, bus := range asgn.CtlOut {
			params = append(params, scsynth.ParamPair{Name: port, Value: float32(bus)})
		}
		if m.Kind == tuidaw.Output {
			params = append(params, scsynth.ParamPair{Name: "out", Value: float32(e.alloc.HardwareOutputBus(0))})
		}
		for _, p := range m.Params {
			params = append(params, scsynth.ParamPair{Name: p.Name, Value: p.Float()})
		}
		msgs = append(msgs, scsynth.SynthNew(spec.SynthDef, asgn.NodeID, scsynth.AddToTail, scsynth.DefaultGroup, params))
	}
	if len(msgs) == 0 {
		return nil
	}
	return e.client.SendBundle(msgs, e.client.FutureInstant(0))
}

// Frame is the per-frame heartbeat: drain server node-end notices, advance
// the playhead, reap overdue releasing voices. Called at UI frame rate.
func (e *Engine) Frame(now time.Time) {
	for {
		select {
		case id := <-e.client.NodeEnds():
			e.voices.HandleNodeEnd(id)
		default:
			e.sched.Advance(now)
			e.voices.Cleanup(now)
			return
		}
	}
}

// NoteOn spawns a voice right away. Events aimed at modules the current
// resolution does not realize are dropped; live input races rack edits and
// losing that race is not an error worth surfacing.
func (e *Engine) NoteOn(module tuidaw.ModuleID, pitch, velocity byte) error {
	err := e.voices.Spawn(module, pitch, velocity, e.client.FutureInstant(0))
	if errors.Cause(err) == ErrUnknownModule {
		return nil
	}
	return err
}

// NoteOff releases the oldest matching voice. Unmatched releases are no-ops.
func (e *Engine) NoteOff(module tuidaw.ModuleID, pitch byte) {
	e.voices.Release(module, pitch, e.client.FutureInstant(0))
}

// SetParam stores a parameter value in the engine's rack snapshot and pushes
// it to every node currently realizing the module. No rebuild: parameter
// changes are cheap and keep voices alive.
func (e *Engine) SetParam(module tuidaw.ModuleID, name string, value float64) {
	m := e.rack.ModuleByID(module)
	if m == nil {
		return
	}
	if !m.SetParam(name, value) {
		return
	}
	p, _ := m.Param(name)
	e.voices.SetLiveParam(module, name, p.Value)
}

// LoadSample asks the server to read a sound file into a buffer, then
// points the sampler module's bufnum parameter at it. The read is
// asynchronous on the server side; a voice spawned before it completes
// plays silence, which is the server's behavior for empty buffers.
func (e *Engine) LoadSample(module tuidaw.ModuleID, bufnum int32, path string) error {
	m := e.rack.ModuleByID(module)
	if m == nil {
		return errors.Wrapf(ErrUnknownModule, "module %v", module)
	}
	if err := e.client.SendImmediate(scsynth.BufAllocRead(bufnum, path, 0, 0)); err != nil {
		return err
	}
	e.SetParam(module, "bufnum", float64(bufnum))
	return nil
}

// FreeSample releases a server-side buffer.
func (e *Engine) FreeSample(bufnum int32) error {
	return e.client.SendImmediate(scsynth.BufFree(bufnum))
}

// SetSong hands the scheduler a new song snapshot.
func (e *Engine) SetSong(song *tuidaw.Song) {
	e.sched.SetSong(song)
}

// Play starts playback from the given tick.
func (e *Engine) Play(from tuidaw.Tick) {
	e.sched.Play(from)
}

// Stop pauses playback, releasing scheduled notes through their envelopes.
func (e *Engine) Stop() {
	e.sched.Stop()
}

// Playing reports transport state.
func (e *Engine) Playing() bool {
	return e.sched.Playing()
}

// Diagnostics summarizes engine state for a status line.
func (e *Engine) Diagnostics() Diagnostics {
	sounding, releasing := e.voices.Counts()
	return Diagnostics{
		Connected: e.client.Connected(),
		Usage:     e.alloc.Usage(),
		Sounding:  sounding,
		Releasing: releasing,
		Playing:   e.sched.Playing(),
		Pos:       e.sched.Pos(),
	}
}

// Close stops playback, silences everything and closes the server
// connection. Voice tails are cut; Close is shutdown, not pause.
func (e *Engine) Close() error {
	e.sched.Stop()
	e.voices.FreeAll()
	if e.res != nil {
		var msgs []osc.Message
		for _, asgn := range e.res.Assignments {
			if asgn.NodeID != 0 {
				msgs = append(msgs, scsynth.NodeFree(asgn.NodeID))
			}
		}
		if len(msgs) > 0 {
			_ = e.client.SendBundle(msgs, e.client.FutureInstant(0))
		}
	}
	if err := e.client.Close(); err != nil {
		log.Printf("engine: closing server connection: %v", err)
		return err
	}
	return nil
}
