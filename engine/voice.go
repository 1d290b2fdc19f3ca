package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/scgolang/osc"

	"github.com/mohsenil85/tuidaw"
	"github.com/mohsenil85/tuidaw/scsynth"
)

// ErrUnknownModule means a note event targeted a module the current
// resolution does not realize: removed, disabled, or not a voiced kind.
// Stale note events are expected during edits, so callers drop these.
var ErrUnknownModule = errors.New("module not realized by current resolution")

// VoiceState tracks where a voice is in its lifecycle. Sounding voices count
// against the polyphony cap; Releasing voices ring out their envelope tail
// and only occupy a node ID.
type VoiceState int

const (
	Sounding VoiceState = iota
	Releasing
)

// Voice is one live synth node playing one note.
type Voice struct {
	Module   tuidaw.ModuleID
	Pitch    byte
	NodeID   int32
	Serial   int64 // spawn order; the lowest Sounding serial is the steal victim
	State    VoiceState
	Deadline time.Time // releasing voices are reaped at this time even without a node-end notice

	key Key
}

const voiceKeyPrefix = "voice-"

// isVoiceKey reports whether an allocator key belongs to a voice node rather
// than a port or chain node.
func isVoiceKey(key Key) bool {
	return strings.HasPrefix(key.Port, voiceKeyPrefix)
}

// VoiceManager spawns, releases and reaps the per-note synth nodes of voiced
// modules. It owns the voice list and the node IDs behind it; buses and the
// resolution are swapped in by the engine after each rebuild.
type VoiceManager struct {
	client *scsynth.Client
	alloc  *Allocator
	res    *Resolution
	rack   *tuidaw.Rack

	voices []*Voice
	serial int64

	tuning float64
	margin time.Duration
}

// NewVoiceManager returns a manager with no resolution; every spawn fails
// with ErrUnknownModule until SetResolution is called.
func NewVoiceManager(client *scsynth.Client, cfg *tuidaw.Config) *VoiceManager {
	return &VoiceManager{
		client: client,
		tuning: cfg.TuningA4,
		margin: time.Duration(cfg.ReleaseMarginSeconds * float64(time.Second)),
	}
}

// SetResolution points the manager at the state produced by a rebuild. The
// engine frees all voices before rebuilding, so no voice refers to buses of
// an older resolution.
func (vm *VoiceManager) SetResolution(res *Resolution, alloc *Allocator, rack *tuidaw.Rack) {
	vm.res = res
	vm.alloc = alloc
	vm.rack = rack
}

// Spawn starts a voice on a voiced module at the given time. At the
// polyphony cap the oldest Sounding voice is stolen first: it is released
// into its envelope tail rather than cut, and stops counting against the
// cap immediately.
func (vm *VoiceManager) Spawn(module tuidaw.ModuleID, pitch, velocity byte, readyAt time.Time) error {
	asgn, ok := vm.res.Assignment(module)
	if !ok {
		return errors.Wrapf(ErrUnknownModule, "module %v", module)
	}
	m := vm.rack.ModuleByID(module)
	if m == nil {
		return errors.Wrapf(ErrUnknownModule, "module %v", module)
	}
	spec := m.Kind.Spec()
	if !spec.Voiced {
		return errors.Wrapf(ErrUnknownModule, "module %v (%v) is not note-driven", module, m.Kind)
	}

	if vm.soundingCount(module) >= m.Cap() {
		if victim := vm.oldestSounding(module, anyPitch); victim != nil {
			vm.releaseVoice(victim, readyAt, m)
		}
	}

	vm.serial++
	key := Key{Module: module, Port: fmt.Sprintf("%v%d", voiceKeyPrefix, vm.serial)}
	nodeID, err := vm.alloc.NodeID(key)
	if err != nil {
		return err
	}

	amp := 0.5
	if p, ok := m.Param("amp"); ok {
		amp = p.Value
	}
	params := []scsynth.ParamPair{
		{Name: "freq", Value: float32(tuidaw.FrequencyTuned(pitch, vm.tuning))},
		{Name: "gate", Value: 1},
		{Name: "amp", Value: float32(amp * float64(velocity) / 127)},
		{Name: "out", Value: float32(asgn.AudioOut["out"])},
		{Name: "freqbus", Value: float32(asgn.Freq)},
		{Name: "gatebus", Value: float32(asgn.Gate)},
		{Name: "ampbus", Value: float32(asgn.Amp)},
	}
	for _, p := range m.Params {
		switch p.Name {
		case "freq", "gate", "amp":
			continue
		}
		params = append(params, scsynth.ParamPair{Name: p.Name, Value: p.Float()})
	}

	// Voices are added to the head of the group so they run before the
	// chain nodes, which sit at the tail; a voice spawned between rebuilds
	// still executes before the filters reading its bus.
	msg := scsynth.SynthNew(spec.SynthDef, nodeID, scsynth.AddToHead, scsynth.DefaultGroup, params)
	if err := vm.client.SendBundle([]osc.Message{msg}, readyAt); err != nil && err != scsynth.ErrNotConnected {
		vm.alloc.Release(key)
		return err
	}

	vm.voices = append(vm.voices, &Voice{
		Module: module,
		Pitch:  pitch,
		NodeID: nodeID,
		Serial: vm.serial,
		State:  Sounding,
		key:    key,
	})
	return nil
}

// anyPitch matches every pitch in oldestSounding.
const anyPitch = -1

// Release closes the gate of the oldest Sounding voice of the module playing
// the pitch. Releasing a pitch with no matching voice is a no-op: the voice
// was stolen, reaped, or never spawned, and a second release must not
// disturb anything.
func (vm *VoiceManager) Release(module tuidaw.ModuleID, pitch byte, readyAt time.Time) {
	v := vm.oldestSounding(module, int(pitch))
	if v == nil {
		return
	}
	vm.releaseVoice(v, readyAt, vm.rack.ModuleByID(module))
}

// ReleaseAll gate-closes every Sounding voice, letting the tails ring out.
func (vm *VoiceManager) ReleaseAll(readyAt time.Time) {
	for _, v := range vm.voices {
		if v.State == Sounding {
			vm.releaseVoice(v, readyAt, vm.rack.ModuleByID(v.Module))
		}
	}
}

// FreeAll hard-frees every voice node immediately. Used before a rebuild:
// voice nodes hold bus numbers of the outgoing resolution, so their tails
// cannot be allowed to keep writing.
func (vm *VoiceManager) FreeAll() {
	msgs := make([]osc.Message, 0, len(vm.voices))
	for _, v := range vm.voices {
		msgs = append(msgs, scsynth.NodeFree(v.NodeID))
		vm.alloc.Release(v.key)
	}
	if len(msgs) > 0 {
		_ = vm.client.SendBundle(msgs, vm.client.FutureInstant(0))
	}
	vm.voices = vm.voices[:0]
}

// HandleNodeEnd drops the bookkeeping of a voice whose node the server
// reported as ended. Unknown IDs are chain nodes or already-reaped voices.
func (vm *VoiceManager) HandleNodeEnd(nodeID int32) {
	for i, v := range vm.voices {
		if v.NodeID == nodeID {
			vm.alloc.Release(v.key)
			vm.voices = append(vm.voices[:i], vm.voices[i+1:]...)
			return
		}
	}
}

// Cleanup reaps releasing voices whose deadline has passed. The synthdefs
// free their own nodes when the envelope completes, so this is bookkeeping
// against lost node-end notices, not a server-side free.
func (vm *VoiceManager) Cleanup(now time.Time) {
	kept := vm.voices[:0]
	for _, v := range vm.voices {
		if v.State == Releasing && now.After(v.Deadline) {
			vm.alloc.Release(v.key)
			continue
		}
		kept = append(kept, v)
	}
	vm.voices = kept
}

// SetLiveParam pushes a parameter change to everything realizing the module
// right now: the persistent chain node if there is one, and every live
// voice. The session state owns the stored value; this only touches the
// server.
func (vm *VoiceManager) SetLiveParam(module tuidaw.ModuleID, name string, value float64) {
	pair := []scsynth.ParamPair{{Name: name, Value: float32(value)}}
	if asgn, ok := vm.res.Assignment(module); ok && asgn.NodeID != 0 {
		_ = vm.client.SendImmediate(scsynth.NodeSet(asgn.NodeID, pair))
	}
	for _, v := range vm.voices {
		if v.Module == module {
			_ = vm.client.SendImmediate(scsynth.NodeSet(v.NodeID, pair))
		}
	}
}

// Counts reports how many voices are sounding and releasing, for
// diagnostics.
func (vm *VoiceManager) Counts() (sounding, releasing int) {
	for _, v := range vm.voices {
		if v.State == Sounding {
			sounding++
		} else {
			releasing++
		}
	}
	return sounding, releasing
}

func (vm *VoiceManager) soundingCount(module tuidaw.ModuleID) int {
	n := 0
	for _, v := range vm.voices {
		if v.Module == module && v.State == Sounding {
			n++
		}
	}
	return n
}

func (vm *VoiceManager) oldestSounding(module tuidaw.ModuleID, pitch int) *Voice {
	var best *Voice
	for _, v := range vm.voices {
		if v.Module != module || v.State != Sounding {
			continue
		}
		if pitch != anyPitch && int(v.Pitch) != pitch {
			continue
		}
		if best == nil || v.Serial < best.Serial {
			best = v
		}
	}
	return best
}

func (vm *VoiceManager) releaseVoice(v *Voice, readyAt time.Time, m *tuidaw.Module) {
	msg := scsynth.NodeSet(v.NodeID, []scsynth.ParamPair{{Name: "gate", Value: 0}})
	_ = vm.client.SendBundle([]osc.Message{msg}, readyAt)
	v.State = Releasing
	release := 0.0
	if m != nil {
		if p, ok := m.Param("release"); ok {
			release = p.Value
		}
	}
	v.Deadline = time.Now().Add(time.Duration(release*float64(time.Second)) + vm.margin)
}
