package engine

import (
	"github.com/pkg/errors"

	"github.com/mohsenil85/tuidaw"
)

// ErrBusExhaustion means a handle namespace is full. It is a fatal
// configuration error: the designed limits leave plenty of headroom, so
// hitting this means the limits are wrong, not that the engine should cope.
var ErrBusExhaustion = errors.New("bus namespace exhausted")

type (
	// Key identifies the owner of an allocated handle: a module plus a port
	// or role name. The same key receives the same handle across rebuilds
	// for as long as it stays allocated, which keeps rebuilds from
	// reshuffling the whole server routing.
	Key struct {
		Module tuidaw.ModuleID
		Port   string
	}

	namespace struct {
		owners map[Key]int32
		free   []int32
		next   int32
		limit  int32 // exclusive
		stride int32
	}

	// Allocator issues and reclaims unique handles from three independent
	// bounded namespaces: audio buses, control buses and node IDs. It is
	// mutated only from the control thread.
	Allocator struct {
		audio   namespace
		control namespace
		nodes   namespace

		hardwareChannels int
		mixerBuses       int
		maxAudio         int32
	}

	// Usage summarizes live allocations for diagnostics.
	Usage struct {
		AudioBuses   int
		ControlBuses int
		Nodes        int
	}
)

// Chain-node IDs start here, leaving the low range for server-managed and
// user-started nodes.
const firstNodeID = 1000

// NewAllocator sizes the namespaces from the config. The audio namespace
// excludes the hardware prefix (buses [0, 2*HardwareChannels)) and the
// mixer sub-range at the top.
func NewAllocator(cfg *tuidaw.Config) *Allocator {
	firstAudio := int32(2 * cfg.HardwareChannels)
	audioLimit := int32(cfg.AudioBuses - 2*cfg.MixerBuses)
	return &Allocator{
		audio:            namespace{owners: map[Key]int32{}, next: firstAudio, limit: audioLimit, stride: 2},
		control:          namespace{owners: map[Key]int32{}, next: 0, limit: int32(cfg.ControlBuses), stride: 1},
		nodes:            namespace{owners: map[Key]int32{}, next: firstNodeID, limit: int32(cfg.MaxNodes) + firstNodeID, stride: 1},
		hardwareChannels: cfg.HardwareChannels,
		mixerBuses:       cfg.MixerBuses,
		maxAudio:         int32(cfg.AudioBuses),
	}
}

func (n *namespace) allocate(key Key) (int32, error) {
	if h, ok := n.owners[key]; ok {
		return h, nil
	}
	var h int32
	if len(n.free) > 0 {
		h = n.free[len(n.free)-1]
		n.free = n.free[:len(n.free)-1]
	} else {
		if n.next+n.stride > n.limit {
			return 0, ErrBusExhaustion
		}
		h = n.next
		n.next += n.stride
	}
	n.owners[key] = h
	return h, nil
}

func (n *namespace) release(key Key) {
	if h, ok := n.owners[key]; ok {
		delete(n.owners, key)
		n.free = append(n.free, h)
	}
}

func (n *namespace) retain(keep map[Key]bool) {
	for key := range n.owners {
		if !keep[key] {
			n.release(key)
		}
	}
}

func (n *namespace) clone() namespace {
	owners := make(map[Key]int32, len(n.owners))
	for k, v := range n.owners {
		owners[k] = v
	}
	free := make([]int32, len(n.free))
	copy(free, n.free)
	ret := *n
	ret.owners = owners
	ret.free = free
	return ret
}

// AudioBus returns the stereo audio bus owned by key, allocating one if
// needed. Buses come in stereo pairs; the returned number is the left
// channel.
func (a *Allocator) AudioBus(key Key) (int32, error) {
	h, err := a.audio.allocate(key)
	return h, errors.Wrapf(err, "audio bus for %v.%v", key.Module, key.Port)
}

// ControlBus returns the control bus owned by key, allocating one if needed.
func (a *Allocator) ControlBus(key Key) (int32, error) {
	h, err := a.control.allocate(key)
	return h, errors.Wrapf(err, "control bus for %v.%v", key.Module, key.Port)
}

// NodeID returns the synth node ID owned by key, allocating one if needed.
func (a *Allocator) NodeID(key Key) (int32, error) {
	h, err := a.nodes.allocate(key)
	return h, errors.Wrapf(err, "node id for %v.%v", key.Module, key.Port)
}

// Release frees every handle owned by the key, in all namespaces.
// Releasing an unknown key is a no-op.
func (a *Allocator) Release(key Key) {
	a.audio.release(key)
	a.control.release(key)
	a.nodes.release(key)
}

// ReleaseModule frees every handle owned by any key of the module.
func (a *Allocator) ReleaseModule(id tuidaw.ModuleID) {
	for _, n := range []*namespace{&a.audio, &a.control, &a.nodes} {
		for key := range n.owners {
			if key.Module == id {
				n.release(key)
			}
		}
	}
}

// Retain frees every bus handle whose key is not in keep. Node IDs are kept
// if their key is in keep or belongs to a live voice, since releasing
// voices outlive the rebuild that sweeps the allocator.
func (a *Allocator) Retain(keep map[Key]bool) {
	a.audio.retain(keep)
	a.control.retain(keep)
	for key := range a.nodes.owners {
		if !keep[key] && !isVoiceKey(key) {
			a.nodes.release(key)
		}
	}
}

// HardwareOutputBus returns the audio bus wired to a hardware output
// channel. These live in the reserved prefix and are never allocated.
func (a *Allocator) HardwareOutputBus(channel int) int32 {
	if channel < 0 || channel >= a.hardwareChannels {
		return 0
	}
	return int32(2 * channel)
}

// MixerBus returns the i-th mixer-level stereo bus. Mixer buses occupy a
// disjoint sub-range below the top of the audio namespace, so they cannot
// collide with module-owned allocations regardless of module count.
func (a *Allocator) MixerBus(i int) int32 {
	if i < 0 || i >= a.mixerBuses {
		return a.maxAudio - 2
	}
	return a.maxAudio - int32(2*(a.mixerBuses-i))
}

// Clone returns an independent copy. Rebuilds allocate against a clone and
// swap it in only on success, so a failed rebuild leaves no trace.
func (a *Allocator) Clone() *Allocator {
	ret := *a
	ret.audio = a.audio.clone()
	ret.control = a.control.clone()
	ret.nodes = a.nodes.clone()
	return &ret
}

// Usage reports how many handles are live in each namespace.
func (a *Allocator) Usage() Usage {
	return Usage{
		AudioBuses:   len(a.audio.owners),
		ControlBuses: len(a.control.owners),
		Nodes:        len(a.nodes.owners),
	}
}
