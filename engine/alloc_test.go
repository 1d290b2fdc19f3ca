package engine_test

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/mohsenil85/tuidaw"
	"github.com/mohsenil85/tuidaw/engine"
)

func newTestAllocator() *engine.Allocator {
	cfg := tuidaw.DefaultConfig()
	return engine.NewAllocator(&cfg)
}

func TestAudioBusStableAndUnique(t *testing.T) {
	a := newTestAllocator()
	k1 := engine.Key{Module: 1, Port: "out"}
	k2 := engine.Key{Module: 2, Port: "out"}
	b1, err := a.AudioBus(k1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := a.AudioBus(k2)
	if err != nil {
		t.Fatal(err)
	}
	if b1 == b2 {
		t.Errorf("distinct keys share bus %d", b1)
	}
	if b1 < 16 || b2 < 16 {
		t.Errorf("allocated into the hardware prefix: %d, %d", b1, b2)
	}
	if (b2-b1)%2 != 0 {
		t.Errorf("buses %d and %d are not stereo-aligned", b1, b2)
	}
	again, err := a.AudioBus(k1)
	if err != nil {
		t.Fatal(err)
	}
	if again != b1 {
		t.Errorf("same key got a different bus: %d then %d", b1, again)
	}
}

func TestReleaseRecyclesHandles(t *testing.T) {
	a := newTestAllocator()
	k := engine.Key{Module: 1, Port: "out"}
	b, _ := a.AudioBus(k)
	a.Release(k)
	a.Release(k) // idempotent
	b2, _ := a.AudioBus(engine.Key{Module: 2, Port: "out"})
	if b2 != b {
		t.Errorf("freed bus %d not reused, got %d", b, b2)
	}
}

func TestExhaustionAndFullRecovery(t *testing.T) {
	cfg := tuidaw.DefaultConfig()
	cfg.AudioBuses = 40 // 16 hardware + 16 mixer leaves 4 stereo buses
	a := engine.NewAllocator(&cfg)
	keys := make([]engine.Key, 4)
	for i := range keys {
		keys[i] = engine.Key{Module: tuidaw.ModuleID(i + 1), Port: "out"}
		if _, err := a.AudioBus(keys[i]); err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
	}
	_, err := a.AudioBus(engine.Key{Module: 99, Port: "out"})
	if errors.Cause(err) != engine.ErrBusExhaustion {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	for _, k := range keys {
		a.Release(k)
	}
	// after releasing everything the namespace must be fully re-allocatable
	for i := range keys {
		if _, err := a.AudioBus(engine.Key{Module: tuidaw.ModuleID(i + 10), Port: "out"}); err != nil {
			t.Fatalf("re-allocation %d failed: %v", i, err)
		}
	}
}

func TestReleaseModuleFreesAllNamespaces(t *testing.T) {
	a := newTestAllocator()
	a.AudioBus(engine.Key{Module: 7, Port: "out"})
	a.ControlBus(engine.Key{Module: 7, Port: "freq"})
	a.NodeID(engine.Key{Module: 7, Port: "node"})
	a.AudioBus(engine.Key{Module: 8, Port: "out"})
	a.ReleaseModule(7)
	u := a.Usage()
	if u.AudioBuses != 1 || u.ControlBuses != 0 || u.Nodes != 0 {
		t.Errorf("unexpected usage after module release: %+v", u)
	}
}

func TestNodeIDsStartPastUserRange(t *testing.T) {
	a := newTestAllocator()
	id, err := a.NodeID(engine.Key{Module: 1, Port: "node"})
	if err != nil {
		t.Fatal(err)
	}
	if id < 1000 {
		t.Errorf("node ID %d collides with the user range", id)
	}
}

func TestMixerBusesDisjointFromAllocations(t *testing.T) {
	cfg := tuidaw.DefaultConfig()
	a := engine.NewAllocator(&cfg)
	mixerLow := a.MixerBus(0)
	for i := 0; ; i++ {
		b, err := a.AudioBus(engine.Key{Module: tuidaw.ModuleID(i + 1), Port: "out"})
		if err != nil {
			break
		}
		if b >= mixerLow {
			t.Fatalf("allocated bus %d reaches into the mixer range starting at %d", b, mixerLow)
		}
	}
	for i := 0; i < cfg.MixerBuses; i++ {
		if b := a.MixerBus(i); b < mixerLow || b >= int32(cfg.AudioBuses) {
			t.Errorf("mixer bus %d out of range: %d", i, b)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := newTestAllocator()
	k := engine.Key{Module: 1, Port: "out"}
	b, _ := a.AudioBus(k)
	c := a.Clone()
	c.Release(k)
	c.AudioBus(engine.Key{Module: 2, Port: "out"})
	if got, _ := a.AudioBus(k); got != b {
		t.Errorf("clone mutation leaked into the original")
	}
	if a.Usage().AudioBuses != 1 {
		t.Errorf("original usage changed: %+v", a.Usage())
	}
}

func TestRetainDropsStaleOwners(t *testing.T) {
	a := newTestAllocator()
	keep := engine.Key{Module: 1, Port: "out"}
	stale := engine.Key{Module: 2, Port: "out"}
	voice := engine.Key{Module: 1, Port: fmt.Sprintf("voice-%d", 1)}
	a.AudioBus(keep)
	a.AudioBus(stale)
	a.NodeID(voice)
	a.Retain(map[engine.Key]bool{keep: true})
	u := a.Usage()
	if u.AudioBuses != 1 {
		t.Errorf("stale bus survived retain: %+v", u)
	}
	if u.Nodes != 1 {
		t.Errorf("voice node did not survive retain: %+v", u)
	}
}
