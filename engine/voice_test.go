package engine_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mohsenil85/tuidaw"
	"github.com/mohsenil85/tuidaw/engine"
	"github.com/mohsenil85/tuidaw/scsynth"
)

type voiceFixture struct {
	vm   *engine.VoiceManager
	conn *fakeConn
	rack tuidaw.Rack
}

func newVoiceFixture(t *testing.T) *voiceFixture {
	t.Helper()
	cfg := tuidaw.DefaultConfig()
	conn := &fakeConn{}
	client := scsynth.NewClient(conn, 0)
	f := &voiceFixture{conn: conn, rack: chainRack()}
	alloc := engine.NewAllocator(&cfg)
	res, err := engine.Resolve(&f.rack, alloc)
	if err != nil {
		t.Fatal(err)
	}
	f.vm = engine.NewVoiceManager(client, &cfg)
	f.vm.SetResolution(res, alloc, &f.rack)
	return f
}

func TestSpawnAtCapStealsOldestVoice(t *testing.T) {
	f := newVoiceFixture(t)
	now := time.Now()
	// one past the default polyphony cap
	for pitch := byte(0); pitch < tuidaw.DefaultMaxVoices+1; pitch++ {
		if err := f.vm.Spawn(1, 60+pitch, 100, now); err != nil {
			t.Fatalf("spawn %d failed: %v", pitch, err)
		}
	}
	sounding, releasing := f.vm.Counts()
	if sounding != tuidaw.DefaultMaxVoices || releasing != 1 {
		t.Errorf("got %d sounding, %d releasing; want %d and 1", sounding, releasing, tuidaw.DefaultMaxVoices)
	}
	// the victim rings out through its gate; nothing is hard-freed
	if got := f.conn.countAddr(scsynth.AddrNodeFree); got != 0 {
		t.Errorf("steal hard-freed a node")
	}
	if got := f.conn.countAddr(scsynth.AddrNodeSet); got != 1 {
		t.Errorf("expected exactly one gate release, got %d", got)
	}
	// the stolen voice is the first one spawned; releasing its pitch again
	// must not find a Sounding voice
	before := f.conn.countAddr(scsynth.AddrNodeSet)
	f.vm.Release(1, 60, now)
	if got := f.conn.countAddr(scsynth.AddrNodeSet); got != before {
		t.Errorf("stolen voice was released twice")
	}
}

func TestReleaseMatchesOldestAndIsIdempotent(t *testing.T) {
	f := newVoiceFixture(t)
	now := time.Now()
	f.vm.Spawn(1, 60, 100, now)
	f.vm.Spawn(1, 60, 100, now)
	f.vm.Release(1, 60, now)
	if sounding, releasing := f.vm.Counts(); sounding != 1 || releasing != 1 {
		t.Errorf("got %d sounding, %d releasing after one release", sounding, releasing)
	}
	f.vm.Release(1, 60, now)
	f.vm.Release(1, 60, now) // no voice left; must be a no-op
	if sounding, releasing := f.vm.Counts(); sounding != 0 || releasing != 2 {
		t.Errorf("got %d sounding, %d releasing after draining", sounding, releasing)
	}
	if got := f.conn.countAddr(scsynth.AddrNodeSet); got != 2 {
		t.Errorf("expected 2 gate releases, got %d", got)
	}
}

func TestSpawnUnknownTargets(t *testing.T) {
	f := newVoiceFixture(t)
	now := time.Now()
	if err := f.vm.Spawn(99, 60, 100, now); errors.Cause(err) != engine.ErrUnknownModule {
		t.Errorf("unknown module: got %v", err)
	}
	// module 2 is a filter, not a note target
	if err := f.vm.Spawn(2, 60, 100, now); errors.Cause(err) != engine.ErrUnknownModule {
		t.Errorf("non-voiced module: got %v", err)
	}
}

func TestCleanupReapsOverdueReleases(t *testing.T) {
	f := newVoiceFixture(t)
	now := time.Now()
	f.vm.Spawn(1, 60, 100, now)
	f.vm.Release(1, 60, now)
	f.vm.Cleanup(now)
	if _, releasing := f.vm.Counts(); releasing != 1 {
		t.Fatalf("voice reaped before its deadline")
	}
	// past the 0.3s default release plus the 0.25s margin
	f.vm.Cleanup(now.Add(time.Second))
	if sounding, releasing := f.vm.Counts(); sounding != 0 || releasing != 0 {
		t.Errorf("overdue voice not reaped: %d sounding, %d releasing", sounding, releasing)
	}
}

func TestHandleNodeEndDropsVoice(t *testing.T) {
	f := newVoiceFixture(t)
	now := time.Now()
	f.vm.Spawn(1, 60, 100, now)
	var nodeID int32
	for _, m := range f.conn.messages() {
		if m.Address == scsynth.AddrSynthNew {
			id, err := m.Arguments[1].ReadInt32()
			if err != nil {
				t.Fatal(err)
			}
			nodeID = id
		}
	}
	if nodeID == 0 {
		t.Fatal("no spawn message recorded")
	}
	f.vm.HandleNodeEnd(nodeID)
	if sounding, _ := f.vm.Counts(); sounding != 0 {
		t.Errorf("voice survived its node-end notice")
	}
	f.vm.HandleNodeEnd(nodeID) // unknown IDs are ignored
}

func TestFreeAllHardFreesEverything(t *testing.T) {
	f := newVoiceFixture(t)
	now := time.Now()
	f.vm.Spawn(1, 60, 100, now)
	f.vm.Spawn(1, 64, 100, now)
	f.vm.FreeAll()
	if sounding, releasing := f.vm.Counts(); sounding != 0 || releasing != 0 {
		t.Errorf("voices survived FreeAll")
	}
	if got := f.conn.countAddr(scsynth.AddrNodeFree); got != 2 {
		t.Errorf("expected 2 frees, got %d", got)
	}
}

func TestSetLiveParamReachesAllVoices(t *testing.T) {
	f := newVoiceFixture(t)
	now := time.Now()
	f.vm.Spawn(1, 60, 100, now)
	f.vm.Spawn(1, 64, 100, now)
	before := f.conn.countAddr(scsynth.AddrNodeSet)
	f.vm.SetLiveParam(1, "amp", 0.25)
	if got := f.conn.countAddr(scsynth.AddrNodeSet); got != before+2 {
		t.Errorf("expected 2 n_set messages, got %d", got-before)
	}
}
