package engine

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/mohsenil85/tuidaw"
)

// ErrRoutingCycle means the module graph is not a DAG. The rebuild is
// rejected as a whole; the previously resolved chain stays live.
var ErrRoutingCycle = errors.New("routing graph contains a cycle")

type (
	// Tier classifies a module by its place in the signal flow. Sources
	// have no audio inputs, outputs are terminal, everything else is
	// processing. Instantiation order guarantees bus writers are realized
	// before their readers within one engine cycle.
	Tier int

	// BusAssignment is the fully derived routing of one module: a bus per
	// port, the shared per-voice control buses of voiced kinds, and the
	// persistent chain node for non-voiced kinds. Recomputed on every
	// rebuild, never persisted.
	BusAssignment struct {
		NodeID   int32 // persistent chain node; 0 for voiced kinds, which only exist as voices
		AudioIn  map[string]int32
		AudioOut map[string]int32
		CtlOut   map[string]int32

		// Freq, Gate and Amp are control buses shared by all voices of a
		// voiced module. Simultaneous voices writing them are last-write-
		// wins, matching what server control buses do natively; per-voice
		// changes go through the voice's own node instead.
		Freq, Gate, Amp int32
	}

	// Resolution is the executable form of a rack snapshot: the ordered
	// instantiation list and the bus assignment of every enabled module.
	Resolution struct {
		Order       []tuidaw.ModuleID
		Tiers       map[tuidaw.ModuleID]Tier
		Assignments map[tuidaw.ModuleID]BusAssignment
	}

	portRef struct {
		module tuidaw.ModuleID
		port   string
		out    bool
	}
)

const (
	TierSource Tier = iota
	TierProcessing
	TierOutput
)

// Resolve turns a rack snapshot into a Resolution, allocating buses and
// node IDs from alloc. Connections form signal nets (one bus per net, so
// fan-in sums and fan-out shares); the instantiation order is a topological
// order of the connection graph with ties broken by module insertion order.
// On error the resolution is nil; the caller is expected to resolve against
// a clone of its allocator so that failures leave no trace.
func Resolve(rack *tuidaw.Rack, alloc *Allocator) (*Resolution, error) {
	modules := make([]*tuidaw.Module, 0, len(rack.Modules))
	index := make(map[tuidaw.ModuleID]int)
	for i := range rack.Modules {
		m := &rack.Modules[i]
		if !m.Enabled {
			continue
		}
		index[m.ID] = len(modules)
		modules = append(modules, m)
	}
	conns := effectiveConnections(rack)

	order, err := sortModules(modules, index, conns)
	if err != nil {
		return nil, err
	}

	nets := buildNets(conns)
	res := &Resolution{
		Order:       order,
		Tiers:       make(map[tuidaw.ModuleID]Tier, len(modules)),
		Assignments: make(map[tuidaw.ModuleID]BusAssignment, len(modules)),
	}
	touched := make(map[Key]bool)
	busFor := func(ref portRef, control bool) (int32, error) {
		key := nets.busKey(ref)
		touched[key] = true
		if control {
			return alloc.ControlBus(key)
		}
		return alloc.AudioBus(key)
	}
	for _, m := range modules {
		spec := m.Kind.Spec()
		asgn := BusAssignment{
			AudioIn:  make(map[string]int32, len(spec.AudioIns)),
			AudioOut: make(map[string]int32, len(spec.AudioOuts)),
			CtlOut:   make(map[string]int32, len(spec.CtlOuts)),
		}
		for _, port := range spec.AudioIns {
			bus, err := busFor(portRef{m.ID, port, false}, false)
			if err != nil {
				return nil, err
			}
			asgn.AudioIn[port] = bus
		}
		for _, port := range spec.AudioOuts {
			bus, err := busFor(portRef{m.ID, port, true}, false)
			if err != nil {
				return nil, err
			}
			asgn.AudioOut[port] = bus
		}
		for _, port := range spec.CtlOuts {
			bus, err := busFor(portRef{m.ID, port, true}, true)
			if err != nil {
				return nil, err
			}
			asgn.CtlOut[port] = bus
		}
		if spec.Voiced {
			for _, role := range []struct {
				name string
				dst  *int32
			}{{"freq", &asgn.Freq}, {"gate", &asgn.Gate}, {"amp", &asgn.Amp}} {
				key := Key{Module: m.ID, Port: role.name}
				touched[key] = true
				bus, err := alloc.ControlBus(key)
				if err != nil {
					return nil, err
				}
				*role.dst = bus
			}
		} else {
			key := Key{Module: m.ID, Port: "node"}
			touched[key] = true
			id, err := alloc.NodeID(key)
			if err != nil {
				return nil, err
			}
			asgn.NodeID = id
		}
		res.Tiers[m.ID] = classify(m.Kind)
		res.Assignments[m.ID] = asgn
	}
	// drop allocations whose owners are gone from the rack, so releasing
	// every module always returns the full namespaces
	alloc.Retain(touched)
	return res, nil
}

// Assignment returns the bus assignment for a module.
func (r *Resolution) Assignment(id tuidaw.ModuleID) (BusAssignment, bool) {
	if r == nil {
		return BusAssignment{}, false
	}
	asgn, ok := r.Assignments[id]
	return asgn, ok
}

func classify(kind tuidaw.ModuleKind) Tier {
	spec := kind.Spec()
	switch {
	case kind == tuidaw.Output:
		return TierOutput
	case len(spec.AudioIns) == 0:
		return TierSource
	default:
		return TierProcessing
	}
}

// effectiveConnections removes disabled modules from the edge set, bridging
// each one's inputs straight to its outputs so a bypassed stage passes
// signal through.
func effectiveConnections(rack *tuidaw.Rack) []tuidaw.Connection {
	conns := make([]tuidaw.Connection, len(rack.Connections))
	copy(conns, rack.Connections)
	for i := range rack.Modules {
		m := &rack.Modules[i]
		if m.Enabled {
			continue
		}
		var in, out, rest []tuidaw.Connection
		for _, c := range conns {
			switch {
			case c.To == m.ID:
				in = append(in, c)
			case c.From == m.ID:
				out = append(out, c)
			default:
				rest = append(rest, c)
			}
		}
		for _, ic := range in {
			for _, oc := range out {
				rest = append(rest, tuidaw.Connection{
					From: ic.From, FromPort: ic.FromPort,
					To: oc.To, ToPort: oc.ToPort,
				})
			}
		}
		conns = rest
	}
	return conns
}

// sortModules computes a topological order with Kahn's algorithm. Among
// ready modules the one inserted earliest goes first, so an unchanged graph
// resolves to an unchanged order.
func sortModules(modules []*tuidaw.Module, index map[tuidaw.ModuleID]int, conns []tuidaw.Connection) ([]tuidaw.ModuleID, error) {
	n := len(modules)
	indegree := make([]int, n)
	succs := make([][]int, n)
	for _, c := range conns {
		from, okFrom := index[c.From]
		to, okTo := index[c.To]
		if !okFrom || !okTo || from == to {
			if okFrom && okTo && from == to {
				return nil, errors.Wrapf(ErrRoutingCycle, "module %v feeds itself", c.From)
			}
			continue // dangling edge to a removed module; session state races are benign
		}
		succs[from] = append(succs[from], to)
		indegree[to]++
	}
	order := make([]tuidaw.ModuleID, 0, n)
	done := make([]bool, n)
	for len(order) < n {
		picked := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			return nil, ErrRoutingCycle
		}
		done[picked] = true
		order = append(order, modules[picked].ID)
		for _, s := range succs[picked] {
			indegree[s]--
		}
	}
	return order, nil
}

type netSet struct {
	parent map[portRef]portRef
}

// buildNets unions connected ports into signal nets. Every net gets exactly
// one bus: multiple writers sum, multiple readers share.
func buildNets(conns []tuidaw.Connection) *netSet {
	s := &netSet{parent: make(map[portRef]portRef)}
	for _, c := range conns {
		s.union(portRef{c.From, c.FromPort, true}, portRef{c.To, c.ToPort, false})
	}
	return s
}

func (s *netSet) find(r portRef) portRef {
	p, ok := s.parent[r]
	if !ok || p == r {
		return r
	}
	root := s.find(p)
	s.parent[r] = root
	return root
}

func (s *netSet) union(a, b portRef) {
	ra, rb := s.find(a), s.find(b)
	if ra != rb {
		s.parent[rb] = ra
	}
}

// busKey returns the allocator key of the net containing ref: the smallest
// member port of the net, so the key does not depend on connection order
// and the net keeps its bus across rebuilds.
func (s *netSet) busKey(ref portRef) Key {
	root := s.find(ref)
	members := []portRef{root}
	for r := range s.parent {
		if s.find(r) == root {
			members = append(members, r)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.module != b.module {
			return a.module < b.module
		}
		if a.port != b.port {
			return a.port < b.port
		}
		return a.out && !b.out
	})
	canon := members[0]
	return Key{Module: canon.module, Port: canon.port}
}
