package tuidaw

import "fmt"

type (
	// ModuleID is the stable numeric identity of a rack module. IDs are
	// assigned by the session state when a module is created and are never
	// reused within a session.
	ModuleID uint32

	// ModuleKind tells what a module is. The set is closed: the engine only
	// knows how to realize kinds listed in KindSpecs on the server.
	ModuleKind int

	// ParamType is the presentation type of a parameter value. All values
	// are stored as float64 and converted to float32 on the wire; Int and
	// Bool exist so editors know how to display and step them.
	ParamType int

	// Param is one named parameter of a module. Min and Max are inclusive.
	Param struct {
		Name  string    `yaml:"name"`
		Type  ParamType `yaml:"type,omitempty"`
		Value float64   `yaml:"value"`
		Min   float64   `yaml:"min"`
		Max   float64   `yaml:"max"`
	}

	// Module is one node of the rack graph.
	Module struct {
		ID        ModuleID   `yaml:"id"`
		Kind      ModuleKind `yaml:"kind"`
		Name      string     `yaml:"name,omitempty"`
		Enabled   bool       `yaml:"enabled"`
		MaxVoices int        `yaml:"maxvoices,omitempty"` // polyphony cap for voiced kinds; 0 means DefaultMaxVoices
		Params    []Param    `yaml:"params,omitempty"`
	}

	// Connection is a directed edge from an output port of one module to an
	// input port of another. Several connections may target the same input
	// port; their signals sum on the shared bus.
	Connection struct {
		From     ModuleID `yaml:"from"`
		FromPort string   `yaml:"fromport"`
		To       ModuleID `yaml:"to"`
		ToPort   string   `yaml:"toport"`
	}

	// Rack is a snapshot of the module graph, handed to the engine by the
	// session state. The engine treats it as read-only. Modules are kept in
	// insertion order; the resolver uses that order to break topological
	// ties so that rebuilds stay stable.
	Rack struct {
		Modules     []Module     `yaml:"modules"`
		Connections []Connection `yaml:"connections,omitempty"`
	}

	// KindSpec documents the ports and parameters of one module kind.
	KindSpec struct {
		Name      string   // display name
		SynthDef  string   // name of the synthdef realizing this kind on the server
		Voiced    bool     // note-driven kinds spawn one synth per sounding note
		AudioIns  []string // audio-rate input ports
		AudioOuts []string // audio-rate output ports
		CtlOuts   []string // control-rate output ports (modulation sources)
		Params    []Param  // default parameters
	}
)

const (
	FloatParam ParamType = iota
	IntParam
	BoolParam
)

const (
	SawOsc ModuleKind = iota
	SinOsc
	SqrOsc
	TriOsc
	Sampler
	LPF
	HPF
	BPF
	ADSR
	LFO
	Delay
	Reverb
	Output
)

// DefaultMaxVoices is the polyphony cap for voiced modules that do not set
// one explicitly.
const DefaultMaxVoices = 16

// KindSpecs documents all the module kinds: their synthdefs, ports and
// default parameters. Port and parameter names double as synthdef control
// names, so they are part of the server contract.
var KindSpecs = map[ModuleKind]KindSpec{
	SawOsc: {Name: "Saw Oscillator", SynthDef: "tuidaw_saw", Voiced: true,
		AudioOuts: []string{"out"},
		Params:    oscParams()},
	SinOsc: {Name: "Sine Oscillator", SynthDef: "tuidaw_sin", Voiced: true,
		AudioOuts: []string{"out"},
		Params:    oscParams()},
	SqrOsc: {Name: "Square Oscillator", SynthDef: "tuidaw_sqr", Voiced: true,
		AudioOuts: []string{"out"},
		Params:    oscParams()},
	TriOsc: {Name: "Triangle Oscillator", SynthDef: "tuidaw_tri", Voiced: true,
		AudioOuts: []string{"out"},
		Params:    oscParams()},
	Sampler: {Name: "Sampler", SynthDef: "tuidaw_sampler", Voiced: true,
		AudioOuts: []string{"out"},
		Params: []Param{
			{Name: "rate", Value: 1, Min: -2, Max: 2},
			{Name: "amp", Value: 0.8, Min: 0, Max: 1},
			{Name: "loop", Type: BoolParam, Value: 0, Min: 0, Max: 1},
			{Name: "bufnum", Type: IntParam, Value: 0, Min: 0, Max: 1023},
			{Name: "release", Value: 0.1, Min: 0, Max: 10},
		}},
	LPF: {Name: "Low-Pass Filter", SynthDef: "tuidaw_lpf",
		AudioIns: []string{"in"}, AudioOuts: []string{"out"},
		Params: filterParams()},
	HPF: {Name: "High-Pass Filter", SynthDef: "tuidaw_hpf",
		AudioIns: []string{"in"}, AudioOuts: []string{"out"},
		Params: filterParams()},
	BPF: {Name: "Band-Pass Filter", SynthDef: "tuidaw_bpf",
		AudioIns: []string{"in"}, AudioOuts: []string{"out"},
		Params: filterParams()},
	ADSR: {Name: "ADSR Envelope", SynthDef: "tuidaw_adsr",
		CtlOuts: []string{"env"},
		Params: []Param{
			{Name: "attack", Value: 0.01, Min: 0, Max: 5},
			{Name: "decay", Value: 0.1, Min: 0, Max: 5},
			{Name: "sustain", Value: 0.7, Min: 0, Max: 1},
			{Name: "release", Value: 0.3, Min: 0, Max: 10},
		}},
	LFO: {Name: "LFO", SynthDef: "tuidaw_lfo",
		CtlOuts: []string{"out"},
		Params: []Param{
			{Name: "rate", Value: 1, Min: 0.01, Max: 100},
			{Name: "depth", Value: 0.5, Min: 0, Max: 1},
			{Name: "shape", Type: IntParam, Value: 0, Min: 0, Max: 3}, // 0=sine 1=square 2=saw 3=triangle
		}},
	Delay: {Name: "Delay", SynthDef: "tuidaw_delay",
		AudioIns: []string{"in"}, AudioOuts: []string{"out"},
		Params: []Param{
			{Name: "time", Value: 0.3, Min: 0, Max: 2},
			{Name: "feedback", Value: 0.5, Min: 0, Max: 1},
			{Name: "mix", Value: 0.3, Min: 0, Max: 1},
		}},
	Reverb: {Name: "Reverb", SynthDef: "tuidaw_reverb",
		AudioIns: []string{"in"}, AudioOuts: []string{"out"},
		Params: []Param{
			{Name: "room", Value: 0.5, Min: 0, Max: 1},
			{Name: "damp", Value: 0.5, Min: 0, Max: 1},
			{Name: "mix", Value: 0.3, Min: 0, Max: 1},
		}},
	Output: {Name: "Output", SynthDef: "tuidaw_output",
		AudioIns: []string{"in"},
		Params: []Param{
			{Name: "gain", Value: 1, Min: 0, Max: 2},
		}},
}

func oscParams() []Param {
	return []Param{
		{Name: "freq", Value: 440, Min: 20, Max: 20000},
		{Name: "amp", Value: 0.5, Min: 0, Max: 1},
		{Name: "attack", Value: 0.01, Min: 0, Max: 5},
		{Name: "release", Value: 0.3, Min: 0, Max: 10},
	}
}

func filterParams() []Param {
	return []Param{
		{Name: "cutoff", Value: 1000, Min: 20, Max: 20000},
		{Name: "resonance", Value: 0.5, Min: 0, Max: 1},
	}
}

var kindShortNames = map[ModuleKind]string{
	SawOsc: "saw", SinOsc: "sin", SqrOsc: "sqr", TriOsc: "tri",
	Sampler: "sample", LPF: "lpf", HPF: "hpf", BPF: "bpf",
	ADSR: "adsr", LFO: "lfo", Delay: "delay", Reverb: "reverb",
	Output: "output",
}

// Spec returns the KindSpec for the kind; unknown kinds return a zero spec.
func (k ModuleKind) Spec() KindSpec {
	return KindSpecs[k]
}

func (k ModuleKind) String() string {
	if s, ok := kindShortNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NewModule creates a module of the given kind with its default parameters.
func NewModule(id ModuleID, kind ModuleKind) Module {
	spec := kind.Spec()
	params := make([]Param, len(spec.Params))
	copy(params, spec.Params)
	return Module{
		ID:      id,
		Kind:    kind,
		Name:    fmt.Sprintf("%v-%d", kind, id),
		Enabled: true,
		Params:  params,
	}
}

// Float returns the value as sent on the wire.
func (p Param) Float() float32 {
	return float32(p.Value)
}

// Clamp limits v to the parameter range.
func (p Param) Clamp(v float64) float64 {
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

// Param returns the module parameter with the given name.
func (m *Module) Param(name string) (Param, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// SetParam sets the named parameter, clamping the value to its range. Setting
// an unknown parameter is a no-op returning false.
func (m *Module) SetParam(name string, value float64) bool {
	for i, p := range m.Params {
		if p.Name == name {
			m.Params[i].Value = p.Clamp(value)
			return true
		}
	}
	return false
}

// Cap returns the effective polyphony cap of the module.
func (m *Module) Cap() int {
	if m.MaxVoices > 0 {
		return m.MaxVoices
	}
	return DefaultMaxVoices
}

func (m *Module) Copy() Module {
	params := make([]Param, len(m.Params))
	copy(params, m.Params)
	ret := *m
	ret.Params = params
	return ret
}

// ModuleByID returns a pointer to the module with the given identity, or nil.
func (r *Rack) ModuleByID(id ModuleID) *Module {
	for i := range r.Modules {
		if r.Modules[i].ID == id {
			return &r.Modules[i]
		}
	}
	return nil
}

func (r *Rack) Copy() Rack {
	modules := make([]Module, len(r.Modules))
	for i := range r.Modules {
		modules[i] = r.Modules[i].Copy()
	}
	connections := make([]Connection, len(r.Connections))
	copy(connections, r.Connections)
	return Rack{Modules: modules, Connections: connections}
}
