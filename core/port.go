package core

import "fmt"

// PortKind is the closed set of port disciplines. Each discipline carries
// its own buffering and consumption semantics, dispatched exhaustively by
// the engine rather than by name-based lookup.
type PortKind int

const (
	// PortInput is a mandatory single consuming port: one Message is
	// removed per receive.
	PortInput PortKind = iota
	// PortInputArray is a mandatory consuming port with multiple named
	// elements, each an independent FIFO; the element set is fixed at
	// wiring time.
	PortInputArray
	// PortOutput is a single producing port; sends block once the slowest
	// downstream buffer is full (backpressure).
	PortOutput
	// PortOutputArray is a producing port with multiple named elements for
	// fan-out; sends target one element or broadcast to all.
	PortOutputArray
	// PortOption is a non-mandatory peek port: Peek returns the most
	// recently received Message without consuming it.
	PortOption
	// PortAccumulator is a non-mandatory peek port with an optional seed
	// value, for running counters and the like.
	PortAccumulator
)

// String returns the discipline name.
func (k PortKind) String() string {
	switch k {
	case PortInput:
		return "input"
	case PortInputArray:
		return "input_array"
	case PortOutput:
		return "output"
	case PortOutputArray:
		return "output_array"
	case PortOption:
		return "option"
	case PortAccumulator:
		return "accumulator"
	default:
		return fmt.Sprintf("port_kind(%d)", int(k))
	}
}

// Mandatory reports whether ports of this kind gate agent readiness: an
// agent only runs when every mandatory port (and every element of a
// mandatory array port) holds at least one pending Message.
func (k PortKind) Mandatory() bool { return k == PortInput || k == PortInputArray }

// Consuming reports whether receives on this kind remove the Message.
func (k PortKind) Consuming() bool { return k == PortInput || k == PortInputArray }

// Producing reports whether this kind is a send-side discipline.
func (k PortKind) Producing() bool { return k == PortOutput || k == PortOutputArray }

// Peeking reports whether this kind retains the last Message for
// non-consuming reads.
func (k PortKind) Peeking() bool { return k == PortOption || k == PortAccumulator }

// Array reports whether this kind carries named elements.
func (k PortKind) Array() bool { return k == PortInputArray || k == PortOutputArray }

// Buffer capacity bounds for consuming connections. Capacities outside the
// range are clamped at wiring time, keeping every buffer small enough for
// backpressure to reach producers quickly.
const (
	DefaultCapacity = 8
	MaxCapacity     = 16
)

// PortSpec declares one port of an agent: its name, discipline, schema and
// buffering. Agents expose their PortSpecs statically so the network and
// scheduler can wire and gate them before any run happens.
type PortSpec struct {
	Name   string
	Kind   PortKind
	Schema Schema

	// Capacity bounds each consuming connection attached to this port.
	// Zero means DefaultCapacity; values are clamped to [1, MaxCapacity].
	Capacity int

	// Elements names the array elements; required for array kinds, must be
	// empty otherwise.
	Elements []string

	// Seed optionally pre-fills an accumulator port so the first Peek
	// observes a value before any Message arrives.
	Seed *Message
}

// EffectiveCapacity returns the clamped buffer capacity for connections
// into this port.
func (p PortSpec) EffectiveCapacity() int {
	switch {
	case p.Capacity <= 0:
		return DefaultCapacity
	case p.Capacity > MaxCapacity:
		return MaxCapacity
	default:
		return p.Capacity
	}
}

// HasElement reports whether name is a declared array element.
func (p PortSpec) HasElement(name string) bool {
	for _, e := range p.Elements {
		if e == name {
			return true
		}
	}
	return false
}

// InputPort declares a mandatory single input.
func InputPort(name string, s Schema) PortSpec {
	return PortSpec{Name: name, Kind: PortInput, Schema: s}
}

// InputArrayPort declares a mandatory fan-in port with fixed elements.
func InputArrayPort(name string, s Schema, elements ...string) PortSpec {
	return PortSpec{Name: name, Kind: PortInputArray, Schema: s, Elements: elements}
}

// OutputPort declares a single output.
func OutputPort(name string, s Schema) PortSpec {
	return PortSpec{Name: name, Kind: PortOutput, Schema: s}
}

// OutputArrayPort declares a fan-out port with fixed elements.
func OutputArrayPort(name string, s Schema, elements ...string) PortSpec {
	return PortSpec{Name: name, Kind: PortOutputArray, Schema: s, Elements: elements}
}

// OptionPort declares a non-mandatory peek port for side-channel
// configuration.
func OptionPort(name string, s Schema) PortSpec {
	return PortSpec{Name: name, Kind: PortOption, Schema: s}
}

// AccumulatorPort declares a peek port with an optional seed. Pass a zero
// Message for an unseeded accumulator.
func AccumulatorPort(name string, s Schema, seed Message) PortSpec {
	spec := PortSpec{Name: name, Kind: PortAccumulator, Schema: s}
	if !seed.IsZero() {
		spec.Seed = &seed
	}
	return spec
}
