package network

import (
	"fmt"

	"github.com/flowmesh/flowmesh/core"
)

// Endpoint identifies one side of a connection: an agent, one of its ports,
// and the element for array ports (empty otherwise).
type Endpoint struct {
	Agent   string
	Port    string
	Element string
}

// EP is a convenience constructor for simple-port endpoints.
func EP(agent, port string) Endpoint { return Endpoint{Agent: agent, Port: port} }

// EPE is a convenience constructor for array-element endpoints.
func EPE(agent, port, element string) Endpoint {
	return Endpoint{Agent: agent, Port: port, Element: element}
}

func (e Endpoint) String() string {
	if e.Element != "" {
		return fmt.Sprintf("%s.%s[%s]", e.Agent, e.Port, e.Element)
	}
	return fmt.Sprintf("%s.%s", e.Agent, e.Port)
}

// Connection is a directed link from a producing endpoint to a consuming or
// peeking endpoint. Capacity overrides the consuming port's declared buffer
// size when positive (clamped like PortSpec.Capacity).
type Connection struct {
	From     Endpoint
	To       Endpoint
	Capacity int
}

// Node is one agent instance inside a built network: the agent, its port
// declarations indexed by name, and its persistent state value (constructed
// exactly once at build for Stateful agents).
type Node struct {
	Agent core.Agent
	Ports map[string]core.PortSpec
	State any
}

// Spec returns the declaration of the named port.
func (n *Node) Spec(port string) (core.PortSpec, bool) {
	s, ok := n.Ports[port]
	return s, ok
}

// Network is a validated static wiring of agents and connections. It holds
// no execution state; package engine drives it and may drive the same
// Network repeatedly (composite nesting relies on this; node state
// persists across engine instances).
type Network struct {
	nodes       []*Node
	byName      map[string]*Node
	conns       []Connection
	exposed     map[Endpoint]bool
	boundaryIn  []Endpoint
	boundaryOut []Endpoint
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	exposed []Endpoint
}

// WithExposedInputs declares mandatory inputs that are fed from outside the
// network (via engine.Inject or an enclosing composite) instead of an
// internal connection. An exposed input counts as having exactly one
// producer.
func WithExposedInputs(eps ...Endpoint) Option {
	return func(o *buildOptions) { o.exposed = append(o.exposed, eps...) }
}

// Build validates agents and connections and assembles a Network. It fails
// with a *BuildError (wrapping ErrMalformed) on any structural or schema
// violation; a nil error guarantees none of those conditions can occur at
// run time. Build is deterministic over its inputs.
func Build(agents []core.Agent, conns []Connection, opts ...Option) (*Network, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	net := &Network{
		byName:  make(map[string]*Node, len(agents)),
		conns:   conns,
		exposed: make(map[Endpoint]bool, len(bo.exposed)),
	}

	for _, a := range agents {
		if a.Name() == "" {
			return nil, buildErrf(KindDuplicateAgent, "agent with empty name")
		}
		if _, ok := net.byName[a.Name()]; ok {
			return nil, buildErrf(KindDuplicateAgent, "agent %q declared twice", a.Name())
		}
		node := &Node{Agent: a, Ports: make(map[string]core.PortSpec)}
		for _, p := range a.Ports() {
			if err := checkPortSpec(a.Name(), p); err != nil {
				return nil, err
			}
			if _, ok := node.Ports[p.Name]; ok {
				return nil, buildErrf(KindDuplicatePort, "agent %q declares port %q twice", a.Name(), p.Name)
			}
			node.Ports[p.Name] = p
		}
		if s, ok := a.(core.Stateful); ok {
			node.State = s.InitState()
		}
		net.nodes = append(net.nodes, node)
		net.byName[a.Name()] = node
	}

	for _, ep := range bo.exposed {
		spec, err := net.resolve(ep)
		if err != nil {
			return nil, err
		}
		if !spec.Kind.Mandatory() {
			return nil, buildErrf(KindBadDirection, "exposed input %s is not a mandatory input port", ep)
		}
		net.exposed[ep] = true
	}

	producers := make(map[Endpoint]int)
	connectedOut := make(map[Endpoint]bool)
	for _, c := range conns {
		from, err := net.resolve(c.From)
		if err != nil {
			return nil, err
		}
		to, err := net.resolve(c.To)
		if err != nil {
			return nil, err
		}
		if !from.Kind.Producing() {
			return nil, buildErrf(KindBadDirection, "connection source %s is a %s port", c.From, from.Kind)
		}
		if to.Kind.Producing() {
			return nil, buildErrf(KindBadDirection, "connection target %s is a %s port", c.To, to.Kind)
		}
		if from.Schema.ID != to.Schema.ID {
			return nil, buildErrf(KindSchemaMismatch, "%s (%s) -> %s (%s)", c.From, from.Schema.ID, c.To, to.Schema.ID)
		}
		producers[c.To]++
		connectedOut[c.From] = true
	}

	// Exactly-one-producer rule for every mandatory input and every
	// mandatory array element; peek ports accept any producer count.
	for _, node := range net.nodes {
		name := node.Agent.Name()
		for _, p := range node.Agent.Ports() {
			if !p.Kind.Mandatory() {
				continue
			}
			for _, ep := range portEndpoints(name, p) {
				n := producers[ep]
				if net.exposed[ep] {
					n++
				}
				switch {
				case n == 0:
					return nil, buildErrf(KindMissingConnection, "mandatory input %s has no producing connection", ep)
				case n > 1:
					return nil, buildErrf(KindMultipleProducers, "mandatory input %s has %d producers", ep, n)
				}
			}
		}
	}

	net.computeBoundary(connectedOut, producers)
	return net, nil
}

func checkPortSpec(agent string, p core.PortSpec) error {
	if p.Name == "" {
		return buildErrf(KindBadPortSpec, "agent %q declares a port with empty name", agent)
	}
	if p.Kind.Array() && len(p.Elements) == 0 {
		return buildErrf(KindBadPortSpec, "array port %s.%s declares no elements", agent, p.Name)
	}
	if !p.Kind.Array() && len(p.Elements) > 0 {
		return buildErrf(KindBadPortSpec, "%s port %s.%s declares elements", p.Kind, agent, p.Name)
	}
	seen := make(map[string]bool, len(p.Elements))
	for _, e := range p.Elements {
		if e == "" {
			return buildErrf(KindBadPortSpec, "array port %s.%s declares an empty element name", agent, p.Name)
		}
		if seen[e] {
			return buildErrf(KindBadPortSpec, "array port %s.%s declares element %q twice", agent, p.Name, e)
		}
		seen[e] = true
	}
	if p.Seed != nil {
		if p.Kind != core.PortAccumulator {
			return buildErrf(KindBadPortSpec, "%s port %s.%s carries a seed", p.Kind, agent, p.Name)
		}
		if p.Seed.Type != p.Schema.ID {
			return buildErrf(KindSchemaMismatch, "seed of %s.%s has type %q, port schema is %q", agent, p.Name, p.Seed.Type, p.Schema.ID)
		}
	}
	return nil
}

// resolve checks that an endpoint names a declared agent, port and element
// and returns the port declaration.
func (n *Network) resolve(ep Endpoint) (core.PortSpec, error) {
	node, ok := n.byName[ep.Agent]
	if !ok {
		return core.PortSpec{}, buildErrf(KindUnknownEndpoint, "agent %q does not exist", ep.Agent)
	}
	spec, ok := node.Ports[ep.Port]
	if !ok {
		return core.PortSpec{}, buildErrf(KindUnknownEndpoint, "agent %q has no port %q", ep.Agent, ep.Port)
	}
	if spec.Kind.Array() {
		if ep.Element == "" {
			return core.PortSpec{}, buildErrf(KindUnknownEndpoint, "endpoint %s must name an element of array port %q", ep, ep.Port)
		}
		if !spec.HasElement(ep.Element) {
			return core.PortSpec{}, buildErrf(KindUnknownEndpoint, "array port %s.%s has no element %q", ep.Agent, ep.Port, ep.Element)
		}
	} else if ep.Element != "" {
		return core.PortSpec{}, buildErrf(KindUnknownEndpoint, "endpoint %s names an element on non-array port %q", ep, ep.Port)
	}
	return spec, nil
}

// portEndpoints expands a port declaration into its concrete endpoints (one
// per element for array ports).
func portEndpoints(agent string, p core.PortSpec) []Endpoint {
	if !p.Kind.Array() {
		return []Endpoint{{Agent: agent, Port: p.Name}}
	}
	eps := make([]Endpoint, 0, len(p.Elements))
	for _, e := range p.Elements {
		eps = append(eps, Endpoint{Agent: agent, Port: p.Name, Element: e})
	}
	return eps
}

// computeBoundary records entry and exit ports: exposed mandatory inputs
// plus unconnected peek ports on the way in, unconnected producing
// endpoints on the way out.
func (n *Network) computeBoundary(connectedOut map[Endpoint]bool, producers map[Endpoint]int) {
	for _, node := range n.nodes {
		name := node.Agent.Name()
		for _, p := range node.Agent.Ports() {
			for _, ep := range portEndpoints(name, p) {
				switch {
				case p.Kind.Mandatory() && n.exposed[ep]:
					n.boundaryIn = append(n.boundaryIn, ep)
				case p.Kind.Peeking() && producers[ep] == 0:
					n.boundaryIn = append(n.boundaryIn, ep)
				case p.Kind.Producing() && !connectedOut[ep]:
					n.boundaryOut = append(n.boundaryOut, ep)
				}
			}
		}
	}
}

// Resolve validates that ep names a declared agent, port and element and
// returns the port declaration.
func (n *Network) Resolve(ep Endpoint) (core.PortSpec, error) {
	return n.resolve(ep)
}

// IsBoundaryInput reports whether ep is an entry port: an exposed mandatory
// input or an option/accumulator port with no internal producer.
func (n *Network) IsBoundaryInput(ep Endpoint) bool {
	for _, b := range n.boundaryIn {
		if b == ep {
			return true
		}
	}
	return false
}

// IsBoundaryOutput reports whether ep is an exit port.
func (n *Network) IsBoundaryOutput(ep Endpoint) bool {
	for _, b := range n.boundaryOut {
		if b == ep {
			return true
		}
	}
	return false
}

// Nodes returns the agent nodes in declaration order.
func (n *Network) Nodes() []*Node { return n.nodes }

// Node returns the node for the named agent.
func (n *Network) Node(name string) (*Node, bool) {
	node, ok := n.byName[name]
	return node, ok
}

// Connections returns the internal wiring.
func (n *Network) Connections() []Connection { return n.conns }

// Exposed reports whether ep was declared a boundary entry at build.
func (n *Network) Exposed(ep Endpoint) bool { return n.exposed[ep] }

// BoundaryInputs lists entry ports available to the embedding context:
// exposed mandatory inputs and unconnected option/accumulator ports.
func (n *Network) BoundaryInputs() []Endpoint { return n.boundaryIn }

// BoundaryOutputs lists exit ports: producing endpoints with no internal
// connection.
func (n *Network) BoundaryOutputs() []Endpoint { return n.boundaryOut }
