package core

// Agent is the unit of computation in a flowmesh network. Implementations
// expose their port set statically via Ports and perform all I/O through
// the RunContext handed to Run.
//
// Run executes to completion synchronously and never yields mid-execution.
// The scheduler guarantees at most one in-flight Run per agent instance and
// only invokes Run when every mandatory port holds at least one pending
// Message, so implementations need no internal locking for their own state.
//
// Implementations must:
//   - Declare every port they touch; undeclared port access is a contract
//     violation surfaced as that agent's failure.
//   - Treat received Messages as immutable.
//   - Report their outcome through the returned Signal rather than panicking
//     (panics are recovered and converted to failures, but only as a last
//     resort).
type Agent interface {
	Name() string
	Ports() []PortSpec
	Run(rc RunContext) Signal
}

// Stateful is implemented by agents carrying persistent per-instance state.
// InitState is called exactly once when the network is built; the returned
// value is reachable afterwards only through RunContext.State during the
// agent's own runs, so it needs no synchronization.
type Stateful interface {
	InitState() any
}

// FuncAgent adapts a plain function (plus declared ports and an optional
// state constructor) into an Agent. It is the everyday way to define leaf
// agents without a dedicated type.
type FuncAgent struct {
	name  string
	ports []PortSpec
	init  func() any
	run   func(rc RunContext) Signal
}

// FuncAgentOption customizes a FuncAgent.
type FuncAgentOption func(*FuncAgent)

// WithState attaches a state constructor invoked once at network build.
func WithState(init func() any) FuncAgentOption {
	return func(a *FuncAgent) { a.init = init }
}

// NewFuncAgent builds an Agent from a run function and its declared ports.
func NewFuncAgent(name string, ports []PortSpec, run func(rc RunContext) Signal, opts ...FuncAgentOption) *FuncAgent {
	a := &FuncAgent{name: name, ports: ports, run: run}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's unique name within its network.
func (a *FuncAgent) Name() string { return a.name }

// Ports returns the declared port set.
func (a *FuncAgent) Ports() []PortSpec { return a.ports }

// Run invokes the wrapped function.
func (a *FuncAgent) Run(rc RunContext) Signal { return a.run(rc) }

// InitState implements Stateful; it returns nil when no constructor was
// configured.
func (a *FuncAgent) InitState() any {
	if a.init == nil {
		return nil
	}
	return a.init()
}
