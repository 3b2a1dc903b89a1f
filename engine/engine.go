package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/core"
	"github.com/flowmesh/flowmesh/logging"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/trace"
)

// Config defines tuning parameters for the engine's operational behavior.
type Config struct {
	// MaxConcurrentRuns bounds how many agent runs execute simultaneously.
	// Zero selects the default. One yields fully sequential execution,
	// useful for deterministic debugging.
	MaxConcurrentRuns int

	// TapBuffer sets the channel buffer size for boundary output taps.
	// A full tap backpressures the producing agent like any other
	// downstream buffer.
	TapBuffer int
}

// DefaultConfig provides conservative defaults safe for tests and
// development.
var DefaultConfig = Config{
	MaxConcurrentRuns: 4,
	TapBuffer:         16,
}

// FailurePolicy governs what happens downstream of a failed agent whose
// output feeds still-active mandatory inputs. It is a network-level setting
// rather than fixed behavior.
type FailurePolicy int

const (
	// FailureStall leaves the failed agent's ports untouched: downstream
	// agents simply never become runnable again once they drain. This is
	// the default because it adds no behavior beyond what failure itself
	// implies.
	FailureStall FailurePolicy = iota

	// FailureSynthesizeEnd closes the failed agent's ports exactly as if
	// it had returned End, triggering ordinary cascading shutdown.
	FailureSynthesizeEnd

	// FailurePropagate additionally fails downstream agents once every one
	// of their mandatory inputs is starved by terminated producers, with
	// an error wrapping the upstream failure.
	FailurePropagate
)

func (p FailurePolicy) String() string {
	switch p {
	case FailureStall:
		return "stall"
	case FailureSynthesizeEnd:
		return "synthesize_end"
	case FailurePropagate:
		return "propagate"
	default:
		return fmt.Sprintf("failure_policy(%d)", int(p))
	}
}

// ParseFailurePolicy maps a configuration string to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "stall":
		return FailureStall, nil
	case "synthesize_end":
		return FailureSynthesizeEnd, nil
	case "propagate":
		return FailurePropagate, nil
	default:
		return FailureStall, fmt.Errorf("unknown failure policy %q", s)
	}
}

// AgentFailure pairs a failed agent with its reported error.
type AgentFailure struct {
	Agent string
	Err   error
}

func (f AgentFailure) Error() string { return fmt.Sprintf("agent %s: %v", f.Agent, f.Err) }

// Outcome is the aggregate result delivered to the embedding collaborator
// by AwaitTerminal.
type Outcome struct {
	// Completed is true when no agent failed. A network that went
	// quiescent with agents still waiting (deadlock-by-design) completes
	// successfully.
	Completed bool
	Failures  []AgentFailure
}

// Option configures an Engine using the functional options pattern.
type Option func(*Engine)

// WithConfig overrides the default operational parameters.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the structured logger. Nil is substituted with a NoOp
// logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNoOp(l) }
}

// WithRecorder attaches a trace recorder observing runs and deliveries.
func WithRecorder(r trace.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithFailurePolicy selects the downstream behavior of agent failures.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithCallbacks attaches a callback manager for run lifecycle hooks.
func WithCallbacks(cm *CallbackManager) Option {
	return func(e *Engine) {
		if cm != nil {
			e.callbacks = cm
		}
	}
}

type agentStatus int

const (
	statusIdle agentStatus = iota
	statusQueued
	statusRunning
	statusEnded
	statusFailed
)

// target is one delivery destination of a producing endpoint: a downstream
// mailbox, a peek latch, or a boundary tap channel.
type target struct {
	to    network.Endpoint
	box   *mailbox
	latch *latch
	tap   chan core.Message
}

// agentState is the engine's live view of one agent node: its buffers,
// delivery targets and scheduling status. Status transitions happen only
// under the engine mutex.
type agentState struct {
	node *network.Node
	name string

	status    agentStatus
	inboxes   map[string]*mailbox // consuming endpoints, keyed by portKey
	latches   map[string]*latch   // peek ports, keyed by port name
	outs      map[string][]target // producing endpoints, keyed by portKey
	mandatory []*mailbox

	// doomedErr marks an agent whose mandatory inputs were starved by an
	// upstream failure under FailurePropagate; it fails once drained.
	doomedErr error
}

// ready reports conjunctive readiness: every mandatory buffer non-empty.
// Agents without mandatory ports are only scheduled by the initial sweep.
func (as *agentState) ready() bool {
	for _, m := range as.mandatory {
		if m.pending() == 0 {
			return false
		}
	}
	return true
}

// stuck reports that the agent can never become runnable again: at least
// one mandatory input is closed and empty, so conjunctive readiness is
// permanently unsatisfiable.
func (as *agentState) stuck() bool {
	for _, m := range as.mandatory {
		if m.drained() {
			return true
		}
	}
	return false
}

// Engine drives execution of a built network: it owns the connection
// buffers, decides agent runnability, invokes runs on a bounded worker pool
// and routes completion and failure signals. Create one with New, then use
// Start, Inject, Tap and AwaitTerminal. An Engine instance drives one
// execution; build a new Engine to run the same network again.
type Engine struct {
	net       *network.Network
	cfg       Config
	logger    logging.Logger
	recorder  trace.Recorder
	policy    FailurePolicy
	callbacks *CallbackManager

	mu        sync.Mutex
	cond      *sync.Cond
	agents    map[string]*agentState
	order     []*agentState
	queue     []*agentState
	running   int
	active    int // agents not yet ended or failed
	started   bool
	sealed    bool
	cancelled bool
	failures  []AgentFailure
	taps      map[network.Endpoint]chan core.Message
	tapsOpen  bool
	ctx       context.Context
	slots     chan struct{}

	downstream map[string][]*agentState
}

// New assembles an engine for a built network. The wiring (mailboxes,
// latches, delivery targets) is constructed here; nothing runs until Start.
func New(net *network.Network, opts ...Option) *Engine {
	e := &Engine{
		net:        net,
		cfg:        DefaultConfig,
		logger:     logging.NoOpLogger{},
		recorder:   trace.Nop{},
		policy:     FailureStall,
		callbacks:  NewCallbackManager(),
		agents:     make(map[string]*agentState),
		taps:       make(map[network.Endpoint]chan core.Message),
		tapsOpen:   true,
		downstream: make(map[string][]*agentState),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxConcurrentRuns <= 0 {
		e.cfg.MaxConcurrentRuns = DefaultConfig.MaxConcurrentRuns
	}
	if e.cfg.TapBuffer <= 0 {
		e.cfg.TapBuffer = DefaultConfig.TapBuffer
	}
	e.slots = make(chan struct{}, e.cfg.MaxConcurrentRuns)
	for i := 0; i < e.cfg.MaxConcurrentRuns; i++ {
		e.slots <- struct{}{}
	}
	e.wire()
	return e
}

// portKey flattens a port/element pair into a map key.
func portKey(port, element string) string {
	if element == "" {
		return port
	}
	return port + "[" + element + "]"
}

func endpointKey(ep network.Endpoint) string { return portKey(ep.Port, ep.Element) }

// wire builds the runtime structures from the static network: one mailbox
// per consuming endpoint, one latch per peek port, delivery target lists
// per producing endpoint.
func (e *Engine) wire() {
	// Connection-level capacity overrides, applied before mailboxes exist.
	capOverride := make(map[network.Endpoint]int)
	for _, c := range e.net.Connections() {
		if c.Capacity > 0 {
			cp := c.Capacity
			if cp > core.MaxCapacity {
				cp = core.MaxCapacity
			}
			capOverride[c.To] = cp
		}
	}

	for _, node := range e.net.Nodes() {
		as := &agentState{
			node:    node,
			name:    node.Agent.Name(),
			inboxes: make(map[string]*mailbox),
			latches: make(map[string]*latch),
			outs:    make(map[string][]target),
		}
		for _, p := range node.Agent.Ports() {
			switch {
			case p.Kind.Consuming():
				for _, ep := range elementEndpoints(as.name, p) {
					capacity := p.EffectiveCapacity()
					if c, ok := capOverride[ep]; ok {
						capacity = c
					}
					consumer := as
					box := newMailbox(capacity, func() { e.notifyArrival(consumer) })
					as.inboxes[endpointKey(ep)] = box
					as.mandatory = append(as.mandatory, box)
				}
			case p.Kind.Peeking():
				l := &latch{}
				if p.Seed != nil {
					l.store(*p.Seed)
				}
				as.latches[p.Name] = l
			}
		}
		e.agents[as.name] = as
		e.order = append(e.order, as)
		e.active++
	}

	for _, c := range e.net.Connections() {
		producer := e.agents[c.From.Agent]
		consumer := e.agents[c.To.Agent]
		t := target{to: c.To}
		if box, ok := consumer.inboxes[endpointKey(c.To)]; ok {
			t.box = box
		} else {
			t.latch = consumer.latches[c.To.Port]
		}
		key := endpointKey(c.From)
		producer.outs[key] = append(producer.outs[key], t)
		e.downstream[producer.name] = append(e.downstream[producer.name], consumer)
	}
}

func elementEndpoints(agent string, p core.PortSpec) []network.Endpoint {
	if !p.Kind.Array() {
		return []network.Endpoint{network.EP(agent, p.Name)}
	}
	eps := make([]network.Endpoint, 0, len(p.Elements))
	for _, el := range p.Elements {
		eps = append(eps, network.EPE(agent, p.Name, el))
	}
	return eps
}

// Tap subscribes to a boundary output, returning a channel that receives
// every message the endpoint produces. Must be called before Start. The
// channel is closed when the network reaches its terminal condition.
func (e *Engine) Tap(ep network.Endpoint) (<-chan core.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil, errors.New("tap must be attached before Start")
	}
	if _, err := e.net.Resolve(ep); err != nil {
		return nil, err
	}
	if !e.net.IsBoundaryOutput(ep) {
		return nil, fmt.Errorf("endpoint %s is not a boundary output", ep)
	}
	if ch, ok := e.taps[ep]; ok {
		return ch, nil
	}
	ch := make(chan core.Message, e.cfg.TapBuffer)
	producer := e.agents[ep.Agent]
	key := endpointKey(ep)
	producer.outs[key] = append(producer.outs[key], target{to: ep, tap: ch})
	e.taps[ep] = ch
	return ch, nil
}

// Start spins up the dispatcher and performs the initial readiness sweep.
// Agents without mandatory inputs (pure sources) are scheduled exactly once
// here; everything else waits for arrivals.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.ctx = ctx
	for _, as := range e.order {
		if as.status == statusIdle && (len(as.mandatory) == 0 || as.ready()) {
			as.status = statusQueued
			e.queue = append(e.queue, as)
		}
	}
	e.mu.Unlock()

	context.AfterFunc(ctx, e.cancelAll)

	go e.dispatch()
	e.logger.Info("network started", "agents", len(e.order), "max_concurrent_runs", e.cfg.MaxConcurrentRuns)
	return nil
}

// Inject delivers a boundary message from the embedding context: into the
// mailbox of an exposed mandatory input (with ordinary backpressure) or the
// latch of an open option/accumulator port. It fails after AwaitTerminal
// has sealed the network.
func (e *Engine) Inject(ctx context.Context, ep network.Endpoint, msg core.Message) error {
	spec, err := e.net.Resolve(ep)
	if err != nil {
		return err
	}
	// Internal wiring is schema-checked at Build; the boundary is the one
	// entry that check cannot cover.
	if msg.Type != spec.Schema.ID {
		return fmt.Errorf("message type %q does not match schema %q of boundary input %s", msg.Type, spec.Schema.ID, ep)
	}
	e.mu.Lock()
	if e.sealed {
		e.mu.Unlock()
		return errors.New("network is sealed, no further input accepted")
	}
	as := e.agents[ep.Agent]
	e.mu.Unlock()

	switch {
	case spec.Kind.Peeking() && e.net.IsBoundaryInput(ep):
		as.latches[ep.Port].store(msg)
		return nil
	case spec.Kind.Mandatory() && e.net.Exposed(ep):
		if !as.inboxes[endpointKey(ep)].send(ctx, msg) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("boundary input %s is closed", ep)
		}
		return nil
	default:
		return fmt.Errorf("endpoint %s is not a boundary input", ep)
	}
}

// AwaitTerminal seals boundary injection and blocks until the network
// reaches its terminal condition: every agent terminated, or no agent
// runnable or running with no further input able to arrive. The ctx bounds
// the wait only; cancellation of the Start context remains the way to shut
// the network down.
func (e *Engine) AwaitTerminal(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return Outcome{}, errors.New("engine not started")
	}
	e.sealed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()

	e.mu.Lock()
	for !e.terminalLocked() {
		if ctx.Err() != nil {
			e.mu.Unlock()
			return Outcome{}, ctx.Err()
		}
		e.cond.Wait()
	}
	e.closeTapsLocked()
	outcome := e.outcomeLocked()
	e.mu.Unlock()

	e.logger.Info("network terminal", "completed", outcome.Completed, "failures", len(outcome.Failures))
	return outcome, nil
}

// terminalLocked holds the terminal condition; callers hold e.mu. A run
// parked in a backpressured send still counts as running, so a genuine
// liveness stall keeps the network non-terminal; AwaitTerminal's ctx bounds
// the wait.
func (e *Engine) terminalLocked() bool {
	if e.cancelled {
		return e.running == 0
	}
	if e.active == 0 && e.running == 0 {
		return true
	}
	return e.sealed && len(e.queue) == 0 && e.running == 0
}

func (e *Engine) outcomeLocked() Outcome {
	failures := make([]AgentFailure, len(e.failures))
	copy(failures, e.failures)
	return Outcome{Completed: len(failures) == 0, Failures: failures}
}

func (e *Engine) closeTapsLocked() {
	if !e.tapsOpen {
		return
	}
	e.tapsOpen = false
	for _, ch := range e.taps {
		close(ch)
	}
}

// notifyArrival re-evaluates a consumer's readiness after an enqueue.
func (e *Engine) notifyArrival(as *agentState) {
	e.mu.Lock()
	if e.started && !e.cancelled && as.status == statusIdle && as.ready() {
		as.status = statusQueued
		e.queue = append(e.queue, as)
		e.cond.Broadcast()
	}
	e.mu.Unlock()
}

// cancelAll delivers network-wide cancellation as a synthetic End: agents
// never run again, idle agents terminate immediately, running agents
// terminate at the end of their in-flight run. No run is aborted
// mid-execution.
func (e *Engine) cancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return
	}
	e.cancelled = true
	e.queue = nil
	for _, as := range e.order {
		if as.status == statusIdle || as.status == statusQueued {
			e.deactivateLocked(as, statusEnded, true)
		}
	}
	if e.terminalLocked() {
		e.closeTapsLocked()
	}
	e.cond.Broadcast()
}

func (e *Engine) acquireSlot() { <-e.slots }
func (e *Engine) releaseSlot() { e.slots <- struct{}{} }

// dispatch pops ready agents and launches one goroutine per run, bounded by
// the slot semaphore. A run parked in a backpressured send hands its slot
// back (sendDownstream, sendTap), so a blocked producer stalls only itself
// while ready consumers keep scheduling.
func (e *Engine) dispatch() {
	for {
		as := e.nextReady()
		if as == nil {
			return
		}
		e.acquireSlot()
		go func(as *agentState) {
			defer e.releaseSlot()
			e.execute(as)
		}(as)
	}
}

// sendDownstream enqueues on a downstream mailbox from inside a run. While
// the buffer is full the run gives its concurrency slot back and reacquires
// it once space opens up; only this producer stalls.
func (e *Engine) sendDownstream(box *mailbox, msg core.Message) bool {
	for {
		switch box.trySend(e.ctx, msg) {
		case sendDone:
			return true
		case sendRefused:
			return false
		case sendFull:
			e.releaseSlot()
			box.waitNotFull(e.ctx)
			e.acquireSlot()
		}
	}
}

// sendTap delivers to a boundary tap channel with the same slot parking as
// sendDownstream; a full tap backpressures only the producing agent.
func (e *Engine) sendTap(ch chan core.Message, msg core.Message) bool {
	select {
	case ch <- msg:
		return true
	default:
	}
	e.releaseSlot()
	defer e.acquireSlot()
	select {
	case ch <- msg:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *Engine) nextReady() *agentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if e.terminalLocked() || e.cancelled {
			e.cond.Broadcast()
			return nil
		}
		if len(e.queue) > 0 {
			as := e.queue[0]
			e.queue = e.queue[1:]
			// Entries can terminate while queued (cancellation, failure
			// propagation); skip anything no longer waiting to run.
			if as.status != statusQueued {
				continue
			}
			as.status = statusRunning
			e.running++
			return as
		}
		e.cond.Wait()
	}
}

// execute performs one complete synchronous run of an agent and applies its
// completion signal.
func (e *Engine) execute(as *agentState) {
	runID := core.NewID()
	started := time.Now()
	cbCtx := &CallbackContext{Agent: as.name, RunID: runID}
	if err := e.callbacks.Execute(e.ctx, CallbackBeforeRun, cbCtx); err != nil {
		e.logger.Warn("before-run callback rejected run", "agent", as.name, "error", err)
	}

	rc := &runContext{eng: e, as: as}
	sig := e.safeRun(as, rc)
	finished := time.Now()

	cbCtx.Signal = &sig
	if err := e.callbacks.Execute(e.ctx, CallbackAfterRun, cbCtx); err != nil {
		e.logger.Warn("after-run callback failed", "agent", as.name, "error", err)
	}
	e.record(trace.RunRecord{
		RunID:    runID,
		Agent:    as.name,
		Signal:   sig.String(),
		Error:    errString(sig.Err),
		Started:  started,
		Finished: finished,
	})
	e.logger.Debug("agent run completed", "agent", as.name, "signal", sig.String(), "duration", finished.Sub(started))

	e.mu.Lock()
	e.running--
	switch {
	case sig.Kind == core.SignalEnd:
		e.deactivateLocked(as, statusEnded, true)
	case sig.Kind == core.SignalFailure:
		e.failLocked(as, sig.Err)
	case e.cancelled:
		// Synthetic End at the next scheduling opportunity.
		e.deactivateLocked(as, statusEnded, true)
	case as.doomedErr != nil && as.stuck():
		e.failLocked(as, as.doomedErr)
	case len(as.mandatory) > 0 && as.ready():
		// Residual mandatory input: requeue immediately.
		as.status = statusQueued
		e.queue = append(e.queue, as)
	default:
		as.status = statusIdle
	}
	if e.terminalLocked() {
		// Terminal can be reached without anyone waiting in AwaitTerminal
		// (cancellation, or every agent ending); taps still must close so
		// their drainers finish.
		e.closeTapsLocked()
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

// safeRun converts a panic inside an agent's run into a failure signal for
// that agent alone.
func (e *Engine) safeRun(as *agentState, rc core.RunContext) (sig core.Signal) {
	defer func() {
		if r := recover(); r != nil {
			sig = core.Fail(fmt.Errorf("agent %s panicked: %v", as.name, r))
		}
	}()
	return as.node.Agent.Run(rc)
}

// deactivateLocked removes an agent from scheduling. When closePorts is
// set, its inbound mailboxes are closed (waking blocked producers, further
// sends discarded) along with every downstream mailbox it feeds; this is
// the cascading shutdown path.
func (e *Engine) deactivateLocked(as *agentState, status agentStatus, closePorts bool) {
	if as.status == statusEnded || as.status == statusFailed {
		return
	}
	as.status = status
	e.active--
	if !closePorts {
		return
	}
	for _, box := range as.inboxes {
		box.close()
	}
	for _, targets := range as.outs {
		for _, t := range targets {
			if t.box != nil {
				t.box.close()
			}
		}
	}
}

// failLocked records a failure and applies the configured policy to the
// failed agent's surroundings.
func (e *Engine) failLocked(as *agentState, err error) {
	e.failures = append(e.failures, AgentFailure{Agent: as.name, Err: err})
	e.logger.Error("agent failed", "agent", as.name, "error", err)

	switch e.policy {
	case FailureStall:
		e.deactivateLocked(as, statusFailed, false)
	case FailureSynthesizeEnd:
		e.deactivateLocked(as, statusFailed, true)
	case FailurePropagate:
		e.deactivateLocked(as, statusFailed, true)
		e.propagateLocked(as, err)
	}
}

// propagateLocked fails downstream agents left permanently un-runnable by
// a terminated producer. Agents currently running are only marked; they
// fail after their in-flight run if still stuck.
func (e *Engine) propagateLocked(from *agentState, cause error) {
	for _, c := range e.downstream[from.name] {
		if c.status == statusEnded || c.status == statusFailed {
			continue
		}
		if c.doomedErr == nil {
			c.doomedErr = fmt.Errorf("upstream agent %s failed: %w", from.name, cause)
		}
		if c.status != statusRunning && c.stuck() {
			e.failures = append(e.failures, AgentFailure{Agent: c.name, Err: c.doomedErr})
			e.deactivateLocked(c, statusFailed, true)
			e.propagateLocked(c, c.doomedErr)
		}
	}
}

func (e *Engine) record(rec trace.RunRecord) {
	if err := e.recorder.RecordRun(rec); err != nil {
		e.logger.Warn("trace recorder failed", "error", err)
	}
}

func (e *Engine) recordMessage(rec trace.MessageRecord) {
	if err := e.recorder.RecordMessage(rec); err != nil {
		e.logger.Warn("trace recorder failed", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
