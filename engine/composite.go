package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flowmesh/flowmesh/core"
	"github.com/flowmesh/flowmesh/network"
)

// Composite adapts a built Network into a core.Agent, so subgraphs compose
// recursively: the inner network's boundary ports become the composite's
// ports. Each outer Run drains the composite's mandatory inputs, injects
// them into a fresh engine over the inner network, runs it to its terminal
// condition and forwards the inner boundary outputs. Inner agent state
// persists across outer runs because it lives on the network nodes, not
// the engine.
type Composite struct {
	name    string
	net     *network.Network
	engOpts []Option

	inOrder  []string
	inputs   map[string]network.Endpoint
	outOrder []string
	outputs  map[string]network.Endpoint
	ports    []core.PortSpec
}

// CompositeOption customizes a Composite.
type CompositeOption func(*compositeConfig)

type compositeConfig struct {
	inOrder  []string
	inputs   map[string]network.Endpoint
	outOrder []string
	outputs  map[string]network.Endpoint
	engOpts  []Option
}

// MapInput exposes an inner boundary input as an outer port named outer.
func MapInput(outer string, inner network.Endpoint) CompositeOption {
	return func(c *compositeConfig) {
		c.inOrder = append(c.inOrder, outer)
		c.inputs[outer] = inner
	}
}

// MapOutput exposes an inner boundary output as an outer port named outer.
func MapOutput(outer string, inner network.Endpoint) CompositeOption {
	return func(c *compositeConfig) {
		c.outOrder = append(c.outOrder, outer)
		c.outputs[outer] = inner
	}
}

// WithEngineOptions configures the inner engine built for each run.
func WithEngineOptions(opts ...Option) CompositeOption {
	return func(c *compositeConfig) { c.engOpts = append(c.engOpts, opts...) }
}

// NewComposite validates the port mappings against the inner network's
// boundary and returns the composite agent.
func NewComposite(name string, net *network.Network, opts ...CompositeOption) (*Composite, error) {
	cfg := compositeConfig{
		inputs:  make(map[string]network.Endpoint),
		outputs: make(map[string]network.Endpoint),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.inputs) == 0 && len(cfg.outputs) == 0 {
		return nil, errors.New("composite needs at least one mapped port")
	}

	c := &Composite{
		name:     name,
		net:      net,
		engOpts:  cfg.engOpts,
		inOrder:  cfg.inOrder,
		inputs:   cfg.inputs,
		outOrder: cfg.outOrder,
		outputs:  cfg.outputs,
	}

	seen := make(map[string]bool)
	for _, outer := range cfg.inOrder {
		inner := cfg.inputs[outer]
		if seen[outer] {
			return nil, fmt.Errorf("composite %s maps port %q twice", name, outer)
		}
		seen[outer] = true
		spec, err := net.Resolve(inner)
		if err != nil {
			return nil, err
		}
		if !net.IsBoundaryInput(inner) {
			return nil, fmt.Errorf("endpoint %s is not a boundary input of the inner network", inner)
		}
		outerSpec := core.PortSpec{Name: outer, Schema: spec.Schema, Capacity: spec.Capacity}
		if spec.Kind.Mandatory() {
			// Array elements flatten to simple outer inputs.
			outerSpec.Kind = core.PortInput
		} else {
			outerSpec.Kind = spec.Kind
		}
		c.ports = append(c.ports, outerSpec)
	}
	for _, outer := range cfg.outOrder {
		inner := cfg.outputs[outer]
		if seen[outer] {
			return nil, fmt.Errorf("composite %s maps port %q twice", name, outer)
		}
		seen[outer] = true
		spec, err := net.Resolve(inner)
		if err != nil {
			return nil, err
		}
		if !net.IsBoundaryOutput(inner) {
			return nil, fmt.Errorf("endpoint %s is not a boundary output of the inner network", inner)
		}
		c.ports = append(c.ports, core.PortSpec{Name: outer, Kind: core.PortOutput, Schema: spec.Schema})
	}
	return c, nil
}

func (c *Composite) portSpec(name string) core.PortSpec {
	for _, p := range c.ports {
		if p.Name == name {
			return p
		}
	}
	return core.PortSpec{}
}

// Name returns the composite's agent name.
func (c *Composite) Name() string { return c.name }

// Ports returns the outer port set derived from the inner boundary.
func (c *Composite) Ports() []core.PortSpec { return c.ports }

// Run executes the inner network once to its terminal condition. Mandatory
// outer inputs are drained one message each (the scheduler's readiness
// guarantee makes that safe), option values are forwarded when present,
// and every inner boundary output message is re-sent on the mapped outer
// port. Inner failures fail the composite.
func (c *Composite) Run(rc core.RunContext) core.Signal {
	// The inner engine lives only for this run. Cancelling on every exit
	// path, including early failures, winds its goroutines down and lets
	// the terminal transition close the taps.
	ctx, cancel := context.WithCancel(rc.Context())
	defer cancel()

	eng := New(c.net, c.engOpts...)

	taps := make(map[string]<-chan core.Message, len(c.outputs))
	for _, outer := range c.outOrder {
		ch, err := eng.Tap(c.outputs[outer])
		if err != nil {
			return core.Fail(err)
		}
		taps[outer] = ch
	}
	if err := eng.Start(ctx); err != nil {
		return core.Fail(err)
	}

	for _, outer := range c.inOrder {
		inner := c.inputs[outer]
		if c.portSpec(outer).Kind.Mandatory() {
			msg, err := rc.Receive(outer)
			if err != nil {
				return core.Fail(err)
			}
			if err := eng.Inject(ctx, inner, msg); err != nil {
				return core.Fail(err)
			}
			continue
		}
		if msg, ok := rc.Peek(outer); ok {
			if err := eng.Inject(ctx, inner, msg); err != nil {
				return core.Fail(err)
			}
		}
	}

	// Drain taps while the inner network runs so a full tap buffer cannot
	// stall it; forwarding on the outer ports waits until it is terminal.
	collected := make(map[string][]core.Message, len(c.outputs))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, outer := range c.outOrder {
		wg.Add(1)
		go func(outer string, ch <-chan core.Message) {
			defer wg.Done()
			for msg := range ch {
				mu.Lock()
				collected[outer] = append(collected[outer], msg)
				mu.Unlock()
			}
		}(outer, taps[outer])
	}

	outcome, err := eng.AwaitTerminal(ctx)
	if err != nil {
		return core.Fail(err)
	}
	wg.Wait()

	for _, outer := range c.outOrder {
		for _, msg := range collected[outer] {
			if err := rc.Send(outer, msg); err != nil {
				return core.Fail(err)
			}
		}
	}
	if !outcome.Completed {
		return core.Fail(fmt.Errorf("inner network failed: %w", outcome.Failures[0]))
	}
	return core.Continue()
}
