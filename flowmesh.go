// Package flowmesh provides a high-level façade over the network and
// engine packages for building and running flow-based agent networks. Most
// applications interact with this package by:
//  1. Declaring agents (core.NewFuncAgent or custom core.Agent types)
//  2. Wiring them into a network via Wire (validated at construction)
//  3. Running the network to its terminal condition via Run or RunContext
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production embedders typically supply a structured logger, a
// durable trace recorder and tuned engine limits via engine options.
package flowmesh

import (
	"context"

	"github.com/flowmesh/flowmesh/core"
	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/network"
)

// Mesh couples a built network with the engine driving it. A Mesh runs
// once; build a new one to run the same network again.
type Mesh struct {
	net *network.Network
	eng *engine.Engine
}

// Wire validates the wiring and assembles a runnable Mesh. It returns a
// *network.BuildError (wrapping network.ErrMalformed) on any structural or
// schema violation, always before any agent runs.
func Wire(agents []core.Agent, conns []network.Connection, netOpts []network.Option, engOpts ...engine.Option) (*Mesh, error) {
	net, err := network.Build(agents, conns, netOpts...)
	if err != nil {
		return nil, err
	}
	return &Mesh{net: net, eng: engine.New(net, engOpts...)}, nil
}

// Network returns the underlying static wiring.
func (m *Mesh) Network() *network.Network { return m.net }

// Engine returns the underlying engine for Inject, Tap and AwaitTerminal.
func (m *Mesh) Engine() *engine.Engine { return m.eng }

// Tap subscribes to a boundary output; must precede Start.
func (m *Mesh) Tap(ep network.Endpoint) (<-chan core.Message, error) {
	return m.eng.Tap(ep)
}

// Start begins execution.
func (m *Mesh) Start(ctx context.Context) error { return m.eng.Start(ctx) }

// Inject delivers a boundary message.
func (m *Mesh) Inject(ctx context.Context, ep network.Endpoint, msg core.Message) error {
	return m.eng.Inject(ctx, ep, msg)
}

// AwaitTerminal seals injection and waits for the terminal condition.
func (m *Mesh) AwaitTerminal(ctx context.Context) (engine.Outcome, error) {
	return m.eng.AwaitTerminal(ctx)
}

// Run executes the mesh end to end: start, inject every boundary message in
// order, then await the terminal condition. Convenience for batch-style
// networks without streaming consumers.
func (m *Mesh) Run(ctx context.Context, inputs map[network.Endpoint][]core.Message) (engine.Outcome, error) {
	if err := m.eng.Start(ctx); err != nil {
		return engine.Outcome{}, err
	}
	for ep, msgs := range inputs {
		for _, msg := range msgs {
			if err := m.eng.Inject(ctx, ep, msg); err != nil {
				return engine.Outcome{}, err
			}
		}
	}
	return m.eng.AwaitTerminal(ctx)
}
