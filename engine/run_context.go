package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmesh/flowmesh/core"
	"github.com/flowmesh/flowmesh/logging"
	"github.com/flowmesh/flowmesh/network"
	"github.com/flowmesh/flowmesh/trace"
)

// runContext implements core.RunContext for one agent run. It is handed to
// exactly one run at a time, so it needs no locking of its own; all shared
// structures behind it (mailboxes, latches, taps) synchronize themselves.
type runContext struct {
	eng *Engine
	as  *agentState
}

func (rc *runContext) spec(port string) (core.PortSpec, error) {
	s, ok := rc.as.node.Ports[port]
	if !ok {
		return core.PortSpec{}, fmt.Errorf("%w: %s.%s", core.ErrUnknownPort, rc.as.name, port)
	}
	return s, nil
}

// Receive dequeues from a simple input port.
func (rc *runContext) Receive(port string) (core.Message, error) {
	s, err := rc.spec(port)
	if err != nil {
		return core.Message{}, err
	}
	if s.Kind != core.PortInput {
		return core.Message{}, fmt.Errorf("%w: receive on %s port %s.%s", core.ErrWrongKind, s.Kind, rc.as.name, port)
	}
	return rc.as.inboxes[portKey(port, "")].receive()
}

// ReceiveFrom dequeues from one element of an input array port.
func (rc *runContext) ReceiveFrom(port, element string) (core.Message, error) {
	s, err := rc.spec(port)
	if err != nil {
		return core.Message{}, err
	}
	if s.Kind != core.PortInputArray {
		return core.Message{}, fmt.Errorf("%w: element receive on %s port %s.%s", core.ErrWrongKind, s.Kind, rc.as.name, port)
	}
	if !s.HasElement(element) {
		return core.Message{}, fmt.Errorf("%w: %s.%s[%s]", core.ErrUnknownElement, rc.as.name, port, element)
	}
	return rc.as.inboxes[portKey(port, element)].receive()
}

// Peek returns the latched message of an option or accumulator port.
func (rc *runContext) Peek(port string) (core.Message, bool) {
	l, ok := rc.as.latches[port]
	if !ok {
		return core.Message{}, false
	}
	return l.peek()
}

// Send enqueues on a simple output port.
func (rc *runContext) Send(port string, m core.Message) error {
	s, err := rc.spec(port)
	if err != nil {
		return err
	}
	if s.Kind != core.PortOutput {
		return fmt.Errorf("%w: send on %s port %s.%s", core.ErrWrongKind, s.Kind, rc.as.name, port)
	}
	return rc.deliver(network.EP(rc.as.name, port), m)
}

// SendTo enqueues on one element of an output array port.
func (rc *runContext) SendTo(port, element string, m core.Message) error {
	s, err := rc.spec(port)
	if err != nil {
		return err
	}
	if s.Kind != core.PortOutputArray {
		return fmt.Errorf("%w: element send on %s port %s.%s", core.ErrWrongKind, s.Kind, rc.as.name, port)
	}
	if !s.HasElement(element) {
		return fmt.Errorf("%w: %s.%s[%s]", core.ErrUnknownElement, rc.as.name, port, element)
	}
	return rc.deliver(network.EPE(rc.as.name, port, element), m)
}

// Broadcast delivers an independent logical copy to every element of an
// output array port.
func (rc *runContext) Broadcast(port string, m core.Message) error {
	s, err := rc.spec(port)
	if err != nil {
		return err
	}
	if s.Kind != core.PortOutputArray {
		return fmt.Errorf("%w: broadcast on %s port %s.%s", core.ErrWrongKind, s.Kind, rc.as.name, port)
	}
	for _, el := range s.Elements {
		if err := rc.deliver(network.EPE(rc.as.name, port, el), m.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// deliver fans a message out to every target of a producing endpoint. Each
// target beyond the first receives an independent logical copy; sends into
// closed mailboxes are discarded (cascading shutdown, not an error) and
// unconnected boundary outputs drop with a debug log.
func (rc *runContext) deliver(from network.Endpoint, m core.Message) error {
	targets := rc.as.outs[endpointKey(from)]
	if len(targets) == 0 {
		rc.eng.logger.Debug("message dropped on unconnected output", "endpoint", from.String(), "type", string(m.Type))
		return nil
	}
	for i, t := range targets {
		msg := m
		if i > 0 {
			msg = m.Clone()
		}
		switch {
		case t.box != nil:
			if !rc.eng.sendDownstream(t.box, msg) {
				rc.eng.logger.Debug("message discarded on closed connection", "from", from.String(), "to", t.to.String())
				continue
			}
		case t.latch != nil:
			t.latch.store(msg)
		case t.tap != nil:
			if !rc.eng.sendTap(t.tap, msg) {
				continue
			}
		}
		rc.eng.recordMessage(trace.MessageRecord{
			MessageID: msg.ID,
			Type:      string(msg.Type),
			From:      from.String(),
			To:        t.to.String(),
			At:        time.Now().UTC(),
		})
	}
	return nil
}

// State returns the agent's persistent state value.
func (rc *runContext) State() any { return rc.as.node.State }

// Context returns the network's cancellation context.
func (rc *runContext) Context() context.Context { return rc.eng.ctx }

// Logger returns the engine logger; agent name attribution is left to the
// call sites that need it.
func (rc *runContext) Logger() logging.Logger { return rc.eng.logger }
