package core

import (
	"context"

	"github.com/flowmesh/flowmesh/logging"
)

// RunContext is the capability an agent receives for the duration of one
// Run. It binds the agent's declared ports to the live wiring of the
// network; agents never see the connections, buffers or sibling agents
// behind it.
//
// Receive and ReceiveFrom dequeue FIFO from consuming ports and return
// ErrPortEmpty when nothing is pending, a state the scheduler's readiness
// guarantee makes unreachable for well-behaved agents. Peek never blocks
// and never consumes. Send and SendTo enqueue into every connected
// downstream buffer and block while any of them is full; that blocking is
// the network's backpressure mechanism, not an error.
type RunContext interface {
	// Receive dequeues the oldest pending Message on a simple input port.
	Receive(port string) (Message, error)

	// ReceiveFrom dequeues from one element of an input array port.
	ReceiveFrom(port, element string) (Message, error)

	// Peek returns the most recently received Message on an option or
	// accumulator port without removing it, or (seed, true) for a seeded
	// accumulator that has not yet received, or (zero, false) when nothing
	// has ever arrived.
	Peek(port string) (Message, bool)

	// Send enqueues a Message on a simple output port.
	Send(port string, m Message) error

	// SendTo enqueues a Message on one element of an output array port.
	SendTo(port, element string, m Message) error

	// Broadcast sends an independent logical copy of the Message to every
	// element of an output array port.
	Broadcast(port string, m Message) error

	// State returns the agent's persistent state value as constructed at
	// network build, or nil for stateless agents. It is exclusively owned
	// by this agent; mutate it freely during the run.
	State() any

	// Context carries the network's cancellation. Runs never get aborted
	// mid-execution, but agents doing their own I/O should honor it.
	Context() context.Context

	// Logger is the structured logger scoped to this agent.
	Logger() logging.Logger
}
