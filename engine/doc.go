// Package engine implements the concurrent scheduler that drives a built
// flowmesh network.
//
// The engine owns the live side of the model: one bounded FIFO mailbox per
// consuming connection, one last-value latch per option/accumulator port, a
// ready queue of agents whose mandatory ports are all non-empty, and a
// dispatcher that launches one goroutine per run, bounded by a slot
// semaphore of Config.MaxConcurrentRuns.
//
// # Scheduling discipline
//
//   - An agent is runnable only when every mandatory simple port and every
//     element of every mandatory array port holds at least one pending
//     Message (conjunctive readiness, no partial runs).
//   - At most one run per agent is in flight at any time, so agent state
//     needs no locking; runs of distinct agents execute concurrently up to
//     Config.MaxConcurrentRuns with no ordering guarantee between them.
//   - The only blocking point is a send into a full downstream buffer;
//     that is backpressure, deliberately stalling the producer and nobody
//     else. A run parked in such a send gives its slot back, so blocked
//     producers never starve the consumers they are waiting on.
//   - After a run, an agent with residual mandatory input is requeued
//     immediately, so bulk arrivals drain in batches bounded by buffer
//     capacity.
//
// # Lifecycle
//
// An agent's End signal closes its ports: blocked upstream producers wake
// (their sends are discarded) and downstream agents fed only by the ended
// agent drain their residue and then never become runnable again; this is
// the intentional cascading shutdown of the model. Failures deactivate only the
// failing agent; what happens downstream of a failure is governed by the
// configurable FailurePolicy. Context cancellation is delivered as a
// synthetic End at each agent's next scheduling opportunity; runs are never
// aborted mid-execution.
//
// The embedding surface is Start, Inject, Tap and AwaitTerminal:
//
//	eng := engine.New(net, engine.WithLogger(logger))
//	out, _ := eng.Tap(network.EP("and", "out"))
//	_ = eng.Start(ctx)
//	_ = eng.Inject(ctx, network.EP("and", "a"), schema.EncodeBool(true))
//	outcome, _ := eng.AwaitTerminal(ctx)
//
// AwaitTerminal seals boundary injection and then waits until every agent
// has terminated or the network is quiescent; a network that is quiescent
// only because some agents can never become ready is a valid completed
// outcome, not an error.
package engine
