// Package network builds and validates the static wiring of a flowmesh
// subgraph: a set of agent instances plus directed port-to-port
// connections.
//
// All structural and schema validation happens here, at construction time.
// A Network that builds successfully can never hit a missing-connection,
// duplicate-name or schema-mismatch condition at run time; the engine
// therefore performs no dynamic type checks in the message hot path.
//
// Cycles are permitted (feedback subgraphs). Mandatory inputs without an
// internal producer must be explicitly exposed as boundary entry ports via
// WithExposedInputs; unconnected outputs automatically become boundary exit
// ports. A built Network is static and can be driven by package engine, or
// nested inside another network as a composite agent.
package network
