// Package core defines the fundamental types of the flowmesh execution
// model: Messages (information packets), Ports and their six disciplines,
// the Agent contract, completion Signals, and the RunContext through which
// an agent interacts with its wiring during a run.
//
// The package intentionally contains only contracts and value types; the
// static wiring lives in package network and the concurrent scheduler in
// package engine. Agents depend on core alone, which keeps them oblivious
// to who is upstream or downstream of them.
package core
