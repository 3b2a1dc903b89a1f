package core

import "errors"

// Contract violation errors returned by RunContext operations. Receiving on
// an empty mandatory port can only happen when an agent reads more than the
// scheduler's readiness guarantee covers; it is a programming error in the
// agent, fatal to that agent only.
var (
	// ErrPortEmpty is returned by Receive when no Message is pending.
	ErrPortEmpty = errors.New("receive on empty port")

	// ErrUnknownPort is returned when an operation names a port the agent
	// never declared.
	ErrUnknownPort = errors.New("unknown port")

	// ErrUnknownElement is returned when an operation names an element the
	// array port does not declare.
	ErrUnknownElement = errors.New("unknown port element")

	// ErrWrongKind is returned when an operation does not match the port's
	// discipline, e.g. Send on an input or Receive on an option port.
	ErrWrongKind = errors.New("operation not supported by port discipline")
)
