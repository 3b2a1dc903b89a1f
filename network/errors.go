package network

import (
	"errors"
	"fmt"
)

// ErrMalformed is the class of all construction-time wiring errors. Every
// BuildError unwraps to it so callers can match the whole class with
// errors.Is.
var ErrMalformed = errors.New("malformed network")

// BuildErrorKind discriminates the concrete construction failure.
type BuildErrorKind string

const (
	// KindDuplicateAgent reports two agents sharing a name.
	KindDuplicateAgent BuildErrorKind = "duplicate_agent"
	// KindDuplicatePort reports two ports sharing a name on one agent.
	KindDuplicatePort BuildErrorKind = "duplicate_port"
	// KindBadPortSpec reports an inconsistent port declaration.
	KindBadPortSpec BuildErrorKind = "bad_port_spec"
	// KindUnknownEndpoint reports a connection naming an agent, port or
	// element that does not exist.
	KindUnknownEndpoint BuildErrorKind = "unknown_endpoint"
	// KindBadDirection reports a connection whose source is not a producing
	// port or whose target is not a consuming or peeking port.
	KindBadDirection BuildErrorKind = "bad_direction"
	// KindSchemaMismatch reports connected endpoints with different schema
	// type ids.
	KindSchemaMismatch BuildErrorKind = "schema_mismatch"
	// KindMissingConnection reports a mandatory input left without a
	// producer and not exposed as a boundary entry.
	KindMissingConnection BuildErrorKind = "missing_connection"
	// KindMultipleProducers reports a mandatory input fed by more than one
	// connection.
	KindMultipleProducers BuildErrorKind = "multiple_producers"
)

// BuildError is the malformed-network error reported by Build. It is always
// produced before any agent runs.
type BuildError struct {
	Kind   BuildErrorKind
	Detail string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformed.Error(), e.Kind, e.Detail)
}

func (e *BuildError) Unwrap() error { return ErrMalformed }

func buildErrf(kind BuildErrorKind, format string, args ...any) *BuildError {
	return &BuildError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
