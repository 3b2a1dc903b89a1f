package core

import "github.com/google/uuid"

// TypeID is the stable identity of a compiled message schema. It is assigned
// by the external schema toolchain and compared for equality at network
// construction time; the runtime never inspects payload bytes itself.
type TypeID string

// Schema describes a compiled message layout: a stable type id plus a
// human-readable name. Concrete encoder/decoder pairs for well-known
// schemas live in package schema; the core only needs the identity.
type Schema struct {
	ID   TypeID
	Name string
}

// Message is the information packet exchanged between ports: an immutable,
// schema-typed payload. After construction a Message must be treated as
// read-only; fan-out duplicates it via Clone rather than sharing mutable
// state between consumers.
type Message struct {
	// ID uniquely identifies this packet for tracing and correlation.
	ID string

	// Type is the schema identity of the payload. It must match the static
	// schema declared on every port the message passes through; this is
	// verified once at wiring time, not per message.
	Type TypeID

	// Data holds the opaque payload bytes. Never mutate after construction.
	Data []byte
}

// NewMessage constructs a Message of the given schema wrapping payload bytes.
// The caller hands over ownership of data.
func NewMessage(s Schema, data []byte) Message {
	return Message{ID: NewID(), Type: s.ID, Data: data}
}

// Clone returns an independent logical copy of the message: same type and
// payload, fresh identity. The payload slice is shared because messages are
// immutable; consumers on different fan-out branches can therefore not
// observe each other.
func (m Message) Clone() Message {
	return Message{ID: NewID(), Type: m.Type, Data: m.Data}
}

// IsZero reports whether the message is the zero value (no packet).
func (m Message) IsZero() bool { return m.ID == "" }

// NewID generates a unique identifier for messages and runs.
func NewID() string { return uuid.NewString() }
