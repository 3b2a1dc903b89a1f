// Package schema provides compiled message schemas for flowmesh networks:
// stable type identities plus encoder/decoder pairs for the payload bytes.
//
// In a full deployment schemas are produced by an external toolchain; the
// runtime only requires a stable type id and a reader/builder pair. This
// package supplies that contract for a handful of primitive layouts (Bool,
// Int64, Text, Bytes) and a generic JSON layout for structured payloads.
// Decode failures on corrupt bytes are contract violations fatal to the
// decoding agent only.
package schema

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowmesh/flowmesh/core"
)

// ErrDecode wraps every payload decoding failure so callers can match the
// whole class with errors.Is.
var ErrDecode = errors.New("schema decode")

// Well-known primitive schemas. The id strings are stable across releases;
// treating them as content addresses is up to the packaging layer.
var (
	Bool  = core.Schema{ID: "flowmesh.bool.v1", Name: "Bool"}
	Int64 = core.Schema{ID: "flowmesh.int64.v1", Name: "Int64"}
	Text  = core.Schema{ID: "flowmesh.text.v1", Name: "Text"}
	Bytes = core.Schema{ID: "flowmesh.bytes.v1", Name: "Bytes"}
)

// New declares a schema with a caller-supplied stable id, for payloads
// encoded outside this package.
func New(id core.TypeID, name string) core.Schema {
	return core.Schema{ID: id, Name: name}
}

// EncodeBool builds a Bool message.
func EncodeBool(v bool) core.Message {
	b := byte(0)
	if v {
		b = 1
	}
	return core.NewMessage(Bool, []byte{b})
}

// DecodeBool reads a Bool payload.
func DecodeBool(m core.Message) (bool, error) {
	if m.Type != Bool.ID {
		return false, fmt.Errorf("%w: message type %q is not %q", ErrDecode, m.Type, Bool.ID)
	}
	if len(m.Data) != 1 || m.Data[0] > 1 {
		return false, fmt.Errorf("%w: corrupt bool payload (%d bytes)", ErrDecode, len(m.Data))
	}
	return m.Data[0] == 1, nil
}

// EncodeInt64 builds an Int64 message (big-endian).
func EncodeInt64(v int64) core.Message {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(v))
	return core.NewMessage(Int64, data)
}

// DecodeInt64 reads an Int64 payload.
func DecodeInt64(m core.Message) (int64, error) {
	if m.Type != Int64.ID {
		return 0, fmt.Errorf("%w: message type %q is not %q", ErrDecode, m.Type, Int64.ID)
	}
	if len(m.Data) != 8 {
		return 0, fmt.Errorf("%w: corrupt int64 payload (%d bytes)", ErrDecode, len(m.Data))
	}
	return int64(binary.BigEndian.Uint64(m.Data)), nil
}

// EncodeText builds a Text message from a UTF-8 string.
func EncodeText(s string) core.Message {
	return core.NewMessage(Text, []byte(s))
}

// DecodeText reads a Text payload.
func DecodeText(m core.Message) (string, error) {
	if m.Type != Text.ID {
		return "", fmt.Errorf("%w: message type %q is not %q", ErrDecode, m.Type, Text.ID)
	}
	return string(m.Data), nil
}

// EncodeBytes wraps raw bytes in a Bytes message.
func EncodeBytes(data []byte) core.Message {
	return core.NewMessage(Bytes, data)
}

// EncodeJSON marshals v into a message of the given schema. Use for
// structured payloads declared via New.
func EncodeJSON(s core.Schema, v any) (core.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return core.Message{}, fmt.Errorf("encode %s payload: %w", s.Name, err)
	}
	return core.NewMessage(s, data), nil
}

// DecodeJSON unmarshals a message of the given schema into out.
func DecodeJSON(m core.Message, s core.Schema, out any) error {
	if m.Type != s.ID {
		return fmt.Errorf("%w: message type %q is not %q", ErrDecode, m.Type, s.ID)
	}
	if err := json.Unmarshal(m.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
