package message

import (
	"fmt"
	"maps"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/yejue/liteboty/errors"
)

// Type tags the payload carried by a Message. Values match the wire enum.
type Type int32

// Payload types
const (
	TypeJSON         Type = 0
	TypeImage        Type = 1
	TypeBinary       Type = 2
	TypeNumericArray Type = 3
)

// DefaultVersion is written when the caller leaves Metadata.Version empty.
const DefaultVersion = "1.0"

// String returns the wire enum name of the type.
func (t Type) String() string {
	switch t {
	case TypeJSON:
		return "JSON"
	case TypeImage:
		return "IMAGE"
	case TypeBinary:
		return "BINARY"
	case TypeNumericArray:
		return "NUMERIC_ARRAY"
	default:
		return fmt.Sprintf("Type(%d)", int32(t))
	}
}

// Valid reports whether t is one of the four known payload types.
func (t Type) Valid() bool {
	return t >= TypeJSON && t <= TypeNumericArray
}

// ParseType accepts the enum names case-insensitively. "NUMPY" is accepted
// as an alias for NUMERIC_ARRAY.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JSON", "":
		return TypeJSON, nil
	case "IMAGE":
		return TypeImage, nil
	case "BINARY":
		return TypeBinary, nil
	case "NUMERIC_ARRAY", "NUMPY":
		return TypeNumericArray, nil
	}
	return 0, fmt.Errorf("%w: %q", errors.ErrUnknownMessageType, s)
}

// Metadata travels alongside every payload.
type Metadata struct {
	Timestamp  int64 // Unix milliseconds, set at encode
	Version    string
	Attributes map[string]string
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Attributes != nil {
		out.Attributes = maps.Clone(m.Attributes)
	}
	return out
}

// Message is a typed payload plus metadata.
//
// Data holds, by Type:
//   - TypeJSON: any value sonic can marshal; decoded messages hold the
//     generic form (map[string]any, []any, float64, string, bool, nil)
//   - TypeImage, TypeBinary: []byte (a string is accepted on encode)
//   - TypeNumericArray: *NumericArray (a NumericArray value is accepted on encode)
type Message struct {
	Type     Type
	Data     any
	Metadata Metadata

	raw []byte
}

// New builds a message. A nil md yields empty metadata with the default version.
func New(data any, typ Type, md *Metadata) *Message {
	m := &Message{Type: typ, Data: data}
	if md != nil {
		m.Metadata = md.Clone()
	}
	if m.Metadata.Version == "" {
		m.Metadata.Version = DefaultVersion
	}
	return m
}

// Payload returns the raw payload bytes of a decoded message.
func (m *Message) Payload() []byte {
	return m.raw
}

// Bind unmarshals a JSON payload of a decoded message into v.
func (m *Message) Bind(v any) error {
	if m.Type != TypeJSON {
		return &errors.CodecError{Op: "decode", Err: fmt.Errorf("bind: message type is %s, not JSON", m.Type)}
	}
	if err := sonic.Unmarshal(m.raw, v); err != nil {
		return &errors.CodecError{Op: "decode", Err: errors.Wrap(err, "Message", "Bind", "unmarshal json payload")}
	}
	return nil
}

// Bytes returns Data as a byte slice for IMAGE and BINARY messages.
func (m *Message) Bytes() ([]byte, bool) {
	b, ok := m.Data.([]byte)
	return b, ok
}

// Array returns Data as a numeric array for NUMERIC_ARRAY messages.
func (m *Message) Array() (*NumericArray, bool) {
	a, ok := m.Data.(*NumericArray)
	return a, ok
}
