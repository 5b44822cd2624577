package message

import (
	"fmt"
	"slices"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yejue/liteboty/errors"
	"github.com/yejue/liteboty/pkg/timestamp"
)

// Field numbers of the liteboty wire schema:
//
//	message Message  { MessageType type = 1; Metadata metadata = 2; bytes data = 3; }
//	message Metadata { int64 timestamp = 1; string version = 2; map<string,string> attributes = 3; }
const (
	fieldType     protowire.Number = 1
	fieldMetadata protowire.Number = 2
	fieldData     protowire.Number = 3

	fieldTimestamp  protowire.Number = 1
	fieldVersion    protowire.Number = 2
	fieldAttributes protowire.Number = 3

	fieldMapKey   protowire.Number = 1
	fieldMapValue protowire.Number = 2
)

// Encode serializes m. The metadata timestamp on the wire is always the
// current time; m itself is not modified.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, &errors.CodecError{Op: "encode", Err: fmt.Errorf("nil message")}
	}
	if !m.Type.Valid() {
		return nil, &errors.CodecError{Op: "encode", Err: fmt.Errorf("%w: %d", errors.ErrUnknownMessageType, m.Type)}
	}

	payload, err := encodePayload(m.Type, m.Data)
	if err != nil {
		return nil, &errors.CodecError{Op: "encode", Err: err}
	}

	md := m.Metadata
	md.Timestamp = timestamp.Now()
	if md.Version == "" {
		md.Version = DefaultVersion
	}

	var b []byte
	if m.Type != TypeJSON {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Type))
	}
	b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, appendMetadata(nil, md))
	if len(payload) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}
	return b, nil
}

func appendMetadata(b []byte, md Metadata) []byte {
	if md.Timestamp != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(md.Timestamp))
	}
	if md.Version != "" {
		b = protowire.AppendTag(b, fieldVersion, protowire.BytesType)
		b = protowire.AppendString(b, md.Version)
	}

	keys := make([]string, 0, len(md.Attributes))
	for k := range md.Attributes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
		entry = protowire.AppendString(entry, md.Attributes[k])

		b = protowire.AppendTag(b, fieldAttributes, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func encodePayload(typ Type, data any) ([]byte, error) {
	switch typ {
	case TypeJSON:
		out, err := sonic.Marshal(data)
		if err != nil {
			return nil, errors.Wrap(err, "Codec", "Encode", "marshal json payload")
		}
		return out, nil
	case TypeImage, TypeBinary:
		switch v := data.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		case nil:
			return nil, nil
		default:
			return nil, fmt.Errorf("%s payload must be []byte, got %T", typ, data)
		}
	case TypeNumericArray:
		switch v := data.(type) {
		case *NumericArray:
			return v.marshal()
		case NumericArray:
			return v.marshal()
		default:
			return nil, fmt.Errorf("NUMERIC_ARRAY payload must be *NumericArray, got %T", data)
		}
	}
	return nil, fmt.Errorf("%w: %d", errors.ErrUnknownMessageType, typ)
}

// Decode parses a wire message. Unknown fields are skipped.
func Decode(b []byte) (*Message, error) {
	m := &Message{}
	var payload []byte

	for len(b) > 0 {
		num, wtyp, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && wtyp == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			m.Type = Type(int32(v))
			b = b[n:]
		case num == fieldMetadata && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			md, err := decodeMetadata(v)
			if err != nil {
				return nil, malformed(err)
			}
			m.Metadata = md
			b = b[n:]
		case num == fieldData && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			payload = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wtyp, b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if m.Metadata.Version == "" {
		m.Metadata.Version = DefaultVersion
	}
	if !m.Type.Valid() {
		return nil, &errors.CodecError{Op: "decode", Err: fmt.Errorf("%w: %d", errors.ErrUnknownMessageType, m.Type)}
	}

	m.raw = payload
	data, err := decodePayload(m.Type, payload)
	if err != nil {
		return nil, &errors.CodecError{Op: "decode", Err: err}
	}
	m.Data = data
	return m, nil
}

func decodeMetadata(b []byte) (Metadata, error) {
	var md Metadata
	for len(b) > 0 {
		num, wtyp, n := protowire.ConsumeTag(b)
		if n < 0 {
			return md, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldTimestamp && wtyp == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return md, protowire.ParseError(n)
			}
			md.Timestamp = int64(v)
			b = b[n:]
		case num == fieldVersion && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return md, protowire.ParseError(n)
			}
			md.Version = v
			b = b[n:]
		case num == fieldAttributes && wtyp == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return md, protowire.ParseError(n)
			}
			k, val, err := decodeMapEntry(v)
			if err != nil {
				return md, err
			}
			if md.Attributes == nil {
				md.Attributes = make(map[string]string)
			}
			md.Attributes[k] = val
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wtyp, b)
			if n < 0 {
				return md, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return md, nil
}

func decodeMapEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, wtyp, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]

		if (num == fieldMapKey || num == fieldMapValue) && wtyp == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			if num == fieldMapKey {
				key = v
			} else {
				value = v
			}
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, wtyp, b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
	}
	return key, value, nil
}

func decodePayload(typ Type, payload []byte) (any, error) {
	switch typ {
	case TypeJSON:
		if len(payload) == 0 {
			return nil, nil
		}
		var v any
		if err := sonic.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("%w: json payload: %v", errors.ErrMalformedMessage, err)
		}
		return v, nil
	case TypeImage, TypeBinary:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case TypeNumericArray:
		return unmarshalNumericArray(payload)
	}
	return nil, fmt.Errorf("%w: %d", errors.ErrUnknownMessageType, typ)
}

func malformed(err error) error {
	return &errors.CodecError{Op: "decode", Err: fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)}
}
