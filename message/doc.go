// Package message implements the liteboty wire format.
//
// A message is a protobuf-encoded envelope with a type tag, a metadata block
// (timestamp in Unix milliseconds, version, string attributes) and a payload
// whose layout depends on the type:
//
//   - JSON: the UTF-8 serialized value
//   - IMAGE, BINARY: raw bytes, passed through unmodified
//   - NUMERIC_ARRAY: a JSON header {"shape": [...], "dtype": "..."} directly
//     followed by the flat row-major element bytes
//
// Encode always stamps the current time into the metadata, so a decoded
// message never carries the caller's timestamp. The numeric array header is
// located by scanning for the first '}' byte, which is compatible with
// existing producers but cannot carry '}' inside header strings.
//
// Example:
//
//	arr, _ := message.NewFloat32Array([]int{2, 3}, values)
//	buf, err := message.Encode(message.New(arr, message.TypeNumericArray, nil))
//	...
//	msg, err := message.Decode(buf)
//	got, _ := msg.Array()
package message
