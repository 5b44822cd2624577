package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bytedance/sonic"

	"github.com/yejue/liteboty/errors"
)

// itemSizes maps supported dtype names to their element width in bytes.
var itemSizes = map[string]int{
	"bool":    1,
	"int8":    1,
	"uint8":   1,
	"int16":   2,
	"uint16":  2,
	"float16": 2,
	"int32":   4,
	"uint32":  4,
	"float32": 4,
	"int64":   8,
	"uint64":  8,
	"float64": 8,
}

// ItemSize returns the element width of dtype in bytes.
func ItemSize(dtype string) (int, bool) {
	n, ok := itemSizes[dtype]
	return n, ok
}

// NumericArray is a dense row-major array: a shape, an element type name and
// the flat little-endian element bytes.
type NumericArray struct {
	Shape []int
	DType string
	Data  []byte
}

type numericHeader struct {
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// NewNumericArray validates that data holds exactly prod(shape) elements of dtype.
func NewNumericArray(shape []int, dtype string, data []byte) (*NumericArray, error) {
	a := &NumericArray{Shape: append([]int(nil), shape...), DType: dtype, Data: data}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewFloat32Array packs values with the given shape.
func NewFloat32Array(shape []int, values []float32) (*NumericArray, error) {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return NewNumericArray(shape, "float32", buf)
}

// NewFloat64Array packs values with the given shape.
func NewFloat64Array(shape []int, values []float64) (*NumericArray, error) {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return NewNumericArray(shape, "float64", buf)
}

// Len returns the number of elements implied by the shape, or -1 when the
// shape has a negative dimension or its product overflows int.
func (a *NumericArray) Len() int {
	n, ok := elements(a.Shape, math.MaxInt)
	if !ok {
		return -1
	}
	return n
}

// elements multiplies the dimensions of shape, failing on a negative
// dimension or once the product would exceed limit.
func elements(shape []int, limit int) (int, bool) {
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}
	}
	n := 1
	for _, d := range shape {
		if d == 0 {
			return 0, true
		}
		if n > limit/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// Validate checks the dtype and that the byte length matches the shape.
func (a *NumericArray) Validate() error {
	size, ok := ItemSize(a.DType)
	if !ok {
		return fmt.Errorf("%w: unsupported dtype %q", errors.ErrMalformedMessage, a.DType)
	}
	n, ok := elements(a.Shape, math.MaxInt/size)
	if !ok {
		return fmt.Errorf("%w: invalid shape %v", errors.ErrMalformedMessage, a.Shape)
	}
	if want := n * size; want != len(a.Data) {
		return fmt.Errorf("%w: shape %v of %s needs %d bytes, have %d",
			errors.ErrMalformedMessage, a.Shape, a.DType, want, len(a.Data))
	}
	return nil
}

// Float32s unpacks a float32 array.
func (a *NumericArray) Float32s() ([]float32, error) {
	if a.DType != "float32" {
		return nil, fmt.Errorf("dtype is %s, not float32", a.DType)
	}
	out := make([]float32, len(a.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.Data[4*i:]))
	}
	return out, nil
}

// Float64s unpacks a float64 array.
func (a *NumericArray) Float64s() ([]float64, error) {
	if a.DType != "float64" {
		return nil, fmt.Errorf("dtype is %s, not float64", a.DType)
	}
	out := make([]float64, len(a.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Data[8*i:]))
	}
	return out, nil
}

func (a NumericArray) marshal() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	shape := a.Shape
	if shape == nil {
		shape = []int{}
	}
	header, err := sonic.Marshal(numericHeader{Shape: shape, DType: a.DType})
	if err != nil {
		return nil, errors.Wrap(err, "Codec", "Encode", "marshal array header")
	}
	out := make([]byte, 0, len(header)+len(a.Data))
	out = append(out, header...)
	return append(out, a.Data...), nil
}

// unmarshalNumericArray splits header and body at the first '}' byte. The
// header therefore must not contain '}' inside a string value.
func unmarshalNumericArray(payload []byte) (*NumericArray, error) {
	end := bytes.IndexByte(payload, '}')
	if end < 0 {
		return nil, fmt.Errorf("%w: numeric array header not terminated", errors.ErrMalformedMessage)
	}

	var h numericHeader
	if err := sonic.Unmarshal(payload[:end+1], &h); err != nil {
		return nil, fmt.Errorf("%w: numeric array header: %v", errors.ErrMalformedMessage, err)
	}

	body := make([]byte, len(payload)-end-1)
	copy(body, payload[end+1:])

	a := &NumericArray{Shape: h.Shape, DType: h.DType, Data: body}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
