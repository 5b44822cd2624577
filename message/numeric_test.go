package message

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejue/liteboty/errors"
)

func TestNumericArray_Float32ShapeTwoByThree(t *testing.T) {
	values := []float32{0, 1.25, -3.5, float32(math.Pi), math.MaxFloat32, float32(math.Inf(-1))}
	arr, err := NewFloat32Array([]int{2, 3}, values)
	require.NoError(t, err)

	buf, err := Encode(New(arr, TypeNumericArray, nil))
	require.NoError(t, err)

	msg, err := Decode(buf)
	require.NoError(t, err)

	got, ok := msg.Array()
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, got.Shape)
	assert.Equal(t, "float32", got.DType)
	assert.Equal(t, arr.Data, got.Data, "element bytes must be bit-identical")

	decoded, err := got.Float32s()
	require.NoError(t, err)
	for i := range values {
		assert.Equal(t, math.Float32bits(values[i]), math.Float32bits(decoded[i]))
	}
}

func TestNumericArray_Float64(t *testing.T) {
	arr, err := NewFloat64Array([]int{3}, []float64{1, 2, 3})
	require.NoError(t, err)

	out, err := arr.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, out)

	_, err = arr.Float32s()
	assert.Error(t, err)
}

func TestNumericArray_Validate(t *testing.T) {
	_, err := NewNumericArray([]int{2, 2}, "int16", make([]byte, 8))
	assert.NoError(t, err)

	_, err = NewNumericArray([]int{2, 2}, "int16", make([]byte, 7))
	assert.Error(t, err)

	_, err = NewNumericArray([]int{1}, "complex128", make([]byte, 16))
	assert.Error(t, err)

	_, err = NewNumericArray([]int{-1}, "uint8", nil)
	assert.Error(t, err)

	_, err = NewNumericArray([]int{-2, -2}, "uint8", make([]byte, 4))
	assert.Error(t, err)

	_, err = NewNumericArray([]int{1 << 62, 4}, "float32", nil)
	assert.ErrorIs(t, err, errors.ErrMalformedMessage)
}

func TestNumericArray_LenOverflow(t *testing.T) {
	assert.Equal(t, -1, (&NumericArray{Shape: []int{1 << 62, 4}}).Len())
	assert.Equal(t, 0, (&NumericArray{Shape: []int{1 << 62, 0}}).Len())
	assert.Equal(t, 6, (&NumericArray{Shape: []int{2, 3}}).Len())
}

func TestNumericArray_ScalarShape(t *testing.T) {
	arr, err := NewNumericArray(nil, "uint8", []byte{7})
	require.NoError(t, err)
	assert.Equal(t, 1, arr.Len())

	buf, err := Encode(New(arr, TypeNumericArray, nil))
	require.NoError(t, err)
	msg, err := Decode(buf)
	require.NoError(t, err)

	got, _ := msg.Array()
	assert.Empty(t, got.Shape)
	assert.Equal(t, []byte{7}, got.Data)
}

func TestNumericArray_AcceptsSpacedHeader(t *testing.T) {
	payload := append([]byte(`{"shape": [2], "dtype": "uint8"}`), 1, 2)
	arr, err := unmarshalNumericArray(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, arr.Data)
}

func TestNumericArray_BodyMayContainBrace(t *testing.T) {
	arr, err := NewNumericArray([]int{2}, "uint8", []byte{'}', '}'})
	require.NoError(t, err)

	buf, err := Encode(New(arr, TypeNumericArray, nil))
	require.NoError(t, err)
	msg, err := Decode(buf)
	require.NoError(t, err)

	got, _ := msg.Array()
	assert.Equal(t, []byte{'}', '}'}, got.Data)
}
