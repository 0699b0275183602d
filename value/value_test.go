package value_test

import (
	"testing"

	"github.com/jetperch/fbp/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarEquality(t *testing.T) {
	a := value.U32(7, value.Retain)
	b := value.U32(7, value.Retain)
	c := value.U32(8, value.Retain)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestRetainRequiresConstForVariableLength(t *testing.T) {
	_, err := value.Str([]byte("hi"), 0, value.Retain)
	require.ErrorIs(t, err, value.ErrRetainRequiresConst)

	v, err := value.Str([]byte("hi"), 0, value.Retain|value.Const)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Size())
}

func TestStrSizeFromNUL(t *testing.T) {
	v, err := value.Str([]byte("abc\x00ignored"), 0, value.Const)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Size())
	s, err := v.AsString()
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
}

func TestAsInt64(t *testing.T) {
	v := value.I16(-5, 0)
	i, err := v.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), i)
}

func TestEqualityConsidersFlags(t *testing.T) {
	a, err := value.JSON([]byte(`{"a":1}`), 0, value.Const|value.Retain)
	require.NoError(t, err)
	b, err := value.JSON([]byte(`{"a":1}`), 0, value.Const)
	require.NoError(t, err)
	assert.False(t, a.Equal(b))
}

func TestNotScalar(t *testing.T) {
	v, err := value.Bin([]byte{1, 2, 3}, 3, value.Const)
	require.NoError(t, err)
	_, err = v.AsInt64()
	require.ErrorIs(t, err, value.ErrNotScalar)
}
