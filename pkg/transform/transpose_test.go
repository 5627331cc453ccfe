package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranspose(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5, 6}
	require.True(t, Transpose(b, 2))
	require.Equal(t, []byte{1, 3, 5, 2, 4, 6}, b)
	require.True(t, Untranspose(b, 2))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, b)
}

func TestTransposePartialTail(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5, 6, 7}
	require.True(t, Transpose(b, 2))
	require.Equal(t, []byte{1, 3, 5, 2, 4, 6, 7}, b)
	require.True(t, Untranspose(b, 2))
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, b)
}

func TestTransposeRoundTripWideRows(t *testing.T) {
	b := make([]byte, 24*5+13)
	for i := range b {
		b[i] = byte(i * 7)
	}
	orig := append([]byte(nil), b...)

	require.True(t, Transpose(b, 24))
	require.NotEqual(t, orig, b)
	require.True(t, Untranspose(b, 24))
	require.Equal(t, orig, b)
}

func TestTransposeDegenerate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		b      []byte
		stride int
	}{
		{"stride one", []byte{1, 2, 3}, 1},
		{"stride zero", []byte{1, 2, 3}, 0},
		{"single row", []byte{1, 2, 3, 4, 5}, 4},
		{"empty", nil, 8},
	} {
		t.Run(tc.name, func(t *testing.T) {
			orig := append([]byte(nil), tc.b...)
			require.False(t, Transpose(tc.b, tc.stride))
			require.False(t, Untranspose(tc.b, tc.stride))
			require.Equal(t, orig, tc.b)
		})
	}
}
