package fesh

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/fesh/pkg/transform"
)

func testContainer() *Container {
	return &Container{
		OrigSize: 100,
		OrigHash: 0xdeadbeefcafef00d,
		Streams: []Stream{
			{
				Tag: TagCode, Flags: FlagNormalized, Name: ".text",
				OrigLen: 30, BaseVA: 0x401000, FileOff: 10,
				Enc: []byte{1, 2, 3},
			},
			{
				Tag: TagRodata, Name: ".rodata",
				OrigLen: 20, BaseVA: 0x402000, FileOff: 50,
				Runs: []transform.Run{{Off: 0, Count: 3}, {Off: 16, Count: 1}},
				Enc:  []byte{4, 5},
			},
			{Tag: TagOpaque, OrigLen: 50, Enc: []byte{9}},
		},
	}
}

func mustBytes(t *testing.T, c *Container) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := c.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes()
}

func TestContainerRoundTrip(t *testing.T) {
	b := mustBytes(t, testContainer())
	got, err := ReadContainer(b)
	require.NoError(t, err)
	require.Equal(t, testContainer(), got)
}

func TestReadContainerMutations(t *testing.T) {
	// First stream starts right after the 28-byte header: tag, kind and
	// flags are its first three bytes.
	for _, tc := range []struct {
		name string
		mut  func([]byte) []byte
	}{
		{"empty", func(b []byte) []byte { return nil }},
		{"short header", func(b []byte) []byte { return b[:12] }},
		{"bad magic", func(b []byte) []byte { b[0] ^= 0xff; return b }},
		{"unknown version", func(b []byte) []byte { b[4] = 9; return b }},
		{"unknown tag", func(b []byte) []byte { b[28] = 99; return b }},
		{"unknown kind", func(b []byte) []byte { b[29] = 99; return b }},
		{"unknown flag bits", func(b []byte) []byte { b[30] = 0xf0; return b }},
		{"truncated stream", func(b []byte) []byte { return b[:len(b)-1] }},
		{"trailing bytes", func(b []byte) []byte { return append(b, 0) }},
		{"stream count overflows", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[24:], math.MaxUint32); return b }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadContainer(tc.mut(mustBytes(t, testContainer())))
			require.ErrorIs(t, err, ErrContainerCorrupt)
		})
	}
}

func TestReadContainerLayout(t *testing.T) {
	for _, tc := range []struct {
		name string
		mut  func(*Container)
	}{
		{"empty stream with payload", func(c *Container) {
			c.Streams[0].OrigLen = 0
			c.Streams[2].OrigLen = 80
		}},
		{"payload stream without bytes", func(c *Container) {
			c.Streams[0].Enc = nil
		}},
		{"streams out of order", func(c *Container) {
			c.Streams[0].FileOff = 60
		}},
		{"overlapping streams", func(c *Container) {
			c.Streams[1].FileOff = 20
		}},
		{"stream out of bounds", func(c *Container) {
			c.Streams[1].FileOff = 90
		}},
		{"residual not last", func(c *Container) {
			c.Streams[1], c.Streams[2] = c.Streams[2], c.Streams[1]
		}},
		{"two residuals", func(c *Container) {
			c.Streams[1].Tag = TagOpaque
		}},
		{"residual size mismatch", func(c *Container) {
			c.Streams[2].OrigLen = 49
		}},
		{"missing residual", func(c *Container) {
			c.Streams = c.Streams[:2]
		}},
		{"zero run", func(c *Container) {
			c.Streams[1].Runs[1].Count = 0
		}},
		{"run out of bounds", func(c *Container) {
			c.Streams[1].Runs[1].Count = 100
		}},
		{"runs out of order", func(c *Container) {
			c.Streams[1].Runs[0], c.Streams[1].Runs[1] = c.Streams[1].Runs[1], c.Streams[1].Runs[0]
		}},
		{"run offset wraps", func(c *Container) {
			c.Streams[1].Runs[1] = transform.Run{Off: math.MaxUint64 - 3, Count: 1}
		}},
		{"stream offset wraps", func(c *Container) {
			c.Streams[1].FileOff = math.MaxUint64 - 9
		}},
		{"original size unaddressable", func(c *Container) {
			c.OrigSize = math.MaxUint64
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := testContainer()
			tc.mut(c)
			_, err := ReadContainer(mustBytes(t, c))
			require.ErrorIs(t, err, ErrContainerCorrupt)
		})
	}
}

func TestReadContainerNoResidual(t *testing.T) {
	c := &Container{
		OrigSize: 40,
		Streams: []Stream{
			{Tag: TagCode, Name: ".text", OrigLen: 40, BaseVA: 0x401000, FileOff: 0, Enc: []byte{1}},
		},
	}
	got, err := ReadContainer(mustBytes(t, c))
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestWriteContainerNameTooLong(t *testing.T) {
	c := testContainer()
	c.Streams[0].Name = strings.Repeat("n", math.MaxUint16+1)

	var buf bytes.Buffer
	_, err := c.WriteTo(&buf)
	require.Error(t, err)
	require.Zero(t, buf.Len(), "nothing written once a name cannot be framed")
}
