package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*131 ^ i>>5)
	}
	return b
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		profile Profile
		data    []byte
	}{
		{"code profile", ProfileCode, sampleData(4 << 10)},
		{"numeric profile", ProfileNumeric, sampleData(333)},
		{"text profile", ProfileText, bytes.Repeat([]byte("\x00main\x00frob\x00"), 40)},
		{"empty", ProfileCode, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := Encode(tc.data, tc.profile)
			require.NoError(t, err)
			dec, err := Decode(enc, len(tc.data))
			require.NoError(t, err)
			require.Equal(t, append([]byte(nil), tc.data...), append([]byte(nil), dec...))
		})
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	enc, err := Encode(sampleData(100), ProfileCode)
	require.NoError(t, err)

	_, err = Decode(enc, 50)
	require.Error(t, err, "stream longer than recorded size")
	_, err = Decode(enc, 200)
	require.Error(t, err, "stream shorter than recorded size")
}

func TestDecodeCorruptHeader(t *testing.T) {
	enc, err := Encode(sampleData(100), ProfileCode)
	require.NoError(t, err)
	enc[0] ^= 0xff
	_, err = Decode(enc, 100)
	require.Error(t, err)
}

func TestDictCap(t *testing.T) {
	require.Equal(t, 64<<10, dictCap(0))
	require.Equal(t, 64<<10, dictCap(64<<10))
	require.Equal(t, 128<<10, dictCap(64<<10+1))
	require.Equal(t, 1<<20, dictCap(1<<20))
	require.Equal(t, 64<<20, dictCap(1<<30))
}

func TestReferenceSizes(t *testing.T) {
	data := bytes.Repeat(sampleData(512), 8)
	for _, ref := range []struct {
		name string
		fn   func([]byte) (int, error)
	}{
		{"xz", XZSize},
		{"zstd", ZstdSize},
		{"gzip", GzipSize},
	} {
		t.Run(ref.name, func(t *testing.T) {
			n, err := ref.fn(data)
			require.NoError(t, err)
			require.Greater(t, n, 0)
			require.Less(t, n, len(data))
		})
	}
}
