// Package codec compresses individual container streams with LZMA2 in xz
// framing. The literal and position properties come from a fixed per-stream
// profile, so nothing about the codec needs to be recorded next to the
// payload.
package codec

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Profile fixes the LZMA2 literal context (LC), literal position (LP) and
// position bits (PB) for one stream class. Profiles are part of the
// container contract: the reader derives them from the stream tag.
type Profile struct {
	LC, LP, PB int
}

var (
	// ProfileCode suits machine code and other byte-granular data.
	ProfileCode = Profile{LC: 3, LP: 0, PB: 2}

	// ProfileNumeric suits transposed little-endian tables, where position
	// context only dilutes the model.
	ProfileNumeric = Profile{LC: 0, LP: 0, PB: 0}

	// ProfileText suits string tables.
	ProfileText = Profile{LC: 3, LP: 0, PB: 0}
)

// dictCap sizes the dictionary to the stream: the next power of two
// covering n, clamped to [64 KiB, 64 MiB].
func dictCap(n int) int {
	const (
		floor = 64 << 10
		ceil  = 64 << 20
	)
	c := floor
	for c < n && c < ceil {
		c <<= 1
	}
	return c
}

// Encode compresses raw into a single xz stream with the given profile and
// a dictionary sized to raw. The container carries its own content hash, so
// the xz checksum is disabled.
func Encode(raw []byte, p Profile) ([]byte, error) {
	cfg := xz.WriterConfig{
		DictCap:    dictCap(len(raw)),
		Properties: &lzma.Properties{LC: p.LC, LP: p.LP, PB: p.PB},
		NoCheckSum: true,
	}
	var buf bytes.Buffer
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, errors.Wrap(err, "new xz writer")
	}
	if _, err := w.Write(raw); err != nil {
		return nil, errors.Wrap(err, "xz write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "xz close")
	}
	return buf.Bytes(), nil
}

// Decode decompresses an xz stream produced by Encode into exactly want
// bytes. A stream that is shorter or longer than recorded is an error.
func Decode(enc []byte, want int) ([]byte, error) {
	r, err := xz.ReaderConfig{DictCap: 64 << 20}.NewReader(bytes.NewReader(enc))
	if err != nil {
		return nil, errors.Wrap(err, "new xz reader")
	}
	raw := make([]byte, want)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrap(err, "xz read")
	}
	var tail [1]byte
	if n, _ := r.Read(tail[:]); n != 0 {
		return nil, errors.New("xz stream exceeds recorded size")
	}
	return raw, nil
}
