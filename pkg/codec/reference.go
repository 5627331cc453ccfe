package codec

import (
	"bytes"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Whole-file reference encoders. The compare command reports these next to
// the transformed container so a size win is attributable to the transform
// rather than to codec tuning.

// XZSize compresses b with stock xz settings and returns the output size.
func XZSize(b []byte) (int, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(b); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

// ZstdSize compresses b at zstd's best level and returns the output size.
func ZstdSize(b []byte) (int, error) {
	w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return 0, err
	}
	defer w.Close()
	return len(w.EncodeAll(b, nil)), nil
}

// GzipSize compresses b at gzip's best level and returns the output size.
func GzipSize(b []byte) (int, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(b); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}
