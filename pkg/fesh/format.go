// Package fesh builds and reads .fes containers: a reversible re-encoding
// of x86_64 ELF executables that separates the file into typed streams,
// applies an invertible rewrite to each, and compresses them with
// per-stream codec profiles. Decompression reproduces the original file bit
// for bit.
package fesh

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/grafana/fesh/pkg/transform"
)

const (
	magic   = "FESC"
	version = 1

	headerSize = 28

	// streamFixedSize is the fixed part of one serialized stream entry;
	// name, runs and payload only add to it.
	streamFixedSize = 42
)

// Tag classifies a stream's content and selects its codec profile. The tag
// is the only codec metadata a stream carries.
type Tag uint8

const (
	TagCode   Tag = iota // executable sections, addresses normalized
	TagRodata            // read-only data, jump table runs resolved
	TagUnwind            // .eh_frame_hdr and .eh_frame
	TagReloc             // relocation and dynamic tables, delta coded
	TagSymtab            // symbol and string tables
	TagOpaque            // residual bytes carried verbatim
)

func (t Tag) String() string {
	switch t {
	case TagCode:
		return "code"
	case TagRodata:
		return "rodata"
	case TagUnwind:
		return "unwind"
	case TagReloc:
		return "reloc"
	case TagSymtab:
		return "symtab"
	case TagOpaque:
		return "opaque"
	}
	return "unknown"
}

// Flags records which rewrites a stream went through, bit per rewrite. The
// reader applies the inverses in fixed order, so unknown bits mean the
// container was written by something this version cannot invert.
type Flags uint8

const (
	FlagNormalized Flags = 1 << iota // instruction addresses rewritten
	FlagDelta                        // table columns delta coded
	FlagUnwind                       // unwind search table rewritten
	FlagTransposed                   // rows transposed to columns
)

const knownFlags = FlagNormalized | FlagDelta | FlagUnwind | FlagTransposed

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range []struct {
		bit  Flags
		name string
	}{
		{FlagNormalized, "normalized"},
		{FlagDelta, "delta"},
		{FlagUnwind, "unwind"},
		{FlagTransposed, "transposed"},
	} {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := f &^ knownFlags; rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "+")
}

// Stream is one byte range of the original file, transformed and
// compressed. FileOff locates it in the original; the opaque residual
// stream instead fills every byte no other stream claims.
type Stream struct {
	Tag     Tag
	Kind    transform.TableKind
	Flags   Flags
	Name    string
	OrigLen uint64
	BaseVA  uint64
	FileOff uint64
	Runs    []transform.Run
	Enc     []byte
}

// Container is the parsed form of a .fes file.
type Container struct {
	OrigSize uint64
	OrigHash uint64
	Streams  []Stream
}

type header struct {
	Magic    [4]byte
	Version  uint32
	OrigSize uint64
	OrigHash uint64
	Streams  uint32
}

func (h *header) marshal() []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint64(b[8:16], h.OrigSize)
	binary.LittleEndian.PutUint64(b[16:24], h.OrigHash)
	binary.LittleEndian.PutUint32(b[24:28], h.Streams)
	return b
}

func (h *header) unmarshal(b []byte) error {
	if len(b) < headerSize {
		return corruptf("header: got %d bytes, want %d", len(b), headerSize)
	}
	copy(h.Magic[:], b[0:4])
	if string(h.Magic[:]) != magic {
		return corruptf("header: invalid magic %q", h.Magic)
	}
	h.Version = binary.LittleEndian.Uint32(b[4:8])
	if h.Version != version {
		return corruptf("header: unknown version %d", h.Version)
	}
	h.OrigSize = binary.LittleEndian.Uint64(b[8:16])
	if h.OrigSize > math.MaxInt {
		return corruptf("header: original size %d not addressable", h.OrigSize)
	}
	h.OrigHash = binary.LittleEndian.Uint64(b[16:24])
	h.Streams = binary.LittleEndian.Uint32(b[24:28])
	return nil
}

type writerOffset struct {
	io.Writer
	offset int64
	err    error
}

func (w *writerOffset) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.Writer.Write(p)
	w.offset += int64(n)
	w.err = err
}

// WriteTo serializes the container. Layout, little-endian throughout:
//
//	header:  magic "FESC" | version u32 | orig size u64 | orig hash u64 | stream count u32
//	stream:  tag u8 | kind u8 | flags u8 | reserved u8 | name len u16 | name |
//	         orig len u64 | base va u64 | file off u64 |
//	         run count u32 | { run off u64 | cells u32 }... |
//	         enc len u64 | enc
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	for i := range c.Streams {
		if len(c.Streams[i].Name) > math.MaxUint16 {
			return 0, fmt.Errorf("stream %d: name of %d bytes overflows its length field", i, len(c.Streams[i].Name))
		}
	}
	wo := &writerOffset{Writer: w}
	h := header{
		Version:  version,
		OrigSize: c.OrigSize,
		OrigHash: c.OrigHash,
		Streams:  uint32(len(c.Streams)),
	}
	copy(h.Magic[:], magic)
	wo.write(h.marshal())
	for i := range c.Streams {
		c.Streams[i].writeTo(wo)
	}
	return wo.offset, wo.err
}

func (s *Stream) writeTo(w *writerOffset) {
	var fixed [6]byte
	fixed[0] = byte(s.Tag)
	fixed[1] = byte(s.Kind)
	fixed[2] = byte(s.Flags)
	binary.LittleEndian.PutUint16(fixed[4:], uint16(len(s.Name)))
	w.write(fixed[:])
	w.write([]byte(s.Name))

	var nums [24]byte
	binary.LittleEndian.PutUint64(nums[0:], s.OrigLen)
	binary.LittleEndian.PutUint64(nums[8:], s.BaseVA)
	binary.LittleEndian.PutUint64(nums[16:], s.FileOff)
	w.write(nums[:])

	var rc [4]byte
	binary.LittleEndian.PutUint32(rc[:], uint32(len(s.Runs)))
	w.write(rc[:])
	for _, r := range s.Runs {
		var rb [12]byte
		binary.LittleEndian.PutUint64(rb[0:], r.Off)
		binary.LittleEndian.PutUint32(rb[8:], r.Count)
		w.write(rb[:])
	}

	var el [8]byte
	binary.LittleEndian.PutUint64(el[:], uint64(len(s.Enc)))
	w.write(el[:])
	w.write(s.Enc)
}

type containerReader struct {
	b   []byte
	off int
}

func (r *containerReader) take(n uint64) ([]byte, error) {
	if n > uint64(len(r.b)-r.off) {
		return nil, corruptf("truncated at offset %d: need %d bytes, have %d", r.off, n, len(r.b)-r.off)
	}
	b := r.b[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *containerReader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *containerReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *containerReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadContainer parses and validates a serialized container. Beyond shape,
// it checks the layout invariants reconstruction relies on: located streams
// are sorted by file offset and disjoint, at most one residual stream
// exists, it comes last, and its length equals exactly the bytes the
// located streams leave uncovered.
func ReadContainer(b []byte) (*Container, error) {
	r := &containerReader{b: b}
	hb, err := r.take(headerSize)
	if err != nil {
		return nil, err
	}
	var h header
	if err := h.unmarshal(hb); err != nil {
		return nil, err
	}
	if uint64(h.Streams) > uint64(len(b)-headerSize)/streamFixedSize {
		return nil, corruptf("%d streams cannot fit in %d bytes", h.Streams, len(b)-headerSize)
	}

	c := &Container{
		OrigSize: h.OrigSize,
		OrigHash: h.OrigHash,
		Streams:  make([]Stream, h.Streams),
	}
	for i := range c.Streams {
		if err := readStream(r, &c.Streams[i]); err != nil {
			return nil, err
		}
	}
	if r.off != len(b) {
		return nil, corruptf("%d trailing bytes after last stream", len(b)-r.off)
	}
	if err := validateLayout(c); err != nil {
		return nil, err
	}
	return c, nil
}

func readStream(r *containerReader, s *Stream) error {
	fixed, err := r.take(6)
	if err != nil {
		return err
	}
	s.Tag = Tag(fixed[0])
	s.Kind = transform.TableKind(fixed[1])
	s.Flags = Flags(fixed[2])
	name, err := r.take(uint64(binary.LittleEndian.Uint16(fixed[4:])))
	if err != nil {
		return err
	}
	s.Name = string(name)
	if s.Tag > TagOpaque {
		return corruptf("stream %q: unknown tag %d", s.Name, fixed[0])
	}
	if s.Kind > transform.KindRelr {
		return corruptf("stream %q: unknown table kind %d", s.Name, fixed[1])
	}
	if s.Flags&^knownFlags != 0 {
		return corruptf("stream %q: unknown flag bits %#x", s.Name, uint8(s.Flags))
	}

	if s.OrigLen, err = r.u64(); err != nil {
		return err
	}
	if s.BaseVA, err = r.u64(); err != nil {
		return err
	}
	if s.FileOff, err = r.u64(); err != nil {
		return err
	}

	runCount, err := r.u32()
	if err != nil {
		return err
	}
	var prevEnd uint64
	for k := uint32(0); k < runCount; k++ {
		var run transform.Run
		if run.Off, err = r.u64(); err != nil {
			return err
		}
		if run.Count, err = r.u32(); err != nil {
			return err
		}
		span := 4 * uint64(run.Count)
		if run.Count == 0 || run.Off < prevEnd || run.Off > s.OrigLen || span > s.OrigLen-run.Off {
			return corruptf("stream %q: bad run of %d cells at %d", s.Name, run.Count, run.Off)
		}
		prevEnd = run.Off + span
		s.Runs = append(s.Runs, run)
	}

	encLen, err := r.u64()
	if err != nil {
		return err
	}
	if (s.OrigLen == 0) != (encLen == 0) {
		return corruptf("stream %q: %d bytes encoded from %d", s.Name, encLen, s.OrigLen)
	}
	enc, err := r.take(encLen)
	if err != nil {
		return err
	}
	s.Enc = enc
	return nil
}

func validateLayout(c *Container) error {
	var cursor, covered uint64
	residual := -1
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Tag == TagOpaque {
			if residual >= 0 {
				return corruptf("more than one residual stream")
			}
			residual = i
			continue
		}
		if residual >= 0 {
			return corruptf("stream %q follows the residual", s.Name)
		}
		if s.FileOff < cursor || s.FileOff > c.OrigSize || s.OrigLen > c.OrigSize-s.FileOff {
			return corruptf("stream %q: range [%d,+%d) out of order or out of bounds",
				s.Name, s.FileOff, s.OrigLen)
		}
		cursor = s.FileOff + s.OrigLen
		covered += s.OrigLen
	}
	uncovered := c.OrigSize - covered
	switch {
	case residual < 0 && uncovered != 0:
		return corruptf("%d bytes uncovered and no residual stream", uncovered)
	case residual >= 0 && c.Streams[residual].OrigLen != uncovered:
		return corruptf("residual holds %d bytes, gaps hold %d",
			c.Streams[residual].OrigLen, uncovered)
	}
	return nil
}
