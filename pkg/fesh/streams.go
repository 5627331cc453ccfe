package fesh

import (
	"github.com/grafana/fesh/pkg/codec"
	"github.com/grafana/fesh/pkg/elffile"
	"github.com/grafana/fesh/pkg/transform"
)

// profileFor maps a stream tag to its codec profile. Fixed at container
// version 1: changing a profile is a format change.
func profileFor(t Tag) codec.Profile {
	switch t {
	case TagReloc:
		return codec.ProfileNumeric
	case TagRodata, TagSymtab:
		return codec.ProfileText
	}
	return codec.ProfileCode
}

// classify decides whether a section becomes its own stream and under which
// tag. Sections it declines ride in the residual.
func classify(s *elffile.Section) (Tag, bool) {
	if s.Executable() {
		return TagCode, true
	}
	switch s.Name {
	case ".rodata", ".data.rel.ro":
		return TagRodata, true
	case ".eh_frame_hdr", ".eh_frame":
		return TagUnwind, true
	case ".strtab", ".dynstr", ".shstrtab":
		return TagSymtab, true
	}
	switch transform.KindForSection(s.Name, s.Type) {
	case transform.KindNone:
		return TagOpaque, false
	case transform.KindSym:
		return TagSymtab, true
	}
	return TagReloc, true
}

// planStreams picks the sections that get their own stream. A file without
// .text gets none: the rewrites key off text addresses, so its bytes ride
// in the residual untouched.
func planStreams(img *elffile.Image) []*elffile.Section {
	if img.Section(".text") == nil {
		return nil
	}
	var picked []*elffile.Section
	for i := range img.Sections {
		if _, ok := classify(&img.Sections[i]); ok {
			picked = append(picked, &img.Sections[i])
		}
	}
	return picked
}

// buildStream copies a section's bytes and applies the tag's rewrite chain,
// returning the stream metadata and the transformed bytes to compress.
// textLo and textHi bound the .text address range jump table targets must
// land in.
func buildStream(img *elffile.Image, sec *elffile.Section, textLo, textHi uint64) (Stream, []byte) {
	tag, _ := classify(sec)
	data := append([]byte(nil), img.Bytes(sec)...)
	s := Stream{
		Tag:     tag,
		Name:    sec.Name,
		OrigLen: sec.Size,
		BaseVA:  sec.Addr,
		FileOff: sec.Off,
	}
	switch tag {
	case TagCode:
		if transform.NormalizeCode(data, sec.Addr) > 0 {
			s.Flags |= FlagNormalized
		}
	case TagRodata:
		if runs := transform.FindRuns(data, sec.Addr, textLo, textHi); len(runs) > 0 {
			transform.ResolveRuns(data, sec.Addr, runs)
			s.Runs = runs
		}
	case TagUnwind:
		if sec.Name == ".eh_frame_hdr" {
			if transform.NormalizeUnwindTable(data, sec.Addr) {
				s.Flags |= FlagUnwind
			} else if runs := transform.FindRuns(data, sec.Addr, textLo, textHi); len(runs) > 0 {
				// Header layout we don't handle; salvage what a plain
				// run scan can find.
				transform.ResolveRuns(data, sec.Addr, runs)
				s.Runs = runs
			}
		}
	case TagReloc, TagSymtab:
		if k := transform.KindForSection(sec.Name, sec.Type); k != transform.KindNone {
			s.Kind = k
			if transform.DeltaEncode(k, data) {
				s.Flags |= FlagDelta
				if transform.Transpose(data, k.RowSize()) {
					s.Flags |= FlagTransposed
				}
			}
		}
	}
	return s, data
}

// invertStream undoes a stream's rewrite chain in place. data holds the
// decoded stream bytes. Rewrites are undone in the reverse of the order
// buildStream applies them.
func invertStream(s *Stream, data []byte) error {
	if s.Flags&FlagTransposed != 0 {
		if !transform.Untranspose(data, s.Kind.RowSize()) {
			return corruptf("stream %q: transposed flag on a %s table of %d bytes", s.Name, s.Kind, len(data))
		}
	}
	if s.Flags&FlagDelta != 0 {
		if !transform.DeltaDecode(s.Kind, data) {
			return corruptf("stream %q: delta flag on a %s table of %d bytes", s.Name, s.Kind, len(data))
		}
	}
	if s.Flags&FlagUnwind != 0 {
		if !transform.DenormalizeUnwindTable(data, s.BaseVA) {
			return corruptf("stream %q: unwind flag on an unparseable header", s.Name)
		}
	}
	if len(s.Runs) > 0 {
		transform.RestoreRuns(data, s.BaseVA, s.Runs)
	}
	if s.Flags&FlagNormalized != 0 {
		transform.DenormalizeCode(data, s.BaseVA)
	}
	return nil
}

// gatherResidual concatenates, in ascending file order, every byte of raw
// the claimed sections leave uncovered. sections must be sorted by file
// offset, which the loader guarantees.
func gatherResidual(raw []byte, sections []*elffile.Section) []byte {
	var out []byte
	var cursor uint64
	for _, sec := range sections {
		if sec.Off > cursor {
			out = append(out, raw[cursor:sec.Off]...)
		}
		cursor = sec.Off + sec.Size
	}
	if cursor < uint64(len(raw)) {
		out = append(out, raw[cursor:]...)
	}
	return out
}

// scatterResidual is the inverse of gatherResidual: it fills the gaps of
// out, ascending, from residual. ReadContainer has already checked that the
// residual length equals the gap total.
func scatterResidual(out []byte, streams []Stream, residual []byte) {
	var cursor uint64
	for i := range streams {
		s := &streams[i]
		if s.Tag == TagOpaque {
			continue
		}
		if s.FileOff > cursor {
			n := copy(out[cursor:s.FileOff], residual)
			residual = residual[n:]
		}
		cursor = s.FileOff + s.OrigLen
	}
	copy(out[cursor:], residual)
}
