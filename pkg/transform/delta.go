package transform

import (
	"debug/elf"
	"encoding/binary"
	"strings"
)

// TableKind identifies one of the fixed-layout ELF metadata tables whose
// columns are delta coded. The set is closed: row layout and column
// eligibility are fixed by the ELF64 ABI for x86_64, never inferred from
// the data.
type TableKind uint8

const (
	KindNone    TableKind = iota
	KindRela              // Elf64_Rela tables (.rela.dyn, .rela.plt)
	KindRel               // Elf64_Rel tables (.rel.*)
	KindSym               // Elf64_Sym tables (.symtab, .dynsym)
	KindDynamic           // Elf64_Dyn tables (.dynamic)
	KindRelr              // RELR compact relocation tables (.relr.dyn)
)

func (k TableKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRela:
		return "rela"
	case KindRel:
		return "rel"
	case KindSym:
		return "sym"
	case KindDynamic:
		return "dynamic"
	case KindRelr:
		return "relr"
	}
	return "unknown"
}

// RowSize returns the fixed row width in bytes, or 0 for KindNone.
func (k TableKind) RowSize() int {
	switch k {
	case KindRela, KindSym:
		return 24
	case KindRel, KindDynamic:
		return 16
	case KindRelr:
		return 8
	}
	return 0
}

// KindForSection maps a section to its table kind. Dispatch prefers the
// section type where ELF defines a distinct one and falls back to the
// conventional name; RELR sections are matched by name because their type
// constant is not universal across toolchains.
func KindForSection(name string, typ elf.SectionType) TableKind {
	switch typ {
	case elf.SHT_RELA:
		return KindRela
	case elf.SHT_REL:
		return KindRel
	case elf.SHT_SYMTAB, elf.SHT_DYNSYM:
		return KindSym
	case elf.SHT_DYNAMIC:
		return KindDynamic
	}
	switch {
	case strings.HasPrefix(name, ".rela"):
		return KindRela
	case strings.HasPrefix(name, ".relr"):
		return KindRelr
	case strings.HasPrefix(name, ".rel"):
		return KindRel
	case name == ".dynamic":
		return KindDynamic
	case name == ".symtab" || name == ".dynsym":
		return KindSym
	}
	return KindNone
}

// Zigzag maps a signed 64-bit delta to an unsigned value whose magnitude
// tracks the delta's, so small negative deltas stay small.
func Zigzag(d int64) uint64 { return uint64(d<<1) ^ uint64(d>>63) }

// Unzigzag is the exact inverse of Zigzag.
func Unzigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

// Field offsets within a row.
//
//	Elf64_Rela: r_offset u64 | r_info u64 | r_addend i64
//	Elf64_Rel:  r_offset u64 | r_info u64
//	Elf64_Sym:  st_name u32 | st_info u8 | st_other u8 | st_shndx u16 | st_value u64 | st_size u64
//	Elf64_Dyn:  d_tag i64 | d_un u64
const (
	relaOffsetField = 0
	relaAddendField = 16
	symValueField   = 8
	symSizeField    = 16
	dynValueField   = 8
)

// DeltaEncode rewrites the eligible columns of a table in place, replacing
// each value with the zigzag-coded difference against the previous eligible
// row; the first eligible row keeps its absolute value. It reports whether
// the table was coded: KindNone tables and tables whose length is not a
// whole number of rows are left untouched.
func DeltaEncode(kind TableKind, b []byte) bool {
	rs := kind.RowSize()
	if rs == 0 || len(b)%rs != 0 {
		return false
	}
	switch kind {
	case KindRela:
		encodeColumn(b, rs, relaOffsetField)
		encodeColumn(b, rs, relaAddendField)
	case KindRel:
		encodeColumn(b, rs, relaOffsetField)
	case KindSym:
		encodeColumn(b, rs, symValueField)
		encodeColumn(b, rs, symSizeField)
	case KindDynamic:
		encodeDynamic(b)
	case KindRelr:
		encodeRelr(b)
	}
	return true
}

// DeltaDecode is the exact inverse of DeltaEncode. It applies the same
// applicability test, so a table the encoder skipped is skipped again.
func DeltaDecode(kind TableKind, b []byte) bool {
	rs := kind.RowSize()
	if rs == 0 || len(b)%rs != 0 {
		return false
	}
	switch kind {
	case KindRela:
		decodeColumn(b, rs, relaOffsetField)
		decodeColumn(b, rs, relaAddendField)
	case KindRel:
		decodeColumn(b, rs, relaOffsetField)
	case KindSym:
		decodeColumn(b, rs, symValueField)
		decodeColumn(b, rs, symSizeField)
	case KindDynamic:
		decodeDynamic(b)
	case KindRelr:
		decodeRelr(b)
	}
	return true
}

func encodeColumn(b []byte, rowSize, field int) {
	var prev uint64
	for off := field; off+8 <= len(b); off += rowSize {
		v := binary.LittleEndian.Uint64(b[off:])
		if off == field {
			prev = v
			continue
		}
		binary.LittleEndian.PutUint64(b[off:], Zigzag(int64(v-prev)))
		prev = v
	}
}

func decodeColumn(b []byte, rowSize, field int) {
	var prev uint64
	for off := field; off+8 <= len(b); off += rowSize {
		if off == field {
			prev = binary.LittleEndian.Uint64(b[off:])
			continue
		}
		v := prev + uint64(Unzigzag(binary.LittleEndian.Uint64(b[off:])))
		binary.LittleEndian.PutUint64(b[off:], v)
		prev = v
	}
}

// pointerTag reports whether a .dynamic tag's d_un holds a virtual address.
// Counts, sizes and flag words stay untouched; so does the tag itself, which
// is what lets the inverse recover the same eligibility sequence.
func pointerTag(tag elf.DynTag) bool {
	switch tag {
	case elf.DT_PLTGOT, elf.DT_HASH, elf.DT_GNU_HASH, elf.DT_STRTAB,
		elf.DT_SYMTAB, elf.DT_RELA, elf.DT_INIT, elf.DT_FINI, elf.DT_REL,
		elf.DT_JMPREL, elf.DT_INIT_ARRAY, elf.DT_FINI_ARRAY,
		elf.DT_PREINIT_ARRAY, elf.DT_VERSYM, elf.DT_VERDEF, elf.DT_VERNEED:
		return true
	}
	return false
}

func encodeDynamic(b []byte) {
	var prev uint64
	first := true
	for off := 0; off+16 <= len(b); off += 16 {
		tag := elf.DynTag(binary.LittleEndian.Uint64(b[off:]))
		if !pointerTag(tag) {
			continue
		}
		v := binary.LittleEndian.Uint64(b[off+dynValueField:])
		if first {
			prev, first = v, false
			continue
		}
		binary.LittleEndian.PutUint64(b[off+dynValueField:], Zigzag(int64(v-prev)))
		prev = v
	}
}

func decodeDynamic(b []byte) {
	var prev uint64
	first := true
	for off := 0; off+16 <= len(b); off += 16 {
		tag := elf.DynTag(binary.LittleEndian.Uint64(b[off:]))
		if !pointerTag(tag) {
			continue
		}
		if first {
			prev = binary.LittleEndian.Uint64(b[off+dynValueField:])
			first = false
			continue
		}
		v := prev + uint64(Unzigzag(binary.LittleEndian.Uint64(b[off+dynValueField:])))
		binary.LittleEndian.PutUint64(b[off+dynValueField:], v)
		prev = v
	}
}

// RELR entries multiplex addresses (even) and skip bitmaps (odd) on the low
// bit. Address entries are delta coded with a plain wrapping difference,
// which preserves that bit (even minus even stays even); bitmap entries are
// untouched so the inverse re-derives the same entry classification.
func encodeRelr(b []byte) {
	var prev uint64
	first := true
	for off := 0; off+8 <= len(b); off += 8 {
		v := binary.LittleEndian.Uint64(b[off:])
		if v&1 != 0 {
			continue
		}
		if first {
			prev, first = v, false
			continue
		}
		binary.LittleEndian.PutUint64(b[off:], v-prev)
		prev = v
	}
}

func decodeRelr(b []byte) {
	var prev uint64
	first := true
	for off := 0; off+8 <= len(b); off += 8 {
		v := binary.LittleEndian.Uint64(b[off:])
		if v&1 != 0 {
			continue
		}
		if first {
			prev, first = v, false
			continue
		}
		v += prev
		binary.LittleEndian.PutUint64(b[off:], v)
		prev = v
	}
}
