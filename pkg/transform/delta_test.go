package transform

import (
	"debug/elf"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func le64s(vs ...uint64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], v)
	}
	return b
}

func TestZigzag(t *testing.T) {
	require.Equal(t, uint64(0), Zigzag(0))
	require.Equal(t, uint64(1), Zigzag(-1))
	require.Equal(t, uint64(2), Zigzag(1))
	require.Equal(t, uint64(3), Zigzag(-2))
	require.Equal(t, uint64(4), Zigzag(2))

	for _, d := range []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40), math.MaxInt64, math.MinInt64} {
		require.Equal(t, d, Unzigzag(Zigzag(d)), "delta %d", d)
	}
}

func TestKindForSection(t *testing.T) {
	for _, tc := range []struct {
		name string
		typ  elf.SectionType
		want TableKind
	}{
		{".rela.dyn", elf.SHT_RELA, KindRela},
		{".rela.plt", elf.SHT_RELA, KindRela},
		{".rel.dyn", elf.SHT_REL, KindRel},
		{".relr.dyn", elf.SectionType(19), KindRelr},
		{".dynamic", elf.SHT_DYNAMIC, KindDynamic},
		{".symtab", elf.SHT_SYMTAB, KindSym},
		{".dynsym", elf.SHT_DYNSYM, KindSym},
		{".rela.weird", elf.SHT_PROGBITS, KindRela},
		{".rodata", elf.SHT_PROGBITS, KindNone},
		{".text", elf.SHT_PROGBITS, KindNone},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindForSection(tc.name, tc.typ))
		})
	}
}

func TestDeltaRela(t *testing.T) {
	table := le64s(
		0x405000, 8, 0x401005,
		0x405008, 8, 0x401010,
		0x405020, 8, 0x40100b,
	)
	orig := append([]byte(nil), table...)

	require.True(t, DeltaEncode(KindRela, table))

	// r_offset: first row absolute, then zigzag deltas.
	require.Equal(t, uint64(0x405000), binary.LittleEndian.Uint64(table[0:]))
	require.Equal(t, Zigzag(0x8), binary.LittleEndian.Uint64(table[24:]))
	require.Equal(t, Zigzag(0x18), binary.LittleEndian.Uint64(table[48:]))
	// r_info is untouched.
	require.Equal(t, uint64(8), binary.LittleEndian.Uint64(table[8:]))
	require.Equal(t, uint64(8), binary.LittleEndian.Uint64(table[32:]))
	require.Equal(t, uint64(8), binary.LittleEndian.Uint64(table[56:]))
	// r_addend is coded, including a negative delta.
	require.Equal(t, uint64(0x401005), binary.LittleEndian.Uint64(table[16:]))
	require.Equal(t, Zigzag(11), binary.LittleEndian.Uint64(table[40:]))
	require.Equal(t, Zigzag(-5), binary.LittleEndian.Uint64(table[64:]))

	require.True(t, DeltaDecode(KindRela, table))
	require.Equal(t, orig, table)
}

func TestDeltaDynamic(t *testing.T) {
	table := le64s(
		uint64(elf.DT_HASH), 0x404000,
		uint64(elf.DT_RELASZ), 72,
		uint64(elf.DT_STRTAB), 0x404100,
		uint64(elf.DT_SYMTAB), 0x404200,
		uint64(elf.DT_NULL), 0,
	)
	orig := append([]byte(nil), table...)

	require.True(t, DeltaEncode(KindDynamic, table))

	// Tags are never rewritten.
	for _, off := range []int{0, 16, 32, 48, 64} {
		require.Equal(t, orig[off:off+8], table[off:off+8], "tag at offset %d", off)
	}
	// Pointer values delta over the pointer subsequence; the size entry in
	// between is skipped and left absolute.
	require.Equal(t, uint64(0x404000), binary.LittleEndian.Uint64(table[8:]))
	require.Equal(t, uint64(72), binary.LittleEndian.Uint64(table[24:]))
	require.Equal(t, Zigzag(0x100), binary.LittleEndian.Uint64(table[40:]))
	require.Equal(t, Zigzag(0x100), binary.LittleEndian.Uint64(table[56:]))

	require.True(t, DeltaDecode(KindDynamic, table))
	require.Equal(t, orig, table)
}

func TestDeltaRelr(t *testing.T) {
	table := le64s(0x405000, 3, 0x405050, 0x405058)
	orig := append([]byte(nil), table...)

	require.True(t, DeltaEncode(KindRelr, table))
	require.Equal(t, uint64(0x405000), binary.LittleEndian.Uint64(table[0:]))
	require.Equal(t, uint64(3), binary.LittleEndian.Uint64(table[8:]), "bitmap entries stay verbatim")
	require.Equal(t, uint64(0x50), binary.LittleEndian.Uint64(table[16:]))
	require.Equal(t, uint64(0x8), binary.LittleEndian.Uint64(table[24:]))

	require.True(t, DeltaDecode(KindRelr, table))
	require.Equal(t, orig, table)
}

func TestDeltaSymRoundTrip(t *testing.T) {
	var table []byte
	for _, s := range []struct{ value, size uint64 }{
		{0, 0},
		{0x401000, 22},
		{0x401016, 5},
		{0x401020, 64},
	} {
		row := make([]byte, 24)
		binary.LittleEndian.PutUint32(row[0:], 1)
		row[4] = 0x12
		binary.LittleEndian.PutUint64(row[8:], s.value)
		binary.LittleEndian.PutUint64(row[16:], s.size)
		table = append(table, row...)
	}
	orig := append([]byte(nil), table...)

	require.True(t, DeltaEncode(KindSym, table))
	require.Equal(t, Zigzag(0x401000), binary.LittleEndian.Uint64(table[24+8:]))
	require.NotEqual(t, orig, table)

	require.True(t, DeltaDecode(KindSym, table))
	require.Equal(t, orig, table)
}

func TestDeltaRaggedTable(t *testing.T) {
	table := make([]byte, 25) // not a whole number of rows
	require.False(t, DeltaEncode(KindRela, table))
	require.False(t, DeltaDecode(KindRela, table))
	require.False(t, DeltaEncode(KindNone, table))
}
