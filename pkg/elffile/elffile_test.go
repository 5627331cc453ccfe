package elffile

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/fesh/pkg/testelf"
)

func TestLoadSample(t *testing.T) {
	img, err := Load(testelf.Sample())
	require.NoError(t, err)
	require.Equal(t, elf.EM_X86_64, img.Machine)

	text, err := img.Text()
	require.NoError(t, err)
	require.True(t, text.Executable())
	require.Equal(t, uint64(testelf.SampleTextVA), text.Addr)
	require.Equal(t, testelf.SampleText(), img.Bytes(text))

	require.NotNil(t, img.Section(".rodata"))
	require.NotNil(t, img.Section(".eh_frame_hdr"))
	require.Nil(t, img.Section(".no.such.section"))

	var end uint64
	for _, s := range img.Sections {
		require.GreaterOrEqual(t, s.Off, end, "section %s overlaps its predecessor", s.Name)
		require.NotZero(t, s.Size)
		end = s.Off + s.Size
	}
	require.LessOrEqual(t, end, uint64(len(testelf.Sample())))
}

func buildWith(mut func(*testelf.Builder)) []byte {
	b := testelf.NewBuilder().Add(testelf.Section{
		Name:  ".text",
		Type:  elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
		Addr:  0x401000,
		Body:  []byte{0xc3},
	})
	mut(b)
	return b.Build()
}

func TestLoadMalformed(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"not elf", []byte("this is not an executable at all")},
		{"truncated header", testelf.Sample()[:48]},
		{"wrong machine", buildWith(func(b *testelf.Builder) { b.Machine = elf.EM_AARCH64 })},
		{"wrong class", buildWith(func(b *testelf.Builder) { b.Class = elf.ELFCLASS32 })},
		{"wrong byte order", buildWith(func(b *testelf.Builder) { b.Data = elf.ELFDATA2MSB })},
		{"relocatable object", buildWith(func(b *testelf.Builder) { b.Type = elf.ET_REL })},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.raw)
			require.ErrorIs(t, err, ErrMalformedHeader)
		})
	}
}

func TestLoadSkipsUnclaimableSections(t *testing.T) {
	raw := buildWith(func(b *testelf.Builder) {
		b.Add(testelf.Section{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC, Addr: 0x405000, Size: 0x1000})
		b.Add(testelf.Section{Name: ".empty", Type: elf.SHT_PROGBITS})
		b.Add(testelf.Section{Name: ".beyond.eof", Type: elf.SHT_PROGBITS, Body: []byte{1, 2, 3, 4}, Size: 1 << 20})
	})
	img, err := Load(raw)
	require.NoError(t, err)
	require.Nil(t, img.Section(".bss"))
	require.Nil(t, img.Section(".empty"))
	require.Nil(t, img.Section(".beyond.eof"))
	require.NotNil(t, img.Section(".text"))
}

func TestLoadDropsOverlap(t *testing.T) {
	// .grown claims 64 bytes but only 8 follow it in the file, so the next
	// section's range falls inside the claim and must be dropped.
	raw := buildWith(func(b *testelf.Builder) {
		b.Add(testelf.Section{Name: ".grown", Type: elf.SHT_PROGBITS, Body: make([]byte, 8), Size: 64})
		b.Add(testelf.Section{Name: ".swallowed", Type: elf.SHT_PROGBITS, Body: make([]byte, 8)})
	})
	img, err := Load(raw)
	require.NoError(t, err)
	require.NotNil(t, img.Section(".grown"))
	require.Nil(t, img.Section(".swallowed"))
}

func TestTextMissing(t *testing.T) {
	raw := testelf.NewBuilder().Add(testelf.Section{
		Name: ".rodata", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC,
		Addr: 0x402000, Body: []byte("data only"),
	}).Build()
	img, err := Load(raw)
	require.NoError(t, err)
	_, err = img.Text()
	require.ErrorIs(t, err, ErrMissingSection)
}
