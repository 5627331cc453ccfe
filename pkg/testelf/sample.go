package testelf

import (
	"debug/elf"
	"encoding/binary"
)

// Sample VAs, exported so tests can assert against exact rewrite values.
const (
	SampleTextVA   = 0x401000
	SampleRodataVA = 0x402000
	SampleEhHdrVA  = 0x402040
	SampleEhVA     = 0x402080
	SampleDynVA    = 0x403000
)

// SampleText is 34 bytes of hand-assembled x86_64: a call, a RIP-relative
// load, a conditional and an unconditional near jump, plus two bytes that do
// not decode in 64-bit mode.
func SampleText() []byte {
	return []byte{
		0x55,                                     // push rbp
		0x48, 0x89, 0xe5,                         // mov rbp, rsp
		0xe8, 0x14, 0x00, 0x00, 0x00,             // call .+0x14
		0x48, 0x8b, 0x05, 0x21, 0x00, 0x00, 0x00, // mov rax, [rip+0x21]
		0x0f, 0x84, 0x05, 0x00, 0x00, 0x00,       // je .+5
		0xe9, 0xf0, 0xff, 0xff, 0xff,             // jmp .-0x10
		0x31, 0xc0,                               // xor eax, eax
		0x5d,                                     // pop rbp
		0xc3,                                     // ret
		0x06, 0x06,                               // invalid in 64-bit mode
		0x90,                                     // nop
	}
}

func le32(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func le64(vs ...uint64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], v)
	}
	return b
}

func rel32(target, cellVA uint64) uint32 {
	return uint32(target) - uint32(cellVA)
}

// SampleRodata starts with a four-entry jump table of entry-relative rel32
// cells targeting SampleText, followed by string bytes that do not qualify.
func SampleRodata() []byte {
	b := le32(
		rel32(SampleTextVA+0x05, SampleRodataVA+0),
		rel32(SampleTextVA+0x0b, SampleRodataVA+4),
		rel32(SampleTextVA+0x10, SampleRodataVA+8),
		rel32(SampleTextVA+0x15, SampleRodataVA+12),
	)
	b = append(b, []byte("hello, fesh\x00")...)
	return b
}

// SampleEhFrameHdr is a version-1 header with sdata4 datarel table encoding
// (0x3b) and two binary-search pairs.
func SampleEhFrameHdr() []byte {
	b := []byte{1, 0x1b, 0x03, 0x3b}
	b = append(b, le32(rel32(SampleEhVA, SampleEhHdrVA+4))...) // eh_frame_ptr, pcrel
	b = append(b, le32(2)...)                                  // fde_count, udata4
	b = append(b, le32(
		rel32(SampleTextVA, SampleEhHdrVA),      // initial location, datarel
		rel32(SampleEhVA, SampleEhHdrVA),        // FDE address, datarel
		rel32(SampleTextVA+0x10, SampleEhHdrVA), // initial location
		rel32(SampleEhVA+0x18, SampleEhHdrVA),   // FDE address
	)...)
	return b
}

// Sample builds an executable image covering every stream tag: code with
// rewritable instructions, a jump table in .rodata, a parseable
// .eh_frame_hdr, delta-eligible metadata tables, string tables, and sections
// the engine stores opaque.
func Sample() []byte {
	relType := uint64(8) // R_X86_64_RELATIVE

	dynsym := make([]byte, 24) // null symbol
	dynsym = append(dynsym, symRow(1, 0x12, 1, SampleTextVA, 16)...)
	dynsym = append(dynsym, symRow(5, 0x12, 1, SampleTextVA+0x10, 8)...)

	symtab := make([]byte, 24)
	symtab = append(symtab, symRow(1, 0x12, 1, SampleTextVA, 22)...)
	symtab = append(symtab, symRow(6, 0x12, 1, SampleTextVA+0x16, 5)...)

	return NewBuilder().
		Add(Section{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
			Addr: SampleTextVA, Align: 16, Body: SampleText()}).
		Add(Section{Name: ".rodata", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC,
			Addr: SampleRodataVA, Align: 8, Body: SampleRodata()}).
		Add(Section{Name: ".eh_frame_hdr", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC,
			Addr: SampleEhHdrVA, Align: 4, Body: SampleEhFrameHdr()}).
		Add(Section{Name: ".eh_frame", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC,
			Addr: SampleEhVA, Align: 8, Body: []byte{
				0x14, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x7a, 0x52, 0x00,
				0x01, 0x78, 0x10, 0x01, 0x1b, 0x0c, 0x07, 0x08, 0x90, 0x01, 0, 0,
			}}).
		Add(Section{Name: ".dynamic", Type: elf.SHT_DYNAMIC, Flags: elf.SHF_ALLOC,
			Addr: SampleDynVA, Align: 8, Body: le64(
				uint64(elf.DT_HASH), 0x404000,
				uint64(elf.DT_STRTAB), 0x404100,
				uint64(elf.DT_SYMTAB), 0x404200,
				uint64(elf.DT_RELA), 0x404300,
				uint64(elf.DT_RELASZ), 72,
				uint64(elf.DT_RELAENT), 24,
				uint64(elf.DT_NULL), 0,
			)}).
		Add(Section{Name: ".rela.dyn", Type: elf.SHT_RELA, Flags: elf.SHF_ALLOC,
			Addr: 0x404300, Align: 8, Body: le64(
				0x405000, relType, SampleTextVA+0x05,
				0x405008, relType, SampleTextVA+0x10,
				0x405018, relType, SampleTextVA+0x0b,
			)}).
		Add(Section{Name: ".relr.dyn", Type: elf.SectionType(19), Flags: elf.SHF_ALLOC, // SHT_RELR
			Addr: 0x404400, Align: 8, Body: le64(0x405000, 3, 0x405050, 0x405058)}).
		Add(Section{Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC,
			Addr: 0x404200, Align: 8, Body: dynsym}).
		Add(Section{Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC,
			Addr: 0x404100, Align: 1, Body: []byte("\x00foo\x00bar\x00")}).
		Add(Section{Name: ".symtab", Type: elf.SHT_SYMTAB,
			Align: 8, Body: symtab}).
		Add(Section{Name: ".strtab", Type: elf.SHT_STRTAB,
			Align: 1, Body: []byte("\x00main\x00frob\x00")}).
		Add(Section{Name: ".note.sample", Type: elf.SHT_NOTE, Flags: elf.SHF_ALLOC,
			Addr: 0x400200, Align: 4, Body: le32(4, 4, 1, 0x46455348, 0xdeadbeef)}).
		Add(Section{Name: ".comment", Type: elf.SHT_PROGBITS,
			Align: 1, Body: []byte("fesh: test image\x00")}).
		Build()
}

func symRow(name uint32, info byte, shndx uint16, value, size uint64) []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint32(b[0:], name)
	b[4] = info
	binary.LittleEndian.PutUint16(b[6:], shndx)
	binary.LittleEndian.PutUint64(b[8:], value)
	binary.LittleEndian.PutUint64(b[16:], size)
	return b
}
