// Package testelf assembles small ELF64 x86_64 images in memory for tests.
// The builder emits a header, a single PT_LOAD program header, the section
// bodies, and a section header table that debug/elf parses without
// complaint. It makes no attempt to produce a runnable binary.
package testelf

import (
	"debug/elf"
	"encoding/binary"
)

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
)

// Section describes one section to place in the image. Addr is used
// verbatim; the file offset is assigned by the builder in insertion order.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Align uint64
	Body  []byte

	// Size overrides sh_size when non-zero. SHT_NOBITS sections occupy no
	// file bytes regardless of Body.
	Size uint64
}

// Builder accumulates sections and emits the image. The zero value is not
// usable; call NewBuilder.
type Builder struct {
	// Base is the load address recorded in the program header.
	Base uint64
	// Machine, Class and Data override the ELF identity fields, letting
	// tests produce images the loader must reject.
	Machine elf.Machine
	Class   elf.Class
	Data    elf.Data
	Type    elf.Type

	sections []Section
}

func NewBuilder() *Builder {
	return &Builder{
		Base:    0x400000,
		Machine: elf.EM_X86_64,
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Type:    elf.ET_EXEC,
	}
}

func (b *Builder) Add(s Section) *Builder {
	b.sections = append(b.sections, s)
	return b
}

// Section returns the body previously added under name, or nil.
func (b *Builder) Section(name string) []byte {
	for i := range b.sections {
		if b.sections[i].Name == name {
			return b.sections[i].Body
		}
	}
	return nil
}

func align(off, alignment uint64) uint64 {
	if alignment < 2 {
		return off
	}
	return (off + alignment - 1) &^ (alignment - 1)
}

// Build lays the image out and returns its bytes.
func (b *Builder) Build() []byte {
	type placed struct {
		Section
		off  uint64
		size uint64
	}

	// Section bodies follow the headers in insertion order.
	off := uint64(ehdrSize + phdrSize)
	laid := make([]placed, 0, len(b.sections))
	for _, s := range b.sections {
		a := s.Align
		if a == 0 {
			a = 8
		}
		off = align(off, a)
		p := placed{Section: s, off: off, size: uint64(len(s.Body))}
		if s.Size != 0 {
			p.size = s.Size
		}
		if s.Type != elf.SHT_NOBITS {
			off += uint64(len(s.Body))
		}
		laid = append(laid, p)
	}

	// .shstrtab body: \0 then each name then ".shstrtab".
	shstrtab := []byte{0}
	nameOff := make([]uint32, len(laid))
	for i, p := range laid {
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, p.Name...)
		shstrtab = append(shstrtab, 0)
	}
	shstrtabNameOff := uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)

	shstrtabOff := off
	off += uint64(len(shstrtab))
	shoff := align(off, 8)

	shnum := len(laid) + 2 // null + sections + .shstrtab
	total := shoff + uint64(shnum*shdrSize)
	img := make([]byte, total)

	le := binary.LittleEndian

	// ELF header.
	copy(img[0:4], elf.ELFMAG)
	img[4] = byte(b.Class)
	img[5] = byte(b.Data)
	img[6] = byte(elf.EV_CURRENT)
	le.PutUint16(img[16:], uint16(b.Type))
	le.PutUint16(img[18:], uint16(b.Machine))
	le.PutUint32(img[20:], uint32(elf.EV_CURRENT))
	var entry uint64
	for _, p := range laid {
		if p.Name == ".text" {
			entry = p.Addr
		}
	}
	le.PutUint64(img[24:], entry)             // e_entry
	le.PutUint64(img[32:], ehdrSize)          // e_phoff
	le.PutUint64(img[40:], shoff)             // e_shoff
	le.PutUint16(img[52:], ehdrSize)          // e_ehsize
	le.PutUint16(img[54:], phdrSize)          // e_phentsize
	le.PutUint16(img[56:], 1)                 // e_phnum
	le.PutUint16(img[58:], shdrSize)          // e_shentsize
	le.PutUint16(img[60:], uint16(shnum))     // e_shnum
	le.PutUint16(img[62:], uint16(shnum-1))   // e_shstrndx

	// Single PT_LOAD covering the whole file.
	ph := img[ehdrSize:]
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_X))
	le.PutUint64(ph[16:], b.Base) // p_vaddr
	le.PutUint64(ph[24:], b.Base) // p_paddr
	le.PutUint64(ph[32:], total)  // p_filesz
	le.PutUint64(ph[40:], total)  // p_memsz
	le.PutUint64(ph[48:], 0x1000) // p_align

	for _, p := range laid {
		if p.Type != elf.SHT_NOBITS {
			copy(img[p.off:], p.Body)
		}
	}
	copy(img[shstrtabOff:], shstrtab)

	// Section header table: index 0 stays zero.
	writeShdr := func(idx int, nameOff uint32, typ elf.SectionType, flags elf.SectionFlag, addr, off, size, alignment uint64) {
		sh := img[shoff+uint64(idx*shdrSize):]
		le.PutUint32(sh[0:], nameOff)
		le.PutUint32(sh[4:], uint32(typ))
		le.PutUint64(sh[8:], uint64(flags))
		le.PutUint64(sh[16:], addr)
		le.PutUint64(sh[24:], off)
		le.PutUint64(sh[32:], size)
		le.PutUint64(sh[48:], alignment)
	}
	for i, p := range laid {
		a := p.Align
		if a == 0 {
			a = 8
		}
		writeShdr(i+1, nameOff[i], p.Type, p.Flags, p.Addr, p.off, p.size, a)
	}
	writeShdr(shnum-1, shstrtabNameOff, elf.SHT_STRTAB, 0, 0, shstrtabOff, uint64(len(shstrtab)), 1)

	return img
}
