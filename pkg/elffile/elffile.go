// Package elffile loads x86_64 ELF executables from memory and exposes the
// section layout the transform pipeline works on. Every byte of the input
// stays reachable: sections claim their exact file ranges and everything
// between them is left for the caller to carry verbatim.
package elffile

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMalformedHeader is returned when the input is not a little-endian
	// x86_64 ELF executable or shared object.
	ErrMalformedHeader = errors.New("elffile: malformed ELF header")

	// ErrMissingSection is returned when a named section required by a
	// transform is absent from the image.
	ErrMissingSection = errors.New("elffile: missing section")
)

// Section is a claimed region of the file. Off and Size are file positions,
// Addr is the virtual address the region is mapped at (zero for non-alloc
// sections).
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint64
	Off   uint64
	Size  uint64
}

// Executable reports whether the section holds machine code.
func (s *Section) Executable() bool {
	return s.Type == elf.SHT_PROGBITS && s.Flags&elf.SHF_EXECINSTR != 0
}

// Image is a parsed executable. Sections are sorted by file offset and never
// overlap; headers, padding and anything else not claimed by a section live
// in the gaps.
type Image struct {
	elf.FileHeader

	Raw      []byte
	Sections []Section
}

// Load parses raw as a 64-bit little-endian x86_64 ELF executable. Inputs of
// any other class, byte order, machine or type fail with ErrMalformedHeader.
func Load(raw []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHeader, err)
	}
	defer f.Close()

	switch {
	case f.Class != elf.ELFCLASS64:
		return nil, fmt.Errorf("%w: class %s", ErrMalformedHeader, f.Class)
	case f.Data != elf.ELFDATA2LSB:
		return nil, fmt.Errorf("%w: byte order %s", ErrMalformedHeader, f.Data)
	case f.Machine != elf.EM_X86_64:
		return nil, fmt.Errorf("%w: machine %s", ErrMalformedHeader, f.Machine)
	case f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN:
		return nil, fmt.Errorf("%w: type %s", ErrMalformedHeader, f.Type)
	}

	img := &Image{
		FileHeader: f.FileHeader,
		Raw:        raw,
		Sections:   make([]Section, 0, len(f.Sections)),
	}
	for _, sh := range f.Sections {
		if sh.Type == elf.SHT_NULL || sh.Type == elf.SHT_NOBITS {
			continue
		}
		if sh.FileSize == 0 {
			continue
		}
		if sh.Offset >= uint64(len(raw)) || sh.FileSize > uint64(len(raw))-sh.Offset {
			continue
		}
		img.Sections = append(img.Sections, Section{
			Name:  sh.Name,
			Type:  sh.Type,
			Flags: sh.Flags,
			Addr:  sh.Addr,
			Off:   sh.Offset,
			Size:  sh.FileSize,
		})
	}
	sort.SliceStable(img.Sections, func(i, j int) bool {
		return img.Sections[i].Off < img.Sections[j].Off
	})

	// Drop sections that overlap an earlier claim so the remaining set
	// partitions cleanly into claimed ranges and gaps.
	kept := img.Sections[:0]
	var end uint64
	for _, s := range img.Sections {
		if s.Off < end {
			continue
		}
		kept = append(kept, s)
		end = s.Off + s.Size
	}
	img.Sections = kept
	return img, nil
}

// Section returns the section with the given name, or nil.
func (img *Image) Section(name string) *Section {
	for i := range img.Sections {
		if img.Sections[i].Name == name {
			return &img.Sections[i]
		}
	}
	return nil
}

// Text returns the .text section.
func (img *Image) Text() (*Section, error) {
	s := img.Section(".text")
	if s == nil {
		return nil, fmt.Errorf("%w: .text", ErrMissingSection)
	}
	return s, nil
}

// Bytes returns the file bytes claimed by s, aliasing the image buffer.
func (img *Image) Bytes(s *Section) []byte {
	return img.Raw[s.Off : s.Off+s.Size]
}
