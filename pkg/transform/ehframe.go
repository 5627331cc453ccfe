package transform

import "encoding/binary"

// DWARF pointer encodings accepted for the .eh_frame_hdr binary search
// table. Anything else falls back to the generic run scan.
const (
	encPcrelSdata4   = 0x1b // DW_EH_PE_pcrel | DW_EH_PE_sdata4
	encDatarelSdata4 = 0x3b // DW_EH_PE_datarel | DW_EH_PE_sdata4
)

// encSize returns the byte width of a DWARF-encoded pointer field, or -1
// when the width is not fixed (LEB128 variants) or the encoding is unknown.
func encSize(enc byte) int {
	if enc == 0xff { // DW_EH_PE_omit
		return 0
	}
	switch enc & 0x0f {
	case 0x00: // DW_EH_PE_absptr
		return 8
	case 0x02, 0x0a: // udata2, sdata2
		return 2
	case 0x03, 0x0b: // udata4, sdata4
		return 4
	case 0x04, 0x0c: // udata8, sdata8
		return 8
	}
	return -1
}

// unwindTable locates the binary search table of a version-1 .eh_frame_hdr
// section. It returns the byte offset of the first table cell and the number
// of 4-byte cells, or ok=false when the layout is not one the rewrite
// handles. Only the table cells are ever rewritten; the header fields in
// front of them keep their encoding, so the inverse can re-run this parse on
// the transformed bytes.
func unwindTable(hdr []byte) (tableOff, cells int, datarel bool, ok bool) {
	if len(hdr) < 8 || hdr[0] != 1 {
		return 0, 0, false, false
	}
	switch hdr[3] {
	case encPcrelSdata4:
	case encDatarelSdata4:
		datarel = true
	default:
		return 0, 0, false, false
	}
	ptrSize := encSize(hdr[1])
	if ptrSize < 0 || encSize(hdr[2]) != 4 {
		return 0, 0, false, false
	}
	countOff := 4 + ptrSize
	if countOff+4 > len(hdr) {
		return 0, 0, false, false
	}
	fdeCount := binary.LittleEndian.Uint32(hdr[countOff:])
	tableOff = countOff + 4
	cells = 2 * int(fdeCount)
	if fdeCount == 0 || uint64(cells)*4 > uint64(len(hdr)-tableOff) {
		return 0, 0, false, false
	}
	return tableOff, cells, datarel, true
}

// NormalizeUnwindTable rewrites the sorted search table of a .eh_frame_hdr
// section, mapped at va, from sdata4 offsets to absolute 32-bit addresses.
// Both columns are rewritten: initial PC locations and FDE addresses. It
// reports whether the section was recognized and rewritten.
func NormalizeUnwindTable(hdr []byte, va uint64) bool {
	return rewriteUnwindTable(hdr, va, false)
}

// DenormalizeUnwindTable inverts NormalizeUnwindTable. It re-parses the
// header, which the rewrite left untouched, and reports whether the parse
// succeeded.
func DenormalizeUnwindTable(hdr []byte, va uint64) bool {
	return rewriteUnwindTable(hdr, va, true)
}

func rewriteUnwindTable(hdr []byte, va uint64, invert bool) bool {
	tableOff, cells, datarel, ok := unwindTable(hdr)
	if !ok {
		return false
	}
	for k := 0; k < cells; k++ {
		cell := hdr[tableOff+4*k:][:4]
		base := uint32(va)
		if !datarel {
			// pcrel: each cell is relative to its own address.
			base += uint32(tableOff + 4*k)
		}
		v := binary.LittleEndian.Uint32(cell)
		if invert {
			v -= base
		} else {
			v += base
		}
		binary.LittleEndian.PutUint32(cell, v)
	}
	return true
}
