// Package transform implements the reversible byte rewrites applied to
// individual streams before compression. Code and unwind table normalization
// are positionally self-describing: the inverse walk re-derives the rewrite
// sites from the transformed bytes and the stream's mapped address. Jump
// table runs are recorded explicitly, and metadata tables are delta coded
// column by column.
package transform

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"
)

// NormalizeCode rewrites every 4-byte PC-relative field in code, both near
// branch targets and RIP-relative displacements, from an offset against the
// next instruction to the absolute virtual address it refers to, truncated
// to 32 bits. va is the address code is mapped at. Bytes that do not decode
// as an instruction are skipped one at a time and left untouched, which
// keeps the walk deterministic for the inverse. Returns the number of
// rewritten fields.
func NormalizeCode(code []byte, va uint64) int {
	return rewriteCode(code, va, false)
}

// DenormalizeCode inverts NormalizeCode over the rewritten bytes. The
// rewrites only ever change displacement values, never instruction
// boundaries, so the inverse walk visits the same sites.
func DenormalizeCode(code []byte, va uint64) int {
	return rewriteCode(code, va, true)
}

func rewriteCode(code []byte, va uint64, invert bool) int {
	var n int
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			off++
			continue
		}
		if inst.PCRel == 4 {
			field := code[off+inst.PCRelOff:][:4]
			next := uint32(va) + uint32(off+inst.Len)
			v := binary.LittleEndian.Uint32(field)
			if invert {
				v -= next
			} else {
				v += next
			}
			binary.LittleEndian.PutUint32(field, v)
			n++
		}
		off += inst.Len
	}
	return n
}

// InsnSite locates one IP-relative field the rewrite pass would touch. The
// field is always 4 bytes wide; instructions without one produce no site.
type InsnSite struct {
	Off      uint64 // instruction offset within the stream
	Len      int    // instruction length
	FieldOff int    // field offset within the instruction
	Target   uint64 // absolute address the field refers to
	RIPRel   bool   // RIP-relative operand rather than a near branch
}

// CodeSites walks untransformed code exactly as NormalizeCode would and
// returns the rewrite sites in offset order.
func CodeSites(code []byte, va uint64) []InsnSite {
	var sites []InsnSite
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			off++
			continue
		}
		if inst.PCRel == 4 {
			rel := binary.LittleEndian.Uint32(code[off+inst.PCRelOff:][:4])
			sites = append(sites, InsnSite{
				Off:      uint64(off),
				Len:      inst.Len,
				FieldOff: inst.PCRelOff,
				Target:   uint64(uint32(va) + uint32(off+inst.Len) + rel),
				RIPRel:   ripRelative(inst),
			})
		}
		off += inst.Len
	}
	return sites
}

// CodeStats summarizes one walk over a code stream without modifying it.
type CodeStats struct {
	Instructions int
	Branches     int
	RIPRelative  int
	OpaqueBytes  int
}

// AnalyzeCode walks code exactly as NormalizeCode would and reports what the
// rewrite pass would touch.
func AnalyzeCode(code []byte, va uint64) CodeStats {
	var st CodeStats
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 {
			st.OpaqueBytes++
			off++
			continue
		}
		st.Instructions++
		if inst.PCRel == 4 {
			if ripRelative(inst) {
				st.RIPRelative++
			} else {
				st.Branches++
			}
		}
		off += inst.Len
	}
	return st
}

func ripRelative(inst x86asm.Inst) bool {
	for _, a := range inst.Args {
		if m, ok := a.(x86asm.Mem); ok && m.Base == x86asm.RIP {
			return true
		}
	}
	return false
}
