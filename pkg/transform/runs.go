package transform

import "encoding/binary"

// runMinCells is the shortest cell sequence worth recording as a run.
// Shorter matches are overwhelmingly coincidental data and rewriting them
// costs more side metadata than the rewrite saves.
const runMinCells = 3

// Run is a maximal sequence of consecutive 4-byte jump table cells, located
// by byte offset within its stream.
type Run struct {
	Off   uint64
	Count uint32
}

// FindRuns scans data, mapped at va, for runs of at least runMinCells
// consecutive little-endian 4-byte cells whose value, read as a signed
// offset from the cell's own address, lands inside the half-open text range
// [lo, hi). Cells are probed at every 4-byte step from the start of data.
func FindRuns(data []byte, va, lo, hi uint64) []Run {
	if hi <= lo {
		return nil
	}
	var (
		runs  []Run
		start = -1
	)
	flush := func(end int) {
		if start >= 0 {
			if n := uint32((end - start) / 4); n >= runMinCells {
				runs = append(runs, Run{Off: uint64(start), Count: n})
			}
		}
		start = -1
	}
	for i := 0; i+4 <= len(data); i += 4 {
		v := int32(binary.LittleEndian.Uint32(data[i:]))
		target := va + uint64(i) + uint64(int64(v))
		if target >= lo && target < hi {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data) &^ 3)
	return runs
}

// ResolveRuns rewrites every cell of each run from an entry-relative offset
// to the absolute target address, truncated to 32 bits. The caller is
// responsible for passing runs that FindRuns produced for the same data
// and va.
func ResolveRuns(data []byte, va uint64, runs []Run) {
	rewriteRuns(data, va, runs, false)
}

// RestoreRuns inverts ResolveRuns.
func RestoreRuns(data []byte, va uint64, runs []Run) {
	rewriteRuns(data, va, runs, true)
}

func rewriteRuns(data []byte, va uint64, runs []Run, invert bool) {
	for _, r := range runs {
		for k := uint32(0); k < r.Count; k++ {
			cell := data[r.Off+uint64(4*k):][:4]
			entry := uint32(va) + uint32(r.Off) + 4*k
			v := binary.LittleEndian.Uint32(cell)
			if invert {
				v -= entry
			} else {
				v += entry
			}
			binary.LittleEndian.PutUint32(cell, v)
		}
	}
}
