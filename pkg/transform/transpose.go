package transform

// Transpose rewrites b in place from row-major to column-major order with
// the given row stride, grouping each column's bytes together so that the
// near-constant high bytes of table entries become long uniform byte runs.
// A trailing partial row stays where it is. Reports whether b changed;
// fewer than two full rows transpose to themselves.
func Transpose(b []byte, stride int) bool {
	rows, ok := transposable(b, stride)
	if !ok {
		return false
	}
	tmp := make([]byte, rows*stride)
	for i := 0; i < rows; i++ {
		for j := 0; j < stride; j++ {
			tmp[j*rows+i] = b[i*stride+j]
		}
	}
	copy(b, tmp)
	return true
}

// Untranspose inverts Transpose for the same stride.
func Untranspose(b []byte, stride int) bool {
	rows, ok := transposable(b, stride)
	if !ok {
		return false
	}
	tmp := make([]byte, rows*stride)
	for i := 0; i < rows; i++ {
		for j := 0; j < stride; j++ {
			tmp[i*stride+j] = b[j*rows+i]
		}
	}
	copy(b, tmp)
	return true
}

func transposable(b []byte, stride int) (rows int, ok bool) {
	if stride <= 1 {
		return 0, false
	}
	rows = len(b) / stride
	return rows, rows >= 2
}
