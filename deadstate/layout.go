package deadstate

import (
	"strconv"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// layout computes the store sizes and field offsets of LLVM IR types.
type layout struct {
	// Pointer size in bytes.
	ptrSize int
}

// newLayout returns the type layout of the given module, based on its data
// layout string. Pointers are 8 bytes unless the data layout states
// otherwise.
func newLayout(m *ir.Module) layout {
	l := layout{ptrSize: 8}
	for _, spec := range strings.Split(m.DataLayout, "-") {
		// Address space 0 pointer specification, e.g. "p:32:32".
		if !strings.HasPrefix(spec, "p:") {
			continue
		}
		parts := strings.Split(spec, ":")
		if bits, err := strconv.Atoi(parts[1]); err == nil && bits > 0 {
			l.ptrSize = bits / 8
		}
	}
	return l
}

// size returns the store size in bytes of the given type.
func (l layout) size(t types.Type) (int, bool) {
	switch t := t.(type) {
	case *types.IntType:
		return int(t.BitSize+7) / 8, true
	case *types.PointerType:
		return l.ptrSize, true
	case *types.ArrayType:
		n, ok := l.size(t.ElemType)
		if !ok {
			return 0, false
		}
		return n * int(t.Len), true
	case *types.StructType:
		off, ok := l.fieldOffset(t, len(t.Fields))
		if !ok {
			return 0, false
		}
		if !t.Packed {
			off = alignTo(off, l.align(t))
		}
		return off, true
	}
	return 0, false
}

// align returns the ABI alignment in bytes of the given type.
func (l layout) align(t types.Type) int {
	switch t := t.(type) {
	case *types.ArrayType:
		return l.align(t.ElemType)
	case *types.StructType:
		if t.Packed {
			return 1
		}
		a := 1
		for _, field := range t.Fields {
			if fa := l.align(field); fa > a {
				a = fa
			}
		}
		return a
	}
	n, ok := l.size(t)
	if !ok || n <= 0 {
		return 1
	}
	// Round up to a power of two.
	a := 1
	for a < n && a < 16 {
		a <<= 1
	}
	return a
}

// fieldOffset returns the byte offset of the given field of a structure
// type. A field index equal to the number of fields yields the end offset of
// the last field.
func (l layout) fieldOffset(t *types.StructType, index int) (int, bool) {
	if index < 0 || index > len(t.Fields) {
		return 0, false
	}
	off := 0
	for i, field := range t.Fields {
		if !t.Packed {
			off = alignTo(off, l.align(field))
		}
		if i == index {
			return off, true
		}
		n, ok := l.size(field)
		if !ok {
			return 0, false
		}
		off += n
	}
	return off, true
}

// gepOffset returns the constant byte offset computed by the given
// getelementptr instruction relative to its source pointer.
func (l layout) gepOffset(gep *ir.InstGetElementPtr) (int, bool) {
	if len(gep.Indices) == 0 {
		return 0, true
	}
	idx, ok := constIndex(gep.Indices[0])
	if !ok {
		return 0, false
	}
	n, ok := l.size(gep.ElemType)
	if !ok {
		return 0, false
	}
	off := idx * n
	t := gep.ElemType
	for _, index := range gep.Indices[1:] {
		idx, ok := constIndex(index)
		if !ok {
			return 0, false
		}
		switch tt := t.(type) {
		case *types.StructType:
			fo, ok := l.fieldOffset(tt, idx)
			if !ok || idx >= len(tt.Fields) {
				return 0, false
			}
			off += fo
			t = tt.Fields[idx]
		case *types.ArrayType:
			n, ok := l.size(tt.ElemType)
			if !ok {
				return 0, false
			}
			off += idx * n
			t = tt.ElemType
		default:
			return 0, false
		}
	}
	return off, true
}

// ### [ Helper functions ] ####################################################

// constIndex returns the value of the given constant integer index.
func constIndex(v value.Value) (int, bool) {
	c, ok := v.(*constant.Int)
	if !ok || !c.X.IsInt64() {
		return 0, false
	}
	return int(c.X.Int64()), true
}

// alignTo rounds x up to a multiple of n.
func alignTo(x, n int) int {
	if n <= 1 {
		return x
	}
	return (x + n - 1) / n * n
}
