package lift

import (
	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
)

// stateTypeName is the name of the machine state record type.
const stateTypeName = "struct.State"

// stateLayout is the LLVM IR layout of the machine state record.
type stateLayout struct {
	// Machine state record type.
	typ *types.StructType
	// Pointer to machine state record type.
	ptr *types.PointerType
	// Maps from top-level register to field index.
	fields map[arch.RegID]int
}

// newStateLayout defines the machine state record type of the given register
// catalog in m. The record is packed; every top-level register is a field at
// its catalog offset, and gaps are filled with byte array padding fields.
func newStateLayout(m *ir.Module, cat *arch.Catalog) *stateLayout {
	layout := &stateLayout{
		fields: make(map[arch.RegID]int),
	}
	var fields []types.Type
	off := 0
	pad := func(n int) {
		if n > 0 {
			fields = append(fields, types.NewArray(uint64(n), types.I8))
		}
	}
	for _, reg := range cat.Tops() {
		pad(reg.Offset - off)
		layout.fields[reg.ID] = len(fields)
		fields = append(fields, types.NewInt(uint64(reg.Size*8)))
		off = reg.End()
	}
	pad(cat.Size() - off)
	st := types.NewStruct(fields...)
	st.Packed = true
	m.NewTypeDef(stateTypeName, st)
	layout.typ = st
	layout.ptr = types.NewPointer(st)
	return layout
}
