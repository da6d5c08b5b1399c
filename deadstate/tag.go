package deadstate

import (
	"fmt"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/irutil"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// TagKind specifies the kind of memory accessed by a load or store.
type TagKind uint8

// Tag kinds.
const (
	// Ordinary memory, not part of the machine state record.
	TagMemory TagKind = iota
	// A single register of the machine state record.
	TagReg
	// The machine state record, at a location which cannot be attributed to a
	// single register; treated as an access of every register.
	TagOpaque
)

// Tag identifies the memory accessed by a load or store.
type Tag struct {
	// Tag kind.
	Kind TagKind
	// Top-level register accessed; TagReg only.
	Reg arch.RegID
	// Byte offset within the machine state record; TagReg only.
	Offset int
	// Access size in bytes; TagReg only.
	Size int
}

// String returns the string representation of the tag.
func (tag Tag) String() string {
	switch tag.Kind {
	case TagMemory:
		return "memory"
	case TagOpaque:
		return "opaque"
	}
	return fmt.Sprintf("reg %d [%d:%d]", tag.Reg, tag.Offset, tag.Offset+tag.Size)
}

// MemoryTag is the tag of accesses to ordinary memory.
var MemoryTag = Tag{Kind: TagMemory, Reg: arch.NoReg}

// OpaqueTag is the tag of machine state accesses which cannot be attributed
// to a single register.
var OpaqueTag = Tag{Kind: TagOpaque, Reg: arch.NoReg}

// stateOffset is the byte offset within the machine state record of a value
// derived from the state pointer.
type stateOffset struct {
	off int
	// The offset is not a compile-time constant.
	dynamic bool
}

// Annotate returns the tags of the loads and stores of f. The machine state
// record is the first parameter of f; accesses through pointers derived from
// it are attributed to the register at the accessed offset.
func (e *Eliminator) Annotate(f *ir.Func) map[ir.Instruction]Tag {
	tags := make(map[ir.Instruction]Tag)
	offsets := e.offsets(f)
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			switch inst := inst.(type) {
			case *ir.InstLoad:
				size, ok := e.layout.size(inst.ElemType)
				tags[inst] = e.tag(offsets, inst.Src, size, ok)
			case *ir.InstStore:
				size, ok := e.layout.size(inst.Src.Type())
				tags[inst] = e.tag(offsets, inst.Dst, size, ok)
			}
		}
	}
	return tags
}

// tag returns the tag of an access of the given size through ptr.
func (e *Eliminator) tag(offsets map[value.Value]stateOffset, ptr value.Value, size int, sizeOK bool) Tag {
	so, ok := offsets[ptr]
	if !ok {
		return MemoryTag
	}
	if so.dynamic || !sizeOK || size <= 0 {
		return OpaqueTag
	}
	reg := e.cat.Owner(so.off)
	if reg == arch.NoReg || e.cat.Owner(so.off+size-1) != reg {
		// Padding, or spanning several registers.
		return OpaqueTag
	}
	return Tag{Kind: TagReg, Reg: reg, Offset: so.off, Size: size}
}

// offsets returns the machine state offsets of the values of f derived from
// the state pointer, by tracing address computations, integer conversions
// and join points to a fixed point.
func (e *Eliminator) offsets(f *ir.Func) map[value.Value]stateOffset {
	offsets := make(map[value.Value]stateOffset)
	if len(f.Params) == 0 {
		return offsets
	}
	if _, ok := f.Params[0].Type().(*types.PointerType); !ok {
		return offsets
	}
	offsets[f.Params[0]] = stateOffset{}
	// set records the offset of v and reports whether it changed. Offsets only
	// ever move from absent to constant to dynamic, which bounds the number of
	// rounds.
	set := func(v value.Value, so stateOffset) bool {
		old, ok := offsets[v]
		switch {
		case !ok:
		case old.dynamic:
			return false
		case !so.dynamic && old.off == so.off:
			return false
		default:
			so = stateOffset{dynamic: true}
		}
		offsets[v] = so
		return true
	}
	for progress := true; progress; {
		progress = false
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				v, ok := inst.(value.Value)
				if !ok {
					continue
				}
				so, ok := e.derive(offsets, inst)
				if ok && set(v, so) {
					progress = true
				}
			}
		}
	}
	return offsets
}

// derive returns the state offset of the result of inst, if derived from the
// state pointer.
func (e *Eliminator) derive(offsets map[value.Value]stateOffset, inst ir.Instruction) (stateOffset, bool) {
	switch inst := inst.(type) {
	case *ir.InstGetElementPtr:
		base, ok := offsets[inst.Src]
		if !ok {
			return stateOffset{}, false
		}
		off, ok := e.layout.gepOffset(inst)
		if !ok || base.dynamic {
			return stateOffset{dynamic: true}, true
		}
		return stateOffset{off: base.off + off}, true
	case *ir.InstBitCast:
		so, ok := offsets[inst.From]
		return so, ok
	case *ir.InstPtrToInt:
		so, ok := offsets[inst.From]
		return so, ok
	case *ir.InstIntToPtr:
		so, ok := offsets[inst.From]
		return so, ok
	case *ir.InstTrunc:
		so, ok := offsets[inst.From]
		return so, ok
	case *ir.InstZExt:
		so, ok := offsets[inst.From]
		return so, ok
	case *ir.InstAdd:
		return addOffset(offsets, inst.X, inst.Y)
	case *ir.InstSub:
		x, ok := offsets[inst.X]
		if !ok {
			if _, ok := offsets[inst.Y]; ok {
				// Offset subtracted from a non-state value.
				return stateOffset{dynamic: true}, true
			}
			return stateOffset{}, false
		}
		if c, ok := constIndex(inst.Y); ok && !x.dynamic {
			return stateOffset{off: x.off - c}, true
		}
		return stateOffset{dynamic: true}, true
	case *ir.InstPhi, *ir.InstSelect:
		// Join points take the common offset of their incoming state pointers;
		// a join of state and non-state pointers is dynamic.
		v := inst.(value.Value)
		var res stateOffset
		found, other := false, false
		for _, op := range irutil.Operands(inst) {
			if *op == nil || *op == v || !(*op).Type().Equal(v.Type()) {
				continue
			}
			if _, ok := (*op).(*ir.Block); ok {
				continue
			}
			so, ok := offsets[*op]
			switch {
			case !ok:
				other = true
			case !found:
				res, found = so, true
			case so.dynamic || so.off != res.off:
				res.dynamic = true
			}
		}
		if found && other {
			res.dynamic = true
		}
		return res, found
	}
	return stateOffset{}, false
}

// addOffset returns the state offset of x+y, where x or y is derived from the
// state pointer.
func addOffset(offsets map[value.Value]stateOffset, x, y value.Value) (stateOffset, bool) {
	xo, xok := offsets[x]
	yo, yok := offsets[y]
	switch {
	case xok && yok:
		return stateOffset{dynamic: true}, true
	case yok:
		y, xo = x, yo
	case !xok:
		return stateOffset{}, false
	}
	c, ok := constIndex(y)
	if !ok || xo.dynamic {
		return stateOffset{dynamic: true}, true
	}
	return stateOffset{off: xo.off + c}, true
}
