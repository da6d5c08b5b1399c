// Package irutil provides utility functions for rewriting LLVM IR functions.
package irutil

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// Use is a use of a value by an instruction or terminator.
type Use struct {
	// Using instruction (ir.Instruction) or terminator (ir.Terminator).
	User interface{}
	// Basic block containing the user.
	Block *ir.Block
	// Operand of the user referring to the used value.
	Op *value.Value
}

// Operands returns the mutable operands of the given instruction or
// terminator.
func Operands(user interface{}) []*value.Value {
	if u, ok := user.(interface{ Operands() []*value.Value }); ok {
		return u.Operands()
	}
	return nil
}

// Uses returns the uses of every value used within f.
func Uses(f *ir.Func) map[value.Value][]*Use {
	uses := make(map[value.Value][]*Use)
	visit := func(user interface{}, block *ir.Block) {
		for _, op := range Operands(user) {
			if *op == nil {
				continue
			}
			uses[*op] = append(uses[*op], &Use{User: user, Block: block, Op: op})
		}
	}
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			visit(inst, block)
		}
		if block.Term != nil {
			visit(block.Term, block)
		}
	}
	return uses
}

// ReplaceAllUses replaces every use of old within f with new, and returns the
// number of replaced uses.
func ReplaceAllUses(f *ir.Func, old, new value.Value) int {
	return ReplaceAll(f, map[value.Value]value.Value{old: new})
}

// ReplaceAll replaces every use within f of a key of repl with the
// corresponding value, and returns the number of replaced uses. Chains of
// replacements are followed, so that a value replaced by another replaced
// value ends up with the final replacement.
func ReplaceAll(f *ir.Func, repl map[value.Value]value.Value) int {
	if len(repl) == 0 {
		return 0
	}
	resolve := func(v value.Value) value.Value {
		// Bound the chain length to guard against cycles.
		for i := 0; i <= len(repl); i++ {
			w, ok := repl[v]
			if !ok {
				return v
			}
			v = w
		}
		return v
	}
	n := 0
	visit := func(user interface{}) {
		for _, op := range Operands(user) {
			if *op == nil {
				continue
			}
			if _, ok := repl[*op]; ok {
				*op = resolve(*op)
				n++
			}
		}
	}
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			visit(inst)
		}
		if block.Term != nil {
			visit(block.Term)
		}
	}
	return n
}

// RemoveInsts removes the given instructions from f, and returns the number
// of removed instructions.
func RemoveInsts(f *ir.Func, remove map[ir.Instruction]bool) int {
	if len(remove) == 0 {
		return 0
	}
	n := 0
	for _, block := range f.Blocks {
		insts := block.Insts[:0]
		for _, inst := range block.Insts {
			if remove[inst] {
				n++
				continue
			}
			insts = append(insts, inst)
		}
		// Clear trailing references for the garbage collector.
		for i := len(insts); i < len(block.Insts); i++ {
			block.Insts[i] = nil
		}
		block.Insts = insts
	}
	return n
}

// NumInsts returns the number of instructions and terminators of f.
func NumInsts(f *ir.Func) int {
	n := 0
	for _, block := range f.Blocks {
		n += len(block.Insts)
		if block.Term != nil {
			n++
		}
	}
	return n
}

// ResetIDs clears the local IDs of the unnamed parameters, basic blocks,
// instructions and terminators of f, so that IDs are assigned afresh once
// instructions have been removed.
func ResetIDs(f *ir.Func) {
	reset := func(v interface{}) {
		if n, ok := v.(localVar); ok && n.IsUnnamed() {
			n.SetID(0)
		}
	}
	for _, param := range f.Params {
		reset(param)
	}
	for _, block := range f.Blocks {
		reset(block)
		for _, inst := range block.Insts {
			reset(inst)
		}
		reset(block.Term)
	}
}

// localVar is a local variable with an optional name.
type localVar interface {
	IsUnnamed() bool
	SetID(id int64)
}

// IsPure reports whether the given instruction computes a value without side
// effects and without reading memory.
func IsPure(inst ir.Instruction) bool {
	switch inst.(type) {
	case *ir.InstAdd, *ir.InstSub, *ir.InstMul,
		*ir.InstShl, *ir.InstLShr, *ir.InstAShr,
		*ir.InstAnd, *ir.InstOr, *ir.InstXor,
		*ir.InstTrunc, *ir.InstZExt, *ir.InstSExt,
		*ir.InstBitCast, *ir.InstPtrToInt, *ir.InstIntToPtr,
		*ir.InstGetElementPtr, *ir.InstICmp, *ir.InstSelect:
		return true
	}
	return false
}

// isRemovable reports whether the given instruction may be removed when its
// result is unused.
func isRemovable(inst ir.Instruction) bool {
	if IsPure(inst) {
		return true
	}
	switch inst := inst.(type) {
	case *ir.InstLoad:
		return !inst.Volatile && !inst.Atomic
	case *ir.InstAlloca, *ir.InstPhi:
		return true
	}
	return false
}
