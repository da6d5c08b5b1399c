package deadstate

import (
	"github.com/jcrutchvt10/McSema-decompiler/irutil"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// rewriteFunc removes dead stores and forwards redundant loads of the machine
// state record within the basic blocks of f.
func (e *Eliminator) rewriteFunc(f *ir.Func, a *analysis, stats *Stats) {
	remove := make(map[ir.Instruction]bool)
	repl := make(map[value.Value]value.Value)
	for _, block := range f.Blocks {
		e.rewriteBlock(block, a.exit(block), a, remove, repl, stats)
	}
	irutil.ReplaceAll(f, repl)
	stats.NumDeleted += irutil.RemoveInsts(f, remove)
}

// rewriteBlock records the dead stores and redundant loads of the machine
// state record within the given basic block. The block is walked in reverse,
// starting with the live registers on exit of the block.
func (e *Eliminator) rewriteBlock(block *ir.Block, live LiveSet, a *analysis, remove map[ir.Instruction]bool, repl map[value.Value]value.Value, stats *Stats) {
	// Maps from state offset to the next load (in program order) of the
	// offset, for forwarding.
	next := make(map[int]*ir.InstLoad)
	// forget forgets the next loads of the given register.
	forget := func(tag Tag) {
		for off, load := range next {
			if e.tags[load].Reg == tag.Reg {
				delete(next, off)
			}
		}
	}
	if block.Term != nil {
		stats.NumInstsPreOpt++
	}
	for i := len(block.Insts) - 1; i >= 0; i-- {
		stats.NumInstsPreOpt++
		switch inst := block.Insts[i].(type) {
		case *ir.InstCall:
			// Forwarding never crosses a call.
			next = make(map[int]*ir.InstLoad)
			kind, _ := classify(inst)
			switch kind {
			case callIntrinsic:
				stats.NumIntrinsicCalls++
			case callExternal:
				stats.NumExternalCalls++
				live.SetAll()
			case callIndirect:
				stats.NumIndirectCalls++
				live.SetAll()
			case callInternal:
				stats.NumInternalCalls++
				live = a.before(inst)
			}
		case *ir.InstLoad:
			tag := e.tags[inst]
			switch tag.Kind {
			case TagReg:
				// Load-to-load forwarding.
				if later, ok := next[tag.Offset]; ok && later.ElemType.Equal(inst.ElemType) {
					stats.NumLoadLoadForwards++
					repl[later] = inst
					remove[later] = true
				}
				next[tag.Offset] = inst
				live.Set(int(tag.Reg))
			case TagOpaque:
				next = make(map[int]*ir.InstLoad)
				live.SetAll()
			}
		case *ir.InstStore:
			tag := e.tags[inst]
			switch tag.Kind {
			case TagReg:
				reg := e.cat.Reg(tag.Reg)
				switch {
				case !live.Test(int(tag.Reg)):
					// Dead store.
					stats.NumDeadStores++
					remove[inst] = true
				case tag.Size != reg.Size:
					// Partial store; the untouched bytes of the register may
					// still be read.
					live.Set(int(tag.Reg))
				default:
					// Full store, kills the register.
					live.Clear(int(tag.Reg))
					// Store-to-load forwarding.
					if later, ok := next[tag.Offset]; ok && later.ElemType.Equal(inst.Src.Type()) {
						stats.NumStoreLoadForwards++
						repl[later] = inst.Src
						remove[later] = true
					}
				}
				forget(tag)
			case TagOpaque:
				next = make(map[int]*ir.InstLoad)
				live.SetAll()
			}
		}
	}
}
