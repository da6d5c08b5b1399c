package callgraph

import (
	"github.com/llir/llvm/ir"
	"github.com/zboralski/lattice"
)

// BuildCFG constructs a lattice.CFGGraph from the function definitions of m.
func BuildCFG(m *ir.Module) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		cg.Funcs = append(cg.Funcs, BuildFuncCFG(f))
	}
	return cg
}

// BuildFuncCFG maps the basic blocks of f to a lattice.FuncCFG. Block start
// and end offsets index the instructions of f in layout order, terminators
// included.
func BuildFuncCFG(f *ir.Func) *lattice.FuncCFG {
	index := make(map[*ir.Block]int, len(f.Blocks))
	for i, block := range f.Blocks {
		index[block] = i
	}
	lcfg := &lattice.FuncCFG{Name: f.Name()}
	offset := 0
	for i, block := range f.Blocks {
		lb := &lattice.BasicBlock{
			ID:    i,
			Start: offset,
		}
		for j, inst := range block.Insts {
			if call, ok := inst.(*ir.InstCall); ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: offset + j,
					Callee: calleeName(call.Callee),
				})
			}
		}
		offset += len(block.Insts) + 1
		lb.End = offset
		lb.Succs = succs(block, index)
		lb.Term = len(lb.Succs) == 0
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// succs returns the successor edges of the given basic block. Conditional
// branches are labeled "T" and "F"; other successors are unconditional.
func succs(block *ir.Block, index map[*ir.Block]int) []lattice.Successor {
	var res []lattice.Successor
	switch term := block.Term.(type) {
	case nil:
		return nil
	case *ir.TermCondBr:
		t, tok := targetIndex(term.TargetTrue, index)
		f, fok := targetIndex(term.TargetFalse, index)
		if tok {
			res = append(res, lattice.Successor{BlockID: t, Cond: "T"})
		}
		if fok {
			res = append(res, lattice.Successor{BlockID: f, Cond: "F"})
		}
		return res
	}
	for _, succ := range block.Term.Succs() {
		if i, ok := index[succ]; ok {
			res = append(res, lattice.Successor{BlockID: i})
		}
	}
	return res
}

// targetIndex returns the block index of the given branch target.
func targetIndex(target interface{}, index map[*ir.Block]int) (int, bool) {
	block, ok := target.(*ir.Block)
	if !ok {
		return 0, false
	}
	i, ok := index[block]
	return i, ok
}
