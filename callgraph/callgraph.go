// Package callgraph exports the call graph and control flow graphs of lifted
// LLVM IR modules as lattice graphs.
package callgraph

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
	"github.com/zboralski/lattice"
)

// Callee name of calls through function pointers.
const indirect = "<indirect>"

// Build constructs a lattice.Graph from the functions of m. Each function
// definition becomes a node. Each call instruction becomes an edge from the
// calling function to the callee, which may be a declaration.
func Build(m *ir.Module) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		g.Nodes = append(g.Nodes, f.Name())
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				call, ok := inst.(*ir.InstCall)
				if !ok {
					continue
				}
				g.Edges = append(g.Edges, lattice.Edge{
					Caller: f.Name(),
					Callee: calleeName(call.Callee),
				})
			}
		}
	}
	g.Dedup()
	return g
}

// calleeName returns the name of the given callee, looking through bitcasts.
func calleeName(callee value.Value) string {
	switch callee := callee.(type) {
	case *ir.Func:
		return callee.Name()
	case *constant.ExprBitCast:
		return calleeName(callee.From)
	}
	return indirect
}
