package callgraph

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// newModule returns a module of the form:
//
//	sub_1000:
//	  entry:  call sub_2000; br cond, then, exit
//	  then:   call puts; call puts; br exit
//	  exit:   ret
//	sub_2000:
//	  entry:  call (fnptr); ret
func newModule() *ir.Module {
	m := ir.NewModule()
	puts := m.NewFunc("puts", types.Void)
	main := m.NewFunc("sub_1000", types.Void)
	callee := m.NewFunc("sub_2000", types.Void)

	entry := main.NewBlock("entry")
	then := main.NewBlock("then")
	exit := main.NewBlock("exit")
	entry.NewCall(callee)
	entry.NewCondBr(constant.True, then, exit)
	then.NewCall(puts)
	then.NewCall(puts)
	then.NewBr(exit)
	exit.NewRet(nil)

	centry := callee.NewBlock("entry")
	fnptr := centry.NewIntToPtr(constant.NewInt(types.I32, 0x3000), types.NewPointer(types.NewFunc(types.Void)))
	centry.NewCall(fnptr)
	centry.NewRet(nil)
	return m
}

func TestBuild(t *testing.T) {
	g := Build(newModule())
	assert.Subset(t, g.Nodes, []string{"sub_1000", "sub_2000"})
	assert.ElementsMatch(t, []lattice.Edge{
		{Caller: "sub_1000", Callee: "sub_2000"},
		{Caller: "sub_1000", Callee: "puts"},
		{Caller: "sub_2000", Callee: indirect},
	}, g.Edges)
	assert.NotEmpty(t, render.DOT(g, "callgraph"))
}

func TestBuildCFG(t *testing.T) {
	cg := BuildCFG(newModule())
	require.Len(t, cg.Funcs, 2)
	f := cg.Funcs[0]
	assert.Equal(t, "sub_1000", f.Name)
	require.Len(t, f.Blocks, 3)

	entry := f.Blocks[0]
	assert.Equal(t, 0, entry.Start)
	assert.Equal(t, 2, entry.End)
	assert.Equal(t, []lattice.CallSite{{Offset: 0, Callee: "sub_2000"}}, entry.Calls)
	assert.Equal(t, []lattice.Successor{{BlockID: 1, Cond: "T"}, {BlockID: 2, Cond: "F"}}, entry.Succs)
	assert.False(t, entry.Term)

	then := f.Blocks[1]
	assert.Equal(t, 2, then.Start)
	assert.Equal(t, 5, then.End)
	assert.Len(t, then.Calls, 2)
	assert.Equal(t, []lattice.Successor{{BlockID: 2}}, then.Succs)

	exit := f.Blocks[2]
	assert.True(t, exit.Term)
	assert.Empty(t, exit.Succs)

	assert.NotEmpty(t, render.DOTCFG(cg, "cfg"))
}
