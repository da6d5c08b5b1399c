package deadstate

import (
	"fmt"
	"io/ioutil"
	"testing"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	SetDebugOutput(ioutil.Discard)
}

// Field indices of the test machine state record.
const (
	fieldRAX = iota
	fieldRBX
	fieldZF
	fieldPad
)

// fixture is a module with a test machine state record.
type fixture struct {
	m   *ir.Module
	cat *arch.Catalog
	st  *types.StructType
}

func newFixture(t *testing.T) *fixture {
	cat, err := arch.NewCatalog([]arch.RegSpec{
		{Name: "RAX", Size: 8},
		{Name: "RBX", Size: 8},
		{Name: "ZF", Size: 1},
		{Name: "EAX", Size: 4, Parent: "RAX"},
	})
	require.NoError(t, err)
	require.Equal(t, 32, cat.Size())
	st := types.NewStruct(types.I64, types.I64, types.I8, types.NewArray(15, types.I8))
	st.Packed = true
	m := ir.NewModule()
	m.NewTypeDef("struct.State", st)
	return &fixture{m: m, cat: cat, st: st}
}

// newFunc adds a function taking the machine state record to the module.
func (fx *fixture) newFunc(name string) (*ir.Func, *ir.Block) {
	f := fx.m.NewFunc(name, types.Void, ir.NewParam("state", types.NewPointer(fx.st)))
	return f, f.NewBlock("entry")
}

// field returns a pointer to the given field of the machine state record.
func (fx *fixture) field(f *ir.Func, block *ir.Block, index int) value.Value {
	return block.NewGetElementPtr(fx.st, f.Params[0], constant.NewInt(types.I32, 0), constant.NewInt(types.I32, int64(index)))
}

// sub returns a pointer to the bytes [rel, rel+size) of the given field.
func (fx *fixture) sub(f *ir.Func, block *ir.Block, index, rel, size int) value.Value {
	ptr := fx.field(f, block, index)
	bytes := block.NewBitCast(ptr, types.NewPointer(types.I8))
	elem := block.NewGetElementPtr(types.I8, bytes, constant.NewInt(types.I64, int64(rel)))
	return block.NewBitCast(elem, types.NewPointer(types.NewInt(uint64(size*8))))
}

func (fx *fixture) optimize(t *testing.T) *Stats {
	stats, err := New(fx.cat).Optimize(fx.m, len(fx.m.Funcs), 0)
	require.NoError(t, err)
	return stats
}

func i64(x int64) *constant.Int {
	return constant.NewInt(types.I64, x)
}

// stores returns the stores of f.
func stores(f *ir.Func) []*ir.InstStore {
	var res []*ir.InstStore
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			if store, ok := inst.(*ir.InstStore); ok {
				res = append(res, store)
			}
		}
	}
	return res
}

// loads returns the loads of f.
func loads(f *ir.Func) []*ir.InstLoad {
	var res []*ir.InstLoad
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			if load, ok := inst.(*ir.InstLoad); ok {
				res = append(res, load)
			}
		}
	}
	return res
}

// storedConst returns the constant stored by the given store.
func storedConst(t *testing.T, store *ir.InstStore) int64 {
	c, ok := store.Src.(*constant.Int)
	require.True(t, ok, "stored value %v not constant", store.Src)
	return c.X.Int64()
}

func TestAnnotate(t *testing.T) {
	fx := newFixture(t)
	f, entry := fx.newFunc("f")
	rax := fx.field(f, entry, fieldRAX)
	full := entry.NewLoad(types.I64, rax)
	eax := entry.NewLoad(types.I32, entry.NewBitCast(rax, types.NewPointer(types.I32)))
	high := entry.NewLoad(types.I32, fx.sub(f, entry, fieldRAX, 4, 4))
	zf := entry.NewStore(constant.NewInt(types.I8, 1), fx.field(f, entry, fieldZF))
	pad := entry.NewLoad(types.I8, fx.field(f, entry, fieldPad))
	span := entry.NewLoad(types.I128, rax)
	// Dynamic offset.
	idx := entry.NewZExt(eax, types.I64)
	bytes := entry.NewBitCast(f.Params[0], types.NewPointer(types.I8))
	dyn := entry.NewLoad(types.I8, entry.NewGetElementPtr(types.I8, bytes, idx))
	// Integer address arithmetic.
	addr := entry.NewPtrToInt(f.Params[0], types.I64)
	rbx := entry.NewIntToPtr(entry.NewAdd(addr, i64(8)), types.NewPointer(types.I64))
	arith := entry.NewLoad(types.I64, rbx)
	// Ordinary memory.
	slot := entry.NewAlloca(types.I64)
	mem := entry.NewStore(full, slot)
	entry.NewRet(nil)

	e := New(fx.cat)
	tags := e.Annotate(f)
	ids := func(name string) arch.RegID {
		r, ok := fx.cat.ByName(name)
		require.True(t, ok)
		return r.ID
	}
	golden := []struct {
		inst ir.Instruction
		want Tag
	}{
		{inst: full, want: Tag{Kind: TagReg, Reg: ids("RAX"), Offset: 0, Size: 8}},
		{inst: eax, want: Tag{Kind: TagReg, Reg: ids("RAX"), Offset: 0, Size: 4}},
		{inst: high, want: Tag{Kind: TagReg, Reg: ids("RAX"), Offset: 4, Size: 4}},
		{inst: zf, want: Tag{Kind: TagReg, Reg: ids("ZF"), Offset: 16, Size: 1}},
		{inst: pad, want: OpaqueTag},
		{inst: span, want: OpaqueTag},
		{inst: dyn, want: OpaqueTag},
		{inst: arith, want: Tag{Kind: TagReg, Reg: ids("RBX"), Offset: 8, Size: 8}},
		{inst: mem, want: MemoryTag},
	}
	for i, g := range golden {
		assert.Equal(t, g.want, tags[g.inst], "%d", i)
	}
}

func TestDeadStore(t *testing.T) {
	fx := newFixture(t)
	f, entry := fx.newFunc("f")
	rax := fx.field(f, entry, fieldRAX)
	entry.NewStore(i64(1), rax)
	entry.NewStore(i64(2), rax)
	entry.NewRet(nil)

	stats := fx.optimize(t)
	assert.Equal(t, 1, stats.NumDeadStores)
	ss := stores(f)
	require.Len(t, ss, 1)
	assert.Equal(t, int64(2), storedConst(t, ss[0]))
}

func TestStoreLoadForward(t *testing.T) {
	fx := newFixture(t)
	f, entry := fx.newFunc("f")
	entry.NewStore(i64(42), fx.field(f, entry, fieldRAX))
	v := entry.NewLoad(types.I64, fx.field(f, entry, fieldRAX))
	entry.NewStore(v, fx.field(f, entry, fieldRBX))
	entry.NewRet(nil)

	stats := fx.optimize(t)
	assert.Equal(t, 1, stats.NumStoreLoadForwards)
	assert.Empty(t, loads(f))
	ss := stores(f)
	require.Len(t, ss, 2)
	for _, store := range ss {
		assert.Equal(t, int64(42), storedConst(t, store))
	}
}

func TestStoreLoadForwardType(t *testing.T) {
	fx := newFixture(t)
	f, entry := fx.newFunc("f")
	rax := fx.field(f, entry, fieldRAX)
	entry.NewStore(i64(42), rax)
	// Loads of a different type or sub-register are never forwarded.
	v := entry.NewLoad(types.I32, entry.NewBitCast(rax, types.NewPointer(types.I32)))
	w := entry.NewLoad(types.I32, fx.sub(f, entry, fieldRAX, 4, 4))
	entry.NewStore(entry.NewZExt(entry.NewAdd(v, w), types.I64), fx.field(f, entry, fieldRBX))
	entry.NewRet(nil)

	stats := fx.optimize(t)
	assert.Zero(t, stats.NumStoreLoadForwards)
	assert.Len(t, loads(f), 2)
}

func TestLoadLoadForward(t *testing.T) {
	fx := newFixture(t)
	f, entry := fx.newFunc("f")
	a := entry.NewLoad(types.I64, fx.field(f, entry, fieldRAX))
	b := entry.NewLoad(types.I64, fx.field(f, entry, fieldRAX))
	sum := entry.NewAdd(a, b)
	entry.NewStore(sum, fx.field(f, entry, fieldRBX))
	entry.NewRet(nil)

	stats := fx.optimize(t)
	assert.Equal(t, 1, stats.NumLoadLoadForwards)
	ls := loads(f)
	require.Len(t, ls, 1)
	assert.Equal(t, value.Value(ls[0]), sum.X)
	assert.Equal(t, value.Value(ls[0]), sum.Y)
}

func TestPartialStore(t *testing.T) {
	golden := []struct {
		rel, size int
		// The preceding full store is dead.
		dead bool
	}{
		{rel: 0, size: 1},
		{rel: 0, size: 2},
		{rel: 0, size: 4},
		{rel: 4, size: 4},
		{rel: 7, size: 1},
		{rel: 0, size: 8, dead: true},
	}
	for _, g := range golden {
		t.Run(fmt.Sprintf("%d:%d", g.rel, g.rel+g.size), func(t *testing.T) {
			fx := newFixture(t)
			f, entry := fx.newFunc("f")
			entry.NewStore(i64(1), fx.field(f, entry, fieldRAX))
			val := constant.NewInt(types.NewInt(uint64(g.size*8)), 2)
			entry.NewStore(val, fx.sub(f, entry, fieldRAX, g.rel, g.size))
			entry.NewRet(nil)

			stats := fx.optimize(t)
			ss := stores(f)
			if g.dead {
				assert.Equal(t, 1, stats.NumDeadStores)
				require.Len(t, ss, 1)
				assert.Equal(t, int64(2), storedConst(t, ss[0]))
				return
			}
			assert.Zero(t, stats.NumDeadStores)
			require.Len(t, ss, 2)
			assert.Equal(t, int64(1), storedConst(t, ss[0]))
		})
	}
}

func TestCallResetsForwarding(t *testing.T) {
	for _, name := range []string{"puts", "llvm.trap"} {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t)
			callee := fx.m.NewFunc(name, types.Void)
			f, entry := fx.newFunc("f")
			entry.NewStore(i64(1), fx.field(f, entry, fieldRAX))
			entry.NewCall(callee)
			v := entry.NewLoad(types.I64, fx.field(f, entry, fieldRAX))
			entry.NewStore(v, fx.field(f, entry, fieldRBX))
			entry.NewRet(nil)

			stats := fx.optimize(t)
			assert.Zero(t, stats.NumStoreLoadForwards)
			assert.Len(t, loads(f), 1)
			assert.Len(t, stores(f), 2)
			if name == "puts" {
				assert.Equal(t, 1, stats.NumExternalCalls)
			} else {
				assert.Equal(t, 1, stats.NumIntrinsicCalls)
			}
		})
	}
}

func TestExternalCallKeepsStores(t *testing.T) {
	fx := newFixture(t)
	ext := fx.m.NewFunc("__xlift_indirect_call", types.Void, ir.NewParam("", types.NewPointer(fx.st)))
	callee, centry := fx.newFunc("callee")
	centry.NewCall(ext, callee.Params[0])
	centry.NewRet(nil)
	caller, entry := fx.newFunc("caller")
	entry.NewStore(i64(1), fx.field(caller, entry, fieldRBX))
	entry.NewCall(callee, caller.Params[0])
	entry.NewStore(i64(2), fx.field(caller, entry, fieldRBX))
	entry.NewRet(nil)

	stats := fx.optimize(t)
	// The external call may read every register.
	assert.Zero(t, stats.NumDeadStores)
	assert.Len(t, stores(caller), 2)
}

func TestInterprocedural(t *testing.T) {
	fx := newFixture(t)
	callee, centry := fx.newFunc("callee")
	a := centry.NewLoad(types.I64, fx.field(callee, centry, fieldRAX))
	centry.NewStore(a, fx.field(callee, centry, fieldRBX))
	centry.NewRet(nil)

	caller, entry := fx.newFunc("caller")
	entry.NewStore(i64(1), fx.field(caller, entry, fieldRAX))
	entry.NewStore(i64(2), fx.field(caller, entry, fieldRBX))
	entry.NewCall(callee, caller.Params[0])
	entry.NewRet(nil)

	stats := fx.optimize(t)
	assert.Equal(t, 1, stats.NumInternalCalls)
	assert.Equal(t, 1, stats.NumDeadStores)
	assert.GreaterOrEqual(t, stats.Iterations, 2)
	ss := stores(caller)
	require.Len(t, ss, 1)
	assert.Equal(t, int64(1), storedConst(t, ss[0]))
	assert.Len(t, stores(callee), 1)
}

func TestCalleeOverwrites(t *testing.T) {
	fx := newFixture(t)
	callee, centry := fx.newFunc("callee")
	centry.NewStore(i64(3), fx.field(callee, centry, fieldRAX))
	centry.NewRet(nil)

	// Both callers are internal; the entry function is uncalled.
	main, mentry := fx.newFunc("main")
	mentry.NewStore(i64(1), fx.field(main, mentry, fieldRAX))
	mentry.NewCall(callee, main.Params[0])
	mentry.NewStore(i64(2), fx.field(main, mentry, fieldRAX))
	mentry.NewCall(callee, main.Params[0])
	mentry.NewRet(nil)

	fx.optimize(t)
	// Every store of main is overwritten by the callee before being read.
	assert.Empty(t, stores(main))
	assert.Len(t, stores(callee), 1)
}

func TestEscapedCallee(t *testing.T) {
	for _, asm := range []string{"", "pushl $callee;", "pushl $_callee;"} {
		t.Run(asm, func(t *testing.T) {
			fx := newFixture(t)
			callee, centry := fx.newFunc("callee")
			centry.NewStore(i64(3), fx.field(callee, centry, fieldRBX))
			centry.NewRet(nil)
			caller, entry := fx.newFunc("caller")
			entry.NewCall(callee, caller.Params[0])
			entry.NewStore(i64(4), fx.field(caller, entry, fieldRBX))
			entry.NewRet(nil)
			if asm != "" {
				fx.m.ModuleAsms = append(fx.m.ModuleAsms, asm)
			}

			fx.optimize(t)
			if asm == "" {
				// RBX is overwritten by the only caller.
				assert.Empty(t, stores(callee))
			} else {
				// The callee is also reachable from native code.
				assert.Len(t, stores(callee), 1)
			}
		})
	}
}

func TestRecursion(t *testing.T) {
	fx := newFixture(t)
	f, entry := fx.newFunc("f")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")
	zf := entry.NewLoad(types.I8, fx.field(f, entry, fieldZF))
	c := entry.NewTrunc(zf, types.I1)
	entry.NewCondBr(c, body, exit)
	body.NewStore(i64(1), fx.field(f, body, fieldRBX))
	body.NewCall(f, f.Params[0])
	body.NewBr(exit)
	v := exit.NewLoad(types.I64, fx.field(f, exit, fieldRBX))
	exit.NewStore(v, fx.field(f, exit, fieldRAX))
	exit.NewRet(nil)

	main, mentry := fx.newFunc("main")
	mentry.NewCall(f, main.Params[0])
	mentry.NewRet(nil)

	stats := fx.optimize(t)
	assert.GreaterOrEqual(t, stats.Iterations, 2)
	// Each iteration but the last grows at least one live set.
	assert.LessOrEqual(t, stats.Iterations, len(fx.cat.Registers())*4+1)
	// RBX is read on exit of f, hence live across the recursive call.
	assert.Zero(t, stats.NumDeadStores)
}

func TestLivenessShrank(t *testing.T) {
	fx := newFixture(t)
	_, entry := fx.newFunc("f")
	entry.NewRet(nil)
	a := New(fx.cat).newAnalysis(fx.m, 1, 1)
	changed, err := a.updateBlock(a.blockEntry, entry, AllLive(a.n), "entry")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = a.updateBlock(a.blockEntry, entry, AllLive(a.n), "entry")
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = a.updateBlock(a.blockEntry, entry, NewLiveSet(a.n), "entry")
	assert.True(t, errors.Is(err, ErrLivenessShrank))

	decl := fx.m.NewFunc("g", types.Void)
	call := entry.NewCall(decl)
	_, err = a.calleeEntry(call, decl)
	assert.True(t, errors.Is(err, ErrUnresolvedCall))
}

func TestDisableGlobalOpt(t *testing.T) {
	fx := newFixture(t)
	f, entry := fx.newFunc("f")
	rax := fx.field(f, entry, fieldRAX)
	entry.NewStore(i64(1), rax)
	entry.NewStore(i64(2), rax)
	entry.NewRet(nil)

	e := New(fx.cat)
	e.DisableGlobalOpt = true
	stats, err := e.Optimize(fx.m, 1, 1)
	require.NoError(t, err)
	assert.Len(t, stores(f), 2)
	assert.Equal(t, 4, stats.NumInstsPreOpt)
	assert.Equal(t, stats.NumInstsPreOpt, stats.NumInstsPostOpt)
}

func TestLiveSet(t *testing.T) {
	s := NewLiveSet(4)
	assert.Zero(t, s.Count())
	s.Set(1)
	s.Set(3)
	assert.Equal(t, "{1, 3}", s.String())
	all := AllLive(4)
	assert.Equal(t, 4, all.Count())
	assert.True(t, all.Contains(s))
	assert.False(t, s.Contains(all))
	c := s.Clone()
	c.Clear(1)
	assert.True(t, s.Test(1))
	assert.False(t, c.Test(1))
	c.Union(s)
	assert.True(t, c.Equal(s))
}

func TestStatsString(t *testing.T) {
	stats := &Stats{Iterations: 3, NumDeadStores: 1, NumInternalCalls: 2}
	s := stats.String()
	assert.Contains(t, s, "did 3 data flow iterations:")
	assert.Contains(t, s, "    dead stores: 1\n")
	assert.Contains(t, s, "    direct calls: 2\n")
}
