package deadstate

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/bits-and-blooms/bitset"
	"github.com/jcrutchvt10/McSema-decompiler/irutil"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
)

// LiveSet is a set of live top-level registers, indexed by register
// identifier.
type LiveSet struct {
	bits *bitset.BitSet
	n    uint
}

// NewLiveSet returns an empty live set of n registers.
func NewLiveSet(n int) LiveSet {
	return LiveSet{bits: bitset.New(uint(n)), n: uint(n)}
}

// AllLive returns a live set of n registers in which every register is live.
func AllLive(n int) LiveSet {
	s := NewLiveSet(n)
	s.SetAll()
	return s
}

// Test reports whether register i is live.
func (s LiveSet) Test(i int) bool {
	return s.bits.Test(uint(i))
}

// Set marks register i as live.
func (s LiveSet) Set(i int) {
	s.bits.Set(uint(i))
}

// Clear marks register i as dead.
func (s LiveSet) Clear(i int) {
	s.bits.Clear(uint(i))
}

// SetAll marks every register as live.
func (s LiveSet) SetAll() {
	for i := uint(0); i < s.n; i++ {
		s.bits.Set(i)
	}
}

// Union adds the live registers of t to s.
func (s LiveSet) Union(t LiveSet) {
	s.bits.InPlaceUnion(t.bits)
}

// Equal reports whether s and t contain the same live registers.
func (s LiveSet) Equal(t LiveSet) bool {
	return s.bits.Equal(t.bits)
}

// Contains reports whether every live register of t is live in s.
func (s LiveSet) Contains(t LiveSet) bool {
	return s.bits.IsSuperSet(t.bits)
}

// Count returns the number of live registers.
func (s LiveSet) Count() int {
	return int(s.bits.Count())
}

// Clone returns a copy of s.
func (s LiveSet) Clone() LiveSet {
	return LiveSet{bits: s.bits.Clone(), n: s.n}
}

// String returns the string representation of the live set.
func (s LiveSet) String() string {
	var ids []string
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		ids = append(ids, fmt.Sprint(i))
	}
	return "{" + strings.Join(ids, ", ") + "}"
}

// analysis is the interprocedural liveness analysis of a module.
type analysis struct {
	e *Eliminator
	m *ir.Module
	// Number of top-level registers.
	n int
	// Live registers on entry and exit of basic blocks.
	blockEntry, blockExit map[*ir.Block]LiveSet
	// Live registers before and after internal call instructions.
	callBefore, callAfter map[*ir.InstCall]LiveSet
	// Maps from return terminator to the internal call instructions which may
	// return to it.
	retSuccs map[*ir.TermRet][]*ir.InstCall
	// Return terminators of functions reachable from outside of lifted code,
	// at which every register is live.
	external map[*ir.TermRet]bool
}

// newAnalysis returns a new liveness analysis of m.
func (e *Eliminator) newAnalysis(m *ir.Module, numFuncs, numBlocks int) *analysis {
	a := &analysis{
		e:          e,
		m:          m,
		n:          e.cat.NumTop(),
		blockEntry: make(map[*ir.Block]LiveSet, numBlocks),
		blockExit:  make(map[*ir.Block]LiveSet, numBlocks),
		callBefore: make(map[*ir.InstCall]LiveSet),
		callAfter:  make(map[*ir.InstCall]LiveSet),
		retSuccs:   make(map[*ir.TermRet][]*ir.InstCall, numFuncs),
		external:   make(map[*ir.TermRet]bool),
	}
	a.buildSuccs()
	return a
}

// buildSuccs links the return terminators of every defined function with the
// internal call sites of the function. Functions without internal call sites
// are possible targets of native code and unresolved calls, as are functions
// whose address escapes; their returns are treated as externally reachable.
func (a *analysis) buildSuccs() {
	escaped := escapedFuncs(a.m)
	callers := make(map[*ir.Func][]*ir.InstCall)
	for _, f := range a.m.Funcs {
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				call, ok := inst.(*ir.InstCall)
				if !ok {
					continue
				}
				if kind, callee := classify(call); kind == callInternal {
					callers[callee] = append(callers[callee], call)
				}
			}
		}
	}
	for _, f := range a.m.Funcs {
		var rets []*ir.TermRet
		for _, block := range f.Blocks {
			if ret, ok := block.Term.(*ir.TermRet); ok {
				rets = append(rets, ret)
			}
		}
		for _, ret := range rets {
			if len(callers[f]) == 0 || escaped[f] {
				a.external[ret] = true
				continue
			}
			a.retSuccs[ret] = callers[f]
		}
	}
}

// escapedFuncs returns the functions of m whose address is used other than as
// the callee of a call instruction, including references from module-level
// assembly.
func escapedFuncs(m *ir.Module) map[*ir.Func]bool {
	escaped := make(map[*ir.Func]bool)
	byName := make(map[string]*ir.Func, len(m.Funcs))
	for _, f := range m.Funcs {
		byName[f.Name()] = f
	}
	for _, s := range m.ModuleAsms {
		for _, sym := range strings.FieldsFunc(s, isSymbolSep) {
			if f, ok := byName[sym]; ok {
				escaped[f] = true
			}
			// Decorated names of cdecl and stdcall functions.
			if f, ok := byName[strings.TrimPrefix(sym, "_")]; ok {
				escaped[f] = true
			}
		}
	}
	visit := func(user interface{}) {
		call, isCall := user.(*ir.InstCall)
		for _, op := range irutil.Operands(user) {
			if isCall && op == &call.Callee {
				continue
			}
			markFuncs(escaped, *op)
		}
	}
	for _, f := range m.Funcs {
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				visit(inst)
			}
			if block.Term != nil {
				visit(block.Term)
			}
		}
	}
	for _, g := range m.Globals {
		if g.Init != nil {
			markFuncs(escaped, g.Init)
		}
	}
	return escaped
}

// markFuncs marks the functions referred to by v as escaped.
func markFuncs(escaped map[*ir.Func]bool, v value.Value) {
	switch v := v.(type) {
	case *ir.Func:
		escaped[v] = true
	case *constant.ExprBitCast:
		markFuncs(escaped, v.From)
	case *constant.ExprPtrToInt:
		markFuncs(escaped, v.From)
	}
}

// isSymbolSep reports whether r separates symbols in assembly.
func isSymbolSep(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.')
}

// solve computes the live registers of every program point to a fixed point,
// and returns the number of iterations.
func (a *analysis) solve() (int, error) {
	iterations := 0
	for changed := true; changed; iterations++ {
		changed = false
		for _, f := range a.m.Funcs {
			for _, block := range f.Blocks {
				ok, err := a.visit(block)
				if err != nil {
					return iterations, errors.WithStack(err)
				}
				if ok {
					changed = true
				}
			}
		}
	}
	dbg.Printf("liveness converged after %d iterations", iterations)
	return iterations, nil
}

// visit recomputes the live registers of the given basic block, and reports
// whether any of them changed.
func (a *analysis) visit(block *ir.Block) (bool, error) {
	live := a.exitLive(block)
	changed, err := a.updateBlock(a.blockExit, block, live, "exit")
	if err != nil {
		return false, errors.WithStack(err)
	}
	live = live.Clone()
	for i := len(block.Insts) - 1; i >= 0; i-- {
		switch inst := block.Insts[i].(type) {
		case *ir.InstLoad:
			a.load(live, a.e.tags[inst])
		case *ir.InstStore:
			a.store(live, a.e.tags[inst])
		case *ir.InstCall:
			kind, callee := classify(inst)
			switch kind {
			case callIntrinsic:
			case callExternal, callIndirect:
				live.SetAll()
			case callInternal:
				ok, err := a.updateCall(a.callAfter, inst, live, "after")
				if err != nil {
					return false, errors.WithStack(err)
				}
				changed = changed || ok
				entry, err := a.calleeEntry(inst, callee)
				if err != nil {
					return false, errors.WithStack(err)
				}
				live = entry.Clone()
				ok, err = a.updateCall(a.callBefore, inst, live, "before")
				if err != nil {
					return false, errors.WithStack(err)
				}
				changed = changed || ok
			}
		}
	}
	ok, err := a.updateBlock(a.blockEntry, block, live, "entry")
	if err != nil {
		return false, errors.WithStack(err)
	}
	return changed || ok, nil
}

// load applies the transfer function of a load with the given tag to live.
func (a *analysis) load(live LiveSet, tag Tag) {
	switch tag.Kind {
	case TagReg:
		live.Set(int(tag.Reg))
	case TagOpaque:
		live.SetAll()
	}
}

// store applies the transfer function of a store with the given tag to live.
// Only stores of the full register kill its liveness; partial stores revive
// it.
func (a *analysis) store(live LiveSet, tag Tag) {
	switch tag.Kind {
	case TagReg:
		if tag.Size == a.e.cat.Reg(tag.Reg).Size {
			live.Clear(int(tag.Reg))
		} else {
			live.Set(int(tag.Reg))
		}
	case TagOpaque:
		live.SetAll()
	}
}

// exitLive returns the live registers on exit of the given basic block: the
// union of the live registers on entry of its successors, or for returns the
// union of the live registers after every call site of the function. Every
// register is live at other exits.
func (a *analysis) exitLive(block *ir.Block) LiveSet {
	live := NewLiveSet(a.n)
	if block.Term == nil {
		live.SetAll()
		return live
	}
	if succs := block.Term.Succs(); len(succs) > 0 {
		for _, succ := range succs {
			if entry, ok := a.blockEntry[succ]; ok {
				live.Union(entry)
			}
		}
		return live
	}
	ret, ok := block.Term.(*ir.TermRet)
	if !ok || a.external[ret] {
		live.SetAll()
		return live
	}
	calls := a.retSuccs[ret]
	if len(calls) == 0 {
		live.SetAll()
		return live
	}
	for _, call := range calls {
		if after, ok := a.callAfter[call]; ok {
			live.Union(after)
		}
	}
	return live
}

// calleeEntry returns the live registers on entry of the callee of the given
// internal call.
func (a *analysis) calleeEntry(call *ir.InstCall, callee *ir.Func) (LiveSet, error) {
	if callee == nil || len(callee.Blocks) == 0 {
		return LiveSet{}, errors.Wrapf(ErrUnresolvedCall, "call %q", call.LLString())
	}
	if entry, ok := a.blockEntry[callee.Blocks[0]]; ok {
		return entry, nil
	}
	return NewLiveSet(a.n), nil
}

// updateBlock sets the live registers of the given basic block in nodes, and
// reports whether they changed. Liveness may only grow.
func (a *analysis) updateBlock(nodes map[*ir.Block]LiveSet, block *ir.Block, live LiveSet, what string) (bool, error) {
	old, ok := nodes[block]
	if ok && old.Equal(live) {
		return false, nil
	}
	if ok && !live.Contains(old) {
		return false, errors.Wrapf(ErrLivenessShrank, "%s of basic block %q: %v -> %v", what, block.Name(), old, live)
	}
	nodes[block] = live.Clone()
	return true, nil
}

// updateCall sets the live registers of the given call site in nodes, and
// reports whether they changed. Liveness may only grow.
func (a *analysis) updateCall(nodes map[*ir.InstCall]LiveSet, call *ir.InstCall, live LiveSet, what string) (bool, error) {
	old, ok := nodes[call]
	if ok && old.Equal(live) {
		return false, nil
	}
	if ok && !live.Contains(old) {
		return false, errors.Wrapf(ErrLivenessShrank, "%s call %q: %v -> %v", what, call.LLString(), old, live)
	}
	nodes[call] = live.Clone()
	return true, nil
}

// exit returns a copy of the live registers on exit of the given basic block.
func (a *analysis) exit(block *ir.Block) LiveSet {
	if live, ok := a.blockExit[block]; ok {
		return live.Clone()
	}
	return AllLive(a.n)
}

// before returns a copy of the live registers before the given internal call.
func (a *analysis) before(call *ir.InstCall) LiveSet {
	if live, ok := a.callBefore[call]; ok {
		return live.Clone()
	}
	return AllLive(a.n)
}
