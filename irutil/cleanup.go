package irutil

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
)

// maxRounds bounds the number of cleanup rounds of a single function.
const maxRounds = 16

// Cleanup runs the generic cleanup passes on f until no pass makes progress,
// and reports whether f was changed.
func Cleanup(f *ir.Func) (bool, error) {
	if len(f.Blocks) == 0 {
		return false, nil
	}
	changed := false
	for round := 0; round < maxRounds; round++ {
		progress := SimplifyCFG(f)
		if PromoteAllocas(f) {
			progress = true
		}
		ok, err := EliminateRedundant(f)
		if err != nil {
			return changed, errors.WithStack(err)
		}
		if ok {
			progress = true
		}
		if EliminateDeadCode(f) {
			progress = true
		}
		if !progress {
			break
		}
		changed = true
	}
	ResetIDs(f)
	return changed, nil
}

// ### [ Control flow simplification ] #########################################

// SimplifyCFG folds conditional branches with identical targets or constant
// conditions, removes unreachable basic blocks and merges basic blocks into
// their single predecessor when linked by an unconditional branch. It reports
// whether f was changed.
func SimplifyCFG(f *ir.Func) bool {
	if len(f.Blocks) == 0 {
		return false
	}
	changed := foldBranches(f)
	if removeUnreachable(f) {
		changed = true
	}
	if mergeBlocks(f) {
		changed = true
	}
	return changed
}

// foldBranches replaces conditional branches which always branch to the same
// target with unconditional branches.
func foldBranches(f *ir.Func) bool {
	changed := false
	for _, block := range f.Blocks {
		term, ok := block.Term.(*ir.TermCondBr)
		if !ok {
			continue
		}
		t, tok := asBlock(term.TargetTrue)
		e, eok := asBlock(term.TargetFalse)
		if !tok || !eok {
			continue
		}
		switch {
		case t == e:
			block.NewBr(t)
			changed = true
		case isConstBool(term.Cond, true):
			removeIncoming(e, block)
			block.NewBr(t)
			changed = true
		case isConstBool(term.Cond, false):
			removeIncoming(t, block)
			block.NewBr(e)
			changed = true
		}
	}
	return changed
}

// removeUnreachable removes the basic blocks not reachable from the entry
// basic block.
func removeUnreachable(f *ir.Func) bool {
	reachable := map[*ir.Block]bool{f.Blocks[0]: true}
	queue := []*ir.Block{f.Blocks[0]}
	for len(queue) > 0 {
		block := queue[0]
		queue = queue[1:]
		for _, succ := range succs(block) {
			if !reachable[succ] {
				reachable[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	if len(reachable) == len(f.Blocks) {
		return false
	}
	var blocks []*ir.Block
	for _, block := range f.Blocks {
		if reachable[block] {
			blocks = append(blocks, block)
			continue
		}
		for _, succ := range succs(block) {
			if reachable[succ] {
				removeIncoming(succ, block)
			}
		}
	}
	f.Blocks = blocks
	return true
}

// mergeBlocks merges basic blocks into their single predecessor when the
// predecessor ends with an unconditional branch to the block.
func mergeBlocks(f *ir.Func) bool {
	changed := false
	for {
		preds := predecessors(f)
		merged := false
		for _, block := range f.Blocks[1:] {
			ps := preds[block]
			if len(ps) != 1 || ps[0] == block {
				continue
			}
			pred := ps[0]
			br, ok := pred.Term.(*ir.TermBr)
			if !ok {
				continue
			}
			if target, ok := asBlock(br.Target); !ok || target != block {
				continue
			}
			mergeInto(f, pred, block)
			merged = true
			break
		}
		if !merged {
			return changed
		}
		changed = true
	}
}

// mergeInto appends the instructions and terminator of block to pred, and
// removes block from f.
func mergeInto(f *ir.Func, pred, block *ir.Block) {
	// Phi instructions of a block with a single predecessor are trivial.
	repl := make(map[value.Value]value.Value)
	var insts []ir.Instruction
	for _, inst := range block.Insts {
		if phi, ok := inst.(*ir.InstPhi); ok && len(phi.Incs) > 0 {
			repl[phi] = phi.Incs[0].X
			continue
		}
		insts = append(insts, inst)
	}
	pred.Insts = append(pred.Insts, insts...)
	pred.Term = block.Term
	for _, succ := range succs(block) {
		for _, inst := range succ.Insts {
			phi, ok := inst.(*ir.InstPhi)
			if !ok {
				continue
			}
			for _, inc := range phi.Incs {
				if b, ok := asBlock(inc.Pred); ok && b == block {
					inc.Pred = pred
				}
			}
		}
	}
	var blocks []*ir.Block
	for _, b := range f.Blocks {
		if b != block {
			blocks = append(blocks, b)
		}
	}
	f.Blocks = blocks
	ReplaceAll(f, repl)
}

// ### [ Stack slot promotion ] ################################################

// PromoteAllocas promotes stack slots used only by loads and stores within
// the basic block of their allocation to SSA values. Slots that are never
// loaded are removed along with their stores. It reports whether f was
// changed.
func PromoteAllocas(f *ir.Func) bool {
	uses := Uses(f)
	remove := make(map[ir.Instruction]bool)
	repl := make(map[value.Value]value.Value)
	for _, block := range f.Blocks {
		for _, inst := range block.Insts {
			alloca, ok := inst.(*ir.InstAlloca)
			if !ok || alloca.NElems != nil || !promotable(alloca, block, uses[alloca]) {
				continue
			}
			// Walk the basic block in program order, tracking the current value
			// of the slot.
			var cur value.Value = constant.NewUndef(alloca.ElemType)
			for _, inst := range block.Insts {
				switch inst := inst.(type) {
				case *ir.InstStore:
					if inst.Dst == alloca {
						cur = inst.Src
						remove[inst] = true
					}
				case *ir.InstLoad:
					if inst.Src == alloca {
						repl[inst] = cur
						remove[inst] = true
					}
				}
			}
			remove[alloca] = true
		}
	}
	if len(remove) == 0 {
		return false
	}
	ReplaceAll(f, repl)
	RemoveInsts(f, remove)
	return true
}

// promotable reports whether the given stack slot is only used by loads and
// stores of its element type within block.
func promotable(alloca *ir.InstAlloca, block *ir.Block, uses []*Use) bool {
	for _, use := range uses {
		if use.Block != block {
			return false
		}
		switch user := use.User.(type) {
		case *ir.InstLoad:
			if user.Volatile || !user.ElemType.Equal(alloca.ElemType) {
				return false
			}
		case *ir.InstStore:
			if user.Volatile || user.Src == value.Value(alloca) || !user.Src.Type().Equal(alloca.ElemType) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ### [ Redundant expression elimination ] ####################################

// EliminateRedundant replaces pure instructions which recompute the value of
// an earlier identical instruction of the same basic block with the earlier
// instruction. It reports whether f was changed.
func EliminateRedundant(f *ir.Func) (bool, error) {
	// Local identifiers of operands are part of the value numbering key.
	// Earlier rewrites may have left gaps in the IDs of unnamed values.
	ResetIDs(f)
	if err := f.AssignIDs(); err != nil {
		return false, errors.WithStack(err)
	}
	remove := make(map[ir.Instruction]bool)
	for _, block := range f.Blocks {
		seen := make(map[string]value.Value)
		for _, inst := range block.Insts {
			if !IsPure(inst) {
				continue
			}
			v, ok := inst.(value.Value)
			if !ok {
				continue
			}
			key := strings.TrimPrefix(inst.LLString(), v.Ident()+" = ")
			if prev, ok := seen[key]; ok {
				ReplaceAllUses(f, v, prev)
				remove[inst] = true
				continue
			}
			seen[key] = v
		}
	}
	RemoveInsts(f, remove)
	return len(remove) > 0, nil
}

// ### [ Dead code elimination ] ###############################################

// EliminateDeadCode removes instructions without side effects whose results
// are unused, until no such instruction remains. It reports whether f was
// changed.
func EliminateDeadCode(f *ir.Func) bool {
	changed := false
	for {
		uses := Uses(f)
		remove := make(map[ir.Instruction]bool)
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				if !isRemovable(inst) {
					continue
				}
				v, ok := inst.(value.Value)
				if !ok {
					continue
				}
				if onlySelfUses(v, uses[v]) {
					remove[inst] = true
				}
			}
		}
		// Stores to stack slots which are never loaded.
		for _, block := range f.Blocks {
			for _, inst := range block.Insts {
				alloca, ok := inst.(*ir.InstAlloca)
				if !ok || !storeOnly(alloca, uses[alloca]) {
					continue
				}
				for _, use := range uses[alloca] {
					remove[use.User.(ir.Instruction)] = true
				}
				remove[alloca] = true
			}
		}
		if RemoveInsts(f, remove) == 0 {
			return changed
		}
		changed = true
	}
}

// onlySelfUses reports whether v is unused, or only used by itself (e.g. a
// phi instruction of a loop).
func onlySelfUses(v value.Value, uses []*Use) bool {
	for _, use := range uses {
		if u, ok := use.User.(value.Value); !ok || u != v {
			return false
		}
	}
	return true
}

// storeOnly reports whether the given stack slot is only used as the
// destination of non-volatile stores.
func storeOnly(alloca *ir.InstAlloca, uses []*Use) bool {
	if len(uses) == 0 {
		return false
	}
	for _, use := range uses {
		store, ok := use.User.(*ir.InstStore)
		if !ok || store.Volatile || store.Dst != value.Value(alloca) || store.Src == value.Value(alloca) {
			return false
		}
	}
	return true
}

// ### [ Helper functions ] ####################################################

// asBlock returns the basic block of the given branch target.
func asBlock(v interface{}) (*ir.Block, bool) {
	block, ok := v.(*ir.Block)
	return block, ok && block != nil
}

// succs returns the successor basic blocks of block.
func succs(block *ir.Block) []*ir.Block {
	if block.Term == nil {
		return nil
	}
	return block.Term.Succs()
}

// predecessors returns the predecessor basic blocks of every basic block of
// f.
func predecessors(f *ir.Func) map[*ir.Block][]*ir.Block {
	preds := make(map[*ir.Block][]*ir.Block)
	for _, block := range f.Blocks {
		seen := make(map[*ir.Block]bool)
		for _, succ := range succs(block) {
			if seen[succ] {
				continue
			}
			seen[succ] = true
			preds[succ] = append(preds[succ], block)
		}
	}
	return preds
}

// removeIncoming removes the incoming values from pred of the phi
// instructions of block.
func removeIncoming(block, pred *ir.Block) {
	for _, inst := range block.Insts {
		phi, ok := inst.(*ir.InstPhi)
		if !ok {
			continue
		}
		incs := phi.Incs[:0]
		for _, inc := range phi.Incs {
			if b, ok := asBlock(inc.Pred); ok && b == pred {
				continue
			}
			incs = append(incs, inc)
		}
		phi.Incs = incs
	}
}

// isConstBool reports whether v is the boolean constant b.
func isConstBool(v value.Value, b bool) bool {
	c, ok := v.(*constant.Int)
	if !ok || c.Typ.BitSize != 1 {
		return false
	}
	return (c.X.Sign() != 0) == b
}
