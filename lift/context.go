package lift

import (
	"fmt"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/jcrutchvt10/McSema-decompiler/disasm"
	"github.com/jcrutchvt10/McSema-decompiler/stub"
	"github.com/kr/pretty"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
)

// funcLifter is a lifter for a given LLVM IR function. It implements the
// arch.Context interface.
type funcLifter struct {
	// Binary executable lifter.
	l *Lifter
	// Native function being lifted.
	asmFunc *disasm.Function

	// LLVM IR function being lifted.
	f *ir.Func
	// Current basic block being lifted.
	cur *ir.Block
	// Maps from basic block address to LLVM IR basic block.
	blocks map[bin.Addr]*ir.Block
	// Number of basic blocks created by instruction lifters.
	nblocks int
}

// newFuncLifter returns a new function lifter for the given function.
func newFuncLifter(l *Lifter, f *ir.Func, asmFunc *disasm.Function) *funcLifter {
	return &funcLifter{
		l:       l,
		asmFunc: asmFunc,
		f:       f,
		blocks:  make(map[bin.Addr]*ir.Block),
	}
}

// liftFunc lifts the native function to an equivalent LLVM IR function.
func (fl *funcLifter) liftFunc() error {
	addrs := fl.asmFunc.Addrs()
	if len(addrs) == 0 {
		return errors.Errorf("unable to lift function %v without basic blocks", fl.asmFunc.Entry)
	}
	// The entry basic block of an LLVM IR function comes first.
	entry, ok := fl.asmFunc.Blocks[fl.asmFunc.Entry]
	if !ok {
		return errors.Errorf("unable to locate entry basic block of function %v", fl.asmFunc.Entry)
	}
	order := []*disasm.BasicBlock{entry}
	for _, addr := range addrs {
		if addr != fl.asmFunc.Entry {
			order = append(order, fl.asmFunc.Blocks[addr])
		}
	}
	for _, asmBlock := range order {
		fl.blocks[asmBlock.Addr] = fl.f.NewBlock(blockName(asmBlock.Addr))
	}
	for _, asmBlock := range order {
		fl.liftBlock(asmBlock)
	}
	return nil
}

// liftBlock lifts the given basic block. Instructions which fail to lift are
// recorded and replaced by a call to a runtime helper.
func (fl *funcLifter) liftBlock(asmBlock *disasm.BasicBlock) {
	fl.cur = fl.blocks[asmBlock.Addr]
	for _, inst := range asmBlock.Insts {
		if fl.cur.Term != nil {
			warn.Printf("instruction at %v follows terminator", inst.Addr)
			break
		}
		lifter := fl.l.sess.Lifter(inst.Op)
		if err := lifter(fl, inst); err != nil {
			fl.l.fail(inst.Addr, inst.Mnemonic, err)
			dbg.Printf("unable to lift instruction %v; %v", inst, err)
			dbg.Printf("inst: %s", pretty.Sprint(inst.Raw))
			if fl.cur.Term != nil {
				continue
			}
			if fl.l.cfg.IgnoreUnsupported {
				continue
			}
			fl.callHelper(helperUnsupported, inst.Addr)
			if inst.EndsBlock() {
				fl.cur.NewUnreachable()
			}
		}
	}
	if fl.cur.Term != nil {
		return
	}
	if asmBlock.Failure != nil {
		fl.l.fail(asmBlock.Failure.Addr, "", asmBlock.Failure)
		fl.callHelper(helperDecodeFailure, asmBlock.Failure.Addr)
		fl.cur.NewUnreachable()
		return
	}
	// Implicit fallthrough to the next basic block.
	succs := asmBlock.Successors()
	if len(succs) == 1 {
		if next, ok := fl.BlockAt(succs[0]); ok {
			fl.cur.NewBr(next)
			return
		}
		if callee, ok := fl.Callee(succs[0]); ok {
			// Fallthrough into the next function.
			fl.cur.NewCall(callee, fl.State())
			fl.cur.NewRet(nil)
			return
		}
	}
	warn.Printf("unable to locate successor of basic block %v in function %v", asmBlock.Addr, fl.asmFunc.Entry)
	fl.cur.NewRet(nil)
}

// callHelper emits a call to the given runtime helper with the machine state
// record and instruction address as arguments.
func (fl *funcLifter) callHelper(name string, addr bin.Addr) {
	helper := fl.Declare(name, types.Void, fl.l.state.ptr, fl.l.word)
	fl.cur.NewCall(helper, fl.State(), constant.NewInt(fl.l.word, int64(addr)))
}

// Info returns the target of the lifting session.
func (fl *funcLifter) Info() arch.Info {
	return fl.l.sess.Info()
}

// Catalog returns the register catalog of the architecture.
func (fl *funcLifter) Catalog() *arch.Catalog {
	return fl.l.sess.Catalog()
}

// Block returns the current basic block.
func (fl *funcLifter) Block() *ir.Block {
	return fl.cur
}

// SetBlock sets the current basic block.
func (fl *funcLifter) SetBlock(block *ir.Block) {
	fl.cur = block
}

// NewBlock appends a new basic block to the function being lifted.
func (fl *funcLifter) NewBlock(name string) *ir.Block {
	fl.nblocks++
	if name == "" {
		name = "bb"
	}
	return fl.f.NewBlock(fmt.Sprintf("%s_%d", name, fl.nblocks))
}

// State returns the pointer to the machine state record.
func (fl *funcLifter) State() value.Value {
	return fl.f.Params[0]
}

// RegPtr returns a pointer to the given register of the machine state record.
// Sub-registers are addressed through a byte pointer to their top-level
// register.
func (fl *funcLifter) RegPtr(id arch.RegID) value.Value {
	cat := fl.Catalog()
	reg := cat.Reg(id)
	root := cat.Reg(cat.Root(id))
	zero := constant.NewInt(types.I32, 0)
	field := constant.NewInt(types.I32, int64(fl.l.state.fields[root.ID]))
	ptr := fl.cur.NewGetElementPtr(fl.l.state.typ, fl.State(), zero, field)
	if reg.ID == root.ID {
		return ptr
	}
	typ := types.NewPointer(regType(reg))
	if rel := reg.Offset - root.Offset; rel != 0 {
		bytes := fl.cur.NewBitCast(ptr, types.NewPointer(types.I8))
		elem := fl.cur.NewGetElementPtr(types.I8, bytes, constant.NewInt(types.I64, int64(rel)))
		return fl.cur.NewBitCast(elem, typ)
	}
	return fl.cur.NewBitCast(ptr, typ)
}

// ReadReg emits a load of the given register.
func (fl *funcLifter) ReadReg(id arch.RegID) value.Value {
	reg := fl.Catalog().Reg(id)
	return fl.cur.NewLoad(regType(reg), fl.RegPtr(id))
}

// WriteReg emits a store of v to the given register. Integer values of other
// sizes are truncated or zero-extended to the register size.
func (fl *funcLifter) WriteReg(id arch.RegID, v value.Value) {
	reg := fl.Catalog().Reg(id)
	typ := regType(reg)
	if t, ok := v.Type().(*types.IntType); ok && t.BitSize != typ.BitSize {
		if t.BitSize > typ.BitSize {
			v = fl.cur.NewTrunc(v, typ)
		} else {
			v = fl.cur.NewZExt(v, typ)
		}
	}
	fl.cur.NewStore(v, fl.RegPtr(id))
}

// BlockAt returns the basic block at the given address of the function being
// lifted.
func (fl *funcLifter) BlockAt(addr bin.Addr) (*ir.Block, bool) {
	block, ok := fl.blocks[addr]
	return block, ok
}

// Callee returns the lifted function or exit stub at the given address.
func (fl *funcLifter) Callee(addr bin.Addr) (value.Value, bool) {
	if f, ok := fl.l.funcs[addr]; ok {
		return f, true
	}
	if f, ok := fl.l.exitStub(addr); ok {
		return f, true
	}
	return nil, false
}

// CodeRef returns the callback stub address of the lifted function at the
// given address, as an integer of the given bit size. On 64-bit Windows,
// 32-bit references are image-relative.
func (fl *funcLifter) CodeRef(addr bin.Addr, bits int) (value.Value, bool) {
	if _, ok := fl.l.funcs[addr]; !ok {
		return nil, false
	}
	stubs := fl.l.sess.Stubs()
	if stubs == nil {
		return nil, false
	}
	cb, err := stubs.Callback(fl.l.m, addr)
	if err != nil {
		warn.Printf("unable to create callback of function %v; %v", addr, err)
		return nil, false
	}
	info := fl.Info()
	if bits < info.AddrSize && stub.ShouldSubtractImageBase(info, fl.l.m) {
		v := fl.cur.NewPtrToInt(cb, types.NewInt(uint64(info.AddrSize)))
		rel := stub.SubtractImageBaseInt(fl.l.m, fl.cur, v, info.AddrSize)
		return fl.cur.NewTrunc(rel, types.NewInt(uint64(bits))), true
	}
	return fl.cur.NewPtrToInt(cb, types.NewInt(uint64(bits))), true
}

// Declare returns the function declaration with the given name and signature,
// creating it if not already present.
func (fl *funcLifter) Declare(name string, ret types.Type, params ...types.Type) *ir.Func {
	return fl.l.declare(name, ret, params...)
}

// ### [ Helper functions ] ####################################################

// blockName returns the name of the basic block at the given address.
func blockName(addr bin.Addr) string {
	return fmt.Sprintf("block_%x", uint64(addr))
}

// regType returns the integer type of the given register.
func regType(reg *arch.Register) *types.IntType {
	return types.NewInt(uint64(reg.Size * 8))
}
