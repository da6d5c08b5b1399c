package x86

import (
	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// sem holds the state shared by the instruction lifters of a processor mode.
type sem struct {
	regs *registers
	// Processor mode in bits.
	bits int
	// Integer type of addresses.
	word *types.IntType
}

// newSem returns the instruction lifters of the given processor mode.
func newSem(regs *registers) *sem {
	return &sem{
		regs: regs,
		bits: regs.bits,
		word: types.NewInt(uint64(regs.bits)),
	}
}

// raw returns the decoder representation of the given instruction.
func raw(inst *arch.Inst) *x86asm.Inst {
	switch x := inst.Raw.(type) {
	case x86asm.Inst:
		return &x
	case *x86asm.Inst:
		return x
	}
	return &x86asm.Inst{}
}

// arg returns the i:th decoder argument of the given instruction.
func arg(inst *arch.Inst, i int) x86asm.Arg {
	if i >= len(inst.Args) {
		return nil
	}
	a, _ := inst.Args[i].(x86asm.Arg)
	return a
}

// argBits returns the size in bits of the given instruction argument.
func (s *sem) argBits(inst *arch.Inst, a x86asm.Arg) int {
	switch a := a.(type) {
	case x86asm.Reg:
		if id, ok := s.regs.reg(a); ok {
			return s.regs.cat.Reg(id).Size * 8
		}
	case x86asm.Mem:
		if n := raw(inst).MemBytes; n > 0 {
			return n * 8
		}
	}
	if inst.DataSize > 0 {
		return inst.DataSize
	}
	return s.bits
}

// regID returns the catalog register of the given decoder register.
func (s *sem) regID(inst *arch.Inst, r x86asm.Reg) (arch.RegID, error) {
	id, ok := s.regs.reg(r)
	if !ok {
		return arch.NoReg, errors.Errorf("support for register %v not yet implemented; unable to lift instruction at %v", r, inst.Addr)
	}
	return id, nil
}

// effAddr returns the effective address of the given memory operand as an
// address-size integer.
func (s *sem) effAddr(ctx arch.Context, inst *arch.Inst, mem x86asm.Mem) (value.Value, error) {
	block := ctx.Block()
	var addr value.Value
	switch mem.Base {
	case 0:
	case x86asm.RIP, x86asm.EIP:
		addr = constant.NewInt(s.word, int64(inst.Next()))
	default:
		id, err := s.regID(inst, mem.Base)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		addr = s.resize(block, ctx.ReadReg(id), s.bits, false)
	}
	if mem.Index != 0 {
		id, err := s.regID(inst, mem.Index)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		var index value.Value = s.resize(block, ctx.ReadReg(id), s.bits, false)
		if mem.Scale > 1 {
			index = block.NewMul(index, constant.NewInt(s.word, int64(mem.Scale)))
		}
		addr = s.add(block, addr, index)
	}
	if mem.Disp != 0 || addr == nil {
		addr = s.add(block, addr, constant.NewInt(s.word, mem.Disp))
	}
	switch mem.Segment {
	case x86asm.FS:
		addr = block.NewAdd(addr, ctx.ReadReg(s.regs.fsBase))
	case x86asm.GS:
		addr = block.NewAdd(addr, ctx.ReadReg(s.regs.gsBase))
	}
	return addr, nil
}

// memPtr returns a pointer to the given memory operand, of the given bit size.
func (s *sem) memPtr(ctx arch.Context, inst *arch.Inst, mem x86asm.Mem, bits int) (value.Value, error) {
	addr, err := s.effAddr(ctx, inst, mem)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ctx.Block().NewIntToPtr(addr, types.NewPointer(types.NewInt(uint64(bits)))), nil
}

// read returns the value of the given instruction argument, extended or
// truncated to the given bit size.
func (s *sem) read(ctx arch.Context, inst *arch.Inst, a x86asm.Arg, bits int) (value.Value, error) {
	block := ctx.Block()
	switch a := a.(type) {
	case x86asm.Reg:
		id, err := s.regID(inst, a)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return s.resize(block, ctx.ReadReg(id), bits, false), nil
	case x86asm.Mem:
		size := s.argBits(inst, a)
		ptr, err := s.memPtr(ctx, inst, a, size)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		v := block.NewLoad(types.NewInt(uint64(size)), ptr)
		return s.resize(block, v, bits, false), nil
	case x86asm.Imm:
		// Immediates are sign-extended to the operand size.
		return constant.NewInt(types.NewInt(uint64(bits)), int64(a)), nil
	case x86asm.Rel:
		target := (inst.Next() + bin.Addr(int64(a))).Wrap(s.bits)
		return constant.NewInt(types.NewInt(uint64(bits)), int64(target)), nil
	}
	return nil, errors.Errorf("support for instruction argument %T not yet implemented; unable to lift instruction at %v", a, inst.Addr)
}

// write stores v to the given instruction argument. Writes to 32-bit general
// purpose registers in 64-bit mode clear the upper half of the parent
// register.
func (s *sem) write(ctx arch.Context, inst *arch.Inst, a x86asm.Arg, v value.Value) error {
	block := ctx.Block()
	switch a := a.(type) {
	case x86asm.Reg:
		id, err := s.regID(inst, a)
		if err != nil {
			return errors.WithStack(err)
		}
		r := s.regs.cat.Reg(id)
		if s.bits == 64 && r.Size == 4 && r.Parent != arch.NoReg && x86asm.EAX <= a && a <= x86asm.R15L {
			ctx.WriteReg(r.Parent, s.resize(block, v, 64, false))
			return nil
		}
		ctx.WriteReg(id, s.resize(block, v, r.Size*8, false))
		return nil
	case x86asm.Mem:
		size := s.argBits(inst, a)
		ptr, err := s.memPtr(ctx, inst, a, size)
		if err != nil {
			return errors.WithStack(err)
		}
		block.NewStore(s.resize(block, v, size, false), ptr)
		return nil
	}
	return errors.Errorf("support for destination argument %T not yet implemented; unable to lift instruction at %v", a, inst.Addr)
}

// ### [ Stack ] ###############################################################

// push pushes v onto the native stack.
func (s *sem) push(ctx arch.Context, v value.Value) {
	block := ctx.Block()
	sp := s.regs.gpr(rSP)
	size := int64(bitsOf(v) / 8)
	nsp := block.NewSub(ctx.ReadReg(sp), constant.NewInt(s.word, size))
	ctx.WriteReg(sp, nsp)
	ptr := block.NewIntToPtr(nsp, types.NewPointer(v.Type()))
	block.NewStore(v, ptr)
}

// pop pops a value of the given bit size from the native stack.
func (s *sem) pop(ctx arch.Context, bits int) value.Value {
	block := ctx.Block()
	sp := s.regs.gpr(rSP)
	cur := ctx.ReadReg(sp)
	typ := types.NewInt(uint64(bits))
	v := block.NewLoad(typ, block.NewIntToPtr(cur, types.NewPointer(typ)))
	ctx.WriteReg(sp, block.NewAdd(cur, constant.NewInt(s.word, int64(bits/8))))
	return v
}

// ### [ Status flags ] ########################################################

// flag returns the given status flag as a boolean.
func (s *sem) flag(ctx arch.Context, f int) value.Value {
	v := ctx.ReadReg(s.regs.flags[f])
	return ctx.Block().NewICmp(enum.IPredNE, v, constant.NewInt(types.I8, 0))
}

// setFlag sets the given status flag to the boolean cond.
func (s *sem) setFlag(ctx arch.Context, f int, cond value.Value) {
	ctx.WriteReg(s.regs.flags[f], ctx.Block().NewZExt(cond, types.I8))
}

// setFlagConst sets the given status flag to a constant.
func (s *sem) setFlagConst(ctx arch.Context, f int, set bool) {
	x := int64(0)
	if set {
		x = 1
	}
	ctx.WriteReg(s.regs.flags[f], constant.NewInt(types.I8, x))
}

// setResultFlags sets ZF, SF and PF based on the given result.
func (s *sem) setResultFlags(ctx arch.Context, res value.Value) {
	block := ctx.Block()
	zero := constant.NewInt(intType(res), 0)
	s.setFlag(ctx, ZF, block.NewICmp(enum.IPredEQ, res, zero))
	s.setFlag(ctx, SF, block.NewICmp(enum.IPredSLT, res, zero))
	s.setFlag(ctx, PF, s.parity(ctx, res))
}

// parity returns whether the least significant byte of v has an even number
// of set bits.
func (s *sem) parity(ctx arch.Context, v value.Value) value.Value {
	block := ctx.Block()
	ctpop := ctx.Declare("llvm.ctpop.i8", types.I8, types.I8)
	n := block.NewCall(ctpop, s.resize(block, v, 8, false))
	odd := block.NewAnd(n, constant.NewInt(types.I8, 1))
	return block.NewICmp(enum.IPredEQ, odd, constant.NewInt(types.I8, 0))
}

// setAdjustFlag sets AF based on the operands and result of an addition or
// subtraction.
func (s *sem) setAdjustFlag(ctx arch.Context, a, b, res value.Value) {
	block := ctx.Block()
	typ := intType(res)
	x := block.NewXor(block.NewXor(a, b), res)
	bit := block.NewAnd(x, constant.NewInt(typ, 0x10))
	s.setFlag(ctx, AF, block.NewICmp(enum.IPredNE, bit, constant.NewInt(typ, 0)))
}

// ### [ Helper functions ] ####################################################

// resize extends or truncates v to the given bit size.
func (s *sem) resize(block *ir.Block, v value.Value, bits int, signed bool) value.Value {
	cur := bitsOf(v)
	typ := types.NewInt(uint64(bits))
	switch {
	case cur == bits:
		return v
	case cur > bits:
		if c, ok := v.(*constant.Int); ok {
			shift := uint(64 - bits)
			return constant.NewInt(typ, c.X.Int64()<<shift>>shift)
		}
		return block.NewTrunc(v, typ)
	case signed:
		return block.NewSExt(v, typ)
	}
	return block.NewZExt(v, typ)
}

// add returns x + y, where x may be nil.
func (s *sem) add(block *ir.Block, x, y value.Value) value.Value {
	if x == nil {
		return y
	}
	return block.NewAdd(x, y)
}

// intType returns the integer type of v.
func intType(v value.Value) *types.IntType {
	if t, ok := v.Type().(*types.IntType); ok {
		return t
	}
	return types.I64
}

// bitsOf returns the bit size of the integer value v.
func bitsOf(v value.Value) int {
	return int(intType(v).BitSize)
}
