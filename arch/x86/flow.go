package x86

import (
	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// Runtime helpers of control flow that cannot be resolved statically.
const (
	helperIndirectJump = "__xlift_indirect_jmp"
	helperIndirectCall = "__xlift_indirect_call"
)

// liftJMP lifts JMP. Direct jumps to another function are lifted as tail
// calls.
func (s *sem) liftJMP(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	if inst.Taken != nil {
		if target, ok := ctx.BlockAt(*inst.Taken); ok {
			block.NewBr(target)
			return nil
		}
		if callee, ok := ctx.Callee(*inst.Taken); ok {
			newCall(ctx, callee)
			block.NewRet(nil)
			return nil
		}
		return errors.Errorf("unable to locate jump target %v of instruction at %v", *inst.Taken, inst.Addr)
	}
	target, err := s.read(ctx, inst, arg(inst, 0), s.bits)
	if err != nil {
		return errors.WithStack(err)
	}
	helper := ctx.Declare(helperIndirectJump, types.Void, stateType(ctx), s.word)
	newCall(ctx, helper, target)
	block.NewRet(nil)
	return nil
}

// liftJcc lifts conditional jumps.
func (s *sem) liftJcc(ctx arch.Context, inst *arch.Inst) error {
	c, err := s.cond(ctx, inst, condCode(x86asm.Op(inst.Op)))
	if err != nil {
		return errors.WithStack(err)
	}
	return s.condBr(ctx, inst, c)
}

// liftJCXZ lifts JCXZ, JECXZ and JRCXZ.
func (s *sem) liftJCXZ(ctx arch.Context, inst *arch.Inst) error {
	var cx x86asm.Reg
	switch x86asm.Op(inst.Op) {
	case x86asm.JCXZ:
		cx = x86asm.CX
	case x86asm.JECXZ:
		cx = x86asm.ECX
	default:
		cx = x86asm.RCX
	}
	v, err := s.read(ctx, inst, cx, s.argBits(inst, cx))
	if err != nil {
		return errors.WithStack(err)
	}
	c := ctx.Block().NewICmp(enum.IPredEQ, v, constant.NewInt(intType(v), 0))
	return s.condBr(ctx, inst, c)
}

// liftLOOP lifts LOOP, LOOPE and LOOPNE.
func (s *sem) liftLOOP(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	cx := s.regs.gpr(rCX)
	v := block.NewSub(ctx.ReadReg(cx), constant.NewInt(s.word, 1))
	ctx.WriteReg(cx, v)
	var c value.Value = block.NewICmp(enum.IPredNE, v, constant.NewInt(s.word, 0))
	switch x86asm.Op(inst.Op) {
	case x86asm.LOOPE:
		c = block.NewAnd(c, s.flag(ctx, ZF))
	case x86asm.LOOPNE:
		c = block.NewAnd(c, block.NewXor(s.flag(ctx, ZF), constant.True))
	}
	return s.condBr(ctx, inst, c)
}

// condBr emits a conditional branch to the taken and fallthrough targets of
// the given instruction.
func (s *sem) condBr(ctx arch.Context, inst *arch.Inst, c value.Value) error {
	if inst.Taken == nil || inst.Fallthrough == nil {
		return errors.Errorf("missing branch targets of instruction at %v", inst.Addr)
	}
	taken, ok := ctx.BlockAt(*inst.Taken)
	if !ok {
		return errors.Errorf("unable to locate branch target %v of instruction at %v", *inst.Taken, inst.Addr)
	}
	next, ok := ctx.BlockAt(*inst.Fallthrough)
	if !ok {
		return errors.Errorf("unable to locate fallthrough %v of instruction at %v", *inst.Fallthrough, inst.Addr)
	}
	ctx.Block().NewCondBr(c, taken, next)
	return nil
}

// liftCALL lifts CALL. The return address is pushed onto the native stack and
// popped by the lifted RET of the callee.
func (s *sem) liftCALL(ctx arch.Context, inst *arch.Inst) error {
	var target value.Value
	if inst.CallTarget == nil {
		t, err := s.read(ctx, inst, arg(inst, 0), s.bits)
		if err != nil {
			return errors.WithStack(err)
		}
		target = t
	}
	s.push(ctx, constant.NewInt(s.word, int64(inst.Next())))
	if inst.CallTarget != nil {
		if callee, ok := ctx.Callee(*inst.CallTarget); ok {
			newCall(ctx, callee)
			return nil
		}
		warn.Printf("unable to locate callee %v of call at %v; calling through runtime", *inst.CallTarget, inst.Addr)
		target = constant.NewInt(s.word, int64(*inst.CallTarget))
	}
	helper := ctx.Declare(helperIndirectCall, types.Void, stateType(ctx), s.word)
	newCall(ctx, helper, target)
	return nil
}

// liftRET lifts RET, popping the return address and the optional immediate
// number of argument bytes.
func (s *sem) liftRET(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	sp := s.regs.gpr(rSP)
	n := int64(s.bits / 8)
	if imm, ok := arg(inst, 0).(x86asm.Imm); ok {
		n += int64(imm)
	}
	ctx.WriteReg(sp, block.NewAdd(ctx.ReadReg(sp), constant.NewInt(s.word, n)))
	block.NewRet(nil)
	return nil
}

// ### [ Helper functions ] ####################################################

// binAddr returns the address of the given immediate in the given processor
// mode.
func binAddr(imm int64, bits int) bin.Addr {
	return bin.Addr(imm).Wrap(bits)
}
