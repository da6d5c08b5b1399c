package x86

import (
	"strings"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// ### [ Data transfer ] #######################################################

// liftMOV lifts MOV, MOVZX, MOVSX and MOVSXD.
func (s *sem) liftMOV(ctx arch.Context, inst *arch.Inst) error {
	dst, src := arg(inst, 0), arg(inst, 1)
	bits := s.argBits(inst, dst)
	var v value.Value
	switch x86asm.Op(inst.Op) {
	case x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		srcBits := s.argBits(inst, src)
		if _, ok := src.(x86asm.Mem); ok {
			// The memory operand size of extending moves is the source size.
			srcBits = raw(inst).MemBytes * 8
		}
		x, err := s.read(ctx, inst, src, srcBits)
		if err != nil {
			return errors.WithStack(err)
		}
		v = s.resize(ctx.Block(), x, bits, x86asm.Op(inst.Op) != x86asm.MOVZX)
	default:
		if imm, ok := src.(x86asm.Imm); ok {
			if ref, ok := ctx.CodeRef(binAddr(int64(imm), s.bits), bits); ok {
				v = ref
				break
			}
		}
		x, err := s.read(ctx, inst, src, bits)
		if err != nil {
			return errors.WithStack(err)
		}
		v = x
	}
	return s.write(ctx, inst, dst, v)
}

// liftLEA lifts LEA.
func (s *sem) liftLEA(ctx arch.Context, inst *arch.Inst) error {
	dst := arg(inst, 0)
	mem, ok := arg(inst, 1).(x86asm.Mem)
	if !ok {
		return errors.Errorf("invalid LEA source operand %v at %v", arg(inst, 1), inst.Addr)
	}
	// LEA computes the offset only; the segment base is not added.
	mem.Segment = 0
	addr, err := s.effAddr(ctx, inst, mem)
	if err != nil {
		return errors.WithStack(err)
	}
	return s.write(ctx, inst, dst, s.resize(ctx.Block(), addr, s.argBits(inst, dst), false))
}

// liftXCHG lifts XCHG.
func (s *sem) liftXCHG(ctx arch.Context, inst *arch.Inst) error {
	a, b := arg(inst, 0), arg(inst, 1)
	bits := s.argBits(inst, a)
	x, err := s.read(ctx, inst, a, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	y, err := s.read(ctx, inst, b, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := s.write(ctx, inst, a, y); err != nil {
		return errors.WithStack(err)
	}
	return s.write(ctx, inst, b, x)
}

// liftPUSH lifts PUSH.
func (s *sem) liftPUSH(ctx arch.Context, inst *arch.Inst) error {
	src := arg(inst, 0)
	bits := inst.DataSize
	if bits == 0 {
		bits = s.bits
	}
	if r, ok := src.(x86asm.Reg); ok {
		bits = s.argBits(inst, r)
	}
	if imm, ok := src.(x86asm.Imm); ok {
		if ref, ok := ctx.CodeRef(binAddr(int64(imm), s.bits), bits); ok {
			s.push(ctx, ref)
			return nil
		}
	}
	v, err := s.read(ctx, inst, src, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	s.push(ctx, v)
	return nil
}

// liftPOP lifts POP.
func (s *sem) liftPOP(ctx arch.Context, inst *arch.Inst) error {
	dst := arg(inst, 0)
	v := s.pop(ctx, s.argBits(inst, dst))
	return s.write(ctx, inst, dst, v)
}

// liftLEAVE lifts LEAVE.
func (s *sem) liftLEAVE(ctx arch.Context, inst *arch.Inst) error {
	ctx.WriteReg(s.regs.gpr(rSP), ctx.ReadReg(s.regs.gpr(rBP)))
	ctx.WriteReg(s.regs.gpr(rBP), s.pop(ctx, s.bits))
	return nil
}

// liftSignExtendAcc lifts CBW, CWDE and CDQE.
func (s *sem) liftSignExtendAcc(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	var from, to x86asm.Reg
	switch x86asm.Op(inst.Op) {
	case x86asm.CBW:
		from, to = x86asm.AL, x86asm.AX
	case x86asm.CWDE:
		from, to = x86asm.AX, x86asm.EAX
	case x86asm.CDQE:
		from, to = x86asm.EAX, x86asm.RAX
	}
	v, err := s.read(ctx, inst, from, s.argBits(inst, from))
	if err != nil {
		return errors.WithStack(err)
	}
	return s.write(ctx, inst, to, s.resize(block, v, s.argBits(inst, to), true))
}

// liftSignExtendDX lifts CWD, CDQ and CQO.
func (s *sem) liftSignExtendDX(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	var acc, dx x86asm.Reg
	switch x86asm.Op(inst.Op) {
	case x86asm.CWD:
		acc, dx = x86asm.AX, x86asm.DX
	case x86asm.CDQ:
		acc, dx = x86asm.EAX, x86asm.EDX
	case x86asm.CQO:
		acc, dx = x86asm.RAX, x86asm.RDX
	}
	bits := s.argBits(inst, acc)
	v, err := s.read(ctx, inst, acc, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	sign := block.NewAShr(v, constant.NewInt(intType(v), int64(bits-1)))
	return s.write(ctx, inst, dx, sign)
}

// ### [ Arithmetic and logic ] ################################################

// binop is a binary arithmetic or logic operation.
type binop int

// Binary operations.
const (
	opADD binop = iota
	opSUB
	opAND
	opOR
	opXOR
	opCMP
	opTEST
)

// liftBinop returns the lifter of the given binary operation.
func (s *sem) liftBinop(op binop) arch.Lifter {
	return func(ctx arch.Context, inst *arch.Inst) error {
		block := ctx.Block()
		dst, src := arg(inst, 0), arg(inst, 1)
		bits := s.argBits(inst, dst)
		a, err := s.read(ctx, inst, dst, bits)
		if err != nil {
			return errors.WithStack(err)
		}
		var b value.Value
		if _, ok := src.(x86asm.Reg); ok && src == dst && (op == opXOR || op == opSUB) {
			// Zeroing idiom.
			b = a
		} else if b, err = s.read(ctx, inst, src, bits); err != nil {
			return errors.WithStack(err)
		}
		var res value.Value
		switch op {
		case opADD:
			res = block.NewAdd(a, b)
			s.setAddFlags(ctx, a, b, res)
		case opSUB, opCMP:
			res = block.NewSub(a, b)
			s.setSubFlags(ctx, a, b, res)
		case opAND, opTEST:
			res = block.NewAnd(a, b)
			s.setLogicFlags(ctx, res)
		case opOR:
			res = block.NewOr(a, b)
			s.setLogicFlags(ctx, res)
		case opXOR:
			res = block.NewXor(a, b)
			s.setLogicFlags(ctx, res)
		}
		if op == opCMP || op == opTEST {
			return nil
		}
		return s.write(ctx, inst, dst, res)
	}
}

// setAddFlags sets the status flags of an addition.
func (s *sem) setAddFlags(ctx arch.Context, a, b, res value.Value) {
	block := ctx.Block()
	zero := constant.NewInt(intType(res), 0)
	s.setFlag(ctx, CF, block.NewICmp(enum.IPredULT, res, a))
	ovf := block.NewAnd(block.NewXor(a, res), block.NewXor(b, res))
	s.setFlag(ctx, OF, block.NewICmp(enum.IPredSLT, ovf, zero))
	s.setAdjustFlag(ctx, a, b, res)
	s.setResultFlags(ctx, res)
}

// setSubFlags sets the status flags of a subtraction.
func (s *sem) setSubFlags(ctx arch.Context, a, b, res value.Value) {
	block := ctx.Block()
	zero := constant.NewInt(intType(res), 0)
	s.setFlag(ctx, CF, block.NewICmp(enum.IPredULT, a, b))
	ovf := block.NewAnd(block.NewXor(a, b), block.NewXor(a, res))
	s.setFlag(ctx, OF, block.NewICmp(enum.IPredSLT, ovf, zero))
	s.setAdjustFlag(ctx, a, b, res)
	s.setResultFlags(ctx, res)
}

// setLogicFlags sets the status flags of a logic operation.
func (s *sem) setLogicFlags(ctx arch.Context, res value.Value) {
	s.setFlagConst(ctx, CF, false)
	s.setFlagConst(ctx, OF, false)
	s.setFlagConst(ctx, AF, false)
	s.setResultFlags(ctx, res)
}

// liftIncDec lifts INC and DEC, which preserve CF.
func (s *sem) liftIncDec(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	dst := arg(inst, 0)
	bits := s.argBits(inst, dst)
	a, err := s.read(ctx, inst, dst, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	typ := intType(a)
	one := constant.NewInt(typ, 1)
	var res value.Value
	var ovf value.Value
	if x86asm.Op(inst.Op) == x86asm.INC {
		res = block.NewAdd(a, one)
		ovf = block.NewAnd(block.NewXor(a, res), block.NewXor(one, res))
	} else {
		res = block.NewSub(a, one)
		ovf = block.NewAnd(block.NewXor(a, one), block.NewXor(a, res))
	}
	s.setFlag(ctx, OF, block.NewICmp(enum.IPredSLT, ovf, constant.NewInt(typ, 0)))
	s.setAdjustFlag(ctx, a, one, res)
	s.setResultFlags(ctx, res)
	return s.write(ctx, inst, dst, res)
}

// liftNEG lifts NEG.
func (s *sem) liftNEG(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	dst := arg(inst, 0)
	bits := s.argBits(inst, dst)
	a, err := s.read(ctx, inst, dst, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	zero := constant.NewInt(intType(a), 0)
	res := block.NewSub(zero, a)
	s.setSubFlags(ctx, zero, a, res)
	s.setFlag(ctx, CF, block.NewICmp(enum.IPredNE, a, zero))
	return s.write(ctx, inst, dst, res)
}

// liftNOT lifts NOT, which affects no flags.
func (s *sem) liftNOT(ctx arch.Context, inst *arch.Inst) error {
	dst := arg(inst, 0)
	a, err := s.read(ctx, inst, dst, s.argBits(inst, dst))
	if err != nil {
		return errors.WithStack(err)
	}
	res := ctx.Block().NewXor(a, constant.NewInt(intType(a), -1))
	return s.write(ctx, inst, dst, res)
}

// liftShift lifts SHL, SHR and SAR. The status flags are left unchanged when
// the masked shift count is zero.
func (s *sem) liftShift(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	dst := arg(inst, 0)
	bits := s.argBits(inst, dst)
	a, err := s.read(ctx, inst, dst, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	typ := intType(a)
	var count value.Value = constant.NewInt(typ, 1)
	if src := arg(inst, 1); src != nil {
		if count, err = s.read(ctx, inst, src, bits); err != nil {
			return errors.WithStack(err)
		}
	}
	mask := int64(31)
	if bits == 64 {
		mask = 63
	}
	count = block.NewAnd(count, constant.NewInt(typ, mask))
	var res value.Value
	// Last bit shifted out.
	var out value.Value
	one := constant.NewInt(typ, 1)
	switch x86asm.Op(inst.Op) {
	case x86asm.SHL:
		res = block.NewShl(a, count)
		pre := block.NewShl(a, block.NewSub(count, one))
		out = block.NewICmp(enum.IPredSLT, pre, constant.NewInt(typ, 0))
	case x86asm.SHR:
		res = block.NewLShr(a, count)
		pre := block.NewLShr(a, block.NewSub(count, one))
		out = block.NewICmp(enum.IPredNE, block.NewAnd(pre, one), constant.NewInt(typ, 0))
	default:
		res = block.NewAShr(a, count)
		pre := block.NewAShr(a, block.NewSub(count, one))
		out = block.NewICmp(enum.IPredNE, block.NewAnd(pre, one), constant.NewInt(typ, 0))
	}
	nonzero := block.NewICmp(enum.IPredNE, count, constant.NewInt(typ, 0))
	keep := func(f int, v value.Value) {
		s.setFlag(ctx, f, block.NewSelect(nonzero, v, s.flag(ctx, f)))
	}
	zero := constant.NewInt(typ, 0)
	keep(CF, out)
	keep(ZF, block.NewICmp(enum.IPredEQ, res, zero))
	keep(SF, block.NewICmp(enum.IPredSLT, res, zero))
	keep(PF, s.parity(ctx, res))
	return s.write(ctx, inst, dst, res)
}

// liftFlagOp lifts CLC, STC, CMC, CLD and STD.
func (s *sem) liftFlagOp(ctx arch.Context, inst *arch.Inst) error {
	switch x86asm.Op(inst.Op) {
	case x86asm.CLC:
		s.setFlagConst(ctx, CF, false)
	case x86asm.STC:
		s.setFlagConst(ctx, CF, true)
	case x86asm.CMC:
		cf := s.flag(ctx, CF)
		s.setFlag(ctx, CF, ctx.Block().NewXor(cf, constant.True))
	case x86asm.CLD:
		s.setFlagConst(ctx, DF, false)
	case x86asm.STD:
		s.setFlagConst(ctx, DF, true)
	}
	return nil
}

// ### [ Conditions ] ##########################################################

// cond returns the condition of the given condition code suffix (e.g. "NE" of
// JNE) as a boolean.
func (s *sem) cond(ctx arch.Context, inst *arch.Inst, cc string) (value.Value, error) {
	block := ctx.Block()
	not := func(v value.Value) value.Value { return block.NewXor(v, constant.True) }
	neq := func(x, y value.Value) value.Value { return block.NewICmp(enum.IPredNE, x, y) }
	switch cc {
	case "O":
		return s.flag(ctx, OF), nil
	case "NO":
		return not(s.flag(ctx, OF)), nil
	case "B":
		return s.flag(ctx, CF), nil
	case "AE":
		return not(s.flag(ctx, CF)), nil
	case "E":
		return s.flag(ctx, ZF), nil
	case "NE":
		return not(s.flag(ctx, ZF)), nil
	case "BE":
		return block.NewOr(s.flag(ctx, CF), s.flag(ctx, ZF)), nil
	case "A":
		return not(block.NewOr(s.flag(ctx, CF), s.flag(ctx, ZF))), nil
	case "S":
		return s.flag(ctx, SF), nil
	case "NS":
		return not(s.flag(ctx, SF)), nil
	case "P":
		return s.flag(ctx, PF), nil
	case "NP":
		return not(s.flag(ctx, PF)), nil
	case "L":
		return neq(s.flag(ctx, SF), s.flag(ctx, OF)), nil
	case "GE":
		return not(neq(s.flag(ctx, SF), s.flag(ctx, OF))), nil
	case "LE":
		return block.NewOr(s.flag(ctx, ZF), neq(s.flag(ctx, SF), s.flag(ctx, OF))), nil
	case "G":
		return not(block.NewOr(s.flag(ctx, ZF), neq(s.flag(ctx, SF), s.flag(ctx, OF)))), nil
	}
	return nil, errors.Errorf("unknown condition code %q of instruction at %v", cc, inst.Addr)
}

// condCode returns the condition code suffix of the given opcode.
func condCode(op x86asm.Op) string {
	name := op.String()
	for _, prefix := range []string{"CMOV", "SET", "J"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return ""
}

// liftSETcc lifts SETcc.
func (s *sem) liftSETcc(ctx arch.Context, inst *arch.Inst) error {
	c, err := s.cond(ctx, inst, condCode(x86asm.Op(inst.Op)))
	if err != nil {
		return errors.WithStack(err)
	}
	return s.write(ctx, inst, arg(inst, 0), ctx.Block().NewZExt(c, types.I8))
}

// liftCMOVcc lifts CMOVcc.
func (s *sem) liftCMOVcc(ctx arch.Context, inst *arch.Inst) error {
	dst, src := arg(inst, 0), arg(inst, 1)
	bits := s.argBits(inst, dst)
	c, err := s.cond(ctx, inst, condCode(x86asm.Op(inst.Op)))
	if err != nil {
		return errors.WithStack(err)
	}
	a, err := s.read(ctx, inst, dst, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	b, err := s.read(ctx, inst, src, bits)
	if err != nil {
		return errors.WithStack(err)
	}
	return s.write(ctx, inst, dst, ctx.Block().NewSelect(c, b, a))
}

// ### [ Miscellaneous ] #######################################################

// liftNOP lifts instructions without effect on the modelled state.
func (s *sem) liftNOP(ctx arch.Context, inst *arch.Inst) error {
	return nil
}

// liftTrap lifts HLT, UD2 and INT3, which do not return to lifted code.
func (s *sem) liftTrap(ctx arch.Context, inst *arch.Inst) error {
	block := ctx.Block()
	trap := ctx.Declare("llvm.trap", types.Void)
	block.NewCall(trap)
	block.NewUnreachable()
	return nil
}

// liftString lifts string instructions and their repeated variants as calls to
// runtime helpers operating on the machine state record.
func (s *sem) liftString(ctx arch.Context, inst *arch.Inst) error {
	name := "__xlift_" + strings.ToLower(inst.Mnemonic)
	helper := ctx.Declare(name, types.Void, ctx.State().Type())
	ctx.Block().NewCall(helper, ctx.State())
	return nil
}

// ### [ Helper functions ] ####################################################

// stateType returns the type of the machine state record pointer.
func stateType(ctx arch.Context) types.Type {
	return ctx.State().Type()
}

// newCall emits a call to f with the machine state record as argument.
func newCall(ctx arch.Context, f value.Value, args ...value.Value) *ir.InstCall {
	return ctx.Block().NewCall(f, append([]value.Value{ctx.State()}, args...)...)
}
