package x86

import (
	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"golang.org/x/arch/x86/x86asm"
)

// InitDispatchTable registers the instruction lifters of the processor mode.
func (m *Module) InitDispatchTable(t *arch.DispatchTable) {
	s := newSem(m.regs)
	reg := func(l arch.Lifter, ops ...x86asm.Op) {
		for _, op := range ops {
			t.Register(arch.Opcode(op), l)
		}
	}
	// Data transfer.
	reg(s.liftMOV, x86asm.MOV, x86asm.MOVZX, x86asm.MOVSX)
	if m.Mode() == 64 {
		reg(s.liftMOV, x86asm.MOVSXD)
		reg(s.liftSignExtendAcc, x86asm.CDQE)
		reg(s.liftSignExtendDX, x86asm.CQO)
	}
	reg(s.liftLEA, x86asm.LEA)
	reg(s.liftXCHG, x86asm.XCHG)
	reg(s.liftPUSH, x86asm.PUSH)
	reg(s.liftPOP, x86asm.POP)
	reg(s.liftLEAVE, x86asm.LEAVE)
	reg(s.liftSignExtendAcc, x86asm.CBW, x86asm.CWDE)
	reg(s.liftSignExtendDX, x86asm.CWD, x86asm.CDQ)
	// Arithmetic and logic.
	reg(s.liftBinop(opADD), x86asm.ADD)
	reg(s.liftBinop(opSUB), x86asm.SUB)
	reg(s.liftBinop(opAND), x86asm.AND)
	reg(s.liftBinop(opOR), x86asm.OR)
	reg(s.liftBinop(opXOR), x86asm.XOR)
	reg(s.liftBinop(opCMP), x86asm.CMP)
	reg(s.liftBinop(opTEST), x86asm.TEST)
	reg(s.liftIncDec, x86asm.INC, x86asm.DEC)
	reg(s.liftNEG, x86asm.NEG)
	reg(s.liftNOT, x86asm.NOT)
	reg(s.liftShift, x86asm.SHL, x86asm.SHR, x86asm.SAR)
	reg(s.liftFlagOp, x86asm.CLC, x86asm.STC, x86asm.CMC, x86asm.CLD, x86asm.STD)
	// Conditions.
	reg(s.liftSETcc, x86asm.SETA, x86asm.SETAE, x86asm.SETB, x86asm.SETBE, x86asm.SETE, x86asm.SETG, x86asm.SETGE, x86asm.SETL, x86asm.SETLE, x86asm.SETNE, x86asm.SETNO, x86asm.SETNP, x86asm.SETNS, x86asm.SETO, x86asm.SETP, x86asm.SETS)
	reg(s.liftCMOVcc, x86asm.CMOVA, x86asm.CMOVAE, x86asm.CMOVB, x86asm.CMOVBE, x86asm.CMOVE, x86asm.CMOVG, x86asm.CMOVGE, x86asm.CMOVL, x86asm.CMOVLE, x86asm.CMOVNE, x86asm.CMOVNO, x86asm.CMOVNP, x86asm.CMOVNS, x86asm.CMOVO, x86asm.CMOVP, x86asm.CMOVS)
	// Control flow.
	reg(s.liftJMP, x86asm.JMP)
	reg(s.liftJcc, x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS)
	reg(s.liftJCXZ, x86asm.JCXZ, x86asm.JECXZ)
	if m.Mode() == 64 {
		reg(s.liftJCXZ, x86asm.JRCXZ)
	}
	reg(s.liftLOOP, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE)
	reg(s.liftCALL, x86asm.CALL)
	reg(s.liftRET, x86asm.RET)
	// Miscellaneous.
	reg(s.liftNOP, x86asm.NOP, x86asm.PAUSE, x86asm.PREFETCHT0, x86asm.PREFETCHT1, x86asm.PREFETCHT2, x86asm.PREFETCHNTA)
	reg(s.liftTrap, x86asm.HLT, x86asm.UD2, x86asm.INT)
	// String instructions and their repeated variants.
	reg(s.liftString, x86asm.MOVSB, x86asm.MOVSW, x86asm.MOVSD, x86asm.STOSB, x86asm.STOSW, x86asm.STOSD, x86asm.LODSB, x86asm.LODSW, x86asm.LODSD, x86asm.CMPSB, x86asm.CMPSW, x86asm.CMPSD, x86asm.SCASB, x86asm.SCASW, x86asm.SCASD)
	if m.Mode() == 64 {
		reg(s.liftString, x86asm.MOVSQ, x86asm.STOSQ, x86asm.LODSQ, x86asm.CMPSQ, x86asm.SCASQ)
	}
	for i, f := range fixups {
		if m.Mode() != 64 && f.only64 {
			continue
		}
		// Port I/O is not modelled.
		switch f.op {
		case x86asm.INSB, x86asm.INSW, x86asm.INSD, x86asm.OUTSB, x86asm.OUTSW, x86asm.OUTSD:
			continue
		}
		t.Register(extOpcode(i, m.Mode()), s.liftString)
	}
	dbg.Printf("registered %d instruction lifters (%d-bit mode)", t.Len(), m.Mode())
}
