package x86

import (
	"encoding/hex"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// Decode decodes the leading bytes in src as a single x86 instruction, and
// annotates the instruction with the given address. Only the bytes of src are
// valid input; the decode window is zero-padded to MaxInstLen bytes.
func (m *Module) Decode(addr bin.Addr, src []byte) (*arch.Inst, error) {
	bits := m.Mode()
	valid := len(src)
	if valid > MaxInstLen {
		valid = MaxInstLen
	}
	if valid == 0 {
		return nil, decodeErr(arch.FailTruncated, addr, nil)
	}
	window := make([]byte, MaxInstLen)
	copy(window, src[:valid])
	if onlyPrefixes(window[:valid], bits) {
		return nil, decodeErr(arch.FailMalformedPrefixChain, addr, nil)
	}
	// Decode units until a non-prefix unit is found. A prefix followed by an
	// unintelligible byte sequence is decoded by itself, in which case the
	// remaining bytes are decoded from the next position at the same address.
	var extra []byte
	pos := 0
	var inst x86asm.Inst
	for {
		if pos >= valid {
			return nil, decodeErr(arch.FailMalformedPrefixChain, addr, nil)
		}
		var err error
		inst, err = x86asm.Decode(window[pos:], bits)
		if err != nil {
			return nil, decodeErr(failureOf(err), addr, err)
		}
		if inst.Op != 0 {
			break
		}
		if !isPrefixByte(window[pos], bits) {
			return nil, decodeErr(arch.FailUnrecognized, addr, errors.Errorf("invalid prefix byte 0x%02X", window[pos]))
		}
		extra = append(extra, window[pos])
		pos++
	}
	n := pos + inst.Len
	if n > valid {
		dbg.Printf("truncated instruction at %v:\n%s", addr, hex.Dump(window[:valid]))
		return nil, decodeErr(arch.FailTruncated, addr, errors.Errorf("instruction of %d bytes exceeds %d valid bytes", n, valid))
	}
	ps := prefixes(&inst, extra)
	rep := repeatPrefix(inst.Op, ps)
	seg := segmentPrefix(&inst, ps)
	op := fixupOpcode(inst.Op, rep, bits)
	res := &arch.Inst{
		Addr:     addr,
		Len:      n,
		Op:       op,
		Mnemonic: m.OpcodeName(op),
		Prefix:   classifyPrefix(rep, seg),
		AddrSize: inst.AddrSize,
		DataSize: inst.DataSize,
		Raw:      inst,
	}
	for i, arg := range inst.Args {
		if arg == nil {
			break
		}
		res.Args = append(res.Args, arg)
		if mem, ok := arg.(x86asm.Mem); ok && (mem.Base == x86asm.RIP || mem.Base == x86asm.EIP) {
			res.RIPRelative = append(res.RIPRelative, i)
		}
	}
	if err := classifyFlow(res, &inst, bits); err != nil {
		return nil, errors.WithStack(err)
	}
	return res, nil
}

// classifyFlow annotates the given instruction with its control flow
// classification.
func classifyFlow(res *arch.Inst, inst *x86asm.Inst, bits int) error {
	next := res.Next()
	target := func() (bin.Addr, bool) {
		rel, ok := inst.Args[0].(x86asm.Rel)
		if !ok {
			return 0, false
		}
		return (next + bin.Addr(int64(rel))).Wrap(bits), true
	}
	switch {
	case isCondBranch(inst.Op):
		taken, ok := target()
		if !ok {
			return decodeErr(arch.FailIndirectBranchWithoutImmediate, res.Addr, errors.Errorf("%v with operand %v", inst.Op, inst.Args[0]))
		}
		res.Taken = &taken
		res.Fallthrough = &next
	case inst.Op == x86asm.JMP:
		if taken, ok := target(); ok {
			res.Taken = &taken
		}
		res.Term = true
	case inst.Op == x86asm.LJMP, isReturn(inst.Op):
		res.Term = true
	case inst.Op == x86asm.CALL:
		if callee, ok := target(); ok {
			res.CallTarget = &callee
		}
	}
	return nil
}

// ### [ Helper functions ] ####################################################

// onlyPrefixes reports whether every byte of src is a prefix byte.
func onlyPrefixes(src []byte, bits int) bool {
	for _, b := range src {
		if !isPrefixByte(b, bits) {
			return false
		}
	}
	return true
}

// failureOf returns the decode failure kind of the given decoder error.
func failureOf(err error) arch.DecodeFailure {
	switch err {
	case x86asm.ErrTruncated:
		return arch.FailTruncated
	case x86asm.ErrInvalidMode:
		return arch.FailInvalidMode
	}
	return arch.FailUnrecognized
}

// decodeErr returns a new decode error.
func decodeErr(kind arch.DecodeFailure, addr bin.Addr, err error) error {
	return errors.WithStack(&arch.DecodeError{Kind: kind, Addr: addr, Err: err})
}

// isCondBranch reports whether the given opcode is a conditional branch or a
// loop instruction.
func isCondBranch(op x86asm.Op) bool {
	switch op {
	// Loop terminators.
	case x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	// Conditional jump terminators.
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE, x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS:
		return true
	}
	return false
}

// isReturn reports whether the given opcode is a return instruction.
func isReturn(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return true
	}
	return false
}
