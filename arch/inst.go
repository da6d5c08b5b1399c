package arch

import (
	"bytes"
	"fmt"

	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/pkg/errors"
)

// Opcode identifies an instruction opcode of an architecture. Opcodes below
// ExtOpcodeBase are the opcodes of the underlying disassembler; opcodes from
// ExtOpcodeBase and up are variants introduced by prefix fixups.
type Opcode uint32

// ExtOpcodeBase is the first opcode reserved for prefix fixup variants.
const ExtOpcodeBase Opcode = 0x10000

// PrefixKind classifies the instruction prefix relevant to lifting.
type PrefixKind uint8

// Prefix kinds.
const (
	NoPrefix PrefixKind = iota
	// Repeat while rCX != 0 (or while equal for comparisons).
	RepPrefix
	// Repeat while not equal.
	RepNePrefix
	// FS segment override; thread-local memory on most operating systems.
	FSPrefix
	// GS segment override.
	GSPrefix
)

// String returns the string representation of the prefix kind.
func (kind PrefixKind) String() string {
	switch kind {
	case NoPrefix:
		return "none"
	case RepPrefix:
		return "rep"
	case RepNePrefix:
		return "repne"
	case FSPrefix:
		return "fs"
	case GSPrefix:
		return "gs"
	}
	return fmt.Sprintf("PrefixKind(%d)", uint8(kind))
}

// Operand is a decoded instruction operand.
type Operand interface {
	String() string
}

// Inst is a decoded instruction. It is owned by the caller and never changes
// once returned by the decoder.
type Inst struct {
	// Address of instruction.
	Addr bin.Addr
	// Encoded length in bytes; always positive.
	Len int
	// Opcode, after prefix fixups.
	Op Opcode
	// Mnemonic of the opcode.
	Mnemonic string
	// Operands.
	Args []Operand
	// Prefix classification.
	Prefix PrefixKind
	// Terminator; no statically known successor unless Taken is set.
	Term bool
	// Branch target of direct jumps, conditional jumps and loops.
	Taken *bin.Addr
	// Explicit fallthrough of conditional jumps and loops.
	Fallthrough *bin.Addr
	// Target of direct calls.
	CallTarget *bin.Addr
	// Indices of operands relative to the instruction pointer.
	RIPRelative []int
	// Address size in bits.
	AddrSize int
	// Operand size in bits.
	DataSize int
	// Architecture specific representation of the instruction.
	Raw interface{}
}

// Next returns the address directly after the instruction.
func (inst *Inst) Next() bin.Addr {
	return (inst.Addr + bin.Addr(inst.Len)).Wrap(inst.AddrSize)
}

// Successors returns the statically known successor addresses of the
// instruction, the implicit fallthrough included.
func (inst *Inst) Successors() []bin.Addr {
	var succs []bin.Addr
	if inst.Taken != nil {
		succs = append(succs, *inst.Taken)
	}
	switch {
	case inst.Fallthrough != nil:
		succs = append(succs, *inst.Fallthrough)
	case !inst.Term:
		succs = append(succs, inst.Next())
	}
	return succs
}

// IsBranch reports whether the instruction is a branch or loop with a known
// target.
func (inst *Inst) IsBranch() bool {
	return inst.Taken != nil
}

// EndsBlock reports whether the instruction ends a basic block.
func (inst *Inst) EndsBlock() bool {
	return inst.Term || inst.Taken != nil || inst.Fallthrough != nil
}

// String returns the string representation of the instruction.
func (inst *Inst) String() string {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "%v: %s", inst.Addr, inst.Mnemonic)
	for i, arg := range inst.Args {
		if i == 0 {
			buf.WriteString(" ")
		} else {
			buf.WriteString(", ")
		}
		buf.WriteString(arg.String())
	}
	return buf.String()
}

// DecodeFailure is the kind of a decode failure.
type DecodeFailure uint8

// Decode failures.
const (
	// Not enough bytes to decode the instruction.
	FailTruncated DecodeFailure = iota + 1
	// Unknown instruction encoding.
	FailUnrecognized
	// The input consists of prefixes only.
	FailMalformedPrefixChain
	// A branch that requires an immediate target has a register or memory
	// operand.
	FailIndirectBranchWithoutImmediate
	// The processor mode is not supported by the decoder.
	FailInvalidMode
)

// String returns the string representation of the decode failure.
func (kind DecodeFailure) String() string {
	switch kind {
	case FailTruncated:
		return "truncated instruction"
	case FailUnrecognized:
		return "unrecognized instruction"
	case FailMalformedPrefixChain:
		return "malformed prefix chain"
	case FailIndirectBranchWithoutImmediate:
		return "indirect branch without immediate"
	case FailInvalidMode:
		return "invalid processor mode"
	}
	return fmt.Sprintf("DecodeFailure(%d)", uint8(kind))
}

// DecodeError is returned when an instruction cannot be decoded. The caller
// may skip the instruction and continue.
type DecodeError struct {
	// Kind of failure.
	Kind DecodeFailure
	// Address of instruction.
	Addr bin.Addr
	// Underlying error; may be nil.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to decode instruction at %v; %v: %v", e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("unable to decode instruction at %v; %v", e.Addr, e.Kind)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeFailureOf returns the decode failure kind of err, if err is caused by
// a DecodeError.
func DecodeFailureOf(err error) (DecodeFailure, bool) {
	var e *DecodeError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
