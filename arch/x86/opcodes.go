package x86

import (
	"strings"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"golang.org/x/arch/x86/x86asm"
)

// baseOpcodes lists every opcode known to the decoder.
var baseOpcodes = func() []x86asm.Op {
	var ops []x86asm.Op
	for op := x86asm.Op(1); !strings.HasPrefix(op.String(), "Op("); op++ {
		ops = append(ops, op)
	}
	return ops
}()

// Opcodes returns every opcode of the processor mode, the repeated string
// instruction variants included.
func (m *Module) Opcodes() []arch.Opcode {
	var ops []arch.Opcode
	for _, op := range baseOpcodes {
		ops = append(ops, arch.Opcode(op))
	}
	for i, f := range fixups {
		if m.Mode() != 64 && f.only64 {
			continue
		}
		ops = append(ops, extOpcode(i, m.Mode()))
	}
	return ops
}

// OpcodeName returns the mnemonic of the given opcode, or the empty string if
// unknown.
func (m *Module) OpcodeName(op arch.Opcode) string {
	if op >= arch.ExtOpcodeBase {
		return extOpcodeName(op)
	}
	s := x86asm.Op(op).String()
	if strings.HasPrefix(s, "Op(") {
		return ""
	}
	return s
}
