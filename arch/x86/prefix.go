package x86

import (
	"fmt"
	"strings"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"golang.org/x/arch/x86/x86asm"
)

// fixup specifies the repeated variant of a string instruction.
type fixup struct {
	// Base opcode.
	op x86asm.Op
	// Repeat prefix.
	rep arch.PrefixKind
	// 64-bit only; the 32-bit processor mode keeps the base opcode.
	only64 bool
}

// fixups lists the repeated string instruction variants. The position of an
// entry determines its extended opcodes, so entries must only be appended.
var fixups = []fixup{
	{op: x86asm.MOVSB, rep: arch.RepPrefix},
	{op: x86asm.MOVSW, rep: arch.RepPrefix},
	{op: x86asm.MOVSD, rep: arch.RepPrefix},
	{op: x86asm.MOVSQ, rep: arch.RepPrefix, only64: true},
	{op: x86asm.STOSB, rep: arch.RepPrefix},
	{op: x86asm.STOSW, rep: arch.RepPrefix},
	{op: x86asm.STOSD, rep: arch.RepPrefix},
	{op: x86asm.STOSQ, rep: arch.RepPrefix, only64: true},
	{op: x86asm.LODSB, rep: arch.RepPrefix},
	{op: x86asm.LODSW, rep: arch.RepPrefix},
	{op: x86asm.LODSD, rep: arch.RepPrefix},
	{op: x86asm.LODSQ, rep: arch.RepPrefix, only64: true},
	{op: x86asm.INSB, rep: arch.RepPrefix},
	{op: x86asm.INSW, rep: arch.RepPrefix},
	{op: x86asm.INSD, rep: arch.RepPrefix},
	{op: x86asm.OUTSB, rep: arch.RepPrefix},
	{op: x86asm.OUTSW, rep: arch.RepPrefix},
	{op: x86asm.OUTSD, rep: arch.RepPrefix},
	{op: x86asm.CMPSB, rep: arch.RepPrefix},
	{op: x86asm.CMPSW, rep: arch.RepPrefix},
	{op: x86asm.CMPSD, rep: arch.RepPrefix},
	{op: x86asm.CMPSQ, rep: arch.RepPrefix, only64: true},
	{op: x86asm.SCASB, rep: arch.RepPrefix},
	{op: x86asm.SCASW, rep: arch.RepPrefix},
	{op: x86asm.SCASD, rep: arch.RepPrefix},
	{op: x86asm.SCASQ, rep: arch.RepPrefix, only64: true},
	{op: x86asm.CMPSB, rep: arch.RepNePrefix},
	{op: x86asm.CMPSW, rep: arch.RepNePrefix},
	{op: x86asm.CMPSD, rep: arch.RepNePrefix},
	{op: x86asm.CMPSQ, rep: arch.RepNePrefix, only64: true},
	{op: x86asm.SCASB, rep: arch.RepNePrefix},
	{op: x86asm.SCASW, rep: arch.RepNePrefix},
	{op: x86asm.SCASD, rep: arch.RepNePrefix},
	{op: x86asm.SCASQ, rep: arch.RepNePrefix, only64: true},
}

// fixupKey identifies a fixup by base opcode and repeat prefix.
type fixupKey struct {
	op  x86asm.Op
	rep arch.PrefixKind
}

// fixupIndex maps from base opcode and repeat prefix to fixup index.
var fixupIndex = func() map[fixupKey]int {
	m := make(map[fixupKey]int)
	for i, f := range fixups {
		m[fixupKey{op: f.op, rep: f.rep}] = i
	}
	return m
}()

// stringOps is the set of string instruction opcodes.
var stringOps = func() map[x86asm.Op]bool {
	m := make(map[x86asm.Op]bool)
	for _, f := range fixups {
		m[f.op] = true
	}
	return m
}()

// fixupOpcode returns the opcode of the given base opcode when preceded by
// the given repeat prefix in the given processor mode. The base opcode is
// returned unchanged if no variant exists.
func fixupOpcode(op x86asm.Op, rep arch.PrefixKind, bits int) arch.Opcode {
	if rep != arch.RepPrefix && rep != arch.RepNePrefix {
		return arch.Opcode(op)
	}
	i, ok := fixupIndex[fixupKey{op: op, rep: rep}]
	if !ok {
		return arch.Opcode(op)
	}
	f := fixups[i]
	if bits != 64 && f.only64 {
		return arch.Opcode(op)
	}
	return extOpcode(i, bits)
}

// extOpcode returns the extended opcode of the given fixup in the given
// processor mode.
func extOpcode(i, bits int) arch.Opcode {
	op := arch.ExtOpcodeBase + arch.Opcode(2*i)
	if bits == 64 {
		op++
	}
	return op
}

// baseOpcode returns the base opcode and repeat prefix of the given extended
// opcode.
func baseOpcode(op arch.Opcode) (x86asm.Op, arch.PrefixKind, bool) {
	if op < arch.ExtOpcodeBase {
		return x86asm.Op(op), arch.NoPrefix, true
	}
	i := int(op-arch.ExtOpcodeBase) / 2
	if i >= len(fixups) {
		return 0, arch.NoPrefix, false
	}
	return fixups[i].op, fixups[i].rep, true
}

// extOpcodeName returns the mnemonic of the given extended opcode.
func extOpcodeName(op arch.Opcode) string {
	i := int(op-arch.ExtOpcodeBase) / 2
	if i >= len(fixups) {
		return ""
	}
	f := fixups[i]
	bits := 32
	if (op-arch.ExtOpcodeBase)%2 == 1 {
		bits = 64
	} else if f.only64 {
		return ""
	}
	prefix := "REP"
	if f.rep == arch.RepNePrefix {
		prefix = "REPNE"
	} else if isCompareString(f.op) {
		prefix = "REPE"
	}
	return fmt.Sprintf("%s_%s_%d", prefix, f.op, bits)
}

// isCompareString reports whether the given opcode is a string comparison,
// which repeats while equal rather than while rCX is non-zero.
func isCompareString(op x86asm.Op) bool {
	return strings.HasPrefix(op.String(), "CMPS") || strings.HasPrefix(op.String(), "SCAS")
}

// ### [ Prefix classification ] ###############################################

// isPrefixByte reports whether b is a legacy prefix byte, or a REX prefix byte
// in 64-bit mode.
func isPrefixByte(b byte, bits int) bool {
	switch b {
	case 0xF0, 0xF2, 0xF3, 0x2E, 0x36, 0x3E, 0x26, 0x64, 0x65, 0x66, 0x67:
		return true
	}
	return bits == 64 && b&0xF0 == 0x40
}

// prefixes returns the effective prefixes of the given decoded instruction,
// preceded by the prefix bytes consumed separately by the decode loop.
func prefixes(inst *x86asm.Inst, extra []byte) []x86asm.Prefix {
	var ps []x86asm.Prefix
	for _, b := range extra {
		ps = append(ps, x86asm.Prefix(b))
	}
	for _, p := range inst.Prefix {
		if p == 0 {
			break
		}
		if p&x86asm.PrefixIgnored != 0 {
			continue
		}
		ps = append(ps, p&^x86asm.PrefixImplicit)
	}
	return ps
}

// repeatPrefix returns the repeat prefix of the given prefixes, or NoPrefix.
// The last repeat prefix takes precedence. F2 and F3 only repeat string
// instructions; elsewhere they are mandatory prefixes selecting the opcode
// (e.g. MOVSS and POPCNT) or ignored.
func repeatPrefix(op x86asm.Op, ps []x86asm.Prefix) arch.PrefixKind {
	if !stringOps[op] {
		return arch.NoPrefix
	}
	kind := arch.NoPrefix
	for _, p := range ps {
		switch p {
		case x86asm.PrefixREP:
			kind = arch.RepPrefix
		case x86asm.PrefixREPN:
			kind = arch.RepNePrefix
		}
	}
	return kind
}

// segmentPrefix returns the thread-local segment override of the given
// instruction, or NoPrefix.
func segmentPrefix(inst *x86asm.Inst, ps []x86asm.Prefix) arch.PrefixKind {
	kind := arch.NoPrefix
	for _, p := range ps {
		switch p {
		case x86asm.PrefixFS:
			kind = arch.FSPrefix
		case x86asm.PrefixGS:
			kind = arch.GSPrefix
		}
	}
	for _, arg := range inst.Args {
		if mem, ok := arg.(x86asm.Mem); ok {
			switch mem.Segment {
			case x86asm.FS:
				kind = arch.FSPrefix
			case x86asm.GS:
				kind = arch.GSPrefix
			}
		}
	}
	return kind
}

// classifyPrefix returns the prefix kind of an instruction with the given
// repeat and segment prefixes. Segment overrides take precedence, as the
// repeat prefix of string instructions is encoded in their opcode.
func classifyPrefix(rep, seg arch.PrefixKind) arch.PrefixKind {
	if seg != arch.NoPrefix {
		return seg
	}
	return rep
}
