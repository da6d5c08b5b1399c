// Package mips implements the architecture module of the MIPS architecture
// family. The module declares its registers and target description but
// performs no translation; every instruction is reported as unrecognized.
package mips

import (
	"fmt"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/pkg/errors"
)

// MaxInstLen is the length in bytes of a MIPS instruction.
const MaxInstLen = 4

// Module is the MIPS architecture module.
type Module struct {
	info arch.Info
	cat  *arch.Catalog
}

// New returns a new MIPS architecture module for the given operating system
// and architecture.
func New(osType arch.OS, typ arch.Type) (*Module, error) {
	if typ.Family() != arch.FamilyMIPS {
		return nil, errors.Errorf("unsupported architecture %v for MIPS module", typ)
	}
	if osType != arch.OSLinux {
		return nil, errors.Errorf("unsupported operating system %v for architecture %v", osType, typ)
	}
	info := arch.Info{
		Arch:        typ,
		OS:          osType,
		CallingConv: arch.CallingConvC,
		AddrSize:    32,
		Triple:      "mipsel-unknown-linux-gnu",
		DataLayout:  "e-m:m-p:32:32-i8:8:32-i16:16:32-i64:64-n32-S64",
	}
	if typ == arch.TypeMIPS64 {
		info.AddrSize = 64
		info.Triple = "mips64el-unknown-linux-gnuabi64"
		info.DataLayout = "e-m:e-i8:8:32-i16:16:32-i64:64-n32:64-S128"
	}
	cat, err := arch.NewCatalog(registers(info.AddrSize / 8))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Module{info: info, cat: cat}, nil
}

// registers returns the register specifications of general purpose registers
// of the given size.
func registers(size int) []arch.RegSpec {
	var specs []arch.RegSpec
	for i := 0; i < 32; i++ {
		specs = append(specs, arch.RegSpec{Name: fmt.Sprintf("R%d", i), Size: size})
	}
	specs = append(specs, arch.RegSpec{Name: "HI", Size: size})
	specs = append(specs, arch.RegSpec{Name: "LO", Size: size})
	specs = append(specs, arch.RegSpec{Name: "PC", Size: size})
	return specs
}

// Family returns the architecture family of the module.
func (m *Module) Family() arch.Family {
	return arch.FamilyMIPS
}

// Info returns the target description of the module.
func (m *Module) Info() arch.Info {
	return m.info
}

// Catalog returns the register catalog.
func (m *Module) Catalog() *arch.Catalog {
	return m.cat
}

// MaxInstLen returns the instruction length in bytes.
func (m *Module) MaxInstLen() int {
	return MaxInstLen
}

// Decode always fails; MIPS instructions are not yet decoded.
func (m *Module) Decode(addr bin.Addr, src []byte) (*arch.Inst, error) {
	if len(src) < MaxInstLen {
		return nil, errors.WithStack(&arch.DecodeError{Kind: arch.FailTruncated, Addr: addr})
	}
	return nil, errors.WithStack(&arch.DecodeError{Kind: arch.FailUnrecognized, Addr: addr, Err: errors.New("support for MIPS instructions not yet implemented")})
}

// InitDispatchTable registers no lifters.
func (m *Module) InitDispatchTable(t *arch.DispatchTable) {}

// Opcodes returns no opcodes.
func (m *Module) Opcodes() []arch.Opcode {
	return nil
}

// OpcodeName returns the empty string.
func (m *Module) OpcodeName(op arch.Opcode) string {
	return ""
}

// CallingConvs returns no calling conventions, as no code is lifted and thus
// no transition stubs are required.
func (m *Module) CallingConvs() []arch.CallingConv {
	return nil
}
