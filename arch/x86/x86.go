// Package x86 implements the architecture module of the IA-32 and x86-64
// architecture family.
package x86

import (
	"log"
	"os"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

var (
	// dbg is a logger which logs debug messages with "x86:" prefix to standard
	// error.
	dbg = log.New(os.Stderr, term.MagentaBold("x86:")+" ", 0)
	// warn is a logger which logs warning messages with "warning:" prefix to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("warning:")+" ", 0)
)

// MaxInstLen is the maximum length in bytes of an x86 instruction.
const MaxInstLen = 15

// Data layouts of the supported targets.
const (
	dataLayoutWin32 = "e-p:32:32:32-i1:8:8-i8:8:8-i16:16:16-i32:32:32-i64:64:64-f32:32:32-f64:64:64-f80:128:128-v64:64:64-v128:128:128-a0:0:64-f80:32:32-n8:16:32-S32"
	dataLayoutLinux = "e-p:32:32:32-i1:8:8-i8:8:8-i16:16:16-i32:32:32-i64:32:64-f32:32:32-f64:32:64-v64:64:64-v128:128:128-a0:0:64-f80:32:32-n8:16:32-S128"
	dataLayout64    = "e-m:e-i64:64-f80:128-n8:16:32:64-S128"
)

// targetKey identifies a supported target.
type targetKey struct {
	os   arch.OS
	arch arch.Type
}

// targets maps from (operating system, architecture) pair to target
// description.
var targets = map[targetKey]arch.Info{
	{arch.OSWindows, arch.TypeX86}: {
		Arch:        arch.TypeX86,
		OS:          arch.OSWindows,
		CallingConv: arch.CallingConvC,
		AddrSize:    32,
		Triple:      "i686-pc-win32",
		DataLayout:  dataLayoutWin32,
	},
	{arch.OSLinux, arch.TypeX86}: {
		Arch:        arch.TypeX86,
		OS:          arch.OSLinux,
		CallingConv: arch.CallingConvC,
		AddrSize:    32,
		Triple:      "i686-pc-linux-gnu",
		DataLayout:  dataLayoutLinux,
	},
	{arch.OSWindows, arch.TypeAMD64}: {
		Arch:        arch.TypeAMD64,
		OS:          arch.OSWindows,
		CallingConv: arch.CallingConvWin64,
		AddrSize:    64,
		Triple:      "x86_64-pc-win32",
		DataLayout:  dataLayout64,
	},
	{arch.OSLinux, arch.TypeAMD64}: {
		Arch:        arch.TypeAMD64,
		OS:          arch.OSLinux,
		CallingConv: arch.CallingConvSysV,
		AddrSize:    64,
		Triple:      "x86_64-pc-linux-gnu",
		DataLayout:  dataLayout64,
	},
}

// Module is the x86 architecture module of a specific target.
type Module struct {
	info arch.Info
	// Register catalog of the processor mode.
	regs *registers
}

// New returns a new x86 architecture module for the given operating system
// and architecture.
func New(osType arch.OS, typ arch.Type) (*Module, error) {
	if typ.Family() != arch.FamilyX86 {
		return nil, errors.Errorf("unsupported architecture %v for x86 module", typ)
	}
	info, ok := targets[targetKey{os: osType, arch: typ}]
	if !ok {
		return nil, errors.Errorf("unsupported operating system %v for architecture %v", osType, typ)
	}
	m := &Module{info: info}
	if info.AddrSize == 64 {
		m.regs = regs64
	} else {
		m.regs = regs32
	}
	return m, nil
}

// Family returns the architecture family of the module.
func (m *Module) Family() arch.Family {
	return arch.FamilyX86
}

// Info returns the target description of the module.
func (m *Module) Info() arch.Info {
	return m.info
}

// Mode returns the processor mode in bits.
func (m *Module) Mode() int {
	return m.info.AddrSize
}

// Catalog returns the register catalog of the processor mode.
func (m *Module) Catalog() *arch.Catalog {
	return m.regs.cat
}

// MaxInstLen returns the maximum instruction length in bytes.
func (m *Module) MaxInstLen() int {
	return MaxInstLen
}

// CallingConvs returns the native calling conventions of the target.
func (m *Module) CallingConvs() []arch.CallingConv {
	if m.info.AddrSize == 64 {
		return []arch.CallingConv{m.info.CallingConv}
	}
	return []arch.CallingConv{arch.CallingConvC, arch.CallingConvStdCall, arch.CallingConvFastCall}
}
