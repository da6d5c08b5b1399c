// Package arch defines the architecture-neutral model shared by the decoders,
// the lifter and the optimizer: register catalogs, decoded instructions,
// instruction dispatch tables and architecture modules.
package arch

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// OS is an operating system targeted by lifted code.
type OS uint8

// Operating systems.
const (
	OSInvalid OS = iota
	OSWindows
	OSLinux
)

// String returns the command line name of the operating system.
func (os OS) String() string {
	switch os {
	case OSWindows:
		return "win32"
	case OSLinux:
		return "linux"
	}
	return fmt.Sprintf("OS(%d)", uint8(os))
}

// ParseOS returns the operating system with the given name.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "win32", "windows":
		return OSWindows, nil
	case "linux":
		return OSLinux, nil
	}
	return OSInvalid, errors.Errorf("unknown operating system %q", s)
}

// Type is a concrete architecture name.
type Type uint8

// Architecture types.
const (
	TypeInvalid Type = iota
	TypeX86
	TypeAMD64
	TypeMIPS32
	TypeMIPS64
)

// String returns the command line name of the architecture.
func (t Type) String() string {
	switch t {
	case TypeX86:
		return "x86"
	case TypeAMD64:
		return "amd64"
	case TypeMIPS32:
		return "mips32"
	case TypeMIPS64:
		return "mips64"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType returns the architecture with the given name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "x86", "i386", "i686":
		return TypeX86, nil
	case "amd64", "x86_64", "x86-64":
		return TypeAMD64, nil
	case "mips32", "mips":
		return TypeMIPS32, nil
	case "mips64":
		return TypeMIPS64, nil
	}
	return TypeInvalid, errors.Errorf("unknown architecture %q", s)
}

// Family is an architecture family; one module implementation exists per
// family.
type Family uint8

// Architecture families.
const (
	FamilyX86 Family = iota + 1
	FamilyMIPS
)

// Family returns the family of the architecture.
func (t Type) Family() Family {
	switch t {
	case TypeX86, TypeAMD64:
		return FamilyX86
	case TypeMIPS32, TypeMIPS64:
		return FamilyMIPS
	}
	return 0
}

// CallingConv is a native calling convention.
type CallingConv uint8

// Calling conventions.
const (
	CallingConvC CallingConv = iota + 1
	CallingConvStdCall
	CallingConvFastCall
	CallingConvWin64
	CallingConvSysV
)

// String returns the string representation of the calling convention.
func (cc CallingConv) String() string {
	switch cc {
	case CallingConvC:
		return "cdecl"
	case CallingConvStdCall:
		return "stdcall"
	case CallingConvFastCall:
		return "fastcall"
	case CallingConvWin64:
		return "win64"
	case CallingConvSysV:
		return "sysv"
	}
	return fmt.Sprintf("CallingConv(%d)", uint8(cc))
}

// ParseCallingConv returns the calling convention with the given name.
func ParseCallingConv(s string) (CallingConv, error) {
	switch strings.ToLower(s) {
	case "c", "cdecl", "":
		return CallingConvC, nil
	case "stdcall":
		return CallingConvStdCall, nil
	case "fastcall":
		return CallingConvFastCall, nil
	case "win64":
		return CallingConvWin64, nil
	case "sysv", "x86_64_sysv":
		return CallingConvSysV, nil
	}
	return 0, errors.Errorf("unknown calling convention %q", s)
}

// MarshalText returns the textual representation of cc.
func (cc CallingConv) MarshalText() ([]byte, error) {
	return []byte(cc.String()), nil
}

// UnmarshalText unmarshals the text into cc.
func (cc *CallingConv) UnmarshalText(text []byte) error {
	x, err := ParseCallingConv(string(text))
	if err != nil {
		return errors.WithStack(err)
	}
	*cc = x
	return nil
}

// Info describes the target of a lifting session. It is fixed once the
// architecture is selected.
type Info struct {
	// Architecture.
	Arch Type
	// Operating system.
	OS OS
	// Default calling convention of lifted code.
	CallingConv CallingConv
	// Address size in number of bits.
	AddrSize int
	// LLVM target triple.
	Triple string
	// LLVM data layout.
	DataLayout string
}

// PtrSize returns the pointer size in bytes.
func (info Info) PtrSize() int {
	return info.AddrSize / 8
}
