// Package session selects the architecture module of a lifting session and
// owns the state shared by every later stage: target description, register
// catalog, instruction dispatch table and transition stub generator.
package session

import (
	"io"
	"log"
	"os"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/arch/mips"
	"github.com/jcrutchvt10/McSema-decompiler/arch/x86"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/jcrutchvt10/McSema-decompiler/stub"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

// dbg is a logger which logs debug messages with "session:" prefix to standard
// error.
var dbg = log.New(os.Stderr, term.MagentaBold("session:")+" ", 0)

// SetDebugOutput sets the output destination of debug messages.
func SetDebugOutput(w io.Writer) {
	dbg.SetOutput(w)
}

// Session selection errors.
var (
	// ErrUnsupportedArchitecture is returned for unknown architecture names.
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")
	// ErrUnsupportedOS is returned for unknown operating system names, and for
	// operating systems not supported by the selected architecture.
	ErrUnsupportedOS = errors.New("unsupported operating system")
)

// Session is a lifting session for one target. It is read-only once created
// and safe for concurrent use.
type Session struct {
	module arch.Module
	table  *arch.DispatchTable
	// Transition stub generator; nil for architectures without lifted code.
	stubs *stub.Generator
}

// New returns a new lifting session for the given operating system and
// architecture names. Selection is all-or-nothing; on failure no session is
// returned.
func New(osName, archName string) (*Session, error) {
	typ, err := arch.ParseType(archName)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedArchitecture, "%v", err)
	}
	osType, err := arch.ParseOS(osName)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedOS, "%v", err)
	}
	var module arch.Module
	switch typ.Family() {
	case arch.FamilyX86:
		m, err := x86.New(osType, typ)
		if err != nil {
			return nil, errors.Wrapf(ErrUnsupportedOS, "%v", err)
		}
		module = m
	case arch.FamilyMIPS:
		m, err := mips.New(osType, typ)
		if err != nil {
			return nil, errors.Wrapf(ErrUnsupportedOS, "%v", err)
		}
		module = m
	default:
		return nil, errors.Wrapf(ErrUnsupportedArchitecture, "no module for architecture %v", typ)
	}
	return newSession(module)
}

// newSession returns a new lifting session of the given architecture module.
func newSession(module arch.Module) (*Session, error) {
	table := arch.NewDispatchTable()
	module.InitDispatchTable(table)
	table.Freeze()
	s := &Session{module: module, table: table}
	if ccs := module.CallingConvs(); len(ccs) > 0 {
		g, err := stub.New(module.Info())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for _, cc := range ccs {
			if err := g.Supports(cc); err != nil {
				return nil, errors.WithStack(err)
			}
		}
		s.stubs = g
	}
	info := module.Info()
	dbg.Printf("selected %v/%v (%s, %d-bit, %d lifters)", info.OS, info.Arch, info.Triple, info.AddrSize, table.Len())
	return s, nil
}

// Info returns the target description of the session.
func (s *Session) Info() arch.Info {
	return s.module.Info()
}

// Module returns the architecture module of the session.
func (s *Session) Module() arch.Module {
	return s.module
}

// Catalog returns the register catalog of the session.
func (s *Session) Catalog() *arch.Catalog {
	return s.module.Catalog()
}

// Stubs returns the transition stub generator of the session, or nil if the
// architecture lifts no code.
func (s *Session) Stubs() *stub.Generator {
	return s.stubs
}

// Decode decodes the leading bytes of src as a single instruction at the given
// address.
func (s *Session) Decode(addr bin.Addr, src []byte) (*arch.Inst, error) {
	return s.module.Decode(addr, src)
}

// Lifter returns the instruction lifter of the given opcode, or
// arch.Unsupported.
func (s *Session) Lifter(op arch.Opcode) arch.Lifter {
	return s.table.Lifter(op)
}

// Lookup returns the instruction lifter of the given opcode, if registered.
func (s *Session) Lookup(op arch.Opcode) (arch.Lifter, bool) {
	return s.table.Lookup(op)
}

// Supported returns the sorted mnemonics of supported instructions.
func (s *Session) Supported() []string {
	return s.table.Supported(s.module.OpcodeName)
}

// Unsupported returns the sorted mnemonics of unsupported instructions.
func (s *Session) Unsupported() []string {
	return s.table.Unsupported(s.module.Opcodes(), s.module.OpcodeName)
}

// Coverage writes the lists of supported and unsupported instructions to w.
func (s *Session) Coverage(w io.Writer, supported, unsupported bool) error {
	return s.table.WriteCoverage(w, s.module.Opcodes(), s.module.OpcodeName, supported, unsupported)
}
