// Package stub generates transition stubs between native code and lifted code.
//
// Entry stubs let native code call lifted functions, callback stubs do the same
// for lifted functions reached through function pointers, and exit stubs let
// lifted code call external native functions. Every stub pushes its target
// address and jumps to a runtime trampoline selected by operating system,
// processor mode and calling convention.
package stub

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

var (
	// dbg is a logger which logs debug messages with "stub:" prefix to
	// standard error.
	dbg = log.New(os.Stderr, term.MagentaBold("stub:")+" ", 0)
	// warn is a logger which logs warning messages with "warning:" prefix to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("warning:")+" ", 0)
)

// Stub generation errors.
var (
	// ErrUnsupportedCallingConvention is returned when no trampoline exists
	// for a calling convention of the target.
	ErrUnsupportedCallingConvention = errors.New("unsupported calling convention")
	// ErrMissingLiftedFunction is returned when an entry or callback stub is
	// requested for an address without a lifted function.
	ErrMissingLiftedFunction = errors.New("missing lifted function")
	// ErrUnsupportedOS is returned for operating systems without stub support.
	ErrUnsupportedOS = errors.New("unsupported operating system")
	// ErrSignatureMismatch is returned when an exit stub is requested for a
	// native function whose stub was already created with another calling
	// convention or number of arguments.
	ErrSignatureMismatch = errors.New("native function signature mismatch")
)

// Kind is a transition stub kind.
type Kind uint8

// Stub kinds.
const (
	// Native to lifted, by name.
	KindEntry Kind = iota + 1
	// Lifted to native.
	KindExit
	// Native to lifted, by address.
	KindCallback
)

// String returns the string representation of the stub kind.
func (kind Kind) String() string {
	switch kind {
	case KindEntry:
		return "entry"
	case KindExit:
		return "exit"
	case KindCallback:
		return "callback"
	}
	return fmt.Sprintf("Kind(%d)", uint8(kind))
}

// Descriptor describes a generated transition stub.
type Descriptor struct {
	// Stub kind.
	Kind Kind
	// Operating system.
	OS arch.OS
	// Calling convention of the stubbed function.
	CallingConv arch.CallingConv
	// Number of arguments of the stubbed function; exit stubs only.
	NumArgs int
	// Processor mode in bits.
	Bits int
	// Symbol of the stub, decorated for exit stubs.
	Symbol string
	// Stub function.
	Func *ir.Func
}

// Native describes an external native function.
type Native struct {
	// Function name.
	Name string
	// Calling convention.
	CallingConv arch.CallingConv
	// Number of arguments.
	NumArgs int
	// The function does not return.
	NoReturn bool
}

// stubKey identifies a stub within a module.
type stubKey struct {
	m      *ir.Module
	kind   Kind
	symbol string
}

// exitKey identifies an exit stub within a module by its undecorated name.
type exitKey struct {
	m    *ir.Module
	name string
}

// Generator generates transition stubs for a target. It is safe for concurrent
// use; stub creation is atomic with respect to a given stub key.
type Generator struct {
	info arch.Info
	mu   sync.Mutex
	// Maps from stub key to generated stub.
	stubs map[stubKey]*Descriptor
	// Maps from exit stub name to generated exit stub.
	exits map[exitKey]*Descriptor
}

// New returns a new stub generator for the given target.
func New(info arch.Info) (*Generator, error) {
	switch info.OS {
	case arch.OSWindows, arch.OSLinux:
	default:
		return nil, errors.Wrapf(ErrUnsupportedOS, "unable to generate stubs for %v", info.OS)
	}
	if info.Arch.Family() != arch.FamilyX86 {
		return nil, errors.Errorf("unable to generate stubs for architecture %v", info.Arch)
	}
	return &Generator{
		info:  info,
		stubs: make(map[stubKey]*Descriptor),
		exits: make(map[exitKey]*Descriptor),
	}, nil
}

// Supports reports an error wrapping ErrUnsupportedCallingConvention if no
// trampoline exists for native functions of the given calling convention.
func (g *Generator) Supports(cc arch.CallingConv) error {
	if _, err := detachTrampoline(g.info, cc); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// LiftedName returns the name of the lifted function at the given address.
func LiftedName(addr bin.Addr) string {
	return fmt.Sprintf("sub_%x", uint64(addr))
}

// CallbackName returns the name of the callback stub of the lifted function at
// the given address.
func CallbackName(addr bin.Addr) string {
	return "callback_" + LiftedName(addr)
}

// ExitName returns the name of the exit stub of the given native function.
func ExitName(osType arch.OS, name string) string {
	if osType == arch.OSWindows {
		return "xlift_" + name
	}
	return "_" + name
}

// Descriptor returns the cached stub with the given symbol of the given kind
// in m.
func (g *Generator) Descriptor(m *ir.Module, kind Kind, symbol string) (*Descriptor, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	desc, ok := g.stubs[stubKey{m: m, kind: kind, symbol: symbol}]
	return desc, ok
}

// EntryPoint returns an entry stub named alias which transitions from native
// code into the lifted function at the given address. Repeated requests for
// the same alias return the same stub.
func (g *Generator) EntryPoint(m *ir.Module, alias string, entry bin.Addr) (*ir.Func, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	desc, err := g.entryPoint(m, KindEntry, alias, entry)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return desc.Func, nil
}

// Callback returns a callback stub which transitions from native code into the
// lifted function at the given address.
func (g *Generator) Callback(m *ir.Module, target bin.Addr) (*ir.Func, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	desc, err := g.entryPoint(m, KindCallback, CallbackName(target), target)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return desc.Func, nil
}

// entryPoint returns the entry or callback stub with the given name. The
// caller must hold g.mu.
func (g *Generator) entryPoint(m *ir.Module, kind Kind, alias string, entry bin.Addr) (*Descriptor, error) {
	key := stubKey{m: m, kind: kind, symbol: alias}
	if desc, ok := g.stubs[key]; ok {
		return desc, nil
	}
	target := findFunc(m, LiftedName(entry))
	if target == nil {
		return nil, errors.Wrapf(ErrMissingLiftedFunction, "unable to locate lifted function %q for entry point %q", LiftedName(entry), alias)
	}
	desc := &Descriptor{
		Kind:        kind,
		OS:          g.info.OS,
		CallingConv: arch.CallingConvC,
		Bits:        g.info.AddrSize,
		Symbol:      alias,
	}
	if f := findFunc(m, alias); f != nil {
		// Defined by an earlier generator or by the input module.
		desc.Func = f
		g.stubs[key] = desc
		return desc, nil
	}
	trampoline := attachTrampoline(g.info)
	g.declareTrampoline(m, trampoline)
	targetSym, stubSym := target.Name(), alias
	if g.info.OS == arch.OSWindows {
		var err error
		if targetSym, err = DecorateName(targetSym, arch.CallingConvC, 0, g.info.AddrSize); err != nil {
			return nil, errors.WithStack(err)
		}
		if stubSym, err = DecorateName(stubSym, arch.CallingConvC, 0, g.info.AddrSize); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	m.ModuleAsms = append(m.ModuleAsms, pushJump(g.info, stubSym, targetSym, false, trampoline)...)
	w := m.NewFunc(alias, types.Void)
	w.FuncAttrs = append(w.FuncAttrs, enum.FuncAttrNoInline, enum.FuncAttrNaked)
	desc.Func = w
	g.stubs[key] = desc
	dbg.Printf("created %v stub %q of %q", kind, alias, target.Name())
	return desc, nil
}

// ExitPoint returns an exit stub which transitions from lifted code into the
// given external native function. The stub has the given parameter types, as
// called from lifted code. Repeated requests for the same decorated name
// return the same stub.
func (g *Generator) ExitPoint(m *ir.Module, native Native, params ...types.Type) (*ir.Func, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	desc, err := g.exitPoint(m, native, params)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return desc.Func, nil
}

// exitPoint returns the exit stub of the given native function. The caller
// must hold g.mu.
func (g *Generator) exitPoint(m *ir.Module, native Native, params []types.Type) (*Descriptor, error) {
	trampoline, err := detachTrampoline(g.info, native.CallingConv)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	symbol, err := DecorateName(native.Name, native.CallingConv, native.NumArgs, g.info.AddrSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	name := ExitName(g.info.OS, native.Name)
	if prev, ok := g.exits[exitKey{m: m, name: name}]; ok {
		if prev.CallingConv != native.CallingConv || prev.NumArgs != native.NumArgs {
			return nil, errors.Wrapf(ErrSignatureMismatch, "exit stub %q of %q already created as %q (%v, %d arguments)", name, symbol, prev.Symbol, prev.CallingConv, prev.NumArgs)
		}
		return prev, nil
	}
	key := stubKey{m: m, kind: KindExit, symbol: symbol}
	desc := &Descriptor{
		Kind:        KindExit,
		OS:          g.info.OS,
		CallingConv: native.CallingConv,
		NumArgs:     native.NumArgs,
		Bits:        g.info.AddrSize,
		Symbol:      symbol,
	}
	if f := findFunc(m, name); f != nil {
		desc.Func = f
		g.stubs[key] = desc
		g.exits[exitKey{m: m, name: name}] = desc
		return desc, nil
	}
	// Declare the native function, so that 64-bit stubs of declared
	// functions may jump through the procedure linkage table.
	word := types.NewInt(uint64(g.info.AddrSize))
	if findFunc(m, native.Name) == nil {
		var ps []*ir.Param
		for i := 0; i < native.NumArgs; i++ {
			ps = append(ps, ir.NewParam("", word))
		}
		f := m.NewFunc(native.Name, word, ps...)
		if native.NoReturn {
			f.FuncAttrs = append(f.FuncAttrs, enum.FuncAttrNoReturn)
		}
	}
	g.declareTrampoline(m, trampoline)
	targetSym, stubSym := native.Name, name
	if g.info.OS == arch.OSWindows {
		targetSym = symbol
		if stubSym, err = DecorateName(stubSym, native.CallingConv, native.NumArgs, g.info.AddrSize); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	m.ModuleAsms = append(m.ModuleAsms, pushJump(g.info, stubSym, targetSym, true, trampoline)...)
	var ps []*ir.Param
	for _, p := range params {
		ps = append(ps, ir.NewParam("", p))
	}
	w := m.NewFunc(name, types.Void, ps...)
	w.FuncAttrs = append(w.FuncAttrs, enum.FuncAttrNoInline, enum.FuncAttrNaked)
	if native.NoReturn {
		w.FuncAttrs = append(w.FuncAttrs, enum.FuncAttrNoReturn)
	}
	desc.Func = w
	g.stubs[key] = desc
	g.exits[exitKey{m: m, name: name}] = desc
	dbg.Printf("created exit stub %q of %q", name, symbol)
	return desc, nil
}

// ### [ Helper functions ] ####################################################

// findFunc returns the function with the given name in m, or nil if not
// present.
func findFunc(m *ir.Module, name string) *ir.Func {
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}
