// Package lift translates decoded native functions into LLVM IR.
//
// Every native function is lifted to an LLVM IR function taking a pointer to
// the machine state record, which models the registers and status flags of
// the processor. Instructions are translated by the instruction lifters of
// the architecture module, looked up in the dispatch table of the session.
package lift

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/jcrutchvt10/McSema-decompiler/disasm"
	"github.com/jcrutchvt10/McSema-decompiler/session"
	"github.com/jcrutchvt10/McSema-decompiler/stub"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

var (
	// dbg is a logger which logs debug messages with "lift:" prefix to standard
	// error.
	dbg = log.New(os.Stderr, term.MagentaBold("lift:")+" ", 0)
	// warn is a logger which logs warning messages with "warning:" prefix to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("warning:")+" ", 0)
)

// SetDebugOutput sets the output destination of debug messages.
func SetDebugOutput(w io.Writer) {
	dbg.SetOutput(w)
}

// Runtime helpers called by lifted code.
const (
	// Called in place of instructions without lifter; void(State*, addr).
	helperUnsupported = "__xlift_unsupported"
	// Called at instructions which failed to decode; void(State*, addr).
	helperDecodeFailure = "__xlift_decode_failure"
)

// Failure records an instruction which could not be lifted.
type Failure struct {
	// Address of instruction.
	Addr bin.Addr
	// Mnemonic of instruction; empty for decode failures.
	Mnemonic string
	// Underlying error.
	Err error
}

// String returns the string representation of the failure.
func (f *Failure) String() string {
	if f.Mnemonic == "" {
		return fmt.Sprintf("%v: %v", f.Addr, f.Err)
	}
	return fmt.Sprintf("%v: %s: %v", f.Addr, f.Mnemonic, f.Err)
}

// Result is the result of lifting a set of functions.
type Result struct {
	// LLVM IR module.
	Module *ir.Module
	// Instructions which failed to lift, sorted by address.
	Failures []*Failure
}

// Unsupported returns the sorted mnemonics of instructions without lifter.
func (res *Result) Unsupported() []string {
	seen := make(map[string]bool)
	var names []string
	for _, f := range res.Failures {
		var e *arch.UnsupportedError
		if !errors.As(f.Err, &e) || seen[e.Mnemonic] {
			continue
		}
		seen[e.Mnemonic] = true
		names = append(names, e.Mnemonic)
	}
	sort.Strings(names)
	return names
}

// Lifter lifts native functions of a session to an LLVM IR module.
type Lifter struct {
	sess *session.Session
	cfg  *Config
	// LLVM IR module being generated.
	m *ir.Module
	// Machine state record layout.
	state *stateLayout
	// Address-size integer type.
	word *types.IntType
	// Maps from function address to lifted function.
	funcs map[bin.Addr]*ir.Func
	// Maps from address to external native function.
	externals map[bin.Addr]External
	// Maps from function name to declaration of runtime helpers and
	// intrinsics.
	decls map[string]*ir.Func
	// Instructions which failed to lift.
	failures []*Failure
}

// New returns a new lifter for the given session and configuration.
func New(sess *session.Session, cfg *Config) *Lifter {
	if cfg == nil {
		cfg = &Config{}
	}
	info := sess.Info()
	m := ir.NewModule()
	m.TargetTriple = info.Triple
	m.DataLayout = info.DataLayout
	l := &Lifter{
		sess:      sess,
		cfg:       cfg,
		m:         m,
		state:     newStateLayout(m, sess.Catalog()),
		word:      types.NewInt(uint64(info.AddrSize)),
		funcs:     make(map[bin.Addr]*ir.Func),
		externals: make(map[bin.Addr]External),
		decls:     make(map[string]*ir.Func),
	}
	for _, ext := range cfg.Externals {
		l.externals[ext.Addr] = ext
	}
	// Image-relative code references on 64-bit Windows.
	if info.OS == arch.OSWindows && info.Arch == arch.TypeAMD64 {
		stub.DeclareImageBase(m)
	}
	return l
}

// Lift lifts the given functions, and returns the resulting LLVM IR module
// along with the instructions which failed to lift. Failures of individual
// instructions do not abort lifting.
func (l *Lifter) Lift(funcs []*disasm.Function) (*Result, error) {
	// Index functions.
	l.indexFuncs(funcs)
	// Lift functions.
	for _, f := range funcs {
		if err := l.liftFunc(f); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	// Add transition stubs.
	if stubs := l.sess.Stubs(); stubs != nil {
		stubs.AttachDetach(l.m)
		for _, entry := range l.cfg.Entries {
			if _, err := stubs.EntryPoint(l.m, entry.Name, entry.Addr); err != nil {
				if errors.Is(err, stub.ErrMissingLiftedFunction) {
					warn.Printf("unable to create entry point %q; %v", entry.Name, err)
					continue
				}
				return nil, errors.WithStack(err)
			}
		}
	}
	sort.SliceStable(l.failures, func(i, j int) bool {
		return l.failures[i].Addr < l.failures[j].Addr
	})
	res := &Result{
		Module:   l.m,
		Failures: l.failures,
	}
	if len(res.Failures) > 0 {
		dbg.Printf("%d instructions failed to lift", len(res.Failures))
	}
	return res, nil
}

// indexFuncs declares the LLVM IR functions of the given functions.
func (l *Lifter) indexFuncs(funcs []*disasm.Function) {
	for _, f := range funcs {
		if _, ok := l.funcs[f.Entry]; ok {
			continue
		}
		state := ir.NewParam("state", l.state.ptr)
		l.funcs[f.Entry] = l.m.NewFunc(stub.LiftedName(f.Entry), types.Void, state)
	}
}

// liftFunc lifts the given function.
func (l *Lifter) liftFunc(asmFunc *disasm.Function) error {
	f, ok := l.funcs[asmFunc.Entry]
	if !ok {
		return errors.Errorf("unable to locate function at %v", asmFunc.Entry)
	}
	if len(f.Blocks) > 0 {
		// Already lifted.
		return nil
	}
	dbg.Printf("lifting function %v", asmFunc.Entry)
	fl := newFuncLifter(l, f, asmFunc)
	return fl.liftFunc()
}

// fail records a failure to lift the given instruction.
func (l *Lifter) fail(addr bin.Addr, mnemonic string, err error) {
	l.failures = append(l.failures, &Failure{Addr: addr, Mnemonic: mnemonic, Err: err})
}

// declare returns the function declaration with the given name and signature,
// creating it if not already present.
func (l *Lifter) declare(name string, ret types.Type, params ...types.Type) *ir.Func {
	if f, ok := l.decls[name]; ok {
		return f
	}
	for _, f := range l.m.Funcs {
		if f.Name() == name {
			l.decls[name] = f
			return f
		}
	}
	var ps []*ir.Param
	for _, p := range params {
		ps = append(ps, ir.NewParam("", p))
	}
	f := l.m.NewFunc(name, ret, ps...)
	l.decls[name] = f
	return f
}

// exitStub returns the exit stub of the external function at the given
// address.
func (l *Lifter) exitStub(addr bin.Addr) (*ir.Func, bool) {
	ext, ok := l.externals[addr]
	if !ok {
		return nil, false
	}
	stubs := l.sess.Stubs()
	if stubs == nil {
		return nil, false
	}
	f, err := stubs.ExitPoint(l.m, ext.native(), l.state.ptr)
	if err != nil {
		warn.Printf("unable to create exit stub of %q; %v", ext.Name, err)
		return nil, false
	}
	return f, true
}
