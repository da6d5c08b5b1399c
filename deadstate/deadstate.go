// Package deadstate eliminates redundant accesses of the machine state record
// in lifted LLVM IR modules.
//
// Every load and store of the machine state record is tagged with the
// register it accesses. Register liveness is computed backwards across basic
// blocks, call sites and function returns to a fixed point over the whole
// module. Stores of registers which are not live are then removed, and loads
// are forwarded from earlier loads and stores of the same register, before
// the generic cleanup passes of irutil run on every function.
package deadstate

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/irutil"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

var (
	// dbg is a logger which logs debug messages with "deadstate:" prefix to
	// standard error.
	dbg = log.New(os.Stderr, term.MagentaBold("deadstate:")+" ", 0)
)

// SetDebugOutput sets the output destination of debug messages.
func SetDebugOutput(w io.Writer) {
	dbg.SetOutput(w)
}

var (
	// ErrLivenessShrank is returned when the live registers of a program point
	// shrink between iterations of the fixed point computation, which
	// indicates inconsistent call graph information.
	ErrLivenessShrank = errors.New("liveness shrank during fixed point iteration")
	// ErrUnresolvedCall is returned when a call classified as internal does
	// not target a defined function.
	ErrUnresolvedCall = errors.New("unresolved call to internal function")
)

// Config is the configuration of the dead state eliminator.
type Config struct {
	// Disable whole-module dead register load and store optimizations.
	DisableGlobalOpt bool
}

// Eliminator is a dead state eliminator for the machine state record of a
// register catalog.
type Eliminator struct {
	Config
	// Register catalog of the machine state record.
	cat *arch.Catalog
	// Type layout of the module being optimized.
	layout layout
	// Tags of the loads and stores of the module being optimized.
	tags map[ir.Instruction]Tag
}

// New returns a new dead state eliminator for the machine state record of the
// given register catalog.
func New(cat *arch.Catalog) *Eliminator {
	return &Eliminator{
		cat:    cat,
		layout: layout{ptrSize: 8},
	}
}

// Optimize removes dead stores and redundant loads of the machine state
// record from the functions of m, and returns statistics of the
// optimization. The number of functions and basic blocks of m are used to
// size internal tables.
func (e *Eliminator) Optimize(m *ir.Module, numFuncs, numBlocks int) (*Stats, error) {
	stats := &Stats{}
	if e.DisableGlobalOpt {
		for _, f := range m.Funcs {
			n := irutil.NumInsts(f)
			stats.NumInstsPreOpt += n
			stats.NumInstsPostOpt += n
		}
		dbg.Printf("whole-module optimization disabled")
		return stats, nil
	}
	e.layout = newLayout(m)
	// Tag loads and stores.
	e.tags = make(map[ir.Instruction]Tag, numBlocks)
	for _, f := range m.Funcs {
		for inst, tag := range e.Annotate(f) {
			e.tags[inst] = tag
		}
	}
	// Compute liveness.
	a := e.newAnalysis(m, numFuncs, numBlocks)
	iterations, err := a.solve()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stats.Iterations = iterations
	// Rewrite functions.
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		e.rewriteFunc(f, a, stats)
		if _, err := irutil.Cleanup(f); err != nil {
			return nil, errors.Wrapf(err, "unable to clean up function %q", f.Name())
		}
		stats.NumInstsPostOpt += irutil.NumInsts(f)
	}
	dbg.Printf("%v", stats)
	return stats, nil
}

// ### [ Helper functions ] ####################################################

// callKind specifies the kind of a call instruction.
type callKind uint8

// Call kinds.
const (
	// Call of an LLVM intrinsic function.
	callIntrinsic callKind = iota
	// Call of an external function declaration.
	callExternal
	// Call through a function pointer or inline assembly.
	callIndirect
	// Call of a function defined in the module.
	callInternal
)

// classify returns the kind of the given call instruction, and its callee if
// statically known.
func classify(call *ir.InstCall) (callKind, *ir.Func) {
	f, ok := callee(call.Callee)
	switch {
	case !ok:
		return callIndirect, nil
	case len(f.Blocks) > 0:
		return callInternal, f
	case strings.HasPrefix(f.Name(), "llvm."):
		return callIntrinsic, f
	}
	return callExternal, f
}

// callee returns the function of the given callee value, looking through
// bitcasts.
func callee(v value.Value) (*ir.Func, bool) {
	switch v := v.(type) {
	case *ir.Func:
		return v, true
	case *constant.ExprBitCast:
		return callee(v.From)
	}
	return nil, false
}
