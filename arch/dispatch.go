package arch

import (
	"fmt"
	"io"
	"sort"

	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
)

// Lifter translates the semantics of a decoded instruction into LLVM IR,
// emitting instructions into the current basic block of the context.
type Lifter func(ctx Context, inst *Inst) error

// Context is the lifting context of a single native function, as seen by
// instruction lifters.
type Context interface {
	// Info returns the target of the lifting session.
	Info() Info
	// Catalog returns the register catalog of the architecture.
	Catalog() *Catalog
	// Block returns the current basic block.
	Block() *ir.Block
	// SetBlock sets the current basic block.
	SetBlock(block *ir.Block)
	// NewBlock appends a new basic block to the function being lifted.
	NewBlock(name string) *ir.Block
	// State returns the pointer to the machine state record.
	State() value.Value
	// RegPtr returns a pointer to the given register of the machine state
	// record.
	RegPtr(id RegID) value.Value
	// ReadReg emits a load of the given register.
	ReadReg(id RegID) value.Value
	// WriteReg emits a store of v to the given register.
	WriteReg(id RegID, v value.Value)
	// BlockAt returns the basic block at the given address of the function
	// being lifted.
	BlockAt(addr bin.Addr) (*ir.Block, bool)
	// Callee returns the lifted function or exit stub at the given address.
	Callee(addr bin.Addr) (value.Value, bool)
	// CodeRef returns the native-callable address of the lifted function at
	// the given address as an integer of the given bit size, for use where
	// native code may call through the value.
	CodeRef(addr bin.Addr, bits int) (value.Value, bool)
	// Declare returns the function declaration with the given name and
	// signature, creating it if not already present.
	Declare(name string, ret types.Type, params ...types.Type) *ir.Func
}

// UnsupportedError reports an instruction without a registered lifter.
type UnsupportedError struct {
	// Address of instruction.
	Addr bin.Addr
	// Mnemonic of the instruction.
	Mnemonic string
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("support for instruction %s not yet implemented; unable to lift instruction at %v", e.Mnemonic, e.Addr)
}

// Unsupported is the lifter returned for opcodes without a registered lifter.
// It always fails with an *UnsupportedError.
func Unsupported(ctx Context, inst *Inst) error {
	return errors.WithStack(&UnsupportedError{Addr: inst.Addr, Mnemonic: inst.Mnemonic})
}

// DispatchTable maps from opcode to instruction lifter. It is populated once
// per architecture and read-only once frozen; concurrent lookups are safe.
type DispatchTable struct {
	lifters map[Opcode]Lifter
	frozen  bool
}

// NewDispatchTable returns a new empty dispatch table.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{
		lifters: make(map[Opcode]Lifter),
	}
}

// Register registers the lifter of the given opcode. It panics if the table is
// frozen or if a lifter is already registered for op.
func (t *DispatchTable) Register(op Opcode, l Lifter) {
	if t.frozen {
		panic(fmt.Errorf("dispatch table frozen; unable to register lifter for opcode %d", op))
	}
	if l == nil {
		panic(fmt.Errorf("nil lifter for opcode %d", op))
	}
	if _, ok := t.lifters[op]; ok {
		panic(fmt.Errorf("lifter for opcode %d already registered", op))
	}
	t.lifters[op] = l
}

// Freeze makes the table read-only.
func (t *DispatchTable) Freeze() {
	t.frozen = true
}

// Frozen reports whether the table is read-only.
func (t *DispatchTable) Frozen() bool {
	return t.frozen
}

// Len returns the number of registered lifters.
func (t *DispatchTable) Len() int {
	return len(t.lifters)
}

// Lookup returns the lifter registered for the given opcode.
func (t *DispatchTable) Lookup(op Opcode) (Lifter, bool) {
	l, ok := t.lifters[op]
	return l, ok
}

// Lifter returns the lifter registered for the given opcode, or Unsupported.
func (t *DispatchTable) Lifter(op Opcode) Lifter {
	if l, ok := t.lifters[op]; ok {
		return l
	}
	return Unsupported
}

// Supported returns the sorted mnemonics of registered opcodes with a known
// name.
func (t *DispatchTable) Supported(name func(Opcode) string) []string {
	var names []string
	for op := range t.lifters {
		if s := name(op); s != "" {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return names
}

// Unsupported returns the sorted mnemonics of the opcodes in universe without
// a registered lifter.
func (t *DispatchTable) Unsupported(universe []Opcode, name func(Opcode) string) []string {
	var names []string
	for _, op := range universe {
		if _, ok := t.lifters[op]; ok {
			continue
		}
		if s := name(op); s != "" {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return names
}

// WriteCoverage writes a human-readable coverage report of the table to w.
func (t *DispatchTable) WriteCoverage(w io.Writer, universe []Opcode, name func(Opcode) string, supported, unsupported bool) error {
	if supported {
		if _, err := fmt.Fprintln(w, "SUPPORTED INSTRUCTIONS:"); err != nil {
			return errors.WithStack(err)
		}
		for _, s := range t.Supported(name) {
			if _, err := fmt.Fprintf(w, "\t%s\n", s); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	if unsupported {
		if _, err := fmt.Fprintln(w, "UNSUPPORTED INSTRUCTIONS:"); err != nil {
			return errors.WithStack(err)
		}
		for _, s := range t.Unsupported(universe, name) {
			if _, err := fmt.Fprintf(w, "\t%s\n", s); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}
