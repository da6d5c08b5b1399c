package arch

import "github.com/jcrutchvt10/McSema-decompiler/bin"

// Module is an architecture module; the capability bundle of one architecture
// family, instantiated for a specific architecture and operating system.
type Module interface {
	// Family returns the architecture family of the module.
	Family() Family
	// Info returns the target description of the module.
	Info() Info
	// Catalog returns the register catalog.
	Catalog() *Catalog
	// MaxInstLen returns the maximum instruction length in bytes.
	MaxInstLen() int
	// Decode decodes the leading bytes of src as a single instruction at the
	// given address. On failure, the returned error is a *DecodeError.
	Decode(addr bin.Addr, src []byte) (*Inst, error)
	// InitDispatchTable registers the instruction lifters of the module.
	InitDispatchTable(t *DispatchTable)
	// Opcodes returns every opcode known to the decoder of the module.
	Opcodes() []Opcode
	// OpcodeName returns the mnemonic of the given opcode, or the empty
	// string if unknown.
	OpcodeName(op Opcode) string
	// CallingConvs returns the native calling conventions of the target for
	// which transition stubs are required.
	CallingConvs() []CallingConv
}
