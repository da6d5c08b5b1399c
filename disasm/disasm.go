// Package disasm groups decoded instructions into basic blocks and functions,
// based on address oracles for function and basic block entry points.
package disasm

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

var (
	// dbg is a logger which logs debug messages with "disasm:" prefix to
	// standard error.
	dbg = log.New(os.Stderr, term.MagentaBold("disasm:")+" ", 0)
	// warn is a logger which logs warning messages with "warning:" prefix to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("warning:")+" ", 0)
)

// SetDebugOutput sets the output destination of debug messages.
func SetDebugOutput(w io.Writer) {
	dbg.SetOutput(w)
}

// Decoder decodes single instructions.
type Decoder interface {
	// Decode decodes the leading bytes of src as a single instruction at the
	// given address.
	Decode(addr bin.Addr, src []byte) (*arch.Inst, error)
}

// Section is a contiguous region of executable code.
type Section struct {
	// Virtual address of the first byte.
	Addr bin.Addr
	// Contents.
	Data []byte
}

// Oracle provides the addresses of functions and basic blocks.
type Oracle struct {
	// Function addresses.
	Funcs bin.Addrs
	// Basic block addresses.
	Blocks bin.Addrs
	// Maps from basic block address to the set of non-continuous functions that
	// basic block belongs to.
	Chunks map[bin.Addr]map[bin.Addr]bool
}

// Function is a function consisting of one or more basic blocks.
type Function struct {
	// Address of entry basic block.
	Entry bin.Addr
	// Map from basic block address to basic block, containing one or more basic
	// blocks.
	Blocks map[bin.Addr]*BasicBlock
}

// newFunc returns a new function.
func newFunc(entry bin.Addr) *Function {
	return &Function{
		Entry:  entry,
		Blocks: make(map[bin.Addr]*BasicBlock),
	}
}

// Addrs returns the sorted basic block addresses of the function.
func (f *Function) Addrs() bin.Addrs {
	var keys bin.Addrs
	for key := range f.Blocks {
		keys = append(keys, key)
	}
	sort.Sort(keys)
	return keys
}

// Failures returns the decode failures of the function.
func (f *Function) Failures() []*arch.DecodeError {
	var failures []*arch.DecodeError
	for _, key := range f.Addrs() {
		if e := f.Blocks[key].Failure; e != nil {
			failures = append(failures, e)
		}
	}
	return failures
}

// String returns the string representation of the function.
func (f *Function) String() string {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "func_%v() {\n", f.Entry)
	for i, key := range f.Addrs() {
		block := f.Blocks[key]
		if i != 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(buf, "%v\n", block)
	}
	buf.WriteString("}")
	return buf.String()
}

// BasicBlock is a basic block; a sequence of non-branching instructions
// terminated by an explicit or implicit (fake) control flow instruction.
type BasicBlock struct {
	// Entry address.
	Addr bin.Addr
	// Zero or more instructions; empty only if the first instruction failed to
	// decode.
	Insts []*arch.Inst
	// Decode failure which ended the basic block, or nil.
	Failure *arch.DecodeError
}

// String returns the string representation of the basic block.
func (block *BasicBlock) String() string {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "block_%v:", block.Addr)
	for _, inst := range block.Insts {
		fmt.Fprintf(buf, "\n\t%v", inst)
	}
	if block.Failure != nil {
		fmt.Fprintf(buf, "\n\t; %v", block.Failure)
	}
	return buf.String()
}

// Entry returns the entry address of the basic block.
func (block *BasicBlock) Entry() bin.Addr {
	return block.Addr
}

// Term returns the last instruction of the basic block, or nil if empty.
func (block *BasicBlock) Term() *arch.Inst {
	if len(block.Insts) == 0 {
		return nil
	}
	return block.Insts[len(block.Insts)-1]
}

// Successors returns the addresses of the successor basic blocks. A basic block
// which ends without a control flow instruction falls through to the next
// instruction. A basic block ended by a decode failure has no successors.
func (block *BasicBlock) Successors() []bin.Addr {
	term := block.Term()
	if term == nil || block.Failure != nil {
		return nil
	}
	if term.EndsBlock() {
		return term.Successors()
	}
	return []bin.Addr{term.Next()}
}

// Decode decodes the basic blocks of the given code sections, and groups them
// into functions based on the given oracle. Decode failures end the basic
// block in which they occur and are recorded in the basic block.
func Decode(dec Decoder, sects []Section, oracle *Oracle) ([]*Function, error) {
	blocks, err := decodeBlocks(dec, sects, oracle.Blocks)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	funcs, err := decodeFuncs(blocks, oracle)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return funcs, nil
}

// decodeFuncs groups the given basic blocks into functions.
func decodeFuncs(blocks []*BasicBlock, oracle *Oracle) ([]*Function, error) {
	dbg.Println("decodeFuncs(blocks)")
	funcAddrs := sortedAddrs(oracle.Funcs)
	// Add continuous basic blocks.
	j := 0
	var funcs []*Function
	funcFromAddr := make(map[bin.Addr]*Function)
	for i, funcAddr := range funcAddrs {
		start := funcAddr
		end := bin.Addr(math.MaxUint64)
		if i+1 < len(funcAddrs) {
			end = funcAddrs[i+1]
		}
		f := newFunc(funcAddr)
		for _, block := range blocks[j:] {
			blockAddr := block.Entry()
			if blockAddr >= end {
				break
			}
			if blockAddr < start {
				return nil, errors.Errorf("unable to locate function containing basic block; expected address >= %v, got %v", start, blockAddr)
			}
			f.Blocks[blockAddr] = block
			j++
		}
		if _, ok := f.Blocks[funcAddr]; !ok {
			warn.Printf("no basic block at entry of function %v", funcAddr)
		}
		funcs = append(funcs, f)
		funcFromAddr[f.Entry] = f
	}
	// Add non-continuous basic blocks.
	if len(oracle.Chunks) > 0 {
		blockFromAddr := make(map[bin.Addr]*BasicBlock)
		for _, block := range blocks {
			blockFromAddr[block.Entry()] = block
		}
		for blockAddr, chunk := range oracle.Chunks {
			block, ok := blockFromAddr[blockAddr]
			if !ok {
				return nil, errors.Errorf("unable to locate basic block at %v", blockAddr)
			}
			for funcAddr := range chunk {
				dbg.Printf("   add basic block %v to non-continuous function %v", blockAddr, funcAddr)
				f, ok := funcFromAddr[funcAddr]
				if !ok {
					return nil, errors.Errorf("unable to locate function at %v", funcAddr)
				}
				f.Blocks[blockAddr] = block
			}
		}
	}
	return funcs, nil
}

// decodeBlocks decodes the basic blocks at the given addresses.
func decodeBlocks(dec Decoder, sects []Section, blockAddrs bin.Addrs) ([]*BasicBlock, error) {
	blockAddrs = sortedAddrs(blockAddrs)
	var blocks []*BasicBlock
	for j, blockAddr := range blockAddrs {
		block := &BasicBlock{Addr: blockAddr}
		instAddr := blockAddr
		for {
			src, ok := code(sects, instAddr)
			if !ok {
				if instAddr == blockAddr {
					return nil, errors.Errorf("unable to locate code section containing basic block at %v", blockAddr)
				}
				block.Failure = &arch.DecodeError{Kind: arch.FailTruncated, Addr: instAddr}
				break
			}
			inst, err := dec.Decode(instAddr, src)
			if err != nil {
				block.Failure = decodeFailure(instAddr, err)
				warn.Printf("unable to decode instruction at %v; %v", instAddr, err)
				dbg.Printf("%s", dump(src))
				break
			}
			instAddr += bin.Addr(inst.Len)
			block.Insts = append(block.Insts, inst)
			if inst.EndsBlock() || (j+1 < len(blockAddrs) && instAddr >= blockAddrs[j+1]) {
				break
			}
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// ### [ Helper functions ] ####################################################

// code returns the contents of the code section starting at the given address.
func code(sects []Section, addr bin.Addr) ([]byte, bool) {
	for _, sect := range sects {
		if sect.Addr <= addr && addr < sect.Addr+bin.Addr(len(sect.Data)) {
			return sect.Data[addr-sect.Addr:], true
		}
	}
	return nil, false
}

// decodeFailure returns the decode error of the given error.
func decodeFailure(addr bin.Addr, err error) *arch.DecodeError {
	var e *arch.DecodeError
	if errors.As(err, &e) {
		return e
	}
	return &arch.DecodeError{Kind: arch.FailUnrecognized, Addr: addr, Err: err}
}

// dump returns a hex dump of the leading bytes of src.
func dump(src []byte) string {
	end := 16
	if end > len(src) {
		end = len(src)
	}
	return hex.Dump(src[:end])
}

// sortedAddrs returns a sorted copy of the given addresses without duplicates.
func sortedAddrs(addrs bin.Addrs) bin.Addrs {
	var out bin.Addrs
	seen := make(map[bin.Addr]bool)
	for _, addr := range addrs {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	sort.Sort(out)
	return out
}
