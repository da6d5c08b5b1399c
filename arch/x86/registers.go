package x86

import (
	"fmt"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"golang.org/x/arch/x86/x86asm"
)

// Status flags of the machine state record; each flag occupies one byte.
const (
	CF = iota
	PF
	AF
	ZF
	SF
	OF
	DF
	numFlags
)

// flagNames maps from status flag to register name.
var flagNames = [numFlags]string{"CF", "PF", "AF", "ZF", "SF", "OF", "DF"}

// registers is the register catalog of a processor mode, along with the
// mapping from decoder registers to catalog registers.
type registers struct {
	cat *arch.Catalog
	// Processor mode in bits.
	bits int
	// Maps from decoder register to catalog register.
	byReg map[x86asm.Reg]arch.RegID
	// Full width general purpose registers, in encoding order (rAX, rCX, rDX,
	// rBX, rSP, rBP, rSI, rDI, ...).
	gprs []arch.RegID
	// Instruction pointer.
	ip arch.RegID
	// Status flags.
	flags [numFlags]arch.RegID
	// Segment bases.
	fsBase, gsBase arch.RegID
}

// Register catalogs of the 32- and 64-bit processor modes.
var (
	regs32 = newRegisters(32)
	regs64 = newRegisters(64)
)

// Indices of general purpose registers in encoding order.
const (
	rAX = iota
	rCX
	rDX
	rBX
	rSP
	rBP
	rSI
	rDI
)

// newRegisters returns the register catalog of the given processor mode.
func newRegisters(bits int) *registers {
	ngprs := 8
	gprBase := x86asm.EAX
	size := 4
	if bits == 64 {
		ngprs = 16
		gprBase = x86asm.RAX
		size = 8
	}
	var specs []arch.RegSpec
	// Top-level registers.
	for i := 0; i < ngprs; i++ {
		specs = append(specs, arch.RegSpec{Name: (gprBase + x86asm.Reg(i)).String(), Size: size})
	}
	ipName := "EIP"
	if bits == 64 {
		ipName = "RIP"
	}
	specs = append(specs, arch.RegSpec{Name: ipName, Size: size})
	for _, name := range flagNames {
		specs = append(specs, arch.RegSpec{Name: name, Size: 1})
	}
	specs = append(specs,
		arch.RegSpec{Name: "FS_BASE", Size: size},
		arch.RegSpec{Name: "GS_BASE", Size: size},
	)
	nxmms := ngprs
	for i := 0; i < nxmms; i++ {
		specs = append(specs, arch.RegSpec{Name: fmt.Sprintf("XMM%d", i), Size: 16})
	}
	// Sub-registers.
	for i := 0; i < ngprs; i++ {
		if bits == 64 {
			specs = append(specs, arch.RegSpec{Name: (x86asm.EAX + x86asm.Reg(i)).String(), Size: 4, Parent: (x86asm.RAX + x86asm.Reg(i)).String()})
		}
		specs = append(specs, arch.RegSpec{Name: (x86asm.AX + x86asm.Reg(i)).String(), Size: 2, Parent: (x86asm.EAX + x86asm.Reg(i)).String()})
		// SPL, BPL, SIL and DIL are only addressable in 64-bit mode.
		if bits == 64 || i < rSP {
			specs = append(specs, arch.RegSpec{Name: lowByte(i).String(), Size: 1, Parent: (x86asm.AX + x86asm.Reg(i)).String()})
		}
		if i < rSP {
			specs = append(specs, arch.RegSpec{Name: (x86asm.AH + x86asm.Reg(i)).String(), Size: 1, Parent: (x86asm.AX + x86asm.Reg(i)).String(), Rel: 1})
		}
	}
	if bits == 64 {
		specs = append(specs, arch.RegSpec{Name: "EIP", Size: 4, Parent: "RIP"})
	}
	specs = append(specs, arch.RegSpec{Name: "IP", Size: 2, Parent: "EIP"})

	cat := arch.MustCatalog(specs)
	regs := &registers{
		cat:   cat,
		bits:  bits,
		byReg: make(map[x86asm.Reg]arch.RegID),
	}
	lookup := func(name string) arch.RegID {
		r, ok := cat.ByName(name)
		if !ok {
			panic(fmt.Errorf("unable to locate register %q", name))
		}
		return r.ID
	}
	for _, r := range cat.Registers() {
		regs.byReg[regFromName[r.Name]] = r.ID
	}
	delete(regs.byReg, 0)
	for i := 0; i < ngprs; i++ {
		regs.gprs = append(regs.gprs, lookup((gprBase + x86asm.Reg(i)).String()))
	}
	for i := 0; i < nxmms; i++ {
		regs.byReg[x86asm.X0+x86asm.Reg(i)] = lookup(fmt.Sprintf("XMM%d", i))
	}
	regs.ip = lookup(ipName)
	for i, name := range flagNames {
		regs.flags[i] = lookup(name)
	}
	regs.fsBase = lookup("FS_BASE")
	regs.gsBase = lookup("GS_BASE")
	return regs
}

// lowByte returns the low byte register of the general purpose register with
// the given encoding index. The decoder orders AH, CH, DH and BH before SPB.
func lowByte(i int) x86asm.Reg {
	if i < rSP {
		return x86asm.AL + x86asm.Reg(i)
	}
	return x86asm.SPB + x86asm.Reg(i-rSP)
}

// regFromName maps from register name to decoder register.
var regFromName = func() map[string]x86asm.Reg {
	m := make(map[string]x86asm.Reg)
	for r := x86asm.AL; r <= x86asm.RIP; r++ {
		m[r.String()] = r
	}
	return m
}()

// reg returns the catalog register of the given decoder register.
func (regs *registers) reg(r x86asm.Reg) (arch.RegID, bool) {
	id, ok := regs.byReg[r]
	return id, ok
}

// gpr returns the full width general purpose register with the given encoding
// index.
func (regs *registers) gpr(i int) arch.RegID {
	return regs.gprs[i]
}
