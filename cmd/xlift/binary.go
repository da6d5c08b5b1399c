package main

import (
	"debug/elf"
	"debug/pe"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/jcrutchvt10/McSema-decompiler/disasm"
	"github.com/mewkiz/pkg/osutil"
	"github.com/pkg/errors"
)

// binary is a parsed binary executable.
type binary struct {
	// Operating system name.
	os string
	// Architecture name.
	arch string
	// Image base.
	base bin.Addr
	// Entry point.
	entry bin.Addr
	// Executable sections.
	sects []disasm.Section
}

// loadBinary parses the given PE or ELF binary executable.
func loadBinary(binPath string) (*binary, error) {
	if !osutil.Exists(binPath) {
		return nil, errors.Errorf("unable to locate binary executable %q", binPath)
	}
	dbg.Printf("loadBinary(binPath = %q)", binPath)
	if file, err := pe.Open(binPath); err == nil {
		defer file.Close()
		return loadPE(file)
	}
	file, err := elf.Open(binPath)
	if err != nil {
		return nil, errors.Errorf("unable to parse %q as PE or ELF binary executable", binPath)
	}
	defer file.Close()
	return loadELF(file)
}

// loadPE parses the given PE file.
func loadPE(file *pe.File) (*binary, error) {
	b := &binary{os: arch.OSWindows.String()}
	switch file.FileHeader.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		b.arch = arch.TypeX86.String()
	case pe.IMAGE_FILE_MACHINE_AMD64:
		b.arch = arch.TypeAMD64.String()
	default:
		return nil, errors.Errorf("support for PE machine type 0x%04X not yet implemented", file.FileHeader.Machine)
	}
	switch optHdr := file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		b.base = bin.Addr(optHdr.ImageBase)
		b.entry = b.base + bin.Addr(optHdr.AddressOfEntryPoint)
	case *pe.OptionalHeader64:
		b.base = bin.Addr(optHdr.ImageBase)
		b.entry = b.base + bin.Addr(optHdr.AddressOfEntryPoint)
	default:
		return nil, errors.New("missing PE optional header")
	}
	for _, sect := range file.Sections {
		if !isExec(sect) {
			continue
		}
		data, err := sect.Data()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		dbg.Printf("=== [ section %q ] ===", sect.Name)
		b.sects = append(b.sects, disasm.Section{
			Addr: b.base + bin.Addr(sect.VirtualAddress),
			Data: data,
		})
	}
	return b, nil
}

// loadELF parses the given ELF file.
func loadELF(file *elf.File) (*binary, error) {
	b := &binary{
		os:    arch.OSLinux.String(),
		entry: bin.Addr(file.Entry),
	}
	switch file.Machine {
	case elf.EM_386:
		b.arch = arch.TypeX86.String()
	case elf.EM_X86_64:
		b.arch = arch.TypeAMD64.String()
	case elf.EM_MIPS:
		b.arch = arch.TypeMIPS32.String()
		if file.Class == elf.ELFCLASS64 {
			b.arch = arch.TypeMIPS64.String()
		}
	default:
		return nil, errors.Errorf("support for ELF machine type %v not yet implemented", file.Machine)
	}
	for _, prog := range file.Progs {
		if prog.Type == elf.PT_LOAD {
			b.base = bin.Addr(prog.Vaddr)
			break
		}
	}
	for _, sect := range file.Sections {
		if sect.Type != elf.SHT_PROGBITS || sect.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		data, err := sect.Data()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		dbg.Printf("=== [ section %q ] ===", sect.Name)
		b.sects = append(b.sects, disasm.Section{
			Addr: bin.Addr(sect.Addr),
			Data: data,
		})
	}
	return b, nil
}

// ### [ Helper functions ] ####################################################

// isExec reports whether the given section is executable.
func isExec(sect *pe.Section) bool {
	const codeMask = 0x00000020
	return sect.Characteristics&codeMask != 0
}
