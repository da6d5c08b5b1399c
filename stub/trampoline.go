package stub

import (
	"fmt"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/pkg/errors"
)

// Runtime trampolines of 64-bit targets.
var trampolines64 = []string{
	"__xlift_attach_call",
	"__xlift_attach_ret",
	"__xlift_detach_call",
	"__xlift_detach_call_value",
	"__xlift_detach_ret",
}

// Runtime trampolines of 32-bit targets.
var trampolines32 = []string{
	"__xlift_attach_call_cdecl",
	"__xlift_attach_ret_cdecl",
	"__xlift_detach_call_cdecl",
	"__xlift_detach_ret_cdecl",
	"__xlift_detach_call_value",
	"__xlift_attach_ret_value",
	"__xlift_detach_call_stdcall",
	"__xlift_attach_ret_stdcall",
	"__xlift_detach_call_fastcall",
	"__xlift_attach_ret_fastcall",
}

// Trampolines returns the names of the runtime trampolines of the given
// target.
func Trampolines(info arch.Info) []string {
	if info.AddrSize == 64 {
		return trampolines64
	}
	return trampolines32
}

// AttachDetach declares the runtime trampolines of the target in m.
func (g *Generator) AttachDetach(m *ir.Module) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range Trampolines(g.info) {
		g.declareTrampoline(m, name)
	}
}

// declareTrampoline declares the runtime trampoline with the given name in m,
// unless already present. The caller must hold g.mu.
func (g *Generator) declareTrampoline(m *ir.Module, name string) {
	if findFunc(m, name) != nil {
		return
	}
	f := m.NewFunc(name, types.Void)
	f.FuncAttrs = append(f.FuncAttrs, enum.FuncAttrNaked)
}

// attachTrampoline returns the trampoline used to enter lifted code.
func attachTrampoline(info arch.Info) string {
	if info.AddrSize == 64 {
		return "__xlift_attach_call"
	}
	return "__xlift_attach_call_cdecl"
}

// detachTrampoline returns the trampoline used to leave lifted code for a
// native function of the given calling convention.
func detachTrampoline(info arch.Info, cc arch.CallingConv) (string, error) {
	if info.AddrSize == 64 {
		// 64-bit targets have a single native calling convention.
		if cc == arch.CallingConvC || cc == info.CallingConv {
			return "__xlift_detach_call", nil
		}
	} else {
		switch cc {
		case arch.CallingConvC:
			return "__xlift_detach_call_cdecl", nil
		case arch.CallingConvStdCall:
			return "__xlift_detach_call_stdcall", nil
		case arch.CallingConvFastCall:
			return "__xlift_detach_call_fastcall", nil
		}
	}
	return "", errors.Wrapf(ErrUnsupportedCallingConvention, "no trampoline for calling convention %v on %d-bit %v", cc, info.AddrSize, info.OS)
}

// DecorateName returns the symbol of the function with the given name,
// calling convention and number of arguments, as decorated by 32-bit Windows
// compilers. Names are not decorated on 64-bit targets.
func DecorateName(name string, cc arch.CallingConv, argc, bits int) (string, error) {
	if bits == 64 {
		return name, nil
	}
	switch cc {
	case arch.CallingConvC:
		return "_" + name, nil
	case arch.CallingConvStdCall:
		return fmt.Sprintf("_%s@%d", name, 4*argc), nil
	case arch.CallingConvFastCall:
		return fmt.Sprintf("@%s@%d", name, 4*argc), nil
	}
	return "", errors.Wrapf(ErrUnsupportedCallingConvention, "unable to decorate %q with calling convention %v", name, cc)
}

// pushJump returns the module-level assembly of a stub which pushes the
// address of target and jumps to the given trampoline. On 64-bit Linux,
// declared targets are reached through the procedure linkage table.
func pushJump(info arch.Info, stub, target string, declared bool, trampoline string) []string {
	linux := info.OS == arch.OSLinux
	var lines []string
	add := func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	add("  .globl %s;", target)
	add("  .globl %s;", stub)
	if linux {
		add("  .type %s,@function", stub)
	}
	add("%s:", stub)
	add("  .cfi_startproc;")
	if info.AddrSize == 32 {
		add("  pushl $%s;", target)
	} else {
		if linux && declared {
			target += "@plt"
		}
		add("  pushq %%rax;")
		add("  leaq %s(%%rip), %%rax;", target)
		add("  xchgq %%rax, (%%rsp);")
	}
	add("  jmp %s;", trampoline)
	if linux {
		add("0:")
		add("  .size %s,0b-%s;", stub, stub)
	}
	add("  .cfi_endproc;")
	return lines
}
