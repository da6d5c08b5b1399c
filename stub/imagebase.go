package stub

import (
	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// imageBaseName is the linker-defined symbol of the image base on Windows.
const imageBaseName = "__ImageBase"

// ImageBase returns the image base global of m, or nil if not present.
func ImageBase(m *ir.Module) *ir.Global {
	for _, g := range m.Globals {
		if g.Name() == imageBaseName {
			return g
		}
	}
	return nil
}

// DeclareImageBase returns the image base global of m, declaring it as an
// external global if not present.
func DeclareImageBase(m *ir.Module) *ir.Global {
	if g := ImageBase(m); g != nil {
		return g
	}
	return m.NewGlobal(imageBaseName, types.I8)
}

// ShouldSubtractImageBase reports whether absolute addresses in m must be
// converted to image-relative addresses; only on 64-bit Windows with the image
// base symbol defined.
func ShouldSubtractImageBase(info arch.Info, m *ir.Module) bool {
	if info.OS != arch.OSWindows || info.Arch != arch.TypeAMD64 {
		return false
	}
	if ImageBase(m) == nil {
		warn.Printf("no %s defined; unable to use image-relative addresses", imageBaseName)
		return false
	}
	return true
}

// SubtractImageBase emits the subtraction of the image base from the pointer
// original into block, and returns the result as a pointer to an integer of
// the given bit size.
func SubtractImageBase(m *ir.Module, block *ir.Block, original value.Value, width int) value.Value {
	base := ImageBase(m)
	x := block.NewPtrToInt(original, types.I64)
	y := block.NewPtrToInt(base, types.I64)
	diff := block.NewSub(x, y)
	return block.NewIntToPtr(diff, types.NewPointer(types.NewInt(uint64(width))))
}

// SubtractImageBaseInt emits the subtraction of the image base from the
// integer original into block.
func SubtractImageBaseInt(m *ir.Module, block *ir.Block, original value.Value, bits int) value.Value {
	base := ImageBase(m)
	y := block.NewPtrToInt(base, types.NewInt(uint64(bits)))
	return block.NewSub(original, y)
}
