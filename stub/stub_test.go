package stub

import (
	"strings"
	"sync"
	"testing"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	linux32 = arch.Info{Arch: arch.TypeX86, OS: arch.OSLinux, CallingConv: arch.CallingConvC, AddrSize: 32}
	linux64 = arch.Info{Arch: arch.TypeAMD64, OS: arch.OSLinux, CallingConv: arch.CallingConvSysV, AddrSize: 64}
	win32   = arch.Info{Arch: arch.TypeX86, OS: arch.OSWindows, CallingConv: arch.CallingConvC, AddrSize: 32}
	win64   = arch.Info{Arch: arch.TypeAMD64, OS: arch.OSWindows, CallingConv: arch.CallingConvWin64, AddrSize: 64}
)

func newGenerator(t *testing.T, info arch.Info) *Generator {
	g, err := New(info)
	require.NoError(t, err)
	return g
}

func countFuncs(m *ir.Module, name string) int {
	n := 0
	for _, f := range m.Funcs {
		if f.Name() == name {
			n++
		}
	}
	return n
}

func TestDecorateName(t *testing.T) {
	golden := []struct {
		cc   arch.CallingConv
		argc int
		bits int
		want string
	}{
		{cc: arch.CallingConvC, argc: 2, bits: 32, want: "_foo"},
		{cc: arch.CallingConvStdCall, argc: 3, bits: 32, want: "_foo@12"},
		{cc: arch.CallingConvFastCall, argc: 2, bits: 32, want: "@foo@8"},
		{cc: arch.CallingConvWin64, argc: 2, bits: 64, want: "foo"},
		{cc: arch.CallingConvFastCall, argc: 2, bits: 64, want: "foo"},
	}
	for _, g := range golden {
		got, err := DecorateName("foo", g.cc, g.argc, g.bits)
		require.NoError(t, err)
		assert.Equal(t, g.want, got)
	}
	_, err := DecorateName("foo", arch.CallingConvSysV, 0, 32)
	assert.True(t, errors.Is(err, ErrUnsupportedCallingConvention))
}

func TestExitPointDecoration(t *testing.T) {
	golden := []struct {
		native Native
		symbol string
	}{
		{native: Native{Name: "foo", CallingConv: arch.CallingConvC, NumArgs: 1}, symbol: "_foo"},
		{native: Native{Name: "foo", CallingConv: arch.CallingConvFastCall, NumArgs: 2}, symbol: "@foo@8"},
	}
	for _, info := range []arch.Info{linux32, win32} {
		g := newGenerator(t, info)
		for _, gold := range golden {
			m := ir.NewModule()
			_, err := g.ExitPoint(m, gold.native)
			require.NoError(t, err)
			desc, ok := g.Descriptor(m, KindExit, gold.symbol)
			require.True(t, ok, "%v: %q", info.OS, gold.symbol)
			assert.Equal(t, KindExit, desc.Kind)
			assert.Equal(t, gold.native.CallingConv, desc.CallingConv)
			assert.Equal(t, 32, desc.Bits)
		}
	}
}

func TestExitPointMismatch(t *testing.T) {
	for _, info := range []arch.Info{win32, linux64} {
		cc := arch.CallingConvC
		if info.AddrSize == 64 {
			cc = arch.CallingConvSysV
		}
		g := newGenerator(t, info)
		m := ir.NewModule()
		f, err := g.ExitPoint(m, Native{Name: "foo", CallingConv: cc, NumArgs: 1})
		require.NoError(t, err)
		same, err := g.ExitPoint(m, Native{Name: "foo", CallingConv: cc, NumArgs: 1})
		require.NoError(t, err)
		assert.Same(t, f, same)
		// Same name, other number of arguments.
		_, err = g.ExitPoint(m, Native{Name: "foo", CallingConv: cc, NumArgs: 2})
		assert.True(t, errors.Is(err, ErrSignatureMismatch), "%v: %+v", info.OS, err)
		assert.Equal(t, 1, countFuncs(m, f.Name()))

		// Other modules are unaffected.
		other, err := g.ExitPoint(ir.NewModule(), Native{Name: "foo", CallingConv: cc, NumArgs: 2})
		require.NoError(t, err)
		assert.NotSame(t, f, other)
	}
	// Same name, other calling convention.
	g := newGenerator(t, win32)
	m := ir.NewModule()
	_, err := g.ExitPoint(m, Native{Name: "foo", CallingConv: arch.CallingConvC, NumArgs: 2})
	require.NoError(t, err)
	_, err = g.ExitPoint(m, Native{Name: "foo", CallingConv: arch.CallingConvFastCall, NumArgs: 2})
	assert.True(t, errors.Is(err, ErrSignatureMismatch), "%+v", err)
	_, ok := g.Descriptor(m, KindExit, "@foo@8")
	assert.False(t, ok)
}

func TestExitPointIdempotent(t *testing.T) {
	g := newGenerator(t, win32)
	m := ir.NewModule()
	native := Native{Name: "MessageBoxA", CallingConv: arch.CallingConvStdCall, NumArgs: 4}
	state := types.NewPointer(types.I8)
	a, err := g.ExitPoint(m, native, state)
	require.NoError(t, err)
	b, err := g.ExitPoint(m, native, state)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "xlift_MessageBoxA", a.Name())
	assert.Equal(t, 1, countFuncs(m, "xlift_MessageBoxA"))
	assert.Equal(t, 1, countFuncs(m, "MessageBoxA"))
	asm := strings.Join(m.ModuleAsms, "\n")
	assert.Contains(t, asm, "pushl $_MessageBoxA@16;")
	assert.Contains(t, asm, "jmp __xlift_detach_call_stdcall;")
	assert.Equal(t, 1, strings.Count(asm, "_xlift_MessageBoxA@16:"))
}

func TestExitPointConcurrent(t *testing.T) {
	g := newGenerator(t, linux64)
	m := ir.NewModule()
	const n = 16
	funcs := make([]*ir.Func, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := g.ExitPoint(m, Native{Name: "puts", CallingConv: arch.CallingConvSysV, NumArgs: 1})
			if err == nil {
				funcs[i] = f
			}
		}(i)
	}
	wg.Wait()
	for _, f := range funcs {
		require.NotNil(t, f)
		assert.Same(t, funcs[0], f)
	}
	assert.Equal(t, 1, countFuncs(m, "_puts"))
	asm := strings.Join(m.ModuleAsms, "\n")
	assert.Contains(t, asm, "leaq puts@plt(%rip), %rax;")
	assert.Contains(t, asm, ".type _puts,@function")
	assert.Contains(t, asm, "jmp __xlift_detach_call;")
}

func TestExitPointUnsupported(t *testing.T) {
	g := newGenerator(t, linux32)
	m := ir.NewModule()
	_, err := g.ExitPoint(m, Native{Name: "foo", CallingConv: arch.CallingConvWin64})
	assert.True(t, errors.Is(err, ErrUnsupportedCallingConvention))
	assert.Empty(t, m.Funcs)
	assert.Error(t, g.Supports(arch.CallingConvSysV))
	assert.NoError(t, g.Supports(arch.CallingConvFastCall))

	g = newGenerator(t, win64)
	assert.NoError(t, g.Supports(arch.CallingConvWin64))
	assert.Error(t, g.Supports(arch.CallingConvStdCall))
}

func TestEntryPoint(t *testing.T) {
	g := newGenerator(t, linux32)
	m := ir.NewModule()
	m.NewFunc("sub_401000", types.Void, ir.NewParam("state", types.NewPointer(types.I8)))
	a, err := g.EntryPoint(m, "main", 0x401000)
	require.NoError(t, err)
	b, err := g.EntryPoint(m, "main", 0x401000)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, countFuncs(m, "main"))
	asm := strings.Join(m.ModuleAsms, "\n")
	assert.Contains(t, asm, "pushl $sub_401000;")
	assert.Contains(t, asm, "jmp __xlift_attach_call_cdecl;")

	cb, err := g.Callback(m, 0x401000)
	require.NoError(t, err)
	assert.Equal(t, "callback_sub_401000", cb.Name())
	again, err := g.Callback(m, 0x401000)
	require.NoError(t, err)
	assert.Same(t, cb, again)

	_, err = g.EntryPoint(m, "other", 0x402000)
	assert.True(t, errors.Is(err, ErrMissingLiftedFunction))
	_, err = g.Callback(m, 0x402000)
	assert.True(t, errors.Is(err, ErrMissingLiftedFunction))
}

func TestEntryPointWin64(t *testing.T) {
	g := newGenerator(t, win64)
	m := ir.NewModule()
	m.NewFunc("sub_140001000", types.Void)
	_, err := g.EntryPoint(m, "DllMain", 0x140001000)
	require.NoError(t, err)
	asm := strings.Join(m.ModuleAsms, "\n")
	assert.Contains(t, asm, "leaq sub_140001000(%rip), %rax;")
	assert.Contains(t, asm, "DllMain:")
	assert.NotContains(t, asm, ".type")
}

func TestAttachDetach(t *testing.T) {
	g := newGenerator(t, win32)
	m := ir.NewModule()
	g.AttachDetach(m)
	g.AttachDetach(m)
	assert.Len(t, m.Funcs, len(trampolines32))
	for _, name := range trampolines32 {
		assert.Equal(t, 1, countFuncs(m, name))
	}
}

func TestNew(t *testing.T) {
	_, err := New(arch.Info{Arch: arch.TypeX86, OS: arch.OSInvalid, AddrSize: 32})
	assert.True(t, errors.Is(err, ErrUnsupportedOS))
	_, err = New(arch.Info{Arch: arch.TypeMIPS32, OS: arch.OSLinux, AddrSize: 32})
	assert.Error(t, err)
}

func TestSubtractImageBase(t *testing.T) {
	m := ir.NewModule()
	assert.False(t, ShouldSubtractImageBase(win64, m))
	base := DeclareImageBase(m)
	assert.Same(t, base, DeclareImageBase(m))
	assert.Len(t, m.Globals, 1)
	assert.Nil(t, base.Init)
	assert.True(t, ShouldSubtractImageBase(win64, m))
	assert.False(t, ShouldSubtractImageBase(win32, m))
	assert.False(t, ShouldSubtractImageBase(linux64, m))

	f := m.NewFunc("f", types.Void, ir.NewParam("p", types.NewPointer(types.I8)))
	block := f.NewBlock("")
	ptr := SubtractImageBase(m, block, f.Params[0], 32)
	assert.True(t, ptr.Type().Equal(types.NewPointer(types.I32)))
	v := SubtractImageBaseInt(m, block, block.NewPtrToInt(f.Params[0], types.I64), 64)
	assert.True(t, v.Type().Equal(types.I64))
	block.NewRet(nil)
	assert.Len(t, block.Insts, 7)
}
