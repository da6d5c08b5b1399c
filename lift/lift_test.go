package lift

import (
	"io/ioutil"
	"strings"
	"testing"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/jcrutchvt10/McSema-decompiler/deadstate"
	"github.com/jcrutchvt10/McSema-decompiler/disasm"
	"github.com/jcrutchvt10/McSema-decompiler/session"
	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	SetDebugOutput(ioutil.Discard)
}

// testCode is a 32-bit function at 0x1000 calling a function at 0x1010.
var testCode = []byte{
	0x55,       // 0x1000: push ebp
	0x89, 0xE5, // 0x1001: mov ebp, esp
	0x74, 0x03, // 0x1003: je 0x1008
	0x40,       // 0x1005: inc eax
	0xEB, 0x01, // 0x1006: jmp 0x1009
	0x48,                         // 0x1008: dec eax
	0xE8, 0x02, 0x00, 0x00, 0x00, // 0x1009: call 0x1010
	0x5D, // 0x100E: pop ebp
	0xC3, // 0x100F: ret
	0xC3, // 0x1010: ret
}

// liftCode decodes and lifts the functions of the given 32-bit Linux code at
// 0x1000.
func liftCode(t *testing.T, code []byte, cfg *Config) *Result {
	return liftTarget(t, "linux", "x86", code, cfg)
}

// liftTarget decodes and lifts the functions of the given code at 0x1000 for
// the given target.
func liftTarget(t *testing.T, osName, archName string, code []byte, cfg *Config) *Result {
	sess, err := session.New(osName, archName)
	require.NoError(t, err)
	sects := []disasm.Section{{Addr: 0x1000, Data: code}}
	oracle := disasm.Discover(sess, sects, bin.Addrs{0x1000})
	funcs, err := disasm.Decode(sess, sects, oracle)
	require.NoError(t, err)
	res, err := New(sess, cfg).Lift(funcs)
	require.NoError(t, err)
	return res
}

func findFunc(m *ir.Module, name string) *ir.Func {
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

func TestLift(t *testing.T) {
	cfg := &Config{
		Entries: []Entry{{Name: "main", Addr: 0x1000}},
	}
	res := liftCode(t, testCode, cfg)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Unsupported())

	m := res.Module
	assert.Equal(t, "i686-pc-linux-gnu", m.TargetTriple)
	f := findFunc(m, "sub_1000")
	require.NotNil(t, f)
	require.Len(t, f.Params, 1)
	var names []string
	for _, block := range f.Blocks {
		names = append(names, block.Name())
		assert.NotNil(t, block.Term, "missing terminator of %s", block.Name())
	}
	assert.Equal(t, []string{"block_1000", "block_1005", "block_1008", "block_1009"}, names)
	g := findFunc(m, "sub_1010")
	require.NotNil(t, g)
	assert.Len(t, g.Blocks, 1)

	// Entry point stub.
	require.NotNil(t, findFunc(m, "main"))
	moduleAsm := strings.Join(m.ModuleAsms, "\n")
	assert.Contains(t, moduleAsm, "main:")
	assert.Contains(t, moduleAsm, "pushl $sub_1000;")

	out := m.String()
	assert.Contains(t, out, "%struct.State = type <{")
	assert.Contains(t, out, "call void @sub_1010(")
}

func TestLiftUnsupported(t *testing.T) {
	code := []byte{
		0x0F, 0x31, // 0x1000: rdtsc
		0xC3, // 0x1002: ret
	}
	res := liftCode(t, code, nil)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, bin.Addr(0x1000), res.Failures[0].Addr)
	assert.Equal(t, "RDTSC", res.Failures[0].Mnemonic)
	assert.Equal(t, []string{"RDTSC"}, res.Unsupported())
	assert.NotNil(t, findFunc(res.Module, helperUnsupported))

	res = liftCode(t, code, &Config{IgnoreUnsupported: true})
	assert.Len(t, res.Failures, 1)
	assert.Nil(t, findFunc(res.Module, helperUnsupported))
}

func TestLiftExternal(t *testing.T) {
	code := []byte{
		0xE8, 0xFB, 0x0F, 0x00, 0x00, // 0x1000: call 0x2000
		0xC3, // 0x1005: ret
	}
	cfg := &Config{
		Externals: []External{{Name: "puts", Addr: 0x2000, NumArgs: 1}},
	}
	res := liftCode(t, code, cfg)
	assert.Empty(t, res.Failures)
	m := res.Module
	exit := findFunc(m, "_puts")
	require.NotNil(t, exit)
	assert.NotNil(t, findFunc(m, "puts"))
	assert.Contains(t, m.String(), "call void @_puts(")
	assert.Contains(t, strings.Join(m.ModuleAsms, "\n"), "pushl $puts;")
}

func TestLiftDecodeFailure(t *testing.T) {
	code := []byte{
		0x90,       // 0x1000: nop
		0x0F, 0x04, // 0x1001: unrecognized
	}
	res := liftCode(t, code, nil)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, bin.Addr(0x1001), res.Failures[0].Addr)
	assert.Empty(t, res.Failures[0].Mnemonic)
	var e *arch.DecodeError
	assert.ErrorAs(t, res.Failures[0].Err, &e)
	f := findFunc(res.Module, "sub_1000")
	require.NotNil(t, f)
	assert.NotNil(t, f.Blocks[0].Term)
	assert.NotNil(t, findFunc(res.Module, helperDecodeFailure))
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("testdata/config.json")
	require.NoError(t, err)
	assert.Equal(t, "win32", cfg.OS)
	assert.Equal(t, "x86", cfg.Arch)
	require.Len(t, cfg.Externals, 1)
	ext := cfg.Externals[0]
	assert.Equal(t, arch.CallingConvStdCall, ext.CallingConv)
	assert.Equal(t, "MessageBoxA", ext.native().Name)
	require.Len(t, cfg.Entries, 1)
	assert.Equal(t, bin.Addr(0x401000), cfg.Entries[0].Addr)

	_, err = ParseConfig("testdata/missing.json")
	assert.Error(t, err)
}

// pipelineCode is a function at 0x1000 calling a function at 0x1012, which
// decodes alike in the 32- and 64-bit processor modes.
var pipelineCode = []byte{
	0x55,       // 0x1000: push ebp
	0x89, 0xE5, // 0x1001: mov ebp, esp
	0x74, 0x04, // 0x1003: je 0x1009
	0x01, 0xD8, // 0x1005: add eax, ebx
	0xEB, 0x02, // 0x1007: jmp 0x100B
	0x29, 0xD8, // 0x1009: sub eax, ebx
	0xE8, 0x02, 0x00, 0x00, 0x00, // 0x100B: call 0x1012
	0x5D, // 0x1010: pop ebp
	0xC3, // 0x1011: ret
	0xC3, // 0x1012: ret
}

func TestPipeline(t *testing.T) {
	golden := []struct {
		os, arch string
	}{
		{os: "linux", arch: "x86"},
		{os: "linux", arch: "amd64"},
		{os: "win32", arch: "x86"},
		{os: "win32", arch: "amd64"},
	}
	for _, g := range golden {
		cfg := &Config{
			Entries: []Entry{{Name: "main", Addr: 0x1000}},
		}
		sess, err := session.New(g.os, g.arch)
		require.NoError(t, err)
		res := liftTarget(t, g.os, g.arch, pipelineCode, cfg)
		require.Empty(t, res.Failures, "%s/%s", g.os, g.arch)
		m := res.Module
		require.NotNil(t, findFunc(m, "sub_1000"), "%s/%s", g.os, g.arch)
		require.NotNil(t, findFunc(m, "sub_1012"), "%s/%s", g.os, g.arch)

		stats, err := deadstate.New(sess.Catalog()).Optimize(m, len(m.Funcs), 5)
		require.NoError(t, err, "%s/%s", g.os, g.arch)
		assert.Equal(t, 1, stats.NumInternalCalls, "%s/%s", g.os, g.arch)
		assert.Less(t, stats.NumInstsPostOpt, stats.NumInstsPreOpt, "%s/%s", g.os, g.arch)

		// The optimized module is valid LLVM IR assembly.
		out := m.String()
		parsed, err := asm.ParseString(g.os+"_"+g.arch+".ll", out)
		require.NoError(t, err, "%s/%s:\n%s", g.os, g.arch, out)
		assert.Equal(t, m.TargetTriple, parsed.TargetTriple)
		assert.NotNil(t, findFunc(parsed, "sub_1000"), "%s/%s", g.os, g.arch)
	}
}

func TestLiftImageBase(t *testing.T) {
	code := []byte{
		0xB9, 0x10, 0x10, 0x00, 0x00, // 0x1000: mov ecx, 0x1010
		0xE8, 0x06, 0x00, 0x00, 0x00, // 0x1005: call 0x1010
		0xC3,                         // 0x100A: ret
		0x90, 0x90, 0x90, 0x90, 0x90, // 0x100B: nop
		0xC3, // 0x1010: ret
	}
	res := liftTarget(t, "win32", "amd64", code, nil)
	require.Empty(t, res.Failures)
	m := res.Module
	require.Len(t, m.Globals, 1)
	assert.Equal(t, "__ImageBase", m.Globals[0].Name())
	assert.NotNil(t, findFunc(m, "callback_sub_1010"))
	out := m.String()
	assert.Contains(t, out, "@__ImageBase = external global i8")
	assert.Contains(t, out, "ptrtoint i8* @__ImageBase to i64")

	// 32-bit code references are absolute elsewhere.
	for _, target := range [][2]string{{"linux", "amd64"}, {"win32", "x86"}} {
		res := liftTarget(t, target[0], target[1], code, nil)
		assert.Empty(t, res.Module.Globals, "%s/%s", target[0], target[1])
		assert.NotContains(t, res.Module.String(), "__ImageBase")
	}
}
