package arch

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpecs = []RegSpec{
	{Name: "A", Size: 8},
	{Name: "B", Size: 8},
	{Name: "F", Size: 1},
	{Name: "X", Size: 16, Pad: 3},
	{Name: "A32", Size: 4, Parent: "A"},
	{Name: "A16", Size: 2, Parent: "A32"},
	{Name: "AH", Size: 1, Parent: "A16", Rel: 1},
}

func TestCatalog(t *testing.T) {
	c, err := NewCatalog(testSpecs)
	require.NoError(t, err)
	assert.Equal(t, 4, c.NumTop())
	a, ok := c.ByName("A")
	require.True(t, ok)
	assert.Equal(t, RegID(0), a.ID)
	assert.Equal(t, 0, a.Offset)
	b, _ := c.ByName("B")
	assert.Equal(t, 8, b.Offset)
	f, _ := c.ByName("F")
	assert.Equal(t, 16, f.Offset)
	x, _ := c.ByName("X")
	assert.Equal(t, 32, x.Offset)
	assert.Equal(t, 48, c.Size())

	ah, ok := c.ByName("AH")
	require.True(t, ok)
	assert.Equal(t, 1, ah.Offset)
	assert.Equal(t, a.ID, c.Root(ah.ID))
	assert.False(t, ah.IsTop())

	assert.Equal(t, a.ID, c.Owner(7))
	assert.Equal(t, f.ID, c.Owner(16))
	assert.Equal(t, NoReg, c.Owner(17))
	assert.Equal(t, NoReg, c.Owner(100))

	// Sibling top-level registers never overlap; children are contained.
	tops := c.Tops()
	for i := 1; i < len(tops); i++ {
		assert.LessOrEqual(t, tops[i-1].End(), tops[i].Offset)
	}
	for _, r := range c.Registers() {
		if r.IsTop() {
			continue
		}
		p := c.Reg(r.Parent)
		assert.GreaterOrEqual(t, r.Offset, p.Offset, r.Name)
		assert.LessOrEqual(t, r.End(), p.End(), r.Name)
	}
}

func TestCatalogInvalid(t *testing.T) {
	golden := []struct {
		specs []RegSpec
	}{
		{specs: []RegSpec{{Name: "A", Size: 4}, {Name: "A", Size: 4}}},
		{specs: []RegSpec{{Name: "A", Size: 4}, {Name: "B", Size: 8, Parent: "A"}}},
		{specs: []RegSpec{{Name: "A", Size: 4}, {Name: "B", Size: 2, Parent: "A", Rel: 3}}},
		{specs: []RegSpec{{Name: "A", Size: 4}, {Name: "B", Size: 2, Parent: "C"}}},
		{specs: []RegSpec{{Name: "A", Size: 0}}},
	}
	for i, g := range golden {
		_, err := NewCatalog(g.specs)
		assert.Error(t, err, fmt.Sprintf("test %d", i))
	}
}

func TestDispatchTable(t *testing.T) {
	nop := func(ctx Context, inst *Inst) error { return nil }
	table := NewDispatchTable()
	table.Register(1, nop)
	table.Register(2, nop)
	assert.Panics(t, func() { table.Register(1, nop) })
	table.Freeze()
	assert.Panics(t, func() { table.Register(3, nop) })

	_, ok := table.Lookup(1)
	assert.True(t, ok)
	_, ok = table.Lookup(3)
	assert.False(t, ok)

	inst := &Inst{Addr: 0x1000, Mnemonic: "FOO"}
	err := table.Lifter(3)(nil, inst)
	require.Error(t, err)
	var e *UnsupportedError
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "FOO", e.Mnemonic)

	names := map[Opcode]string{1: "ADD", 2: "SUB", 3: "MUL", 4: "DIV", 5: ""}
	name := func(op Opcode) string { return names[op] }
	assert.Equal(t, []string{"ADD", "SUB"}, table.Supported(name))
	assert.Equal(t, []string{"DIV", "MUL"}, table.Unsupported([]Opcode{1, 2, 3, 4, 5}, name))

	buf := &bytes.Buffer{}
	require.NoError(t, table.WriteCoverage(buf, []Opcode{1, 2, 3, 4}, name, true, true))
	want := "SUPPORTED INSTRUCTIONS:\n\tADD\n\tSUB\nUNSUPPORTED INSTRUCTIONS:\n\tDIV\n\tMUL\n"
	assert.Equal(t, want, buf.String())
}

func TestInstSuccessors(t *testing.T) {
	taken := bin.Addr(0x1FFF)
	next := bin.Addr(0x2002)
	jcc := &Inst{Addr: 0x2000, Len: 2, AddrSize: 32, Taken: &taken, Fallthrough: &next}
	assert.Equal(t, []bin.Addr{0x1FFF, 0x2002}, jcc.Successors())
	assert.True(t, jcc.EndsBlock())

	ret := &Inst{Addr: 0x3000, Len: 1, AddrSize: 32, Term: true}
	assert.Empty(t, ret.Successors())

	add := &Inst{Addr: 0xFFFFFFFF, Len: 2, AddrSize: 32}
	assert.Equal(t, []bin.Addr{0x1}, add.Successors())
	assert.False(t, add.EndsBlock())
}

func TestDecodeFailureOf(t *testing.T) {
	err := errors.WithStack(&DecodeError{Kind: FailTruncated, Addr: 0x10})
	kind, ok := DecodeFailureOf(errors.Wrap(err, "decode"))
	require.True(t, ok)
	assert.Equal(t, FailTruncated, kind)
	_, ok = DecodeFailureOf(errors.New("foo"))
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	os, err := ParseOS("win32")
	require.NoError(t, err)
	assert.Equal(t, OSWindows, os)
	_, err = ParseOS("plan9")
	assert.Error(t, err)
	typ, err := ParseType("amd64")
	require.NoError(t, err)
	assert.Equal(t, FamilyX86, typ.Family())
	typ, err = ParseType("mips64")
	require.NoError(t, err)
	assert.Equal(t, FamilyMIPS, typ.Family())
	cc, err := ParseCallingConv("fastcall")
	require.NoError(t, err)
	assert.Equal(t, CallingConvFastCall, cc)
}
