package mips

import (
	"testing"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule(t *testing.T) {
	m, err := New(arch.OSLinux, arch.TypeMIPS64)
	require.NoError(t, err)
	assert.Equal(t, arch.FamilyMIPS, m.Family())
	assert.Equal(t, 64, m.Info().AddrSize)
	assert.Equal(t, 35, m.Catalog().NumTop())
	pc, ok := m.Catalog().ByName("PC")
	require.True(t, ok)
	assert.Equal(t, 8, pc.Size)

	_, err = m.Decode(0x400000, []byte{0x00, 0x00, 0x00, 0x00})
	kind, ok := arch.DecodeFailureOf(err)
	require.True(t, ok)
	assert.Equal(t, arch.FailUnrecognized, kind)
	_, err = m.Decode(0x400000, []byte{0x00})
	kind, ok = arch.DecodeFailureOf(err)
	require.True(t, ok)
	assert.Equal(t, arch.FailTruncated, kind)

	table := arch.NewDispatchTable()
	m.InitDispatchTable(table)
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, m.CallingConvs())

	_, err = New(arch.OSWindows, arch.TypeMIPS32)
	assert.Error(t, err)
	_, err = New(arch.OSLinux, arch.TypeX86)
	assert.Error(t, err)
}
