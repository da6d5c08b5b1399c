package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetOf(t *testing.T) {
	golden := []struct {
		triple   string
		os, arch string
	}{
		{triple: "i686-pc-win32", os: "win32", arch: "x86"},
		{triple: "i686-pc-linux-gnu", os: "linux", arch: "x86"},
		{triple: "x86_64-pc-win32", os: "win32", arch: "amd64"},
		{triple: "x86_64-pc-linux-gnu", os: "linux", arch: "amd64"},
		{triple: "mipsel-unknown-linux-gnu", os: "linux", arch: "mips32"},
		{triple: "mips64el-unknown-linux-gnuabi64", os: "linux", arch: "mips64"},
	}
	for _, g := range golden {
		osName, archName, err := targetOf(g.triple)
		require.NoError(t, err, g.triple)
		assert.Equal(t, g.os, osName, g.triple)
		assert.Equal(t, g.arch, archName, g.triple)
	}
	_, _, err := targetOf("armv7-unknown-linux-gnueabi")
	assert.Error(t, err)
}
