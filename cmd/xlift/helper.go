package main

import (
	"io/ioutil"
	"strings"

	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/disasm"
	"github.com/llir/llvm/ir"
	"github.com/mewkiz/pkg/jsonutil"
	"github.com/mewkiz/pkg/osutil"
	"github.com/pkg/errors"
)

// parseJSON parses the given JSON file and stores the result into v.
func parseJSON(jsonPath string, v interface{}) error {
	if !osutil.Exists(jsonPath) {
		warn.Printf("unable to locate JSON file %q", jsonPath)
		return nil
	}
	dbg.Printf("parseJSON(jsonPath = %q, v = %T)", jsonPath, v)
	return jsonutil.ParseFile(jsonPath, v)
}

// parseOracle parses the function, basic block and chunk oracles of the
// current directory.
func parseOracle() (*disasm.Oracle, error) {
	oracle := &disasm.Oracle{}
	// Parse function addresses.
	if err := parseJSON("funcs.json", &oracle.Funcs); err != nil {
		return nil, errors.WithStack(err)
	}
	// Parse basic block addresses.
	if err := parseJSON("blocks.json", &oracle.Blocks); err != nil {
		return nil, errors.WithStack(err)
	}
	// Parse non-continuous basic block addresses.
	if err := parseJSON("chunks.json", &oracle.Chunks); err != nil {
		return nil, errors.WithStack(err)
	}
	return oracle, nil
}

// writeModule writes the given LLVM IR module to llPath.
func writeModule(llPath string, m *ir.Module) error {
	dbg.Printf("creating %q", llPath)
	if err := ioutil.WriteFile(llPath, []byte(m.String()), 0644); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// targetOf returns the operating system and architecture names of the given
// LLVM target triple.
func targetOf(triple string) (osName, archName string, err error) {
	name := strings.Split(triple, "-")[0]
	if strings.HasPrefix(name, "mips") {
		// Little-endian variants.
		name = strings.TrimSuffix(name, "el")
	}
	typ, err := arch.ParseType(name)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid target triple %q", triple)
	}
	osName = arch.OSLinux.String()
	if strings.Contains(triple, "win32") || strings.Contains(triple, "windows") {
		osName = arch.OSWindows.String()
	}
	return osName, typ.String(), nil
}
