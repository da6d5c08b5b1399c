package main

import (
	"io/ioutil"
	"path/filepath"

	"github.com/jcrutchvt10/McSema-decompiler/callgraph"
	"github.com/llir/llvm/ir"
	"github.com/pkg/errors"
	"github.com/zboralski/lattice/render"
)

// writeGraphs writes the call graph and control flow graphs of m in DOT
// format, to paths with the given prefix.
func writeGraphs(prefix string, m *ir.Module) error {
	title := filepath.Base(prefix)
	cg := callgraph.Build(m)
	cgPath := prefix + ".callgraph.dot"
	dbg.Printf("creating %q (%d nodes, %d edges)", cgPath, len(cg.Nodes), len(cg.Edges))
	if err := ioutil.WriteFile(cgPath, []byte(render.DOT(cg, title)), 0644); err != nil {
		return errors.WithStack(err)
	}
	cfg := callgraph.BuildCFG(m)
	cfgPath := prefix + ".cfg.dot"
	dbg.Printf("creating %q (%d functions)", cfgPath, len(cfg.Funcs))
	if err := ioutil.WriteFile(cfgPath, []byte(render.DOTCFG(cfg, title)), 0644); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
