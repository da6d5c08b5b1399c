package main

import (
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/jcrutchvt10/McSema-decompiler/deadstate"
	"github.com/jcrutchvt10/McSema-decompiler/disasm"
	"github.com/jcrutchvt10/McSema-decompiler/lift"
	"github.com/jcrutchvt10/McSema-decompiler/session"
	"github.com/kr/pretty"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// liftOptions are the command line options of the lift command.
type liftOptions struct {
	// Output path; defaults to the binary path with an .ll extension.
	output string
	// Lifting configuration path.
	config string
	// Target overrides.
	os, arch string
	// Skip instructions without lifter.
	ignoreUnsupported bool
	// Disable interprocedural dead state elimination.
	disableGlobalOpt bool
	// Write call graph and control flow graphs in DOT format.
	graph bool
}

func newLiftCmd() *cobra.Command {
	opts := &liftOptions{}
	cmd := &cobra.Command{
		Use:   "lift [OPTION]... FILE...",
		Short: "Lift binary executables to LLVM IR assembly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "" && len(args) > 1 {
				return errors.New("output path specified for more than one binary executable")
			}
			for _, binPath := range args {
				if err := liftBinary(binPath, opts); err != nil {
					return errors.WithStack(err)
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "output path")
	flags.StringVar(&opts.config, "config", "config.json", "lifting configuration (JSON)")
	flags.StringVar(&opts.os, "os", "", "operating system (win32 or linux)")
	flags.StringVar(&opts.arch, "arch", "", "architecture (x86, amd64, mips32 or mips64)")
	flags.BoolVar(&opts.ignoreUnsupported, "ignore-unsupported", false, "skip instructions without lifter")
	flags.BoolVar(&opts.disableGlobalOpt, "disable-global-opt", false, "disable dead state elimination")
	flags.BoolVar(&opts.graph, "graph", false, "write call graph and control flow graphs (DOT)")
	return cmd
}

// liftBinary lifts the given binary executable to LLVM IR assembly.
func liftBinary(binPath string, opts *liftOptions) error {
	dbg.Printf("liftBinary(binPath = %q)", binPath)
	b, err := loadBinary(binPath)
	if err != nil {
		return errors.WithStack(err)
	}
	cfg, err := liftConfig(b, opts)
	if err != nil {
		return errors.WithStack(err)
	}
	sess, err := session.New(cfg.OS, cfg.Arch)
	if err != nil {
		return errors.WithStack(err)
	}
	// Decode functions.
	funcs, err := decodeFuncs(sess, b, cfg)
	if err != nil {
		return errors.WithStack(err)
	}
	// Lift functions.
	res, err := lift.New(sess, cfg).Lift(funcs)
	if err != nil {
		return errors.WithStack(err)
	}
	for _, f := range res.Failures {
		warn.Printf("unable to lift instruction at %v", f)
	}
	if unsupported := res.Unsupported(); len(unsupported) > 0 {
		warn.Printf("unsupported instructions: %v", unsupported)
	}
	// Eliminate dead state.
	e := deadstate.New(sess.Catalog())
	e.DisableGlobalOpt = cfg.DisableGlobalOpt
	numBlocks := 0
	for _, f := range funcs {
		numBlocks += len(f.Blocks)
	}
	if _, err := e.Optimize(res.Module, len(funcs), numBlocks); err != nil {
		return errors.WithStack(err)
	}
	llPath := opts.output
	if llPath == "" {
		llPath = pathutil.TrimExt(binPath) + ".ll"
	}
	if err := writeModule(llPath, res.Module); err != nil {
		return errors.WithStack(err)
	}
	if opts.graph {
		if err := writeGraphs(pathutil.TrimExt(llPath), res.Module); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// liftConfig returns the lifting configuration of the given binary
// executable. Command line options take precedence over the configuration
// file, which takes precedence over the binary executable headers.
func liftConfig(b *binary, opts *liftOptions) (*lift.Config, error) {
	cfg := &lift.Config{}
	if err := parseJSON(opts.config, cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	if opts.os != "" {
		cfg.OS = opts.os
	}
	if opts.arch != "" {
		cfg.Arch = opts.arch
	}
	if cfg.OS == "" {
		cfg.OS = b.os
	}
	if cfg.Arch == "" {
		cfg.Arch = b.arch
	}
	if cfg.Base == 0 {
		cfg.Base = b.base
	}
	cfg.IgnoreUnsupported = cfg.IgnoreUnsupported || opts.ignoreUnsupported
	cfg.DisableGlobalOpt = cfg.DisableGlobalOpt || opts.disableGlobalOpt
	dbg.Printf("config: %# v", pretty.Formatter(cfg))
	return cfg, nil
}

// decodeFuncs decodes the functions of the given binary executable. Without
// basic block oracle, functions and basic blocks are discovered from the
// function oracle, the configured entry points and the binary entry point.
func decodeFuncs(sess *session.Session, b *binary, cfg *lift.Config) ([]*disasm.Function, error) {
	oracle, err := parseOracle()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(oracle.Blocks) == 0 {
		entries := append(bin.Addrs{}, oracle.Funcs...)
		for _, entry := range cfg.Entries {
			entries = append(entries, entry.Addr)
		}
		if b.entry != 0 {
			entries = append(entries, b.entry)
		}
		dbg.Printf("discovering basic blocks from %d entry points", len(entries))
		oracle = disasm.Discover(sess, b.sects, entries)
	}
	funcs, err := disasm.Decode(sess, b.sects, oracle)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, f := range funcs {
		for _, e := range f.Failures() {
			warn.Printf("decode failure in function %v; %v", f.Entry, e)
		}
	}
	return funcs, nil
}
