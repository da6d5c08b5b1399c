package main

import (
	"fmt"

	"github.com/jcrutchvt10/McSema-decompiler/deadstate"
	"github.com/jcrutchvt10/McSema-decompiler/session"
	"github.com/llir/llvm/asm"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newOptCmd() *cobra.Command {
	var (
		output string
		// Print optimization statistics.
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "opt [OPTION]... FILE.ll...",
		Short: "Eliminate dead state of lifted LLVM IR assembly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" && len(args) > 1 {
				return errors.New("output path specified for more than one LLVM IR file")
			}
			for _, llPath := range args {
				s, err := optimize(llPath, output)
				if err != nil {
					return errors.WithStack(err)
				}
				if stats {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "output path")
	flags.BoolVar(&stats, "stats", false, "print optimization statistics")
	return cmd
}

// optimize eliminates dead state of the given lifted LLVM IR assembly file.
// The target is derived from the target triple of the module.
func optimize(llPath, output string) (*deadstate.Stats, error) {
	m, err := asm.ParseFile(llPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	osName, archName, err := targetOf(m.TargetTriple)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sess, err := session.New(osName, archName)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	numBlocks := 0
	for _, f := range m.Funcs {
		numBlocks += len(f.Blocks)
	}
	stats, err := deadstate.New(sess.Catalog()).Optimize(m, len(m.Funcs), numBlocks)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if output == "" {
		output = pathutil.TrimExt(llPath) + ".opt.ll"
	}
	if err := writeModule(output, m); err != nil {
		return nil, errors.WithStack(err)
	}
	return stats, nil
}
