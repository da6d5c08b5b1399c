package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/jcrutchvt10/McSema-decompiler/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var (
		// Dump the decoded functions in full.
		dump bool
		// Target overrides.
		osName, archName string
	)
	cmd := &cobra.Command{
		Use:   "decode [OPTION]... FILE...",
		Short: "Decode the functions of binary executables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, binPath := range args {
				b, err := loadBinary(binPath)
				if err != nil {
					return errors.WithStack(err)
				}
				opts := &liftOptions{config: "config.json", os: osName, arch: archName}
				cfg, err := liftConfig(b, opts)
				if err != nil {
					return errors.WithStack(err)
				}
				sess, err := session.New(cfg.OS, cfg.Arch)
				if err != nil {
					return errors.WithStack(err)
				}
				funcs, err := decodeFuncs(sess, b, cfg)
				if err != nil {
					return errors.WithStack(err)
				}
				if dump {
					spew.Fdump(cmd.OutOrStdout(), funcs)
					continue
				}
				for _, f := range funcs {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&dump, "dump", false, "dump decoded instructions in full")
	flags.StringVar(&osName, "os", "", "operating system (win32 or linux)")
	flags.StringVar(&archName, "arch", "", "architecture (x86, amd64, mips32 or mips64)")
	return cmd
}
