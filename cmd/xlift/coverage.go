package main

import (
	"github.com/jcrutchvt10/McSema-decompiler/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newCoverageCmd() *cobra.Command {
	var (
		osName, archName       string
		supported, unsupported bool
	)
	cmd := &cobra.Command{
		Use:   "coverage [OPTION]...",
		Short: "List the supported and unsupported instructions of a target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session.New(osName, archName)
			if err != nil {
				return errors.WithStack(err)
			}
			if !supported && !unsupported {
				supported, unsupported = true, true
			}
			return sess.Coverage(cmd.OutOrStdout(), supported, unsupported)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&osName, "os", "linux", "operating system (win32 or linux)")
	flags.StringVar(&archName, "arch", "x86", "architecture (x86, amd64, mips32 or mips64)")
	flags.BoolVar(&supported, "supported", false, "list supported instructions")
	flags.BoolVar(&unsupported, "unsupported", false, "list unsupported instructions")
	return cmd
}
