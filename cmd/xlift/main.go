// The xlift tool lifts binary executables to LLVM IR assembly.
//
// Separation of concern is handled through reliance on oracles, which provide
// addresses of functions and basic blocks, calling conventions of external
// functions, entry points, etc.
//
// Usage:
//
//	xlift lift [OPTION]... FILE...
//	xlift decode [OPTION]... FILE...
//	xlift opt [OPTION]... FILE.ll...
//	xlift coverage [OPTION]...
package main

import (
	"io/ioutil"
	"log"
	"os"

	"github.com/jcrutchvt10/McSema-decompiler/deadstate"
	"github.com/jcrutchvt10/McSema-decompiler/disasm"
	"github.com/jcrutchvt10/McSema-decompiler/lift"
	"github.com/jcrutchvt10/McSema-decompiler/session"
	"github.com/mewkiz/pkg/term"
	"github.com/spf13/cobra"
)

var (
	// dbg is a logger which logs debug messages with "xlift:" prefix to
	// standard error.
	dbg = log.New(os.Stderr, term.MagentaBold("xlift:")+" ", 0)
	// warn is a logger which logs warning messages with "warning:" prefix to
	// standard error.
	warn = log.New(os.Stderr, term.RedBold("warning:")+" ", 0)
)

func main() {
	// quiet specifies whether to suppress non-error messages.
	var quiet bool
	rootCmd := &cobra.Command{
		Use:   "xlift",
		Short: "Lift binary executables to LLVM IR assembly",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Skip debug output if -q is set.
			if quiet {
				dbg.SetOutput(ioutil.Discard)
				session.SetDebugOutput(ioutil.Discard)
				disasm.SetDebugOutput(ioutil.Discard)
				lift.SetDebugOutput(ioutil.Discard)
				deadstate.SetDebugOutput(ioutil.Discard)
			}
		},
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error messages")
	rootCmd.AddCommand(
		newLiftCmd(),
		newDecodeCmd(),
		newOptCmd(),
		newCoverageCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}
