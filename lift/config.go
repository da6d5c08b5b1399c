package lift

import (
	"github.com/jcrutchvt10/McSema-decompiler/arch"
	"github.com/jcrutchvt10/McSema-decompiler/bin"
	"github.com/jcrutchvt10/McSema-decompiler/stub"
	"github.com/mewkiz/pkg/jsonutil"
	"github.com/pkg/errors"
)

// Config is the configuration of a lifting run.
type Config struct {
	// Operating system name (win32 or linux).
	OS string `json:"os"`
	// Architecture name (x86, amd64, mips32 or mips64).
	Arch string `json:"arch"`
	// Image base of the binary executable.
	Base bin.Addr `json:"base"`
	// Entry points callable from native code.
	Entries []Entry `json:"entries"`
	// External native functions called from lifted code.
	Externals []External `json:"externals"`
	// Silently skip instructions without lifter, instead of trapping at run
	// time.
	IgnoreUnsupported bool `json:"ignore_unsupported"`
	// Disable interprocedural dead state elimination.
	DisableGlobalOpt bool `json:"disable_global_opt"`
}

// Entry is an entry point callable from native code.
type Entry struct {
	// Exported name of the entry point.
	Name string `json:"name"`
	// Address of the lifted function.
	Addr bin.Addr `json:"addr"`
}

// External is an external native function.
type External struct {
	// Function name.
	Name string `json:"name"`
	// Address of the function, or of its import table entry.
	Addr bin.Addr `json:"addr"`
	// Calling convention.
	CallingConv arch.CallingConv `json:"calling_conv"`
	// Number of arguments.
	NumArgs int `json:"num_args"`
	// The function does not return.
	NoReturn bool `json:"no_return"`
}

// native returns the stub description of the external function.
func (ext External) native() stub.Native {
	cc := ext.CallingConv
	if cc == 0 {
		cc = arch.CallingConvC
	}
	return stub.Native{
		Name:        ext.Name,
		CallingConv: cc,
		NumArgs:     ext.NumArgs,
		NoReturn:    ext.NoReturn,
	}
}

// ParseConfig parses the given JSON lifting configuration file.
func ParseConfig(jsonPath string) (*Config, error) {
	cfg := &Config{}
	if err := jsonutil.ParseFile(jsonPath, cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	return cfg, nil
}
