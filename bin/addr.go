// Package bin provides a uniform representation of native code addresses.
package bin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Addr is a virtual address that may be specified in hexadecimal notation. It
// implements the flag.Value, encoding.TextUnmarshaler and
// encoding.TextMarshaler interfaces.
//
// Addresses are stored in 64 bits; 32-bit code truncates computed targets with
// Wrap.
type Addr uint64

// String returns the hexadecimal string representation of v.
func (v Addr) String() string {
	if v>>32 == 0 {
		return fmt.Sprintf("0x%08X", uint64(v))
	}
	return fmt.Sprintf("0x%016X", uint64(v))
}

// Set sets v to the numberic value represented by s.
func (v *Addr) Set(s string) error {
	x, err := parseUint64(s)
	if err != nil {
		return errors.WithStack(err)
	}
	*v = Addr(x)
	return nil
}

// Type returns the flag type name of addresses.
func (v *Addr) Type() string {
	return "addr"
}

// UnmarshalText unmarshals the text into v.
func (v *Addr) UnmarshalText(text []byte) error {
	return v.Set(string(text))
}

// MarshalText returns the textual representation of v.
func (v Addr) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Wrap truncates v to the given address size in bits. A non-positive size
// leaves v unchanged.
func (v Addr) Wrap(bits int) Addr {
	if bits <= 0 || bits >= 64 {
		return v
	}
	return v & (Addr(1)<<uint(bits) - 1)
}

// Addrs implements the sort.Sort interface, sorting addresses in ascending
// order.
type Addrs []Addr

func (as Addrs) Len() int           { return len(as) }
func (as Addrs) Swap(i, j int)      { as[i], as[j] = as[j], as[i] }
func (as Addrs) Less(i, j int) bool { return as[i] < as[j] }

// ### [ Helper functions ] ####################################################

// parseUint64 interprets the given string in base 10 or base 16 (if prefixed
// with `0x` or `0X`) and returns the corresponding value.
func parseUint64(s string) (uint64, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[len("0x"):]
		base = 16
	}
	x, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return x, nil
}
