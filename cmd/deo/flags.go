package main

import (
	"flag"
	"fmt"
	"strconv"
)

// uint64Flag registers a uint64 flag on fs and returns its value
// pointer, mirroring flag.FlagSet.String. The standard flag package has
// no uint64 variant; flag.Func with base-0 parsing fills the gap and
// accepts 0x-prefixed values, which suits a CLI whose other inputs are
// hex.
func uint64Flag(fs *flag.FlagSet, name string, value uint64, usage string) *uint64 {
	p := new(uint64)
	*p = value
	fs.Func(name, usage, func(s string) error {
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return fmt.Errorf("flag --%s: not a uint64: %q", name, s)
		}
		*p = n
		return nil
	})
	return p
}

// newFlagSet creates a subcommand flag set that reports errors instead
// of exiting, so run can return a clean exit code.
func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}
