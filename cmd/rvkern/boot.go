// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"rvkern.dev/rvkern/pkg/log"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct{}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "bring up the machine and report its memory layout"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot - initialize memory and print the layout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Boot) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config)
	m, err := conf.boot()
	if err != nil {
		log.Warningf("boot failed: %v", err)
		return subcommands.ExitFailure
	}
	defer m.Close()

	fmt.Printf("active space: %v\n", m.ActiveSpace())
	fmt.Printf("free pages:   %d\n", m.FreePageCount())
	return subcommands.ExitSuccess
}
