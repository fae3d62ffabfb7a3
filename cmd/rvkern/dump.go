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
	"rvkern.dev/rvkern/pkg/memarch"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	fault uint64
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print every mapping of the active address space"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [-fault <addr>] - walk the active space and print its leaves.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&d.fault, "fault", 0, "demand map this user address before dumping")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config)
	m, err := conf.boot()
	if err != nil {
		log.Warningf("boot failed: %v", err)
		return subcommands.ExitFailure
	}
	defer m.Close()

	if d.fault != 0 {
		if !m.HandleUserFault(memarch.VirtAddr(d.fault)) {
			log.Warningf("fault at %#x not handled", d.fault)
			return subcommands.ExitFailure
		}
	}

	for _, mp := range m.Mappings() {
		fmt.Printf("%#012x..%#012x -> %#010x %v (%d KiB)\n",
			uint64(mp.Virtual), uint64(mp.Virtual)+mp.Size, uint64(mp.Physical), mp.Access, mp.Size>>10)
	}
	return subcommands.ExitSuccess
}
