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

// Selftest implements subcommands.Command for the "selftest" command.
// It exercises the demand fault, clone and validation paths against a
// freshly booted machine, standing in for the original kernel's
// in-kernel test suites.
type Selftest struct{}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "exercise the memory manager and report failures"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest - run the built-in memory manager checks.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Selftest) SetFlags(f *flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Selftest) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config)
	m, err := conf.boot()
	if err != nil {
		log.Warningf("boot failed: %v", err)
		return subcommands.ExitFailure
	}
	defer m.Close()

	failures := 0
	check := func(name string, ok bool) {
		if ok {
			fmt.Printf("ok   %s\n", name)
		} else {
			fmt.Printf("FAIL %s\n", name)
			failures++
		}
	}

	baseline := m.FreePageCount()
	va := memarch.UserStart + 0x4000

	check("fault outside user region not handled", !m.HandleUserFault(0x1000))
	check("fault in user region handled", m.HandleUserFault(va))
	check("second fault on mapped page not handled", !m.HandleUserFault(va))
	check("validate mapped page", m.ValidatePointer(va, memarch.PageSize, memarch.UserReadWrite) == nil)
	check("validate rejects execute", m.ValidatePointer(va, 1, memarch.AccessType{Execute: true, User: true}) != nil)
	check("validate rejects unmapped", m.ValidatePointer(va+memarch.PageSize, 1, memarch.UserRead) != nil)

	child := m.CloneActiveSpace()
	parent := m.SwitchSpace(child)
	check("clone preserves mapping", m.ValidatePointer(va, 1, memarch.UserReadWrite) == nil)
	m.ResetActiveSpace()
	check("reset unmaps clone", m.ValidatePointer(va, 1, memarch.UserRead) != nil)
	m.SwitchSpace(parent)
	if err := m.ReleaseSpace(child); err != nil {
		check("release clone", false)
	}
	check("parent survives clone teardown", m.ValidatePointer(va, 1, memarch.UserReadWrite) == nil)

	m.UnmapAndFreeRange(va, memarch.PageSize)
	check("unmapped page fails validation", m.ValidatePointer(va, 1, memarch.UserRead) != nil)
	m.ResetActiveSpace()
	check("all pages returned", m.FreePageCount() == baseline)

	if failures > 0 {
		log.Warningf("selftest: %d failures", failures)
		return subcommands.ExitFailure
	}
	fmt.Println("selftest passed")
	return subcommands.ExitSuccess
}
