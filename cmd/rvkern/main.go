// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Binary rvkern drives the simulated kernel memory subsystem: it boots
// the machine described by a configuration file and runs diagnostics
// against it.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"rvkern.dev/rvkern/pkg/log"
)

var (
	configPath = flag.String("config", "", "path to a TOML machine configuration; defaults are used if empty")
	debugLog   = flag.Bool("debug", false, "enable debug logging")
	jsonLog    = flag.Bool("json-log", false, "emit logs as JSON")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Boot), "")
	subcommands.Register(new(Dump), "")
	subcommands.Register(new(Selftest), "")

	flag.Parse()

	if *jsonLog {
		log.SetTarget(log.JSONEmitter{Writer: &log.Writer{Next: os.Stderr}})
	}
	if *debugLog {
		log.SetLevel(log.Debug)
	}

	conf, err := loadConfig(*configPath)
	if err != nil {
		log.Warningf("cannot load config %q: %v", *configPath, err)
		os.Exit(1)
	}
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
