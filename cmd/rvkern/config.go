// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"rvkern.dev/rvkern/pkg/mm"
)

// config is the machine configuration read from the TOML file.
type config struct {
	// RamMiB is the RAM size in MiB.
	RamMiB uint64 `toml:"ram_mib"`

	// ASID is the kernel address space identifier.
	ASID uint16 `toml:"asid"`

	// TextPages, RodataPages and DataPages size the simulated kernel
	// image sections.
	TextPages   uint64 `toml:"text_pages"`
	RodataPages uint64 `toml:"rodata_pages"`
	DataPages   uint64 `toml:"data_pages"`

	// Debug enables debug logging.
	Debug bool `toml:"debug"`
}

// loadConfig reads the configuration at path. An empty path yields the
// defaults.
func loadConfig(path string) (*config, error) {
	var c config
	if path == "" {
		return &c, nil
	}
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration keys: %v", undecoded)
	}
	return &c, nil
}

// mmConfig converts the file configuration to the memory manager's.
func (c *config) mmConfig() mm.Config {
	return mm.Config{
		RamSize:     c.RamMiB << 20,
		ASID:        c.ASID,
		TextPages:   c.TextPages,
		RodataPages: c.RodataPages,
		DataPages:   c.DataPages,
	}
}

// boot initializes the memory manager from the configuration.
func (c *config) boot() (*mm.MemoryManager, error) {
	return mm.Init(c.mmConfig())
}
