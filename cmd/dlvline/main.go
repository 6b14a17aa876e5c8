package main

import (
	"os"

	"github.com/go-delve/dwarfline/cmd/dlvline/cmds"
	"github.com/go-delve/dwarfline/pkg/logflags"
	"github.com/go-delve/dwarfline/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.DlvlineVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		logflags.Close()
		os.Exit(1)
	}
}
