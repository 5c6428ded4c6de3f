package main

import (
	"github.com/orienteering/yarocd/internal/cliapp"
)

// Build information, injected at compile time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cliapp.SetVersionInfo(version, commit, date)
	cliapp.Execute(cliapp.NewFieldNodeRoot())
}
