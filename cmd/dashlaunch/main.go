// Package main is the entry point for the dashlaunch CLI.
//
// dashlaunch prepares a Python virtual environment for the log dashboard
// and runs it. All functionality lives in the internal/cli package.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development, they default to "dev", "none", and "unknown".
package main

import (
	"github.com/shinji-kodama/dashlaunch/internal/cli"
)

// version, commit, and date are set at build time via ldflags, e.g.
//
//	go build -ldflags "-X main.version=1.2.0" ./cmd/dashlaunch
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	// Execute handles error formatting and exit codes, including the
	// dashboard's own exit status.
	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
