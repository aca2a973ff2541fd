// Package model defines the domain types and value objects for the
// dashlaunch CLI.
//
// This package contains pure data structures with no external dependencies.
// Runtime selection (Runtime), the persisted install record (VenvState) and
// the status report (EnvStatus) live here so that the venv, launcher, docker
// and cli packages can share them without import cycles.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
