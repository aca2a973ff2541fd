// Package venvtest provides a scripted venv.Runner for tests that must not
// depend on a Python installation.
package venvtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/shinji-kodama/dashlaunch/internal/venv"
)

// ExitError is returned by handlers to simulate a child exiting non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode reports the simulated status; venv.ExitStatus understands it.
func (e *ExitError) ExitCode() int { return e.Code }

// Runner records every command and answers it with Handle, or with Default
// when Handle is nil.
type Runner struct {
	// Version is what `--version` reports. Empty means "3.11.4".
	Version string

	// Handle overrides the response to a command. It may call Default.
	Handle func(r *Runner, cmd venv.Command) error

	mu    sync.Mutex
	calls []venv.Command
}

// Run records cmd and dispatches it.
func (r *Runner) Run(_ context.Context, cmd venv.Command) error {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	if r.Handle != nil {
		return r.Handle(r, cmd)
	}
	return r.Default(cmd)
}

// Default imitates a working interpreter: `--version` prints a version,
// `-m venv <dir>` lays down pyvenv.cfg and an interpreter file, everything
// else succeeds silently.
func (r *Runner) Default(cmd venv.Command) error {
	switch {
	case len(cmd.Args) == 1 && cmd.Args[0] == "--version":
		version := r.Version
		if version == "" {
			version = "3.11.4"
		}
		if cmd.Stdout != nil {
			_, _ = fmt.Fprintf(cmd.Stdout, "Python %s\n", version)
		}
		return nil

	case len(cmd.Args) == 3 && cmd.Args[0] == "-m" && cmd.Args[1] == "venv":
		dir := cmd.Args[2]
		if err := os.MkdirAll(venv.BinDir(dir), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "pyvenv.cfg"), []byte("home = /usr/bin\n"), 0644); err != nil {
			return err
		}
		return os.WriteFile(venv.Interpreter(dir), []byte("#!/bin/sh\n"), 0755)
	}
	return nil
}

// Calls returns a copy of the recorded commands in call order.
func (r *Runner) Calls() []venv.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]venv.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many recorded commands match.
func (r *Runner) Count(match func(venv.Command) bool) int {
	n := 0
	for _, c := range r.Calls() {
		if match(c) {
			n++
		}
	}
	return n
}

// IsVenvCreate matches `-m venv` invocations.
func IsVenvCreate(c venv.Command) bool {
	return len(c.Args) >= 2 && c.Args[0] == "-m" && c.Args[1] == "venv"
}

// IsPipInstall matches `-m pip install` invocations.
func IsPipInstall(c venv.Command) bool {
	return len(c.Args) >= 3 && c.Args[0] == "-m" && c.Args[1] == "pip" && c.Args[2] == "install"
}
