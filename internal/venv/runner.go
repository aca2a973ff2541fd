package venv

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// defaultWaitDelay is how long a child gets to exit after it has been sent
// an interrupt before it is killed.
const defaultWaitDelay = 10 * time.Second

// Command describes one child process invocation.
type Command struct {
	// Name is the program to run, looked up in PATH when it has no separator.
	Name string

	// Args are passed to the program verbatim, in order.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is the complete child environment. Nil inherits os.Environ().
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner abstracts process execution so that the venv manager and the
// launcher can be exercised without a Python installation.
type Runner interface {
	// Run starts the command and waits for it to finish. A non-zero exit
	// is reported as an error from which ExitStatus can recover the code.
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits after ctx is cancelled and the
	// child has been interrupted. Zero means defaultWaitDelay.
	WaitDelay time.Duration
}

// NewExecRunner returns an ExecRunner with the default grace period.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes cmd. Cancelling ctx sends os.Interrupt to the child instead of
// killing it outright, so the dashboard can shut its server down; it is
// killed once WaitDelay has elapsed.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	// #nosec G204: the program is the configured interpreter
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	err := cmd.Run()
	// After an interrupt exec reports ctx.Err() even when the child shut
	// down cleanly; that is a normal exit.
	if err != nil && ctx.Err() != nil && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		return nil
	}
	return err
}

// exitCoder is satisfied by *exec.ExitError and by test doubles.
type exitCoder interface {
	ExitCode() int
}

// ExitStatus extracts the exit code of a finished child from the error
// returned by Runner.Run. ok is false when err does not describe a process
// exit (for example, the program could not be started). A child killed by
// a signal reports 128 plus the signal number, as a shell would.
func ExitStatus(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr exitCoder
	if !errors.As(err, &exitErr) {
		return 0, false
	}
	code = exitErr.ExitCode()
	if code < 0 {
		code = signalStatus(err)
	}
	return code, true
}

// signalStatus returns 128+signal for a child terminated by a signal, and
// 1 when the signal cannot be recovered.
func signalStatus(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return 1
}

// IsNotFound reports whether err means the program itself does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
