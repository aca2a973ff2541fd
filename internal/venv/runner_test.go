package venv

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipWithoutShell skips tests that need a POSIX sh.
func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH")
	}
}

// TestExecRunner_ArgsAndExitCode verifies arguments arrive verbatim and in
// order, and that the child's exit status is recoverable.
func TestExecRunner_ArgsAndExitCode(t *testing.T) {
	skipWithoutShell(t)

	var out bytes.Buffer
	err := NewExecRunner().Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", `printf '%s|' "$@"; exit 7`, "sh", "--port", "a b", "", "--"},
		Stdout: &out,
	})

	assert.Equal(t, "--port|a b||--|", out.String())
	code, ok := ExitStatus(err)
	require.True(t, ok)
	assert.Equal(t, 7, code)
}

// TestExecRunner_DirAndEnv verifies the working directory and environment
// are applied.
func TestExecRunner_DirAndEnv(t *testing.T) {
	skipWithoutShell(t)

	dir := t.TempDir()
	var out bytes.Buffer
	err := NewExecRunner().Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", `printf '%s %s' "$PWD" "$DASH_MARK"`},
		Dir:    dir,
		Env:    []string{"DASH_MARK=ok", "PATH=/usr/bin:/bin"},
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), " ok")
}

// runUntilReady starts script under sh in the background and waits until
// it has created the file passed as $1.
func runUntilReady(t *testing.T, ctx context.Context, r *ExecRunner, script string) <-chan error {
	t.Helper()
	ready := filepath.Join(t.TempDir(), "ready")
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, Command{Name: "sh", Args: []string{"-c", script, "sh", ready}})
	}()
	require.Eventually(t, func() bool {
		_, err := os.Stat(ready)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return done
}

// TestExecRunner_InterruptOnCancel verifies cancelling the context sends
// an interrupt the child can handle, and its own exit status is kept.
func TestExecRunner_InterruptOnCancel(t *testing.T) {
	skipWithoutShell(t)

	tests := []struct {
		name     string
		trap     string
		wantCode int
	}{
		{name: "handler exit status", trap: "exit 7", wantCode: 7},
		{name: "clean shutdown", trap: "exit 0", wantCode: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			r := &ExecRunner{WaitDelay: 3 * time.Second}

			done := runUntilReady(t, ctx, r, `trap "`+tt.trap+`" INT; : > "$1"; sleep 5 & wait`)
			cancelledAt := time.Now()
			cancel()

			var err error
			select {
			case err = <-done:
			case <-time.After(10 * time.Second):
				t.Fatal("child did not exit after interrupt")
			}
			// Well inside WaitDelay: the child was interrupted, not killed.
			assert.Less(t, time.Since(cancelledAt), 2*time.Second)

			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			code, ok := ExitStatus(err)
			require.True(t, ok, "unexpected error: %v", err)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

// TestExitStatus_Signaled verifies a child killed by a signal reports
// 128 plus the signal number.
func TestExitStatus_Signaled(t *testing.T) {
	skipWithoutShell(t)

	err := NewExecRunner().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `kill -TERM $$`},
	})
	code, ok := ExitStatus(err)
	require.True(t, ok)
	assert.Equal(t, 128+15, code)
}

// TestExitStatus covers the non-exit cases.
func TestExitStatus(t *testing.T) {
	code, ok := ExitStatus(nil)
	assert.True(t, ok)
	assert.Equal(t, 0, code)

	_, ok = ExitStatus(errors.New("boom"))
	assert.False(t, ok)

	err := NewExecRunner().Run(context.Background(), Command{Name: "dashlaunch-no-such-program"})
	_, ok = ExitStatus(err)
	assert.False(t, ok)
	assert.True(t, IsNotFound(err))
}

// TestParseVersion covers `python --version` output variants.
func TestParseVersion(t *testing.T) {
	tests := []struct {
		output  string
		want    string
		wantErr bool
	}{
		{"Python 3.12.1\n", "3.12.1", false},
		{"Python 2.7.18", "2.7.18", false},
		{"Python 3.13.0rc1", "3.13.0", false},
		{"Python 3.9", "3.9", false},
		{"command not found", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			got, err := parseVersion(tt.output)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestVersionSatisfies covers the semver comparison, including two-part
// versions.
func TestVersionSatisfies(t *testing.T) {
	ok, err := versionSatisfies("3.10.2", "3.8")
	require.NoError(t, err)
	assert.True(t, ok, "3.10 sorts after 3.8 numerically")

	ok, err = versionSatisfies("3.7", "3.8")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = versionSatisfies("3.10.2", "not-a-version")
	assert.Error(t, err)
}
