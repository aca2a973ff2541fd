package venv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// versionRegex matches the output of `python --version`, which older
// interpreters print on stderr and newer ones on stdout.
var versionRegex = regexp.MustCompile(`Python\s+(\d+\.\d+(?:\.\d+)?)`)

// Manager creates, installs into and removes Python virtual environments
// by invoking the interpreter through a Runner.
type Manager struct {
	runner Runner

	// python is the base interpreter used for `-m venv`.
	python string

	// stdout and stderr receive the output of venv creation and pip.
	stdout io.Writer
	stderr io.Writer

	// noWait makes lock contention an immediate ExitLockBusy error.
	noWait bool

	// workDir is the working directory for venv creation and pip, so that
	// relative entries in requirements.txt resolve against the dashboard.
	workDir string

	now func() time.Time
}

// NewManager creates a Manager that uses python as the base interpreter.
// Progress output is discarded until SetOutput is called.
func NewManager(runner Runner, python string) *Manager {
	return &Manager{
		runner: runner,
		python: python,
		stdout: io.Discard,
		stderr: io.Discard,
		now:    time.Now,
	}
}

// SetOutput directs venv and pip output to the given writers.
func (m *Manager) SetOutput(stdout, stderr io.Writer) {
	m.stdout = stdout
	m.stderr = stderr
}

// SetNoWait controls whether a held environment lock fails fast.
func (m *Manager) SetNoWait(noWait bool) {
	m.noWait = noWait
}

// SetWorkDir sets the directory venv creation and pip run in. Empty means
// the current directory.
func (m *Manager) SetWorkDir(dir string) {
	m.workDir = dir
}

// BinDir returns the scripts directory of the environment at dir.
func BinDir(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "Scripts")
	}
	return filepath.Join(dir, "bin")
}

// Interpreter returns the path of the environment's python executable.
func Interpreter(dir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(BinDir(dir), "python.exe")
	}
	return filepath.Join(BinDir(dir), "python")
}

// Exists reports whether dir holds a usable virtual environment: the
// pyvenv.cfg marker written by `python -m venv` and its interpreter.
func (m *Manager) Exists(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "pyvenv.cfg")); err != nil {
		return false
	}
	_, err := os.Stat(Interpreter(dir))
	return err == nil
}

// Ensure creates the virtual environment at dir unless one already exists.
// It returns true only when this call created it. Concurrent launchers are
// serialized on the environment lock, so the environment is created once.
func (m *Manager) Ensure(ctx context.Context, dir string) (created bool, err error) {
	lock := newEnvLock(dir)
	if err := lock.acquire(ctx, m.noWait); err != nil {
		return false, err
	}
	defer func() { _ = lock.release() }()

	if m.Exists(dir) {
		return false, nil
	}

	err = m.runner.Run(ctx, Command{
		Name:   m.python,
		Args:   []string{"-m", "venv", dir},
		Dir:    m.workDir,
		Stdout: m.stdout,
		Stderr: m.stderr,
	})
	if err != nil {
		if IsNotFound(err) {
			return false, model.WrapCLIError(model.ExitPythonNotFound,
				fmt.Sprintf("python interpreter %q not found", m.python), err)
		}
		return false, model.WrapCLIError(model.ExitVenvFailed,
			fmt.Sprintf("failed to create virtual environment at %s", dir), err)
	}

	// Creation is recorded even before the first install so that status
	// can report the environment's age.
	if err := writeState(dir, &model.VenvState{CreatedAt: m.now().UTC()}); err != nil {
		return true, err
	}
	return true, nil
}

// Install runs `pip install -r requirements` with the environment's own
// interpreter. The install is skipped when the requirements digest matches
// the last successful install, unless force is set. It returns true when
// pip was run.
func (m *Manager) Install(ctx context.Context, dir, requirements string, force bool) (installed bool, err error) {
	sum, err := HashFile(requirements)
	if err != nil {
		if os.IsNotExist(err) {
			return false, &model.MissingFileError{Kind: model.MissingRequirements, Path: requirements}
		}
		return false, fmt.Errorf("failed to read requirements: %w", err)
	}

	lock := newEnvLock(dir)
	if err := lock.acquire(ctx, m.noWait); err != nil {
		return false, err
	}
	defer func() { _ = lock.release() }()

	state, err := ReadState(dir)
	if err != nil {
		return false, err
	}
	if state == nil {
		state = &model.VenvState{}
	}
	if !force && state.RequirementsSHA256 == sum {
		return false, nil
	}

	err = m.runner.Run(ctx, Command{
		Name:   Interpreter(dir),
		Args:   []string{"-m", "pip", "install", "-r", requirements},
		Dir:    m.workDir,
		Stdout: m.stdout,
		Stderr: m.stderr,
	})
	if err != nil {
		return false, model.WrapCLIError(model.ExitInstallFailed,
			fmt.Sprintf("failed to install dependencies from %s", requirements), err)
	}

	if v, verr := m.versionOf(ctx, Interpreter(dir)); verr == nil {
		state.PythonVersion = v
	}
	state.RequirementsSHA256 = sum
	state.InstalledAt = m.now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.InstalledAt
	}
	if err := writeState(dir, state); err != nil {
		return true, err
	}
	return true, nil
}

// Activate returns the environment a child process needs to run inside the
// virtual environment at dir, derived from base (typically os.Environ()).
// VIRTUAL_ENV is set, the scripts directory is prepended to PATH and
// PYTHONHOME is dropped. base itself is not modified, so there is nothing to
// deactivate afterwards.
func Activate(dir string, base []string) []string {
	env := make([]string, 0, len(base)+2)
	path := ""
	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")
		switch {
		case strings.EqualFold(key, "PATH"):
			path = value
		case key == "VIRTUAL_ENV", key == "PYTHONHOME":
		default:
			env = append(env, kv)
		}
	}

	newPath := BinDir(dir)
	if path != "" {
		newPath += string(os.PathListSeparator) + path
	}
	return append(env, "VIRTUAL_ENV="+dir, "PATH="+newPath)
}

// Remove deletes the environment at dir and its lock file. A missing dir
// is not an error.
//
// Only a directory carrying the pyvenv.cfg marker is ever deleted. A venvDir
// misconfigured to "." or to a parent would otherwise take the work
// directory, and the dashboard with it, along.
func (m *Manager) Remove(ctx context.Context, dir string) error {
	lock := newEnvLock(dir)
	if err := lock.acquire(ctx, m.noWait); err != nil {
		return err
	}

	err := removeEnvDir(dir)
	_ = lock.release()
	if err != nil {
		return err
	}

	if err := os.Remove(lock.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", lock.path, err)
	}
	return nil
}

// removeEnvDir deletes dir after checking that it is a virtual environment.
func removeEnvDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to inspect %s: %w", dir, err)
	}
	if !info.IsDir() {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("refusing to remove %s: not a directory", dir))
	}
	if _, err := os.Stat(filepath.Join(dir, "pyvenv.cfg")); err != nil {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("refusing to remove %s: no pyvenv.cfg, not a virtual environment", dir))
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove virtual environment %s: %w", dir, err)
	}
	return nil
}

// PythonVersion reports the version of the base interpreter.
func (m *Manager) PythonVersion(ctx context.Context) (string, error) {
	v, err := m.versionOf(ctx, m.python)
	if err != nil {
		if IsNotFound(err) {
			return "", model.WrapCLIError(model.ExitPythonNotFound,
				fmt.Sprintf("python interpreter %q not found", m.python), err)
		}
		return "", err
	}
	return v, nil
}

// CheckPython verifies the base interpreter is at least min. An empty min
// only checks that the interpreter runs.
func (m *Manager) CheckPython(ctx context.Context, min string) (string, error) {
	version, err := m.PythonVersion(ctx)
	if err != nil {
		return "", err
	}
	if min == "" {
		return version, nil
	}

	ok, err := versionSatisfies(version, min)
	if err != nil {
		return version, err
	}
	if !ok {
		return version, model.NewCLIError(model.ExitPythonNotFound,
			fmt.Sprintf("python %s is too old: %s or newer is required", version, min))
	}
	return version, nil
}

func (m *Manager) versionOf(ctx context.Context, python string) (string, error) {
	var out bytes.Buffer
	if err := m.runner.Run(ctx, Command{
		Name:   python,
		Args:   []string{"--version"},
		Stdout: &out,
		Stderr: &out,
	}); err != nil {
		return "", err
	}
	return parseVersion(out.String())
}

// parseVersion extracts "X.Y[.Z]" from `python --version` output.
func parseVersion(output string) (string, error) {
	match := versionRegex.FindStringSubmatch(output)
	if match == nil {
		return "", fmt.Errorf("unrecognized python version output: %q", strings.TrimSpace(output))
	}
	return match[1], nil
}

// versionSatisfies reports whether version >= min.
func versionSatisfies(version, min string) (bool, error) {
	constraint, err := semver.NewConstraint(">= " + min)
	if err != nil {
		return false, fmt.Errorf("invalid minimum python version %q: %w", min, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid python version %q: %w", version, err)
	}
	return constraint.Check(v), nil
}
