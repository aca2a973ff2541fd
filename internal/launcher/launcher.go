// Package launcher runs the dashboard launch sequence:
//
//  1. ensure the virtual environment exists (created once, reused after)
//  2. check the requirements file
//  3. install dependencies
//  4. check the entry point
//  5. run the entry point with the passthrough arguments
//
// A missing requirements file stops the sequence before anything is
// installed; a missing entry point stops it before anything is invoked.
// The launched process inherits stdio and its exit status becomes the
// launcher's.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/shinji-kodama/dashlaunch/internal/config"
	"github.com/shinji-kodama/dashlaunch/internal/docker"
	"github.com/shinji-kodama/dashlaunch/internal/model"
	"github.com/shinji-kodama/dashlaunch/internal/port"
	"github.com/shinji-kodama/dashlaunch/internal/venv"
)

// ContainerBackend runs the dashboard inside a container. It is satisfied
// by *docker.Client.
type ContainerBackend interface {
	RunDashboard(ctx context.Context, spec docker.RunSpec) (int, error)
}

// Logf receives progress messages. The cli package passes its verbose
// logger.
type Logf func(format string, args ...interface{})

// Launcher executes launches for one work directory.
type Launcher struct {
	cfg     *config.Config
	runner  venv.Runner
	venvs   *venv.Manager
	scanner *port.Scanner
	backend ContainerBackend

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	environ func() []string
	logf    Logf
}

// New creates a Launcher for cfg that runs processes with runner.
func New(cfg *config.Config, runner venv.Runner) *Launcher {
	l := &Launcher{
		cfg:     cfg,
		runner:  runner,
		venvs:   venv.NewManager(runner, cfg.Python),
		scanner: port.NewScanner(),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		environ: os.Environ,
		logf:    func(string, ...interface{}) {},
	}
	l.venvs.SetOutput(l.stdout, l.stderr)
	l.venvs.SetWorkDir(cfg.WorkDir)
	return l
}

// SetIO replaces the standard streams handed to child processes.
func (l *Launcher) SetIO(stdin io.Reader, stdout, stderr io.Writer) {
	l.stdin = stdin
	l.stdout = stdout
	l.stderr = stderr
	l.venvs.SetOutput(stdout, stderr)
}

// SetEnviron replaces the source of the base child environment.
func (l *Launcher) SetEnviron(environ func() []string) {
	l.environ = environ
}

// SetLogger installs a progress logger.
func (l *Launcher) SetLogger(logf Logf) {
	if logf != nil {
		l.logf = logf
	}
}

// SetContainerBackend enables the container runtime.
func (l *Launcher) SetContainerBackend(backend ContainerBackend) {
	l.backend = backend
}

// Manager exposes the venv manager, e.g. for SetNoWait.
func (l *Launcher) Manager() *venv.Manager {
	return l.venvs
}

// SetupResult reports what Setup changed.
type SetupResult struct {
	VenvDir   string `json:"venvDir"`
	Created   bool   `json:"created"`
	Installed bool   `json:"installed"`
}

// Setup runs steps 1-3: ensure the environment and install requirements.
// The base interpreter's version is only checked when the environment has
// to be created.
func (l *Launcher) Setup(ctx context.Context, reinstall bool) (*SetupResult, error) {
	dir := l.cfg.VenvPath()
	result := &SetupResult{VenvDir: dir}

	if !l.venvs.Exists(dir) {
		version, err := l.venvs.CheckPython(ctx, l.cfg.MinPython)
		if err != nil {
			return result, err
		}
		l.logf("Using %s (Python %s)", l.cfg.Python, version)
	}

	created, err := l.venvs.Ensure(ctx, dir)
	if err != nil {
		return result, err
	}
	result.Created = created
	if created {
		l.logf("Created virtual environment at %s", dir)
	} else {
		l.logf("Reusing virtual environment at %s", dir)
	}

	reqs := l.cfg.RequirementsPath()
	if !fileExists(reqs) {
		return result, &model.MissingFileError{Kind: model.MissingRequirements, Path: reqs}
	}

	installed, err := l.venvs.Install(ctx, dir, reqs, reinstall)
	if err != nil {
		return result, err
	}
	result.Installed = installed
	if installed {
		l.logf("Installed dependencies from %s", reqs)
	} else {
		l.logf("Dependencies from %s are up to date", reqs)
	}
	return result, nil
}

// Launch runs the full sequence and returns the launched process's exit
// status. A non-nil error means the process was never started.
func (l *Launcher) Launch(ctx context.Context, args []string, reinstall bool) (int, error) {
	// The container runtime carries out the whole sequence inside the
	// container.
	if l.cfg.Runtime == model.RuntimeContainer {
		return l.launchContainer(ctx, args, reinstall)
	}

	// Steps 1-3: Create the environment, check requirements.txt and
	// install from it when it changed.
	if _, err := l.Setup(ctx, reinstall); err != nil {
		return int(model.ExitGeneralError), err
	}

	// Step 4: The entry point is checked only now, so a fresh checkout
	// still gets its environment prepared.
	entry := l.cfg.EntrypointPath()
	if !fileExists(entry) {
		return int(model.ExitGeneralError), &model.MissingFileError{Kind: model.MissingEntrypoint, Path: entry}
	}

	// Step 5: Run the entry point with the environment's interpreter and
	// an activated environment (VIRTUAL_ENV, PATH), plus the dotenv values
	// and the chosen port.
	dir := l.cfg.VenvPath()
	env, err := l.childEnv(venv.Activate(dir, l.environ()))
	if err != nil {
		return int(model.ExitGeneralError), err
	}

	l.logf("Running %s %s", entry, strings.Join(args, " "))
	runErr := l.runner.Run(ctx, venv.Command{
		Name:   venv.Interpreter(dir),
		Args:   append([]string{entry}, args...),
		Dir:    l.cfg.WorkDir,
		Env:    env,
		Stdin:  l.stdin,
		Stdout: l.stdout,
		Stderr: l.stderr,
	})
	// Any exit, including one caused by a signal, is the dashboard's
	// status. Only a failure to start it at all is dashlaunch's error.
	if code, ok := venv.ExitStatus(runErr); ok {
		return code, nil
	}
	return int(model.ExitGeneralError), model.WrapCLIError(model.ExitGeneralError,
		fmt.Sprintf("failed to start %s", entry), runErr)
}

// hostLogDir returns $HOME/logeagle when it exists, for mounting into the
// container. It returns "" otherwise.
func (l *Launcher) hostLogDir() string {
	dir, err := config.HomeLogDir()
	if err != nil {
		l.logf("Not mounting log directory: %v", err)
		return ""
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		l.logf("Not mounting log directory: %s does not exist", dir)
		return ""
	}
	return dir
}

// launchContainer checks the inputs on the host, then hands the whole
// sequence to the container backend.
func (l *Launcher) launchContainer(ctx context.Context, args []string, reinstall bool) (int, error) {
	if l.backend == nil {
		return int(model.ExitDockerNotRunning), model.NewCLIError(model.ExitDockerNotRunning,
			"container runtime selected but no Docker client is available")
	}

	reqs := l.cfg.RequirementsPath()
	if !fileExists(reqs) {
		return int(model.ExitGeneralError), &model.MissingFileError{Kind: model.MissingRequirements, Path: reqs}
	}
	entry := l.cfg.EntrypointPath()
	if !fileExists(entry) {
		return int(model.ExitGeneralError), &model.MissingFileError{Kind: model.MissingEntrypoint, Path: entry}
	}

	relReqs, err := l.relToWorkDir(reqs)
	if err != nil {
		return int(model.ExitGeneralError), err
	}
	relEntry, err := l.relToWorkDir(entry)
	if err != nil {
		return int(model.ExitGeneralError), err
	}

	// Only the dotenv values are forwarded; the host environment does not
	// belong inside the container. Inside, the dashboard always gets the
	// start of the range, which is published on a free host port.
	var base []string
	if l.cfg.PortEnv != "" {
		base = append(base, fmt.Sprintf("%s=%d", l.cfg.PortEnv, l.cfg.PortRangeStart))
	}
	env, err := l.childEnv(base)
	if err != nil {
		return int(model.ExitGeneralError), err
	}

	hostPort, _ := l.scanner.PickDashboardPort(l.cfg.PortRangeStart, l.cfg.PortRangeEnd)
	logDir := l.hostLogDir()

	spec := docker.RunSpec{
		WorkDir:       l.cfg.WorkDir,
		Image:         l.cfg.Image,
		Requirements:  relReqs,
		Entrypoint:    relEntry,
		Args:          args,
		Env:           env,
		HostPort:      hostPort,
		ContainerPort: l.cfg.PortRangeStart,
		Reinstall:     reinstall,
		LogDir:        logDir,
		Stdout:        l.stdout,
		Stderr:        l.stderr,
	}
	l.logf("Running %s in %s (http://localhost:%d)", relEntry, l.cfg.Image, hostPort)
	return l.backend.RunDashboard(ctx, spec)
}

// childEnv layers the dotenv file and the chosen dashboard port onto base.
// Variables already present in base win over both.
func (l *Launcher) childEnv(base []string) ([]string, error) {
	env := append([]string(nil), base...)

	if path := l.cfg.EnvFilePath(); path != "" && fileExists(path) {
		vars, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := lookupEnv(env, k); !ok {
				env = append(env, k+"="+vars[k])
			}
		}
		l.logf("Loaded %d variable(s) from %s", len(vars), path)
	}

	if l.cfg.PortEnv != "" {
		if _, ok := lookupEnv(env, l.cfg.PortEnv); !ok {
			p, free := l.scanner.PickDashboardPort(l.cfg.PortRangeStart, l.cfg.PortRangeEnd)
			if !free {
				l.logf("No free port in %d-%d, falling back to %d", l.cfg.PortRangeStart, l.cfg.PortRangeEnd, p)
			}
			env = append(env, fmt.Sprintf("%s=%d", l.cfg.PortEnv, p))
			l.logf("Dashboard URL: http://localhost:%d", p)
		}
	}
	return env, nil
}

func (l *Launcher) relToWorkDir(path string) (string, error) {
	rel, err := filepath.Rel(l.cfg.WorkDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("%s must be inside %s for the container runtime", path, l.cfg.WorkDir))
	}
	return filepath.ToSlash(rel), nil
}

// lookupEnv finds key in a KEY=VALUE slice, last assignment winning as it
// does for exec.
func lookupEnv(env []string, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for i := len(env) - 1; i >= 0; i-- {
		k, v, _ := strings.Cut(env[i], "=")
		if k == key {
			return v, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
