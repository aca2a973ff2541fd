package launcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/dashlaunch/internal/config"
	"github.com/shinji-kodama/dashlaunch/internal/docker"
	"github.com/shinji-kodama/dashlaunch/internal/model"
	"github.com/shinji-kodama/dashlaunch/internal/venv"
	"github.com/shinji-kodama/dashlaunch/internal/venv/venvtest"
)

// workDir creates a work directory holding the named files.
func workDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

// newTestLauncher wires a Launcher to a scripted runner with a fixed base
// environment and captured output.
func newTestLauncher(t *testing.T, dir string, runner *venvtest.Runner) (*Launcher, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default(dir)
	l := New(cfg, runner)
	var out bytes.Buffer
	l.SetIO(strings.NewReader(""), &out, &out)
	l.SetEnviron(func() []string { return []string{"PATH=/usr/bin", "HOME=/home/eagle"} })
	return l, &out
}

// isEntrypointRun matches the invocation of the dashboard script.
func isEntrypointRun(c venv.Command) bool {
	return len(c.Args) > 0 && strings.HasSuffix(c.Args[0], "dashboard.py")
}

// entrypointCall returns the single recorded dashboard invocation.
func entrypointCall(t *testing.T, runner *venvtest.Runner) venv.Command {
	t.Helper()
	var found []venv.Command
	for _, c := range runner.Calls() {
		if isEntrypointRun(c) {
			found = append(found, c)
		}
	}
	require.Len(t, found, 1)
	return found[0]
}

// TestLaunch_ForwardsArgsInOrder verifies passthrough arguments reach the
// entry point unmodified and in order, run by the venv interpreter in the
// work dir.
func TestLaunch_ForwardsArgsInOrder(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": "print()\n"})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)

	args := []string{"--debug", "a b", "", "--", "-x", "--port=9"}
	code, err := l.Launch(context.Background(), args, false)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	call := entrypointCall(t, runner)
	venvDir := filepath.Join(dir, ".venv")
	assert.Equal(t, venv.Interpreter(venvDir), call.Name)
	assert.Equal(t, append([]string{filepath.Join(dir, "dashboard.py")}, args...), call.Args)
	assert.Equal(t, dir, call.Dir)
	assert.Contains(t, call.Env, "VIRTUAL_ENV="+venvDir)
	assert.Contains(t, call.Env, "HOME=/home/eagle")
}

// TestLaunch_SequenceOrder verifies create, install, then run.
func TestLaunch_SequenceOrder(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)

	_, err := l.Launch(context.Background(), nil, false)
	require.NoError(t, err)

	var steps []string
	for _, c := range runner.Calls() {
		switch {
		case venvtest.IsVenvCreate(c):
			steps = append(steps, "venv")
			assert.Equal(t, dir, c.Dir)
		case venvtest.IsPipInstall(c):
			steps = append(steps, "pip")
			assert.Equal(t, dir, c.Dir)
		case isEntrypointRun(c):
			steps = append(steps, "run")
		}
	}
	assert.Equal(t, []string{"venv", "pip", "run"}, steps)
}

// TestLaunch_ReusesVenv verifies a second launch creates nothing and, with
// unchanged requirements, installs nothing.
func TestLaunch_ReusesVenv(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)

	for i := 0; i < 2; i++ {
		code, err := l.Launch(context.Background(), nil, false)
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	}

	assert.Equal(t, 1, runner.Count(venvtest.IsVenvCreate))
	assert.Equal(t, 1, runner.Count(venvtest.IsPipInstall))
	assert.Equal(t, 2, runner.Count(isEntrypointRun))
}

// TestLaunch_MissingRequirements verifies exit 1 without any install or
// invocation.
func TestLaunch_MissingRequirements(t *testing.T) {
	dir := workDir(t, map[string]string{"dashboard.py": ""})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)

	code, err := l.Launch(context.Background(), []string{"--x"}, false)

	assert.Equal(t, 1, code)
	var missing *model.MissingFileError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, model.MissingRequirements, missing.Kind)
	assert.Equal(t, model.ExitGeneralError, missing.ExitCode())
	assert.Equal(t, 0, runner.Count(venvtest.IsPipInstall))
	assert.Equal(t, 0, runner.Count(isEntrypointRun))
}

// TestLaunch_MissingEntrypoint verifies exit 1 without any invocation.
func TestLaunch_MissingEntrypoint(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n"})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)

	code, err := l.Launch(context.Background(), nil, false)

	assert.Equal(t, 1, code)
	var missing *model.MissingFileError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, model.MissingEntrypoint, missing.Kind)
	assert.Equal(t, filepath.Join(dir, "dashboard.py"), missing.Path)
	assert.Equal(t, 0, runner.Count(isEntrypointRun))
}

// TestLaunch_PropagatesExitCode verifies the child's status is returned.
func TestLaunch_PropagatesExitCode(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})
	runner := &venvtest.Runner{
		Handle: func(r *venvtest.Runner, c venv.Command) error {
			if isEntrypointRun(c) {
				return &venvtest.ExitError{Code: 3}
			}
			return r.Default(c)
		},
	}
	l, _ := newTestLauncher(t, dir, runner)

	code, err := l.Launch(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

// TestLaunch_StartFailure verifies a child that cannot start is an error.
func TestLaunch_StartFailure(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})
	runner := &venvtest.Runner{
		Handle: func(r *venvtest.Runner, c venv.Command) error {
			if isEntrypointRun(c) {
				return os.ErrPermission
			}
			return r.Default(c)
		},
	}
	l, _ := newTestLauncher(t, dir, runner)

	_, err := l.Launch(context.Background(), nil, false)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.ErrorIs(t, err, os.ErrPermission)
}

// TestLaunch_PythonTooOld verifies the version gate runs before creation.
func TestLaunch_PythonTooOld(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})
	runner := &venvtest.Runner{Version: "3.6.9"}
	l, _ := newTestLauncher(t, dir, runner)

	_, err := l.Launch(context.Background(), nil, false)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitPythonNotFound, cliErr.Code)
	assert.Equal(t, 0, runner.Count(venvtest.IsVenvCreate))
}

// TestLaunch_DotenvAndPort verifies .env values and the dashboard port are
// exported, and that the caller's environment wins over .env.
func TestLaunch_DotenvAndPort(t *testing.T) {
	dir := workDir(t, map[string]string{
		"requirements.txt": "dash\n",
		"dashboard.py":     "",
		".env":             "LOG_DIR=/var/log/eagle\nHOME=/from/dotenv\n",
	})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)
	l.cfg.PortRangeStart, l.cfg.PortRangeEnd = 50400, 50500

	_, err := l.Launch(context.Background(), nil, false)
	require.NoError(t, err)

	env := entrypointCall(t, runner).Env
	assert.Contains(t, env, "LOG_DIR=/var/log/eagle")
	assert.Contains(t, env, "HOME=/home/eagle")
	assert.NotContains(t, env, "HOME=/from/dotenv")

	port, ok := lookupEnv(env, "DASHBOARD_PORT")
	require.True(t, ok)
	assert.NotEmpty(t, port)
}

// TestLaunch_ExplicitPortKept verifies a caller-provided port is not
// overridden.
func TestLaunch_ExplicitPortKept(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)
	l.SetEnviron(func() []string { return []string{"PATH=/usr/bin", "DASHBOARD_PORT=8123"} })

	_, err := l.Launch(context.Background(), nil, false)
	require.NoError(t, err)

	port, _ := lookupEnv(entrypointCall(t, runner).Env, "DASHBOARD_PORT")
	assert.Equal(t, "8123", port)
}

// fakeBackend records the container spec instead of talking to Docker.
type fakeBackend struct {
	spec  *docker.RunSpec
	code  int
	calls int
}

func (f *fakeBackend) RunDashboard(_ context.Context, spec docker.RunSpec) (int, error) {
	f.calls++
	f.spec = &spec
	return f.code, nil
}

// TestLaunch_Container verifies the container runtime receives relative
// paths and the forwarded arguments, and never touches the host venv.
func TestLaunch_Container(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})
	runner := &venvtest.Runner{}
	l, _ := newTestLauncher(t, dir, runner)
	l.cfg.Runtime = model.RuntimeContainer
	backend := &fakeBackend{code: 5}
	l.SetContainerBackend(backend)

	code, err := l.Launch(context.Background(), []string{"--flag", "v"}, true)
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	require.NotNil(t, backend.spec)
	assert.Equal(t, "requirements.txt", backend.spec.Requirements)
	assert.Equal(t, "dashboard.py", backend.spec.Entrypoint)
	assert.Equal(t, []string{"--flag", "v"}, backend.spec.Args)
	assert.Equal(t, 8050, backend.spec.ContainerPort)
	assert.Contains(t, backend.spec.Env, "DASHBOARD_PORT=8050")
	assert.True(t, backend.spec.Reinstall)
	assert.Empty(t, runner.Calls())
}

// TestLaunch_ContainerMountsLogDir verifies $HOME/logeagle is handed to
// the container when it exists and left out when it does not.
func TestLaunch_ContainerMountsLogDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n", "dashboard.py": ""})

	launch := func() *docker.RunSpec {
		l, _ := newTestLauncher(t, dir, &venvtest.Runner{})
		l.cfg.Runtime = model.RuntimeContainer
		backend := &fakeBackend{}
		l.SetContainerBackend(backend)
		_, err := l.Launch(context.Background(), nil, false)
		require.NoError(t, err)
		require.NotNil(t, backend.spec)
		return backend.spec
	}

	assert.Empty(t, launch().LogDir)

	logDir := filepath.Join(home, config.HomeDirName)
	require.NoError(t, os.Mkdir(logDir, 0755))
	assert.Equal(t, logDir, launch().LogDir)
}

// TestLaunch_ContainerMissingEntrypoint verifies the host-side check stops
// the launch before the backend is used.
func TestLaunch_ContainerMissingEntrypoint(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n"})
	l, _ := newTestLauncher(t, dir, &venvtest.Runner{})
	l.cfg.Runtime = model.RuntimeContainer
	backend := &fakeBackend{}
	l.SetContainerBackend(backend)

	code, err := l.Launch(context.Background(), nil, false)
	assert.Equal(t, 1, code)
	var missing *model.MissingFileError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, model.MissingEntrypoint, missing.Kind)
	assert.Equal(t, 0, backend.calls)
}

// TestSetup verifies Setup reports what it did.
func TestSetup(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n"})
	l, _ := newTestLauncher(t, dir, &venvtest.Runner{})

	res, err := l.Setup(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Installed)

	res, err = l.Setup(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.Installed)
}

// TestStatus verifies the report before and after setup.
func TestStatus(t *testing.T) {
	dir := workDir(t, map[string]string{"requirements.txt": "dash\n"})
	l, _ := newTestLauncher(t, dir, &venvtest.Runner{Version: "3.12.1"})
	ctx := context.Background()

	st, err := l.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.VenvExists)
	assert.True(t, st.RequirementsExists)
	assert.False(t, st.EntrypointExists)
	assert.Equal(t, "3.12.1", st.PythonVersion)
	assert.Nil(t, st.State)
	assert.GreaterOrEqual(t, st.DashboardPort, 8050)

	_, err = l.Setup(ctx, false)
	require.NoError(t, err)

	st, err = l.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.VenvExists)
	require.NotNil(t, st.State)
	assert.True(t, st.UpToDate)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("dash\npandas\n"), 0644))
	st, err = l.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.UpToDate)
}
