package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// writeConfig writes content as dashlaunch.jsonc into a fresh temp dir and
// returns the directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644))
	return dir
}

// TestLoad_NoFile verifies that a work dir without a config file gets the
// launcher defaults.
func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.WorkDir)
	assert.Equal(t, ".venv", cfg.VenvDir)
	assert.Equal(t, "requirements.txt", cfg.Requirements)
	assert.Equal(t, "dashboard.py", cfg.Entrypoint)
	assert.Equal(t, "python3", cfg.Python)
	assert.Equal(t, model.RuntimeVenv, cfg.Runtime)
	assert.Equal(t, 8050, cfg.PortRangeStart)
	assert.Equal(t, 9000, cfg.PortRangeEnd)
}

// TestLoad_JSONCOverrides verifies comments and trailing commas are accepted
// and that omitted fields keep their defaults.
func TestLoad_JSONCOverrides(t *testing.T) {
	dir := writeConfig(t, `{
  // run the alternate entry point
  "entrypoint": "app.py",
  /* containerised */
  "runtime": "container",
  "portRangeStart": 9100,
  "portRangeEnd": 9200,
}`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "app.py", cfg.Entrypoint)
	assert.Equal(t, model.RuntimeContainer, cfg.Runtime)
	assert.Equal(t, 9100, cfg.PortRangeStart)
	assert.Equal(t, "requirements.txt", cfg.Requirements, "unset fields keep defaults")
	assert.Equal(t, dir, cfg.WorkDir, "work dir is never read from the file")
}

// TestLoad_Invalid covers malformed and semantically invalid files.
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"venvDir": `},
		{"unknown runtime", `{"runtime": "conda"}`},
		{"empty entrypoint", `{"entrypoint": ""}`},
		{"inverted port range", `{"portRangeStart": 9000, "portRangeEnd": 8000}`},
		{"venv is the work dir", `{"venvDir": "."}`},
		{"venv is a parent of the work dir", `{"venvDir": ".."}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.content)
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

// TestValidate_VenvDirPlacement verifies the venv may sit inside or beside
// the work dir but never at or above it.
func TestValidate_VenvDirPlacement(t *testing.T) {
	tests := []struct {
		venvDir string
		wantErr bool
	}{
		{".venv", false},
		{"envs/dash", false},
		{"../dash-venv", false},
		{"/opt/venvs/dash", false},
		{".", true},
		{"./", true},
		{"..", true},
		{"/srv", true},
		{"/", true},
	}

	for _, tt := range tests {
		t.Run(tt.venvDir, func(t *testing.T) {
			cfg := Default("/srv/dash")
			cfg.VenvDir = tt.venvDir
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestPath verifies relative names resolve against the work dir while
// absolute names pass through.
func TestPath(t *testing.T) {
	cfg := Default("/srv/dash")

	assert.Equal(t, "/srv/dash/.venv", cfg.VenvPath())
	assert.Equal(t, "/srv/dash/requirements.txt", cfg.RequirementsPath())
	assert.Equal(t, "/srv/dash/dashboard.py", cfg.EntrypointPath())
	assert.Equal(t, "/opt/venvs/dash", cfg.Path("/opt/venvs/dash"))

	cfg.EnvFile = ""
	assert.Equal(t, "", cfg.EnvFilePath())
}

// TestResolveWorkDir covers the cwd default, explicit dirs and the fixed
// home-directory variant.
func TestResolveWorkDir(t *testing.T) {
	t.Run("explicit dir is made absolute", func(t *testing.T) {
		dir := t.TempDir()
		got, err := ResolveWorkDir(dir, false)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})

	t.Run("empty dir is cwd", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		got, err := ResolveWorkDir("", false)
		require.NoError(t, err)
		assert.Equal(t, wd, got)
	})

	t.Run("home variant ignores dir", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		got, err := ResolveWorkDir("/elsewhere", true)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, HomeDirName), got)
	})
}
