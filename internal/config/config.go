// Package config loads the launcher configuration for a dashboard work
// directory.
//
// Configuration is layered: built-in defaults, then an optional
// dashlaunch.jsonc file in the work directory, then command-line flags
// (applied by the cli package). The file is JSONC (JSON with Comments), so
// this package uses github.com/tidwall/jsonc to strip comments and trailing
// commas before parsing with encoding/json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// FileName is the configuration file looked up in the work directory.
const FileName = "dashlaunch.jsonc"

// HomeDirName is the directory under $HOME used by --home. The dashboard
// reads its logs from the same place.
const HomeDirName = "logeagle"

// Config holds every tunable of a launch. Path fields may be relative; they
// are resolved against WorkDir with Path.
type Config struct {
	// WorkDir is the absolute directory containing the requirements file and
	// the entry point. It is never read from the file.
	WorkDir string `json:"-"`

	// VenvDir is the virtual environment directory.
	VenvDir string `json:"venvDir"`

	// Requirements is the pip requirements file.
	Requirements string `json:"requirements"`

	// Entrypoint is the dashboard script passed to the interpreter.
	Entrypoint string `json:"entrypoint"`

	// Python is the base interpreter used to create the environment.
	Python string `json:"python"`

	// MinPython is the lowest accepted interpreter version.
	MinPython string `json:"minPython"`

	// Runtime selects host venv or Docker container execution.
	Runtime model.Runtime `json:"runtime"`

	// Image is the python image used by the container runtime.
	Image string `json:"image"`

	// EnvFile is an optional dotenv file merged into the child environment.
	EnvFile string `json:"envFile"`

	// PortRangeStart and PortRangeEnd bound the dashboard port search.
	PortRangeStart int `json:"portRangeStart"`
	PortRangeEnd   int `json:"portRangeEnd"`

	// PortEnv is the environment variable that carries the chosen port to
	// the dashboard. Empty disables port selection.
	PortEnv string `json:"portEnv"`
}

// Default returns the built-in configuration for workDir. These values
// reproduce the behaviour of the old launcher scripts.
func Default(workDir string) *Config {
	return &Config{
		WorkDir:        workDir,
		VenvDir:        ".venv",
		Requirements:   "requirements.txt",
		Entrypoint:     "dashboard.py",
		Python:         "python3",
		MinPython:      "3.8",
		Runtime:        model.RuntimeVenv,
		Image:          "python:3.12-slim",
		EnvFile:        ".env",
		PortRangeStart: 8050,
		PortRangeEnd:   9000,
		PortEnv:        "DASHBOARD_PORT",
	}
}

// HomeLogDir returns $HOME/logeagle, where the dashboard keeps its logs.
func HomeLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, HomeDirName), nil
}

// ResolveWorkDir returns the absolute work directory. When home is true the
// fixed $HOME/logeagle directory is used and dir is ignored; an empty dir
// means the current working directory.
func ResolveWorkDir(dir string, home bool) (string, error) {
	if home {
		return HomeLogDir()
	}
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve work directory %q: %w", dir, err)
	}
	return abs, nil
}

// Load returns the configuration for workDir. A missing dashlaunch.jsonc
// yields the defaults; a malformed one is an error.
func Load(workDir string) (*Config, error) {
	cfg := Default(workDir)

	path := filepath.Join(workDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Unmarshalling over the defaults keeps every field the file omits.
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.WorkDir = workDir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values that cannot be defaulted.
func (c *Config) Validate() error {
	if !c.Runtime.IsValid() {
		return fmt.Errorf("invalid runtime %q (valid: venv, container)", c.Runtime)
	}
	if c.VenvDir == "" {
		return fmt.Errorf("venvDir must not be empty")
	}
	if c.WorkDir != "" && containsPath(c.VenvPath(), c.WorkDir) {
		// clean deletes the venv directory; it must never be able to reach
		// the dashboard's own files.
		return fmt.Errorf("venvDir %q must not be the work directory or one of its parents", c.VenvDir)
	}
	if c.Requirements == "" {
		return fmt.Errorf("requirements must not be empty")
	}
	if c.Entrypoint == "" {
		return fmt.Errorf("entrypoint must not be empty")
	}
	if c.Python == "" {
		return fmt.Errorf("python must not be empty")
	}
	if c.PortRangeStart < 1 || c.PortRangeEnd > 65535 || c.PortRangeStart > c.PortRangeEnd {
		return fmt.Errorf("invalid port range %d-%d", c.PortRangeStart, c.PortRangeEnd)
	}
	return nil
}

// containsPath reports whether path equals parent or lies beneath it.
func containsPath(parent, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Path resolves name against the work directory. Absolute names are
// returned unchanged.
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.WorkDir, name)
}

// VenvPath is the absolute virtual environment directory.
func (c *Config) VenvPath() string { return c.Path(c.VenvDir) }

// RequirementsPath is the absolute requirements file path.
func (c *Config) RequirementsPath() string { return c.Path(c.Requirements) }

// EntrypointPath is the absolute entry point path.
func (c *Config) EntrypointPath() string { return c.Path(c.Entrypoint) }

// EnvFilePath is the absolute dotenv path, or "" when disabled.
func (c *Config) EnvFilePath() string { return c.Path(c.EnvFile) }
