// Package model defines the domain types for the dashlaunch CLI.
//
// A launch has exactly three filesystem inputs: the virtual environment
// directory, the requirements file and the entry-point script. Everything
// else in this file describes how those inputs are reported and how
// failures map onto process exit codes.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Runtime selects where the dashboard's Python environment lives.
type Runtime string

const (
	// RuntimeVenv creates a virtual environment on the host with
	// `python -m venv` and runs the entry point with its interpreter.
	RuntimeVenv Runtime = "venv"

	// RuntimeContainer keeps the virtual environment in a named Docker
	// volume and runs the entry point inside a python image.
	RuntimeContainer Runtime = "container"
)

// String returns the string representation of Runtime.
func (r Runtime) String() string {
	return string(r)
}

// IsValid checks whether the Runtime value is one of the predefined runtimes.
func (r Runtime) IsValid() bool {
	switch r {
	case RuntimeVenv, RuntimeContainer:
		return true
	default:
		return false
	}
}

// ParseRuntime converts a string to a Runtime.
// Returns an error if the string does not match any valid runtime.
func ParseRuntime(s string) (Runtime, error) {
	r := Runtime(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid runtime: %q (valid: venv, container)", s)
	}
	return r, nil
}

// VenvState is the install record written inside the virtual environment
// after a successful dependency installation. It lets later runs skip
// `pip install` when the requirements file has not changed.
type VenvState struct {
	// RequirementsSHA256 is the hex digest of the requirements file that
	// was installed.
	RequirementsSHA256 string `yaml:"requirementsSha256" json:"requirementsSha256"`

	// PythonVersion is the interpreter version reported when the
	// environment was installed (e.g., "3.12.1").
	PythonVersion string `yaml:"pythonVersion,omitempty" json:"pythonVersion,omitempty"`

	// CreatedAt is when the virtual environment directory was created.
	CreatedAt time.Time `yaml:"createdAt" json:"createdAt"`

	// InstalledAt is when the last successful install finished.
	InstalledAt time.Time `yaml:"installedAt" json:"installedAt"`
}

// EnvStatus is the report produced by the status command.
type EnvStatus struct {
	WorkDir            string     `json:"workDir"`
	Runtime            Runtime    `json:"runtime"`
	VenvDir            string     `json:"venvDir"`
	VenvExists         bool       `json:"venvExists"`
	RequirementsPath   string     `json:"requirementsPath"`
	RequirementsExists bool       `json:"requirementsExists"`
	EntrypointPath     string     `json:"entrypointPath"`
	EntrypointExists   bool       `json:"entrypointExists"`
	PythonVersion      string     `json:"pythonVersion,omitempty"`
	State              *VenvState `json:"state,omitempty"`

	// UpToDate reports whether the installed requirements digest matches
	// the current requirements file.
	UpToDate bool `json:"upToDate"`

	// DashboardPort is the port the next launch would hand the dashboard,
	// zero when port selection is disabled.
	DashboardPort int `json:"dashboardPort,omitempty"`

	// PortsInUse lists the occupied ports of the dashboard port range.
	PortsInUse []int `json:"portsInUse,omitempty"`

	// Containers lists managed dashboard containers for this work dir
	// (container runtime only).
	Containers []ContainerInfo `json:"containers,omitempty"`
}

// ContainerInfo holds runtime information about a dashboard container.
// This data is fetched dynamically from the Docker API, not persisted.
type ContainerInfo struct {
	ContainerID   string            `json:"containerId"`
	ContainerName string            `json:"containerName"`
	Status        string            `json:"status"`

	// URL is where the container's dashboard is published on the host.
	// Empty when no port was published.
	URL string `json:"url,omitempty"`

	Labels map[string]string `json:"labels,omitempty"`
}

// ExitCode defines the CLI exit codes. Scripts that wrapped the old
// shell launcher only ever saw 1 for a missing file, so that value is kept.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error, and is also the code
	// for a missing requirements file or entry point.
	ExitGeneralError ExitCode = 1

	// ExitPythonNotFound indicates the base interpreter is missing or too old.
	ExitPythonNotFound ExitCode = 2

	// ExitVenvFailed indicates `python -m venv` failed.
	ExitVenvFailed ExitCode = 3

	// ExitInstallFailed indicates `pip install -r` failed.
	ExitInstallFailed ExitCode = 4

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 5

	// ExitLockBusy indicates another launcher holds the environment lock
	// and --no-wait was given.
	ExitLockBusy ExitCode = 6
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
//
// A CLIError with an empty Message is an exit status passthrough: the
// launched process already reported whatever it had to say.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface.
func (e *CLIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// IsPassthrough reports whether the error only carries a child exit status.
func (e *CLIError) IsPassthrough() bool {
	return e.Message == ""
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// NewExitStatus creates a passthrough CLIError for a launched process
// that exited with the given status.
func NewExitStatus(status int) *CLIError {
	return &CLIError{Code: ExitCode(status)}
}

// MissingFileKind names which required input is absent.
type MissingFileKind string

const (
	MissingRequirements MissingFileKind = "requirements"
	MissingEntrypoint   MissingFileKind = "entrypoint"
)

// MissingFileError reports a required file that does not exist. Both kinds
// are terminal and exit with ExitGeneralError; the diagnostic is written to
// standard output.
type MissingFileError struct {
	Kind MissingFileKind
	Path string
}

func (e *MissingFileError) Error() string {
	switch e.Kind {
	case MissingRequirements:
		return fmt.Sprintf("requirements file not found: %s", e.Path)
	case MissingEntrypoint:
		return fmt.Sprintf("entry point script not found: %s", e.Path)
	default:
		return fmt.Sprintf("file not found: %s", e.Path)
	}
}

// ExitCode returns the process exit code for a missing file.
func (e *MissingFileError) ExitCode() ExitCode {
	return ExitGeneralError
}
