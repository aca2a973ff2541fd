// Package venv manages the Python virtual environment a dashboard runs in.
//
// All Python operations are performed by running the interpreter as a
// child process through the Runner interface:
//   - `<python> -m venv <dir>` creates the environment (once)
//   - `<dir>/bin/python -m pip install -r <requirements>` installs packages
//   - `<python> --version` is checked against a minimum with semver
//
// Activation is expressed as a derived environment slice for the child
// (see Activate) rather than by sourcing an activate script, so the
// launcher's own environment is never changed and deactivation is a no-op.
//
// Creation, installation and removal are serialized across processes with
// a gofrs/flock lock file next to the environment directory. The last
// successful install is recorded in a YAML state file inside the
// environment, which lets unchanged requirements skip pip entirely.
package venv
