// Package docker implements the container runtime for dashlaunch.
//
// Instead of a host virtual environment, the dashboard runs in a python
// image with the work directory bind-mounted at /app. The virtual
// environment lives in a named volume per work directory, mounted at
// /opt/venv, so it is created on the first run and reused afterwards just
// like the host one. The same create / install / run sequence is carried
// out by a small sh script inside the container.
//
// Containers are labelled (dashlaunch.*) so the status and clean commands
// can find them. The package uses github.com/docker/docker/client with API
// version negotiation enabled.
package docker
