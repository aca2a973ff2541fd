package docker

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/docker/docker/client"

	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// defaultPingTimeout bounds the daemon health check made before every
// container launch. Docker Desktop on macOS can take a few seconds to
// answer after the machine wakes, so this is not tight.
const defaultPingTimeout = 5 * time.Second

// pipeDialTimeout bounds the Windows named pipe check.
const pipeDialTimeout = time.Second

// Client wraps the Docker Engine SDK client for the container runtime.
// Only the calls dashlaunch needs are exposed: running the dashboard,
// listing its containers and removing the venv volume.
//
// Usage:
//
//	c, err := docker.NewClient()
//	if err != nil { /* handle */ }
//	defer c.Close()
//	if err := c.Ping(ctx); err != nil { /* Docker not running */ }
type Client struct {
	// inner is the SDK client. It is wrapped, not embedded, so callers
	// cannot reach container operations that skip dashlaunch's labels.
	inner *client.Client
}

// NewClient connects to the Docker daemon used by `--runtime container`.
//
// The daemon address is chosen in this order:
//  1. DOCKER_HOST, used as-is when set (remote daemons, rootless Docker,
//     colima and podman sockets all come in this way)
//  2. the platform's default socket, see socketCandidates
//
// Creating the client does not contact the daemon; call Ping for that.
// Returns a model.CLIError with ExitDockerNotRunning when no socket is
// found or the client cannot be created.
func NewClient() (*Client, error) {
	// Step 1: An explicit DOCKER_HOST always wins. The SDK parses the
	// connection string, including tcp:// and ssh:// forms.
	if dockerHost := os.Getenv("DOCKER_HOST"); dockerHost != "" {
		return newClientWithHost(dockerHost)
	}

	// Step 2: Look for a local daemon socket.
	host, err := detectDockerHost()
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "Docker socket not found", err)
	}
	return newClientWithHost(host)
}

// newClientWithHost builds an SDK client for host, a Docker connection
// string such as "unix:///var/run/docker.sock".
func newClientWithHost(host string) (*Client, error) {
	// API version negotiation lets one dashlaunch binary talk to whatever
	// daemon version the machine has installed.
	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create Docker client for host %q", host),
			err,
		)
	}
	return &Client{inner: c}, nil
}

// socketCandidates lists the Unix sockets a local daemon may listen on,
// most preferred first. It returns nil on platforms without Unix sockets.
func socketCandidates(goos, homeDir string) []string {
	switch goos {
	case "linux":
		return []string{"/var/run/docker.sock"}

	case "darwin":
		// Docker Desktop links /var/run/docker.sock only when it was
		// granted the privilege to; its own socket lives under the home
		// directory.
		paths := []string{"/var/run/docker.sock"}
		if homeDir != "" {
			paths = append(paths, filepath.Join(homeDir, ".docker", "run", "docker.sock"))
		}
		return paths
	}
	return nil
}

// detectDockerHost returns the connection string of the first local
// socket that exists. Existence is all that is checked here; a stale
// socket left by a stopped daemon is caught by Ping.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux", "darwin":
		homeDir, _ := os.UserHomeDir()
		return detectUnixSocket(socketCandidates(runtime.GOOS, homeDir))

	case "windows":
		// Named pipes cannot be stat'ed, so the pipe is dialled and the
		// connection dropped straight away.
		pipePath := `//./pipe/docker_engine`
		conn, err := net.DialTimeout("pipe", pipePath, pipeDialTimeout)
		if err != nil {
			return "", fmt.Errorf("Docker named pipe not found at %s: %w", pipePath, err)
		}
		_ = conn.Close()
		return "npipe://" + pipePath, nil

	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns "unix://" plus the first path in paths that
// exists.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}

// Ping checks that the daemon answers. The launcher calls it before
// creating anything, so a stopped Docker is reported with
// ExitDockerNotRunning instead of a failed container create.
func (c *Client) Ping(ctx context.Context) error {
	// A paused Docker Desktop accepts the connection and never answers;
	// the timeout turns that into an error.
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if _, err := c.inner.Ping(pingCtx); err != nil {
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			"Docker daemon is not responding; is Docker running?",
			err,
		)
	}
	return nil
}

// Close releases the client's connections. It is safe to call more than
// once.
func (c *Client) Close() error {
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}
