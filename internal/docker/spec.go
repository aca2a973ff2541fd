package docker

import (
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"
)

const (
	// appDir is where the work directory is bind-mounted.
	appDir = "/app"

	// venvDir is where the venv volume is mounted.
	venvDir = "/opt/venv"

	// containerHome is HOME inside the container. The host log directory
	// is mounted below it so the dashboard finds ~/logeagle as it does on
	// the host.
	containerHome   = "/root"
	containerLogDir = containerHome + "/logeagle"
)

// bootstrapScript performs the launch sequence inside the container. The
// requirements and entry point arrive as environment variables and the
// passthrough arguments as positional parameters, so no argument is ever
// re-parsed by the shell.
const bootstrapScript = `set -e
if [ ! -x ` + venvDir + `/bin/python ]; then
  python -m venv ` + venvDir + `
fi
. ` + venvDir + `/bin/activate
if [ ! -f "$DASHLAUNCH_REQUIREMENTS" ]; then
  echo "Error: requirements file not found: $DASHLAUNCH_REQUIREMENTS"
  exit 1
fi
sum=$(sha256sum "$DASHLAUNCH_REQUIREMENTS" | cut -d' ' -f1)
if [ "$DASHLAUNCH_REINSTALL" = "1" ] || [ "$(cat ` + venvDir + `/.dashlaunch-requirements 2>/dev/null)" != "$sum" ]; then
  pip install -r "$DASHLAUNCH_REQUIREMENTS"
  echo "$sum" > ` + venvDir + `/.dashlaunch-requirements
fi
if [ ! -f "$DASHLAUNCH_ENTRYPOINT" ]; then
  echo "Error: entry point script not found: $DASHLAUNCH_ENTRYPOINT"
  exit 1
fi
exec python "$DASHLAUNCH_ENTRYPOINT" "$@"
`

// RunSpec describes one containerised dashboard run.
type RunSpec struct {
	// WorkDir is the absolute host directory mounted at /app.
	WorkDir string

	// Image is the python image to run.
	Image string

	// Requirements and Entrypoint are slash-separated paths relative to
	// WorkDir.
	Requirements string
	Entrypoint   string

	// Args are forwarded to the entry point unmodified.
	Args []string

	// Env is extra KEY=VALUE pairs for the container.
	Env []string

	// HostPort is published to ContainerPort. Zero publishes nothing.
	HostPort      int
	ContainerPort int

	// Reinstall forces pip to run even if the requirements are unchanged.
	Reinstall bool

	// LogDir is the host log directory mounted at /root/logeagle. Empty
	// mounts nothing.
	LogDir string

	Stdout io.Writer
	Stderr io.Writer
}

// buildConfigs translates spec into the Docker create configuration.
func buildConfigs(spec RunSpec, labels map[string]string) (*container.Config, *container.HostConfig, error) {
	cmd := append([]string{"sh", "-c", bootstrapScript, "dashlaunch"}, spec.Args...)

	env := append([]string(nil), spec.Env...)
	env = append(env,
		"DASHLAUNCH_REQUIREMENTS="+spec.Requirements,
		"DASHLAUNCH_ENTRYPOINT="+spec.Entrypoint,
		"PYTHONUNBUFFERED=1",
	)
	if spec.Reinstall {
		env = append(env, "DASHLAUNCH_REINSTALL=1")
	}

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        cmd,
		Env:        env,
		WorkingDir: appDir,
		Labels:     labels,
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: spec.WorkDir, Target: appDir},
			{Type: mount.TypeVolume, Source: VolumeName(spec.WorkDir), Target: venvDir},
		},
	}

	// With --home the work dir is the log dir itself and is mounted
	// twice; both mounts see the same files.
	if spec.LogDir != "" {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type: mount.TypeBind, Source: spec.LogDir, Target: containerLogDir,
		})
		cfg.Env = append(cfg.Env, "HOME="+containerHome)
	}

	if spec.HostPort > 0 {
		if spec.ContainerPort <= 0 {
			return nil, nil, fmt.Errorf("container port must be set when publishing host port %d", spec.HostPort)
		}
		p, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %d: %w", spec.ContainerPort, err)
		}
		cfg.ExposedPorts = nat.PortSet{p: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			p: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
		}
	}
	return cfg, hostCfg, nil
}
