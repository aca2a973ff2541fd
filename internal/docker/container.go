package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// stopTimeout is how long the dashboard gets to exit after an interrupt
// before Docker kills it.
const stopTimeout = 10 * time.Second

// RunDashboard runs the bootstrap script in a fresh container and returns
// the dashboard's exit status. The container is always removed; the venv
// volume is kept for the next run.
//
// Cancelling ctx stops the container gracefully and still returns its exit
// status.
func (c *Client) RunDashboard(ctx context.Context, spec RunSpec) (int, error) {
	// Step 1: Pull the python image on first use. Pull progress goes to
	// stderr so the dashboard's stdout stays clean.
	if err := c.ensureImage(ctx, spec.Image, spec.Stderr); err != nil {
		return int(model.ExitDockerNotRunning), err
	}

	// Step 2: A container left behind by a crashed dashlaunch holds the
	// fixed name. A running one is another launch of the same work dir
	// and is not touched.
	name := ContainerName(spec.WorkDir)
	if err := c.removeStale(ctx, name); err != nil {
		return int(model.ExitGeneralError), err
	}

	// Step 3: Create the container with its mounts, labels and the
	// published port.
	cfg, hostCfg, err := buildConfigs(spec, BuildLabels(spec, time.Now()))
	if err != nil {
		return int(model.ExitGeneralError), err
	}

	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return int(model.ExitDockerNotRunning), model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to create container %q", name), err)
	}
	id := created.ID

	// Removal must happen even if ctx is already cancelled.
	defer func() {
		_ = c.inner.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true})
	}()

	// Register the wait before starting so a fast exit is not missed.
	waitCh, waitErrCh := c.inner.ContainerWait(context.Background(), id, container.WaitConditionNextExit)

	// Step 4: Start it and stream its output until it exits.
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return int(model.ExitDockerNotRunning), model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to start container %q", name), err)
	}

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		c.streamLogs(id, spec.Stdout, spec.Stderr)
	}()

	// Step 5: On interrupt the dashboard gets SIGINT, as it would on the
	// host, and is killed after stopTimeout.
	select {
	case <-ctx.Done():
		timeout := int(stopTimeout / time.Second)
		_ = c.inner.ContainerStop(context.Background(), id, container.StopOptions{Signal: "SIGINT", Timeout: &timeout})
	case <-waitCh:
	case err := <-waitErrCh:
		return int(model.ExitDockerNotRunning), model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed waiting for container %q", name), err)
	}

	// Step 6: The log stream ends with the container; the exit code is
	// read after it so no output is lost.
	<-logsDone
	return c.exitStatus(id)
}

// exitStatus reads the exit code of a finished container.
func (c *Client) exitStatus(id string) (int, error) {
	info, err := c.inner.ContainerInspect(context.Background(), id)
	if err != nil {
		return int(model.ExitDockerNotRunning), model.WrapCLIError(model.ExitDockerNotRunning,
			"failed to inspect dashboard container", err)
	}
	if info.State == nil {
		return int(model.ExitGeneralError), nil
	}
	return info.State.ExitCode, nil
}

// streamLogs copies the container's multiplexed output until it exits.
func (c *Client) streamLogs(id string, stdout, stderr io.Writer) {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	rc, err := c.inner.ContainerLogs(context.Background(), id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return
	}
	defer func() { _ = rc.Close() }()
	_, _ = stdcopy.StdCopy(stdout, stderr, rc)
}

// ensureImage pulls image unless it is already present locally.
func (c *Client) ensureImage(ctx context.Context, ref string, progress io.Writer) error {
	images, err := c.inner.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning, "failed to list Docker images", err)
	}
	if len(images) > 0 {
		return nil
	}

	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to pull image %q", ref), err)
	}
	defer func() { _ = rc.Close() }()

	// The pull only completes once its progress stream is drained.
	if progress == nil {
		progress = io.Discard
	}
	if _, err := io.Copy(progress, rc); err != nil {
		return fmt.Errorf("failed to read pull progress for %q: %w", ref, err)
	}
	return nil
}

// removeStale removes a leftover container with the given name unless it
// is still running, in which case the work directory is already being
// served.
func (c *Client) removeStale(ctx context.Context, name string) error {
	info, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return model.WrapCLIError(model.ExitDockerNotRunning,
			fmt.Sprintf("failed to inspect container %q", name), err)
	}
	if info.State != nil && info.State.Running {
		return model.NewCLIError(model.ExitGeneralError,
			fmt.Sprintf("a dashboard for this directory is already running in container %q", name))
	}
	return c.inner.ContainerRemove(ctx, info.ID, container.RemoveOptions{Force: true})
}

// ListManagedContainers returns dashboard containers started for workDir.
// An empty workDir lists all of them.
func (c *Client) ListManagedContainers(ctx context.Context, workDir string) ([]model.ContainerInfo, error) {
	args := filters.NewArgs(filters.Arg("label", LabelManagedBy+"="+ManagedByValue))
	if workDir != "" {
		args.Add("label", LabelWorkDir+"="+workDir)
	}

	containers, err := c.inner.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "failed to list Docker containers", err)
	}

	result := make([]model.ContainerInfo, 0, len(containers))
	for _, s := range containers {
		result = append(result, containerToInfo(s))
	}
	return result, nil
}

// containerToInfo strips Docker's leading "/" from the name and rebuilds
// the dashboard URL from the host-port label.
func containerToInfo(s container.Summary) model.ContainerInfo {
	name := ""
	if len(s.Names) > 0 {
		name = strings.TrimPrefix(s.Names[0], "/")
	}
	info := model.ContainerInfo{
		ContainerID:   s.ID,
		ContainerName: name,
		Status:        string(s.State),
		Labels:        s.Labels,
	}
	// Containers started without a free port carry "0".
	if port, err := HostPortFromLabels(s.Labels); err == nil && port > 0 {
		info.URL = fmt.Sprintf("http://localhost:%d", port)
	}
	return info
}

// RemoveVolume deletes the venv volume of workDir. A missing volume is not
// an error. It reports whether a volume was removed.
func (c *Client) RemoveVolume(ctx context.Context, workDir string) (bool, error) {
	name := VolumeName(workDir)
	err := c.inner.VolumeRemove(ctx, name, false)
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	if errors.Is(err, context.Canceled) {
		return false, err
	}
	return false, model.WrapCLIError(model.ExitDockerNotRunning,
		fmt.Sprintf("failed to remove volume %q (is a dashboard still running?)", name), err)
}
