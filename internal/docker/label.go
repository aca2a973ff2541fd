package docker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Label keys put on every dashboard container. They let status and clean
// find the containers of one work directory without any state file.
const (
	// LabelPrefix is the common prefix for all dashlaunch labels.
	LabelPrefix = "dashlaunch."

	// LabelManagedBy identifies containers started by dashlaunch.
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelWorkDir stores the absolute host work directory.
	LabelWorkDir = LabelPrefix + "workdir"

	// LabelEntrypoint stores the entry point relative to the work directory.
	LabelEntrypoint = LabelPrefix + "entrypoint"

	// LabelHostPort stores the published dashboard port.
	LabelHostPort = LabelPrefix + "host-port"

	// LabelStartedAt stores the RFC3339 start time.
	LabelStartedAt = LabelPrefix + "started-at"
)

// ManagedByValue is the constant value for the LabelManagedBy label.
const ManagedByValue = "dashlaunch"

// workDirKey is a short stable digest of the work directory, used to name
// the container and the venv volume.
func workDirKey(workDir string) string {
	sum := sha256.Sum256([]byte(workDir))
	return hex.EncodeToString(sum[:])[:12]
}

// ContainerName is the fixed container name for a work directory. A second
// launch of the same directory collides on it instead of sharing the venv
// volume with a running install.
func ContainerName(workDir string) string {
	return "dashlaunch-" + workDirKey(workDir)
}

// VolumeName is the named volume holding the work directory's virtual
// environment. It outlives containers, which is what makes it reusable.
func VolumeName(workDir string) string {
	return "dashlaunch-venv-" + workDirKey(workDir)
}

// BuildLabels constructs the label map for a dashboard container.
func BuildLabels(spec RunSpec, startedAt time.Time) map[string]string {
	return map[string]string{
		LabelManagedBy:  ManagedByValue,
		LabelWorkDir:    spec.WorkDir,
		LabelEntrypoint: spec.Entrypoint,
		LabelHostPort:   strconv.Itoa(spec.HostPort),
		LabelStartedAt:  startedAt.UTC().Format(time.RFC3339),
	}
}

// HostPortFromLabels returns the published port recorded on a container.
func HostPortFromLabels(labels map[string]string) (int, error) {
	v, ok := labels[LabelHostPort]
	if !ok {
		return 0, fmt.Errorf("missing label %s", LabelHostPort)
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid label %s=%q: %w", LabelHostPort, v, err)
	}
	return p, nil
}
