package launcher

import (
	"context"

	"github.com/shinji-kodama/dashlaunch/internal/model"
	"github.com/shinji-kodama/dashlaunch/internal/venv"
)

// Status inspects the work directory without changing anything. A missing
// interpreter is not an error here; PythonVersion is simply left empty.
func (l *Launcher) Status(ctx context.Context) (*model.EnvStatus, error) {
	status := &model.EnvStatus{
		WorkDir:          l.cfg.WorkDir,
		Runtime:          l.cfg.Runtime,
		VenvDir:          l.cfg.VenvPath(),
		RequirementsPath: l.cfg.RequirementsPath(),
		EntrypointPath:   l.cfg.EntrypointPath(),
	}
	status.VenvExists = l.venvs.Exists(status.VenvDir)
	status.RequirementsExists = fileExists(status.RequirementsPath)
	status.EntrypointExists = fileExists(status.EntrypointPath)

	if v, err := l.venvs.PythonVersion(ctx); err == nil {
		status.PythonVersion = v
	}

	if l.cfg.PortEnv != "" {
		status.DashboardPort, _ = l.scanner.PickDashboardPort(l.cfg.PortRangeStart, l.cfg.PortRangeEnd)
		status.PortsInUse = l.scanner.GetUsedPorts(l.cfg.PortRangeStart, l.cfg.PortRangeEnd-1)
	}

	if status.VenvExists {
		state, err := venv.ReadState(status.VenvDir)
		if err != nil {
			return nil, err
		}
		status.State = state
		if state != nil && status.RequirementsExists {
			if sum, err := venv.HashFile(status.RequirementsPath); err == nil {
				status.UpToDate = sum == state.RequirementsSHA256
			}
		}
	}
	return status, nil
}
