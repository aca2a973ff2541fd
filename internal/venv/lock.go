package venv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/shinji-kodama/dashlaunch/internal/model"
)

// lockRetryDelay is the polling interval while waiting for another
// launcher to release the environment lock.
const lockRetryDelay = 250 * time.Millisecond

// envLock is an exclusive advisory lock guarding creation, installation
// and removal of one virtual environment. The lock file sits next to the
// environment directory so that removing the environment does not remove
// the lock out from under a waiting process.
type envLock struct {
	flock *flock.Flock
	path  string
}

func newEnvLock(venvDir string) *envLock {
	path := filepath.Clean(venvDir) + ".lock"
	return &envLock{flock: flock.New(path), path: path}
}

// acquire takes the lock. With noWait it fails immediately with
// ExitLockBusy if another process holds it; otherwise it polls until the
// lock is free or ctx is done.
func (l *envLock) acquire(ctx context.Context, noWait bool) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", l.path, err)
	}

	if noWait {
		ok, err := l.flock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to try lock on %s: %w", l.path, err)
		}
		if !ok {
			return model.NewCLIError(model.ExitLockBusy,
				fmt.Sprintf("virtual environment is locked by another launcher (%s)", l.path))
		}
		return nil
	}

	ok, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("failed to acquire lock on %s", l.path)
	}
	return nil
}

func (l *envLock) release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
