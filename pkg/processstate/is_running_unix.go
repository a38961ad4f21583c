//go:build !windows

package processstate

import (
	stderrors "errors"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"golang.org/x/sys/unix"
)

// IsProcessRunning probes pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, unix.ESRCH):
		return false, nil
	case stderrors.Is(err, unix.EPERM):
		return true, nil
	}
	return false, errors.NewProcessError("failed to probe process", err).WithContext("pid", pid)
}
