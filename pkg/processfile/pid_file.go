package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/processstate"
	"github.com/gofrs/flock"
)

// PIDFile is the supervisor's own pidfile, held under an exclusive lock for
// the lifetime of the daemon so a second instance refuses to start.
type PIDFile struct {
	path   string
	lock   *flock.Flock
	logger logging.Logger
}

// AcquirePIDFile locks path+".lock" and writes the current pid to path.
func AcquirePIDFile(path string, logger logging.Logger) (*PIDFile, error) {
	if err := ValidatePIDFileDirectory(path); err != nil {
		return nil, err
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.NewIOError("failed to lock PID file", err).WithContext("pid_file", path)
	}
	if !locked {
		err := errors.NewConflictError("another supervisor instance holds the PID file lock", nil).WithContext("pid_file", path)
		if pid, readErr := ReadPIDFile(path); readErr == nil {
			err = err.WithContext("pid", pid)
		}
		return nil, err
	}

	if pid, readErr := ReadPIDFile(path); readErr == nil {
		if running, _ := processstate.IsProcessRunning(pid); running && pid != os.Getpid() {
			logger.Warnf("Stale PID file names a live process, overwriting, pid: %d, path: %s", pid, path)
		}
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		_ = lock.Unlock()
		return nil, errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path)
	}

	logger.Infof("PID file written, pid: %d, path: %s", os.Getpid(), path)
	return &PIDFile{path: path, lock: lock, logger: logger}, nil
}

func (p *PIDFile) Path() string {
	return p.path
}

// Release removes the pidfile and drops the lock.
func (p *PIDFile) Release() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		p.logger.Warnf("Failed to remove PID file, path: %s, error: %v", p.path, err)
	}
	if err := p.lock.Unlock(); err != nil {
		return errors.NewIOError("failed to unlock PID file", err).WithContext("pid_file", p.path)
	}
	_ = os.Remove(p.lock.Path())
	return nil
}

func ReadPIDFile(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}
	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", path).WithContext("content", pidStr)
	}
	return pid, nil
}

// ValidatePIDFileDirectory validates that the PID file directory exists and is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
			}
		} else {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
