package processfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

// AutoChildLogPath creates a uniquely named log file for one process
// channel under dir and returns its path. The name embeds identifier so
// ClearAutoChildLogs can find files left behind by earlier runs.
func AutoChildLogPath(dir, processName, channel, identifier string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewIOError("failed to create child log directory", err).WithContext("directory", dir)
	}
	f, err := os.CreateTemp(dir, autoChildLogPrefix(processName, channel, identifier)+"*.log")
	if err != nil {
		return "", errors.NewIOError("failed to create child log", err).WithContext("directory", dir)
	}
	path := f.Name()
	f.Close()
	return path, nil
}

func autoChildLogPrefix(processName, channel, identifier string) string {
	return fmt.Sprintf("%s-%s---%s-", processName, channel, identifier)
}

// ClearAutoChildLogs removes AUTO child logs (and their rotated backups)
// created by a previous supervisor with the same identifier.
func ClearAutoChildLogs(dir, identifier string, logger logging.Logger) {
	pattern := filepath.Join(dir, fmt.Sprintf("*---%s-*.log*", identifier))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		logger.Warnf("Failed to list stale child logs, pattern: %s, error: %v", pattern, err)
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			logger.Warnf("Failed to remove stale child log, path: %s, error: %v", path, err)
			continue
		}
		logger.Debugf("Removed stale child log, path: %s", path)
	}
}
