package logcollection

import (
	"math"
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

// fileWriter is a size-rotated log file
type fileWriter struct {
	path string
	file *logging.RotatingFile
}

func newFileWriter(path string, maxBytes int64, backups int) (*fileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewIOError("failed to create log directory", err).WithContext("path", path)
	}
	return &fileWriter{
		path: path,
		file: logging.NewRotatingFile(path, rotationMegabytes(maxBytes), backups),
	}, nil
}

func (w *fileWriter) Write(data []byte) error {
	if _, err := w.file.Write(data); err != nil {
		return errors.NewIOError("failed to write child log", err).WithContext("path", w.path)
	}
	return nil
}

// Reopen closes the file; it is opened again on the next write.
func (w *fileWriter) Reopen() error {
	return w.file.Close()
}

func (w *fileWriter) Close() error {
	return w.file.Close()
}

// Clear truncates the log and removes its rotated backups.
func (w *fileWriter) Clear() error {
	if err := w.file.Truncate(); err != nil {
		return errors.NewIOError("failed to clear child log", err).WithContext("path", w.path)
	}
	return nil
}

// rotationMegabytes converts a byte limit into lumberjack's megabyte units,
// rounding up. Zero disables rotation.
func rotationMegabytes(n int64) int {
	if n <= 0 {
		return math.MaxInt32
	}
	const mb = 1024 * 1024
	return int((n + mb - 1) / mb)
}
