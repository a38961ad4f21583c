package logging

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const megabyte = 1024 * 1024

// lumberjack's size limit when MaxSize is zero
const defaultRotationMegabytes = 100

// RotatingFile is a size-rotated log file. Backups 0 keeps no rotated copies;
// lumberjack alone would keep all of them.
type RotatingFile struct {
	path    string
	backups int
	limit   int64
	size    int64
	file    *lumberjack.Logger
}

// NewRotatingFile appends to path, rotating once the file would pass
// maxMegabytes. Zero means lumberjack's default limit.
func NewRotatingFile(path string, maxMegabytes int, backups int) *RotatingFile {
	limit := int64(maxMegabytes) * megabyte
	if maxMegabytes == 0 {
		limit = defaultRotationMegabytes * megabyte
	}
	f := &RotatingFile{
		path:    path,
		backups: backups,
		limit:   limit,
		file: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxMegabytes,
			MaxBackups: backups,
		},
	}
	if info, err := os.Stat(path); err == nil {
		f.size = info.Size()
	}
	return f
}

func (f *RotatingFile) Write(p []byte) (int, error) {
	rotates := f.size+int64(len(p)) > f.limit
	n, err := f.file.Write(p)
	if err != nil {
		return n, err
	}
	if rotates {
		f.size = int64(n)
		f.prune()
	} else {
		f.size += int64(n)
	}
	return n, nil
}

// Rotate moves the current file aside and starts a new one.
func (f *RotatingFile) Rotate() error {
	if err := f.file.Rotate(); err != nil {
		return err
	}
	f.size = 0
	f.prune()
	return nil
}

// Close closes the file; the next write opens it again.
func (f *RotatingFile) Close() error {
	return f.file.Close()
}

// Truncate empties the file and removes every rotated copy.
func (f *RotatingFile) Truncate() error {
	if err := f.file.Close(); err != nil {
		return err
	}
	if err := os.Truncate(f.path, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	f.size = 0
	return RemoveBackups(f.path)
}

func (f *RotatingFile) prune() {
	if f.backups == 0 {
		_ = RemoveBackups(f.path)
	}
}

// BackupFiles lists the rotated copies of path, named <base>-<timestamp><ext>.
func BackupFiles(path string) []string {
	ext := filepath.Ext(path)
	prefix := strings.TrimSuffix(path, ext) + "-"
	matches, _ := filepath.Glob(prefix + "*" + ext)
	return matches
}

// RemoveBackups deletes every rotated copy of path.
func RemoveBackups(path string) error {
	for _, backup := range BackupFiles(path) {
		if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
