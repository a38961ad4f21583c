package logcollection

// ===== CHILD LOG INTERFACES =====

// StreamType identifies the child stream a log belongs to
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// LogOutputWriter is one destination for child output bytes
type LogOutputWriter interface {
	Write(data []byte) error
	// Reopen closes and reopens the underlying file (USR2 handling).
	Reopen() error
	Close() error
}

// ChildLogConfig describes the regular log of one process channel.
type ChildLogConfig struct {
	ProcessName string
	Stream      StreamType
	Path        string // empty disables the file log
	MaxBytes    int64  // 0 disables rotation
	Backups     int
	Syslog      bool
	StripANSI   bool
}
