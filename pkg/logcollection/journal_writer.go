package logcollection

import (
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/coreos/go-systemd/v22/journal"
)

// journalWriter copies child output into the systemd journal, one entry per
// line, tagged with the process name.
type journalWriter struct {
	processName string
	stream      StreamType
	priority    journal.Priority
	send        func(message string, priority journal.Priority, vars map[string]string) error
}

func newJournalWriter(processName string, stream StreamType) *journalWriter {
	priority := journal.PriInfo
	if stream == StderrStream {
		priority = journal.PriErr
	}
	return &journalWriter{
		processName: processName,
		stream:      stream,
		priority:    priority,
		send:        journal.Send,
	}
}

// JournalAvailable reports whether the local journal socket can be reached.
func JournalAvailable() bool {
	return journal.Enabled()
}

func (w *journalWriter) Write(data []byte) error {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER":  w.processName,
		"SUPERVISOR_CHANNEL": string(w.stream),
	}
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		if err := w.send(line, w.priority, vars); err != nil {
			return errors.NewIOError("failed to send to journal", err).WithContext("process", w.processName)
		}
	}
	return nil
}

func (w *journalWriter) Reopen() error { return nil }
func (w *journalWriter) Close() error  { return nil }
