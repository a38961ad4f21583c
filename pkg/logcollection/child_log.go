package logcollection

import (
	"regexp"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
)

var ansiEscapes = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// StripANSI removes terminal escape sequences.
func StripANSI(data []byte) []byte {
	return ansiEscapes.ReplaceAll(data, nil)
}

// ChildLog is the regular log of one process channel: an optional rotating
// file plus an optional journal copy.
type ChildLog struct {
	config  ChildLogConfig
	file    *fileWriter
	outputs []LogOutputWriter
	logger  logging.Logger
}

// NewChildLog opens the configured outputs. A journal copy is skipped with a
// warning when the journal is unreachable.
func NewChildLog(config ChildLogConfig, logger logging.Logger) (*ChildLog, error) {
	log := &ChildLog{config: config, logger: logger}

	if config.Path != "" {
		file, err := newFileWriter(config.Path, config.MaxBytes, config.Backups)
		if err != nil {
			return nil, err
		}
		log.file = file
		log.outputs = append(log.outputs, file)
	}

	if config.Syslog {
		if JournalAvailable() {
			log.outputs = append(log.outputs, newJournalWriter(config.ProcessName, config.Stream))
		} else {
			logger.Warnf("Journal is not available, syslog copy disabled, process: %s, stream: %s", config.ProcessName, config.Stream)
		}
	}

	return log, nil
}

func (l *ChildLog) Path() string {
	return l.config.Path
}

// Enabled reports whether any output is configured.
func (l *ChildLog) Enabled() bool {
	return len(l.outputs) > 0
}

// Write sends data to every output. Failures are logged, never returned:
// a full disk must not stall the reactor.
func (l *ChildLog) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	if l.config.StripANSI {
		data = StripANSI(data)
	}
	for _, output := range l.outputs {
		if err := output.Write(data); err != nil {
			l.logger.Errorf("Failed to write child log, process: %s, stream: %s, error: %v", l.config.ProcessName, l.config.Stream, err)
		}
	}
}

func (l *ChildLog) Reopen() error {
	var collection errors.ErrorCollection
	for _, output := range l.outputs {
		collection.Add(output.Reopen())
	}
	return collection.ToError()
}

// Clear truncates the file log and removes its backups.
func (l *ChildLog) Clear() error {
	if l.file == nil {
		return nil
	}
	return l.file.Clear()
}

func (l *ChildLog) Close() error {
	var collection errors.ErrorCollection
	for _, output := range l.outputs {
		collection.Add(output.Close())
	}
	return collection.ToError()
}
