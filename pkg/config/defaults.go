package config

import (
	"os"
)

const (
	defaultPriority     = 999
	defaultStartSecs    = 1
	defaultStartRetries = 3
	defaultStopWaitSecs = 10
	defaultBufferSize   = 10
	defaultLogBackups   = 10
	defaultLogMaxBytes  = ByteSize(50 * 1024 * 1024)
	defaultMinFDs       = 1024
	defaultMinProcs     = 200
	defaultIdentifier   = "supervisor"
)

func setSupervisorDefaults(opts *SupervisorOptions) {
	if opts.Identifier == "" {
		opts.Identifier = defaultIdentifier
	}
	if opts.LogfileMaxBytes == 0 {
		opts.LogfileMaxBytes = defaultLogMaxBytes
	}
	if opts.LogfileBackups == nil {
		opts.LogfileBackups = intPtr(defaultLogBackups)
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
	if opts.LogFormat == "" {
		opts.LogFormat = "console"
	}
	if opts.ChildLogDir == "" {
		opts.ChildLogDir = os.TempDir()
	}
	if opts.MinFDs == 0 {
		opts.MinFDs = defaultMinFDs
	}
	if opts.MinProcs == 0 {
		opts.MinProcs = defaultMinProcs
	}
}

func setProgramDefaults(program *ProgramConfig) {
	if program.ProcessName == "" {
		program.ProcessName = "{program_name}"
	}
	if program.NumProcs == 0 {
		program.NumProcs = 1
	}
	if program.Priority == nil {
		program.Priority = intPtr(defaultPriority)
	}
	if program.AutoStart == nil {
		autostart := true
		program.AutoStart = &autostart
	}
	if program.AutoRestart == "" {
		program.AutoRestart = AutoRestartUnexpected
	}
	if program.StartSecs == nil {
		program.StartSecs = intPtr(defaultStartSecs)
	}
	if program.StartRetries == nil {
		program.StartRetries = intPtr(defaultStartRetries)
	}
	if len(program.ExitCodes) == 0 {
		program.ExitCodes = []int{0}
	}
	if program.StopSignal == "" {
		program.StopSignal = "TERM"
	}
	if program.StopWaitSecs == nil {
		program.StopWaitSecs = intPtr(defaultStopWaitSecs)
	}
	setStreamDefaults(&program.Stdout)
	setStreamDefaults(&program.Stderr)
}

func setStreamDefaults(stream *StreamConfig) {
	if stream.Logfile == "" {
		stream.Logfile = "AUTO"
	}
	if stream.LogfileMaxBytes == 0 {
		stream.LogfileMaxBytes = defaultLogMaxBytes
	}
	if stream.LogfileBackups == nil {
		stream.LogfileBackups = intPtr(defaultLogBackups)
	}
}

func intPtr(v int) *int {
	return &v
}
