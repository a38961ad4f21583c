package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/process"
)

// ValidateName validates program, group and process names
func ValidateName(name string) error {
	if name == "" {
		return errors.NewValidationError("name cannot be empty", nil)
	}

	if len(name) > 64 {
		return errors.NewValidationError("name cannot exceed 64 characters", nil)
	}

	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewValidationError(
				fmt.Sprintf("name %q contains invalid characters: only letters, numbers, '.', '-' and '_' are allowed", name), nil)
		}
	}

	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateListenAddress accepts host:port or :port
func ValidateListenAddress(address string) error {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return errors.NewValidationError("invalid listen address format: "+address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}
	return ValidatePort(port)
}

// ValidateSupervisorOptions validates the global section
func ValidateSupervisorOptions(opts *SupervisorOptions) error {
	if err := ValidateName(opts.Identifier); err != nil {
		return errors.NewValidationError("invalid identifier", err)
	}
	if _, ok := logging.ParseLevel(opts.LogLevel); !ok {
		return errors.NewValidationError("invalid loglevel", nil).WithContext("loglevel", opts.LogLevel)
	}
	if opts.LogFormat != "console" && opts.LogFormat != "json" {
		return errors.NewValidationError("logformat must be console or json", nil).WithContext("logformat", opts.LogFormat)
	}
	if *opts.LogfileBackups < 0 {
		return errors.NewValidationError("logfile_backups cannot be negative", nil)
	}
	if opts.MinFDs < 0 || opts.MinProcs < 0 {
		return errors.NewValidationError("minfds and minprocs cannot be negative", nil)
	}
	if _, err := ParseUmask(opts.Umask); err != nil {
		return errors.NewValidationError("invalid umask", err)
	}
	if opts.Control.Port != 0 {
		if err := ValidatePort(opts.Control.Port); err != nil {
			return errors.NewValidationError("invalid control port", err)
		}
	}
	if opts.Metrics.Address != "" {
		if err := ValidateListenAddress(opts.Metrics.Address); err != nil {
			return errors.NewValidationError("invalid metrics address", err)
		}
	}
	return nil
}

// ValidateProgram validates a program section after defaults were applied
func ValidateProgram(program *ProgramConfig) error {
	wrap := func(message string, cause error) error {
		return errors.NewValidationError(message, cause).WithContext("program", program.Name)
	}

	if err := ValidateName(program.Name); err != nil {
		return wrap("invalid program name", err)
	}
	if strings.TrimSpace(program.Command) == "" {
		return wrap("command cannot be empty", nil)
	}
	if program.NumProcs < 1 {
		return wrap("numprocs must be at least 1", nil)
	}
	if program.NumProcs > 1 && !strings.Contains(program.ProcessName, "{process_num}") {
		return wrap("process_name must include {process_num} when numprocs > 1", nil)
	}
	if program.NumProcsStart < 0 {
		return wrap("numprocs_start cannot be negative", nil)
	}
	if *program.StartSecs < 0 {
		return wrap("startsecs cannot be negative", nil)
	}
	if *program.StartRetries < 0 {
		return wrap("startretries cannot be negative", nil)
	}
	if *program.StopWaitSecs < 0 {
		return wrap("stopwaitsecs cannot be negative", nil)
	}
	if _, err := ParseAutoRestart(string(program.AutoRestart)); err != nil {
		return wrap("invalid autorestart", err)
	}
	if _, err := process.ParseSignal(program.StopSignal); err != nil {
		return wrap("invalid stopsignal", err)
	}
	if _, err := ParseUmask(program.Umask); err != nil {
		return wrap("invalid umask", err)
	}
	for key := range program.Environment {
		if key == "" || strings.Contains(key, "=") {
			return wrap(fmt.Sprintf("invalid environment variable name %q", key), nil)
		}
	}
	for _, stream := range []*StreamConfig{&program.Stdout, &program.Stderr} {
		if *stream.LogfileBackups < 0 {
			return wrap("logfile_backups cannot be negative", nil)
		}
	}
	if program.RedirectStderr && program.Stderr.CaptureMaxBytes > 0 {
		return wrap("stderr capture is meaningless with redirect_stderr", nil)
	}
	return nil
}
