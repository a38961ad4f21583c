package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processfile"
)

// ProcessConfig is the validated, immutable description of one process.
type ProcessConfig struct {
	Name           string
	GroupName      string
	Command        string
	Priority       int
	AutoStart      bool
	AutoRestart    AutoRestart
	StartSecs      time.Duration
	StartRetries   int
	ExitCodes      []int
	StopSignal     syscall.Signal
	StopWaitSecs   time.Duration
	StopAsGroup    bool
	KillAsGroup    bool
	User           string
	Directory      string
	Umask          int // -1 when unset
	Environment    map[string]string
	RedirectStderr bool
	Stdout         LogConfig
	Stderr         LogConfig
	ServerURL      string
	StripANSI      bool
}

// LogConfig is the resolved logging of one channel. An empty Path disables
// the file log.
type LogConfig struct {
	Path            string
	MaxBytes        int64
	Backups         int
	CaptureMaxBytes int64
	EventsEnabled   bool
	Syslog          bool
}

// IsExpectedExit reports whether code is one of the configured exit codes.
func (c *ProcessConfig) IsExpectedExit(code int) bool {
	for _, expected := range c.ExitCodes {
		if expected == code {
			return true
		}
	}
	return false
}

// GroupConfig is a named set of processes; Pool is set for listener pools.
type GroupConfig struct {
	Name      string
	Priority  int
	Processes []*ProcessConfig
	Pool      *PoolConfig
}

type PoolConfig struct {
	Events     []events.EventType
	BufferSize int
}

// BuildGroups validates every program, group and listener section and
// returns the groups sorted by priority. Sections that fail validation are
// skipped and reported in the returned error; the remaining groups are
// usable.
func BuildGroups(config *Config) ([]*GroupConfig, error) {
	problems := errors.NewErrorCollection()
	opts := &config.Supervisor

	programs := make(map[string]*ProgramConfig, len(config.Programs))
	for i := range config.Programs {
		program := &config.Programs[i]
		setProgramDefaults(program)
		if _, exists := programs[program.Name]; exists {
			problems.Add(errors.NewConflictError("duplicate program", nil).WithContext("program", program.Name))
			continue
		}
		programs[program.Name] = program
	}

	var groups []*GroupConfig
	grouped := make(map[string]bool)
	seenGroups := make(map[string]bool)

	for _, section := range config.Groups {
		group, err := buildHeterogeneousGroup(section, programs, opts)
		if err != nil {
			problems.Add(err)
			continue
		}
		for _, name := range section.Programs {
			grouped[name] = true
		}
		seenGroups[group.Name] = true
		groups = append(groups, group)
	}

	for i := range config.Programs {
		program := &config.Programs[i]
		if grouped[program.Name] || programs[program.Name] != program {
			continue
		}
		if seenGroups[program.Name] {
			problems.Add(errors.NewConflictError("program name collides with a group name", nil).WithContext("program", program.Name))
			continue
		}
		processes, err := expandProgram(program, program.Name, opts)
		if err != nil {
			problems.Add(err)
			continue
		}
		seenGroups[program.Name] = true
		groups = append(groups, &GroupConfig{Name: program.Name, Priority: *program.Priority, Processes: processes})
	}

	for i := range config.EventListeners {
		listener := &config.EventListeners[i]
		group, err := buildPool(listener, opts)
		if err != nil {
			problems.Add(err)
			continue
		}
		if seenGroups[group.Name] {
			problems.Add(errors.NewConflictError("duplicate group", nil).WithContext("group", group.Name))
			continue
		}
		seenGroups[group.Name] = true
		groups = append(groups, group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Priority < groups[j].Priority
	})

	return groups, problems.ToError()
}

func buildHeterogeneousGroup(section GroupSection, programs map[string]*ProgramConfig, opts *SupervisorOptions) (*GroupConfig, error) {
	if err := ValidateName(section.Name); err != nil {
		return nil, errors.NewValidationError("invalid group name", err).WithContext("group", section.Name)
	}
	if len(section.Programs) == 0 {
		return nil, errors.NewValidationError("group has no programs", nil).WithContext("group", section.Name)
	}

	group := &GroupConfig{Name: section.Name, Priority: defaultPriority}
	if section.Priority != nil {
		group.Priority = *section.Priority
	}
	for _, name := range section.Programs {
		program, ok := programs[name]
		if !ok {
			return nil, errors.NewNotFoundError("group references an undefined program", nil).
				WithContext("group", section.Name).
				WithContext("program", name)
		}
		processes, err := expandProgram(program, section.Name, opts)
		if err != nil {
			return nil, err
		}
		group.Processes = append(group.Processes, processes...)
	}
	sortProcesses(group.Processes)
	return group, nil
}

func buildPool(listener *ListenerConfig, opts *SupervisorOptions) (*GroupConfig, error) {
	program := &listener.ProgramConfig
	setProgramDefaults(program)

	if program.Stdout.CaptureMaxBytes > 0 {
		return nil, errors.NewValidationError("stdout capture is not allowed for event listeners", nil).
			WithContext("pool", program.Name)
	}
	if len(listener.Events) == 0 {
		return nil, errors.NewValidationError("event listener must subscribe to at least one event", nil).
			WithContext("pool", program.Name)
	}

	pool := &PoolConfig{BufferSize: listener.BufferSize}
	if pool.BufferSize <= 0 {
		pool.BufferSize = defaultBufferSize
	}
	for _, name := range listener.Events {
		typ, ok := events.ParseEventType(name)
		if !ok || typ == events.TypeEventRejected {
			return nil, errors.NewValidationError("unknown event type", nil).
				WithContext("pool", program.Name).
				WithContext("event", name)
		}
		pool.Events = append(pool.Events, typ)
	}

	processes, err := expandProgram(program, program.Name, opts)
	if err != nil {
		return nil, err
	}
	return &GroupConfig{Name: program.Name, Priority: *program.Priority, Processes: processes, Pool: pool}, nil
}

// expandProgram turns one program section into NumProcs process configs.
func expandProgram(program *ProgramConfig, groupName string, opts *SupervisorOptions) ([]*ProcessConfig, error) {
	if err := ValidateProgram(program); err != nil {
		return nil, err
	}

	stopSignal, _ := process.ParseSignal(program.StopSignal)
	umask, _ := ParseUmask(program.Umask)

	processes := make([]*ProcessConfig, 0, program.NumProcs)
	for n := program.NumProcsStart; n < program.NumProcsStart+program.NumProcs; n++ {
		expand := expander(program.Name, groupName, n)

		name := expand(program.ProcessName)
		if err := ValidateName(name); err != nil {
			return nil, errors.NewValidationError("invalid process name", err).
				WithContext("program", program.Name).
				WithContext("process_name", name)
		}

		env := make(map[string]string, len(program.Environment))
		for k, v := range program.Environment {
			env[k] = expand(v)
		}

		pc := &ProcessConfig{
			Name:           name,
			GroupName:      groupName,
			Command:        expand(program.Command),
			Priority:       *program.Priority,
			AutoStart:      *program.AutoStart,
			AutoRestart:    program.AutoRestart,
			StartSecs:      time.Duration(*program.StartSecs) * time.Second,
			StartRetries:   *program.StartRetries,
			ExitCodes:      append([]int(nil), program.ExitCodes...),
			StopSignal:     stopSignal,
			StopWaitSecs:   time.Duration(*program.StopWaitSecs) * time.Second,
			StopAsGroup:    program.StopAsGroup,
			KillAsGroup:    program.KillAsGroup || program.StopAsGroup,
			User:           program.User,
			Directory:      expand(program.Directory),
			Umask:          umask,
			Environment:    env,
			RedirectStderr: program.RedirectStderr,
			ServerURL:      opts.ServerURL,
			StripANSI:      opts.StripANSI,
		}

		var err error
		if pc.Stdout, err = resolveLog(program.Stdout, name, "stdout", expand, opts); err != nil {
			return nil, err
		}
		if pc.Stderr, err = resolveLog(program.Stderr, name, "stderr", expand, opts); err != nil {
			return nil, err
		}
		processes = append(processes, pc)
	}
	return processes, nil
}

func resolveLog(stream StreamConfig, processName, channel string, expand func(string) string, opts *SupervisorOptions) (LogConfig, error) {
	lc := LogConfig{
		MaxBytes:        int64(stream.LogfileMaxBytes),
		Backups:         *stream.LogfileBackups,
		CaptureMaxBytes: int64(stream.CaptureMaxBytes),
		EventsEnabled:   stream.EventsEnabled,
		Syslog:          stream.Syslog,
	}
	switch strings.ToUpper(stream.Logfile) {
	case "NONE":
	case "AUTO":
		path, err := processfile.AutoChildLogPath(opts.ChildLogDir, processName, channel, opts.Identifier)
		if err != nil {
			return lc, errors.NewIOError("failed to create AUTO child log", err).
				WithContext("process", processName).
				WithContext("channel", channel)
		}
		lc.Path = path
	default:
		lc.Path = expand(stream.Logfile)
	}
	return lc, nil
}

func expander(programName, groupName string, processNum int) func(string) string {
	r := strings.NewReplacer(
		"{program_name}", programName,
		"{group_name}", groupName,
		"{process_num}", strconv.Itoa(processNum),
	)
	return r.Replace
}

func sortProcesses(processes []*ProcessConfig) {
	sort.SliceStable(processes, func(i, j int) bool {
		return processes[i].Priority < processes[j].Priority
	})
}

func (c *ProcessConfig) String() string {
	return fmt.Sprintf("%s:%s", c.GroupName, c.Name)
}
