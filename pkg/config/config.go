package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file structure
type Config struct {
	Supervisor     SupervisorOptions `yaml:"supervisor" toml:"supervisor"`
	Programs       []ProgramConfig   `yaml:"programs" toml:"programs"`
	Groups         []GroupSection    `yaml:"groups" toml:"groups"`
	EventListeners []ListenerConfig  `yaml:"eventlisteners" toml:"eventlisteners"`
}

// SupervisorOptions holds daemon-wide settings
type SupervisorOptions struct {
	Identifier      string   `yaml:"identifier" toml:"identifier"`
	Logfile         string   `yaml:"logfile" toml:"logfile"`
	LogfileMaxBytes ByteSize `yaml:"logfile_maxbytes" toml:"logfile_maxbytes"`
	LogfileBackups  *int     `yaml:"logfile_backups" toml:"logfile_backups"`
	LogLevel        string   `yaml:"loglevel" toml:"loglevel"`
	LogFormat       string   `yaml:"logformat" toml:"logformat"`
	Pidfile         string   `yaml:"pidfile" toml:"pidfile"`
	ChildLogDir     string   `yaml:"childlogdir" toml:"childlogdir"`
	MinFDs          int      `yaml:"minfds" toml:"minfds"`
	MinProcs        int      `yaml:"minprocs" toml:"minprocs"`
	Umask           string   `yaml:"umask" toml:"umask"`
	StripANSI       bool     `yaml:"strip_ansi" toml:"strip_ansi"`
	NoCleanup       bool     `yaml:"nocleanup" toml:"nocleanup"`
	ServerURL       string   `yaml:"serverurl" toml:"serverurl"`
	WatchConfig     bool     `yaml:"watch_config" toml:"watch_config"`

	Control ControlOptions `yaml:"control" toml:"control"`
	Metrics MetricsOptions `yaml:"metrics" toml:"metrics"`
}

type ControlOptions struct {
	Port int `yaml:"port" toml:"port"`
}

type MetricsOptions struct {
	Address string `yaml:"address" toml:"address"`
}

// StreamConfig configures logging of one child output channel
type StreamConfig struct {
	Logfile         string   `yaml:"logfile" toml:"logfile"`
	LogfileMaxBytes ByteSize `yaml:"logfile_maxbytes" toml:"logfile_maxbytes"`
	LogfileBackups  *int     `yaml:"logfile_backups" toml:"logfile_backups"`
	CaptureMaxBytes ByteSize `yaml:"capture_maxbytes" toml:"capture_maxbytes"`
	EventsEnabled   bool     `yaml:"events_enabled" toml:"events_enabled"`
	Syslog          bool     `yaml:"syslog" toml:"syslog"`
}

// ProgramConfig is one program section. Pointer fields distinguish unset
// from an explicit zero.
type ProgramConfig struct {
	Name           string            `yaml:"name" toml:"name"`
	Command        string            `yaml:"command" toml:"command"`
	ProcessName    string            `yaml:"process_name" toml:"process_name"`
	NumProcs       int               `yaml:"numprocs" toml:"numprocs"`
	NumProcsStart  int               `yaml:"numprocs_start" toml:"numprocs_start"`
	Priority       *int              `yaml:"priority" toml:"priority"`
	AutoStart      *bool             `yaml:"autostart" toml:"autostart"`
	AutoRestart    AutoRestart       `yaml:"autorestart" toml:"autorestart"`
	StartSecs      *int              `yaml:"startsecs" toml:"startsecs"`
	StartRetries   *int              `yaml:"startretries" toml:"startretries"`
	ExitCodes      []int             `yaml:"exitcodes" toml:"exitcodes"`
	StopSignal     string            `yaml:"stopsignal" toml:"stopsignal"`
	StopWaitSecs   *int              `yaml:"stopwaitsecs" toml:"stopwaitsecs"`
	StopAsGroup    bool              `yaml:"stopasgroup" toml:"stopasgroup"`
	KillAsGroup    bool              `yaml:"killasgroup" toml:"killasgroup"`
	User           string            `yaml:"user" toml:"user"`
	Directory      string            `yaml:"directory" toml:"directory"`
	Umask          string            `yaml:"umask" toml:"umask"`
	Environment    map[string]string `yaml:"environment" toml:"environment"`
	RedirectStderr bool              `yaml:"redirect_stderr" toml:"redirect_stderr"`
	Stdout         StreamConfig      `yaml:"stdout" toml:"stdout"`
	Stderr         StreamConfig      `yaml:"stderr" toml:"stderr"`
}

// GroupSection assembles previously defined programs into one group
type GroupSection struct {
	Name     string   `yaml:"name" toml:"name"`
	Programs []string `yaml:"programs" toml:"programs"`
	Priority *int     `yaml:"priority" toml:"priority"`
}

// ListenerConfig is an event listener pool section
type ListenerConfig struct {
	ProgramConfig `yaml:",inline"`
	Events        []string `yaml:"events" toml:"events"`
	BufferSize    int      `yaml:"buffer_size" toml:"buffer_size"`
}

// LoadConfigFromFile reads a YAML or TOML file (chosen by extension) and
// applies defaults. It does not validate programs; see BuildGroups.
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, errors.NewValidationError("failed to parse TOML configuration", err).WithContext("filename", filename)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
		}
	}

	setSupervisorDefaults(&config.Supervisor)

	if err := ValidateSupervisorOptions(&config.Supervisor); err != nil {
		return nil, errors.NewValidationError("invalid supervisor configuration", err).WithContext("filename", filename)
	}

	return &config, nil
}
