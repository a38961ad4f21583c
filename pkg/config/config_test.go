package config

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ===== Loading =====

func TestLoadConfigFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "supervisord.yaml", `
supervisor:
  identifier: edge
  logfile_maxbytes: 1MB
  umask: "022"
  control:
    port: 50055
programs:
  - name: web
    command: /usr/bin/web --port 80{process_num}
    process_name: "{program_name}_{process_num}"
    numprocs: 2
    autorestart: true
    stdout:
      logfile: NONE
`)

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "edge", cfg.Supervisor.Identifier)
	assert.Equal(t, ByteSize(1000*1000), cfg.Supervisor.LogfileMaxBytes)
	assert.Equal(t, 10, *cfg.Supervisor.LogfileBackups)
	assert.Equal(t, "info", cfg.Supervisor.LogLevel)
	assert.Equal(t, "console", cfg.Supervisor.LogFormat)
	assert.Equal(t, 1024, cfg.Supervisor.MinFDs)
	assert.Equal(t, 200, cfg.Supervisor.MinProcs)
	assert.Equal(t, 50055, cfg.Supervisor.Control.Port)

	require.Len(t, cfg.Programs, 1)
	assert.Equal(t, AutoRestartAlways, cfg.Programs[0].AutoRestart)
	assert.Equal(t, 2, cfg.Programs[0].NumProcs)
}

func TestLoadConfigFromFile_TOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "supervisord.toml", `
[supervisor]
identifier = "edge"
loglevel = "debug"
logfile_backups = 0

[[programs]]
name = "worker"
command = "/usr/bin/worker"
autorestart = "unexpected"
exitcodes = [0, 2]

[[eventlisteners]]
name = "alerts"
command = "/usr/bin/alerts"
events = ["PROCESS_STATE"]
buffer_size = 5
`)

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "edge", cfg.Supervisor.Identifier)
	assert.Equal(t, "debug", cfg.Supervisor.LogLevel)
	assert.Equal(t, 0, *cfg.Supervisor.LogfileBackups)

	require.Len(t, cfg.Programs, 1)
	assert.Equal(t, []int{0, 2}, cfg.Programs[0].ExitCodes)
	require.Len(t, cfg.EventListeners, 1)
	assert.Equal(t, "alerts", cfg.EventListeners[0].Name)
	assert.Equal(t, []string{"PROCESS_STATE"}, cfg.EventListeners[0].Events)
	assert.Equal(t, 5, cfg.EventListeners[0].BufferSize)
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		kind    errors.ErrorType
	}{
		{
			name: "missing file",
			file: "missing.yaml",
			kind: errors.ErrorTypeIO,
		},
		{
			name:    "malformed yaml",
			file:    "malformed.yaml",
			content: "supervisor: [1, 2\n",
			kind:    errors.ErrorTypeValidation,
		},
		{
			name:    "malformed toml",
			file:    "malformed.toml",
			content: "[supervisor\n",
			kind:    errors.ErrorTypeValidation,
		},
		{
			name:    "invalid loglevel",
			file:    "loglevel.yaml",
			content: "supervisor:\n  loglevel: chatty\n",
			kind:    errors.ErrorTypeValidation,
		},
		{
			name:    "invalid metrics address",
			file:    "metrics.yaml",
			content: "supervisor:\n  metrics:\n    address: nowhere\n",
			kind:    errors.ErrorTypeValidation,
		},
		{
			name:    "invalid autorestart",
			file:    "autorestart.yaml",
			content: "programs:\n  - name: web\n    command: /bin/true\n    autorestart: sometimes\n",
			kind:    errors.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if tt.content != "" {
				writeFile(t, dir, tt.file, tt.content)
			}
			_, err := LoadConfigFromFile(path)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.kind), "unexpected error type: %v", err)
		})
	}
}

// ===== Values =====

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"", 0, false},
		{"1024", 1024, false},
		{"1KB", 1000, false},
		{"1KiB", 1024, false},
		{"50MB", 50 * 1000 * 1000, false},
		{"-1", 0, true},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestParseAutoRestart(t *testing.T) {
	tests := []struct {
		input    string
		expected AutoRestart
		wantErr  bool
	}{
		{"", AutoRestartUnexpected, false},
		{"unexpected", AutoRestartUnexpected, false},
		{"true", AutoRestartAlways, false},
		{"Yes", AutoRestartAlways, false},
		{"false", AutoRestartNever, false},
		{"off", AutoRestartNever, false},
		{"maybe", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			policy, err := ParseAutoRestart(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, policy)
		})
	}
}

func TestParseUmask(t *testing.T) {
	umask, err := ParseUmask("")
	require.NoError(t, err)
	assert.Equal(t, -1, umask)

	umask, err = ParseUmask("022")
	require.NoError(t, err)
	assert.Equal(t, 0o22, umask)

	_, err = ParseUmask("999")
	assert.Error(t, err)

	_, err = ParseUmask("1777")
	assert.Error(t, err)
}

// ===== Validation =====

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("web_1.worker-a"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("has space"))
	assert.Error(t, ValidateName("group:name"))
	assert.Error(t, ValidateName(strings.Repeat("x", 65)))
}

func TestValidateProgram(t *testing.T) {
	base := func() *ProgramConfig {
		program := &ProgramConfig{Name: "web", Command: "/bin/web"}
		setProgramDefaults(program)
		return program
	}

	tests := []struct {
		name   string
		modify func(*ProgramConfig)
	}{
		{"empty command", func(p *ProgramConfig) { p.Command = "  " }},
		{"numprocs without process_num", func(p *ProgramConfig) { p.NumProcs = 2 }},
		{"negative startsecs", func(p *ProgramConfig) { p.StartSecs = intPtr(-1) }},
		{"negative startretries", func(p *ProgramConfig) { p.StartRetries = intPtr(-1) }},
		{"unknown stopsignal", func(p *ProgramConfig) { p.StopSignal = "NOPE" }},
		{"invalid umask", func(p *ProgramConfig) { p.Umask = "8" }},
		{"invalid environment key", func(p *ProgramConfig) { p.Environment = map[string]string{"A=B": "c"} }},
		{"stderr capture with redirect", func(p *ProgramConfig) {
			p.RedirectStderr = true
			p.Stderr.CaptureMaxBytes = 1024
		}},
	}

	assert.NoError(t, ValidateProgram(base()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := base()
			tt.modify(program)
			err := ValidateProgram(program)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

// ===== Groups =====

func testConfig(dir string) *Config {
	cfg := &Config{Supervisor: SupervisorOptions{ChildLogDir: dir, Identifier: "test", ServerURL: "unix:///tmp/s.sock"}}
	setSupervisorDefaults(&cfg.Supervisor)
	return cfg
}

func TestBuildGroups_HomogeneousProgram(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Programs = []ProgramConfig{{
		Name:          "web",
		Command:       "/bin/web --port 80{process_num}",
		ProcessName:   "{program_name}_{process_num}",
		NumProcs:      2,
		NumProcsStart: 1,
		StartSecs:     intPtr(5),
		StopSignal:    "INT",
		Environment:   map[string]string{"SLOT": "{group_name}-{process_num}"},
		Stdout:        StreamConfig{Logfile: filepath.Join(dir, "{program_name}-{process_num}.log")},
		Stderr:        StreamConfig{Logfile: "NONE"},
	}}

	groups, err := BuildGroups(cfg)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	group := groups[0]
	assert.Equal(t, "web", group.Name)
	assert.Nil(t, group.Pool)
	require.Len(t, group.Processes, 2)

	first := group.Processes[0]
	assert.Equal(t, "web_1", first.Name)
	assert.Equal(t, "web", first.GroupName)
	assert.Equal(t, "/bin/web --port 801", first.Command)
	assert.Equal(t, 5*time.Second, first.StartSecs)
	assert.Equal(t, syscall.SIGINT, first.StopSignal)
	assert.Equal(t, "web-1", first.Environment["SLOT"])
	assert.Equal(t, filepath.Join(dir, "web-1.log"), first.Stdout.Path)
	assert.Empty(t, first.Stderr.Path)
	assert.Equal(t, "unix:///tmp/s.sock", first.ServerURL)
	assert.Equal(t, -1, first.Umask)
	assert.Equal(t, "web:web_1", first.String())

	assert.Equal(t, "web_2", group.Processes[1].Name)
}

func TestBuildGroups_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Programs = []ProgramConfig{{Name: "cron", Command: "/usr/sbin/cron -f"}}

	groups, err := BuildGroups(cfg)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Len(t, groups[0].Processes, 1)

	pc := groups[0].Processes[0]
	assert.Equal(t, "cron", pc.Name)
	assert.Equal(t, 999, pc.Priority)
	assert.True(t, pc.AutoStart)
	assert.Equal(t, AutoRestartUnexpected, pc.AutoRestart)
	assert.Equal(t, time.Second, pc.StartSecs)
	assert.Equal(t, 3, pc.StartRetries)
	assert.Equal(t, []int{0}, pc.ExitCodes)
	assert.True(t, pc.IsExpectedExit(0))
	assert.False(t, pc.IsExpectedExit(1))
	assert.Equal(t, syscall.SIGTERM, pc.StopSignal)
	assert.Equal(t, 10*time.Second, pc.StopWaitSecs)

	// AUTO logs are created in the child log directory
	assert.Equal(t, dir, filepath.Dir(pc.Stdout.Path))
	assert.Contains(t, filepath.Base(pc.Stdout.Path), "cron-stdout---test-")
	assert.FileExists(t, pc.Stderr.Path)
}

func TestBuildGroups_HeterogeneousGroupAndPriorities(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Programs = []ProgramConfig{
		{Name: "api", Command: "/bin/api", Priority: intPtr(20)},
		{Name: "db", Command: "/bin/db", Priority: intPtr(10)},
		{Name: "batch", Command: "/bin/batch", Priority: intPtr(5)},
	}
	cfg.Groups = []GroupSection{{Name: "backend", Programs: []string{"api", "db"}, Priority: intPtr(100)}}

	groups, err := BuildGroups(cfg)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// groups sorted by priority
	assert.Equal(t, "batch", groups[0].Name)
	assert.Equal(t, "backend", groups[1].Name)

	// processes inside a group sorted by priority
	backend := groups[1]
	require.Len(t, backend.Processes, 2)
	assert.Equal(t, "db", backend.Processes[0].Name)
	assert.Equal(t, "backend", backend.Processes[0].GroupName)
	assert.Equal(t, "api", backend.Processes[1].Name)
}

func TestBuildGroups_EventListenerPool(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.EventListeners = []ListenerConfig{{
		ProgramConfig: ProgramConfig{Name: "alerts", Command: "/bin/alerts"},
		Events:        []string{"PROCESS_STATE", "TICK_5"},
	}}

	groups, err := BuildGroups(cfg)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.NotNil(t, groups[0].Pool)
	assert.Equal(t, []events.EventType{events.TypeProcessState, events.TypeTick5}, groups[0].Pool.Events)
	assert.Equal(t, 10, groups[0].Pool.BufferSize)
}

func TestBuildGroups_InvalidSectionsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Programs = []ProgramConfig{
		{Name: "good", Command: "/bin/good"},
		{Name: "bad", Command: ""},
		{Name: "good", Command: "/bin/duplicate"},
	}
	cfg.Groups = []GroupSection{{Name: "broken", Programs: []string{"missing"}}}
	cfg.EventListeners = []ListenerConfig{
		{ProgramConfig: ProgramConfig{Name: "noevents", Command: "/bin/l"}},
		{ProgramConfig: ProgramConfig{Name: "rejects", Command: "/bin/l"}, Events: []string{"EVENT_REJECTED"}},
		{
			ProgramConfig: ProgramConfig{Name: "capture", Command: "/bin/l", Stdout: StreamConfig{CaptureMaxBytes: 1024}},
			Events:        []string{"TICK_5"},
		},
	}

	groups, err := BuildGroups(cfg)
	require.Error(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "good", groups[0].Name)
	assert.Equal(t, "/bin/good", groups[0].Processes[0].Command)
}

// ===== Watcher =====

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "supervisord.yaml", "supervisor:\n  identifier: first\n")

	changes := make(chan *Config, 4)
	watcher := NewWatcher(path, 50*time.Millisecond, func(cfg *Config) {
		changes <- cfg
	}, &TestLogger{})
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	// invalid edits are ignored
	writeFile(t, dir, "supervisord.yaml", "supervisor:\n  loglevel: chatty\n")
	select {
	case cfg := <-changes:
		t.Fatalf("unexpected reload: %+v", cfg.Supervisor)
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, dir, "supervisord.yaml", "supervisor:\n  identifier: second\n")
	select {
	case cfg := <-changes:
		assert.Equal(t, "second", cfg.Supervisor.Identifier)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "supervisord.yaml", "supervisor:\n  identifier: first\n")

	changes := make(chan *Config, 1)
	watcher := NewWatcher(path, 50*time.Millisecond, func(cfg *Config) {
		changes <- cfg
	}, &TestLogger{})
	require.NoError(t, watcher.Start())

	writeFile(t, dir, "other.yaml", "supervisor:\n  identifier: other\n")
	select {
	case <-changes:
		t.Fatal("unexpected reload")
	case <-time.After(300 * time.Millisecond):
	}

	assert.NoError(t, watcher.Stop())
}

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}
