package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name    string
		options Options
		check   func(t *testing.T, opts *config.SupervisorOptions)
	}{
		{
			name:    "nothing overridden",
			options: Options{},
			check: func(t *testing.T, opts *config.SupervisorOptions) {
				assert.Equal(t, "supervisor", opts.Identifier)
				assert.Equal(t, "info", opts.LogLevel)
				assert.False(t, opts.NoCleanup)
				assert.Equal(t, 0, opts.Control.Port)
			},
		},
		{
			name: "flags win",
			options: Options{
				Identifier:     "edge",
				LogLevel:       "debug",
				Logfile:        "/var/log/supervisord.log",
				Pidfile:        "/run/supervisord.pid",
				ChildLogDir:    "/var/log/children",
				NoCleanup:      true,
				ControlPort:    50055,
				MetricsAddress: ":9101",
			},
			check: func(t *testing.T, opts *config.SupervisorOptions) {
				assert.Equal(t, "edge", opts.Identifier)
				assert.Equal(t, "debug", opts.LogLevel)
				assert.Equal(t, "/var/log/supervisord.log", opts.Logfile)
				assert.Equal(t, "/run/supervisord.pid", opts.Pidfile)
				assert.Equal(t, "/var/log/children", opts.ChildLogDir)
				assert.True(t, opts.NoCleanup)
				assert.Equal(t, 50055, opts.Control.Port)
				assert.Equal(t, ":9101", opts.Metrics.Address)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &config.SupervisorOptions{Identifier: "supervisor", LogLevel: "info"}
			applyOverrides(opts, tt.options)
			tt.check(t, opts)
		})
	}
}

func TestZapConfigFor(t *testing.T) {
	opts := &config.SupervisorOptions{
		LogLevel:        "warn",
		LogFormat:       "json",
		LogfileMaxBytes: config.ByteSize(1024 * 1024),
		LogfileBackups:  intPtr(3),
	}

	zapConfig := zapConfigFor(opts)
	assert.Equal(t, "warn", zapConfig.Level)
	assert.Equal(t, "json", zapConfig.Format)
	assert.Equal(t, "stderr", zapConfig.Output)

	opts.Logfile = "/var/log/supervisord.log"
	zapConfig = zapConfigFor(opts)
	assert.Equal(t, "/var/log/supervisord.log", zapConfig.Output)
	assert.Equal(t, int64(1024*1024), zapConfig.MaxBytes)
	assert.Equal(t, 3, zapConfig.Backups)
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := fmt.Sprintf(`supervisor:
  identifier: daemontest
  pidfile: %[1]s/supervisord.pid
  logfile: %[1]s/supervisord.log
  loglevel: debug
  childlogdir: %[1]s
  minfds: 1
  minprocs: 1
`, dir)
	path := filepath.Join(dir, "supervisord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunner_RunUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	configFile := writeConfig(t, dir)
	pidPath := filepath.Join(dir, "supervisord.pid")

	// left over from a previous run with the same identifier
	stale := filepath.Join(dir, "web-stdout---daemontest-abc123.log")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	runner := NewRunner(Options{ConfigFile: configFile}, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	logPath := filepath.Join(dir, "supervisord.log")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), "Supervisor is running")
	}, 10*time.Second, 10*time.Millisecond)
	assert.FileExists(t, pidPath)
	assert.NoFileExists(t, stale)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop")
	}

	assert.NoFileExists(t, pidPath)
}

func TestRunner_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("supervisor: [not, a, map]\n"), 0o644))

	err := NewRunner(Options{ConfigFile: path}, logging.NewNopLogger()).Run(context.Background())
	assert.Error(t, err)
}

func TestRunner_InvalidOverride(t *testing.T) {
	dir := t.TempDir()
	configFile := writeConfig(t, dir)

	err := NewRunner(Options{ConfigFile: configFile, LogLevel: "chatty"}, logging.NewNopLogger()).Run(context.Background())
	assert.Error(t, err)
}
