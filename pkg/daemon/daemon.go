// Package daemon runs a supervisor as a long-lived service: it owns the
// pidfile, the daemon log, the control and metrics servers, and restarts the
// supervisor in place when asked to reload.
package daemon

import (
	"context"
	"fmt"
	"time"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-supervisor/pkg/config"
	"github.com/core-tools/hsu-supervisor/pkg/control"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/logging"
	"github.com/core-tools/hsu-supervisor/pkg/metrics"
	"github.com/core-tools/hsu-supervisor/pkg/process"
	"github.com/core-tools/hsu-supervisor/pkg/processfile"
	"github.com/core-tools/hsu-supervisor/pkg/resourcelimits"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"

	"github.com/coreos/go-systemd/v22/daemon"
)

const (
	shutdownTimeout       = 10 * time.Second
	configWatcherDebounce = 1500 * time.Millisecond
)

// Options are the command-line settings. Non-zero overrides win over the
// configuration file.
type Options struct {
	ConfigFile string

	Identifier     string
	LogLevel       string
	Logfile        string
	Pidfile        string
	ChildLogDir    string
	NoCleanup      bool
	ControlPort    int
	MetricsAddress string
}

// Runner owns everything that outlives a single supervisor instance.
type Runner struct {
	options   Options
	bootstrap logging.Logger
	logger    logging.Logger
	zap       *logging.ZapAdapter
	pidFile   *processfile.PIDFile
	system    process.System
}

// NewRunner creates a runner that logs to bootstrap until the configuration
// names a daemon log.
func NewRunner(options Options, bootstrap logging.Logger) *Runner {
	return &Runner{
		options:   options,
		bootstrap: bootstrap,
		logger:    bootstrap,
		system:    process.NewSystem(),
	}
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

// Run loads the configuration and supervises until shutdown. A restart
// request (HUP, control API or a config file change) reloads the
// configuration and starts a fresh supervisor in the same process.
func (r *Runner) Run(ctx context.Context) error {
	defer r.cleanup()

	for first := true; ; first = false {
		cfg, err := r.loadConfig()
		if err != nil {
			return err
		}
		if err := r.setupLogging(cfg); err != nil {
			return err
		}
		if first {
			if err := r.prepare(cfg); err != nil {
				return err
			}
		}

		groups, err := config.BuildGroups(cfg)
		if err != nil {
			// invalid sections are skipped, the rest is supervised
			r.logger.Errorf("Configuration has errors: %v", err)
		}

		restart, err := r.runOnce(ctx, cfg, groups)
		if err != nil {
			return err
		}
		if !restart || ctx.Err() != nil {
			r.logger.Infof("Supervisor exited")
			return nil
		}

		r.notify(daemon.SdNotifyReloading)
		r.logger.Infof("Supervisor restarting, reloading configuration from %s", r.options.ConfigFile)
	}
}

func (r *Runner) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(r.options.ConfigFile)
	if err != nil {
		return nil, err
	}
	applyOverrides(&cfg.Supervisor, r.options)
	if err := config.ValidateSupervisorOptions(&cfg.Supervisor); err != nil {
		return nil, errors.NewValidationError("invalid command-line override", err)
	}
	return cfg, nil
}

func applyOverrides(opts *config.SupervisorOptions, options Options) {
	if options.Identifier != "" {
		opts.Identifier = options.Identifier
	}
	if options.LogLevel != "" {
		opts.LogLevel = options.LogLevel
	}
	if options.Logfile != "" {
		opts.Logfile = options.Logfile
	}
	if options.Pidfile != "" {
		opts.Pidfile = options.Pidfile
	}
	if options.ChildLogDir != "" {
		opts.ChildLogDir = options.ChildLogDir
	}
	if options.NoCleanup {
		opts.NoCleanup = true
	}
	if options.ControlPort != 0 {
		opts.Control.Port = options.ControlPort
	}
	if options.MetricsAddress != "" {
		opts.Metrics.Address = options.MetricsAddress
	}
}

func zapConfigFor(opts *config.SupervisorOptions) logging.ZapConfig {
	zapConfig := logging.DefaultZapConfig()
	zapConfig.Level = opts.LogLevel
	zapConfig.Format = opts.LogFormat
	if opts.Logfile != "" {
		zapConfig.Output = opts.Logfile
		zapConfig.MaxBytes = int64(opts.LogfileMaxBytes)
		zapConfig.Backups = *opts.LogfileBackups
	}
	return zapConfig
}

// setupLogging replaces the daemon logger with one built from cfg.
func (r *Runner) setupLogging(cfg *config.Config) error {
	adapter, err := logging.NewZapAdapter(zapConfigFor(&cfg.Supervisor))
	if err != nil {
		return errors.NewValidationError("failed to create daemon logger", err)
	}
	if r.zap != nil {
		_ = r.zap.Close()
	}
	r.zap = adapter
	r.logger = adapter
	return nil
}

// prepare runs once per daemon: pidfile, umask, resource limits and stale
// child log cleanup.
func (r *Runner) prepare(cfg *config.Config) error {
	opts := &cfg.Supervisor

	if opts.Pidfile != "" {
		pidFile, err := processfile.AcquirePIDFile(opts.Pidfile, r.logger)
		if err != nil {
			return err
		}
		r.pidFile = pidFile
	}

	umask, _ := config.ParseUmask(opts.Umask)
	if umask >= 0 {
		old := setUmask(umask)
		r.logger.Infof("Set umask to %03o (was %03o)", umask, old)
	}

	enforcer := resourcelimits.NewResourceEnforcer(r.logger)
	if err := enforcer.ApplyLimits(&resourcelimits.ResourceLimits{
		MinFileDescriptors: uint64(opts.MinFDs),
		MinProcesses:       uint64(opts.MinProcs),
	}); err != nil {
		return err
	}

	if !opts.NoCleanup {
		processfile.ClearAutoChildLogs(opts.ChildLogDir, opts.Identifier, r.logger)
	}
	return nil
}

// runOnce runs one supervisor instance with its servers and reports whether
// a restart was requested.
func (r *Runner) runOnce(ctx context.Context, cfg *config.Config, groups []*config.GroupConfig) (bool, error) {
	opts := &cfg.Supervisor
	collector := metrics.NewCollector()

	sup, err := supervisor.NewSupervisor(groups, supervisor.SupervisorOptions{
		Identifier:     opts.Identifier,
		System:         r.system,
		Logger:         r.logger,
		HandleSignals:  true,
		OnEventDropped: collector.EventDropped,
		ReopenLogs:     r.zap.Reopen,
	})
	if err != nil {
		return false, err
	}

	type runResult struct {
		restart bool
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		restart, err := sup.Run(ctx)
		done <- runResult{restart: restart, err: err}
	}()

	// services outlive ctx so that a cancelled daemon still tears them down in order
	stopServices, err := r.startServices(context.WithoutCancel(ctx), cfg, sup, collector)
	if err != nil {
		_ = sup.Shutdown(context.Background())
		result := <-done
		if ctx.Err() != nil {
			return false, result.err
		}
		r.logger.Errorf("Failed to start services, shutting down: %v", err)
		return false, err
	}

	r.notify(daemon.SdNotifyReady)
	r.logger.Infof("Supervisor is running, identifier: %s, groups: %d", opts.Identifier, len(groups))

	result := <-done

	r.notify(daemon.SdNotifyStopping)
	stopServices()

	return result.restart, result.err
}

// startServices wires the control, metrics and config watch services to a
// running supervisor and returns their teardown.
func (r *Runner) startServices(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor, collector *metrics.Collector) (func(), error) {
	opts := &cfg.Supervisor
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	for _, typ := range []events.EventType{events.TypeEvent, events.TypeEventRejected} {
		unsubscribe, err := sup.Subscribe(ctx, typ, collector.Observe)
		if err != nil {
			stop()
			return nil, err
		}
		stops = append(stops, unsubscribe)
	}

	if opts.Control.Port != 0 {
		stopControl, err := r.startControl(ctx, opts.Control.Port, sup)
		if err != nil {
			stop()
			return nil, err
		}
		stops = append(stops, stopControl)
	}

	if opts.Metrics.Address != "" {
		metricsServer := metrics.NewServer(collector, r.logger)
		if err := metricsServer.Start(opts.Metrics.Address); err != nil {
			stop()
			return nil, err
		}
		stops = append(stops, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				r.logger.Warnf("Failed to stop metrics server: %v", err)
			}
		})
	}

	if opts.WatchConfig {
		watcher := config.NewWatcher(r.options.ConfigFile, configWatcherDebounce, func(*config.Config) {
			if err := sup.Restart(context.Background()); err != nil {
				r.logger.Warnf("Failed to request restart after config change: %v", err)
			}
		}, r.logger)
		if err := watcher.Start(); err != nil {
			stop()
			return nil, errors.NewIOError("failed to watch configuration file", err)
		}
		stops = append(stops, func() { _ = watcher.Stop() })
	}

	return stop, nil
}

// startControl serves the hsu-core ping service and the supervisor control
// service on one gRPC server.
func (r *Runner) startControl(ctx context.Context, port int, sup *supervisor.Supervisor) (func(), error) {
	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: r.logger.Debugf,
			Infof:  r.logger.Infof,
			Warnf:  r.logger.Warnf,
			Errorf: r.logger.Errorf,
		})
	controlLogger := logging.WithPrefix(r.logger, logPrefix("hsu-supervisor"))

	server, err := coreControl.NewServer(coreControl.ServerOptions{Port: port}, coreLogger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create control server", err)
	}

	broker, err := control.NewEventBroker(ctx, sup, controlLogger)
	if err != nil {
		return nil, err
	}

	coreHandler := coreDomain.NewDefaultHandler(coreLogger)
	coreControl.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)
	control.RegisterGRPCServerHandler(server.GRPC(), sup, broker, controlLogger)

	server.Start(ctx)
	r.logger.Infof("Control server started, port: %d", port)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
		broker.Close()
		r.logger.Infof("Control server stopped")
	}, nil
}

func (r *Runner) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		r.logger.Warnf("sd_notify failed, state: %s, error: %v", state, err)
		return
	}
	if sent {
		r.logger.Debugf("sd_notify sent, state: %s", state)
	}
}

func (r *Runner) cleanup() {
	if r.pidFile != nil {
		if err := r.pidFile.Release(); err != nil {
			r.logger.Warnf("Failed to release PID file: %v", err)
		}
		r.pidFile = nil
	}
	if r.zap != nil {
		_ = r.zap.Sync()
		_ = r.zap.Close()
		r.zap = nil
		r.logger = r.bootstrap
	}
}
