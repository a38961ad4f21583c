package main

import (
	"context"
	"fmt"
	"os"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/core-tools/hsu-supervisor/pkg/control"
	"github.com/core-tools/hsu-supervisor/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type globalOptions struct {
	ServerPath   string
	AttachPort   int
	Timeout      time.Duration
	PollInterval time.Duration
	Verbose      bool
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
}

// client is a connected control gateway plus the logger used to reach it.
type client struct {
	gateway control.Gateway
	logger  logging.Logger
	opts    *globalOptions
}

func newLogger(verbose bool) logging.Logger {
	if !verbose {
		return logging.NewNopLogger()
	}
	stdLogger := sprintfLogging.NewStdSprintfLogger()
	return logging.NewLogger("", logging.LogFuncs{
		Debugf: stdLogger.Debugf,
		Infof:  stdLogger.Infof,
		Warnf:  stdLogger.Warnf,
		Errorf: stdLogger.Errorf,
	})
}

func connect(ctx context.Context, opts *globalOptions) (*client, error) {
	if opts.ServerPath == "" && opts.AttachPort == 0 {
		return nil, fmt.Errorf("server path or attach port is required")
	}

	logger := newLogger(opts.Verbose)
	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	controlLogger := logging.WithPrefix(logger, logPrefix("hsu-supervisor"))

	coreConnectionOptions := coreControl.ConnectionOptions{
		ServerPath: opts.ServerPath,
		AttachPort: opts.AttachPort,
	}
	coreConnection, err := coreControl.NewConnection(coreConnectionOptions, coreLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create core connection: %w", err)
	}

	coreClientGateway := coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger)
	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 1 * time.Second,
	}
	if err := coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger); err != nil {
		return nil, fmt.Errorf("failed to ping supervisor: %w", err)
	}

	return &client{
		gateway: control.NewGRPCClientGateway(coreConnection.GRPC(), controlLogger),
		logger:  logger,
		opts:    opts,
	}, nil
}

func addGlobalFlags(flags *pflag.FlagSet, opts *globalOptions) {
	flags.StringVar(&opts.ServerPath, "server", "", "path to the supervisord executable to launch")
	flags.IntVar(&opts.AttachPort, "port", 0, "control port of a running supervisord")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "give up after this long (0 waits forever)")
	flags.DurationVar(&opts.PollInterval, "poll-interval", 200*time.Millisecond, "interval between completion polls")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log connection details")
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "supervisorctl",
		Short:         "Control a running supervisord",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addGlobalFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		newStatusCmd(opts),
		newLifecycleCmd(opts, "start", "Start processes"),
		newLifecycleCmd(opts, "stop", "Stop processes"),
		newLifecycleCmd(opts, "restart", "Restart processes"),
		newSignalCmd(opts),
		newTailCmd(opts),
		newClearCmd(opts),
		newSendStdinCmd(opts),
		newSendEventCmd(opts),
		newEventsCmd(opts),
		newDaemonCmd(opts, "shutdown", "Stop all processes and exit the supervisor"),
		newDaemonCmd(opts, "reload", "Stop all processes, reload the configuration and start again"),
		newDaemonCmd(opts, "reopen", "Reopen the supervisor and child log files"),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
