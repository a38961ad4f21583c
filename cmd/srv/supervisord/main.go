package main

import (
	"context"
	"fmt"
	"os"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	"github.com/core-tools/hsu-supervisor/pkg/daemon"
	"github.com/core-tools/hsu-supervisor/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ConfigFile  string `short:"c" long:"configuration" description:"configuration file (YAML or TOML)" required:"true"`
	Identifier  string `short:"i" long:"identifier" description:"identifier of this supervisor instance"`
	LogLevel    string `short:"e" long:"loglevel" description:"log level (critical, error, warn, info, debug, trace, blather)"`
	Logfile     string `short:"l" long:"logfile" description:"daemon log file path"`
	Pidfile     string `short:"j" long:"pidfile" description:"pid file path"`
	ChildLogDir string `short:"q" long:"childlogdir" description:"directory for AUTO child log files"`
	NoCleanup   bool   `short:"k" long:"nocleanup" description:"keep stale AUTO child log files at startup"`
	Port        int    `long:"port" description:"control server port"`
	Metrics     string `long:"metrics" description:"metrics listen address, e.g. :9101"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	stdLogger := sprintfLogging.NewStdSprintfLogger()
	logger := logging.NewLogger("", logging.LogFuncs{
		Debugf: stdLogger.Debugf,
		Infof:  stdLogger.Infof,
		Warnf:  stdLogger.Warnf,
		Errorf: stdLogger.Errorf,
	})

	logger.Infof("opts: %+v", opts)

	runner := daemon.NewRunner(daemon.Options{
		ConfigFile:     opts.ConfigFile,
		Identifier:     opts.Identifier,
		LogLevel:       opts.LogLevel,
		Logfile:        opts.Logfile,
		Pidfile:        opts.Pidfile,
		ChildLogDir:    opts.ChildLogDir,
		NoCleanup:      opts.NoCleanup,
		ControlPort:    opts.Port,
		MetricsAddress: opts.Metrics,
	}, logger)

	// SIGTERM, SIGINT and SIGHUP are handled by the supervisor itself
	if err := runner.Run(context.Background()); err != nil {
		logger.Errorf("Supervisor failed: %v", err)
		os.Exit(1)
	}
}
