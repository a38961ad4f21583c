package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/core-tools/hsu-supervisor/pkg/control"
	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/events"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const allTarget = "all"

// withClient connects and runs fn under a context cancelled by SIGINT, SIGTERM
// or the --timeout flag.
func withClient(opts *globalOptions, fn func(ctx context.Context, c *client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	return fn(ctx, c)
}

// ===== status =====

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name...]",
		Short: "Show process status",
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(opts, func(ctx context.Context, c *client) error {
				if len(args) == 0 {
					infos, err := c.gateway.GetAllProcessInfo(ctx)
					if err != nil {
						return err
					}
					for _, info := range infos {
						printInfo(info)
					}
					return nil
				}
				failed := false
				for _, name := range args {
					info, err := c.gateway.GetProcessInfo(ctx, name)
					if err != nil {
						printError(name, err)
						failed = true
						continue
					}
					printInfo(info)
				}
				if failed {
					return fmt.Errorf("some processes could not be queried")
				}
				return nil
			})
		},
	}
}

// ===== start / stop / restart =====

func newLifecycleCmd(opts *globalOptions, verb, short string) *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   verb + " <name|group:*|all>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(opts, func(ctx context.Context, c *client) error {
				failed := false
				for _, target := range args {
					completion, err := lifecycleRequest(ctx, c, verb, target, !noWait)
					if err == nil && !noWait {
						completion, err = control.Await(ctx, c.gateway, completion, opts.PollInterval)
					}
					if err != nil {
						printError(target, err)
						failed = true
						continue
					}
					if !printCompletion(target, pastTense(verb), completion, noWait) {
						failed = true
					}
				}
				if failed {
					return fmt.Errorf("%s failed for some processes", verb)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return without waiting for the state change")
	return cmd
}

func lifecycleRequest(ctx context.Context, c *client, verb, target string, wait bool) (supervisor.Completion, error) {
	switch verb {
	case "start":
		if target == allTarget {
			return c.gateway.StartAll(ctx, wait)
		}
		return c.gateway.StartProcess(ctx, target, wait)
	case "stop":
		if target == allTarget {
			return c.gateway.StopAll(ctx, wait)
		}
		return c.gateway.StopProcess(ctx, target, wait)
	default:
		if target == allTarget {
			if _, err := c.gateway.StopAll(ctx, true); err != nil {
				return supervisor.Completion{}, err
			}
			return c.gateway.StartAll(ctx, wait)
		}
		return c.gateway.RestartProcess(ctx, target, wait)
	}
}

func pastTense(verb string) string {
	switch verb {
	case "stop":
		return "stopped"
	case "restart":
		return "restarted"
	}
	return "started"
}

// ===== signal =====

func newSignalCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signal <signal> <name|group:*|all>...",
		Short: "Send a signal to processes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			sig := args[0]
			return withClient(opts, func(ctx context.Context, c *client) error {
				failed := false
				for _, target := range args[1:] {
					var results []supervisor.ProcessResult
					var err error
					switch {
					case target == allTarget:
						results, err = c.gateway.SignalAll(ctx, sig)
					case strings.HasSuffix(target, ":*"):
						results, err = c.gateway.SignalGroup(ctx, strings.TrimSuffix(target, ":*"), sig)
					default:
						results, err = c.gateway.SignalProcess(ctx, target, sig)
					}
					if err != nil {
						printError(target, err)
						failed = true
						continue
					}
					if len(results) == 0 {
						fmt.Printf("%s: signalled\n", target)
					}
					if !printResults(results, "signalled") {
						failed = true
					}
				}
				if failed {
					return fmt.Errorf("signal failed for some processes")
				}
				return nil
			})
		},
	}
}

// ===== logs =====

func newTailCmd(opts *globalOptions) *cobra.Command {
	var follow bool
	var size string
	cmd := &cobra.Command{
		Use:   "tail <name> [stdout|stderr]",
		Short: "Show the end of a process log",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			channel := "stdout"
			if len(args) == 2 {
				channel = args[1]
			}
			length, err := humanize.ParseBytes(size)
			if err != nil {
				return fmt.Errorf("invalid --bytes value %q: %w", size, err)
			}
			return withClient(opts, func(ctx context.Context, c *client) error {
				return tail(ctx, c, name, channel, int64(length), follow)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new output")
	cmd.Flags().StringVar(&size, "bytes", "1600B", "amount of log to show, e.g. 4KB")
	return cmd
}

func tail(ctx context.Context, c *client, name, channel string, length int64, follow bool) error {
	var offset int64
	for {
		result, err := c.gateway.TailProcessLog(ctx, name, channel, offset, length)
		if err != nil {
			if follow && errors.IsCancelledError(err) {
				return nil
			}
			return err
		}
		if result.Overflow && offset > 0 {
			fmt.Fprintf(os.Stderr, "==> output truncated, showing the last %s <==\n", humanize.IBytes(uint64(length)))
		}
		os.Stdout.Write(result.Data)
		offset = result.Offset
		if !follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.PollInterval):
		}
	}
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <name|all>...",
		Short: "Truncate process log files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(opts, func(ctx context.Context, c *client) error {
				failed := false
				for _, target := range args {
					if target == allTarget {
						results, err := c.gateway.ClearAllProcessLogs(ctx)
						if err != nil {
							printError(target, err)
							failed = true
							continue
						}
						if !printResults(results, "cleared") {
							failed = true
						}
						continue
					}
					if err := c.gateway.ClearProcessLogs(ctx, target); err != nil {
						printError(target, err)
						failed = true
						continue
					}
					fmt.Printf("%s: cleared\n", target)
				}
				if failed {
					return fmt.Errorf("clear failed for some processes")
				}
				return nil
			})
		},
	}
}

// ===== input and events =====

func newSendStdinCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sendstdin <name> <chars>",
		Short: "Write characters to a process's stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(opts, func(ctx context.Context, c *client) error {
				return c.gateway.SendProcessStdin(ctx, args[0], args[1])
			})
		},
	}
}

func newSendEventCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sendevent <type> <data>",
		Short: "Publish a REMOTE_COMMUNICATION event",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withClient(opts, func(ctx context.Context, c *client) error {
				return c.gateway.SendRemoteCommEvent(ctx, args[0], args[1])
			})
		},
	}
}

func newEventsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "events [type...]",
		Short: "Stream supervisor events, optionally filtered by type",
		RunE: func(_ *cobra.Command, args []string) error {
			types := make([]events.EventType, 0, len(args))
			for _, name := range args {
				typ, ok := events.ParseEventType(name)
				if !ok {
					return fmt.Errorf("unknown event type %q", name)
				}
				types = append(types, typ)
			}
			return withClient(opts, func(ctx context.Context, c *client) error {
				ch, err := c.gateway.SubscribeEvents(ctx, types)
				if err != nil {
					return err
				}
				for msg := range ch {
					fmt.Printf("%d %s %s\n", msg.Serial, msg.Type, msg.Payload)
				}
				return nil
			})
		},
	}
}

// ===== supervisor control =====

func newDaemonCmd(opts *globalOptions, verb, short string) *cobra.Command {
	var aliases []string
	if verb == "reload" {
		aliases = []string{"restart-daemon"}
	}
	return &cobra.Command{
		Use:     verb,
		Aliases: aliases,
		Short:   short,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withClient(opts, func(ctx context.Context, c *client) error {
				var err error
				switch verb {
				case "shutdown":
					err = c.gateway.Shutdown(ctx)
				case "reload":
					err = c.gateway.Restart(ctx)
				default:
					err = c.gateway.ReopenLogs(ctx)
				}
				if err != nil {
					return err
				}
				fmt.Printf("supervisor: %s requested\n", verb)
				return nil
			})
		},
	}
}
