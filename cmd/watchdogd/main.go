package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/watchdogd"
	"github.com/loykin/watchdogd/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand writing to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := &command{global: globalFlags, out: out, now: time.Now}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createValidateCommand(globalFlags, out),
		createStatusCommand(cmd),
		createActionCommand(cmd, "start", "Start a stopped service"),
		createActionCommand(cmd, "stop", "Stop a service and wait until its processes are gone"),
		createActionCommand(cmd, "restart", "Stop then start a service"),
		createEventsCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "watchdogd",
		Short: "Local process supervisor",
		Long: `watchdogd launches a configured list of local programs, tracks the
processes each one spawns, restarts them when they crash and records
lifecycle events.

Examples:
  watchdogd serve --config=watchdogd.toml
  watchdogd status
  watchdogd restart api
  watchdogd events --service=api --limit=20`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML, YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default derived from --config, else "+client.DefaultBaseURL+")")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor in the foreground",
		Long: `Start every enabled service in configuration order and supervise
them until interrupted. SIGINT or SIGTERM stops all services before exiting.

Examples:
  watchdogd serve watchdogd.toml
  watchdogd serve --config=watchdogd.toml --daemonize --pidfile=/run/watchdogd.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), serveFlags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	return cmd
}

func runServe(ctx context.Context, flags *ServeFlags, out io.Writer) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=watchdogd.toml or provide as argument")
	}
	cfg, err := watchdogd.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		pid, err := daemonize(flags.PidFile, flags.LogFile)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Daemon started with PID %d\n", pid)
		return nil
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	d, err := watchdogd.NewDaemon(cfg)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

func createValidateCommand(globalFlags *GlobalFlags, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config.toml]",
		Short: "Check a configuration file and list its services",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("config file required: use --config or provide as argument")
			}
			cfg, err := watchdogd.LoadConfig(path)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tKIND\tENABLED\tAUTO RESTART\tSTARTUP DELAY\tCOMMAND")
			for _, d := range cfg.Services {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\t%s\n",
					d.Name, d.Kind, d.Enabled, d.AutoRestart, d.StartupDelay, d.Command)
			}
			_ = tw.Flush()
			_, _ = fmt.Fprintf(out, "%s: ok (%d services, %d enabled)\n", path, len(cfg.Services), len(cfg.Enabled()))
			return nil
		},
	}
}

func createStatusCommand(c *command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show service status",
		Long: `Show the runtime state of every service, or details for one.

Examples:
  watchdogd status
  watchdogd status api --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				flags.Name = args[0]
			}
			return c.Status(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createActionCommand(c *command, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Action(cmd.Context(), action, args[0])
		},
	}
}

func createEventsCommand(c *command) *cobra.Command {
	flags := &EventsFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent lifecycle events",
		Long: `Show recent events from the daemon's in-memory buffer, or from the
persistent history store with --history.

Examples:
  watchdogd events --limit=50
  watchdogd events --service=api --history`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Events(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Service, "service", "", "only events of this service")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "maximum number of events (server default when 0)")
	cmd.Flags().BoolVar(&flags.History, "history", false, "read the persistent history store")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}
