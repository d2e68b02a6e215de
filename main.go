// Package main is the entry point for reload.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/billie-coop/reload/internal/config"
	"github.com/billie-coop/reload/internal/events"
	"github.com/billie-coop/reload/internal/logging"
	"github.com/billie-coop/reload/internal/supervisor"
	"github.com/billie-coop/reload/internal/tui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var errorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("196"))

type options struct {
	configPath string
	tui        bool
	logFormat  string
	debug      bool
	poll       bool
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("reload:")+" "+err.Error())
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process exit status: 2 for configuration
// errors, 1 for anything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cerr *config.Error
	if errors.As(err, &cerr) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "reload",
		Short: "Rebuild and restart a program when its sources change",
		Long: `reload watches the project sources, runs the build command when they
change and restarts the program from the fresh build. The running program is
stopped gracefully and reaped before its replacement starts.

Configuration is read from .reload.toml in the current directory unless -c
names another file (.toml, .yaml or .yml).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	root.Flags().BoolVar(&opts.tui, "tui", false, "show the interactive dashboard")
	root.Flags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	root.Flags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.Flags().BoolVar(&opts.poll, "poll", false, "detect changes by polling instead of filesystem notifications")

	root.AddCommand(newInitCmd(opts), newVersionCmd())
	return root
}

func newInitCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := newManager(opts)
			if err != nil {
				return err
			}
			if err := mgr.WriteDefault(force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", mgr.Path())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reload %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newManager(opts *options) (*config.Manager, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if opts.configPath != "" {
		return config.NewManagerWithPath(wd, opts.configPath), nil
	}
	return config.NewManager(wd), nil
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(opts *options) (*config.Config, error) {
	mgr, err := newManager(opts)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(); err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}
	if opts.poll {
		cfg.Build.Poll = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := events.NewBrokerWithBuffer(256)
	var out io.Writer = os.Stderr
	if opts.tui {
		out = events.Writer{Broker: broker}
	}
	logger, err := logging.New(out, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Time:   cfg.Log.Time,
		Color:  cfg.Log.Color,
	})
	if err != nil {
		return &config.Error{Field: "log", Reason: err.Error()}
	}

	sup, err := supervisor.New(cfg, supervisor.WithLogger(logger), supervisor.WithBroker(broker))
	if err != nil {
		return err
	}

	if !opts.tui {
		return sup.Start(ctx)
	}
	return serveTUI(ctx, cfg, sup, broker)
}

// serveTUI runs the supervisor behind the dashboard. Quitting the dashboard
// shuts the supervisor down; a fatal supervisor error closes the dashboard.
func serveTUI(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor, broker *events.Broker) error {
	p := tea.NewProgram(tui.New(sup, broker), tea.WithAltScreen(), tea.WithContext(ctx))

	errc := make(chan error, 1)
	go func() {
		err := sup.Start(ctx)
		errc <- err
		if err != nil {
			p.Quit()
		}
	}()

	_, uiErr := p.Run()

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Run.Grace+5*time.Second)
	defer cancel()
	if err := sup.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil {
		return err
	}
	if uiErr != nil && ctx.Err() == nil {
		return fmt.Errorf("dashboard: %w", uiErr)
	}
	return nil
}
