package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/refocus/refocus/internal/config"
)

// Set with -ldflags at build time.
var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

const appName = "refocus"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	debug bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Track continuous usage sessions of the applications you choose",
		Long: `refocus watches which application is in the foreground and records a
session whenever one of your target applications is in use. Short switches
away (up to the grace period) do not split a session.

Environment Variables:
  REFOCUS_CONFIG              Config file (default ~/.config/refocus/config.yaml)
  REFOCUS_DB_PATH             Database file path
  REFOCUS_TARGETS_FILE        Target list file
  REFOCUS_POLL_INTERVAL_MS    Foreground poll interval in milliseconds
  REFOCUS_LOOKBACK_WINDOW_MS  How far back each poll looks, in milliseconds
  REFOCUS_GRACE_PERIOD_MS     Grace period before a session ends, in milliseconds
  REFOCUS_IDLE_THRESHOLD      Idle threshold in seconds
  REFOCUS_PID_FILE            PID file path
  REFOCUS_LOG_FILE            Daemon log file
  REFOCUS_DEBUG               Enable debug logging`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newStartCmd(opts),
		newServeCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newReportCmd(opts),
		newHistoryCmd(opts),
		newTargetsCmd(opts),
		newClearCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if o.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s version %s\n", appName, version)
			_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
			_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			if !yes {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), "This will delete all recorded sessions. Are you sure? (yes/no): ")
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "yes" && response != "y" {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Operation cancelled")
					return nil
				}
			}

			a, err := openApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.repo.Clear(); err != nil {
				return fmt.Errorf("failed to clear database: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Database cleared successfully")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
