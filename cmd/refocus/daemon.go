package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/refocus/refocus/internal/config"
	"github.com/refocus/refocus/internal/daemon"
	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/internal/web"
	"github.com/refocus/refocus/pkg/detector"
	"github.com/refocus/refocus/pkg/utils"
)

func newStartCmd(opts *rootOptions) *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tracking daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return launch(cmd, opts, foreground, false, 0)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of detaching")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		foreground bool
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tracking daemon with the web API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return launch(cmd, opts, foreground, true, port)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run in the foreground instead of detaching")
	cmd.Flags().IntVar(&port, "port", 0, "web server port (default from config)")
	return cmd
}

func launch(cmd *cobra.Command, opts *rootOptions, foreground, withWeb bool, port int) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if port > 0 {
		if err := cfg.SetWebPort(port); err != nil {
			return err
		}
	}

	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		return fmt.Errorf("%w (PID: %d)", daemon.ErrAlreadyRunning, pid)
	}

	child := os.Getenv(daemon.ChildEnv) == "1"
	if !foreground && !child {
		return daemonize(cmd.OutOrStdout(), cfg, withWeb)
	}

	var logOut io.Writer = cmd.ErrOrStderr()
	if child {
		logOut = nil
	}
	return runDaemon(cmd.Context(), cfg, dm, logOut, withWeb)
}

func runDaemon(ctx context.Context, cfg *config.Config, dm *daemon.Daemon, logOut io.Writer, withWeb bool) error {
	a, err := openApp(cfg, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := dm.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := dm.Release(); err != nil {
			a.logger.Warn(context.Background(), "failed to release daemon lock", slog.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	trk, run, err := a.newTracker(gctx)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting refocus daemon",
		slog.F("pid", os.Getpid()),
		slog.F("poll_interval", cfg.Tracker.PollInterval),
		slog.F("grace_period", cfg.Tracker.GracePeriod),
		slog.F("targets_file", a.targets.Path()),
	)
	g.Go(run)

	if withWeb {
		logger := a.logger.Named("web")
		handler := web.NewHandler(logger, cfg, a.clock, a.repo, a.targets, trk).WithOverlay(a.indicator)
		srv := web.NewServer(logger, cfg, handler, 0)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	a.logger.Info(context.Background(), "daemon stopped")
	return err
}

// daemonize re-executes the current binary detached from the terminal.
func daemonize(out io.Writer, cfg *config.Config, withWeb bool) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	env := append(os.Environ(), daemon.ChildEnv+"=1")
	procAttr := &os.ProcAttr{
		Env:   env,
		Files: []*os.File{nil, nil, nil}, // stdin, stdout, stderr to /dev/null
		Sys: &syscall.SysProcAttr{
			Setsid: true, // Create new session
		},
	}

	process, err := os.StartProcess(exe, os.Args, procAttr)
	if err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Daemon started successfully (PID: %d)\n", process.Pid)
	if withWeb {
		_, _ = fmt.Fprintf(out, "Web API available at: http://%s\n", webAddr(cfg))
	}
	_, _ = fmt.Fprintf(out, "Logs: %s\n", cfg.Daemon.LogFile)
	return process.Release()
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the tracking daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			dm := daemon.New(cfg.Daemon.PIDFile)

			running, pid, err := dm.IsRunning()
			if err != nil {
				return fmt.Errorf("failed to check daemon status: %w", err)
			}
			if !running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stopping daemon (PID: %d)...\n", pid)
			if err := dm.Stop(); err != nil {
				return fmt.Errorf("failed to stop daemon: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped successfully")
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and the current foreground app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			dm := daemon.New(cfg.Daemon.PIDFile)

			running, pid, err := dm.IsRunning()
			if err != nil {
				return fmt.Errorf("failed to check daemon status: %w", err)
			}

			if !running {
				_, _ = fmt.Fprintln(out, "Status: Not running")
			} else {
				_, _ = fmt.Fprintf(out, "Status: Running (PID: %d)\n", pid)
				_, _ = fmt.Fprintf(out, "Poll Interval: %v\n", cfg.Tracker.PollInterval)
				_, _ = fmt.Fprintf(out, "Grace Period: %v\n", cfg.Tracker.GracePeriod)
				if body, err := fetchStatus(cmd.Context(), cfg); err == nil {
					printTrackerStatus(out, body)
				}
			}

			// Still show current window detection even when not running
			det, err := detector.New()
			if err != nil {
				_, _ = fmt.Fprintf(out, "\nCould not detect current window: %v\n", err)
				return nil
			}
			defer det.Close()

			info, err := det.GetFocusedWindow()
			if err == nil && info != nil {
				_, _ = fmt.Fprintf(out, "\nCurrent Window:\n")
				_, _ = fmt.Fprintf(out, "  App: %s\n", info.AppName)
				_, _ = fmt.Fprintf(out, "  Title: %s\n", info.WindowTitle)
				_, _ = fmt.Fprintf(out, "  Display: %s\n", info.DisplayServer)
			}
			if subject := info.Subject(); err == nil && !subject.IsNone() {
				if a, err := openApp(cfg, cmd.ErrOrStderr()); err == nil {
					if err := printSubjectSessions(cmd.Context(), out, a.repo, subject, a.clock.Now()); err != nil {
						a.logger.Warn(cmd.Context(), "failed to look up sessions", slog.Error(err))
					}
					a.Close()
				}
			}
			if idle, err := det.GetIdleInfo(); err == nil && idle != nil {
				_, _ = fmt.Fprintf(out, "\nSystem State:\n")
				_, _ = fmt.Fprintf(out, "  Idle: %v\n", idle.IsIdle)
				_, _ = fmt.Fprintf(out, "  Locked: %v\n", idle.IsLocked)
			}
			return nil
		},
	}
}

type sessionLookup interface {
	FindActiveSession(ctx context.Context, subject models.Subject) (*models.Session, error)
	FindLastFinishedSession(ctx context.Context, subject models.Subject) (*models.Session, error)
}

// printSubjectSessions shows the open and the last finished session of the
// application in front.
func printSubjectSessions(ctx context.Context, out io.Writer, sessions sessionLookup, subject models.Subject, now time.Time) error {
	active, err := sessions.FindActiveSession(ctx, subject)
	if err != nil {
		return err
	}
	last, err := sessions.FindLastFinishedSession(ctx, subject)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "\nSessions for %s:\n", subject)
	if active != nil {
		_, _ = fmt.Fprintf(out, "  Open since %s (%s)\n",
			active.StartedAt.Local().Format("2006-01-02 15:04:05"), utils.FormatDuration(active.Duration(now)))
	} else {
		_, _ = fmt.Fprintln(out, "  No open session")
	}
	if last != nil {
		_, _ = fmt.Fprintf(out, "  Last finished %s after %s\n",
			last.EndedAt.Local().Format("2006-01-02 15:04:05"), utils.FormatDuration(last.Duration(now)))
	}
	return nil
}

func webAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Web.Host, strconv.Itoa(cfg.Web.Port))
}

// fetchStatus asks a running "serve" daemon for its live tracker state.
func fetchStatus(ctx context.Context, cfg *config.Config) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+webAddr(cfg)+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func printTrackerStatus(out io.Writer, body []byte) {
	st := gjson.GetBytes(body, "tracker")
	if !st.Exists() {
		return
	}

	_, _ = fmt.Fprintf(out, "\nTracker:\n")
	foreground := st.Get("foreground").String()
	if foreground == "" {
		foreground = "<none>"
	}
	_, _ = fmt.Fprintf(out, "  Foreground: %s\n", foreground)
	if tracking := st.Get("tracking").String(); tracking != "" {
		_, _ = fmt.Fprintf(out, "  Tracking: %s (%s)\n", tracking, gjson.GetBytes(body, "elapsed").String())
	}
	if ov := gjson.GetBytes(body, "overlay"); ov.Exists() {
		if ov.Get("visible").Bool() {
			_, _ = fmt.Fprintf(out, "  Overlay: shown for %s\n", ov.Get("subject").String())
		} else {
			_, _ = fmt.Fprintln(out, "  Overlay: hidden")
		}
	}
	if pending := st.Get("pending"); pending.Exists() {
		remaining := time.Duration(pending.Get("remaining").Int())
		_, _ = fmt.Fprintf(out, "  Ending: %s in %s unless it returns\n",
			pending.Get("subject").String(), utils.FormatDuration(remaining))
	}
}
