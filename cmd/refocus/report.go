package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/refocus/refocus/internal/config"
	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/internal/reporter"
	"github.com/refocus/refocus/pkg/utils"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:       "report [day|week|month]",
		Short:     "Show time spent in target applications",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"day", "week", "month"},
		RunE: func(cmd *cobra.Command, args []string) error {
			periodType := "day"
			if len(args) > 0 {
				periodType = args[0]
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			rep := reporter.New(a.repo, a.clock, cfg.Location())
			report, err := rep.GenerateReport(cmd.Context(), periodType)
			if err != nil {
				return fmt.Errorf("failed to generate report: %w", err)
			}

			if jsonOutput {
				js, err := reporter.FormatReportJSON(report)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), js)
				return nil
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), reporter.FormatReportText(report))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		watch bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			// The TUI owns the terminal; keep logs out of it.
			var logOut io.Writer = cmd.ErrOrStderr()
			if watch {
				logOut = io.Discard
			}
			a, err := openApp(cfg, logOut)
			if err != nil {
				return err
			}
			defer a.Close()

			probe := probeForeground(cfg)
			if watch {
				return runHistoryTUI(cmd.Context(), a, probe, limit)
			}

			sessions, err := a.repo.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && limit < len(sessions) {
				sessions = sessions[:limit]
			}
			fg, known := probe(cmd.Context())
			_, _ = fmt.Fprint(cmd.OutOrStdout(), renderHistoryTable(sessions, a.clock.Now(), fg, known))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep the list open and update it live")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show (0 for all)")
	return cmd
}

// foregroundProbe reports the daemon's current foreground app. known is
// false when no serving daemon answered.
type foregroundProbe func(ctx context.Context) (subject models.Subject, known bool)

func probeForeground(cfg *config.Config) foregroundProbe {
	return func(ctx context.Context) (models.Subject, bool) {
		body, err := fetchStatus(ctx, cfg)
		if err != nil {
			return models.NoSubject, false
		}
		fg := gjson.GetBytes(body, "tracker.foreground")
		if !fg.Exists() {
			return models.NoSubject, false
		}
		return models.Subject(fg.String()), true
	}
}

// displayStatus derives a session's status. Without the live foreground
// app an open session is shown as running.
func displayStatus(s *models.Session, foreground models.Subject, known bool) models.SessionStatus {
	if known {
		return s.Status(foreground)
	}
	if s.IsActive() {
		return models.StatusRunning
	}
	return models.StatusFinished
}

func renderHistoryTable(sessions []models.Session, now time.Time, foreground models.Subject, known bool) string {
	if len(sessions) == 0 {
		return "No sessions recorded yet.\n"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Application", "Started", "Ended", "Duration", "Status"})
	for i := range sessions {
		s := &sessions[i]
		ended := "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format("2006-01-02 15:04:05")
		}
		tw.AppendRow(table.Row{
			s.Subject,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			ended,
			utils.FormatDuration(s.Duration(now)),
			string(displayStatus(s, foreground, known)),
		})
	}
	return tw.Render() + "\n"
}
