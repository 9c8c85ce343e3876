package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/pkg/utils"
)

// SessionSource lists sessions that were still running at or after since.
type SessionSource interface {
	GetSessionsSince(ctx context.Context, since time.Time) ([]models.Session, error)
}

// Reporter handles report generation
type Reporter struct {
	sessions SessionSource
	clock    quartz.Clock
	loc      *time.Location
}

// New creates a new reporter. Periods are computed in loc.
func New(sessions SessionSource, clock quartz.Clock, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.Local
	}
	return &Reporter{
		sessions: sessions,
		clock:    clock,
		loc:      loc,
	}
}

// GenerateReport generates a report for the specified period
func (r *Reporter) GenerateReport(ctx context.Context, periodType string) (*models.Report, error) {
	now := r.clock.Now("reporter", "report").In(r.loc)
	period, err := GetPeriod(periodType, now)
	if err != nil {
		return nil, err
	}

	sessions, err := r.sessions.GetSessionsSince(ctx, period.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	summaries := Summarize(sessions, *period, now)

	var totalSeconds int64
	for _, s := range summaries {
		totalSeconds += s.TotalSeconds
	}

	// Calculate percentages
	if totalSeconds > 0 {
		for i := range summaries {
			summaries[i].Percentage = (float64(summaries[i].TotalSeconds) / float64(totalSeconds)) * 100.0
		}
	}

	return &models.Report{
		Period:       *period,
		Subjects:     summaries,
		TotalSeconds: totalSeconds,
		TotalMinutes: float64(totalSeconds) / 60.0,
		TotalHours:   float64(totalSeconds) / 3600.0,
		GeneratedAt:  now,
	}, nil
}

// Summarize totals session time per subject. Sessions are clipped to the
// period and open sessions count up to now. The result is ordered by total
// time, longest first.
func Summarize(sessions []models.Session, period models.ReportPeriod, now time.Time) []models.SubjectSummary {
	bySubject := make(map[string]*models.SubjectSummary)
	for i := range sessions {
		s := &sessions[i]

		start := s.StartedAt
		if start.Before(period.Start) {
			start = period.Start
		}
		end := now
		if s.EndedAt != nil {
			end = *s.EndedAt
		}
		if end.After(period.End) {
			end = period.End
		}
		if !end.After(start) {
			continue
		}

		sum, ok := bySubject[s.Subject]
		if !ok {
			sum = &models.SubjectSummary{Subject: s.Subject}
			bySubject[s.Subject] = sum
		}
		sum.TotalSeconds += int64(end.Sub(start) / time.Second)
		sum.SessionCount++
	}

	out := make([]models.SubjectSummary, 0, len(bySubject))
	for _, sum := range bySubject {
		sum.TotalMinutes = float64(sum.TotalSeconds) / 60.0
		sum.TotalHours = float64(sum.TotalSeconds) / 3600.0
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSeconds != out[j].TotalSeconds {
			return out[i].TotalSeconds > out[j].TotalSeconds
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// GetPeriod calculates the time range for the report
func GetPeriod(periodType string, now time.Time) (*models.ReportPeriod, error) {
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 0, 1)

	case "week":
		// Start of week (Monday)
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, fmt.Errorf("invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as a human-readable table
func FormatReportText(report *models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage Report - %s\n", report.Period.Type)
	fmt.Fprintf(&b, "Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Total Time: %s\n\n", utils.FormatDuration(time.Duration(report.TotalSeconds)*time.Second))

	if len(report.Subjects) == 0 {
		b.WriteString("No sessions recorded for this period.\n")
		return b.String()
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Application", "Time", "Sessions", "Percent"})
	for _, s := range report.Subjects {
		tw.AppendRow(table.Row{
			truncate(s.Subject, 30),
			utils.FormatDuration(time.Duration(s.TotalSeconds) * time.Second),
			s.SessionCount,
			fmt.Sprintf("%.1f%%", s.Percentage),
		})
	}
	b.WriteString(tw.Render())
	b.WriteString("\n")
	return b.String()
}

// FormatReportJSON formats the report as JSON
func FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
