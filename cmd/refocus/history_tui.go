package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/refocus/refocus/internal/database"
	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/pkg/utils"
)

const historyTick = time.Second

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("8"))
	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	graceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	finishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
)

type sessionsMsg []models.Session

type sessionsClosedMsg struct{}

type tickMsg struct {
	now        time.Time
	foreground models.Subject
	known      bool
}

// historyModel renders the session list and keeps it current from a
// session stream.
type historyModel struct {
	updates <-chan []models.Session
	probe   foregroundProbe
	now     func() time.Time
	limit   int

	sessions   []models.Session
	at         time.Time
	foreground models.Subject
	known      bool
	loaded     bool
	closed     bool
}

func newHistoryModel(updates <-chan []models.Session, probe foregroundProbe, now func() time.Time, limit int) historyModel {
	return historyModel{
		updates: updates,
		probe:   probe,
		now:     now,
		limit:   limit,
		at:      now(),
	}
}

func (m historyModel) Init() tea.Cmd {
	return tea.Batch(m.waitForSessions(), m.tick())
}

func (m historyModel) waitForSessions() tea.Cmd {
	return func() tea.Msg {
		sessions, ok := <-m.updates
		if !ok {
			return sessionsClosedMsg{}
		}
		return sessionsMsg(sessions)
	}
}

func (m historyModel) tick() tea.Cmd {
	return tea.Tick(historyTick, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), historyTick/2)
		defer cancel()
		fg, known := m.probe(ctx)
		return tickMsg{now: m.now(), foreground: fg, known: known}
	})
}

func (m historyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case sessionsMsg:
		m.sessions = msg
		if m.limit > 0 && len(m.sessions) > m.limit {
			m.sessions = m.sessions[:m.limit]
		}
		m.loaded = true
		m.at = m.now()
		return m, m.waitForSessions()
	case sessionsClosedMsg:
		m.closed = true
		return m, nil
	case tickMsg:
		m.at = msg.now
		m.foreground = msg.foreground
		m.known = msg.known
		return m, m.tick()
	}
	return m, nil
}

func (m historyModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("refocus sessions"))
	b.WriteString("\n\n")

	switch {
	case !m.loaded:
		b.WriteString("Loading...\n")
	case len(m.sessions) == 0:
		b.WriteString("No sessions recorded yet.\n")
	default:
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-19s %-10s %s", "APPLICATION", "STARTED", "DURATION", "STATUS")))
		b.WriteString("\n")
		for i := range m.sessions {
			s := &m.sessions[i]
			status := displayStatus(s, m.foreground, m.known)
			fmt.Fprintf(&b, "%-24s %-19s %-10s %s\n",
				truncate(s.Subject, 24),
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
				utils.FormatDuration(s.Duration(m.at)),
				statusStyle(status).Render(string(status)),
			)
		}
	}

	b.WriteString("\n")
	if m.closed {
		b.WriteString(helpStyle.Render("updates stopped"))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func statusStyle(status models.SessionStatus) lipgloss.Style {
	switch status {
	case models.StatusRunning:
		return runningStyle
	case models.StatusGrace:
		return graceStyle
	default:
		return finishedStyle
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runHistoryTUI(ctx context.Context, a *app, probe foregroundProbe, limit int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := a.repo.ObserveAll(ctx, a.clock, database.DefaultRefreshInterval)
	model := newHistoryModel(updates, probe, func() time.Time { return a.clock.Now() }, limit)
	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
