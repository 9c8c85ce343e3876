package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/refocus/refocus/internal/config"
	"github.com/refocus/refocus/internal/database"
	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/internal/reporter"
	"github.com/refocus/refocus/internal/tracker"
	"github.com/refocus/refocus/pkg/utils"
)

// SessionSource is the read side of the session store.
type SessionSource interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	GetSessionsSince(ctx context.Context, since time.Time) ([]models.Session, error)
	ObserveAll(ctx context.Context, clock quartz.Clock, refresh time.Duration) <-chan []models.Session
}

type TargetStore interface {
	Load() (models.TargetSet, error)
	Save(models.TargetSet) error
}

// StatusProvider reports live tracker state. Optional.
type StatusProvider interface {
	Status() tracker.Status
}

// OverlayState reports whether the usage indicator is up. Optional.
type OverlayState interface {
	Visible() (bool, models.Subject)
}

type Handler struct {
	logger   slog.Logger
	config   *config.Config
	clock    quartz.Clock
	sessions SessionSource
	targets  TargetStore
	status   StatusProvider
	overlay  OverlayState
	reporter *reporter.Reporter
}

func NewHandler(logger slog.Logger, cfg *config.Config, clock quartz.Clock, sessions SessionSource, targets TargetStore, status StatusProvider) *Handler {
	return &Handler{
		logger:   logger,
		config:   cfg,
		clock:    clock,
		sessions: sessions,
		targets:  targets,
		status:   status,
		reporter: reporter.New(sessions, clock, cfg.Location()),
	}
}

// WithOverlay adds the indicator state to /api/status.
func (h *Handler) WithOverlay(o OverlayState) *Handler {
	h.overlay = o
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(corsHeaders)
		r.Get("/status", h.handleStatus)
		r.Get("/sessions", h.handleSessions)
		r.Get("/sessions/watch", h.handleWatchSessions)
		r.Get("/report", h.handleReport)
		r.Get("/summary", h.handleSummary)
		r.Get("/targets", h.handleGetTargets)
		r.Put("/targets", h.handlePutTargets)
	})
	r.Get("/", h.handleIndex)
	return r
}

// SessionView is a session as presented to clients.
type SessionView struct {
	models.Session
	Status          models.SessionStatus `json:"status"`
	DurationSeconds int64                `json:"duration_seconds"`
	Duration        string               `json:"duration"`
}

func (h *Handler) views(sessions []models.Session) []SessionView {
	foreground := models.NoSubject
	if h.status != nil {
		foreground = h.status.Status().Foreground
	}
	now := h.clock.Now("web", "views")

	out := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		d := sessions[i].Duration(now)
		out = append(out, SessionView{
			Session:         sessions[i],
			Status:          sessions[i].Status(foreground),
			DurationSeconds: int64(d / time.Second),
			Duration:        utils.FormatDuration(d),
		})
	}
	return out
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   h.clock.Now("web", "health").Format(time.RFC3339),
	})
}

type overlayView struct {
	Visible bool           `json:"visible"`
	Subject models.Subject `json:"subject,omitempty"`
}

type statusResponse struct {
	Tracker      *tracker.Status `json:"tracker,omitempty"`
	Overlay      *overlayView    `json:"overlay,omitempty"`
	Elapsed      string          `json:"elapsed,omitempty"`
	PollInterval string          `json:"poll_interval"`
	GracePeriod  string          `json:"grace_period"`
	DatabasePath string          `json:"database_path"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		PollInterval: h.config.Tracker.PollInterval.String(),
		GracePeriod:  h.config.Tracker.GracePeriod.String(),
		DatabasePath: h.config.Database.Path,
	}
	if h.status != nil {
		st := h.status.Status()
		resp.Tracker = &st
		if st.StartedAt != nil {
			resp.Elapsed = utils.FormatDuration(st.Elapsed)
		}
	}
	if h.overlay != nil {
		visible, subject := h.overlay.Visible()
		resp.Overlay = &overlayView{Visible: visible, Subject: subject}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		if limit < len(sessions) {
			sessions = sessions[:limit]
		}
	}

	respondJSON(w, http.StatusOK, h.views(sessions))
}

// handleWatchSessions streams a fresh session list over a websocket every
// time the stored sessions change.
func (h *Handler) handleWatchSessions(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "failed to accept websocket", slog.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	for snapshot := range h.sessions.ObserveAll(ctx, h.clock, database.DefaultRefreshInterval) {
		if err := wsjson.Write(ctx, conn, h.views(snapshot)); err != nil {
			h.logger.Debug(ctx, "session watcher went away", slog.Error(err))
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}
	if _, err := reporter.GetPeriod(periodType, h.clock.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.reporter.GenerateReport(r.Context(), periodType)
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, "failed to generate report", err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// handleSummary renders the report as an HTML fragment for the dashboard.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	periodType := r.URL.Query().Get("period")
	if periodType == "" {
		periodType = "day"
	}
	report, err := h.reporter.GenerateReport(r.Context(), periodType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if len(report.Subjects) == 0 {
		_, _ = w.Write([]byte(`<div class="empty">No sessions yet</div>`))
		return
	}

	out := `<div class="listing">`
	for _, s := range report.Subjects {
		out += fmt.Sprintf(`
		<div class="row" style="--bar-width: %.1f%%">
			<span class="name">%s</span>
			<span class="time">%s</span>
		</div>`, s.Percentage, html.EscapeString(s.Subject), utils.FormatRoundedUnit(s.TotalSeconds))
	}
	out += fmt.Sprintf(`</div><div class="total">Total: %s</div>`, utils.FormatRoundedUnit(report.TotalSeconds))
	_, _ = w.Write([]byte(out))
}

type targetsBody struct {
	Targets []string `json:"targets"`
}

func (h *Handler) handleGetTargets(w http.ResponseWriter, r *http.Request) {
	set, err := h.targets.Load()
	if err != nil {
		h.fail(w, r, http.StatusInternalServerError, "failed to load targets", err)
		return
	}
	respondJSON(w, http.StatusOK, targetsBody{Targets: set.Sorted()})
}

func (h *Handler) handlePutTargets(w http.ResponseWriter, r *http.Request) {
	var body targetsBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	set := models.NewTargetSet(body.Targets...)
	if err := h.targets.Save(set); err != nil {
		h.fail(w, r, http.StatusInternalServerError, "failed to save targets", err)
		return
	}
	h.logger.Info(r.Context(), "targets replaced", slog.F("targets", set.Sorted()))
	respondJSON(w, http.StatusOK, targetsBody{Targets: set.Sorted()})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, code int, msg string, err error) {
	h.logger.Error(r.Context(), msg, slog.F("path", r.URL.Path), slog.Error(err))
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), code)
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
