package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refocus/refocus/internal/config"
	"github.com/refocus/refocus/internal/database"
	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/internal/overlay"
	"github.com/refocus/refocus/internal/targets"
	"github.com/refocus/refocus/internal/tracker"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type fixedStatus tracker.Status

func (f fixedStatus) Status() tracker.Status { return tracker.Status(f) }

type testEnv struct {
	repo    *database.Repository
	targets *targets.FileStore
	handler *Handler
}

func newTestEnv(t *testing.T, status StatusProvider) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := database.Connect(filepath.Join(dir, "refocus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Initialize())

	clock := quartz.NewMock(t)
	clock.Set(now)

	cfg := config.Default()
	cfg.Report.TimeZone = "UTC"

	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	env := &testEnv{
		repo:    database.NewRepository(db),
		targets: targets.NewFileStore(logger, filepath.Join(dir, "targets.yaml")),
	}
	env.handler = NewHandler(logger, cfg, clock, env.repo, env.targets, status)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, fixedStatus{Running: true, Foreground: "firefox"})
	ctx := context.Background()

	_, err := env.repo.StartSession(ctx, "slack", now.Add(-3*time.Hour))
	require.NoError(t, err)
	require.NoError(t, env.repo.EndActiveSession(ctx, "slack", now.Add(-2*time.Hour)))
	_, err = env.repo.StartSession(ctx, "code", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = env.repo.StartSession(ctx, "firefox", now.Add(-90*time.Second))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)

	assert.Equal(t, "firefox", views[0].Subject)
	assert.Equal(t, models.StatusRunning, views[0].Status)
	assert.Equal(t, "1m30s", views[0].Duration)

	assert.Equal(t, "code", views[1].Subject)
	assert.Equal(t, models.StatusGrace, views[1].Status)

	assert.Equal(t, "slack", views[2].Subject)
	assert.Equal(t, models.StatusFinished, views[2].Status)
	assert.Equal(t, int64(3600), views[2].DurationSeconds)

	rec = env.do(t, http.MethodGet, "/api/sessions?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 1)

	rec = env.do(t, http.MethodGet, "/api/sessions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReport(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.repo.StartSession(ctx, "firefox", now.Add(-time.Hour))
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/report?period=day", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, int64(3600), report.TotalSeconds)
	require.Len(t, report.Subjects, 1)
	assert.Equal(t, "firefox", report.Subjects[0].Subject)

	rec = env.do(t, http.MethodGet, "/api/report?period=decade", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/summary?period=day", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "firefox")
	assert.Contains(t, rec.Body.String(), "Total: 60m")
}

func TestTargets(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/targets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"targets":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/targets", `{"targets":["Slack","firefox","slack"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"targets":["firefox","slack"]}`, rec.Body.String())

	set, err := env.targets.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"firefox", "slack"}, set.Sorted())

	rec = env.do(t, http.MethodPut, "/api/targets", `{"targets":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/targets", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatus(t *testing.T) {
	started := now.Add(-2 * time.Minute)
	env := newTestEnv(t, fixedStatus{
		Running:    true,
		Foreground: "firefox",
		Tracking:   "firefox",
		StartedAt:  &started,
		Elapsed:    2 * time.Minute,
	})

	rec := env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Tracker)
	assert.Equal(t, models.Subject("firefox"), resp.Tracker.Tracking)
	assert.Equal(t, "2m00s", resp.Elapsed)
	assert.Equal(t, "30s", resp.GracePeriod)
	assert.Nil(t, resp.Overlay)
}

func TestStatusIncludesOverlay(t *testing.T) {
	env := newTestEnv(t, fixedStatus{Running: true, Foreground: "firefox", Tracking: "firefox"})
	ind := overlay.NewIndicator(slogtest.Make(t, nil))
	env.handler.WithOverlay(ind)

	status := func() *overlayView {
		t.Helper()
		rec := env.do(t, http.MethodGet, "/api/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Overlay)
		return resp.Overlay
	}

	assert.Equal(t, overlayView{}, *status())

	ind.Show("firefox")
	assert.Equal(t, overlayView{Visible: true, Subject: "firefox"}, *status())

	ind.Hide()
	assert.False(t, status().Visible)
}

func TestWatchSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler.Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/sessions/watch", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var views []SessionView
	require.NoError(t, wsjson.Read(ctx, conn, &views))
	assert.Empty(t, views)

	_, err = env.repo.StartSession(ctx, "firefox", now.Add(-time.Minute))
	require.NoError(t, err)

	require.NoError(t, wsjson.Read(ctx, conn, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "firefox", views[0].Subject)
	assert.Equal(t, models.StatusGrace, views[0].Status, "no tracker in this process")

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/sessions/watch")
}
