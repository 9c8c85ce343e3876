package window

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refocus/refocus/internal/models"
)

type MockDetector struct {
	mu         sync.Mutex
	windowInfo *WindowInfo
	windowErr  error
	idleInfo   *IdleInfo
	idleErr    error
	closeError error
}

func (m *MockDetector) GetFocusedWindow() (*WindowInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowInfo, m.windowErr
}

func (m *MockDetector) GetIdleInfo() (*IdleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleInfo, m.idleErr
}

func (m *MockDetector) IsAvailable() bool        { return true }
func (m *MockDetector) GetDisplayServer() string { return "x11" }
func (m *MockDetector) Close() error             { return m.closeError }

func (m *MockDetector) focus(app string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowInfo = &WindowInfo{AppName: app, DisplayServer: "x11"}
	m.windowErr = nil
}

func (m *MockDetector) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowErr = err
}

func (m *MockDetector) idle(info *IdleInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleInfo = info
}

func TestDetectorInterface(t *testing.T) {
	var _ Detector = (*MockDetector)(nil)
	var _ EventSource = (*Recorder)(nil)
}

func TestRecorderRecordsTransitions(t *testing.T) {
	clock := quartz.NewMock(t)
	det := &MockDetector{}
	rec := NewRecorder(det, clock, RecorderOptions{})
	start := clock.Now()

	det.focus("Firefox")
	events, err := rec.QueryEvents(start, clock.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Subject: "firefox", Kind: MoveToForeground, At: start}, events[0])

	// Same window again: nothing new is recorded.
	clock.Advance(time.Second)
	events, err = rec.QueryEvents(start, clock.Now())
	require.NoError(t, err)
	assert.Len(t, events, 1)

	clock.Advance(time.Second)
	switched := clock.Now()
	det.focus("Code")
	events, err = rec.QueryEvents(switched, switched)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, Event{Subject: "firefox", Kind: MoveToBackground, At: switched}, events[0])
	assert.Equal(t, Event{Subject: "code", Kind: MoveToForeground, At: switched}, events[1])
}

func TestRecorderWindowFiltering(t *testing.T) {
	clock := quartz.NewMock(t)
	det := &MockDetector{}
	rec := NewRecorder(det, clock, RecorderOptions{})

	det.focus("firefox")
	_, err := rec.QueryEvents(clock.Now(), clock.Now())
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	events, err := rec.QueryEvents(clock.Now().Add(-2*time.Second), clock.Now())
	require.NoError(t, err)
	assert.Empty(t, events, "transitions older than the window are not returned")
}

func TestRecorderUnidentifiedWindow(t *testing.T) {
	clock := quartz.NewMock(t)
	det := &MockDetector{}
	rec := NewRecorder(det, clock, RecorderOptions{})

	det.focus("firefox")
	_, err := rec.QueryEvents(clock.Now(), clock.Now())
	require.NoError(t, err)

	clock.Advance(time.Second)
	det.focus("")
	events, err := rec.QueryEvents(clock.Now(), clock.Now())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, MoveToForeground, events[1].Kind)
	assert.Equal(t, models.NoSubject, events[1].Subject)
}

func TestRecorderInactive(t *testing.T) {
	tests := []struct {
		name      string
		idle      *IdleInfo
		threshold time.Duration
		want      TransitionKind
	}{
		{"locked", &IdleInfo{IsLocked: true}, 0, DeviceInactive},
		{"idle past threshold", &IdleInfo{IdleTime: 301}, 5 * time.Minute, DeviceInactive},
		{"idle at threshold", &IdleInfo{IdleTime: 300}, 5 * time.Minute, DeviceInactive},
		{"idle below threshold", &IdleInfo{IdleTime: 299}, 5 * time.Minute, MoveToForeground},
		{"idle detection disabled", &IdleInfo{IdleTime: 3600}, 0, MoveToForeground},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := quartz.NewMock(t)
			det := &MockDetector{}
			det.focus("firefox")
			det.idle(tt.idle)
			rec := NewRecorder(det, clock, RecorderOptions{IdleThreshold: tt.threshold})

			events, err := rec.QueryEvents(clock.Now(), clock.Now())
			require.NoError(t, err)
			require.NotEmpty(t, events)
			assert.Equal(t, tt.want, events[len(events)-1].Kind)
		})
	}
}

func TestRecorderIdleErrorIsIgnored(t *testing.T) {
	clock := quartz.NewMock(t)
	det := &MockDetector{idleErr: errors.New("no screensaver extension")}
	det.focus("firefox")
	rec := NewRecorder(det, clock, RecorderOptions{IdleThreshold: time.Minute})

	events, err := rec.QueryEvents(clock.Now(), clock.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.Subject("firefox"), events[0].Subject)
}

func TestRecorderErrors(t *testing.T) {
	clock := quartz.NewMock(t)
	det := &MockDetector{}
	rec := NewRecorder(det, clock, RecorderOptions{})

	det.fail(ErrPermissionDenied)
	_, err := rec.QueryEvents(clock.Now(), clock.Now())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	det.fail(errors.New("xdotool crashed"))
	_, err = rec.QueryEvents(clock.Now(), clock.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRecorderHistoryIsBounded(t *testing.T) {
	clock := quartz.NewMock(t)
	det := &MockDetector{}
	rec := NewRecorder(det, clock, RecorderOptions{HistorySize: 4})
	start := clock.Now()

	for _, app := range []string{"a", "b", "c", "d", "e"} {
		det.focus(app)
		_, err := rec.QueryEvents(start, clock.Now())
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	events, err := rec.QueryEvents(start, clock.Now())
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, models.Subject("e"), events[3].Subject)
}

func TestTransitionKindString(t *testing.T) {
	assert.Equal(t, "foreground", MoveToForeground.String())
	assert.Equal(t, "background", MoveToBackground.String())
	assert.Equal(t, "inactive", DeviceInactive.String())
	assert.Equal(t, "unknown", TransitionKind(0).String())
}

func TestRecorderStampsSampleWithinQueryWindow(t *testing.T) {
	clock := quartz.NewMock(t)
	det := &MockDetector{}
	rec := NewRecorder(det, clock, RecorderOptions{})

	end := clock.Now()
	clock.Advance(200 * time.Millisecond)
	det.focus("firefox")

	events, err := rec.QueryEvents(end.Add(-time.Second), end)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Subject: "firefox", Kind: MoveToForeground, At: end}, events[0])
}
