package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refocus/refocus/internal/models"
)

var fixedTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type storeCall struct {
	op      string
	subject models.Subject
	at      time.Time
}

func (c storeCall) String() string {
	return fmt.Sprintf("%s %s @%s", c.op, c.subject, c.at.Sub(fixedTime))
}

type fakeStore struct {
	mu       sync.Mutex
	open     map[models.Subject]*models.Session
	calls    []storeCall
	nextID   uint
	startErr error
	applied  chan storeCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		open:    make(map[models.Subject]*models.Session),
		applied: make(chan storeCall, 64),
	}
}

func (f *fakeStore) StartSession(_ context.Context, subject models.Subject, startedAt time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := storeCall{op: "start", subject: subject, at: startedAt}
	f.calls = append(f.calls, call)
	defer func() { f.applied <- call }()

	if f.startErr != nil {
		err := f.startErr
		f.startErr = nil
		return nil, err
	}
	if s, ok := f.open[subject]; ok {
		return s, nil
	}
	f.nextID++
	s := &models.Session{ID: f.nextID, Subject: string(subject), StartedAt: startedAt}
	f.open[subject] = s
	return s, nil
}

func (f *fakeStore) EndActiveSession(_ context.Context, subject models.Subject, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := storeCall{op: "end", subject: subject, at: endedAt}
	f.calls = append(f.calls, call)
	delete(f.open, subject)
	f.applied <- call
	return nil
}

func (f *fakeStore) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

func (f *fakeStore) isOpen(subject models.Subject) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.open[subject]
	return ok
}

type fakeSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSink) Show(subject models.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "show "+string(subject))
}

func (s *fakeSink) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "hide")
}

func (s *fakeSink) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	clock   *quartz.Mock
	store   *fakeStore
	sink    *fakeSink
	errs    *fakeRecorder
	tracker *Tracker

	fg      chan ForegroundSample
	targets chan models.TargetSet
	last    models.TargetSet
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	clock := quartz.NewMock(t)
	clock.Set(fixedTime)

	h := &harness{
		t:       t,
		ctx:     ctx,
		clock:   clock,
		store:   newFakeStore(),
		sink:    &fakeSink{},
		errs:    &fakeRecorder{},
		fg:      make(chan ForegroundSample),
		targets: make(chan models.TargetSet),
		done:    make(chan error, 1),
	}
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
	h.tracker = New(logger, clock, h.store, h.sink, Options{GracePeriod: DefaultGracePeriod, Errors: h.errs})

	runCtx, stop := context.WithCancel(ctx)
	h.cancel = stop
	go func() { h.done <- h.tracker.Run(runCtx, h.fg, h.targets) }()
	t.Cleanup(func() { _ = h.stop() })
	return h
}

func (h *harness) foreground(subject models.Subject) {
	h.t.Helper()
	select {
	case h.fg <- ForegroundSample{Subject: subject, ObservedAt: h.clock.Now()}:
	case <-h.ctx.Done():
		h.t.Fatal("timed out sending foreground sample")
	}
}

func (h *harness) setTargets(subjects ...string) {
	h.t.Helper()
	h.last = models.NewTargetSet(subjects...)
	select {
	case h.targets <- h.last:
	case <-h.ctx.Done():
		h.t.Fatal("timed out sending target set")
	}
}

// sync returns once every input sent so far has been handled. Re-sending
// the current target set never changes anything.
func (h *harness) sync() {
	h.t.Helper()
	select {
	case h.targets <- h.last:
	case <-h.ctx.Done():
		h.t.Fatal("timed out syncing with tracker")
	}
}

// leave sends a foreground change that is expected to start a grace period
// and waits for its timer to be armed.
func (h *harness) leave(subject models.Subject) {
	h.t.Helper()
	trap := h.clock.Trap().AfterFunc("tracker", "grace")
	defer trap.Close()
	h.foreground(subject)
	trap.MustWait(h.ctx).MustRelease(h.ctx)
	h.sync()
}

func (h *harness) applied() storeCall {
	h.t.Helper()
	select {
	case c := <-h.store.applied:
		return c
	case <-h.ctx.Done():
		h.t.Fatal("timed out waiting for a session write")
		return storeCall{}
	}
}

func (h *harness) stop() error {
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(5 * time.Second):
		h.t.Error("tracker did not stop")
		return nil
	}
}

func TestTargetInForegroundStartsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")

	c := h.applied()
	assert.Equal(t, storeCall{op: "start", subject: "firefox", at: fixedTime}, c)

	h.sync()
	assert.Equal(t, []string{"show firefox"}, h.sink.history())
}

func TestNothingHappensBeforeBothInputs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.foreground("code")
	h.foreground("firefox")
	h.setTargets("firefox")

	assert.Equal(t, "start firefox @0s", h.applied().String())
	h.sync()
	assert.Equal(t, []string{"show firefox"}, h.sink.history())
}

func TestSessionEndsAtLeaveTimeAfterGrace(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")
	h.applied()

	h.clock.Advance(5 * time.Second).MustWait(h.ctx)
	h.leave("code")
	assert.Equal(t, []string{"show firefox", "hide"}, h.sink.history())

	h.clock.Advance(29 * time.Second).MustWait(h.ctx)
	assert.True(t, h.store.isOpen("firefox"), "session stays open during the grace period")

	h.clock.Advance(time.Second).MustWait(h.ctx)
	assert.Equal(t, "end firefox @5s", h.applied().String())
}

func TestReturnWithinGraceContinuesSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")
	h.applied()

	h.leave("code")
	h.clock.Advance(10 * time.Second).MustWait(h.ctx)
	h.foreground("firefox")
	h.sync()

	// The cancelled timer must not fire.
	h.clock.Advance(time.Minute).MustWait(h.ctx)
	h.sync()
	assert.Equal(t, []string{"show firefox", "hide", "show firefox"}, h.sink.history())

	require.NoError(t, ignoreCanceled(h.stop()))
	assert.Equal(t, []string{"start firefox @0s"}, h.store.history())
	assert.Equal(t, []string{"show firefox", "hide", "show firefox", "hide"}, h.sink.history(),
		"shutdown hides the visible overlay")
	assert.True(t, h.store.isOpen("firefox"))
}

func TestGraceTimerFiringDuringReturnIsStale(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")
	h.applied()
	h.leave("code")

	stopTrap := h.clock.Trap().TimerStop("tracker", "grace")
	defer stopTrap.Close()

	go func() {
		select {
		case h.fg <- ForegroundSample{Subject: "firefox", ObservedAt: h.clock.Now()}:
		case <-h.ctx.Done():
		}
	}()
	// The return is being applied and holds the tracker lock while it
	// cancels the timer.
	stop := stopTrap.MustWait(h.ctx)

	// The timer fires anyway; its callback waits for the lock.
	fired := h.clock.Advance(DefaultGracePeriod)
	stop.MustRelease(h.ctx)
	fired.MustWait(h.ctx)
	h.sync()

	assert.Nil(t, h.tracker.Status().Pending)
	require.NoError(t, ignoreCanceled(h.stop()))
	assert.Equal(t, []string{"start firefox @0s"}, h.store.history(), "the stale callback ends nothing")
	assert.True(t, h.store.isOpen("firefox"))
}

func TestReturningToNoneDuringGraceStillEnds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")
	h.applied()

	h.leave(models.NoSubject)
	h.foreground("code")
	h.foreground(models.NoSubject)
	h.sync()

	h.clock.Advance(DefaultGracePeriod).MustWait(h.ctx)
	assert.Equal(t, "end firefox @0s", h.applied().String())
}

func TestNewerGraceSupersedesOlder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox", "slack")
	h.foreground("firefox")
	h.applied()

	h.clock.Advance(time.Second).MustWait(h.ctx)
	h.leave("code")

	h.clock.Advance(time.Second).MustWait(h.ctx)
	h.foreground("slack")
	assert.Equal(t, "start slack @2s", h.applied().String())

	h.clock.Advance(time.Second).MustWait(h.ctx)
	h.leave("code")

	// Only the newest timer is still armed.
	h.clock.Advance(DefaultGracePeriod).MustWait(h.ctx)
	assert.Equal(t, "end slack @3s", h.applied().String())

	require.NoError(t, ignoreCanceled(h.stop()))
	assert.True(t, h.store.isOpen("firefox"), "superseded session is left open")
}

func TestDirectSwitchBetweenTargetsIsNoChange(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox", "slack")
	h.foreground("firefox")
	h.applied()
	h.foreground("slack")
	h.sync()

	require.NoError(t, ignoreCanceled(h.stop()))
	assert.Equal(t, []string{"start firefox @0s"}, h.store.history())
	assert.Equal(t, []string{"show firefox", "hide"}, h.sink.history(), "only shutdown hides the overlay")
}

func TestTargetSetChangesAreEdgeTriggered(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")
	assert.Equal(t, "start firefox @0s", h.applied().String())

	// Removing and re-adding the subject while it stays in front does not
	// re-trigger anything.
	h.setTargets()
	h.setTargets("firefox")
	h.sync()
	assert.Equal(t, []string{"show firefox"}, h.sink.history())
	assert.Equal(t, []string{"start firefox @0s"}, h.store.history())
}

func TestAddingForegroundAppToTargetsWaitsForNextEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets()
	h.foreground("firefox")
	h.setTargets("firefox")
	h.sync()
	assert.Empty(t, h.sink.history())
	assert.Empty(t, h.store.history())

	// Leaving counts as a Stop even though nothing was started. The end
	// write is a no-op for the store.
	h.leave("code")
	h.clock.Advance(DefaultGracePeriod).MustWait(h.ctx)
	assert.Equal(t, "end firefox @0s", h.applied().String())

	h.foreground("firefox")
	assert.Equal(t, "start firefox @30s", h.applied().String())
}

func TestRepeatedForegroundIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")
	h.foreground("firefox")
	h.foreground("firefox")
	h.sync()

	require.NoError(t, ignoreCanceled(h.stop()))
	assert.Equal(t, []string{"start firefox @0s"}, h.store.history())
}

func TestShutdownHidesOverlayAndCancelsGrace(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox", "slack")
	h.foreground("firefox")
	h.applied()
	h.leave("code")
	h.foreground("slack")
	h.applied()

	err := h.stop()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"show firefox", "hide", "show slack", "hide"}, h.sink.history())

	st := h.tracker.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.Pending)
	assert.True(t, h.store.isOpen("firefox"), "shutdown never ends sessions")
	assert.True(t, h.store.isOpen("slack"))
}

func TestStoreFailureDoesNotStopTracking(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.startErr = errors.New("database is locked")

	h.setTargets("firefox")
	h.foreground("firefox")
	assert.Equal(t, "start firefox @0s", h.applied().String())

	h.leave("code")
	h.clock.Advance(DefaultGracePeriod).MustWait(h.ctx)
	assert.Equal(t, "end firefox @0s", h.applied().String())

	h.foreground("firefox")
	assert.Equal(t, "start firefox @30s", h.applied().String())

	require.NoError(t, ignoreCanceled(h.stop()))
	assert.True(t, h.store.isOpen("firefox"))
	assert.Equal(t, []string{"tracker: database is locked"}, h.errs.recorded())
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.setTargets("firefox")
	h.foreground("firefox")
	h.applied()

	h.clock.Advance(7 * time.Second).MustWait(h.ctx)
	st := h.tracker.Status()
	assert.True(t, st.Running)
	assert.Equal(t, models.Subject("firefox"), st.Foreground)
	assert.Equal(t, models.Subject("firefox"), st.Tracking)
	require.NotNil(t, st.StartedAt)
	assert.Equal(t, fixedTime, *st.StartedAt)
	assert.Equal(t, 7*time.Second, st.Elapsed)
	assert.Nil(t, st.Pending)

	h.leave("code")
	h.clock.Advance(10 * time.Second).MustWait(h.ctx)
	st = h.tracker.Status()
	assert.Equal(t, models.Subject("code"), st.Foreground)
	assert.True(t, st.Tracking.IsNone())
	require.NotNil(t, st.Pending)
	assert.Equal(t, models.Subject("firefox"), st.Pending.Subject)
	assert.Equal(t, fixedTime.Add(7*time.Second), st.Pending.LeftAt)
	assert.Equal(t, 20*time.Second, st.Pending.Remaining)
}

func TestRunTwiceFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.setTargets()

	err := h.tracker.Run(h.ctx, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestPersisterKeepsOrder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p := newPersister(slogtest.Make(t, nil), quartz.NewMock(t), store, nil)
	go p.run(context.Background())

	for i := range 10 {
		at := fixedTime.Add(time.Duration(i) * time.Second)
		p.enqueue(persistOp{kind: opStart, subject: "firefox", at: at})
		p.enqueue(persistOp{kind: opEnd, subject: "firefox", at: at})
	}
	p.close()
	p.enqueue(persistOp{kind: opStart, subject: "late", at: fixedTime})

	history := store.history()
	require.Len(t, history, 20)
	for i := 0; i < 20; i += 2 {
		at := time.Duration(i/2) * time.Second
		assert.Equal(t, fmt.Sprintf("start firefox @%s", at), history[i])
		assert.Equal(t, fmt.Sprintf("end firefox @%s", at), history[i+1])
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
