// Package tracker turns foreground-application changes into usage sessions
// for a user-chosen set of target applications.
//
// The foreground stream and the target-set stream are combined, reduced to
// Start/Stop/NoChange decisions, and debounced by a grace period before a
// session is ended. All mutable state sits behind one mutex so the grace
// timer callback and the input loop see a consistent view.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/internal/overlay"
)

const DefaultGracePeriod = 30 * time.Second

type Options struct {
	// GracePeriod is how long a target may stay out of the foreground before
	// its session ends. Zero ends sessions as soon as the timer runs.
	GracePeriod time.Duration
	// Errors receives storage failures. Optional.
	Errors ErrorRecorder
}

// pendingEnd is the single outstanding grace period. A newer one replaces
// it and the replaced subject's session is left open.
type pendingEnd struct {
	subject    models.Subject
	leftAt     time.Time
	generation uint64
	timer      *quartz.Timer
}

type state struct {
	foreground models.Subject
	tracking   models.Subject
	pending    *pendingEnd
	generation uint64
	// open holds the start time of every session this tracker opened and
	// has not ended yet.
	open    map[models.Subject]time.Time
	shown   bool
	running bool
	stopped bool
}

type Tracker struct {
	logger  slog.Logger
	clock   quartz.Clock
	store   SessionStore
	overlay overlay.Sink
	grace   time.Duration
	errors  ErrorRecorder

	mu      sync.Mutex
	state   state
	persist *persister
}

func New(logger slog.Logger, clock quartz.Clock, store SessionStore, sink overlay.Sink, opts Options) *Tracker {
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	return &Tracker{
		logger:  logger,
		clock:   clock,
		store:   store,
		overlay: sink,
		grace:   opts.GracePeriod,
		errors:  opts.Errors,
		state:   state{open: make(map[models.Subject]time.Time)},
	}
}

// Run consumes both streams until ctx is done. On return the overlay is
// hidden, any pending grace period is cancelled and every queued session
// write has been applied. Sessions that are still open stay open.
func (t *Tracker) Run(ctx context.Context, foreground <-chan ForegroundSample, targets <-chan models.TargetSet) error {
	t.mu.Lock()
	if t.state.running {
		t.mu.Unlock()
		return fmt.Errorf("tracker is already running")
	}
	t.state.running = true
	t.state.stopped = false
	t.persist = newPersister(t.logger, t.clock, t.store, t.errors)
	t.mu.Unlock()

	go t.persist.run(context.WithoutCancel(ctx))
	defer t.shutdown(ctx)

	t.logger.Info(ctx, "tracker started", slog.F("grace_period", t.grace))

	var l latest
	for {
		select {
		case <-ctx.Done():
			t.logger.Info(ctx, "tracker stopped by context")
			return ctx.Err()

		case sample, ok := <-foreground:
			if !ok {
				foreground = nil
				continue
			}
			if j, ok := l.setForeground(sample); ok {
				t.handle(ctx, j)
			}

		case set, ok := <-targets:
			if !ok {
				targets = nil
				continue
			}
			if j, ok := l.setTargets(set, t.clock.Now("tracker", "targets")); ok {
				t.handle(ctx, j)
			}
		}
	}
}

// handle never lets a failure escape into the input loop. A panic hides the
// overlay and the loop keeps going.
func (t *Tracker) handle(ctx context.Context, j joint) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error(ctx, "tracker step panicked", slog.F("panic", fmt.Sprint(r)))
			t.setShown(false)
			t.overlay.Hide()
		}
	}()

	d := t.apply(ctx, j)
	switch d.Action {
	case Start:
		t.overlay.Show(d.Subject)
	case Stop:
		t.overlay.Hide()
	}
}

func (t *Tracker) apply(ctx context.Context, j joint) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := reduce(&t.state.foreground, j.subject, j.targets)
	switch d.Action {
	case Start:
		t.state.tracking = d.Subject
		t.state.shown = true
		if p := t.state.pending; p != nil && p.subject == d.Subject {
			t.cancelGraceLocked()
			t.logger.Info(ctx, "target back within grace period", slog.F("subject", d.Subject.String()))
			break
		}
		if _, ok := t.state.open[d.Subject]; !ok {
			t.state.open[d.Subject] = j.at
		}
		t.persist.enqueue(persistOp{kind: opStart, subject: d.Subject, at: j.at})

	case Stop:
		t.state.tracking = models.NoSubject
		t.state.shown = false
		t.startGraceLocked(ctx, d.Subject, j.at)
	}
	return d
}

func (t *Tracker) startGraceLocked(ctx context.Context, subject models.Subject, leftAt time.Time) {
	if p := t.state.pending; p != nil {
		p.timer.Stop("tracker", "grace")
		t.logger.Debug(ctx, "grace period superseded, earlier session stays open",
			slog.F("subject", p.subject.String()))
	}
	t.state.generation++
	gen := t.state.generation
	p := &pendingEnd{subject: subject, leftAt: leftAt, generation: gen}
	p.timer = t.clock.AfterFunc(t.grace, func() { t.expireGrace(gen) }, "tracker", "grace")
	t.state.pending = p
	t.logger.Debug(ctx, "grace period started", slog.F("subject", subject.String()))
}

func (t *Tracker) cancelGraceLocked() {
	if t.state.pending == nil {
		return
	}
	t.state.pending.timer.Stop("tracker", "grace")
	t.state.pending = nil
	// A callback that already started must see a stale generation.
	t.state.generation++
}

func (t *Tracker) expireGrace(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.state.pending
	if t.state.stopped || p == nil || p.generation != gen {
		return
	}
	t.state.pending = nil
	delete(t.state.open, p.subject)
	t.logger.Debug(context.Background(), "grace period elapsed", slog.F("subject", p.subject.String()))
	t.persist.enqueue(persistOp{kind: opEnd, subject: p.subject, at: p.leftAt})
}

func (t *Tracker) setShown(shown bool) {
	t.mu.Lock()
	t.state.shown = shown
	if !shown {
		t.state.tracking = models.NoSubject
	}
	t.mu.Unlock()
}

func (t *Tracker) shutdown(ctx context.Context) {
	t.mu.Lock()
	t.state.stopped = true
	t.cancelGraceLocked()
	shown := t.state.shown
	t.state.shown = false
	t.state.tracking = models.NoSubject
	persist := t.persist
	t.mu.Unlock()

	if shown {
		t.overlay.Hide()
	}
	persist.close()

	t.mu.Lock()
	t.state.running = false
	t.mu.Unlock()
	t.logger.Info(context.WithoutCancel(ctx), "tracker shut down")
}

// PendingEnd describes a grace period that has not run out yet.
type PendingEnd struct {
	Subject   models.Subject `json:"subject"`
	LeftAt    time.Time      `json:"left_at"`
	Remaining time.Duration  `json:"remaining"`
}

// Status is a point-in-time snapshot of the tracker.
type Status struct {
	Running    bool           `json:"running"`
	Foreground models.Subject `json:"foreground"`
	// Tracking is the target currently in the foreground, if any.
	Tracking  models.Subject `json:"tracking"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Elapsed   time.Duration  `json:"elapsed"`
	Pending   *PendingEnd    `json:"pending,omitempty"`
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now("tracker", "status")
	st := Status{
		Running:    t.state.running,
		Foreground: t.state.foreground,
		Tracking:   t.state.tracking,
	}
	if !st.Tracking.IsNone() {
		if started, ok := t.state.open[st.Tracking]; ok {
			st.StartedAt = &started
			st.Elapsed = now.Sub(started)
		}
	}
	if p := t.state.pending; p != nil {
		remaining := t.grace - now.Sub(p.leftAt)
		if remaining < 0 {
			remaining = 0
		}
		st.Pending = &PendingEnd{Subject: p.subject, LeftAt: p.leftAt, Remaining: remaining}
	}
	return st
}
