package tracker

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/refocus/refocus/internal/models"
)

type opKind int

const (
	opStart opKind = iota
	opEnd
)

type persistOp struct {
	kind    opKind
	subject models.Subject
	at      time.Time
}

// persister applies session writes one at a time in submission order. The
// caller never waits for a write; failures are logged, recorded and dropped.
type persister struct {
	logger slog.Logger
	clock  quartz.Clock
	store  SessionStore
	errors ErrorRecorder

	mu     sync.Mutex
	queue  []persistOp
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPersister(logger slog.Logger, clock quartz.Clock, store SessionStore, errors ErrorRecorder) *persister {
	return &persister{
		logger: logger,
		clock:  clock,
		store:  store,
		errors: errors,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (p *persister) enqueue(op persistOp) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn(context.Background(), "dropping session write after shutdown",
			slog.F("subject", op.subject.String()))
		return
	}
	p.queue = append(p.queue, op)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until close is called and nothing is left.
func (p *persister) run(ctx context.Context) {
	defer close(p.done)
	for {
		p.mu.Lock()
		ops := p.queue
		p.queue = nil
		closed := p.closed
		p.mu.Unlock()

		if len(ops) == 0 {
			if closed {
				return
			}
			<-p.wake
			continue
		}
		for _, op := range ops {
			p.apply(ctx, op)
		}
	}
}

// close stops accepting writes and waits for the queued ones to finish.
func (p *persister) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	<-p.done
}

func (p *persister) apply(ctx context.Context, op persistOp) {
	var err error
	switch op.kind {
	case opStart:
		var session *models.Session
		session, err = p.store.StartSession(ctx, op.subject, op.at)
		if err == nil {
			p.logger.Info(ctx, "session started",
				slog.F("subject", op.subject.String()),
				slog.F("session_id", session.ID),
				slog.F("started_at", session.StartedAt))
		}
	case opEnd:
		err = p.store.EndActiveSession(ctx, op.subject, op.at)
		if err == nil {
			p.logger.Info(ctx, "session ended",
				slog.F("subject", op.subject.String()),
				slog.F("ended_at", op.at))
		}
	}
	if err == nil {
		return
	}

	p.logger.Error(ctx, "session write failed", slog.F("subject", op.subject.String()), slog.Error(err))
	if p.errors == nil {
		return
	}
	if rerr := p.errors.RecordError(ctx, "tracker", p.clock.Now("tracker", "persist"), err); rerr != nil {
		p.logger.Warn(ctx, "failed to record session write error", slog.Error(rerr))
	}
}
