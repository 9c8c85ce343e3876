package tracker

import (
	"context"
	"time"

	"github.com/refocus/refocus/internal/models"
)

// SessionStore persists session boundaries. StartSession must return the
// already open session for subject instead of opening a second one, and
// EndActiveSession must treat a missing open session as success. The
// tracker relies on both instead of deduplicating itself.
type SessionStore interface {
	StartSession(ctx context.Context, subject models.Subject, startedAt time.Time) (*models.Session, error)
	EndActiveSession(ctx context.Context, subject models.Subject, endedAt time.Time) error
}

// ErrorRecorder keeps a durable record of failures the tracker absorbed.
type ErrorRecorder interface {
	RecordError(ctx context.Context, component string, at time.Time, cause error) error
}
