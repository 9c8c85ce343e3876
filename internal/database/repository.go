package database

import (
	"context"
	"sync"
	"time"

	"github.com/refocus/refocus/internal/models"

	"github.com/pkg/errors"

	"gorm.io/gorm"
)

// Repository persists sessions and implements the tracker's SessionStore.
// Start and end are serialized so the check-then-write of each runs alone.
type Repository struct {
	db *DB

	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// NewRepository creates a new repository instance
func NewRepository(db *DB) *Repository {
	return &Repository{
		db:   db,
		subs: make(map[chan struct{}]struct{}),
	}
}

// StartSession opens a session for subject. If one is already open it is
// returned unchanged, so repeated starts never create duplicates.
func (r *Repository) StartSession(ctx context.Context, subject models.Subject, startedAt time.Time) (*models.Session, error) {
	if subject.IsNone() {
		return nil, errors.New("cannot start a session without a subject")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var session models.Session
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("subject = ? AND ended_at IS NULL", string(subject)).Limit(1).Find(&session)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}

		session = models.Session{
			Subject:   string(subject),
			StartedAt: startedAt,
		}
		created = true
		return tx.Create(&session).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start session")
	}

	if created {
		r.notify()
	}
	return &session, nil
}

// EndActiveSession closes the open session of subject at endedAt. Having no
// open session is not an error.
func (r *Repository) EndActiveSession(ctx context.Context, subject models.Subject, endedAt time.Time) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	result := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("subject = ? AND ended_at IS NULL", string(subject)).
		Update("ended_at", endedAt)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to end active session")
	}

	if result.RowsAffected > 0 {
		r.notify()
	}
	return nil
}

// FindActiveSession returns the open session of subject, or nil.
func (r *Repository) FindActiveSession(ctx context.Context, subject models.Subject) (*models.Session, error) {
	var session models.Session
	result := r.db.WithContext(ctx).
		Where("subject = ? AND ended_at IS NULL", string(subject)).
		Limit(1).
		Find(&session)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to find active session")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &session, nil
}

// FindLastFinishedSession returns the most recently closed session of subject, or nil.
func (r *Repository) FindLastFinishedSession(ctx context.Context, subject models.Subject) (*models.Session, error) {
	var session models.Session
	result := r.db.WithContext(ctx).
		Where("subject = ? AND ended_at IS NOT NULL", string(subject)).
		Order("ended_at DESC").
		Limit(1).
		Find(&session)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to find last finished session")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &session, nil
}

// ListSessions returns every session, newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	result := r.db.WithContext(ctx).Order("started_at DESC").Order("id DESC").Find(&sessions)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to list sessions")
	}
	return sessions, nil
}

// GetSessionsSince returns sessions that were still open at or after since,
// oldest first. Open sessions are always included.
func (r *Repository) GetSessionsSince(ctx context.Context, since time.Time) ([]models.Session, error) {
	var sessions []models.Session
	result := r.db.WithContext(ctx).
		Where("ended_at IS NULL OR ended_at >= ?", since).
		Order("started_at ASC").
		Find(&sessions)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to query sessions")
	}
	return sessions, nil
}

// CreateErrorLog inserts a new error log into the database
func (r *Repository) CreateErrorLog(ctx context.Context, errorLog *models.ErrorLog) error {
	result := r.db.WithContext(ctx).Create(errorLog)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to insert error log")
	}
	return nil
}

// RecordError stores an absorbed failure as an ErrorLog row.
func (r *Repository) RecordError(ctx context.Context, component string, at time.Time, cause error) error {
	return r.CreateErrorLog(ctx, &models.ErrorLog{
		Timestamp: at,
		Component: component,
		ErrorMsg:  cause.Error(),
	})
}

// Clear removes all sessions from the database
func (r *Repository) Clear() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	result := r.db.Exec("DELETE FROM sessions")
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to clear sessions")
	}
	r.notify()
	return nil
}
