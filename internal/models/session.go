package models

import (
	"time"
)

// Session is one contiguous interval of a target application being in the
// foreground, with short interruptions merged in by the grace period.
// A session with a nil EndedAt is active; at most one active session exists
// per subject.
type Session struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Subject   string     `gorm:"not null;index" json:"subject"`
	StartedAt time.Time  `gorm:"not null;index" json:"started_at"`
	EndedAt   *time.Time `gorm:"index" json:"ended_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the session has not been closed yet.
func (s *Session) IsActive() bool {
	return s.EndedAt == nil
}

// Duration returns how long the session lasted, counting open sessions up to now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// SessionStatus is how a session is presented in history views.
type SessionStatus string

const (
	StatusRunning  SessionStatus = "running"
	StatusGrace    SessionStatus = "grace"
	StatusFinished SessionStatus = "finished"
)

// Status derives the display status of the session. An open session whose
// subject is no longer in the foreground is waiting out its grace period.
func (s *Session) Status(foreground Subject) SessionStatus {
	switch {
	case s.EndedAt != nil:
		return StatusFinished
	case Subject(s.Subject) == foreground:
		return StatusRunning
	default:
		return StatusGrace
	}
}

type SubjectSummary struct {
	Subject      string  `json:"subject"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	SessionCount int     `json:"session_count"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

type Report struct {
	Period       ReportPeriod     `json:"period"`
	Subjects     []SubjectSummary `json:"subjects"`
	TotalSeconds int64            `json:"total_seconds"`
	TotalMinutes float64          `json:"total_minutes"`
	TotalHours   float64          `json:"total_hours"`
	GeneratedAt  time.Time        `json:"generated_at"`
}
