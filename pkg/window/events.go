package window

import (
	"errors"
	"time"

	"github.com/refocus/refocus/internal/models"
)

var (
	// ErrPermissionDenied is returned when the platform refuses access to the
	// foreground signal (X authority rejected, compositor IPC denied). Access
	// may be granted later, so callers keep polling.
	ErrPermissionDenied = errors.New("foreground signal: permission denied")

	// ErrUnavailable is returned when no foreground signal can be read at all.
	ErrUnavailable = errors.New("foreground signal: unavailable")
)

// TransitionKind classifies a recorded foreground transition.
type TransitionKind int

const (
	MoveToForeground TransitionKind = iota + 1
	MoveToBackground
	// DeviceInactive marks the point where the screen locked or the user went
	// idle; nothing is in the foreground after it.
	DeviceInactive
)

func (k TransitionKind) String() string {
	switch k {
	case MoveToForeground:
		return "foreground"
	case MoveToBackground:
		return "background"
	case DeviceInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Event is one foreground transition.
type Event struct {
	Subject models.Subject
	Kind    TransitionKind
	At      time.Time
}

// EventSource exposes foreground transitions that happened within a time
// window. Events are returned oldest first.
type EventSource interface {
	QueryEvents(start, end time.Time) ([]Event, error)
}
