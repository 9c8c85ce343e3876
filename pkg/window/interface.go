package window

import (
	"time"

	"github.com/refocus/refocus/internal/models"
)

// Display servers a Detector can report.
const (
	DisplayX11     = "x11"
	DisplayWayland = "wayland"
)

// WindowInfo describes the window that currently has input focus.
type WindowInfo struct {
	AppName       string
	WindowTitle   string
	ProcessName   string
	PID           int
	DisplayServer string
}

// Subject is the application identity tracked for this window: the
// application name, or the process name when the window carries none.
func (w *WindowInfo) Subject() models.Subject {
	if w == nil {
		return models.NoSubject
	}
	if s := models.NormalizeSubject(w.AppName); !s.IsNone() {
		return s
	}
	return models.NormalizeSubject(w.ProcessName)
}

// IdleInfo is the session's lock and input-idle state.
type IdleInfo struct {
	IsIdle   bool
	IsLocked bool
	IdleTime int64 // seconds since the last input event
}

func (i *IdleInfo) IdleFor() time.Duration {
	return time.Duration(i.IdleTime) * time.Second
}

// Detector reads the focused window from one display server.
type Detector interface {
	GetFocusedWindow() (*WindowInfo, error)

	// GetIdleInfo may return an error on servers without idle reporting;
	// callers treat idle state as advisory.
	GetIdleInfo() (*IdleInfo, error)

	// IsAvailable reports whether the display server answered.
	IsAvailable() bool

	GetDisplayServer() string

	Close() error
}
