// Package overlay signals whether the usage indicator for the tracked
// application should be visible. Every Sink must tolerate redundant calls and
// must not block the caller.
package overlay

import (
	"context"
	"fmt"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/gen2brain/beeep"

	"github.com/refocus/refocus/internal/models"
)

type Sink interface {
	Show(subject models.Subject)
	Hide()
}

// Indicator records the visibility state and logs its transitions. It is the
// in-process source of truth for "is the overlay up".
type Indicator struct {
	logger slog.Logger

	mu      sync.Mutex
	visible bool
	subject models.Subject
}

func NewIndicator(logger slog.Logger) *Indicator {
	return &Indicator{logger: logger}
}

func (i *Indicator) Show(subject models.Subject) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.visible && i.subject == subject {
		return
	}
	i.visible = true
	i.subject = subject
	i.logger.Debug(context.Background(), "overlay shown", slog.F("subject", subject.String()))
}

func (i *Indicator) Hide() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.visible {
		return
	}
	i.logger.Debug(context.Background(), "overlay hidden", slog.F("subject", i.subject.String()))
	i.visible = false
	i.subject = models.NoSubject
}

// Visible reports whether the overlay is up and for which subject.
func (i *Indicator) Visible() (bool, models.Subject) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible, i.subject
}

type notifyFunc func(title, message string) error

// Notifier raises a desktop notification when tracking of an application
// starts. Notifications are sent from a single background goroutine.
type Notifier struct {
	logger slog.Logger
	notify notifyFunc

	mu    sync.Mutex
	shown bool
	queue chan string
	done  chan struct{}
}

func NewNotifier(logger slog.Logger) *Notifier {
	return newNotifier(logger, func(title, message string) error {
		return beeep.Notify(title, message, "")
	})
}

func newNotifier(logger slog.Logger, notify notifyFunc) *Notifier {
	n := &Notifier{
		logger: logger,
		notify: notify,
		queue:  make(chan string, 8),
		done:   make(chan struct{}),
	}
	go n.run(n.queue)
	return n
}

func (n *Notifier) run(queue <-chan string) {
	defer close(n.done)
	for message := range queue {
		if err := n.notify("refocus", message); err != nil {
			n.logger.Warn(context.Background(), "desktop notification failed", slog.Error(err))
		}
	}
}

func (n *Notifier) Show(subject models.Subject) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shown || n.queue == nil {
		return
	}
	n.shown = true
	select {
	case n.queue <- fmt.Sprintf("Tracking time in %s", subject):
	default:
		// A notification backlog means the desktop is not consuming them;
		// dropping one is harmless.
	}
}

func (n *Notifier) Hide() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = false
}

// Close stops the background sender after pending notifications went out.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.queue == nil {
		n.mu.Unlock()
		return nil
	}
	close(n.queue)
	n.queue = nil
	n.mu.Unlock()
	<-n.done
	return nil
}

// Multi fans every call out to all sinks in order.
type Multi []Sink

func (m Multi) Show(subject models.Subject) {
	for _, s := range m {
		s.Show(subject)
	}
}

func (m Multi) Hide() {
	for _, s := range m {
		s.Hide()
	}
}
