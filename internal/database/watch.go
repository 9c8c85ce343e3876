package database

import (
	"context"
	"slices"
	"time"

	"github.com/coder/quartz"

	"github.com/refocus/refocus/internal/models"
)

// DefaultRefreshInterval is how often ObserveAll re-reads the table to pick
// up writes made by another process.
const DefaultRefreshInterval = 2 * time.Second

// ObserveAll streams the full session list, newest first. The current list
// is sent immediately; after that a new list is sent whenever it changes,
// either through this repository or, within refresh, through another process
// sharing the database file. The channel is closed when ctx is done.
func (r *Repository) ObserveAll(ctx context.Context, clock quartz.Clock, refresh time.Duration) <-chan []models.Session {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	out := make(chan []models.Session)
	changed := r.subscribe()

	go func() {
		defer close(out)
		defer r.unsubscribe(changed)

		ticker := clock.NewTicker(refresh, "database", "observe")
		defer ticker.Stop()

		var last []models.Session
		first := true
		for {
			sessions, err := r.ListSessions(ctx)
			if err == nil && (first || !sameSessions(last, sessions)) {
				select {
				case out <- sessions:
					last, first = sessions, false
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-changed:
			case <-ticker.C:
			}
		}
	}()

	return out
}

func (r *Repository) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	r.subsMu.Lock()
	r.subs[ch] = struct{}{}
	r.subsMu.Unlock()
	return ch
}

func (r *Repository) unsubscribe(ch chan struct{}) {
	r.subsMu.Lock()
	delete(r.subs, ch)
	r.subsMu.Unlock()
}

func (r *Repository) notify() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func sameSessions(a, b []models.Session) bool {
	return slices.EqualFunc(a, b, func(x, y models.Session) bool {
		if x.ID != y.ID || x.Subject != y.Subject || !x.StartedAt.Equal(y.StartedAt) {
			return false
		}
		if (x.EndedAt == nil) != (y.EndedAt == nil) {
			return false
		}
		return x.EndedAt == nil || x.EndedAt.Equal(*y.EndedAt)
	})
}
