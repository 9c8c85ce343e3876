package window

import (
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/refocus/refocus/internal/models"
)

const defaultHistorySize = 64

// RecorderOptions tunes how a Recorder interprets idle state.
type RecorderOptions struct {
	// IdleThreshold is the input idle time after which the user counts as
	// away. Zero disables idle detection; a locked screen always counts.
	IdleThreshold time.Duration
	// HistorySize bounds the number of transitions kept.
	HistorySize int
}

// Recorder turns a polling Detector into an EventSource. Desktop platforms
// have no foreground event log, so each query samples the detector once and
// records a transition when the focused application changed since the
// previous sample.
type Recorder struct {
	detector Detector
	clock    quartz.Clock
	opts     RecorderOptions

	mu       sync.Mutex
	current  models.Subject
	inactive bool
	sampled  bool
	history  []Event
}

func NewRecorder(detector Detector, clock quartz.Clock, opts RecorderOptions) *Recorder {
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	return &Recorder{
		detector: detector,
		clock:    clock,
		opts:     opts,
	}
}

// QueryEvents samples the detector and returns the recorded transitions
// with start <= At <= end.
func (r *Recorder) QueryEvents(start, end time.Time) ([]Event, error) {
	if err := r.sample(end); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var events []Event
	for _, ev := range r.history {
		if ev.At.Before(start) || ev.At.After(end) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// sample records a transition when the detector reports a change. The
// sample is stamped no later than end so the query that took it sees it.
func (r *Recorder) sample(end time.Time) error {
	inactive, err := r.isInactive()
	if err != nil {
		return err
	}

	subject := models.NoSubject
	if !inactive {
		info, err := r.detector.GetFocusedWindow()
		if err != nil {
			return classify(err)
		}
		subject = info.Subject()
	}

	now := r.clock.Now("window", "recorder")
	if now.After(end) {
		now = end
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sampled && inactive == r.inactive && subject == r.current {
		return nil
	}

	if r.sampled && !r.current.IsNone() && (inactive || subject != r.current) {
		r.record(Event{Subject: r.current, Kind: MoveToBackground, At: now})
	}
	switch {
	case inactive:
		r.record(Event{Kind: DeviceInactive, At: now})
	default:
		// An unidentifiable window is still a foreground change; it is
		// recorded with NoSubject so it replaces the previous application.
		r.record(Event{Subject: subject, Kind: MoveToForeground, At: now})
	}

	r.current = subject
	r.inactive = inactive
	r.sampled = true
	return nil
}

func (r *Recorder) isInactive() (bool, error) {
	idle, err := r.detector.GetIdleInfo()
	if err != nil {
		// Idle state is advisory; tracking continues without it.
		return false, nil
	}
	if idle == nil {
		return false, nil
	}
	if idle.IsLocked {
		return true, nil
	}
	if r.opts.IdleThreshold > 0 && idle.IdleFor() >= r.opts.IdleThreshold {
		return true, nil
	}
	return false, nil
}

func (r *Recorder) record(ev Event) {
	r.history = append(r.history, ev)
	if over := len(r.history) - r.opts.HistorySize; over > 0 {
		r.history = append(r.history[:0], r.history[over:]...)
	}
}

func classify(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return errors.Join(ErrUnavailable, err)
}
