package tracker

import (
	"context"
	"fmt"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/refocus/refocus/internal/models"
	"github.com/refocus/refocus/pkg/window"
)

// ForegroundSample is one observed change of the foreground application.
type ForegroundSample struct {
	Subject    models.Subject
	ObservedAt time.Time
}

// Observer polls a foreground EventSource and reports changes.
type Observer struct {
	logger   slog.Logger
	clock    quartz.Clock
	source   window.EventSource
	lookback time.Duration
	errors   ErrorRecorder
}

func NewObserver(logger slog.Logger, clock quartz.Clock, source window.EventSource, lookback time.Duration) *Observer {
	return &Observer{
		logger:   logger,
		clock:    clock,
		source:   source,
		lookback: lookback,
	}
}

// WithErrorRecorder makes the observer persist the first failure of every
// failing streak.
func (o *Observer) WithErrorRecorder(r ErrorRecorder) *Observer {
	o.errors = r
	return o
}

// Observe polls every pollInterval until ctx is done and sends a sample each
// time the foreground subject changes. The first poll is always sent. A
// failed poll counts as NoSubject; a poll with no transition in the lookback
// window keeps the previous subject. The channel is closed when ctx is done
// and is never closed for any other reason.
func (o *Observer) Observe(ctx context.Context, pollInterval time.Duration) <-chan ForegroundSample {
	out := make(chan ForegroundSample)

	go func() {
		defer close(out)

		ticker := o.clock.NewTicker(pollInterval, "observer", "poll")
		defer ticker.Stop()

		var (
			last    models.Subject
			emitted bool
			failing bool
		)
		for {
			now := o.clock.Now("observer", "poll")
			subject, known, err := o.poll(now)
			if err != nil {
				if !failing {
					o.logger.Warn(ctx, "foreground query failed, treating as no foreground app", slog.Error(err))
					o.record(ctx, now, err)
				}
				failing = true
			} else if failing {
				o.logger.Info(ctx, "foreground query recovered")
				failing = false
			}

			if !emitted || (known && subject != last) {
				select {
				case out <- ForegroundSample{Subject: subject, ObservedAt: now}:
				case <-ctx.Done():
					return
				}
				o.logger.Debug(ctx, "foreground changed", slog.F("subject", subject.String()))
				last, emitted = subject, true
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// poll returns the subject of the last foreground transition within the
// lookback window. known is false when the window holds no transition.
func (o *Observer) poll(now time.Time) (subject models.Subject, known bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			subject, known, err = models.NoSubject, true, fmt.Errorf("foreground source panicked: %v", r)
		}
	}()

	events, err := o.source.QueryEvents(now.Add(-o.lookback), now)
	if err != nil {
		return models.NoSubject, true, err
	}

	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].Kind {
		case window.MoveToForeground:
			return events[i].Subject, true, nil
		case window.DeviceInactive:
			return models.NoSubject, true, nil
		}
	}
	return models.NoSubject, false, nil
}

func (o *Observer) record(ctx context.Context, at time.Time, cause error) {
	if o.errors == nil {
		return
	}
	if err := o.errors.RecordError(ctx, "observer", at, cause); err != nil {
		o.logger.Warn(ctx, "failed to record observer error", slog.Error(err))
	}
}
