package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/refocus/refocus/internal/config"
	"github.com/refocus/refocus/internal/database"
	"github.com/refocus/refocus/internal/logging"
	"github.com/refocus/refocus/internal/overlay"
	"github.com/refocus/refocus/internal/targets"
	"github.com/refocus/refocus/internal/tracker"
	"github.com/refocus/refocus/pkg/detector"
	"github.com/refocus/refocus/pkg/window"
)

// app holds what every command that touches stored data needs.
type app struct {
	cfg      *config.Config
	logger   slog.Logger
	clock    quartz.Clock
	db       *database.DB
	repo     *database.Repository
	targets  *targets.FileStore
	closeLog func() error

	// indicator is set once newTracker has wired the overlay.
	indicator *overlay.Indicator
}

// openApp connects to the database. Logs go to logOut, or to the daemon log
// file when logOut is nil.
func openApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	logOpts := logging.Options{Output: logOut, Debug: cfg.Debug}
	if logOut == nil {
		logOpts.File = cfg.Daemon.LogFile
	}
	logger, closeLog := logging.New(logOpts)

	targetsPath, err := resolveTargetsPath(cfg)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		_ = db.Close()
		_ = closeLog()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		clock:    quartz.NewReal(),
		db:       db,
		repo:     database.NewRepository(db),
		targets:  targets.NewFileStore(logger.Named("targets"), targetsPath),
		closeLog: closeLog,
	}, nil
}

func resolveTargetsPath(cfg *config.Config) (string, error) {
	if cfg.Targets.Path != "" {
		return cfg.Targets.Path, nil
	}
	return targets.DefaultPath()
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn(context.Background(), "failed to close database", slog.Error(err))
	}
	_ = a.closeLog()
}

// newTracker wires the foreground detector, the target file and the overlay
// into a tracker. The returned function runs it until ctx is done and then
// releases the detector.
func (a *app) newTracker(ctx context.Context) (*tracker.Tracker, func() error, error) {
	det, err := detector.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize window detector: %w", err)
	}
	a.logger.Info(ctx, "window detector initialized", slog.F("display_server", det.GetDisplayServer()))

	targetSets, err := a.targets.Observe(ctx)
	if err != nil {
		_ = det.Close()
		return nil, nil, err
	}

	idleThreshold := a.cfg.Tracker.IdleThreshold
	if !a.cfg.Tracker.TreatIdleAsAway {
		idleThreshold = 0
	}
	recorder := window.NewRecorder(det, a.clock, window.RecorderOptions{IdleThreshold: idleThreshold})
	observer := tracker.NewObserver(a.logger.Named("observer"), a.clock, recorder, a.cfg.Tracker.LookbackWindow).
		WithErrorRecorder(a.repo)

	a.indicator = overlay.NewIndicator(a.logger.Named("overlay"))
	sinks := overlay.Multi{a.indicator}
	var notifier *overlay.Notifier
	if a.cfg.Overlay.Notify {
		notifier = overlay.NewNotifier(a.logger.Named("notifier"))
		sinks = append(sinks, notifier)
	}

	trk := tracker.New(a.logger.Named("tracker"), a.clock, a.repo, sinks, tracker.Options{
		GracePeriod: a.cfg.Tracker.GracePeriod,
		Errors:      a.repo,
	})

	run := func() error {
		defer func() {
			if notifier != nil {
				_ = notifier.Close()
			}
			if err := det.Close(); err != nil {
				a.logger.Warn(context.Background(), "failed to close window detector", slog.Error(err))
			}
		}()

		foreground := observer.Observe(ctx, a.cfg.Tracker.PollInterval)
		if err := trk.Run(ctx, foreground, targetSets); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	return trk, run, nil
}
