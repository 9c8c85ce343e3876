// Package logging builds the process-wide structured logger.
package logging

import (
	"io"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// File, when set, receives the log through a rotating writer instead of
	// Output.
	File   string
	Output io.Writer
	Debug  bool
}

// New returns the logger and a function that releases the log file.
func New(opts Options) (slog.Logger, func() error) {
	var (
		sink    slog.Sink
		closeFn = func() error { return nil }
	)
	if opts.File != "" {
		w := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    5, // MB
			MaxBackups: 1,
		}
		sink = sloghuman.Sink(w)
		closeFn = w.Close
	} else {
		out := opts.Output
		if out == nil {
			out = io.Discard
		}
		sink = sloghuman.Sink(out)
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	return slog.Make(sink).Leveled(level).Named("refocus"), closeFn
}
