// Package logging builds the process logger and times long-running steps.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// New returns a slog logger writing to w. format is "text" or "json";
// verbose lowers the level to debug.
func New(w io.Writer, verbose bool, format string) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Timer logs the start and end of a step with its elapsed seconds.
type Timer struct {
	logger *slog.Logger
	name   string
	attrs  []any
	start  time.Time
	now    func() time.Time
}

// StartTimer logs "<name> started" at debug level and returns the timer.
func StartTimer(logger *slog.Logger, name string, attrs ...any) *Timer {
	return startTimer(logger, name, time.Now, attrs...)
}

func startTimer(logger *slog.Logger, name string, now func() time.Time, attrs ...any) *Timer {
	t := &Timer{logger: logger, name: name, attrs: attrs, start: now(), now: now}
	logger.Debug(name+" started", attrs...)
	return t
}

// Stop logs completion, or failure when err is non-nil, and returns the
// elapsed time.
func (t *Timer) Stop(err error) time.Duration {
	elapsed := t.now().Sub(t.start)
	attrs := append(append([]any(nil), t.attrs...), "elapsed_seconds", elapsed.Seconds())
	if err != nil {
		t.logger.Error(t.name+" failed", append(attrs, "error", err)...)
		return elapsed
	}
	t.logger.Debug(t.name+" finished", attrs...)
	return elapsed
}
