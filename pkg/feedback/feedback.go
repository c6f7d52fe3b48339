// Package feedback is the side channel through which background components
// report recoverable failures to the operator instead of returning them.
package feedback

import (
	"context"
	"log/slog"
	"sync"
)

// Level is the severity of a feedback entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Emitter receives feedback. Implementations must be safe for concurrent use.
type Emitter interface {
	EmitFeedback(level Level, message string, cause error)
}

// LogEmitter writes feedback to a structured logger.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an emitter. Pass nil logger for default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "feedback")}
}

func (e *LogEmitter) EmitFeedback(level Level, message string, cause error) {
	attrs := []any{}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	e.logger.Log(context.Background(), slogLevel(level), message, attrs...)
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelError:
		return slog.LevelError
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Entry is one recorded feedback item.
type Entry struct {
	Level   Level
	Message string
	Cause   error
}

// Recorder keeps every entry in memory. Useful for status views and tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) EmitFeedback(level Level, message string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: message, Cause: cause})
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Multi fans feedback out to several emitters.
type Multi []Emitter

func (m Multi) EmitFeedback(level Level, message string, cause error) {
	for _, e := range m {
		e.EmitFeedback(level, message, cause)
	}
}
