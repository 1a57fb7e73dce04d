// Package log provides structured logging for the Deo contract core on
// top of log/slog. Subsystems hold module-scoped child loggers whose
// names nest ("statestore", "statestore/wal"), so one subsystem's lines
// can be filtered out of a mixed stream by a single attribute. The VM
// dispatch loop never logs; determinism and speed both forbid it.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger is a leveled, structured logger scoped to one core subsystem.
// The zero module scope is the process root.
type Logger struct {
	inner  *slog.Logger
	module string
}

var (
	rootMu sync.RWMutex
	root   = New(os.Stderr, slog.LevelInfo)
)

// New creates a Logger writing JSON lines to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(h)}
}

// Default returns the process root logger.
func Default() *Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

// SetDefault replaces the process root logger. Nil is ignored so a
// misconfigured host degrades to stderr instead of panicking.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	rootMu.Lock()
	root = l
	rootMu.Unlock()
}

// Module returns a child of the root logger scoped to one subsystem.
// This is how statestore, contracts and the determinism harness obtain
// their loggers.
func Module(name string) *Logger {
	return Default().Module(name)
}

// Module returns a child logger scoped under l. Scopes join with a
// slash: Module("statestore").Module("wal") logs module=statestore/wal.
func (l *Logger) Module(name string) *Logger {
	if l.module != "" {
		name = l.module + "/" + name
	}
	return &Logger{inner: l.inner, module: name}
}

// With returns a child logger carrying additional key-value context in
// the same module scope.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...), module: l.module}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.emit(slog.LevelInfo, msg, args) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.emit(slog.LevelWarn, msg, args) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args) }

// emit attaches the module scope at log time, so nested Module calls
// never stack duplicate attributes on the underlying handler.
func (l *Logger) emit(level slog.Level, msg string, args []any) {
	if l.module != "" {
		args = append([]any{"module", l.module}, args...)
	}
	l.inner.Log(context.Background(), level, msg, args...)
}
