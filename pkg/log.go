package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Component tags every record with the subsystem that emitted it.
type Component string

// Firmware components.
const (
	ComponentController Component = "controller"
	ComponentControl    Component = "control"
	ComponentEndpoint   Component = "endpoint"
	ComponentHAL        Component = "hal"
	ComponentMSC        Component = "msc"
	ComponentSCSI       Component = "scsi"
	ComponentStorage    Component = "storage"
)

// ComponentHost identifies simulated host drivers.
const ComponentHost Component = "host"

// LogFormat selects the handler installed by [SetLogFormat].
type LogFormat int

const (
	LogFormatText LogFormat = iota
	LogFormatJSON
)

var (
	level  = new(slog.LevelVar)
	logger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelWarn)
	logger.Store(newLogger(os.Stderr, LogFormatText))
}

func newLogger(w io.Writer, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLogLevel sets the minimum level of the package handlers. A logger
// installed with [SetLogger] applies its own level.
func SetLogLevel(l slog.Level) { level.Set(l) }

// LogLevel returns the minimum level of the package handlers.
func LogLevel() slog.Level { return level.Level() }

// SetLogFormat replaces the logger with one writing format to stderr at
// the package level.
func SetLogFormat(format LogFormat) { logger.Store(newLogger(os.Stderr, format)) }

// SetLogOutput replaces the logger with one writing format to w at the
// package level.
func SetLogOutput(w io.Writer, format LogFormat) { logger.Store(newLogger(w, format)) }

// SetLogger installs l as the logger for all components and returns the
// one it replaced.
func SetLogger(l *slog.Logger) *slog.Logger { return logger.Swap(l) }

// DebugEnabled reports whether debug records would be emitted. Per-packet
// paths check it before building attributes.
func DebugEnabled() bool {
	return logger.Load().Enabled(context.Background(), slog.LevelDebug)
}

func emit(l slog.Level, c Component, msg string, args []any) {
	lg := logger.Load()
	if !lg.Enabled(context.Background(), l) {
		return
	}
	lg.Log(context.Background(), l, msg, append([]any{slog.String("component", string(c))}, args...)...)
}

// LogDebug logs msg at debug level tagged with component c. args are
// slog key/value pairs.
func LogDebug(c Component, msg string, args ...any) { emit(slog.LevelDebug, c, msg, args) }

// LogInfo logs msg at info level tagged with component c.
func LogInfo(c Component, msg string, args ...any) { emit(slog.LevelInfo, c, msg, args) }

// LogWarn logs msg at warn level tagged with component c.
func LogWarn(c Component, msg string, args ...any) { emit(slog.LevelWarn, c, msg, args) }

// LogError logs msg at error level tagged with component c.
func LogError(c Component, msg string, args ...any) { emit(slog.LevelError, c, msg, args) }
