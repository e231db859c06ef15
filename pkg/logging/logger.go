// Package logging implements the svcgraph logging subsystem on top of zap.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelNotice:
		return "NOTICE"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// zap has no NOTICE; it is logged at info with a marker field.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger provides leveled logging for svcgraph.
type Logger struct {
	level zap.AtomicLevel
	min   Level
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// New creates a Logger writing console-encoded lines to stderr.
func New(level Level) *Logger {
	atom := zap.NewAtomicLevelAt(level.zapLevel())
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), atom)
	l := &Logger{level: atom, min: level}
	l.setBase(zap.New(core))
	return l
}

// FromZap adopts an existing zap logger. Level filtering is left to the
// logger's own core.
func FromZap(z *zap.Logger) *Logger {
	l := &Logger{level: zap.NewAtomicLevelAt(zapcore.DebugLevel), min: LevelDebug}
	l.setBase(z)
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return FromZap(zap.NewNop())
}

func (l *Logger) setBase(z *zap.Logger) {
	l.base = z
	l.sugar = z.Sugar()
}

// SetLevel changes the minimum logging level.
func (l *Logger) SetLevel(level Level) {
	l.min = level
	l.level.SetLevel(level.zapLevel())
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	child := &Logger{level: l.level, min: l.min}
	child.setBase(l.sugar.With(keysAndValues...).Desugar())
	return child
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	switch level {
	case LevelDebug:
		l.sugar.Debugf(format, args...)
	case LevelNotice:
		l.sugar.With("notice", true).Infof(format, args...)
	case LevelWarn:
		l.sugar.Warnf(format, args...)
	case LevelError:
		l.sugar.Errorf(format, args...)
	default:
		l.sugar.Infof(format, args...)
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Notice logs at notice level.
func (l *Logger) Notice(format string, args ...interface{}) {
	l.log(LevelNotice, format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// ServiceStarted logs a service start event.
func (l *Logger) ServiceStarted(name string) {
	l.log(LevelInfo, "Service '%s' started", name)
}

// ServiceStopped logs a service stop event.
func (l *Logger) ServiceStopped(name string) {
	l.log(LevelInfo, "Service '%s' stopped", name)
}

// ServiceFailed logs a service failure event.
func (l *Logger) ServiceFailed(name string, depFailed bool) {
	if depFailed {
		l.log(LevelError, "Service '%s' failed to start (dependency failed)", name)
	} else {
		l.log(LevelError, "Service '%s' failed to start", name)
	}
}
