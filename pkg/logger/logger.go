// Package logger is the tagged debug emitter TCPSST components log
// through. It wraps zap the way tarun-kavipurapu/p2p-transfer's
// pkg/logger does — same env vars, same encoder — but builds the core
// lazily instead of panicking on package import, since this package is
// now imported by a library rather than only by an application's main.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the severities spec.md's logging collaborator names.
type Level int8

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Trace, Debug:
		return zapcore.DebugLevel
	case Info:
		return zapcore.InfoLevel
	case Warn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

var (
	base     *zap.Logger
	baseOnce sync.Once
)

func root() *zap.Logger {
	baseOnce.Do(func() {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006/01/02 15:04:05"))
		}
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

		level := zapcore.InfoLevel
		levelStr := strings.TrimSpace(os.Getenv("TCPSST_LOG_LEVEL"))
		if levelStr == "" {
			levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
		}
		if levelStr != "" {
			_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
		}

		core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level)
		base = zap.New(core, zap.AddCaller())
	})
	return base
}

// Logger emits tagged, leveled debug messages for one TCPSST component.
type Logger struct {
	tag   string
	sugar *zap.SugaredLogger
}

// Tagged returns a Logger that stamps every message with tag, e.g. the
// component name ("multiplex", "subconn", "stream").
func Tagged(tag string) *Logger {
	return &Logger{tag: tag, sugar: root().Sugar().With("component", tag)}
}

// Debugf satisfies the tagged debug emitter interface spec.md §6
// describes: (tag, level, message) with no return value.
func (l *Logger) Debugf(level Level, format string, args ...any) {
	switch level.zapLevel() {
	case zapcore.DebugLevel:
		l.sugar.Debugf(format, args...)
	case zapcore.InfoLevel:
		l.sugar.Infof(format, args...)
	case zapcore.WarnLevel:
		l.sugar.Warnf(format, args...)
	default:
		l.sugar.Errorf(format, args...)
	}
}

func (l *Logger) Tag() string { return l.tag }
