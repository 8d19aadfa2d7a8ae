package utils

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a --log flag value to a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// zapLevel shifts our levels so INFO lines up with zapcore.InfoLevel.
// TRACE sits one below zap's debug, CRITICAL on DPanic.
func (l LogLevel) zapLevel() zapcore.Level {
	return zapcore.Level(int8(l) - int8(INFO))
}

func levelFromZap(z zapcore.Level) LogLevel {
	return LogLevel(int8(z) + int8(INFO))
}

func encodeLevel(z zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + levelFromZap(z).String() + "]")
}

// Logger is a leveled printf-style logger writing to a file and optionally stdout
type Logger struct {
	level zap.AtomicLevel
	base  *zap.Logger
	sugar *zap.SugaredLogger
	file  *os.File
}

func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(f)}
	if alsoStdout {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	l := newLogger(zapcore.NewMultiWriteSyncer(sinks...), minLevel)
	l.file = f
	return l, nil
}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() *Logger {
	base := zap.NewNop()
	return &Logger{
		level: zap.NewAtomicLevelAt(INFO.zapLevel()),
		base:  base,
		sugar: base.Sugar(),
	}
}

func newLogger(ws zapcore.WriteSyncer, minLevel LogLevel) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encCfg.EncodeLevel = encodeLevel
	encCfg.ConsoleSeparator = " "

	level := zap.NewAtomicLevelAt(minLevel.zapLevel())
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	base := zap.New(core)

	return &Logger{
		level: level,
		base:  base,
		sugar: base.Sugar(),
	}
}

func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Named returns a child logger whose lines carry the given component name
func (l *Logger) Named(name string) *Logger {
	base := l.base.Named(name)
	return &Logger{
		level: l.level,
		base:  base,
		sugar: base.Sugar(),
	}
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	zl := level.zapLevel()
	if !l.base.Core().Enabled(zl) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	if ce := l.base.Check(zl, msg); ce != nil {
		ce.Write()
	}
}

// Sugar exposes the underlying zap logger for structured key/value output
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
