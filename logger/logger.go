// Package logger is the process-wide structured logger.
//
// Logs go to stderr (and optionally a rotating file) so that stdout only carries
// command results such as "Die Temp: 34.5°C".
package logger

import (
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
	atom   = zap.NewAtomicLevel()
	opts   = NewOptions()
)

func Configure(op *Options) {
	mu.Lock()
	defer mu.Unlock()

	atom.SetLevel(op.Level)
	opts = op

	loggerOpts := make([]zap.Option, 0)
	if opts.LineNum {
		loggerOpts = append(loggerOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	writers := make([]zapcore.WriteSyncer, 0)
	if !opts.NoStderr {
		writers = append(writers, zapcore.Lock(os.Stderr))
	}
	if opts.Dir != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   path.Join(opts.Dir, "mrpc.log"),
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}))
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(newEncoderConfig()),
		zapcore.NewMultiWriteSyncer(writers...),
		atom,
	)
	logger = zap.New(core, loggerOpts...)
}

// SetLevel changes the level without rebuilding the sinks.
func SetLevel(l zapcore.Level) {
	atom.SetLevel(l)
}

func Level() zapcore.Level {
	return atom.Level()
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:       "time",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "linenum",
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
		EncodeName:    zapcore.FullNameEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02T15:04:05.999999999-07:00"))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func get() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	Configure(NewOptions())
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// L returns the underlying zap logger, for components that keep a named child.
func L() *zap.Logger {
	return get()
}

func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

func Sync() error {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return nil
	}
	// Syncing stderr returns EINVAL on most terminals; only report it, never fail on it.
	if err := l.Sync(); err != nil {
		fmt.Fprintln(os.Stderr, "logger sync error", err)
	}
	return nil
}
