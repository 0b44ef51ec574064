package logger

import "go.uber.org/zap/zapcore"

type Options struct {
	Level   zapcore.Level
	Dir     string // rotating mrpc.log is written here when set
	LineNum bool
	// NoStderr drops the stderr sink, leaving only the file sink (if any).
	NoStderr bool
}

func NewOptions() *Options {
	return &Options{
		Level: zapcore.WarnLevel,
	}
}
