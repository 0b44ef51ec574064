package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()

	opts := NewOptions()
	opts.Level = zapcore.DebugLevel
	opts.Dir = dir
	opts.NoStderr = true
	opts.LineNum = true
	Configure(opts)
	defer Configure(NewOptions())

	Debug("exchange", zap.Uint32("command", 65))
	Error("exchange failed", zap.String("device", "/dev/switchtec0"))
	require.NoError(t, Sync())

	data, err := os.ReadFile(filepath.Join(dir, "mrpc.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command":65`)
	assert.Contains(t, string(data), `"level":"error"`)
}

func TestSetLevel(t *testing.T) {
	Configure(NewOptions())
	assert.Equal(t, zapcore.WarnLevel, Level())

	SetLevel(zapcore.InfoLevel)
	assert.Equal(t, zapcore.InfoLevel, Level())
	assert.NotNil(t, L())
}
