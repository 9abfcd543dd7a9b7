package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"INFO":  zapcore.InfoLevel,
		"Warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, exp := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, exp, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{Level: "debug"}.withDefaults()
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 3, cfg.MaxBackups)
	assert.Equal(t, 7, cfg.MaxAge)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Config{Output: "syslog"})
	assert.Error(t, err)
	_, err = New(Config{Output: "file"})
	assert.Error(t, err)
}

func TestNew_FileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lcu.log")
	lg, err := New(Config{
		Level:      "debug",
		Format:     "json",
		Output:     "file",
		FilePath:   path,
		TimeZone:   "UTC",
		TimeFormat: time.RFC3339,
		Stacktrace: true,
	})
	require.NoError(t, err)

	lg.Debug("client ready", zap.Int("pid", 42))
	require.NoError(t, lg.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(data, &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "client ready", line["msg"])
	assert.Equal(t, float64(42), line["pid"])
	assert.Contains(t, line["time"], "Z")
}

func TestNew_Console(t *testing.T) {
	lg, err := New(Config{Output: "stdout", Color: true})
	require.NoError(t, err)
	assert.True(t, lg.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, lg.Core().Enabled(zapcore.DebugLevel))
}
