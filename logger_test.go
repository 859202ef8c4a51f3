package mqtt311

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
		{LogLevelNone, "NONE"},
		{LogLevel(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()

	// Must not panic and WithFields must keep returning a usable logger
	l.Debug("debug", nil)
	l.Info("info", LogFields{"k": "v"})
	l.Warn("warn", nil)
	l.Error("error", nil)

	derived := l.WithFields(LogFields{"k": "v"})
	require.NotNil(t, derived)
	derived.Info("still works", nil)
}

func TestStdLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LogLevelWarn)

	l.Debug("debug message", nil)
	l.Info("info message", nil)
	assert.Empty(t, buf.String())

	l.Warn("warn message", nil)
	l.Error("error message", nil)

	out := buf.String()
	assert.Contains(t, out, "[WARN] warn message")
	assert.Contains(t, out, "[ERROR] error message")
	assert.NotContains(t, out, "debug message")
}

func TestStdLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(&buf, LogLevelDebug)

	l.Info("connected", LogFields{LogFieldClientID: "client-1"})
	assert.Contains(t, buf.String(), "client_id:client-1")
}

func TestStdLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewStdLogger(&buf, LogLevelDebug)

	derived := base.WithFields(LogFields{LogFieldClientID: "client-1"})
	derived.Info("publishing", LogFields{LogFieldTopic: "a/b"})

	out := buf.String()
	assert.Contains(t, out, "client_id:client-1")
	assert.Contains(t, out, "topic:a/b")

	// The base logger is unaffected
	buf.Reset()
	base.Info("plain", nil)
	assert.NotContains(t, buf.String(), "client_id")
}

func TestStdLoggerNilWriter(t *testing.T) {
	assert.NotPanics(t, func() {
		l := NewStdLogger(nil, LogLevelNone)
		l.Error("suppressed", nil)
	})
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	backend := logrus.New()
	backend.SetOutput(&buf)
	backend.SetLevel(logrus.DebugLevel)

	l := NewLogrusLogger(backend)
	l.Info("client connected", LogFields{LogFieldClientID: "client-1"})

	out := buf.String()
	assert.Contains(t, out, "client connected")
	assert.Contains(t, out, "client_id=client-1")

	buf.Reset()
	derived := l.WithFields(LogFields{LogFieldTopic: "a/b"})
	derived.Debug("publishing", LogFields{LogFieldQoS: 1})

	out = buf.String()
	assert.Contains(t, out, "topic=")
	assert.Contains(t, out, "qos=1")
}

func TestLogrusLoggerNilBackend(t *testing.T) {
	assert.NotPanics(t, func() {
		l := NewLogrusLogger(nil)
		require.NotNil(t, l)
	})
}

func TestLogFieldNames(t *testing.T) {
	fields := []string{
		LogFieldClientID,
		LogFieldTopic,
		LogFieldPacketID,
		LogFieldPacketType,
		LogFieldQoS,
		LogFieldReturnCode,
		LogFieldError,
		LogFieldRemoteAddr,
		LogFieldDuration,
		LogFieldBytes,
	}

	seen := make(map[string]bool)
	for _, f := range fields {
		assert.NotEmpty(t, f)
		assert.False(t, seen[f], "duplicate field name %q", f)
		assert.Equal(t, strings.ToLower(f), f)
		seen[f] = true
	}
}
