package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)

	l.Debug("hidden", "k", 1)
	assert.Zero(t, buf.Len(), "debug must be filtered at info level")

	l.With("component", "pool").Warn("double release", "meta", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "double release", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "pool", rec["component"])
	assert.EqualValues(t, 7, rec["meta"])
	assert.Contains(t, rec, "ts")
}

func TestSlogLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, ErrorLevel, false)
	assert.Equal(t, ErrorLevel, l.Level())

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
	l.Debug("kept")
	assert.Contains(t, buf.String(), "kept")

	// children share the level variable
	child := l.With("k", "v")
	l.SetLevel(WarnLevel)
	assert.Equal(t, WarnLevel, child.Level())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		ok    bool
	}{
		{"debug", DebugLevel, true},
		{"info", InfoLevel, true},
		{"warning", WarnLevel, true},
		{"error", ErrorLevel, true},
		{"fatal", FatalLevel, true},
		{"loud", InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, ok := ParseLevel(tt.name)
			assert.Equal(t, tt.level, level)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSlogLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	NewSlogFormat(&buf, FormatText, InfoLevel, false).Info("file opened", "path", "/tmp/a")
	assert.Contains(t, buf.String(), `msg="file opened"`)
	assert.Contains(t, buf.String(), "path=/tmp/a")

	buf.Reset()
	NewSlogFormat(&buf, FormatConsole, InfoLevel, false).Info("file opened")
	assert.Contains(t, buf.String(), "file opened")
	assert.False(t, json.Valid(buf.Bytes()))

	buf.Reset()
	l := NewSlogFormat(&buf, FormatJSON, FatalLevel, false)
	assert.Equal(t, FatalLevel, l.Level())
	l.Error("dropped")
	assert.Zero(t, buf.Len())
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		ok     bool
	}{
		{"", FormatJSON, true},
		{"json", FormatJSON, true},
		{"text", FormatText, true},
		{"console", FormatConsole, true},
		{"xml", FormatJSON, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, ok := ParseFormat(tt.name)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSetDefault(t *testing.T) {
	prev := GetLogger()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewSlogWriter(&buf, DebugLevel, false))
	SetDefault(nil)

	Debug("via default", "n", 1)
	assert.Contains(t, buf.String(), "via default")
}
