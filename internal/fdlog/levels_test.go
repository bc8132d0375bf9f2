package fdlog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelToStringCoversAllEightSeverities(t *testing.T) {
	cases := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "DEBUG"},
		{slog.LevelInfo, "INFO"},
		{LevelNotice, "NOTICE"},
		{slog.LevelWarn, "WARNING"},
		{slog.LevelError, "ERROR"},
		{LevelCritical, "CRITICAL"},
		{LevelAlert, "ALERT"},
		{LevelEmergency, "EMERGENCY"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, levelToString(c.level))
	}
}

func TestLevelToStringFallsBackForUnknownLevel(t *testing.T) {
	assert.Equal(t, slog.Level(1234).String(), levelToString(slog.Level(1234)))
}

func TestLoggerEmitsLowercasedLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, slog.LevelDebug)
	l := For("ftp", base)
	l.Noticef("host %s toggled", "mirror1")

	out := buf.String()
	assert.Contains(t, out, "level=notice")
	assert.Contains(t, out, "component=ftp")
	assert.True(t, strings.Contains(out, "host mirror1 toggled"))
}
