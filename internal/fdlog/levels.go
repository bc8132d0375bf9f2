// Package fdlog provides component-scoped structured logging with the
// eight-level severity vocabulary spec.md §6 names for the core's log
// files (debug/info/notice/warning/error/critical/alert/emergency),
// modeled on slog.Level the way the teacher's fs/log package extends
// slog's four levels with syslog-style extras.
package fdlog

import "log/slog"

// Extra severities beyond slog's built-in four, spaced the same way the
// teacher's fs package spaces fs.SlogLevelNotice etc. (between the
// adjacent stdlib levels).
const (
	LevelNotice    = slog.LevelInfo + 2
	LevelCritical  = slog.LevelError + 2
	LevelAlert     = slog.LevelError + 4
	LevelEmergency = slog.LevelError + 6
)

// levelNames maps every level this package emits to its textual name, the
// same flat lookup-with-fallback shape as the teacher's slogLevelToString.
var levelNames = map[slog.Level]string{
	slog.LevelDebug: "DEBUG",
	slog.LevelInfo:  "INFO",
	LevelNotice:     "NOTICE",
	slog.LevelWarn:  "WARNING",
	slog.LevelError: "ERROR",
	LevelCritical:   "CRITICAL",
	LevelAlert:      "ALERT",
	LevelEmergency:  "EMERGENCY",
}

// levelToString renders level using the fixed severity vocabulary, falling
// back to slog's own String() for anything unrecognised.
func levelToString(level slog.Level) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return level.String()
}

// replaceLevelName rewrites the LevelKey attribute's value from slog's
// numeric level to its lower-cased textual name, mirroring the teacher's
// mapLogLevelNames, for a handler's ReplaceAttr option.
func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	a.Value = slog.StringValue(lower(levelToString(level)))
	return a
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
