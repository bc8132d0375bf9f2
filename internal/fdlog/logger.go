package fdlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger is a component-scoped wrapper around slog.Logger, mirroring the
// teacher's fs.Debugf(component, format, args...) call shape but as
// methods on a value bound to one component name (e.g. "supervisor",
// "ftp", "hsa").
type Logger struct {
	component string
	base      *slog.Logger
}

// New returns the root logger, writing text records with the fixed
// severity vocabulary to w (os.Stderr in production, a buffer in tests).
func New(w io.Writer, minLevel slog.Level) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       minLevel,
		ReplaceAttr: replaceLevelName,
	})
	return slog.New(h)
}

// Default is the process-wide logger, writing to stderr at Info and
// above.
var Default = New(os.Stderr, slog.LevelInfo)

// For scopes a component name onto the given base logger (or Default, if
// base is nil), the way fs.Debugf's first argument names the component
// emitting the line.
func For(component string, base *slog.Logger) Logger {
	if base == nil {
		base = Default
	}
	return Logger{component: component, base: base}
}

func (l Logger) log(ctx context.Context, level slog.Level, format string, args ...any) {
	l.base.Log(ctx, level, fmt.Sprintf(format, args...), slog.String("component", l.component))
}

func (l Logger) Debugf(format string, args ...any)     { l.log(context.Background(), slog.LevelDebug, format, args...) }
func (l Logger) Infof(format string, args ...any)      { l.log(context.Background(), slog.LevelInfo, format, args...) }
func (l Logger) Noticef(format string, args ...any)    { l.log(context.Background(), LevelNotice, format, args...) }
func (l Logger) Warnf(format string, args ...any)      { l.log(context.Background(), slog.LevelWarn, format, args...) }
func (l Logger) Errorf(format string, args ...any)     { l.log(context.Background(), slog.LevelError, format, args...) }
func (l Logger) Criticalf(format string, args ...any)  { l.log(context.Background(), LevelCritical, format, args...) }
func (l Logger) Alertf(format string, args ...any)     { l.log(context.Background(), LevelAlert, format, args...) }
func (l Logger) Emergencyf(format string, args ...any) { l.log(context.Background(), LevelEmergency, format, args...) }
