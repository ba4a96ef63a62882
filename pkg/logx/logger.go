package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Logger is a value type; copies are cheap. The zero value discards
// everything, and IsZero lets constructors substitute a default.
type Logger struct {
	svc     *Service
	base    zerolog.Logger
	hasBase bool

	fields []Field
}

func Nop() Logger { return Logger{base: zerolog.Nop(), hasBase: true} }

// NewWriter returns a standalone JSON logger writing to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

func (l Logger) IsZero() bool { return l.svc == nil && !l.hasBase && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.hasBase:
		return l.base
	default:
		return zerolog.Nop()
	}
}

func (l Logger) Enabled(level Level) bool {
	zl := l.zl()
	return level >= zl.GetLevel() && level >= zerolog.GlobalLevel()
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// file:line of the Info/Warn/... call site.
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}
