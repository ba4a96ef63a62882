package logx

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Fields apply in order, so a later field
// with the same key wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field        { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strs(k string, v []string) Field { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field       { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field   { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field     { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field {
	return func(e *zerolog.Event) { e.Time(k, v) }
}
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Stringer defers v.String() until the event is known to be enabled.
// Dates and reports are logged through it.
func Stringer(k string, v fmt.Stringer) Field {
	return func(e *zerolog.Event) { e.Stringer(k, v) }
}

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}
