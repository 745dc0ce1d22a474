package logx

import (
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to an entry. Later fields overwrite earlier ones.
type Field func(e *zerolog.Event)

func String(k, v string) Field    { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field   { return func(e *zerolog.Event) { e.Int(k, v) } }
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Any(k string, v any) Field   { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Time(k string, v time.Time) Field {
	return func(e *zerolog.Event) { e.Time(k, v) }
}

// Duration renders d as a Go duration string ("1.5s") rather than a number.
func Duration(k string, d time.Duration) Field {
	return func(e *zerolog.Event) { e.Str(k, d.String()) }
}

// Err sets the "err" key; nil errors add nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}

// StackTrace renders up to maxFrames frames of the calling goroutine, one
// "func (file:line)" per line, skipping runtime internals.
func StackTrace(skip, maxFrames int) string {
	if maxFrames <= 0 {
		maxFrames = 16
	}
	pcs := make([]uintptr, maxFrames+8)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for written := 0; written < maxFrames; {
		fr, more := frames.Next()
		if fr.File != "" && !strings.HasPrefix(fr.Function, "runtime.") {
			if written > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(fr.Function)
			b.WriteString(" (")
			b.WriteString(fr.File)
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(fr.Line))
			b.WriteByte(')')
			written++
		}
		if !more {
			break
		}
	}
	return b.String()
}
