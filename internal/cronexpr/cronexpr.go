package cronexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidFormat is wrapped by every Parse failure.
var ErrInvalidFormat = errors.New("invalid cron expression")

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// probe is a fixed reference used to reject expressions that can never fire
// (e.g. "0 0 30 2 *"). cron/v3 searches five years ahead, which always covers
// a leap day.
var probe = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Expression is a parsed, immutable schedule bound to one time zone.
type Expression struct {
	raw   string
	sched cron.Schedule
	loc   *time.Location
}

// Parse parses raw in loc (nil means time.Local). An explicit CRON_TZ=/TZ=
// prefix in raw takes precedence over loc.
func Parse(raw string, loc *time.Location) (*Expression, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidFormat)
	}
	if loc == nil {
		loc = time.Local
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		if hasZonePrefix(s) {
			loc = ss.Location
		} else {
			ss.Location = loc
		}
	}
	e := &Expression{raw: s, sched: sched, loc: loc}
	if e.Next(probe.In(loc)).IsZero() {
		return nil, fmt.Errorf("%w: %q never matches", ErrInvalidFormat, s)
	}
	return e, nil
}

// Validate reports whether raw parses.
func Validate(raw string) error {
	_, err := Parse(raw, time.UTC)
	return err
}

func hasZonePrefix(s string) bool {
	return strings.HasPrefix(s, "CRON_TZ=") || strings.HasPrefix(s, "TZ=")
}

// String returns the trimmed source text.
func (e *Expression) String() string { return e.raw }

// Location returns the zone the expression is evaluated in.
func (e *Expression) Location() *time.Location { return e.loc }

// Next returns the earliest matching instant strictly after after, in the
// expression's zone. It returns the zero time if nothing matches within the
// cron/v3 search horizon.
func (e *Expression) Next(after time.Time) time.Time {
	next := e.sched.Next(after.In(e.loc))
	if next.IsZero() {
		return next
	}
	return next.In(e.loc)
}

// Upcoming returns up to n consecutive occurrences after after.
func (e *Expression) Upcoming(after time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := after
	for i := 0; i < n; i++ {
		t = e.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
