package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSpec marks a recurrence spec the engine refuses to evaluate.
var ErrInvalidSpec = errors.New("invalid recurrence spec")

type Frequency int

const (
	FreqUnknown Frequency = iota
	Daily
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

func (f Frequency) valid() bool { return f >= Daily && f <= Yearly }

// WeekdaySet is a bitmask of time.Weekday values (bit 0 = Sunday).
type WeekdaySet uint8

func Weekdays(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.Add(d)
	}
	return s
}

func (s WeekdaySet) Add(d time.Weekday) WeekdaySet {
	if d < time.Sunday || d > time.Saturday {
		return s
	}
	return s | 1<<uint(d)
}

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) Empty() bool { return s == 0 }

// Days lists the set in RFC 5545 order (Monday first).
func (s WeekdaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders two-letter RFC 5545 tags, e.g. "MO,WE".
func (s WeekdaySet) String() string {
	days := s.Days()
	tags := make([]string, 0, len(days))
	for _, d := range days {
		tags = append(tags, weekdayTag(d))
	}
	return strings.Join(tags, ",")
}

// Spec describes how an item repeats.
type Spec struct {
	Frequency Frequency `json:"freq"`
	// Interval repeats every N units of Frequency. Must be >= 1.
	Interval int `json:"interval"`
	// Start is the anchor. Only its date component participates in matching.
	Start time.Time `json:"start"`
	// ByWeekday restricts Weekly specs; empty means Start's weekday.
	// Ignored for other frequencies.
	ByWeekday WeekdaySet `json:"byweekday,omitzero"`
	// Until is an inclusive upper bound; zero means unbounded.
	Until Date `json:"until,omitzero"`
}

// StartDate is the date component of Start.
func (s Spec) StartDate() Date { return DateOf(s.Start) }

// Validate reports why the engine would refuse s.
func (s Spec) Validate() error {
	if s.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidSpec)
	}
	if !s.Frequency.valid() {
		return fmt.Errorf("%w: unknown frequency %d", ErrInvalidSpec, int(s.Frequency))
	}
	if s.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1 (got %d)", ErrInvalidSpec, s.Interval)
	}
	if !s.Until.IsZero() && s.Until.Before(s.StartDate()) {
		return fmt.Errorf("%w: until %s is before start %s", ErrInvalidSpec, s.Until, s.StartDate())
	}
	return nil
}

// weekdays returns the effective weekday filter for Weekly specs.
func (s Spec) weekdays() WeekdaySet {
	if s.ByWeekday.Empty() {
		return Weekdays(s.StartDate().Weekday())
	}
	return s.ByWeekday
}

// String renders s as an RRULE line for logs and the CLI.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteString("FREQ=")
	b.WriteString(strings.ToUpper(s.Frequency.String()))
	b.WriteString(";INTERVAL=")
	b.WriteString(strconv.Itoa(s.Interval))
	if s.Frequency == Weekly && !s.ByWeekday.Empty() {
		b.WriteString(";BYDAY=")
		b.WriteString(s.ByWeekday.String())
	}
	if !s.Start.IsZero() {
		b.WriteString(";DTSTART=")
		b.WriteString(s.Start.Format("20060102T150405"))
	}
	if !s.Until.IsZero() {
		b.WriteString(";UNTIL=")
		b.WriteString(s.Until.Time().Format("20060102"))
	}
	return b.String()
}
