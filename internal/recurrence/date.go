package recurrence

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day or zone.
//
// All recurrence math happens on Dates so local-time boundaries can never
// shift an occurrence by a day. The zero value means "unset".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate normalizes y/m/d (e.g. Feb 30 becomes Mar 2).
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the date component of t as written, without converting zones.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current calendar date in loc (UTC when loc is nil).
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return sign(d.Year - o.Year)
	case d.Month != o.Month:
		return sign(int(d.Month) - int(o.Month))
	default:
		return sign(d.Day - o.Day)
	}
}

const secondsPerDay = 24 * 60 * 60

// DaysSince returns the number of whole days from o to d (negative if d is before o).
func (d Date) DaysSince(o Date) int {
	// Both are UTC midnights, so the difference is an exact multiple of a day.
	// Unix seconds avoid time.Duration's ~292 year limit.
	return int((d.Time().Unix() - o.Time().Unix()) / secondsPerDay)
}

// MonthsSince returns the calendar-month distance from o to d, ignoring days.
func (d Date) MonthsSince(o Date) int {
	return (d.Year-o.Year)*12 + int(d.Month) - int(o.Month)
}

// WeekStart returns the Monday on or before d.
func (d Date) WeekStart() Date {
	off := (int(d.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
	return d.AddDays(-off)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = Date{}
		return nil
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDate parses YYYY-MM-DD. Longer date-time strings are truncated to their
// date component first, so "2025-03-10T08:00:00" parses as 2025-03-10.
func ParseDate(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", raw)
	}
	return DateOf(t), nil
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.RFC3339,
	dateLayout,
}

// ParseDateTime parses the date-time forms an authoring surface hands us.
// Zone offsets are accepted but the wall-clock date as written is what counts.
func ParseDateTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("date-time required")
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q (want YYYY-MM-DDTHH:MM:SS)", raw)
}

// FormatDateTime is the storage form of a start date-time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02T15:04:05")
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
