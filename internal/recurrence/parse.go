package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// ParseFrequency accepts daily|weekly|monthly|yearly in any case.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	case "yearly":
		return Yearly, nil
	default:
		return FreqUnknown, fmt.Errorf("%w: unknown frequency %q", ErrInvalidSpec, s)
	}
}

// MarshalText never fails so stored items with a broken rule still round-trip.
func (f Frequency) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Frequency) UnmarshalText(b []byte) error {
	if s := strings.TrimSpace(string(b)); s == "" || s == "unknown" {
		*f = FreqUnknown
		return nil
	}
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"mo": time.Monday, "mon": time.Monday, "monday": time.Monday,
	"tu": time.Tuesday, "tue": time.Tuesday, "tuesday": time.Tuesday,
	"we": time.Wednesday, "wed": time.Wednesday, "wednesday": time.Wednesday,
	"th": time.Thursday, "thu": time.Thursday, "thursday": time.Thursday,
	"fr": time.Friday, "fri": time.Friday, "friday": time.Friday,
	"sa": time.Saturday, "sat": time.Saturday, "saturday": time.Saturday,
	"su": time.Sunday, "sun": time.Sunday, "sunday": time.Sunday,
}

// ParseWeekday accepts two-letter tags (mo..su), three-letter abbreviations
// and full English names, case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return time.Sunday, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSpec, s)
	}
	return d, nil
}

// ParseWeekdays parses a list of weekday names. Each element may itself be a
// comma-separated list ("mo,we"). Blank elements are ignored.
func ParseWeekdays(items ...string) (WeekdaySet, error) {
	var set WeekdaySet
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d, err := ParseWeekday(part)
			if err != nil {
				return 0, err
			}
			set = set.Add(d)
		}
	}
	return set, nil
}

func weekdayTag(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "MO"
	case time.Tuesday:
		return "TU"
	case time.Wednesday:
		return "WE"
	case time.Thursday:
		return "TH"
	case time.Friday:
		return "FR"
	case time.Saturday:
		return "SA"
	default:
		return "SU"
	}
}

func (s WeekdaySet) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *WeekdaySet) UnmarshalText(b []byte) error {
	v, err := ParseWeekdays(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
