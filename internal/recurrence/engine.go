package recurrence

import "time"

// DefaultHorizonYears bounds NextAfter when Config leaves it unset.
const DefaultHorizonYears = 10

type Config struct {
	// HorizonYears is how far past the search start NextAfter looks.
	HorizonYears int
}

type Engine struct {
	horizonYears int
}

func New(cfg Config) *Engine {
	h := cfg.HorizonYears
	if h <= 0 {
		h = DefaultHorizonYears
	}
	return &Engine{horizonYears: h}
}

func (e *Engine) HorizonYears() int {
	if e == nil || e.horizonYears <= 0 {
		return DefaultHorizonYears
	}
	return e.horizonYears
}

// Validate is Spec.Validate, exposed on the engine for callers holding one.
func (e *Engine) Validate(s Spec) error { return s.Validate() }

// OccursOn reports whether s has an occurrence on d.
// Invalid specs never occur.
func (e *Engine) OccursOn(s Spec, d Date) bool {
	if d.IsZero() || s.Validate() != nil {
		return false
	}
	start := s.StartDate()
	if d.Before(start) {
		return false
	}
	if !s.Until.IsZero() && d.After(s.Until) {
		return false
	}

	switch s.Frequency {
	case Daily:
		return d.DaysSince(start)%s.Interval == 0
	case Weekly:
		if !s.weekdays().Has(d.Weekday()) {
			return false
		}
		weeks := d.WeekStart().DaysSince(start.WeekStart()) / 7
		return weeks%s.Interval == 0
	case Monthly:
		if d.Day != start.Day {
			return false
		}
		return d.MonthsSince(start)%s.Interval == 0
	case Yearly:
		if d.Month != start.Month || d.Day != start.Day {
			return false
		}
		return (d.Year-start.Year)%s.Interval == 0
	default:
		return false
	}
}

// NextAfter returns the first occurrence strictly after d. The search starts
// at max(d+1, start) and stops at until or the engine horizon, whichever
// comes first.
func (e *Engine) NextAfter(s Spec, d Date) (Date, bool) {
	if d.IsZero() || s.Validate() != nil {
		return Date{}, false
	}
	begin := d.AddDays(1)
	if start := s.StartDate(); begin.Before(start) {
		begin = start
	}
	end := NewDate(begin.Year+e.HorizonYears(), begin.Month, begin.Day)
	if !s.Until.IsZero() && s.Until.Before(end) {
		end = s.Until
	}

	for cur := begin; !cur.After(end); cur = e.step(s, cur) {
		if e.OccursOn(s, cur) {
			return cur, true
		}
	}
	return Date{}, false
}

// step advances the scan cursor. Monthly and yearly rules only match on the
// anchor's day of month, so the cursor can skip straight to the next candidate.
func (e *Engine) step(s Spec, cur Date) Date {
	start := s.StartDate()
	switch s.Frequency {
	case Monthly:
		if cur.Day < start.Day && start.Day <= daysIn(cur.Year, cur.Month) {
			return Date{Year: cur.Year, Month: cur.Month, Day: start.Day}
		}
		return firstOfNextMonth(cur)
	case Yearly:
		if cur.Month < start.Month {
			return Date{Year: cur.Year, Month: start.Month, Day: 1}
		}
		if cur.Month > start.Month {
			return Date{Year: cur.Year + 1, Month: start.Month, Day: 1}
		}
		if cur.Day < start.Day && start.Day <= daysIn(cur.Year, cur.Month) {
			return Date{Year: cur.Year, Month: cur.Month, Day: start.Day}
		}
		return Date{Year: cur.Year + 1, Month: start.Month, Day: 1}
	default:
		return cur.AddDays(1)
	}
}

func firstOfNextMonth(d Date) Date {
	if d.Month == 12 {
		return Date{Year: d.Year + 1, Month: 1, Day: 1}
	}
	return Date{Year: d.Year, Month: d.Month + 1, Day: 1}
}

func daysIn(year int, month time.Month) int {
	return Date{Year: year, Month: month, Day: 1}.Time().AddDate(0, 1, -1).Day()
}
