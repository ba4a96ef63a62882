package recurrence

import (
	"errors"
	"testing"
	"time"
)

func d(s string) Date {
	v, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return v
}

func at(s string) time.Time {
	v, err := ParseDateTime(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestOccursOnWeeklyIntervalTwo(t *testing.T) {
	t.Parallel()
	eng := New(Config{})
	spec := Spec{
		Frequency: Weekly,
		Interval:  2,
		Start:     at("2025-01-06T09:00:00"),
		ByWeekday: Weekdays(time.Monday, time.Wednesday),
	}

	tests := []struct {
		date string
		want bool
	}{
		{"2025-01-05", false},
		{"2025-01-06", true},
		{"2025-01-07", false},
		{"2025-01-08", true},
		{"2025-01-13", false},
		{"2025-01-15", false},
		{"2025-01-20", true},
		{"2025-01-22", true},
		{"2025-01-24", false},
	}
	for _, tt := range tests {
		if got := eng.OccursOn(spec, d(tt.date)); got != tt.want {
			t.Fatalf("OccursOn(%s) = %v, want %v", tt.date, got, tt.want)
		}
	}
}

func TestOccursOnFrequencies(t *testing.T) {
	t.Parallel()
	eng := New(Config{})
	tests := []struct {
		name string
		spec Spec
		date string
		want bool
	}{
		{"daily start", Spec{Frequency: Daily, Interval: 1, Start: at("2025-03-01")}, "2025-03-01", true},
		{"daily before start", Spec{Frequency: Daily, Interval: 1, Start: at("2025-03-01")}, "2025-02-28", false},
		{"daily every 3 hit", Spec{Frequency: Daily, Interval: 3, Start: at("2025-03-01")}, "2025-03-07", true},
		{"daily every 3 miss", Spec{Frequency: Daily, Interval: 3, Start: at("2025-03-01")}, "2025-03-08", false},
		{"daily across dst", Spec{Frequency: Daily, Interval: 7, Start: at("2025-03-02")}, "2025-03-30", true},
		{"weekly empty set uses start weekday", Spec{Frequency: Weekly, Interval: 1, Start: at("2025-01-08")}, "2025-01-15", true},
		{"weekly empty set other day", Spec{Frequency: Weekly, Interval: 1, Start: at("2025-01-08")}, "2025-01-16", false},
		{"weekly sunday is end of week", Spec{Frequency: Weekly, Interval: 2, Start: at("2025-01-06"), ByWeekday: Weekdays(time.Sunday)}, "2025-01-12", true},
		{"weekly sunday off week", Spec{Frequency: Weekly, Interval: 2, Start: at("2025-01-06"), ByWeekday: Weekdays(time.Sunday)}, "2025-01-19", false},
		{"weekly set excludes start", Spec{Frequency: Weekly, Interval: 1, Start: at("2025-01-06"), ByWeekday: Weekdays(time.Tuesday)}, "2025-01-06", false},
		{"monthly same day", Spec{Frequency: Monthly, Interval: 1, Start: at("2025-01-15")}, "2025-04-15", true},
		{"monthly other day", Spec{Frequency: Monthly, Interval: 1, Start: at("2025-01-15")}, "2025-04-16", false},
		{"monthly interval 2 off month", Spec{Frequency: Monthly, Interval: 2, Start: at("2025-01-15")}, "2025-02-15", false},
		{"monthly 31st skips february", Spec{Frequency: Monthly, Interval: 1, Start: at("2025-01-31")}, "2025-02-28", false},
		{"yearly anniversary", Spec{Frequency: Yearly, Interval: 1, Start: at("2020-06-01")}, "2025-06-01", true},
		{"yearly interval 2 odd", Spec{Frequency: Yearly, Interval: 2, Start: at("2020-06-01")}, "2025-06-01", false},
		{"yearly leap day non-leap", Spec{Frequency: Yearly, Interval: 1, Start: at("2024-02-29")}, "2025-02-28", false},
		{"yearly leap day leap", Spec{Frequency: Yearly, Interval: 1, Start: at("2024-02-29")}, "2028-02-29", true},
		{"until inclusive", Spec{Frequency: Daily, Interval: 1, Start: at("2025-01-01"), Until: d("2025-01-10")}, "2025-01-10", true},
		{"after until", Spec{Frequency: Daily, Interval: 1, Start: at("2025-01-01"), Until: d("2025-01-10")}, "2025-01-11", false},
		{"byweekday ignored for daily", Spec{Frequency: Daily, Interval: 1, Start: at("2025-01-06"), ByWeekday: Weekdays(time.Monday)}, "2025-01-07", true},
		{"daily old start miss", Spec{Frequency: Daily, Interval: 2, Start: at("1700-01-01")}, "2025-01-02", false},
		{"daily old start hit", Spec{Frequency: Daily, Interval: 2, Start: at("1700-01-01")}, "2025-01-03", true},
		{"weekly old start hit", Spec{Frequency: Weekly, Interval: 2, Start: at("1700-01-01")}, "2025-01-03", true},
		{"weekly old start off week", Spec{Frequency: Weekly, Interval: 2, Start: at("1700-01-01")}, "2025-01-10", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := eng.OccursOn(tt.spec, d(tt.date)); got != tt.want {
				t.Fatalf("OccursOn(%s, %s) = %v, want %v", tt.spec, tt.date, got, tt.want)
			}
		})
	}
}

func TestOccursOnIgnoresTimeOfDay(t *testing.T) {
	t.Parallel()
	eng := New(Config{})
	late := Spec{Frequency: Daily, Interval: 2, Start: at("2025-01-01T23:59:59")}
	early := Spec{Frequency: Daily, Interval: 2, Start: at("2025-01-01T00:00:00")}
	for day := d("2025-01-01"); day.Before(d("2025-02-01")); day = day.AddDays(1) {
		if eng.OccursOn(late, day) != eng.OccursOn(early, day) {
			t.Fatalf("time of day changed result on %s", day)
		}
	}
}

func TestOccursOnInvalidSpec(t *testing.T) {
	t.Parallel()
	eng := New(Config{})
	tests := []Spec{
		{Frequency: Daily, Interval: 0, Start: at("2025-01-01")},
		{Frequency: Daily, Interval: -2, Start: at("2025-01-01")},
		{Frequency: FreqUnknown, Interval: 1, Start: at("2025-01-01")},
		{Frequency: Weekly, Interval: 1},
		{Frequency: Daily, Interval: 1, Start: at("2025-01-10"), Until: d("2025-01-01")},
	}
	for i, spec := range tests {
		if eng.OccursOn(spec, d("2025-01-10")) {
			t.Fatalf("case %d: invalid spec occurred", i)
		}
		if _, ok := eng.NextAfter(spec, d("2025-01-01")); ok {
			t.Fatalf("case %d: invalid spec has a next occurrence", i)
		}
		if err := spec.Validate(); !errors.Is(err, ErrInvalidSpec) {
			t.Fatalf("case %d: Validate() = %v, want ErrInvalidSpec", i, err)
		}
	}
}

func TestDaysSince(t *testing.T) {
	t.Parallel()
	tests := []struct {
		to, from string
		want     int
	}{
		{"2025-01-02", "2025-01-01", 1},
		{"2025-01-01", "2025-01-02", -1},
		{"2025-03-01", "2024-02-28", 367},
		{"2025-01-01", "1700-01-01", 118704},
		{"1700-01-01", "2025-01-01", -118704},
	}
	for _, tt := range tests {
		if got := d(tt.to).DaysSince(d(tt.from)); got != tt.want {
			t.Fatalf("DaysSince(%s, %s) = %d, want %d", tt.to, tt.from, got, tt.want)
		}
	}
}

func TestNextAfter(t *testing.T) {
	t.Parallel()
	eng := New(Config{})
	tests := []struct {
		name   string
		spec   Spec
		after  string
		want   string
		wantOK bool
	}{
		{"monthly 31st skips short months", Spec{Frequency: Monthly, Interval: 1, Start: at("2025-01-31")}, "2025-01-31", "2025-03-31", true},
		{"monthly before start", Spec{Frequency: Monthly, Interval: 1, Start: at("2025-01-31")}, "2024-06-01", "2025-01-31", true},
		{"weekly two week gap", Spec{Frequency: Weekly, Interval: 2, Start: at("2025-01-06"), ByWeekday: Weekdays(time.Monday, time.Wednesday)}, "2025-01-08", "2025-01-20", true},
		{"daily next day", Spec{Frequency: Daily, Interval: 1, Start: at("2025-01-01")}, "2025-05-05", "2025-05-06", true},
		{"yearly leap day", Spec{Frequency: Yearly, Interval: 1, Start: at("2024-02-29")}, "2024-02-29", "2028-02-29", true},
		{"yearly across new year", Spec{Frequency: Yearly, Interval: 1, Start: at("2020-12-31")}, "2025-01-01", "2025-12-31", true},
		{"monthly interval 3", Spec{Frequency: Monthly, Interval: 3, Start: at("2025-01-10")}, "2025-01-10", "2025-04-10", true},
		{"weekly until reached", Spec{Frequency: Weekly, Interval: 1, Start: at("2025-01-06"), Until: d("2025-02-01")}, "2025-02-01", "", false},
		{"weekly until before next", Spec{Frequency: Weekly, Interval: 1, Start: at("2025-01-06"), Until: d("2025-02-01")}, "2025-01-27", "", false},
		{"weekly until last", Spec{Frequency: Weekly, Interval: 1, Start: at("2025-01-06"), Until: d("2025-02-01")}, "2025-01-20", "2025-01-27", true},
		{"daily old start", Spec{Frequency: Daily, Interval: 2, Start: at("1700-01-01")}, "2025-01-01", "2025-01-03", true},
		{"yearly leap day every fourth year", Spec{Frequency: Yearly, Interval: 4, Start: at("2024-02-29")}, "2024-02-29", "2028-02-29", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := eng.NextAfter(tt.spec, d(tt.after))
			if ok != tt.wantOK {
				t.Fatalf("NextAfter(%s) ok = %v, want %v (got %s)", tt.after, ok, tt.wantOK, got)
			}
			if ok && got.String() != tt.want {
				t.Fatalf("NextAfter(%s) = %s, want %s", tt.after, got, tt.want)
			}
		})
	}
}

func TestNextAfterHorizon(t *testing.T) {
	t.Parallel()
	// Feb 29 every 5 years from 2024 lands on a leap year only every 20 years.
	spec := Spec{Frequency: Yearly, Interval: 5, Start: at("2024-02-29")}
	if _, ok := New(Config{HorizonYears: 10}).NextAfter(spec, d("2024-02-29")); ok {
		t.Fatal("expected none within a 10 year horizon")
	}
	got, ok := New(Config{HorizonYears: 25}).NextAfter(spec, d("2024-02-29"))
	if !ok || got != d("2044-02-29") {
		t.Fatalf("NextAfter = %s, %v; want 2044-02-29", got, ok)
	}
}

func TestNextAfterIsStrictlyLaterAndOccurs(t *testing.T) {
	t.Parallel()
	eng := New(Config{})
	specs := []Spec{
		{Frequency: Daily, Interval: 5, Start: at("2025-01-03")},
		{Frequency: Weekly, Interval: 3, Start: at("2025-01-01"), ByWeekday: Weekdays(time.Friday, time.Sunday)},
		{Frequency: Monthly, Interval: 1, Start: at("2025-01-30")},
		{Frequency: Yearly, Interval: 1, Start: at("2025-07-04")},
	}
	for _, spec := range specs {
		for day := d("2024-12-01"); day.Before(d("2025-04-01")); day = day.AddDays(1) {
			next, ok := eng.NextAfter(spec, day)
			if !ok {
				t.Fatalf("%s: no next after %s", spec, day)
			}
			if !next.After(day) {
				t.Fatalf("%s: next %s not after %s", spec, next, day)
			}
			if !eng.OccursOn(spec, next) {
				t.Fatalf("%s: next %s does not occur", spec, next)
			}
			for between := day.AddDays(1); between.Before(next); between = between.AddDays(1) {
				if eng.OccursOn(spec, between) {
					t.Fatalf("%s: skipped occurrence %s (next after %s was %s)", spec, between, day, next)
				}
			}
		}
	}
}
