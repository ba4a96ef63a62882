package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule parses raw and checks the resulting cron expression.
func ValidateSchedule(raw string) (ParsedSpec, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return ParsedSpec{}, err
	}
	if _, err := specParser.Parse(ps.CronSpec()); err != nil {
		return ParsedSpec{}, fmt.Errorf("schedule %q: %w", raw, err)
	}
	return ps, nil
}

// SpecKind is the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a parsed schedule string.
//
// Supported forms:
//   - Cron: "0 * * * *", "*/5 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// A "cron:" prefix forces cron parsing, "interval:" or "every:" force
// interval parsing.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

// CronSpec is the expression handed to cron.
func (p ParsedSpec) CronSpec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSpec(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSpec(s[len("every:"):])
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	if ps, err := parseIntervalSpec(s); err == nil {
		return ps, nil
	}
	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '0 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseIntervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m')", v)
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}
