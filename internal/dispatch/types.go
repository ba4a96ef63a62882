package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	"schedd/internal/storage"
)

const (
	// EventFire is the hook event emitted for every due item.
	EventFire = "schedule.event"

	// Bus event types.
	BusEventFired = "dispatch.fired"
	BusEventRun   = "dispatch.run"

	DefaultTriggerName = "schedd.dispatch"
	DefaultCadence     = "0 * * * *"
	DefaultPageSize    = 100
)

// ErrPersistence marks storage failures surfaced by Run. The affected item
// stays pending and is retried on the next run.
var ErrPersistence = errors.New("persistence failure")

// Store is what the dispatcher needs from storage. A store that also
// implements storage.DayClaimer gets compare-and-set gating.
type Store interface {
	ListItems(ctx context.Context, q storage.ListQuery) ([]schedule.Item, error)
	MarkChecked(ctx context.Context, id string, d recurrence.Date) error
	AppendFireHistory(ctx context.Context, id string, d recurrence.Date) error
}

// RunRecorder is implemented by stores that keep a run log.
type RunRecorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// Waker is the periodic wake-up facility.
type Waker interface {
	// Ensure registers job under name unless an entry with that name exists.
	Ensure(name, spec string, job func(ctx context.Context)) (added bool, err error)
}

type Config struct {
	// Location decides what "today" is; nil means UTC.
	Location       *time.Location
	Cadence        string
	TriggerName    string
	RunTimeout     time.Duration
	PageSize       int
	MaxItemsPerRun int
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Cadence == "" {
		c.Cadence = DefaultCadence
	}
	if c.TriggerName == "" {
		c.TriggerName = DefaultTriggerName
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxItemsPerRun < 0 {
		c.MaxItemsPerRun = 0
	}
	return c
}

// Report summarizes one run.
type Report struct {
	RunID   string          `json:"run_id"`
	Date    recurrence.Date `json:"date"`
	Started time.Time       `json:"started"`
	Took    time.Duration   `json:"took"`

	// Checked counts items this run evaluated (claimed or gated open).
	Checked int `json:"checked"`
	Fired   int `json:"fired"`
	// Skipped counts items another run had already checked today.
	Skipped int `json:"skipped"`
	Invalid int `json:"invalid"`
	Failed  int `json:"failed"`
	// Truncated is set when MaxItemsPerRun stopped the run early.
	Truncated bool `json:"truncated,omitempty"`

	FiredIDs []string `json:"fired_ids,omitempty"`
}

func (r Report) String() string {
	s := fmt.Sprintf("%s: checked=%d fired=%d skipped=%d invalid=%d failed=%d took=%s",
		r.Date, r.Checked, r.Fired, r.Skipped, r.Invalid, r.Failed, r.Took.Round(time.Millisecond))
	if r.Truncated {
		s += " (truncated)"
	}
	return s
}
