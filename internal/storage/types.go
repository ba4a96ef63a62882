package storage

import (
	"context"
	"errors"
	"time"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
)

var (
	ErrNotFound = errors.New("item not found")
	ErrClosed   = errors.New("storage closed")
	ErrLocked   = errors.New("storage locked by another schedd process")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": snapshot + jsonl journal under Path's prefix
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ListQuery filters ListItems. Results are ordered by ID.
type ListQuery struct {
	// PendingFor keeps only items whose LastChecked differs from it.
	PendingFor recurrence.Date
	// PublishedOnly drops drafts.
	PublishedOnly bool
	// After is a keyset cursor: only IDs greater than it are returned.
	After string
	// Limit caps the page size; 0 means no limit.
	Limit int
}

func (q ListQuery) match(it schedule.Item) bool {
	if q.After != "" && it.ID <= q.After {
		return false
	}
	if q.PublishedOnly && !it.Published() {
		return false
	}
	if !q.PendingFor.IsZero() && it.LastChecked == q.PendingFor {
		return false
	}
	return true
}

// RunRecord is one dispatcher run, kept for operators.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID        string          `json:"id"`
	Date      recurrence.Date `json:"date"`
	StartedAt time.Time       `json:"started_at"`
	TookMS    int64           `json:"took_ms"`
	Checked   int             `json:"checked"`
	Fired     int             `json:"fired"`
	Invalid   int             `json:"invalid"`
	Failed    int             `json:"failed"`
	Error     string          `json:"error,omitempty"`
}

// Store is the persistence API used by the dispatcher and the CLI.
type Store interface {
	// PutItem inserts or replaces an item definition. Dispatch state
	// (LastChecked, FireHistory) of an existing item is preserved.
	PutItem(ctx context.Context, it schedule.Item) error
	GetItem(ctx context.Context, id string) (schedule.Item, error)
	ListItems(ctx context.Context, q ListQuery) ([]schedule.Item, error)

	MarkChecked(ctx context.Context, id string, d recurrence.Date) error
	// AppendFireHistory records d once; a repeated date is a no-op.
	AppendFireHistory(ctx context.Context, id string, d recurrence.Date) error

	AppendRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Close() error
}

// DayClaimer is the compare-and-set gate on LastChecked.
type DayClaimer interface {
	// ClaimDay sets LastChecked to d unless it already is d.
	// It returns the previous value and whether this caller won the claim.
	ClaimDay(ctx context.Context, id string, d recurrence.Date) (prev recurrence.Date, claimed bool, err error)
	// ReleaseDay restores prev if LastChecked is still d.
	ReleaseDay(ctx context.Context, id string, d, prev recurrence.Date) error
}
