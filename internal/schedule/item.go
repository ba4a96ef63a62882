package schedule

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"schedd/internal/recurrence"
)

var ErrInvalidItem = errors.New("invalid schedule item")

type Status string

const (
	StatusPublish Status = "publish"
	StatusDraft   Status = "draft"
)

// ParseStatus maps the authoring form's values; blank means publish.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "publish", "published":
		return StatusPublish, nil
	case "draft":
		return StatusDraft, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidItem, s)
	}
}

// Item is a schedulable entity.
//
// LastChecked and FireHistory belong to the dispatcher. Authoring code must
// carry them over untouched when it rewrites a definition.
type Item struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status Status `json:"status"`

	RecurrenceEnabled bool             `json:"recurrence_enabled"`
	Recurrence        *recurrence.Spec `json:"recurrence,omitempty"`
	SingleStart       time.Time        `json:"single_start,omitzero"`

	LastChecked recurrence.Date   `json:"last_checked,omitzero"`
	FireHistory []recurrence.Date `json:"fire_history,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func (it Item) Published() bool { return it.Status == "" || it.Status == StatusPublish }

// StartDate is the first date the item can occur on.
func (it Item) StartDate() recurrence.Date {
	if it.RecurrenceEnabled && it.Recurrence != nil {
		return it.Recurrence.StartDate()
	}
	return recurrence.DateOf(it.SingleStart)
}

// FiredOn reports whether d is already in the fire history.
func (it Item) FiredOn(d recurrence.Date) bool { return slices.Contains(it.FireHistory, d) }

// CheckedOn reports whether the dispatcher already evaluated the item on d.
func (it Item) CheckedOn(d recurrence.Date) bool { return !d.IsZero() && it.LastChecked == d }

// WithDefinition returns it with the authored fields of def and the dispatch
// state of it. The result shares no memory with def.
func (it Item) WithDefinition(def Item) Item {
	out := def.Clone()
	out.ID = it.ID
	out.LastChecked = it.LastChecked
	out.FireHistory = slices.Clone(it.FireHistory)
	return out
}

// Clone deep-copies the slices and the spec pointer.
func (it Item) Clone() Item {
	out := it
	if it.Recurrence != nil {
		spec := *it.Recurrence
		out.Recurrence = &spec
	}
	out.FireHistory = slices.Clone(it.FireHistory)
	return out
}

// Describe is a short human summary of when the item happens.
func (it Item) Describe() string {
	if it.RecurrenceEnabled {
		if it.Recurrence == nil {
			return "recurring (no rule)"
		}
		return it.Recurrence.String()
	}
	if it.SingleStart.IsZero() {
		return "once (no start)"
	}
	return "once " + recurrence.FormatDateTime(it.SingleStart)
}

// Fire is the payload emitted when an item is due on Date.
type Fire struct {
	ItemID string          `json:"item_id"`
	Title  string          `json:"title,omitempty"`
	Date   recurrence.Date `json:"date"`
}
