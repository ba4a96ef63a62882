package notifier

import (
	"context"
	"time"
)

// DefaultTemplate renders a fire as a one-line message.
const DefaultTemplate = "📅 {title} ({id}) is due on {date}"

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Template supports {id}, {title} and {date}.
	Template string
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	ItemID string    `json:"item_id"`
	Text   string    `json:"text"`
}

// Event is published on the bus for notifier lifecycle events
// (notifier.queued, notifier.dropped, notifier.sent, notifier.failed).
type Event struct {
	ItemID string    `json:"item_id"`
	Date   string    `json:"date"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
