package trigger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means UTC
	// JobTimeout bounds each job run; 0 disables.
	JobTimeout time.Duration
}

type entry struct {
	name    string
	spec    string // normalized cron spec
	job     func(ctx context.Context)
	entryID cron.EntryID
}

type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Running  bool
	Timezone string
	Entries  []EntryInfo
}
