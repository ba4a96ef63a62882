package storage

import (
	"sort"
	"time"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
)

// itemTable is the in-memory item state shared by the memory and file
// backends. Callers hold the owning store's lock.
type itemTable struct {
	items map[string]schedule.Item
	runs  []RunRecord
}

func newItemTable() *itemTable {
	return &itemTable{items: map[string]schedule.Item{}}
}

func (t *itemTable) put(it schedule.Item, now time.Time) schedule.Item {
	if cur, ok := t.items[it.ID]; ok {
		it = cur.WithDefinition(it)
	} else {
		it = it.Clone()
	}
	if it.Status == "" {
		it.Status = schedule.StatusPublish
	}
	it.UpdatedAt = now
	t.items[it.ID] = it
	return it
}

func (t *itemTable) get(id string) (schedule.Item, bool) {
	it, ok := t.items[id]
	if !ok {
		return schedule.Item{}, false
	}
	return it.Clone(), true
}

func (t *itemTable) list(q ListQuery) []schedule.Item {
	ids := make([]string, 0, len(t.items))
	for id, it := range t.items {
		if q.match(it) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	out := make([]schedule.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.items[id].Clone())
	}
	return out
}

func (t *itemTable) markChecked(id string, d recurrence.Date) bool {
	it, ok := t.items[id]
	if !ok {
		return false
	}
	it.LastChecked = d
	t.items[id] = it
	return true
}

// appendFire reports (found, appended).
func (t *itemTable) appendFire(id string, d recurrence.Date) (bool, bool) {
	it, ok := t.items[id]
	if !ok {
		return false, false
	}
	if it.FiredOn(d) {
		return true, false
	}
	it.FireHistory = append(it.FireHistory, d)
	t.items[id] = it
	return true, true
}

// claim reports (prev, found, claimed).
func (t *itemTable) claim(id string, d recurrence.Date) (recurrence.Date, bool, bool) {
	it, ok := t.items[id]
	if !ok {
		return recurrence.Date{}, false, false
	}
	prev := it.LastChecked
	if prev == d {
		return prev, true, false
	}
	it.LastChecked = d
	t.items[id] = it
	return prev, true, true
}

// release reports (found, released).
func (t *itemTable) release(id string, d, prev recurrence.Date) (bool, bool) {
	it, ok := t.items[id]
	if !ok {
		return false, false
	}
	if it.LastChecked != d {
		return true, false
	}
	it.LastChecked = prev
	t.items[id] = it
	return true, true
}

func (t *itemTable) appendRun(r RunRecord) {
	t.runs = append(t.runs, r)
}

// lastRuns returns up to limit runs, newest first.
func (t *itemTable) lastRuns(limit int) []RunRecord {
	n := len(t.runs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]RunRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.runs[i])
	}
	return out
}
