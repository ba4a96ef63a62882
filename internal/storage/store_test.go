package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	logx "schedd/pkg/logx"
)

type backend struct {
	name string
	open func(t *testing.T, dir string) ClaimingStore
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(t *testing.T, dir string) ClaimingStore { return NewMemory() }},
		{name: "file", open: func(t *testing.T, dir string) ClaimingStore {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "schedd.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		}},
		{name: "sqlite", open: func(t *testing.T, dir string) ClaimingStore {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "schedd.sqlite")}, logx.Nop())
			require.NoError(t, err)
			return st
		}},
	}
}

func mustDate(t *testing.T, s string) recurrence.Date {
	t.Helper()
	d, err := recurrence.ParseDate(s)
	require.NoError(t, err)
	return d
}

func weeklyItem(id string) schedule.Item {
	return schedule.Item{
		ID:                id,
		Title:             "Item " + id,
		Status:            schedule.StatusPublish,
		RecurrenceEnabled: true,
		Recurrence: &recurrence.Spec{
			Frequency: recurrence.Weekly,
			Interval:  2,
			Start:     time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
			ByWeekday: recurrence.Weekdays(time.Monday, time.Wednesday),
			Until:     recurrence.NewDate(2025, time.June, 30),
		},
	}
}

func TestStoreContract(t *testing.T) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := b.open(t, t.TempDir())
			t.Cleanup(func() { _ = st.Close() })

			today := mustDate(t, "2025-01-08")

			require.NoError(t, st.PutItem(ctx, weeklyItem("b")))
			require.NoError(t, st.PutItem(ctx, schedule.Item{ID: "a", Status: schedule.StatusPublish, SingleStart: time.Date(2025, 1, 8, 15, 0, 0, 0, time.UTC)}))
			require.NoError(t, st.PutItem(ctx, schedule.Item{ID: "c", Status: schedule.StatusDraft, SingleStart: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)}))

			got, err := st.GetItem(ctx, "b")
			require.NoError(t, err)
			require.Equal(t, "Item b", got.Title)
			require.NotNil(t, got.Recurrence)
			require.Equal(t, recurrence.Weekly, got.Recurrence.Frequency)
			require.Equal(t, recurrence.Weekdays(time.Monday, time.Wednesday), got.Recurrence.ByWeekday)
			require.Equal(t, "2025-06-30", got.Recurrence.Until.String())
			require.Equal(t, "2025-01-06", got.Recurrence.StartDate().String())

			_, err = st.GetItem(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			all, err := st.ListItems(ctx, ListQuery{})
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c"}, ids(all))

			pub, err := st.ListItems(ctx, ListQuery{PublishedOnly: true, PendingFor: today})
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, ids(pub))

			page, err := st.ListItems(ctx, ListQuery{After: "a", Limit: 1})
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, ids(page))

			// Claim is a compare-and-set on LastChecked.
			prev, claimed, err := st.ClaimDay(ctx, "a", today)
			require.NoError(t, err)
			require.True(t, claimed)
			require.True(t, prev.IsZero())

			_, claimed, err = st.ClaimDay(ctx, "a", today)
			require.NoError(t, err)
			require.False(t, claimed)

			pending, err := st.ListItems(ctx, ListQuery{PublishedOnly: true, PendingFor: today})
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, ids(pending))

			require.NoError(t, st.ReleaseDay(ctx, "a", today, prev))
			got, err = st.GetItem(ctx, "a")
			require.NoError(t, err)
			require.True(t, got.LastChecked.IsZero())

			require.NoError(t, st.MarkChecked(ctx, "a", today))
			require.NoError(t, st.AppendFireHistory(ctx, "a", today))
			require.NoError(t, st.AppendFireHistory(ctx, "a", today))
			got, err = st.GetItem(ctx, "a")
			require.NoError(t, err)
			require.Equal(t, today, got.LastChecked)
			require.Equal(t, []recurrence.Date{today}, got.FireHistory)

			require.ErrorIs(t, st.MarkChecked(ctx, "missing", today), ErrNotFound)
			require.ErrorIs(t, st.AppendFireHistory(ctx, "missing", today), ErrNotFound)
			_, _, err = st.ClaimDay(ctx, "missing", today)
			require.ErrorIs(t, err, ErrNotFound)

			// Re-importing a definition keeps dispatch state.
			redef := schedule.Item{ID: "a", Title: "renamed", Status: schedule.StatusPublish, SingleStart: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
			require.NoError(t, st.PutItem(ctx, redef))
			got, err = st.GetItem(ctx, "a")
			require.NoError(t, err)
			require.Equal(t, "renamed", got.Title)
			require.Equal(t, today, got.LastChecked)
			require.Equal(t, []recurrence.Date{today}, got.FireHistory)

			require.NoError(t, st.AppendRun(ctx, RunRecord{ID: "r1", Date: today, StartedAt: time.Now().Add(-time.Minute), Checked: 2, Fired: 1}))
			require.NoError(t, st.AppendRun(ctx, RunRecord{ID: "r2", Date: today, StartedAt: time.Now(), Checked: 0}))
			runs, err := st.ListRuns(ctx, 1)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			require.Equal(t, "r2", runs[0].ID)
		})
	}
}

func TestStoreConcurrentClaims(t *testing.T) {
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := b.open(t, t.TempDir())
			t.Cleanup(func() { _ = st.Close() })

			require.NoError(t, st.PutItem(ctx, weeklyItem("x")))
			today := mustDate(t, "2025-01-06")

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, claimed, err := st.ClaimDay(ctx, "x", today)
					if err == nil && claimed {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "state.db")}
	today := mustDate(t, "2025-01-06")

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutItem(ctx, weeklyItem("x")))
	require.NoError(t, st.PutItem(ctx, weeklyItem("y")))
	_, claimed, err := st.ClaimDay(ctx, "x", today)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, st.AppendFireHistory(ctx, "x", today))
	require.NoError(t, st.AppendRun(ctx, RunRecord{ID: "r1", Date: today, Fired: 1}))

	// Replay from the journal without a compacting Close, as after a crash
	// that released the lock.
	fs := st.(*fileStore)
	require.NoError(t, fs.journalFile.Sync())
	require.NoError(t, fs.lock.Unlock())
	reopened, err := openFile(cfg, logx.Nop())
	require.NoError(t, err)
	got, err := reopened.GetItem(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, today, got.LastChecked)
	require.Equal(t, []recurrence.Date{today}, got.FireHistory)
	require.NoError(t, reopened.Close())

	// Closing compacts into the snapshot.
	require.NoError(t, st.Close())
	st2, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st2.Close() })
	items, err := st2.ListItems(ctx, ListQuery{PendingFor: today})
	require.NoError(t, err)
	require.Equal(t, []string{"y"}, ids(items))
	runs, err := st2.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestFileStoreSingleOpener(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.db")}
	today := mustDate(t, "2025-02-01")

	first, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, first.PutItem(ctx, weeklyItem("x")))

	_, err = Open(cfg, logx.Nop())
	require.ErrorIs(t, err, ErrLocked)

	_, claimed, err := first.ClaimDay(ctx, "x", today)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, first.Close())

	// Released on Close; the next opener sees the claim.
	second, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	_, claimed, err = second.ClaimDay(ctx, "x", today)
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestPutItemUpdateOwnsSpec(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	require.NoError(t, st.PutItem(ctx, weeklyItem("x")))

	upd := weeklyItem("x")
	upd.Recurrence.Interval = 3
	require.NoError(t, st.PutItem(ctx, upd))
	upd.Recurrence.Interval = 9

	got, err := st.GetItem(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 3, got.Recurrence.Interval)
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.PutItem(ctx, weeklyItem("x")), ErrClosed)
	_, err := st.ListItems(ctx, ListQuery{})
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func ids(items []schedule.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
