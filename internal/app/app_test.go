package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"schedd/internal/dispatch"
	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	"schedd/internal/storage"

	"github.com/stretchr/testify/require"
)

const itemsYAML = `
- id: daily
  title: Water plants
  start: 2025-01-01T08:00:00
  recurrence:
    enabled: true
    freq: daily
- id: launch
  title: Launch
  start: 2025-03-10T08:00:00
`

func writeFixture(t *testing.T, cfgBody string) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "items.yaml"), []byte(itemsYAML), 0o644))
	cfgPath = filepath.Join(dir, "schedd.yaml")
	body := strings.ReplaceAll(cfgBody, "$DIR", dir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return dir, cfgPath
}

type captured struct {
	mu    sync.Mutex
	fires []schedule.Fire
}

func (c *captured) on(_ context.Context, f schedule.Fire) error {
	c.mu.Lock()
	c.fires = append(c.fires, f)
	c.mu.Unlock()
	return nil
}

func (c *captured) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.fires))
	for _, f := range c.fires {
		out = append(out, f.ItemID)
	}
	return out
}

func TestRunOnceFiresDueItems(t *testing.T) {
	t.Parallel()
	_, cfgPath := writeFixture(t, `
logging: {level: error}
storage: {driver: file, path: "$DIR/state"}
dispatcher: {enabled: false}
notifier: {enabled: true, rate_per_sec: 100}
`)
	a, err := New(cfgPath)
	require.NoError(t, err)
	defer a.Stop(context.Background(), StopOneShot)

	var c captured
	a.Hooks().On(dispatch.EventFire, "capture", c.on)

	ctx := context.Background()
	n, err := a.ImportItems(ctx, filepath.Join(filepath.Dir(cfgPath), "items.yaml"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rep, err := a.RunOnce(ctx, recurrence.NewDate(2025, time.March, 10))
	require.NoError(t, err)
	require.Equal(t, 2, rep.Fired)
	require.ElementsMatch(t, []string{"daily", "launch"}, c.ids())

	// second run the same day is a no-op
	rep, err = a.RunOnce(ctx, recurrence.NewDate(2025, time.March, 10))
	require.NoError(t, err)
	require.Zero(t, rep.Fired)

	rep, err = a.RunOnce(ctx, recurrence.NewDate(2025, time.March, 11))
	require.NoError(t, err)
	require.Equal(t, []string{"daily"}, rep.FiredIDs)
}

func TestReimportWithoutIDsKeepsOneItem(t *testing.T) {
	t.Parallel()
	dir, cfgPath := writeFixture(t, `
logging: {level: error}
dispatcher: {enabled: false}
`)
	anon := filepath.Join(dir, "anon.yaml")
	require.NoError(t, os.WriteFile(anon, []byte(`
- title: Stretch
  start: 2025-01-01T07:00:00
  recurrence: {enabled: true, freq: daily}
`), 0o644))

	a, err := New(cfgPath)
	require.NoError(t, err)
	defer a.Stop(context.Background(), StopOneShot)

	var c captured
	a.Hooks().On(dispatch.EventFire, "capture", c.on)

	ctx := context.Background()
	day := recurrence.NewDate(2025, time.February, 1)
	for range 2 {
		_, err := a.ImportItems(ctx, anon)
		require.NoError(t, err)
		_, err = a.RunOnce(ctx, day)
		require.NoError(t, err)
	}

	items, err := a.Store().ListItems(ctx, storage.ListQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, c.ids(), 1)
	require.Equal(t, []recurrence.Date{day}, items[0].FireHistory)
}

func TestStartRunsOnStartAndReloads(t *testing.T) {
	t.Parallel()
	_, cfgPath := writeFixture(t, `
logging: {level: error}
dispatcher: {enabled: true, run_on_start: true}
items: {file: "$DIR/items.yaml"}
`)
	a, err := New(cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		_, ok := a.Dispatcher().LastReport()
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	st := a.Status()
	require.True(t, st.Dispatcher)
	require.NotNil(t, st.LastRun)
	require.Len(t, st.Trigger.Entries, 1)
	require.Equal(t, dispatch.DefaultTriggerName, st.Trigger.Entries[0].Name)
	require.False(t, st.Notifier.Enabled)

	it, err := a.Store().GetItem(ctx, "daily")
	require.NoError(t, err)
	require.Equal(t, a.Dispatcher().Today(), it.LastChecked)

	// hot reload: enable the notifier, disable dispatch
	body, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	body = []byte(strings.Replace(string(body), "dispatcher: {enabled: true, run_on_start: true}", "dispatcher: {enabled: false}\nnotifier: {enabled: true}", 1))
	require.NoError(t, os.WriteFile(cfgPath, body, 0o644))
	// The file watcher may get there first; either way the change is applied.
	_, err = a.cfgm.Reload(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := a.Status()
		return s.Notifier.Enabled && !s.Dispatcher && !s.Trigger.Running
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
}

func TestCadenceReloadReplacesRegisteredTrigger(t *testing.T) {
	t.Parallel()
	_, cfgPath := writeFixture(t, `
logging: {level: error}
dispatcher: {enabled: true, cadence: "0 * * * *"}
`)
	a, err := New(cfgPath)
	require.NoError(t, err)

	dc, _, err := mapDispatcherConfig(a.Config())
	require.NoError(t, err)
	dc.TriggerName = "custom.dispatch"
	a.disp.Apply(dc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	require.Equal(t, "custom.dispatch", a.Status().Trigger.Entries[0].Name)

	body := []byte("logging: {level: error}\ndispatcher: {enabled: true, cadence: \"30 * * * *\"}\n")
	require.NoError(t, os.WriteFile(cfgPath, body, 0o644))
	// The file watcher may get there first; either way the change is applied.
	_, err = a.cfgm.Reload(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e := a.Status().Trigger.Entries
		return len(e) == 1 && e[0].Name == dispatch.DefaultTriggerName && e[0].Spec == "30 * * * *"
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	_, cfgPath := writeFixture(t, `
dispatcher: {enabled: true, cadence: "every banana"}
`)
	_, err := New(cfgPath)
	require.ErrorContains(t, err, "dispatcher.cadence")
}
