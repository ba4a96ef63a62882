package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schedd/internal/eventbus"
	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	logx "schedd/pkg/logx"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	fails   int
	sent    []string
	started chan struct{}
	release chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram: 502 bad gateway")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func fire(id string) schedule.Fire {
	return schedule.Fire{ItemID: id, Title: "Standup " + id, Date: recurrence.NewDate(2025, time.March, 10)}
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		Template:      "{title} [{id}] {date}",
	}
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRender(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Standup a [a] 2025-03-10", Render("{title} [{id}] {date}", fire("a")))
	require.Equal(t, "b is due", Render("{title} is due", schedule.Fire{ItemID: "b"}))
}

func TestHandleFireDeliversAndDrainsOnStop(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.HandleFire(context.Background(), fire(id)))
	}
	stop(t, s)

	require.Equal(t, []string{
		"Standup a [a] 2025-03-10",
		"Standup b [b] 2025-03-10",
		"Standup c [c] 2025-03-10",
	}, snd.Sent())
	require.Len(t, s.Snapshot(), 3)

	sent := 0
	for len(events) > 0 {
		if ev := <-events; ev.Type == "notifier.sent" {
			sent++
		}
	}
	require.Equal(t, 3, sent)
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fails: 2}
	s := New(testConfig(), snd, logx.Nop(), nil)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), fire("a")))
	stop(t, s)
	require.Equal(t, []string{"Standup a [a] 2025-03-10"}, snd.Sent())
}

func TestGivesUpAfterRetryMax(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fails: 10}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), fire("a")))
	stop(t, s)

	require.Empty(t, snd.Sent())
	snd.mu.Lock()
	require.Equal(t, 7, snd.fails)
	snd.mu.Unlock()

	var failed bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == "notifier.failed" {
			failed = true
			require.Equal(t, "a", ev.Data.(Event).ItemID)
		}
	}
	require.True(t, failed)
}

func TestDisabledIsANoopHook(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, logx.Nop(), nil)
	s.Start(context.Background())
	require.NoError(t, s.HandleFire(context.Background(), fire("a")))
	require.ErrorIs(t, s.Notify(context.Background(), fire("a")), ErrDisabled)
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{started: make(chan struct{}, 1), release: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(cfg, snd, logx.Nop(), nil)
	s.Start(context.Background())

	require.NoError(t, s.Notify(context.Background(), fire("a")))
	select {
	case <-snd.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first job")
	}
	require.NoError(t, s.Notify(context.Background(), fire("b")))
	require.ErrorIs(t, s.Notify(context.Background(), fire("c")), ErrQueueFull)

	close(snd.release)
	stop(t, s)
	require.Equal(t, []string{"Standup a [a] 2025-03-10", "Standup b [b] 2025-03-10"}, snd.Sent())
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), &fakeSender{}, logx.Nop(), nil)
	require.ErrorIs(t, s.Notify(context.Background(), fire("a")), ErrStopped)

	s.Start(context.Background())
	stop(t, s)
	require.ErrorIs(t, s.Notify(context.Background(), fire("a")), ErrStopped)

	// restartable
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), fire("a")))
	stop(t, s)
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}
	require.LessOrEqual(t, retryDelay(cfg, 1), 130*time.Millisecond)
}
