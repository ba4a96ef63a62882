package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
)

// Memory is a process-local store.
type Memory struct {
	mu     sync.Mutex
	t      *itemTable
	closed bool
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{t: newItemTable(), now: time.Now}
}

func (m *Memory) PutItem(ctx context.Context, it schedule.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it.ID == "" {
		return fmt.Errorf("%w: id is required", schedule.ErrInvalidItem)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.t.put(it, m.now())
	return nil
}

func (m *Memory) GetItem(ctx context.Context, id string) (schedule.Item, error) {
	if err := ctx.Err(); err != nil {
		return schedule.Item{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return schedule.Item{}, ErrClosed
	}
	it, ok := m.t.get(id)
	if !ok {
		return schedule.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it, nil
}

func (m *Memory) ListItems(ctx context.Context, q ListQuery) ([]schedule.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.t.list(q), nil
}

func (m *Memory) MarkChecked(ctx context.Context, id string, d recurrence.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.t.markChecked(id, d) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (m *Memory) AppendFireHistory(ctx context.Context, id string, d recurrence.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if found, _ := m.t.appendFire(id, d); !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (m *Memory) ClaimDay(ctx context.Context, id string, d recurrence.Date) (recurrence.Date, bool, error) {
	if err := ctx.Err(); err != nil {
		return recurrence.Date{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recurrence.Date{}, false, ErrClosed
	}
	prev, found, claimed := m.t.claim(id, d)
	if !found {
		return recurrence.Date{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return prev, claimed, nil
}

func (m *Memory) ReleaseDay(ctx context.Context, id string, d, prev recurrence.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if found, _ := m.t.release(id, d, prev); !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (m *Memory) AppendRun(ctx context.Context, r RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.t.appendRun(r)
	return nil
}

func (m *Memory) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.t.lastRuns(limit), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
