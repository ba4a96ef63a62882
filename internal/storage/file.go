package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	logx "schedd/pkg/logx"
)

const (
	fileCompactEvery = 1000
	fileRunsKept     = 1000
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.items.snapshot.json (periodic snapshot)
//   - <prefix>.items.journal.jsonl (append-only journal)
//   - <prefix>.runs.jsonl          (append-only JSON Lines)
//
// The journal is compacted into the snapshot every fileCompactEvery writes
// and on Close. <prefix>.lock is held exclusively while the store is open:
// a second opener, in this or another process, gets ErrLocked.
type fileStore struct {
	log  logx.Logger
	lock *flock.Flock

	mu sync.Mutex
	t  *itemTable

	snapshotPath string
	journalFile  *os.File
	runsFile     *os.File

	writes int
	now    func() time.Time
}

type journalOp string

const (
	opPut     journalOp = "put"
	opCheck   journalOp = "check"
	opFire    journalOp = "fire"
	opRelease journalOp = "release"
)

type journalRecord struct {
	Op   journalOp       `json:"op"`
	ID   string          `json:"id"`
	Item *schedule.Item  `json:"item,omitempty"`
	Date recurrence.Date `json:"date,omitzero"`
	Prev recurrence.Date `json:"prev,omitzero"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	lock := flock.New(prefix + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}
	fs, err := loadFileStore(prefix, log)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	fs.lock = lock
	return fs, nil
}

func loadFileStore(prefix string, log logx.Logger) (*fileStore, error) {
	snapPath := prefix + ".items.snapshot.json"
	journalPath := prefix + ".items.journal.jsonl"
	runsPath := prefix + ".runs.jsonl"

	t := newItemTable()
	if err := loadItemSnapshot(snapPath, t); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if n, err := replayItemJournal(journalPath, t); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	} else if n > 0 {
		log.Debug("journal replayed", logx.Int("records", n))
	}
	if err := loadRuns(runsPath, t); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("runs log unreadable", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		t:            t,
		snapshotPath: snapPath,
		journalFile:  jf,
		runsFile:     rf,
		now:          time.Now,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	var errs []error
	if err := s.compactLocked(); err != nil {
		errs = append(errs, fmt.Errorf("compact: %w", err))
	}
	if err := s.journalFile.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.runsFile.Close(); err != nil {
		errs = append(errs, err)
	}
	s.journalFile = nil
	s.runsFile = nil
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *fileStore) PutItem(ctx context.Context, it schedule.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it.ID == "" {
		return fmt.Errorf("%w: id is required", schedule.ErrInvalidItem)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}

	// Merge on a scratch table so the journal gets the exact stored row.
	scratch := &itemTable{items: map[string]schedule.Item{}}
	if cur, ok := s.t.items[it.ID]; ok {
		scratch.items[it.ID] = cur
	}
	merged := scratch.put(it, s.now())
	if err := s.journalLocked(journalRecord{Op: opPut, ID: merged.ID, Item: &merged}); err != nil {
		return err
	}
	s.t.items[merged.ID] = merged
	return nil
}

func (s *fileStore) GetItem(ctx context.Context, id string) (schedule.Item, error) {
	if err := ctx.Err(); err != nil {
		return schedule.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return schedule.Item{}, ErrClosed
	}
	it, ok := s.t.get(id)
	if !ok {
		return schedule.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it, nil
}

func (s *fileStore) ListItems(ctx context.Context, q ListQuery) ([]schedule.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return s.t.list(q), nil
}

func (s *fileStore) MarkChecked(ctx context.Context, id string, d recurrence.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.existsLocked(id); err != nil {
		return err
	}
	if err := s.journalLocked(journalRecord{Op: opCheck, ID: id, Date: d}); err != nil {
		return err
	}
	s.t.markChecked(id, d)
	return nil
}

func (s *fileStore) AppendFireHistory(ctx context.Context, id string, d recurrence.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.existsLocked(id); err != nil {
		return err
	}
	if s.t.items[id].FiredOn(d) {
		return nil
	}
	if err := s.journalLocked(journalRecord{Op: opFire, ID: id, Date: d}); err != nil {
		return err
	}
	s.t.appendFire(id, d)
	return nil
}

func (s *fileStore) ClaimDay(ctx context.Context, id string, d recurrence.Date) (recurrence.Date, bool, error) {
	if err := ctx.Err(); err != nil {
		return recurrence.Date{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.existsLocked(id); err != nil {
		return recurrence.Date{}, false, err
	}
	prev := s.t.items[id].LastChecked
	if prev == d {
		return prev, false, nil
	}
	if err := s.journalLocked(journalRecord{Op: opCheck, ID: id, Date: d}); err != nil {
		return prev, false, err
	}
	s.t.claim(id, d)
	return prev, true, nil
}

func (s *fileStore) ReleaseDay(ctx context.Context, id string, d, prev recurrence.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.existsLocked(id); err != nil {
		return err
	}
	if s.t.items[id].LastChecked != d {
		return nil
	}
	if err := s.journalLocked(journalRecord{Op: opRelease, ID: id, Date: d, Prev: prev}); err != nil {
		return err
	}
	s.t.release(id, d, prev)
	return nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.runsFile).Encode(r); err != nil {
		return err
	}
	s.t.appendRun(r)
	if len(s.t.runs) > fileRunsKept {
		s.t.runs = append([]RunRecord(nil), s.t.runs[len(s.t.runs)-fileRunsKept:]...)
	}
	return nil
}

func (s *fileStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil, ErrClosed
	}
	return s.t.lastRuns(limit), nil
}

func (s *fileStore) existsLocked(id string) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.t.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *fileStore) journalLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.t.items); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadItemSnapshot(path string, t *itemTable) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]schedule.Item
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		t.items[k] = v
	}
	return nil
}

func replayItemJournal(path string, t *itemTable) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn trailing write after a crash.
			continue
		}
		switch r.Op {
		case opPut:
			if r.Item != nil && r.Item.ID != "" {
				t.items[r.Item.ID] = *r.Item
			}
		case opCheck:
			t.markChecked(r.ID, r.Date)
		case opFire:
			t.appendFire(r.ID, r.Date)
		case opRelease:
			t.release(r.ID, r.Date, r.Prev)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}

func loadRuns(path string, t *itemTable) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		t.appendRun(r)
	}
	if len(t.runs) > fileRunsKept {
		t.runs = append([]RunRecord(nil), t.runs[len(t.runs)-fileRunsKept:]...)
	}
	return sc.Err()
}
