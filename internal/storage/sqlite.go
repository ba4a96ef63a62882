package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	logx "schedd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	// Basic pragmas.
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutItem(ctx context.Context, it schedule.Item) error {
	if it.ID == "" {
		return fmt.Errorf("%w: id is required", schedule.ErrInvalidItem)
	}
	status := it.Status
	if status == "" {
		status = schedule.StatusPublish
	}
	var spec any
	if it.Recurrence != nil {
		b, err := json.Marshal(it.Recurrence)
		if err != nil {
			return err
		}
		spec = string(b)
	}
	// Dispatch state columns are left alone on conflict.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items(id, title, status, recurrence_enabled, recurrence, single_start, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title,
		   status=excluded.status,
		   recurrence_enabled=excluded.recurrence_enabled,
		   recurrence=excluded.recurrence,
		   single_start=excluded.single_start,
		   updated_at=excluded.updated_at`,
		it.ID, it.Title, string(status), boolInt(it.RecurrenceEnabled), spec,
		nullStr(recurrence.FormatDateTime(it.SingleStart)), s.now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

const itemColumns = `id, title, status, recurrence_enabled, recurrence, single_start, last_checked, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(sc rowScanner) (schedule.Item, error) {
	var (
		it                         schedule.Item
		status                     string
		enabled                    int
		spec, start, last, updated sql.NullString
	)
	if err := sc.Scan(&it.ID, &it.Title, &status, &enabled, &spec, &start, &last, &updated); err != nil {
		return schedule.Item{}, err
	}
	it.Status = schedule.Status(status)
	it.RecurrenceEnabled = enabled != 0
	if spec.Valid && spec.String != "" {
		var rs recurrence.Spec
		if err := json.Unmarshal([]byte(spec.String), &rs); err != nil {
			return schedule.Item{}, fmt.Errorf("item %s: decode recurrence: %w", it.ID, err)
		}
		it.Recurrence = &rs
	}
	if start.Valid && start.String != "" {
		t, err := recurrence.ParseDateTime(start.String)
		if err != nil {
			return schedule.Item{}, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.SingleStart = t
	}
	if last.Valid && last.String != "" {
		d, err := recurrence.ParseDate(last.String)
		if err != nil {
			return schedule.Item{}, fmt.Errorf("item %s: %w", it.ID, err)
		}
		it.LastChecked = d
	}
	if updated.Valid {
		it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated.String)
	}
	return it, nil
}

func (s *sqliteStore) loadHistory(ctx context.Context, it *schedule.Item) error {
	rows, err := s.db.QueryContext(ctx, `SELECT date FROM fire_history WHERE item_id = ? ORDER BY rowid`, it.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		d, err := recurrence.ParseDate(raw)
		if err != nil {
			return fmt.Errorf("item %s: history: %w", it.ID, err)
		}
		it.FireHistory = append(it.FireHistory, d)
	}
	return rows.Err()
}

func (s *sqliteStore) GetItem(ctx context.Context, id string) (schedule.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schedule.Item{}, err
	}
	if err := s.loadHistory(ctx, &it); err != nil {
		return schedule.Item{}, err
	}
	return it, nil
}

func (s *sqliteStore) ListItems(ctx context.Context, q ListQuery) ([]schedule.Item, error) {
	var (
		where []string
		args  []any
	)
	if q.After != "" {
		where = append(where, "id > ?")
		args = append(args, q.After)
	}
	if q.PublishedOnly {
		where = append(where, "status = ?")
		args = append(args, string(schedule.StatusPublish))
	}
	if !q.PendingFor.IsZero() {
		where = append(where, "(last_checked IS NULL OR last_checked <> ?)")
		args = append(args, q.PendingFor.String())
	}
	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []schedule.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Single connection: the cursor must be closed before the history queries.
	_ = rows.Close()

	for i := range out {
		if err := s.loadHistory(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *sqliteStore) MarkChecked(ctx context.Context, id string, d recurrence.Date) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET last_checked = ? WHERE id = ?`, nullStr(d.String()), id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (s *sqliteStore) AppendFireHistory(ctx context.Context, id string, d recurrence.Date) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO fire_history(item_id, date) VALUES(?,?)`, id, d.String())
	return err
}

// ClaimDay only updates while last_checked still holds the value it read, so
// two processes sharing the database file cannot both win.
func (s *sqliteStore) ClaimDay(ctx context.Context, id string, d recurrence.Date) (recurrence.Date, bool, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT last_checked FROM items WHERE id = ?`, id).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.Date{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return recurrence.Date{}, false, err
	}
	var prev recurrence.Date
	if last.Valid && last.String != "" {
		if prev, err = recurrence.ParseDate(last.String); err != nil {
			return recurrence.Date{}, false, err
		}
	}
	if prev == d {
		return prev, false, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_checked = ? WHERE id = ? AND last_checked IS ?`,
		d.String(), id, nullStr(prev.String()),
	)
	if err != nil {
		return prev, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return prev, false, err
	}
	return prev, n == 1, nil
}

func (s *sqliteStore) ReleaseDay(ctx context.Context, id string, d, prev recurrence.Date) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_checked = ? WHERE id = ? AND last_checked = ?`,
		nullStr(prev.String()), id, d.String(),
	)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, date, started_at, took_ms, checked, fired, invalid, failed, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Date.String(), r.StartedAt.UTC().Format(time.RFC3339Nano), r.TookMS,
		r.Checked, r.Fired, r.Invalid, r.Failed, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT id, date, started_at, took_ms, checked, fired, invalid, failed, err FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r             RunRecord
			date, started string
			errStr        sql.NullString
		)
		if err := rows.Scan(&r.ID, &date, &started, &r.TookMS, &r.Checked, &r.Fired, &r.Invalid, &r.Failed, &errStr); err != nil {
			return nil, err
		}
		r.Date, _ = recurrence.ParseDate(date)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
