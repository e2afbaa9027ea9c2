// Package history persists percentage observations in sqlite and keeps them
// inside the retention window.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

const memoryDSN = ":memory:"

type Store struct {
	db       *sql.DB
	now      func() time.Time
	path     string
	inMemory bool
}

// Open opens or creates the database at path. A corrupt file is moved aside
// and replaced; if the path cannot be used at all the store runs in memory,
// so Open only fails when not even that works.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if isMemoryPath(path) {
		return openMemory(ctx)
	}

	store, err := openFile(ctx, path)
	if err == nil {
		return store, nil
	}

	var corrupt *corruptError
	if errors.As(err, &corrupt) && isRegularFile(path) {
		quarantined := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, quarantined); rerr == nil {
			log.Warn("history_store_quarantined", zap.String("path", quarantined), zap.Error(err))
			if store, err = openFile(ctx, path); err == nil {
				return store, nil
			}
		}
	}

	log.Warn("history_store_error", zap.String("path", path), zap.Error(err), zap.String("fallback", "memory"))
	return openMemory(ctx)
}

type corruptError struct{ err error }

func (e *corruptError) Error() string { return "database corrupt: " + e.err.Error() }
func (e *corruptError) Unwrap() error { return e.err }

func openFile(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := checkIntegrity(ctx, db); err != nil {
		db.Close()
		return nil, &corruptError{err: err}
	}
	if err := configureSQLiteConnection(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	store := NewStore(db)
	store.path = path
	if err := store.Init(ctx); err != nil {
		db.Close()
		return nil, &corruptError{err: err}
	}
	return store, nil
}

func openMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite3", memoryDSN)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory history: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	store := NewStore(db)
	store.inMemory = true
	if err := store.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check;`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return errors.New(result)
	}
	return nil
}

func configureSQLiteConnection(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("set journal_mode WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("set busy_timeout: %w", err)
	}
	return nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) InMemory() bool { return s.inMemory }

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_points (
			service_id TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			percentage REAL,
			windows TEXT,
			failed INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_points_service_ts ON history_points(service_id, ts_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_history_points_ts ON history_points(ts_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &core.StoreError{Op: "init", Err: err}
		}
	}
	return nil
}

// Append writes all points in one transaction.
func (s *Store) Append(ctx context.Context, points ...core.HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.StoreError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history_points (service_id, ts_ms, percentage, windows, failed) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return &core.StoreError{Op: "append", Err: err}
	}
	defer stmt.Close()

	for _, p := range points {
		windows, err := encodeWindows(p.Windows)
		if err != nil {
			return &core.StoreError{Op: "append", Err: err}
		}
		if _, err := stmt.ExecContext(ctx,
			string(p.ServiceID), p.Timestamp.UTC().UnixMilli(), nullableFloat64(p.Percentage), windows, boolInt(p.Failed),
		); err != nil {
			return &core.StoreError{Op: "append", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &core.StoreError{Op: "append", Err: err}
	}
	return nil
}

// Query returns points for kind inside window, oldest first.
func (s *Store) Query(ctx context.Context, kind core.ServiceKind, window core.TimeWindow) ([]core.HistoryPoint, error) {
	return s.QuerySince(ctx, kind, window.Since(s.now()))
}

func (s *Store) QuerySince(ctx context.Context, kind core.ServiceKind, since time.Time) ([]core.HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_ms, percentage, windows, failed
		FROM history_points
		WHERE service_id = ? AND ts_ms >= ?
		ORDER BY ts_ms ASC, rowid ASC`,
		string(kind), since.UTC().UnixMilli())
	if err != nil {
		return nil, &core.StoreError{Op: "query", Err: err}
	}
	defer rows.Close()

	points := []core.HistoryPoint{}
	for rows.Next() {
		var (
			tsMS    int64
			pct     sql.NullFloat64
			windows sql.NullString
			failed  int
		)
		if err := rows.Scan(&tsMS, &pct, &windows, &failed); err != nil {
			return nil, &core.StoreError{Op: "query", Err: err}
		}
		p := core.HistoryPoint{
			ServiceID: kind,
			Timestamp: time.UnixMilli(tsMS).UTC(),
			Failed:    failed != 0,
		}
		if pct.Valid {
			v := pct.Float64
			p.Percentage = &v
		}
		if windows.Valid && windows.String != "" {
			if err := json.Unmarshal([]byte(windows.String), &p.Windows); err != nil {
				return nil, &core.StoreError{Op: "query", Err: err}
			}
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StoreError{Op: "query", Err: err}
	}
	return points, nil
}

// Prune deletes every point older than the retention window.
func (s *Store) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-core.RetentionWindow).UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM history_points WHERE ts_ms < ?`, cutoff)
	if err != nil {
		return 0, &core.StoreError{Op: "prune", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Vacuum reclaims space freed by pruning.
func (s *Store) Vacuum(ctx context.Context) error {
	if s.inMemory {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM;`); err != nil {
		return &core.StoreError{Op: "vacuum", Err: err}
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_points`).Scan(&n); err != nil {
		return 0, &core.StoreError{Op: "count", Err: err}
	}
	return n, nil
}

func encodeWindows(w map[string]float64) (any, error) {
	if len(w) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableFloat64(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isMemoryPath(path string) bool {
	return path == "" || strings.Contains(path, ":memory:")
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
