// Package history journals settled operations to SQLite for the lookup and
// analytics endpoints. It is an observability record only; backlog state is
// never persisted and never recovered from here.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS operations (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('succeeded','failed','timeout','cancelled','cleared')),
  priority INTEGER NOT NULL DEFAULT 0,
  wait_ms INTEGER NOT NULL DEFAULT 0,
  exec_ms INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  settled_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_operations_settled ON operations(settled_at DESC);
CREATE INDEX IF NOT EXISTS idx_operations_kind ON operations(kind, settled_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

// Record is one settled operation.
type Record struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Status    string        `json:"status"`
	Priority  int           `json:"priority"`
	Wait      time.Duration `json:"wait_ms"`
	Exec      time.Duration `json:"exec_ms"`
	Error     string        `json:"error,omitempty"`
	SettledAt time.Time     `json:"settled_at"`
}

type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	var errStr sql.NullString
	if rec.Error != "" {
		errStr = sql.NullString{String: rec.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO operations (id,kind,status,priority,wait_ms,exec_ms,error,settled_at)
VALUES (?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
`, rec.ID, rec.Kind, rec.Status, rec.Priority, rec.Wait.Milliseconds(), rec.Exec.Milliseconds(), errStr)
	return err
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,kind,status,priority,wait_ms,exec_ms,error,settled_at
FROM operations WHERE id=?`, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: operation %s", domain.ErrNotFound, id)
	}
	return rec, err
}

func (r *sqliteRepo) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,kind,status,priority,wait_ms,exec_ms,error,settled_at
FROM operations ORDER BY settled_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *sqliteRepo) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM operations WHERE settled_at < ?", olderThan.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanRecord(scan func(...any) error) (Record, error) {
	var rec Record
	var waitMs, execMs int64
	var errStr sql.NullString
	if err := scan(&rec.ID, &rec.Kind, &rec.Status, &rec.Priority, &waitMs, &execMs, &errStr, &rec.SettledAt); err != nil {
		return Record{}, err
	}
	rec.Wait = time.Duration(waitMs) * time.Millisecond
	rec.Exec = time.Duration(execMs) * time.Millisecond
	if errStr.Valid {
		rec.Error = errStr.String
	}
	return rec, nil
}
