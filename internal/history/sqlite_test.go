package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PascalThePundit/ArciumHyde-sub000/internal/domain"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", "file:"+path+"?cache=shared&mode=rwc")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}
	return NewSQLiteRepo(db)
}

func TestInsertGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := Record{
		ID:       "op_abc",
		Kind:     "encrypt",
		Status:   "succeeded",
		Priority: 10,
		Wait:     15 * time.Millisecond,
		Exec:     120 * time.Millisecond,
	}
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	got, err := repo.Get(ctx, "op_abc")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Kind != "encrypt" || got.Status != "succeeded" || got.Priority != 10 {
		t.Fatalf("Get() = %+v", got)
	}
	if got.Wait != 15*time.Millisecond || got.Exec != 120*time.Millisecond {
		t.Fatalf("durations = %s/%s, want 15ms/120ms", got.Wait, got.Exec)
	}
}

func TestInsertFailedWithError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := Record{ID: "op_bad", Kind: "proof", Status: "timeout", Error: "operation timed out"}
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	got, err := repo.Get(ctx, "op_bad")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Error != "operation timed out" {
		t.Fatalf("Error = %q, want the stored message", got.Error)
	}
}

func TestInsertRequiresID(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Insert(context.Background(), Record{Kind: "encrypt", Status: "succeeded"}); err == nil {
		t.Fatal("Insert() without id should fail")
	}
}

func TestGetMissing(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "op_missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListRecent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"op_1", "op_2", "op_3"} {
		if err := repo.Insert(ctx, Record{ID: id, Kind: "encrypt", Status: "succeeded"}); err != nil {
			t.Fatalf("Insert(%s) error: %v", id, err)
		}
	}

	recs, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("ListRecent(2) = %d rows, want 2", len(recs))
	}
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Insert(ctx, Record{ID: "op_old", Kind: "encrypt", Status: "succeeded"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	// Nothing is older than a cutoff in the past.
	n, err := repo.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 0 {
		t.Fatalf("Prune() = %d, want 0", n)
	}

	// Everything is older than a cutoff in the future.
	n, err = repo.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("Prune() = %d, want 1", n)
	}
	if _, err := repo.Get(ctx, "op_old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() after prune error = %v, want ErrNotFound", err)
	}
}
