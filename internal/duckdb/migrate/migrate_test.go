package migrate

import (
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAppliesAllMigrations(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

		for _, table := range []string{"runs", "requests", "frames", "screenshots", "actions", "summary", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	if err := r.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	cur, pending, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 3 || pending != 0 {
		t.Errorf("expected version=3 pending=0, got version=%d pending=%d", cur, pending)
	}
}

func TestStatusReportsCorrectly(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	// Before any migration
	cur, pending, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 0 || pending != 3 {
		t.Errorf("before run: expected version=0 pending=3, got version=%d pending=%d", cur, pending)
	}

	// After running
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, pending, err = r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 3 || pending != 0 {
		t.Errorf("after run: expected version=3 pending=0, got version=%d pending=%d", cur, pending)
	}
}

func TestAppliedListsMigrationsInOrder(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)
	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	names, err := r.Applied()
	if err != nil {
		t.Fatalf("Applied: %v", err)
	}
	want := []string{"001_runs.sql", "002_summary.sql", "003_screenshots.sql"}
	if len(names) != len(want) {
		t.Fatalf("Applied = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Applied[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
