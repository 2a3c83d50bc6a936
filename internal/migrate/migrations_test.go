package migrate_test

import (
	"testing"

	"stride/internal/db"
	"stride/internal/migrate"
)

func TestMigrateFreshAndRepeat(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("fresh migrate: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("repeat migrate must be a no-op: %v", err)
	}

	var v, rows int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&v); err != nil || v < 1 {
		t.Fatalf("schema version: %d %v", v, err)
	}
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows); err != nil || rows != 1 {
		t.Fatalf("schema_version must hold exactly one row, got %d %v", rows, err)
	}

	// The schema is actually in place, not just the bookkeeping.
	for _, table := range []string{"events", "workouts", "idempotency_records", "write_locks"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing after migrate: %v", table, err)
		}
	}
}
