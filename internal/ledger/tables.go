package ledger

// Table classification for rollback. Hard-coded policy, not configuration:
// the deny-list covers the ledger itself, ingest/transcript raw data, the
// policy registry, and schema metadata.
var rollbackableTables = map[string]bool{
	"workouts":       true,
	"training_plans": true,
	"metrics":        true,
}

var protectedTables = map[string]bool{
	"events":              true,
	"write_locks":         true,
	"idempotency_records": true,
	"decision_records":    true,
	"policies":            true,
	"policy_tests":        true,
	"raw_imports":         true,
	"session_transcripts": true,
	"schema_version":      true,
}

// Rollbackable reports whether mutations to the table may be reversed.
func Rollbackable(table string) bool { return rollbackableTables[table] }

// Protected reports whether the table is excluded from rollback.
func Protected(table string) bool { return protectedTables[table] }
