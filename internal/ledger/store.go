package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stride/internal/domain"
)

// Store reads and appends ledger events. The interface is append-only on
// purpose: there is no update or delete, the ledger is the permanent record
// and the sole input to rollback.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

const eventColumns = `id,ts,entity_type,entity_id,action,before_hash,after_hash,diff_json,source,reason`

// Append writes one event. When tx is nil the append runs on the shared
// connection; callers mutating domain rows pass their transaction so the
// row change and its event commit as one unit.
func (s Store) Append(ctx context.Context, tx *sql.Tx, e domain.Event) (int64, error) {
	if e.TS == "" {
		e.TS = s.now().UTC().Format(time.RFC3339Nano)
	}
	if e.EntityType == "" || e.Action == "" {
		return 0, fmt.Errorf("event entity_type and action are required")
	}
	query := `INSERT INTO events(ts,entity_type,entity_id,action,before_hash,after_hash,diff_json,source,reason) VALUES (?,?,?,?,?,?,?,?,?)`
	args := []any{e.TS, e.EntityType, e.EntityID, e.Action, nullable(e.BeforeHash), nullable(e.AfterHash), nullable(e.DiffJSON), e.Source, nullable(e.Reason)}
	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = s.DB.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}

// ByEntity returns events for one entity, newest first.
func (s Store) ByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE entity_type=? AND entity_id=? ORDER BY id DESC`
	args := []any{entityType, entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// Filters narrow a Recent query.
type Filters struct {
	EntityType string
	Action     string
	Source     string
	Limit      int
}

// Recent returns the latest events matching the filters, newest first.
func (s Store) Recent(ctx context.Context, f Filters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.EntityType != "" {
		clauses = append(clauses, "entity_type=?")
		args = append(args, f.EntityType)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryEvents(ctx, query, args...)
}

// ByID returns a single event or ErrNotFound.
func (s Store) ByID(ctx context.Context, id int64) (domain.Event, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id)
	e, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// NthRecent returns the Nth most recent event (1 = latest) or ErrNotFound.
func (s Store) NthRecent(ctx context.Context, n int) (domain.Event, error) {
	if n < 1 {
		return domain.Event{}, ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT 1 OFFSET ?`, n-1)
	e, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// Since returns events strictly after the reference event, ascending in
// commit order. The rowid is the ordering key throughout this store: it
// is monotonic under the single-writer discipline, while the stored
// RFC3339Nano text trims trailing fraction zeros and does not sort
// chronologically ("...00.52Z" < "...00.5Z").
func (s Store) Since(ctx context.Context, eventID int64) ([]domain.Event, error) {
	if _, err := s.ByID(ctx, eventID); err != nil {
		return nil, err
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE id > ? ORDER BY id ASC`
	return s.queryEvents(ctx, query, eventID)
}

func (s Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	var beforeHash, afterHash, diff, reason sql.NullString
	err := scan(&e.ID, &e.TS, &e.EntityType, &e.EntityID, &e.Action, &beforeHash, &afterHash, &diff, &e.Source, &reason)
	if err != nil {
		return e, err
	}
	e.BeforeHash = beforeHash.String
	e.AfterHash = afterHash.String
	e.DiffJSON = diff.String
	e.Reason = reason.String
	return e, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
