package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"stride/internal/domain"
)

// WriteMeta identifies who caused a domain mutation and why.
type WriteMeta struct {
	Source   string
	Reason   string
	EntityID string
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func checkTable(table string) error {
	if !Rollbackable(table) {
		return fmt.Errorf("table %s is not a domain table", table)
	}
	return nil
}

func checkColumns(row map[string]any) error {
	for col := range row {
		if !identRe.MatchString(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
	}
	return nil
}

// InsertWithEvent inserts a domain row and appends its create event in one
// transaction. Callers never append events for domain tables directly.
func (s Store) InsertWithEvent(ctx context.Context, table string, row map[string]any, meta WriteMeta) error {
	if err := checkTable(table); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := InsertRow(ctx, tx, table, row); err != nil {
		return err
	}
	entityID := meta.EntityID
	if entityID == "" {
		entityID = fmt.Sprint(row["id"])
	}
	if _, err := s.Append(ctx, tx, domain.Event{
		EntityType: table,
		EntityID:   entityID,
		Action:     domain.ActionCreate,
		AfterHash:  rowHash(row),
		Source:     meta.Source,
		Reason:     meta.Reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateWithEvent applies a targeted update and appends an update event
// whose diff carries the prior values of exactly the changed fields, which
// is what rollback needs to restore them.
func (s Store) UpdateWithEvent(ctx context.Context, table, id string, changes map[string]any, meta WriteMeta) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, err := RowByID(ctx, tx, table, id)
	if err != nil {
		return err
	}
	before := map[string]any{}
	for col := range changes {
		before[col] = current[col]
	}
	if err := UpdateRow(ctx, tx, table, id, changes); err != nil {
		return err
	}
	after := map[string]any{}
	for col, v := range current {
		after[col] = v
	}
	for col, v := range changes {
		after[col] = v
	}
	diff, err := json.Marshal(map[string]any{"before": before})
	if err != nil {
		return err
	}
	if _, err := s.Append(ctx, tx, domain.Event{
		EntityType: table,
		EntityID:   id,
		Action:     domain.ActionUpdate,
		BeforeHash: rowHash(current),
		AfterHash:  rowHash(after),
		DiffJSON:   string(diff),
		Source:     meta.Source,
		Reason:     meta.Reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteWithEvent deletes a domain row, preserving the full row in the
// event diff so rollback can re-insert it.
func (s Store) DeleteWithEvent(ctx context.Context, table, id string, meta WriteMeta) error {
	if err := checkTable(table); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, err := RowByID(ctx, tx, table, id)
	if err != nil {
		return err
	}
	if err := DeleteRow(ctx, tx, table, id); err != nil {
		return err
	}
	diff, err := json.Marshal(map[string]any{"deleted_row": current})
	if err != nil {
		return err
	}
	if _, err := s.Append(ctx, tx, domain.Event{
		EntityType: table,
		EntityID:   id,
		Action:     domain.ActionDelete,
		BeforeHash: rowHash(current),
		DiffJSON:   string(diff),
		Source:     meta.Source,
		Reason:     meta.Reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertRow inserts a row built from column/value pairs. Rollback uses it
// directly when re-inserting deleted rows; those reversals are summarized
// by a single rollback_applied event rather than per-row create events.
func InsertRow(ctx context.Context, tx *sql.Tx, table string, row map[string]any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if err := checkColumns(row); err != nil {
		return err
	}
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = row[col]
	}
	query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, table, strings.Join(cols, ","), strings.Join(placeholders, ","))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpdateRow sets exactly the given fields on the row with the given id.
func UpdateRow(ctx context.Context, tx *sql.Tx, table, id string, fields map[string]any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if err := checkColumns(fields); err != nil {
		return err
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets[i] = col + "=?"
		args = append(args, fields[col])
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id=?`, table, strings.Join(sets, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRow removes the row with the given id.
func DeleteRow(ctx context.Context, tx *sql.Tx, table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=?`, table), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RowByID reads a full row into a column/value map.
func RowByID(ctx context.Context, tx *sql.Tx, table, id string) (map[string]any, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE id=?`, table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		switch v := vals[i].(type) {
		case []byte:
			row[col] = string(v)
		default:
			row[col] = v
		}
	}
	return row, nil
}

// rowHash is a stable content hash over a row's canonical JSON form.
func rowHash(row map[string]any) string {
	b, err := json.Marshal(row)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
