package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"stride/internal/domain"
	"stride/internal/ledger"
	"stride/internal/policy"
)

// Recorder persists decision records for audit. Audit logging is never a
// correctness dependency: a storage failure here is logged and swallowed,
// and the caller still gets a synthetic record.
type Recorder struct {
	DB     *sql.DB
	Ledger ledger.Store
	Now    func() time.Time
	Log    *log.Logger
}

func New(db *sql.DB) *Recorder {
	return &Recorder{
		DB:     db,
		Ledger: ledger.Store{DB: db},
		Now:    time.Now,
		Log:    log.Default(),
	}
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recorder) logger() *log.Logger {
	if r.Log != nil {
		return r.Log
	}
	return log.Default()
}

// Record persists one decision with its inputs, the exact active policy
// versions, and the output. Always returns a usable record; if the table
// does not exist yet (first run before migration) or the insert fails, the
// record is synthetic and the failure is a warning, not an error.
func (r *Recorder) Record(ctx context.Context, decisionType string, inputs, output any, versions []policy.VersionRef, traceID string) (domain.DecisionRecord, error) {
	rec := domain.DecisionRecord{
		ID:            uuid.New().String(),
		DecisionType:  decisionType,
		PolicySetHash: policy.ActiveSetHash(versions),
		TraceID:       traceID,
		CreatedAt:     r.now().UTC().Format(time.RFC3339Nano),
	}
	rec.InputsJSON = marshalLenient(inputs)
	rec.OutputJSON = marshalLenient(output)
	rec.PolicyVersionsJSON = marshalLenient(versions)

	_, err := r.DB.ExecContext(ctx, `INSERT INTO decision_records(id,decision_type,inputs_json,output_json,policy_versions_json,policy_set_hash,trace_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID, rec.DecisionType, rec.InputsJSON, rec.OutputJSON, rec.PolicyVersionsJSON, rec.PolicySetHash, rec.TraceID, rec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			r.logger().Warn("decision table missing, returning synthetic record", "decision_type", decisionType, "err", err)
		} else {
			r.logger().Warn("decision record write failed, returning synthetic record", "decision_type", decisionType, "err", err)
		}
		return rec, nil
	}
	if _, err := r.Ledger.Append(ctx, nil, domain.Event{
		EntityType: "decision_records",
		EntityID:   rec.ID,
		Action:     domain.ActionCreate,
		Source:     "decision",
		Reason:     decisionType,
	}); err != nil {
		r.logger().Warn("decision event append failed", "decision_id", rec.ID, "err", err)
	}
	return rec, nil
}

// List returns the most recent decision records, newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]domain.DecisionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,decision_type,inputs_json,output_json,policy_versions_json,policy_set_hash,trace_id,created_at FROM decision_records ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DecisionRecord
	for rows.Next() {
		var d domain.DecisionRecord
		var inputs, output, versions, hash, trace sql.NullString
		if err := rows.Scan(&d.ID, &d.DecisionType, &inputs, &output, &versions, &hash, &trace, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.InputsJSON = inputs.String
		d.OutputJSON = output.String
		d.PolicyVersionsJSON = versions.String
		d.PolicySetHash = hash.String
		d.TraceID = trace.String
		res = append(res, d)
	}
	return res, rows.Err()
}

func marshalLenient(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
