package writequeue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"stride/internal/domain"
)

// Defaults for the idempotency cache and stale-lock diagnostics. Both have
// per-call override points.
const (
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultStaleLockAge   = 60 * time.Second
)

// Queue serializes all domain mutations against the single-writer store.
// It is an explicit object, not process-global state: construct one per
// process (or per test) and share it between every writing component.
type Queue struct {
	DB         *sql.DB
	Now        func() time.Time
	TTL        time.Duration
	StaleAfter time.Duration
	Log        *log.Logger

	mu   sync.Mutex
	tail chan struct{}
}

func New(db *sql.DB) *Queue {
	return &Queue{
		DB:         db,
		Now:        time.Now,
		TTL:        DefaultIdempotencyTTL,
		StaleAfter: DefaultStaleLockAge,
		Log:        log.Default(),
	}
}

func (q *Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q *Queue) logger() *log.Logger {
	if q.Log != nil {
		return q.Log
	}
	return log.Default()
}

// Op names one mutating operation entering the queue.
type Op struct {
	Name           string
	TraceID        string
	IdempotencyKey string
	// TTL overrides the queue default for this call's idempotency record.
	TTL time.Duration
}

// WorkFn is the unit of work executed inside the write slot.
type WorkFn func(ctx context.Context) (any, error)

// Result carries the work function's JSON-encoded return value and whether
// it was served from the idempotency cache.
type Result struct {
	Value  json.RawMessage `json:"value"`
	Cached bool            `json:"cached"`
}

// WithWriteLock runs fn holding the process-wide write slot. If the op
// carries an idempotency key with a non-expired cached result, that result
// is returned immediately and fn never runs; cache hits do not enter the
// queue. Slot release is guaranteed on success and failure alike, and
// failures are never cached, so a failed attempt can be retried with the
// same key.
func (q *Queue) WithWriteLock(ctx context.Context, op Op, fn WorkFn) (Result, error) {
	if op.Name == "" {
		return Result{}, fmt.Errorf("operation name is required")
	}
	if op.IdempotencyKey != "" {
		cached, ok, err := q.cachedResult(ctx, op.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{Value: cached, Cached: true}, nil
		}
	}

	// Chain onto the current tail. Each op waits for its predecessor to
	// finish, whatever the predecessor's outcome, so the queue never
	// stalls on a failed operation. No cancellation once enqueued.
	q.mu.Lock()
	prev := q.tail
	slot := make(chan struct{})
	q.tail = slot
	q.mu.Unlock()
	if prev != nil {
		<-prev
	}
	defer close(slot)

	q.recordLock(ctx, op)
	defer q.releaseLock(ctx, op)

	value, err := fn(ctx)
	if err != nil {
		return Result{}, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return Result{}, fmt.Errorf("encode result for %s: %w", op.Name, err)
	}
	if op.IdempotencyKey != "" {
		q.storeResult(ctx, op, encoded)
	}
	return Result{Value: encoded}, nil
}

func (q *Queue) cachedResult(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var resultJSON, expiresAt string
	err := q.DB.QueryRowContext(ctx, `SELECT result_json, expires_at FROM idempotency_records WHERE key=?`, key).Scan(&resultJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// Expiry is compared as parsed time, not as stored text: RFC3339Nano
	// trims trailing fraction zeros, so the strings do not sort
	// chronologically at sub-second boundaries. An unparseable record is
	// treated as expired.
	exp, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil || !exp.After(q.now()) {
		return nil, false, nil
	}
	return json.RawMessage(resultJSON), true, nil
}

// storeResult caches a successful result. The mutation already committed,
// so a cache write failure is logged rather than surfaced: the only cost
// is that a retry with the same key would re-execute.
func (q *Queue) storeResult(ctx context.Context, op Op, encoded []byte) {
	ttl := op.TTL
	if ttl <= 0 {
		ttl = q.TTL
	}
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	now := q.now().UTC()
	_, err := q.DB.ExecContext(ctx, `INSERT OR REPLACE INTO idempotency_records(key,result_json,created_at,expires_at) VALUES (?,?,?,?)`,
		op.IdempotencyKey, string(encoded), now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano))
	if err != nil {
		q.logger().Warn("idempotency cache write failed", "operation", op.Name, "key", op.IdempotencyKey, "err", err)
	}
}

// recordLock writes the diagnostic lock row. Best effort: its failure must
// not block the operation.
func (q *Queue) recordLock(ctx context.Context, op Op) {
	_, err := q.DB.ExecContext(ctx, `INSERT INTO write_locks(operation,trace_id,acquired_at) VALUES (?,?,?)`,
		op.Name, op.TraceID, q.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		q.logger().Warn("write lock record failed", "operation", op.Name, "trace_id", op.TraceID, "err", err)
	}
}

func (q *Queue) releaseLock(ctx context.Context, op Op) {
	_, err := q.DB.ExecContext(ctx, `DELETE FROM write_locks WHERE operation=? AND trace_id=?`, op.Name, op.TraceID)
	if err != nil {
		q.logger().Warn("write lock release failed", "operation", op.Name, "trace_id", op.TraceID, "err", err)
	}
}

// StaleLocks returns diagnostic lock rows older than the threshold
// (the queue's StaleAfter when zero). A stale row usually means an
// operation is stuck in the queue; only a process restart clears that.
func (q *Queue) StaleLocks(ctx context.Context, olderThan time.Duration) ([]domain.Lock, error) {
	if olderThan <= 0 {
		olderThan = q.StaleAfter
	}
	if olderThan <= 0 {
		olderThan = DefaultStaleLockAge
	}
	cutoff := q.now().UTC().Add(-olderThan)
	rows, err := q.DB.QueryContext(ctx, `SELECT operation,trace_id,acquired_at FROM write_locks ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	// The age filter runs on parsed timestamps for the same reason the
	// idempotency expiry does: the stored text does not sort chronologically
	// at sub-second boundaries.
	var res []domain.Lock
	for rows.Next() {
		var l domain.Lock
		if err := rows.Scan(&l.Operation, &l.TraceID, &l.AcquiredAt); err != nil {
			return nil, err
		}
		at, perr := time.Parse(time.RFC3339Nano, l.AcquiredAt)
		if perr != nil || !at.Before(cutoff) {
			continue
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ClearAllLocks drops every diagnostic lock row. Operator escape hatch for
// recovery, not part of normal operation.
func (q *Queue) ClearAllLocks(ctx context.Context) (int64, error) {
	res, err := q.DB.ExecContext(ctx, `DELETE FROM write_locks`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	q.logger().Warn("force-cleared all write locks", "cleared", n)
	return n, nil
}
