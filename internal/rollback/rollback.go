package rollback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"stride/internal/domain"
	"stride/internal/ledger"
	"stride/internal/writequeue"
)

// Engine replays the ledger in reverse to restore point-in-time state.
// There is no persistent rollback state: each run is a one-shot procedure
// over the events table, best-effort and partial-failure-tolerant.
type Engine struct {
	DB     *sql.DB
	Ledger ledger.Store
	Queue  *writequeue.Queue
	Now    func() time.Time
	Log    *log.Logger
}

func New(db *sql.DB, queue *writequeue.Queue) *Engine {
	return &Engine{
		DB:     db,
		Ledger: ledger.Store{DB: db},
		Queue:  queue,
		Now:    time.Now,
		Log:    log.Default(),
	}
}

// Options select the rollback target and mode. Exactly one of ToEventID or
// Last must be set. Last n rolls back the n most recent events, i.e. the
// target is the event just before them.
type Options struct {
	ToEventID int64
	Last      int
	DryRun    bool
	Verbose   bool
	TraceID   string
	Reason    string
}

// Step records what happened to one selected event.
type Step struct {
	EventID    int64  `json:"event_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome" enum:"reverted,skipped,failed,protected"`
	Detail     string `json:"detail,omitempty"`
}

// Outcome summarizes a rollback run.
type Outcome struct {
	TargetEventID   int64          `json:"target_event_id"`
	DryRun          bool           `json:"dry_run"`
	Reverted        int            `json:"reverted"`
	Skipped         int            `json:"skipped"`
	Failed          int            `json:"failed"`
	Protected       int            `json:"protected"`
	ByEntityType    map[string]int `json:"by_entity_type,omitempty"`
	Steps           []Step         `json:"steps,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	RollbackEventID int64          `json:"rollback_event_id,omitempty"`
}

// Run rolls the domain tables back to the state as of the target event.
// Later mutations are undone before earlier ones; protected tables are
// never touched; a single failing reversal is counted and processing
// continues. The run itself lands in the ledger as a rollback_applied
// event, so rollbacks are auditable too.
func (e *Engine) Run(ctx context.Context, opts Options) (Outcome, error) {
	if opts.DryRun {
		target, pending, err := e.selectPending(ctx, opts)
		if err != nil {
			return Outcome{}, err
		}
		out := Outcome{TargetEventID: target.ID, DryRun: true, ByEntityType: map[string]int{}}
		for _, ev := range pending {
			out.record(e.classify(ev))
		}
		return out, nil
	}

	// Target resolution and event selection happen inside the write slot:
	// a write landing while the rollback waits its turn is still part of
	// the window, and the summary event lands after every reverted event.
	var out Outcome
	_, err := e.Queue.WithWriteLock(ctx, writequeue.Op{Name: "rollback", TraceID: opts.TraceID}, func(ctx context.Context) (any, error) {
		target, pending, err := e.selectPending(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = Outcome{TargetEventID: target.ID, ByEntityType: map[string]int{}}
		for _, ev := range pending {
			step := e.revert(ctx, ev)
			out.record(step)
			if opts.Verbose && step.Outcome != "reverted" {
				e.logger().Info("rollback step", "event_id", ev.ID, "entity", ev.EntityType, "outcome", step.Outcome, "detail", step.Detail)
			}
		}
		id, err := e.appendSummary(ctx, target, &out, opts.Reason)
		if err != nil {
			return nil, err
		}
		out.RollbackEventID = id
		return out, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// selectPending resolves the target and returns the events after it in
// reverse commit order: the newest mutation is undone first, so earlier
// reversals never reintroduce stale intermediate state.
func (e *Engine) selectPending(ctx context.Context, opts Options) (domain.Event, []domain.Event, error) {
	target, err := e.resolveTarget(ctx, opts)
	if err != nil {
		return domain.Event{}, nil, err
	}
	pending, err := e.Ledger.Since(ctx, target.ID)
	if err != nil {
		return domain.Event{}, nil, err
	}
	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}
	return target, pending, nil
}

func (e *Engine) resolveTarget(ctx context.Context, opts Options) (domain.Event, error) {
	switch {
	case opts.ToEventID > 0:
		return e.Ledger.ByID(ctx, opts.ToEventID)
	case opts.Last > 0:
		// The target is the event preceding the n most recent ones.
		return e.Ledger.NthRecent(ctx, opts.Last+1)
	default:
		return domain.Event{}, fmt.Errorf("a target event id or --last count is required")
	}
}

// classify decides a dry-run step without touching any rows.
func (e *Engine) classify(ev domain.Event) Step {
	step := Step{EventID: ev.ID, EntityType: ev.EntityType, EntityID: ev.EntityID, Action: ev.Action}
	switch {
	case ledger.Protected(ev.EntityType):
		step.Outcome = "protected"
	case !ledger.Rollbackable(ev.EntityType):
		step.Outcome = "skipped"
		step.Detail = "unclassified table"
	default:
		switch ev.Action {
		case domain.ActionCreate:
			step.Outcome = "reverted"
			step.Detail = "would delete row"
		case domain.ActionUpdate:
			if _, ok := diffBefore(ev.DiffJSON); ok {
				step.Outcome = "reverted"
				step.Detail = "would restore prior field values"
			} else {
				step.Outcome = "skipped"
				step.Detail = "no before diff recorded"
			}
		case domain.ActionDelete:
			if _, ok := diffDeletedRow(ev.DiffJSON); ok {
				step.Outcome = "reverted"
				step.Detail = "would re-insert row"
			} else {
				step.Outcome = "skipped"
				step.Detail = "row data not preserved"
			}
		default:
			step.Outcome = "skipped"
			step.Detail = fmt.Sprintf("unknown action %q", ev.Action)
		}
	}
	return step
}

// revert undoes one event in its own transaction so a failure cannot
// poison the rest of the run.
func (e *Engine) revert(ctx context.Context, ev domain.Event) Step {
	step := Step{EventID: ev.ID, EntityType: ev.EntityType, EntityID: ev.EntityID, Action: ev.Action}
	if ledger.Protected(ev.EntityType) {
		step.Outcome = "protected"
		return step
	}
	if !ledger.Rollbackable(ev.EntityType) {
		step.Outcome = "skipped"
		step.Detail = "unclassified table"
		return step
	}
	apply := func(fn func(tx *sql.Tx) error) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}
	switch ev.Action {
	case domain.ActionCreate:
		err := apply(func(tx *sql.Tx) error {
			return ledger.DeleteRow(ctx, tx, ev.EntityType, ev.EntityID)
		})
		if err != nil {
			step.Outcome = "failed"
			step.Detail = err.Error()
		} else {
			step.Outcome = "reverted"
			step.Detail = "row deleted"
		}
	case domain.ActionUpdate:
		before, ok := diffBefore(ev.DiffJSON)
		if !ok {
			step.Outcome = "skipped"
			step.Detail = "no before diff recorded"
			return step
		}
		err := apply(func(tx *sql.Tx) error {
			return ledger.UpdateRow(ctx, tx, ev.EntityType, ev.EntityID, before)
		})
		if err != nil {
			step.Outcome = "failed"
			step.Detail = err.Error()
		} else {
			step.Outcome = "reverted"
			step.Detail = "prior field values restored"
		}
	case domain.ActionDelete:
		row, ok := diffDeletedRow(ev.DiffJSON)
		if !ok {
			step.Outcome = "skipped"
			step.Detail = "row data not preserved"
			return step
		}
		err := apply(func(tx *sql.Tx) error {
			return ledger.InsertRow(ctx, tx, ev.EntityType, row)
		})
		if err != nil {
			step.Outcome = "failed"
			step.Detail = err.Error()
		} else {
			step.Outcome = "reverted"
			step.Detail = "row re-inserted"
		}
	default:
		step.Outcome = "skipped"
		step.Detail = fmt.Sprintf("unknown action %q", ev.Action)
	}
	return step
}

func (e *Engine) appendSummary(ctx context.Context, target domain.Event, out *Outcome, reason string) (int64, error) {
	diff, err := json.Marshal(map[string]any{
		"target_event_id": target.ID,
		"reverted":        out.Reverted,
		"skipped":         out.Skipped,
		"failed":          out.Failed,
		"protected":       out.Protected,
		"by_entity_type":  out.ByEntityType,
	})
	if err != nil {
		return 0, err
	}
	return e.Ledger.Append(ctx, nil, domain.Event{
		EntityType: "events",
		EntityID:   fmt.Sprint(target.ID),
		Action:     domain.ActionRollbackApplied,
		DiffJSON:   string(diff),
		Source:     "rollback",
		Reason:     reason,
	})
}

func (o *Outcome) record(step Step) {
	o.Steps = append(o.Steps, step)
	switch step.Outcome {
	case "reverted":
		o.Reverted++
		o.ByEntityType[step.EntityType]++
		if step.Action == domain.ActionCreate {
			o.noteOrphanRisk()
		}
	case "skipped":
		o.Skipped++
	case "failed":
		o.Failed++
	case "protected":
		o.Protected++
	}
}

// Reverting a create deletes the row without checking whether later rows
// reference it. No cascade semantics exist; the risk is reported, not
// handled.
func (o *Outcome) noteOrphanRisk() {
	const warning = "deleted rows are not checked for inbound references; orphans are possible"
	for _, w := range o.Warnings {
		if w == warning {
			return
		}
	}
	o.Warnings = append(o.Warnings, warning)
}

func (e *Engine) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.Default()
}

func diffBefore(diffJSON string) (map[string]any, bool) {
	if diffJSON == "" {
		return nil, false
	}
	var payload struct {
		Before map[string]any `json:"before"`
	}
	if err := json.Unmarshal([]byte(diffJSON), &payload); err != nil || len(payload.Before) == 0 {
		return nil, false
	}
	return payload.Before, true
}

func diffDeletedRow(diffJSON string) (map[string]any, bool) {
	if diffJSON == "" {
		return nil, false
	}
	var payload struct {
		DeletedRow map[string]any `json:"deleted_row"`
	}
	if err := json.Unmarshal([]byte(diffJSON), &payload); err != nil || len(payload.DeletedRow) == 0 {
		return nil, false
	}
	return payload.DeletedRow, true
}
