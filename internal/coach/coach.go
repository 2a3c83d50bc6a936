package coach

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"stride/internal/decision"
	"stride/internal/domain"
	"stride/internal/ledger"
	"stride/internal/registry"
	"stride/internal/writequeue"
)

// Coach is the application layer: plans, workouts, metrics, and readiness
// checks. All domain writes go through the write queue and land in the
// ledger as events.
type Coach struct {
	DB        *sql.DB
	Ledger    ledger.Store
	Queue     *writequeue.Queue
	Registry  *registry.Registry
	Decisions *decision.Recorder
	Now       func() time.Time
	Log       *log.Logger
}

func New(db *sql.DB, queue *writequeue.Queue) *Coach {
	return &Coach{
		DB:        db,
		Ledger:    ledger.Store{DB: db},
		Queue:     queue,
		Registry:  registry.New(db, queue),
		Decisions: decision.New(db),
		Now:       time.Now,
		Log:       log.Default(),
	}
}

func (c *Coach) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// PlanOptions describe a training plan request.
type PlanOptions struct {
	Athlete        string
	Goal           string
	StartsOn       string // YYYY-MM-DD
	Days           int
	IdempotencyKey string
	TTL            time.Duration
	TraceID        string
}

// PlanResult is what a plan creation returns; it is the payload cached
// under the idempotency key.
type PlanResult struct {
	PlanID          string   `json:"plan_id"`
	WorkoutsCreated int      `json:"workouts_created"`
	WorkoutIDs      []string `json:"workout_ids"`
	Cached          bool     `json:"-"`
}

// The weekly template new plans are stamped from. Deliberately simple;
// policies adjust the plan afterwards, the template does not.
var weekTemplate = []struct {
	workoutType string
	intensity   string
	durationMin int
}{
	{"easy_run", "easy", 40},
	{"intervals", "hard", 50},
	{"strength", "moderate", 45},
	{"rest", "rest", 0},
	{"tempo_run", "moderate", 50},
	{"long_run", "hard", 90},
	{"rest", "rest", 0},
}

// CreatePlan creates a training plan and its scheduled workouts. With an
// idempotency key, retries return the original result instead of creating
// a second plan.
func (c *Coach) CreatePlan(ctx context.Context, opts PlanOptions) (PlanResult, error) {
	if strings.TrimSpace(opts.Athlete) == "" {
		return PlanResult{}, fmt.Errorf("athlete is required")
	}
	start, err := time.Parse("2006-01-02", opts.StartsOn)
	if err != nil {
		return PlanResult{}, fmt.Errorf("starts_on must be YYYY-MM-DD: %w", err)
	}
	days := opts.Days
	if days <= 0 {
		days = 7
	}

	op := writequeue.Op{
		Name:           "plan.create",
		TraceID:        opts.TraceID,
		IdempotencyKey: opts.IdempotencyKey,
		TTL:            opts.TTL,
	}
	res, err := c.Queue.WithWriteLock(ctx, op, func(ctx context.Context) (any, error) {
		now := c.now().UTC().Format(time.RFC3339Nano)
		planID := uuid.New().String()
		meta := ledger.WriteMeta{Source: "coach", Reason: "plan created", EntityID: planID}
		err := c.Ledger.InsertWithEvent(ctx, "training_plans", map[string]any{
			"id":         planID,
			"athlete":    opts.Athlete,
			"goal":       opts.Goal,
			"starts_on":  opts.StartsOn,
			"status":     "active",
			"created_at": now,
		}, meta)
		if err != nil {
			return nil, err
		}
		result := PlanResult{PlanID: planID}
		for i := 0; i < days; i++ {
			slot := weekTemplate[i%len(weekTemplate)]
			if slot.workoutType == "rest" {
				continue
			}
			wID := uuid.New().String()
			err := c.Ledger.InsertWithEvent(ctx, "workouts", map[string]any{
				"id":           wID,
				"plan_id":      planID,
				"scheduled_on": start.AddDate(0, 0, i).Format("2006-01-02"),
				"workout_type": slot.workoutType,
				"intensity":    slot.intensity,
				"duration_min": slot.durationMin,
				"status":       "planned",
				"notes":        "",
				"created_at":   now,
			}, ledger.WriteMeta{Source: "coach", Reason: "plan created", EntityID: wID})
			if err != nil {
				return nil, err
			}
			result.WorkoutsCreated++
			result.WorkoutIDs = append(result.WorkoutIDs, wID)
		}
		return result, nil
	})
	if err != nil {
		return PlanResult{}, err
	}
	var out PlanResult
	if err := json.Unmarshal(res.Value, &out); err != nil {
		return PlanResult{}, err
	}
	out.Cached = res.Cached
	return out, nil
}

// Plans returns all training plans, newest first.
func (c *Coach) Plans(ctx context.Context) ([]domain.TrainingPlan, error) {
	rows, err := c.DB.QueryContext(ctx, `SELECT id,athlete,goal,starts_on,status,created_at FROM training_plans ORDER BY rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrainingPlan
	for rows.Next() {
		var p domain.TrainingPlan
		var goal sql.NullString
		if err := rows.Scan(&p.ID, &p.Athlete, &goal, &p.StartsOn, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Goal = goal.String
		res = append(res, p)
	}
	return res, rows.Err()
}

// Workouts returns a plan's workouts in schedule order; with an empty plan
// ID it returns every workout.
func (c *Coach) Workouts(ctx context.Context, planID string) ([]domain.Workout, error) {
	query := `SELECT id,plan_id,scheduled_on,workout_type,intensity,duration_min,status,notes,created_at FROM workouts ORDER BY scheduled_on ASC`
	args := []any{}
	if planID != "" {
		query = `SELECT id,plan_id,scheduled_on,workout_type,intensity,duration_min,status,notes,created_at FROM workouts WHERE plan_id = ? ORDER BY scheduled_on ASC`
		args = append(args, planID)
	}
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workout
	for rows.Next() {
		var w domain.Workout
		var plan, notes sql.NullString
		if err := rows.Scan(&w.ID, &plan, &w.ScheduledOn, &w.WorkoutType, &w.Intensity, &w.DurationMin, &w.Status, &notes, &w.CreatedAt); err != nil {
			return nil, err
		}
		w.PlanID = plan.String
		w.Notes = notes.String
		res = append(res, w)
	}
	return res, rows.Err()
}

// SetWorkoutStatus marks a workout completed, skipped or converted. The
// prior status survives in the event diff, so the change rolls back.
func (c *Coach) SetWorkoutStatus(ctx context.Context, workoutID, status, notes, traceID string) error {
	switch status {
	case "planned", "completed", "skipped", "converted":
	default:
		return fmt.Errorf("unknown workout status %q", status)
	}
	_, err := c.Queue.WithWriteLock(ctx, writequeue.Op{Name: "workout.status", TraceID: traceID}, func(ctx context.Context) (any, error) {
		changes := map[string]any{"status": status}
		if notes != "" {
			changes["notes"] = notes
		}
		err := c.Ledger.UpdateWithEvent(ctx, "workouts", workoutID, changes, ledger.WriteMeta{
			Source: "coach",
			Reason: "workout " + status,
		})
		return map[string]string{"id": workoutID, "status": status}, err
	})
	return err
}

// DeleteWorkout removes a workout; the full row is preserved in the event
// diff so rollback can re-insert it.
func (c *Coach) DeleteWorkout(ctx context.Context, workoutID, reason, traceID string) error {
	_, err := c.Queue.WithWriteLock(ctx, writequeue.Op{Name: "workout.delete", TraceID: traceID}, func(ctx context.Context) (any, error) {
		err := c.Ledger.DeleteWithEvent(ctx, "workouts", workoutID, ledger.WriteMeta{
			Source: "coach",
			Reason: reason,
		})
		return map[string]string{"id": workoutID}, err
	})
	return err
}

// LogMetric records one wellness or training metric reading.
func (c *Coach) LogMetric(ctx context.Context, m domain.Metric, traceID string) (domain.Metric, error) {
	if strings.TrimSpace(m.MetricType) == "" {
		return domain.Metric{}, fmt.Errorf("metric_type is required")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := c.now().UTC().Format(time.RFC3339Nano)
	if m.RecordedAt == "" {
		m.RecordedAt = now
	}
	m.CreatedAt = now
	_, err := c.Queue.WithWriteLock(ctx, writequeue.Op{Name: "metric.add", TraceID: traceID}, func(ctx context.Context) (any, error) {
		err := c.Ledger.InsertWithEvent(ctx, "metrics", map[string]any{
			"id":          m.ID,
			"metric_type": m.MetricType,
			"value":       m.Value,
			"unit":        m.Unit,
			"recorded_at": m.RecordedAt,
			"notes":       m.Notes,
			"created_at":  m.CreatedAt,
		}, ledger.WriteMeta{Source: "coach", Reason: "metric logged", EntityID: m.ID})
		return m, err
	})
	if err != nil {
		return domain.Metric{}, err
	}
	return m, nil
}

// Metrics returns recent readings for one metric type, newest first.
func (c *Coach) Metrics(ctx context.Context, metricType string, limit int) ([]domain.Metric, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := c.DB.QueryContext(ctx, `SELECT id,metric_type,value,unit,recorded_at,notes,created_at FROM metrics WHERE metric_type = ? ORDER BY recorded_at DESC LIMIT ?`, metricType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Metric
	for rows.Next() {
		var m domain.Metric
		var unit, notes sql.NullString
		if err := rows.Scan(&m.ID, &m.MetricType, &m.Value, &unit, &m.RecordedAt, &notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Unit = unit.String
		m.Notes = notes.String
		res = append(res, m)
	}
	return res, rows.Err()
}
