package domain

// Event is one immutable row of the mutation ledger. Events are only ever
// appended; nothing in the public interface updates or deletes them.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action" enum:"create,update,delete,rollback_applied"`
	BeforeHash string `json:"before_hash,omitempty"`
	AfterHash  string `json:"after_hash,omitempty"`
	DiffJSON   string `json:"diff_json,omitempty"`
	Source     string `json:"source"`
	Reason     string `json:"reason,omitempty"`
}

// Ledger actions.
const (
	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionDelete          = "delete"
	ActionRollbackApplied = "rollback_applied"
)

// Lock is a diagnostic record of a currently-held write slot. It is not
// authoritative; the in-process queue is the real exclusion mechanism.
type Lock struct {
	Operation  string `json:"operation"`
	TraceID    string `json:"trace_id"`
	AcquiredAt string `json:"acquired_at" format:"date-time"`
}

// IdempotencyRecord caches the result of a completed write keyed by a
// client-supplied token. Only successful results are ever stored.
type IdempotencyRecord struct {
	Key        string `json:"key"`
	ResultJSON string `json:"result_json"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	ExpiresAt  string `json:"expires_at" format:"date-time"`
}

// DecisionRecord is the audit artifact for one coaching recommendation:
// what went in, which rule set was active, and what came out.
type DecisionRecord struct {
	ID                 string `json:"id"`
	DecisionType       string `json:"decision_type"`
	InputsJSON         string `json:"inputs_json,omitempty"`
	OutputJSON         string `json:"output_json,omitempty"`
	PolicyVersionsJSON string `json:"policy_versions_json,omitempty"`
	PolicySetHash      string `json:"policy_set_hash,omitempty"`
	TraceID            string `json:"trace_id,omitempty"`
	CreatedAt          string `json:"created_at" format:"date-time"`
}

type TrainingPlan struct {
	ID        string `json:"id"`
	Athlete   string `json:"athlete"`
	Goal      string `json:"goal,omitempty"`
	StartsOn  string `json:"starts_on"`
	Status    string `json:"status" enum:"active,completed,abandoned"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Workout struct {
	ID          string `json:"id"`
	PlanID      string `json:"plan_id,omitempty"`
	ScheduledOn string `json:"scheduled_on"`
	WorkoutType string `json:"workout_type"`
	Intensity   string `json:"intensity" enum:"easy,moderate,hard,rest"`
	DurationMin int    `json:"duration_min"`
	Status      string `json:"status" enum:"planned,completed,skipped,converted"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Metric struct {
	ID         string  `json:"id"`
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	RecordedAt string  `json:"recorded_at" format:"date-time"`
	Notes      string  `json:"notes,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}
