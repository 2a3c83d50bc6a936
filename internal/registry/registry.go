package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"stride/internal/domain"
	"stride/internal/ledger"
	"stride/internal/policy"
	"stride/internal/writequeue"
)

// Registry manages policy versions and gates activation behind regression
// fixtures. All its writes go through the write queue.
type Registry struct {
	DB     *sql.DB
	Ledger ledger.Store
	Queue  *writequeue.Queue
	Now    func() time.Time
	Log    *log.Logger
}

var ErrNotFound = errors.New("not found")

// ErrValidationFailed marks an activation blocked by failing fixtures.
var ErrValidationFailed = errors.New("validation failed")

func New(db *sql.DB, queue *writequeue.Queue) *Registry {
	return &Registry{
		DB:     db,
		Ledger: ledger.Store{DB: db},
		Queue:  queue,
		Now:    time.Now,
		Log:    log.Default(),
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

const policyColumns = `id,name,version,rules_json,summary,is_active,activated_at,created_at`

// CreateVersion stores a new version of the named policy, assigning the
// next integer version. Activation state is untouched.
func (r *Registry) CreateVersion(ctx context.Context, name string, rules policy.Rules, summary, traceID string) (policy.Policy, error) {
	if strings.TrimSpace(name) == "" {
		return policy.Policy{}, fmt.Errorf("policy name is required")
	}
	if len(rules.Conditions) == 0 {
		return policy.Policy{}, fmt.Errorf("policy %s needs at least one condition", name)
	}
	if len(rules.Actions) == 0 {
		return policy.Policy{}, fmt.Errorf("policy %s needs at least one action", name)
	}
	for _, a := range rules.Actions {
		if !policy.KnownAction(a.Type) {
			return policy.Policy{}, fmt.Errorf("policy %s has unknown action type %q", name, a.Type)
		}
	}
	rulesJSON, err := policy.EncodeRules(rules)
	if err != nil {
		return policy.Policy{}, err
	}

	var created policy.Policy
	_, err = r.Queue.WithWriteLock(ctx, writequeue.Op{Name: "policy.create_version", TraceID: traceID}, func(ctx context.Context) (any, error) {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()
		var version int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM policies WHERE name=?`, name).Scan(&version); err != nil {
			return nil, err
		}
		now := r.now().UTC().Format(time.RFC3339Nano)
		res, err := tx.ExecContext(ctx, `INSERT INTO policies(name,version,rules_json,summary,is_active,created_at) VALUES (?,?,?,?,0,?)`,
			name, version, rulesJSON, summary, now)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		if _, err := r.Ledger.Append(ctx, tx, domain.Event{
			EntityType: "policies",
			EntityID:   fmt.Sprint(id),
			Action:     domain.ActionCreate,
			Source:     "registry",
			Reason:     fmt.Sprintf("create %s v%d", name, version),
		}); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		created = policy.Policy{ID: id, Name: name, Version: version, Rules: rules, Summary: summary, CreatedAt: now}
		return created, nil
	})
	if err != nil {
		return policy.Policy{}, err
	}
	return created, nil
}

// Get returns one policy version by id.
func (r *Registry) Get(ctx context.Context, id int64) (policy.Policy, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id=?`, id)
	p, err := scanPolicy(row.Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// List returns all policy versions, grouped by name, newest version first.
func (r *Registry) List(ctx context.Context) ([]policy.Policy, error) {
	return r.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY name ASC, version DESC`)
}

// Versions returns every version of one named policy, newest first.
func (r *Registry) Versions(ctx context.Context, name string) ([]policy.Policy, error) {
	return r.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE name=? ORDER BY version DESC`, name)
}

// Active returns the currently active policy versions.
func (r *Registry) Active(ctx context.Context) ([]policy.Policy, error) {
	return r.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE is_active=1 ORDER BY name ASC`)
}

// NameExists reports whether any version of the name is registered.
func (r *Registry) NameExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies WHERE name=?`, name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Activate makes the target version the single active version of its name.
// It refuses while the policy has failing regression fixtures; that gate is
// the whole point of the fixtures. The sibling deactivation and the target
// activation commit in one transaction inside the write queue, so no other
// writer observes zero or two active versions of a name.
func (r *Registry) Activate(ctx context.Context, id int64, traceID string) (policy.Policy, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return policy.Policy{}, err
	}
	report, err := r.RunTests(ctx, id, traceID)
	if err != nil {
		return policy.Policy{}, err
	}
	if report.Failed > 0 {
		return policy.Policy{}, fmt.Errorf("%w: %s", ErrValidationFailed, report.FailureSummary())
	}
	_, err = r.Queue.WithWriteLock(ctx, writequeue.Op{Name: "policy.activate", TraceID: traceID}, func(ctx context.Context) (any, error) {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `UPDATE policies SET is_active=0 WHERE name=? AND id<>?`, p.Name, p.ID); err != nil {
			return nil, err
		}
		now := r.now().UTC().Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx, `UPDATE policies SET is_active=1, activated_at=? WHERE id=?`, now, p.ID); err != nil {
			return nil, err
		}
		if _, err := r.Ledger.Append(ctx, tx, domain.Event{
			EntityType: "policies",
			EntityID:   fmt.Sprint(p.ID),
			Action:     domain.ActionUpdate,
			Source:     "registry",
			Reason:     fmt.Sprintf("activate %s v%d", p.Name, p.Version),
		}); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		p.IsActive = true
		p.ActivatedAt = now
		return p, nil
	})
	if err != nil {
		return policy.Policy{}, err
	}
	return p, nil
}

// Test is one stored regression fixture for a policy version.
type Test struct {
	ID                int64          `json:"id"`
	PolicyID          int64          `json:"policy_id"`
	Name              string         `json:"name"`
	Fixture           policy.Context `json:"fixture"`
	ExpectedTriggered bool           `json:"expected_triggered"`
	ExpectedActions   []string       `json:"expected_actions,omitempty"`
	LastResult        string         `json:"last_result,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

// AddTest stores a fixture for a policy.
func (r *Registry) AddTest(ctx context.Context, t Test, traceID string) (int64, error) {
	if _, err := r.Get(ctx, t.PolicyID); err != nil {
		return 0, err
	}
	fixtureJSON, err := json.Marshal(t.Fixture)
	if err != nil {
		return 0, err
	}
	actionsJSON, err := json.Marshal(t.ExpectedActions)
	if err != nil {
		return 0, err
	}
	var id int64
	_, err = r.Queue.WithWriteLock(ctx, writequeue.Op{Name: "policy.add_test", TraceID: traceID}, func(ctx context.Context) (any, error) {
		res, err := r.DB.ExecContext(ctx, `INSERT INTO policy_tests(policy_id,name,fixture_json,expected_triggered,expected_actions_json,created_at) VALUES (?,?,?,?,?,?)`,
			t.PolicyID, t.Name, string(fixtureJSON), boolInt(t.ExpectedTriggered), string(actionsJSON), r.now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		id, err = res.LastInsertId()
		return id, err
	})
	return id, err
}

// TestsFor loads all fixtures of one policy.
func (r *Registry) TestsFor(ctx context.Context, policyID int64) ([]Test, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,policy_id,name,fixture_json,expected_triggered,expected_actions_json,last_result,created_at FROM policy_tests WHERE policy_id=? ORDER BY id ASC`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Test
	for rows.Next() {
		var t Test
		var fixtureJSON string
		var triggered int
		var actionsJSON, lastResult sql.NullString
		if err := rows.Scan(&t.ID, &t.PolicyID, &t.Name, &fixtureJSON, &triggered, &actionsJSON, &lastResult, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fixtureJSON), &t.Fixture); err != nil {
			return nil, fmt.Errorf("fixture %s: %w", t.Name, err)
		}
		if actionsJSON.Valid && actionsJSON.String != "" {
			if err := json.Unmarshal([]byte(actionsJSON.String), &t.ExpectedActions); err != nil {
				return nil, fmt.Errorf("fixture %s expected actions: %w", t.Name, err)
			}
		}
		t.ExpectedTriggered = triggered != 0
		t.LastResult = lastResult.String
		res = append(res, t)
	}
	return res, rows.Err()
}

// TestResult is one fixture's outcome from a test run.
type TestResult struct {
	TestID  int64  `json:"test_id"`
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// TestReport aggregates a full run over a policy's fixtures.
type TestReport struct {
	PolicyID int64        `json:"policy_id"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Results  []TestResult `json:"results"`
}

// FailureSummary lists failing fixtures with their literal expected-vs-
// actual mismatch.
func (tr TestReport) FailureSummary() string {
	var parts []string
	for _, res := range tr.Results {
		if !res.Passed {
			parts = append(parts, fmt.Sprintf("%s: %s", res.Name, res.Message))
		}
	}
	return strings.Join(parts, "; ")
}

// RunTests evaluates every fixture of the policy via the engine, compares
// triggered state and (when a trigger is expected) the order-independent
// set of recommended action types, and persists each fixture's pass/fail.
func (r *Registry) RunTests(ctx context.Context, policyID int64, traceID string) (TestReport, error) {
	p, err := r.Get(ctx, policyID)
	if err != nil {
		return TestReport{}, err
	}
	tests, err := r.TestsFor(ctx, policyID)
	if err != nil {
		return TestReport{}, err
	}
	report := TestReport{PolicyID: policyID}
	outcomes := map[int64]string{}
	for _, t := range tests {
		res := policy.Evaluate(p, t.Fixture)
		tr := TestResult{TestID: t.ID, Name: t.Name, Passed: true}
		if res.Triggered != t.ExpectedTriggered {
			tr.Passed = false
			tr.Message = fmt.Sprintf("expected triggered=%v, got triggered=%v (%s)", t.ExpectedTriggered, res.Triggered, res.Explanation)
		} else if t.ExpectedTriggered && !sameActionSet(t.ExpectedActions, res.Actions) {
			tr.Passed = false
			tr.Message = fmt.Sprintf("expected actions %v, got %v", sortedCopy(t.ExpectedActions), actionTypes(res.Actions))
		}
		if tr.Passed {
			report.Passed++
			outcomes[t.ID] = "pass"
		} else {
			report.Failed++
			outcomes[t.ID] = "fail: " + tr.Message
		}
		report.Results = append(report.Results, tr)
	}
	if len(outcomes) > 0 {
		if _, err := r.Queue.WithWriteLock(ctx, writequeue.Op{Name: "policy.run_tests", TraceID: traceID}, func(ctx context.Context) (any, error) {
			for id, outcome := range outcomes {
				if _, err := r.DB.ExecContext(ctx, `UPDATE policy_tests SET last_result=? WHERE id=?`, outcome, id); err != nil {
					return nil, err
				}
			}
			return report, nil
		}); err != nil {
			return TestReport{}, err
		}
	}
	return report, nil
}

// ValidateChange reports whether a policy may be activated. Any failing
// fixture blocks.
func (r *Registry) ValidateChange(ctx context.Context, policyID int64, traceID string) (bool, string, error) {
	report, err := r.RunTests(ctx, policyID, traceID)
	if err != nil {
		return false, "", err
	}
	if report.Failed > 0 {
		return false, fmt.Sprintf("%d of %d fixtures failing: %s", report.Failed, report.Passed+report.Failed, report.FailureSummary()), nil
	}
	return true, fmt.Sprintf("all %d fixtures passing", report.Passed), nil
}

func sameActionSet(expected []string, got []policy.Action) bool {
	want := sortedCopy(expected)
	have := actionTypes(got)
	if len(want) != len(have) {
		return false
	}
	for i := range want {
		if want[i] != have[i] {
			return false
		}
	}
	return true
}

func actionTypes(actions []policy.Action) []string {
	types := make([]string, 0, len(actions))
	for _, a := range actions {
		types = append(types, string(a.Type))
	}
	sort.Strings(types)
	return types
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func (r *Registry) queryPolicies(ctx context.Context, query string, args ...any) ([]policy.Policy, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func scanPolicy(scan func(dest ...any) error) (policy.Policy, error) {
	var p policy.Policy
	var rulesJSON string
	var summary, activatedAt sql.NullString
	var active int
	err := scan(&p.ID, &p.Name, &p.Version, &rulesJSON, &summary, &active, &activatedAt, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.Summary = summary.String
	p.ActivatedAt = activatedAt.String
	p.IsActive = active != 0
	p.Rules, err = policy.DecodeRules(rulesJSON)
	return p, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
