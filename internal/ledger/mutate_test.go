package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"stride/internal/domain"
	"stride/internal/ledger"
)

func workoutRow(id string) map[string]any {
	return map[string]any{
		"id":           id,
		"plan_id":      "p-1",
		"scheduled_on": "2026-03-02",
		"workout_type": "intervals",
		"intensity":    "hard",
		"duration_min": 50,
		"status":       "planned",
		"notes":        "",
		"created_at":   "2026-03-01T06:00:00Z",
	}
}

func TestInsertWithEventCommitsRowAndEventTogether(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ctx := context.Background()

	err := s.InsertWithEvent(ctx, "workouts", workoutRow("w-1"), ledger.WriteMeta{Source: "coach", Reason: "plan created"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var status string
	if err := conn.QueryRow(`SELECT status FROM workouts WHERE id='w-1'`).Scan(&status); err != nil {
		t.Fatalf("row missing: %v", err)
	}
	events, err := s.ByEntity(ctx, "workouts", "w-1", 0)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one event, got %v %v", events, err)
	}
	ev := events[0]
	if ev.Action != domain.ActionCreate || ev.AfterHash == "" || ev.Source != "coach" {
		t.Fatalf("bad create event: %+v", ev)
	}
}

func TestUpdateWithEventDiffCarriesOnlyChangedFields(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ctx := context.Background()
	if err := s.InsertWithEvent(ctx, "workouts", workoutRow("w-1"), ledger.WriteMeta{Source: "coach"}); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateWithEvent(ctx, "workouts", "w-1", map[string]any{"status": "completed", "notes": "felt strong"}, ledger.WriteMeta{Source: "coach", Reason: "workout completed"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	events, err := s.ByEntity(ctx, "workouts", "w-1", 1)
	if err != nil || len(events) != 1 {
		t.Fatal(err)
	}
	ev := events[0]
	if ev.Action != domain.ActionUpdate || ev.BeforeHash == "" || ev.AfterHash == "" || ev.BeforeHash == ev.AfterHash {
		t.Fatalf("bad update event: %+v", ev)
	}
	var diff struct {
		Before map[string]any `json:"before"`
	}
	if err := json.Unmarshal([]byte(ev.DiffJSON), &diff); err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diff.Before) != 2 {
		t.Fatalf("diff must carry exactly the changed fields, got %v", diff.Before)
	}
	if diff.Before["status"] != "planned" || diff.Before["notes"] != "" {
		t.Fatalf("diff must carry prior values, got %v", diff.Before)
	}
}

func TestDeleteWithEventPreservesFullRow(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ctx := context.Background()
	if err := s.InsertWithEvent(ctx, "workouts", workoutRow("w-1"), ledger.WriteMeta{Source: "coach"}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteWithEvent(ctx, "workouts", "w-1", ledger.WriteMeta{Source: "coach", Reason: "duplicate"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM workouts WHERE id='w-1'`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("row should be gone: n=%d err=%v", n, err)
	}

	events, err := s.ByEntity(ctx, "workouts", "w-1", 1)
	if err != nil || len(events) != 1 {
		t.Fatal(err)
	}
	var diff struct {
		DeletedRow map[string]any `json:"deleted_row"`
	}
	if err := json.Unmarshal([]byte(events[0].DiffJSON), &diff); err != nil {
		t.Fatalf("diff: %v", err)
	}
	if diff.DeletedRow["workout_type"] != "intervals" || diff.DeletedRow["id"] != "w-1" {
		t.Fatalf("deleted row not preserved: %v", diff.DeletedRow)
	}
}

func TestMutationsRefuseProtectedTables(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn}
	ctx := context.Background()
	for _, table := range []string{"events", "policies", "idempotency_records"} {
		if err := s.InsertWithEvent(ctx, table, map[string]any{"id": "x"}, ledger.WriteMeta{Source: "test"}); err == nil {
			t.Fatalf("insert into %s must be refused", table)
		}
		if err := s.UpdateWithEvent(ctx, table, "x", map[string]any{"id": "y"}, ledger.WriteMeta{Source: "test"}); err == nil {
			t.Fatalf("update of %s must be refused", table)
		}
	}
}

func TestUpdateMissingRowIsNotFound(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn}
	err := s.UpdateWithEvent(context.Background(), "workouts", "nope", map[string]any{"status": "completed"}, ledger.WriteMeta{Source: "test"})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTableClassificationsAreDisjoint(t *testing.T) {
	for _, table := range []string{"workouts", "training_plans", "metrics"} {
		if !ledger.Rollbackable(table) || ledger.Protected(table) {
			t.Errorf("%s should be rollbackable only", table)
		}
	}
	for _, table := range []string{"events", "write_locks", "idempotency_records", "policies", "policy_tests", "decision_records", "schema_version"} {
		if ledger.Rollbackable(table) || !ledger.Protected(table) {
			t.Errorf("%s should be protected only", table)
		}
	}
}
