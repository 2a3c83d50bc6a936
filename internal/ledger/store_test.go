package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"stride/internal/db"
	"stride/internal/domain"
	"stride/internal/ledger"
	"stride/internal/migrate"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// testClock hands out strictly increasing timestamps so event ordering is
// deterministic.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func appendN(t *testing.T, s ledger.Store, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.Append(ctx, nil, domain.Event{
			EntityType: "workouts",
			EntityID:   fmt.Sprintf("w-%d", i),
			Action:     domain.ActionCreate,
			Source:     "test",
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestAppendAndRecent(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ids := appendN(t, s, 3)

	events, err := s.Recent(context.Background(), ledger.Filters{})
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].ID != ids[2] || events[2].ID != ids[0] {
		t.Fatalf("recent must be newest first: %v", events)
	}
	if events[0].TS == "" {
		t.Fatal("append must stamp ts")
	}
}

func TestRecentFilters(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ctx := context.Background()
	if _, err := s.Append(ctx, nil, domain.Event{EntityType: "workouts", EntityID: "w-1", Action: domain.ActionCreate, Source: "coach"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, nil, domain.Event{EntityType: "metrics", EntityID: "m-1", Action: domain.ActionCreate, Source: "coach"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, nil, domain.Event{EntityType: "workouts", EntityID: "w-1", Action: domain.ActionUpdate, Source: "coach"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, ledger.Filters{EntityType: "workouts"})
	if err != nil || len(got) != 2 {
		t.Fatalf("entity_type filter: %v %v", got, err)
	}
	got, err = s.Recent(ctx, ledger.Filters{Action: domain.ActionUpdate})
	if err != nil || len(got) != 1 {
		t.Fatalf("action filter: %v %v", got, err)
	}
}

func TestByEntityNewestFirst(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ctx := context.Background()
	for _, action := range []string{domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete} {
		if _, err := s.Append(ctx, nil, domain.Event{EntityType: "workouts", EntityID: "w-1", Action: action, Source: "test"}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := s.ByEntity(ctx, "workouts", "w-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Action != domain.ActionDelete || events[2].Action != domain.ActionCreate {
		t.Fatalf("unexpected history: %v", events)
	}
}

func TestSinceExcludesTargetAndOrdersAscending(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ids := appendN(t, s, 5)

	events, err := s.Since(context.Background(), ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected the 3 events after the target, got %d", len(events))
	}
	for i, want := range ids[2:] {
		if events[i].ID != want {
			t.Fatalf("ascending order broken at %d: got %d want %d", i, events[i].ID, want)
		}
	}
}

func TestOrderingSurvivesTrailingZeroFractions(t *testing.T) {
	conn := newTestDB(t)
	// Two appends 20ms apart whose RFC3339Nano renderings sort the wrong
	// way round as text: the trailing zero of .520 is trimmed, and
	// "...00.52Z" < "...00.5Z" byte-wise. Ordering must not depend on the
	// stored text.
	stamps := []time.Time{
		time.Date(2026, 3, 1, 6, 0, 0, 500_000_000, time.UTC),
		time.Date(2026, 3, 1, 6, 0, 0, 520_000_000, time.UTC),
	}
	calls := 0
	s := ledger.Store{DB: conn, Now: func() time.Time {
		ts := stamps[calls]
		if calls < len(stamps)-1 {
			calls++
		}
		return ts
	}}
	ids := appendN(t, s, 2)

	after, err := s.Since(context.Background(), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || after[0].ID != ids[1] {
		t.Fatalf("the later event must come back from Since, got %v", after)
	}

	recent, err := s.Recent(context.Background(), ledger.Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != ids[1] {
		t.Fatalf("newest-first order broken: %v", recent)
	}
	latest, err := s.NthRecent(context.Background(), 1)
	if err != nil || latest.ID != ids[1] {
		t.Fatalf("latest event: %v %v", latest, err)
	}
}

func TestSinceSameInstantEventsOrderByID(t *testing.T) {
	conn := newTestDB(t)
	// Frozen clock: every event shares one timestamp, only ids order them.
	frozen := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	s := ledger.Store{DB: conn, Now: func() time.Time { return frozen }}
	ids := appendN(t, s, 4)

	events, err := s.Since(context.Background(), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("same-instant events after the target must all appear, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID <= events[i-1].ID {
			t.Fatalf("id order broken: %v", events)
		}
	}
}

func TestNthRecent(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn, Now: newTestClock().Now}
	ids := appendN(t, s, 3)

	latest, err := s.NthRecent(context.Background(), 1)
	if err != nil || latest.ID != ids[2] {
		t.Fatalf("1st recent: %v %v", latest, err)
	}
	third, err := s.NthRecent(context.Background(), 3)
	if err != nil || third.ID != ids[0] {
		t.Fatalf("3rd recent: %v %v", third, err)
	}
	if _, err := s.NthRecent(context.Background(), 4); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("past the start should be ErrNotFound, got %v", err)
	}
}

func TestByIDNotFound(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn}
	if _, err := s.ByID(context.Background(), 999); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestAppendRequiresTypeAndAction(t *testing.T) {
	conn := newTestDB(t)
	s := ledger.Store{DB: conn}
	if _, err := s.Append(context.Background(), nil, domain.Event{EntityID: "x", Source: "test"}); err == nil {
		t.Fatal("expected validation error")
	}
}
