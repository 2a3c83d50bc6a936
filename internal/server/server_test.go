package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stride/internal/coach"
	"stride/internal/db"
	"stride/internal/migrate"
	"stride/internal/policy"
	"stride/internal/registry"
	"stride/internal/rollback"
	"stride/internal/writequeue"
)

const testSecret = "test-secret"

func newTestAPI(t *testing.T) (*httptest.Server, *coach.Coach) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	c := coach.New(conn, writequeue.New(conn))
	handler, err := New(Config{
		Coach:    c,
		Rollback: rollback.New(conn, c.Queue),
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, c
}

func signToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "athlete",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func get(t *testing.T, url, token string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, body
}

func TestHealthIsOpen(t *testing.T) {
	srv, _ := newTestAPI(t)
	resp, body := get(t, srv.URL+"/v0/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	srv, _ := newTestAPI(t)
	resp, _ := get(t, srv.URL+"/v0/events", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token should be 401, got %d", resp.StatusCode)
	}
	resp, _ = get(t, srv.URL+"/v0/events", "not-a-jwt")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token should be 401, got %d", resp.StatusCode)
	}
	resp, _ = get(t, srv.URL+"/v0/events", signToken(t))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token should pass, got %d", resp.StatusCode)
	}
}

func TestListEventsReflectsWrites(t *testing.T) {
	srv, c := newTestAPI(t)
	if _, err := c.CreatePlan(context.Background(), coach.PlanOptions{Athlete: "dana", StartsOn: "2026-03-02", Days: 1}); err != nil {
		t.Fatal(err)
	}
	resp, body := get(t, srv.URL+"/v0/events?entity_type=training_plans", signToken(t))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", resp.StatusCode, body)
	}
	var payload struct {
		Items []struct {
			EntityType string `json:"entity_type"`
			Action     string `json:"action"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if len(payload.Items) != 1 || payload.Items[0].Action != "create" {
		t.Fatalf("expected the plan create event, got %s", body)
	}
}

func TestGetPolicyNotFound(t *testing.T) {
	srv, _ := newTestAPI(t)
	resp, body := get(t, srv.URL+"/v0/policies/42", signToken(t))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing policy should be 404, got %d %s", resp.StatusCode, body)
	}
}

func TestActivateBlockedByFixtureOverHTTP(t *testing.T) {
	srv, c := newTestAPI(t)
	ctx := context.Background()
	p, err := c.Registry.CreateVersion(ctx, "low_hrv_reduce", policy.Rules{
		Conditions: []policy.Condition{policy.Comparison{Field: "hrv_delta_pct", Op: policy.OpLt, Value: -15.0}},
		Actions:    []policy.Action{{Type: policy.ActionReduceIntensity}},
	}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Registry.AddTest(ctx, registry.Test{
		PolicyID:          p.ID,
		Name:              "contradiction",
		Fixture:           policy.Context{Values: map[string]any{"hrv_delta_pct": -30.0}},
		ExpectedTriggered: false,
	}, ""); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/policies/1/activate", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blocked activation should be 422, got %d", resp.StatusCode)
	}
}

func TestRollbackEndpointIsDryRunOnly(t *testing.T) {
	srv, c := newTestAPI(t)
	ctx := context.Background()
	if _, err := c.CreatePlan(ctx, coach.PlanOptions{Athlete: "dana", StartsOn: "2026-03-02", Days: 1}); err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/rollback/preview", strings.NewReader(`{"last":1}`))
	req.Header.Set("Authorization", "Bearer "+signToken(t))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview: %d %s", resp.StatusCode, body)
	}
	var out struct {
		DryRun bool `json:"dry_run"`
	}
	if err := json.Unmarshal(body, &out); err != nil || !out.DryRun {
		t.Fatalf("preview must be a dry run: %s", body)
	}
	// No row was actually deleted.
	plans, err := c.Plans(ctx)
	if err != nil || len(plans) != 1 {
		t.Fatalf("plans touched by preview: %v %v", plans, err)
	}
}
