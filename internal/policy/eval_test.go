package policy_test

import (
	"strings"
	"testing"

	"stride/internal/policy"
)

func hrvPolicy() policy.Policy {
	return policy.Policy{
		ID:      1,
		Name:    "low_hrv_reduce",
		Version: 1,
		Rules: policy.Rules{
			Conditions: []policy.Condition{
				policy.Comparison{Field: "hrv_delta_pct", Op: policy.OpLt, Value: -15.0},
			},
			Actions: []policy.Action{
				{Type: policy.ActionReduceIntensity},
				{Type: policy.ActionWarn, Params: map[string]any{"message": "HRV is well below baseline"}},
			},
			Priority: 10,
		},
	}
}

func TestEvaluateTriggers(t *testing.T) {
	ctx := policy.Context{Values: map[string]any{"hrv_delta_pct": -22.5}}
	res := policy.Evaluate(hrvPolicy(), ctx)
	if !res.Triggered {
		t.Fatalf("expected trigger, explanation: %s", res.Explanation)
	}
	if len(res.Actions) != 2 {
		t.Fatalf("expected both actions, got %v", res.Actions)
	}
	if len(res.ConditionsMet) != 1 || len(res.ConditionsNotMet) != 0 {
		t.Fatalf("condition bookkeeping wrong: met=%v not=%v", res.ConditionsMet, res.ConditionsNotMet)
	}
	if !strings.Contains(res.Explanation, "hrv_delta_pct lt -15") {
		t.Fatalf("explanation should name the comparison, got %q", res.Explanation)
	}
}

func TestEvaluateNotTriggeredRecommendsNothing(t *testing.T) {
	ctx := policy.Context{Values: map[string]any{"hrv_delta_pct": -3.0}}
	res := policy.Evaluate(hrvPolicy(), ctx)
	if res.Triggered {
		t.Fatal("should not trigger")
	}
	if len(res.Actions) != 0 {
		t.Fatalf("non-triggered policy must recommend no actions, got %v", res.Actions)
	}
	if len(res.ConditionsNotMet) != 1 {
		t.Fatalf("expected one unmet condition, got %v", res.ConditionsNotMet)
	}
}

func TestEvaluateMissingFieldIsFalseNotError(t *testing.T) {
	res := policy.Evaluate(hrvPolicy(), policy.Context{Values: map[string]any{}})
	if res.Triggered {
		t.Fatal("missing field must evaluate false")
	}
	if !strings.Contains(res.Explanation, "field not available") {
		t.Fatalf("explanation should say the field is missing, got %q", res.Explanation)
	}
}

func TestOverrideWinsBeforeConditions(t *testing.T) {
	ctx := policy.Context{
		Values:          map[string]any{"hrv_delta_pct": -40.0},
		ActiveOverrides: []string{"low_hrv_reduce"},
	}
	res := policy.Evaluate(hrvPolicy(), ctx)
	if res.Triggered || len(res.Actions) != 0 {
		t.Fatalf("override must suppress the policy, got %+v", res)
	}
	if !strings.Contains(res.Explanation, "overridden by user") {
		t.Fatalf("explanation must record the override, got %q", res.Explanation)
	}
}

func TestNestedAndOr(t *testing.T) {
	p := policy.Policy{
		Name: "fatigue_guard",
		Rules: policy.Rules{
			Conditions: []policy.Condition{
				policy.Or{Conditions: []policy.Condition{
					policy.Comparison{Field: "sleep_hours", Op: policy.OpLt, Value: 6},
					policy.And{Conditions: []policy.Condition{
						policy.Comparison{Field: "resting_hr", Op: policy.OpGt, Value: 60},
						policy.Comparison{Field: "soreness", Op: policy.OpGte, Value: 7},
					}},
				}},
			},
			Actions: []policy.Action{{Type: policy.ActionAddRestDay}},
		},
	}

	cases := []struct {
		name   string
		values map[string]any
		want   bool
	}{
		{"short sleep alone", map[string]any{"sleep_hours": 5.0, "resting_hr": 50.0, "soreness": 1.0}, true},
		{"both inner and terms", map[string]any{"sleep_hours": 8.0, "resting_hr": 66.0, "soreness": 8.0}, true},
		{"only one inner term", map[string]any{"sleep_hours": 8.0, "resting_hr": 66.0, "soreness": 2.0}, false},
		{"nothing elevated", map[string]any{"sleep_hours": 8.0, "resting_hr": 50.0, "soreness": 1.0}, false},
	}
	for _, tc := range cases {
		res := policy.Evaluate(p, policy.Context{Values: tc.values})
		if res.Triggered != tc.want {
			t.Errorf("%s: triggered=%v, want %v (%s)", tc.name, res.Triggered, tc.want, res.Explanation)
		}
	}
}

func TestOperatorEdges(t *testing.T) {
	ctx := policy.Context{Values: map[string]any{
		"load":    50.0,
		"phase":   "taper",
		"notes":   "Felt a Twinge in the left calf",
		"athlete": map[string]any{"age": 41.0},
	}}
	cases := []struct {
		cond policy.Comparison
		want bool
	}{
		{policy.Comparison{Field: "load", Op: policy.OpBetween, Value: []any{50.0, 80.0}}, true},
		{policy.Comparison{Field: "load", Op: policy.OpBetween, Value: []any{51.0, 80.0}}, false},
		{policy.Comparison{Field: "phase", Op: policy.OpIn, Value: []any{"base", "taper"}}, true},
		{policy.Comparison{Field: "phase", Op: policy.OpIn, Value: []any{"base", "build"}}, false},
		{policy.Comparison{Field: "notes", Op: policy.OpContains, Value: "twinge"}, true},
		{policy.Comparison{Field: "athlete.age", Op: policy.OpGte, Value: 40}, true},
		{policy.Comparison{Field: "phase", Op: policy.OpGt, Value: 3}, false},
	}
	for i, tc := range cases {
		p := policy.Policy{Name: "probe", Rules: policy.Rules{
			Conditions: []policy.Condition{tc.cond},
			Actions:    []policy.Action{{Type: policy.ActionWarn}},
		}}
		res := policy.Evaluate(p, ctx)
		if res.Triggered != tc.want {
			t.Errorf("case %d (%s %s %v): triggered=%v, want %v (%s)",
				i, tc.cond.Field, tc.cond.Op, tc.cond.Value, res.Triggered, tc.want, res.Explanation)
		}
	}
}

func TestExplanationDeterministic(t *testing.T) {
	ctx := policy.Context{Values: map[string]any{"hrv_delta_pct": -22.5}}
	first := policy.Evaluate(hrvPolicy(), ctx)
	for i := 0; i < 5; i++ {
		if got := policy.Evaluate(hrvPolicy(), ctx); got.Explanation != first.Explanation {
			t.Fatalf("explanation changed between runs: %q vs %q", first.Explanation, got.Explanation)
		}
	}
}

func TestEvaluateAllPriorityOrderAndMerge(t *testing.T) {
	low := policy.Policy{ID: 1, Name: "low", Rules: policy.Rules{
		Priority:   1,
		Conditions: []policy.Condition{policy.Comparison{Field: "flag", Op: policy.OpEq, Value: true}},
		Actions: []policy.Action{
			{Type: policy.ActionWarn},
			{Type: policy.ActionReduceVolume, Params: map[string]any{"pct": 10.0}},
		},
	}}
	high := policy.Policy{ID: 2, Name: "high", Rules: policy.Rules{
		Priority:   9,
		Conditions: []policy.Condition{policy.Comparison{Field: "flag", Op: policy.OpEq, Value: true}},
		Actions: []policy.Action{
			{Type: policy.ActionWarn},
			{Type: policy.ActionReduceVolume, Params: map[string]any{"pct": 25.0}},
		},
	}}
	ctx := policy.Context{Values: map[string]any{"flag": true}}

	results := policy.EvaluateAll([]policy.Policy{low, high}, ctx)
	if results[0].PolicyName != "high" || results[1].PolicyName != "low" {
		t.Fatalf("results must come back priority-descending, got %s then %s", results[0].PolicyName, results[1].PolicyName)
	}

	merged := policy.MergeActions(results)
	// warn dedupes across policies; the two reduce_volume actions differ in
	// params and both survive, high-priority first.
	if len(merged) != 3 {
		t.Fatalf("expected 3 merged actions, got %v", merged)
	}
	if merged[0].Type != policy.ActionWarn {
		t.Fatalf("first merged action should be warn, got %v", merged[0])
	}
	if merged[1].Params["pct"] != 25.0 {
		t.Fatalf("high-priority params must come first, got %v", merged[1])
	}
}

func TestActiveSetHashStableUnderOrder(t *testing.T) {
	a := []policy.VersionRef{{ID: 1, Version: 2}, {ID: 7, Version: 1}}
	b := []policy.VersionRef{{ID: 7, Version: 1}, {ID: 1, Version: 2}}
	if policy.ActiveSetHash(a) != policy.ActiveSetHash(b) {
		t.Fatal("hash must be order-independent")
	}
	c := []policy.VersionRef{{ID: 1, Version: 3}, {ID: 7, Version: 1}}
	if policy.ActiveSetHash(a) == policy.ActiveSetHash(c) {
		t.Fatal("hash must change when a version changes")
	}
}
