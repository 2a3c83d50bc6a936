package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Result is one policy's evaluation outcome. The explanation is
// deterministic for a given (policy, context) pair; it is part of the
// audit contract.
type Result struct {
	PolicyID         int64    `json:"policy_id"`
	PolicyName       string   `json:"policy_name"`
	Version          int      `json:"version"`
	Triggered        bool     `json:"triggered"`
	ConditionsMet    []string `json:"conditions_met,omitempty"`
	ConditionsNotMet []string `json:"conditions_not_met,omitempty"`
	Actions          []Action `json:"recommended_actions,omitempty"`
	Explanation      string   `json:"explanation"`
}

// Evaluate runs one policy against a context snapshot. Pure: no I/O, no
// side effects. Overrides win unconditionally, before any condition is
// looked at. Top-level conditions combine with AND; a policy fires all of
// its actions or none.
func Evaluate(p Policy, ctx Context) Result {
	res := Result{PolicyID: p.ID, PolicyName: p.Name, Version: p.Version}
	if ctx.Overridden(p.Name) {
		res.Explanation = fmt.Sprintf("policy %q overridden by user", p.Name)
		return res
	}
	triggered := true
	var parts []string
	for _, c := range p.Rules.Conditions {
		ok, expl := evalCondition(c, ctx)
		parts = append(parts, expl)
		if ok {
			res.ConditionsMet = append(res.ConditionsMet, expl)
		} else {
			res.ConditionsNotMet = append(res.ConditionsNotMet, expl)
			triggered = false
		}
	}
	res.Triggered = triggered
	res.Explanation = strings.Join(parts, "; ")
	if triggered {
		res.Actions = append(res.Actions, p.Rules.Actions...)
	}
	return res
}

// EvaluateAll evaluates policies sorted by descending priority, ties kept
// in original order. Priority orders presentation and action merging; it
// never changes whether a policy fires.
func EvaluateAll(policies []Policy, ctx Context) []Result {
	ordered := make([]Policy, len(policies))
	copy(ordered, policies)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Rules.Priority > ordered[j].Rules.Priority
	})
	results := make([]Result, 0, len(ordered))
	for _, p := range ordered {
		results = append(results, Evaluate(p, ctx))
	}
	return results
}

// MergeActions flattens triggered results into a deduplicated action list.
// Dedup key is (type, serialized params); the first occurrence, i.e. the
// highest-priority triggering policy, wins.
func MergeActions(results []Result) []Action {
	seen := map[string]bool{}
	var merged []Action
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		for _, a := range r.Actions {
			key := string(a.Type) + "|" + canonicalParams(a.Params)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, a)
		}
	}
	return merged
}

func canonicalParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprint(params)
	}
	return string(b)
}

func evalCondition(c Condition, ctx Context) (bool, string) {
	switch v := c.(type) {
	case And:
		ok := true
		var parts []string
		for _, child := range v.Conditions {
			childOK, expl := evalCondition(child, ctx)
			parts = append(parts, expl)
			if !childOK {
				ok = false
			}
		}
		return ok, "(" + strings.Join(parts, " AND ") + ")"
	case Or:
		ok := false
		var parts []string
		for _, child := range v.Conditions {
			childOK, expl := evalCondition(child, ctx)
			parts = append(parts, expl)
			if childOK {
				ok = true
			}
		}
		return ok, "(" + strings.Join(parts, " OR ") + ")"
	case Comparison:
		return evalComparison(v, ctx)
	default:
		return false, "unknown condition"
	}
}

// evalComparison never errors: a missing field or an uncomparable value
// makes the single condition false with an explanation saying why.
func evalComparison(c Comparison, ctx Context) (bool, string) {
	got, present := ctx.Lookup(c.Field)
	if !present {
		return false, fmt.Sprintf("%s: field not available", c.Field)
	}
	switch c.Op {
	case OpEq:
		ok := looseEqual(got, c.Value)
		return ok, explain(c, got, ok)
	case OpNeq:
		ok := !looseEqual(got, c.Value)
		return ok, explain(c, got, ok)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(got)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false, fmt.Sprintf("%s %s %v: value %v is not numeric", c.Field, c.Op, c.Value, got)
		}
		var ok bool
		switch c.Op {
		case OpGt:
			ok = a > b
		case OpGte:
			ok = a >= b
		case OpLt:
			ok = a < b
		case OpLte:
			ok = a <= b
		}
		return ok, explain(c, got, ok)
	case OpBetween:
		bounds, listOK := asList(c.Value)
		if !listOK || len(bounds) != 2 {
			return false, fmt.Sprintf("%s between: expected two bounds, got %v", c.Field, c.Value)
		}
		a, aok := toFloat(got)
		lo, lok := toFloat(bounds[0])
		hi, hok := toFloat(bounds[1])
		if !aok || !lok || !hok {
			return false, fmt.Sprintf("%s between %v: value %v is not numeric", c.Field, c.Value, got)
		}
		ok := a >= lo && a <= hi
		return ok, explain(c, got, ok)
	case OpIn:
		items, listOK := asList(c.Value)
		if !listOK {
			return false, fmt.Sprintf("%s in: expected a list, got %v", c.Field, c.Value)
		}
		ok := false
		for _, item := range items {
			if looseEqual(got, item) {
				ok = true
				break
			}
		}
		return ok, explain(c, got, ok)
	case OpContains:
		ok := strings.Contains(strings.ToLower(fmt.Sprint(got)), strings.ToLower(fmt.Sprint(c.Value)))
		return ok, explain(c, got, ok)
	default:
		return false, fmt.Sprintf("%s: unknown operator %q", c.Field, c.Op)
	}
}

func explain(c Comparison, got any, ok bool) string {
	verdict := "holds"
	if !ok {
		verdict = "does not hold"
	}
	return fmt.Sprintf("%s %s %v %s (value %v)", c.Field, c.Op, c.Value, verdict, got)
}

// toFloat coerces numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// looseEqual compares numerically when both sides coerce, otherwise by
// string form.
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, f := range l {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
