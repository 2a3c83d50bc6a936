package policy

import (
	"encoding/json"
	"strings"
)

// Operator is the fixed comparison grammar. and/or are structural operators
// carrying nested condition lists; the rest compare a context field against
// a value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpBetween  Operator = "between"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpAnd      Operator = "and"
	OpOr       Operator = "or"
)

// Condition is a tagged union: Comparison, And or Or. Trees of these
// express arbitrary boolean combinations over the context.
type Condition interface {
	cond()
}

// Comparison tests one context field against a value.
type Comparison struct {
	Field string
	Op    Operator
	Value any
}

// And holds when every nested condition holds.
type And struct {
	Conditions []Condition
}

// Or holds when any nested condition holds.
type Or struct {
	Conditions []Condition
}

func (Comparison) cond() {}
func (And) cond()        {}
func (Or) cond()         {}

// ActionType enumerates what a triggered policy may recommend.
type ActionType string

const (
	ActionConvertWorkout  ActionType = "convert_workout"
	ActionSkipWorkout     ActionType = "skip_workout"
	ActionReduceIntensity ActionType = "reduce_intensity"
	ActionReduceVolume    ActionType = "reduce_volume"
	ActionAddRestDay      ActionType = "add_rest_day"
	ActionFlagForReview   ActionType = "flag_for_review"
	ActionWarn            ActionType = "warn"
	ActionBlock           ActionType = "block"
)

// KnownAction reports whether t is part of the fixed action vocabulary.
func KnownAction(t ActionType) bool {
	switch t {
	case ActionConvertWorkout, ActionSkipWorkout, ActionReduceIntensity,
		ActionReduceVolume, ActionAddRestDay, ActionFlagForReview,
		ActionWarn, ActionBlock:
		return true
	}
	return false
}

type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rules is a policy's condition tree, action list and priority.
type Rules struct {
	Conditions []Condition
	Actions    []Action
	Priority   int
}

// Policy is one versioned rule. Versions are immutable once created; at
// most one version per name is active at a time.
type Policy struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Rules       Rules  `json:"rules"`
	Summary     string `json:"summary,omitempty"`
	IsActive    bool   `json:"is_active"`
	ActivatedAt string `json:"activated_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Context is the runtime snapshot policies evaluate against. Values nest;
// conditions address them by dotted path. ActiveOverrides lists policy
// names the athlete has switched off for now.
type Context struct {
	Values          map[string]any `json:"values"`
	ActiveOverrides []string       `json:"active_overrides,omitempty"`
}

// Lookup resolves a dotted path into the context values. A missing segment
// is reported as absent, never as an error.
func (c Context) Lookup(path string) (any, bool) {
	cur := any(c.Values)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Overridden reports whether the named policy is switched off by the user.
func (c Context) Overridden(name string) bool {
	for _, n := range c.ActiveOverrides {
		if n == name {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts both the structured form {"values":{...},
// "active_overrides":[...]} and a flat object, which is treated as the
// values map. Fixtures in policy files are usually written flat.
func (c *Context) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if raw, ok := probe["values"]; ok {
		if err := json.Unmarshal(raw, &c.Values); err != nil {
			return err
		}
		if raw, ok := probe["active_overrides"]; ok {
			if err := json.Unmarshal(raw, &c.ActiveOverrides); err != nil {
				return err
			}
		}
		return nil
	}
	return json.Unmarshal(b, &c.Values)
}
