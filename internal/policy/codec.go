package policy

import (
	"encoding/json"
	"fmt"
)

// JSON codec for the rule grammar. Serialization happens only at storage
// and file boundaries; everything in memory is the typed Condition tree.
//
// Wire form of a comparison: {"field": "...", "operator": "lt", "value": x}.
// and/or carry their nested condition array as the value:
// {"operator": "and", "value": [ ...conditions... ]}.

type conditionJSON struct {
	Field    string          `json:"field,omitempty"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value,omitempty"`
}

func decodeCondition(raw json.RawMessage) (Condition, error) {
	var cj conditionJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	switch cj.Operator {
	case OpAnd, OpOr:
		var nested []json.RawMessage
		if err := json.Unmarshal(cj.Value, &nested); err != nil {
			return nil, fmt.Errorf("%s condition value must be a condition list: %w", cj.Operator, err)
		}
		children := make([]Condition, 0, len(nested))
		for _, n := range nested {
			child, err := decodeCondition(n)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if cj.Operator == OpAnd {
			return And{Conditions: children}, nil
		}
		return Or{Conditions: children}, nil
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpBetween, OpIn, OpContains:
		if cj.Field == "" {
			return nil, fmt.Errorf("condition with operator %q is missing a field", cj.Operator)
		}
		var value any
		if len(cj.Value) > 0 {
			if err := json.Unmarshal(cj.Value, &value); err != nil {
				return nil, fmt.Errorf("decode condition value: %w", err)
			}
		}
		return Comparison{Field: cj.Field, Op: cj.Operator, Value: value}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", cj.Operator)
	}
}

func encodeCondition(c Condition) (json.RawMessage, error) {
	switch v := c.(type) {
	case Comparison:
		value, err := json.Marshal(v.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(conditionJSON{Field: v.Field, Operator: v.Op, Value: value})
	case And, Or:
		op := OpAnd
		children := []Condition(nil)
		if a, ok := v.(And); ok {
			children = a.Conditions
		} else {
			op = OpOr
			children = v.(Or).Conditions
		}
		nested := make([]json.RawMessage, 0, len(children))
		for _, child := range children {
			enc, err := encodeCondition(child)
			if err != nil {
				return nil, err
			}
			nested = append(nested, enc)
		}
		value, err := json.Marshal(nested)
		if err != nil {
			return nil, err
		}
		return json.Marshal(conditionJSON{Operator: op, Value: value})
	default:
		return nil, fmt.Errorf("unknown condition type %T", c)
	}
}

type rulesJSON struct {
	Conditions []json.RawMessage `json:"conditions"`
	Actions    []Action          `json:"actions"`
	Priority   int               `json:"priority"`
}

func (r Rules) MarshalJSON() ([]byte, error) {
	rj := rulesJSON{Actions: r.Actions, Priority: r.Priority}
	for _, c := range r.Conditions {
		enc, err := encodeCondition(c)
		if err != nil {
			return nil, err
		}
		rj.Conditions = append(rj.Conditions, enc)
	}
	return json.Marshal(rj)
}

func (r *Rules) UnmarshalJSON(b []byte) error {
	var rj rulesJSON
	if err := json.Unmarshal(b, &rj); err != nil {
		return err
	}
	r.Actions = rj.Actions
	r.Priority = rj.Priority
	r.Conditions = nil
	for _, raw := range rj.Conditions {
		c, err := decodeCondition(raw)
		if err != nil {
			return err
		}
		r.Conditions = append(r.Conditions, c)
	}
	return nil
}

// EncodeRules serializes rules for the policies table.
func EncodeRules(r Rules) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeRules parses a stored rules_json column.
func DecodeRules(s string) (Rules, error) {
	var r Rules
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return r, fmt.Errorf("decode rules: %w", err)
	}
	return r, nil
}
