package coach

import (
	"context"

	"stride/internal/domain"
	"stride/internal/policy"
)

// ReadinessOptions tune one readiness check.
type ReadinessOptions struct {
	Overrides []string
	TraceID   string
}

// ReadinessReport is the outcome of evaluating the active policy set
// against the athlete's current metrics.
type ReadinessReport struct {
	Context    map[string]any  `json:"context"`
	Overrides  []string        `json:"overrides,omitempty"`
	Results    []policy.Result `json:"results"`
	Actions    []policy.Action `json:"actions"`
	DecisionID string          `json:"decision_id,omitempty"`
}

// CheckReadiness builds an evaluation context from recent metrics, runs
// every active policy against it, merges the triggered actions, and
// records the whole thing as a decision.
func (c *Coach) CheckReadiness(ctx context.Context, opts ReadinessOptions) (ReadinessReport, error) {
	values, err := c.metricContext(ctx)
	if err != nil {
		return ReadinessReport{}, err
	}
	active, err := c.Registry.Active(ctx)
	if err != nil {
		return ReadinessReport{}, err
	}

	evalCtx := policy.Context{Values: values, ActiveOverrides: opts.Overrides}
	results := policy.EvaluateAll(active, evalCtx)
	actions := policy.MergeActions(results)

	report := ReadinessReport{
		Context:   values,
		Overrides: opts.Overrides,
		Results:   results,
		Actions:   actions,
	}
	rec, _ := c.Decisions.Record(ctx, "readiness",
		map[string]any{"context": values, "overrides": opts.Overrides},
		map[string]any{"results": results, "actions": actions},
		policy.VersionRefs(active), opts.TraceID)
	report.DecisionID = rec.ID
	return report, nil
}

// metricContext flattens the latest reading of every metric type into
// evaluation values, plus *_delta_pct against the trailing average when
// enough history exists.
func (c *Coach) metricContext(ctx context.Context) (map[string]any, error) {
	rows, err := c.DB.QueryContext(ctx, `SELECT metric_type, value, recorded_at FROM metrics ORDER BY metric_type ASC, recorded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := map[string]any{}
	history := map[string][]float64{}
	for rows.Next() {
		var m domain.Metric
		if err := rows.Scan(&m.MetricType, &m.Value, &m.RecordedAt); err != nil {
			return nil, err
		}
		if _, seen := values[m.MetricType]; !seen {
			values[m.MetricType] = m.Value
		}
		history[m.MetricType] = append(history[m.MetricType], m.Value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Latest reading against the mean of the rest, e.g. hrv_delta_pct.
	for metricType, readings := range history {
		if len(readings) < 2 {
			continue
		}
		var sum float64
		for _, v := range readings[1:] {
			sum += v
		}
		baseline := sum / float64(len(readings)-1)
		if baseline == 0 {
			continue
		}
		values[metricType+"_delta_pct"] = (readings[0] - baseline) / baseline * 100
	}
	return values, nil
}
