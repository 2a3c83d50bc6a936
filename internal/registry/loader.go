package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stride/internal/policy"
)

// Policy file document: {name, summary, rules: {conditions, actions,
// priority}, tests: [...]}. Files seed the registry; a name that already
// exists is skipped, never overwritten.
type fileDoc struct {
	Name    string       `json:"name"`
	Summary string       `json:"summary,omitempty"`
	Rules   policy.Rules `json:"rules"`
	Tests   []fileTest   `json:"tests,omitempty"`
}

type fileTest struct {
	Name              string         `json:"name"`
	Fixture           policy.Context `json:"fixture"`
	ExpectedTriggered bool           `json:"expected_triggered"`
	ExpectedActions   []string       `json:"expected_actions,omitempty"`
}

// LoadFile imports one policy document. Returns the created policy and
// false, or the zero policy and true when the name already existed.
func (r *Registry) LoadFile(ctx context.Context, path, traceID string) (policy.Policy, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.Policy{}, false, err
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return policy.Policy{}, false, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(doc.Name) == "" {
		return policy.Policy{}, false, fmt.Errorf("%s: policy name is required", path)
	}
	exists, err := r.NameExists(ctx, doc.Name)
	if err != nil {
		return policy.Policy{}, false, err
	}
	if exists {
		r.Log.Info("policy already registered, skipping", "name", doc.Name, "file", path)
		return policy.Policy{}, true, nil
	}
	p, err := r.CreateVersion(ctx, doc.Name, doc.Rules, doc.Summary, traceID)
	if err != nil {
		return policy.Policy{}, false, err
	}
	for _, t := range doc.Tests {
		if _, err := r.AddTest(ctx, Test{
			PolicyID:          p.ID,
			Name:              t.Name,
			Fixture:           t.Fixture,
			ExpectedTriggered: t.ExpectedTriggered,
			ExpectedActions:   t.ExpectedActions,
		}, traceID); err != nil {
			return policy.Policy{}, false, fmt.Errorf("fixture %s: %w", t.Name, err)
		}
	}
	return p, false, nil
}

// LoadDir imports every *.json policy document in a directory, in name
// order. Existing names are skipped and counted.
func (r *Registry) LoadDir(ctx context.Context, dir, traceID string) (loaded, skipped int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		_, wasSkipped, err := r.LoadFile(ctx, filepath.Join(dir, name), traceID)
		if err != nil {
			return loaded, skipped, err
		}
		if wasSkipped {
			skipped++
		} else {
			loaded++
		}
	}
	return loaded, skipped, nil
}
