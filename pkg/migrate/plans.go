package migrate

import (
	"fmt"
	"sort"

	"github.com/freedevtools/fdtdb/pkg/schema"
)

var plans = map[string][]Step{}

// RegisterPlan appends steps to a domain's plan. Steps are kept ordered by
// version; steps of one version keep their registration order.
func RegisterPlan(domain string, steps ...Step) {
	plans[domain] = append(plans[domain], steps...)
	sort.SliceStable(plans[domain], func(i, j int) bool {
		return plans[domain][i].Version < plans[domain][j].Version
	})
}

// Plan returns the registered steps of a domain up to and including
// version target; target 0 means every step.
func Plan(domain string, target int) ([]Step, error) {
	if _, err := schema.Lookup(domain); err != nil {
		return nil, err
	}
	var out []Step
	for _, s := range plans[domain] {
		if target > 0 && s.Version > target {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func validatePlan(steps []Step) error {
	seen := map[string]bool{}
	for _, s := range steps {
		if s.Name == "" || s.Apply == nil {
			return fmt.Errorf("step %q is incomplete", s.Name)
		}
		k := journalKey(s.Name, s.Version)
		if seen[k] && !s.Repeatable {
			return fmt.Errorf("step %s appears twice", k)
		}
		seen[k] = true
	}
	return nil
}

func init() {
	RegisterPlan(schema.ManPages,
		RekeyTable(2, "man_pages"),
		SyncSchema(3),
		RebuildAggregates(3),
	)
	RegisterPlan(schema.Cheatsheets,
		RekeyTable(2, "cheatsheet"),
	)
	RegisterPlan(schema.MCP,
		AddColumn(2, "overview", schema.Column{Name: "total_category_count", Decl: "INTEGER NOT NULL DEFAULT 0"}),
		RebuildAggregates(2),
	)
	RegisterPlan(schema.Emojis,
		DropColumn(2, "images", "image_data"),
		SyncSchema(3),
		RekeyTable(3, "emojis"),
		RebuildAggregates(3),
	)
}
