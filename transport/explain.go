package transport

import (
	"context"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
)

// Explain compiles a filter without running it and describes the plan.
func (t *Transporter) Explain(ctx context.Context, cat *index.Catalog, f filterexpr.Filter, relations ...string) (map[string]any, error) {
	plan, _, err := t.compile(ctx, "explain", cat, f, nil, filterexpr.WithRelations(relations...))
	if err != nil {
		return nil, err
	}
	out := plan.Explain()
	out["entity"] = cat.Entity()
	out["policy"] = t.policy.String()
	return out, nil
}
