package transport

import (
	"context"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/updateexpr"
)

// UpdateOneInput describes an update.
type UpdateOneInput struct {
	Filter    filterexpr.Filter
	Catalog   *index.Catalog
	Update    *updateexpr.Update
	Condition filterexpr.Filter
	// Upsert creates the document from the filter bindings and the update
	// when nothing matches.
	Upsert bool
}

// UpdateOneResult reports an update. Store failures are reported in Error.
type UpdateOneResult struct {
	Updated bool    `json:"updated"`
	Created bool    `json:"created"`
	Record  *Record `json:"record,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// UpdateOne atomically updates the first matching document and returns it
// after the update. Index slots depending on updated fields are rewritten
// in the same operation; if they can't be derived nothing is written and
// the derivation error is returned.
func (t *Transporter) UpdateOne(ctx context.Context, in UpdateOneInput) (UpdateOneResult, error) {
	plan, pred, err := t.compile(ctx, "update", in.Catalog, in.Filter, in.Condition)
	if err != nil {
		return UpdateOneResult{}, err
	}
	pu, err := updateexpr.Compile(in.Update, in.Catalog, plan.Bindings())
	if err != nil {
		return UpdateOneResult{}, err
	}
	if in.Upsert {
		_, set := pu.Set[string(index.SlotID)]
		_, onInsert := pu.SetOnInsert[string(index.SlotID)]
		if !set && !onInsert {
			primary := in.Catalog.Primary()
			return UpdateOneResult{}, &updateexpr.IndexDerivationError{
				Index:  primary.Name,
				Field:  primary.PK[0],
				Reason: "upsert needs the primary key bound by the filter or the update",
			}
		}
	}
	t.log.DebugContext(ctx, "compiled update", "entity", in.Catalog.Entity(), "update", pu.ToMap())

	out, err := t.driver.FindOneAndUpdate(ctx, pred, pu, in.Upsert)
	if err != nil {
		return UpdateOneResult{Error: t.storeFailed(ctx, "update", in.Catalog, err).Error()}, nil
	}
	return UpdateOneResult{
		Updated: out.Matched,
		Created: out.Upserted,
		Record:  toRecord(out.Document),
	}, nil
}
