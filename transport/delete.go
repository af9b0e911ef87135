package transport

import (
	"context"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
)

// DeleteOneInput describes a delete.
type DeleteOneInput struct {
	Filter    filterexpr.Filter
	Catalog   *index.Catalog
	Condition filterexpr.Filter
}

// DeleteOne atomically deletes the first matching document and returns it,
// or nil when nothing matched. Store failures are returned as *StoreError.
func (t *Transporter) DeleteOne(ctx context.Context, in DeleteOneInput) (*Record, error) {
	_, pred, err := t.compile(ctx, "delete", in.Catalog, in.Filter, in.Condition)
	if err != nil {
		return nil, err
	}
	doc, err := t.driver.FindOneAndDelete(ctx, pred)
	if err != nil {
		return nil, t.storeFailed(ctx, "delete", in.Catalog, err)
	}
	return toRecord(doc), nil
}
