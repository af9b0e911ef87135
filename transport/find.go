package transport

import (
	"context"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/pagination"
	"github.com/acksell/slotdb/physical"
)

// FindInput describes a read.
type FindInput struct {
	Filter  filterexpr.Filter
	Catalog *index.Catalog
	// Relations adds the related instances stored under the matched key.
	Relations []string
	// Condition is an extra predicate on raw fields.
	Condition filterexpr.Filter
	Direction pagination.Direction
	// Limit caps the results. Zero means no limit.
	Limit int
	// Projection lists the fields returned for each record. Empty returns
	// every field. The identity is always reported.
	Projection []string
}

// FindMany returns every record matching the filter, ordered on the slot
// of the index serving it.
func (t *Transporter) FindMany(ctx context.Context, in FindInput) ([]Record, error) {
	plan, pred, err := t.compile(ctx, "find", in.Catalog, in.Filter, in.Condition, filterexpr.WithRelations(in.Relations...))
	if err != nil {
		return nil, err
	}
	docs, err := t.driver.Find(ctx, Query{
		Filter: pred,
		Sort:   pagination.BuildSort(plan.Index, in.Direction),
		Limit:  in.Limit,
	})
	if err != nil {
		return nil, t.storeFailed(ctx, "find", in.Catalog, err)
	}
	out := make([]Record, len(docs))
	for i, doc := range docs {
		rec := toRecord(doc)
		rec.Item = Project(rec.Item, in.Projection)
		out[i] = *rec
	}
	return out, nil
}

// FindOne returns the first matching record, or nil.
func (t *Transporter) FindOne(ctx context.Context, in FindInput) (*Record, error) {
	in.Limit = 1
	recs, err := t.FindMany(ctx, in)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// FindByID returns the record with the given identity, or nil. Identities
// of other entities never match.
func (t *Transporter) FindByID(ctx context.Context, cat *index.Catalog, id string) (*Record, error) {
	d, err := keys.Decode(id)
	if err != nil || d.TypeTag != cat.TypeTag() || d.Slot != string(index.SlotID) {
		return nil, nil
	}
	pred := physical.Eq{Field: string(index.SlotID), Value: id}
	t.log.DebugContext(ctx, "compiled query", "op", "findById", "entity", cat.Entity(), "filter", physical.String(pred))

	docs, err := t.driver.Find(ctx, Query{Filter: pred, Limit: 1})
	if err != nil {
		return nil, t.storeFailed(ctx, "findById", cat, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return toRecord(docs[0]), nil
}

// PaginateInput describes a page read.
type PaginateInput struct {
	Filter    filterexpr.Filter
	Catalog   *index.Catalog
	Condition filterexpr.Filter
	Direction pagination.Direction
	// First is the page size.
	First int
	// After is the EndCursor of the previous page.
	After string
	// Projection lists the fields of each edge node, as in FindInput.
	Projection []string
}

// Paginate returns one page of matching records. Edge nodes are stripped
// of slot fields.
func (t *Transporter) Paginate(ctx context.Context, in PaginateInput) (pagination.Connection, error) {
	if in.First <= 0 {
		return pagination.Connection{}, pagination.ErrInvalidPageSize
	}
	plan, pred, err := t.compile(ctx, "paginate", in.Catalog, in.Filter, in.Condition)
	if err != nil {
		return pagination.Connection{}, err
	}
	cont, err := pagination.ContinuationFilter(in.After, in.Catalog, plan.Index, in.Direction)
	if err != nil {
		return pagination.Connection{}, err
	}
	docs, err := t.driver.Find(ctx, Query{
		Filter: physical.AllOf(pred, cont),
		Sort:   pagination.BuildSort(plan.Index, in.Direction),
		Limit:  pagination.Limit(in.First),
	})
	if err != nil {
		return pagination.Connection{}, t.storeFailed(ctx, "paginate", in.Catalog, err)
	}
	conn, err := pagination.Page(docs, in.First, in.After, plan.Slot)
	if err != nil {
		return pagination.Connection{}, err
	}
	for i := range conn.Edges {
		conn.Edges[i].Node = Project(Strip(conn.Edges[i].Node), in.Projection)
	}
	return conn, nil
}

// Project returns the named fields of doc. Dotted paths select nested
// fields; missing fields are left out.
func Project(doc physical.Document, fields []string) physical.Document {
	if len(fields) == 0 || doc == nil {
		return doc
	}
	out := physical.Document{}
	for _, f := range fields {
		if v, ok := doc.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out
}
