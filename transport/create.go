package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
)

// RelationScope stores a new item under a parent's relation prefix.
type RelationScope struct {
	// Catalog describes the parent entity.
	Catalog *index.Catalog
	// Relation is declared on one of the parent's indexes.
	Relation string
	// Parent holds at least the PK fields of the owning index.
	Parent physical.Document
}

// CreateOneInput describes a create.
type CreateOneInput struct {
	Item    physical.Document
	Catalog *index.Catalog
	// Replace upserts instead of failing when the item exists.
	Replace bool
	// Condition must hold on the stored document for a replace to happen.
	Condition filterexpr.Filter
	// Under, when set, stores the item as a child of another entity.
	Under *RelationScope
}

// CreateOneResult reports a create. Store failures are reported in Error
// rather than returned, so callers can decide whether to retry.
type CreateOneResult struct {
	Created bool              `json:"created"`
	Updated bool              `json:"updated"`
	ID      string            `json:"id,omitempty"`
	Item    physical.Document `json:"item,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// CreateOne stores an item, computing every index slot from its fields.
// Invalid items and unencodable keys are returned as errors.
func (t *Transporter) CreateOne(ctx context.Context, in CreateOneInput) (CreateOneResult, error) {
	doc, err := t.prepare(in)
	if err != nil {
		return CreateOneResult{}, err
	}
	res := CreateOneResult{ID: doc.ID(), Item: Strip(doc)}

	if !in.Replace {
		t.log.DebugContext(ctx, "insert", "entity", in.Catalog.Entity(), "id", res.ID)
		if err := t.driver.Insert(ctx, doc); err != nil {
			res.Error = t.storeFailed(ctx, "insert", in.Catalog, err).Error()
			return res, nil
		}
		res.Created = true
		return res, nil
	}

	cond, err := filterexpr.Raw(in.Condition)
	if err != nil {
		return CreateOneResult{}, err
	}
	filter := physical.AllOf(physical.Eq{Field: string(index.SlotID), Value: res.ID}, cond)
	t.log.DebugContext(ctx, "replace", "entity", in.Catalog.Entity(), "filter", physical.String(filter))

	matched, err := t.driver.Replace(ctx, filter, doc)
	if err != nil {
		if cond != nil && errors.Is(err, ErrDuplicate) {
			// The document exists but the condition didn't match it.
			err = fmt.Errorf("%w: %w", ErrConditionFailed, err)
		}
		res.Error = t.storeFailed(ctx, "replace", in.Catalog, err).Error()
		return res, nil
	}
	res.Updated, res.Created = matched, !matched
	return res, nil
}

// prepare validates the item and adds its index slots.
func (t *Transporter) prepare(in CreateOneInput) (physical.Document, error) {
	if in.Catalog == nil {
		return nil, fmt.Errorf("%w: no catalog", ErrInvalidItem)
	}
	if len(in.Item) == 0 {
		return nil, fmt.Errorf("%w: empty item", ErrInvalidItem)
	}
	cat := in.Catalog
	doc := in.Item.Clone()
	for field := range doc {
		if index.IsSlot(field) {
			return nil, fmt.Errorf("%w: field %s is an index slot", ErrInvalidItem, field)
		}
	}

	if ref := cat.AutoID(); ref != "" {
		if _, ok := index.ResolvePath(doc, ref); !ok {
			id, err := t.newID()
			if err != nil {
				return nil, fmt.Errorf("generate %s: %w", ref, err)
			}
			doc.Set(string(ref), id)
		}
	}

	slots, err := cat.EncodeAll(doc)
	if err != nil {
		return nil, err
	}

	if in.Under != nil {
		scope := in.Under
		if scope.Catalog == nil {
			return nil, fmt.Errorf("%w: relation scope has no catalog", ErrInvalidItem)
		}
		owner, _, ok := scope.Catalog.RelationOwner(scope.Relation)
		if !ok {
			return nil, fmt.Errorf("%w: %q on %s", index.ErrUnknownRelation, scope.Relation, scope.Catalog.Entity())
		}
		child := make([]any, 0, len(cat.Primary().PK))
		for _, ref := range cat.Primary().PK {
			v, _ := index.ResolvePath(doc, ref)
			child = append(child, v)
		}
		key, err := scope.Catalog.RelationKey(scope.Relation, scope.Parent, child)
		if err != nil {
			return nil, err
		}
		slots[owner.Field] = key
	}

	for slot, key := range slots {
		doc[string(slot)] = key
	}
	return doc, nil
}
