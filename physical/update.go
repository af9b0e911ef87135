package physical

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrNotNumeric is returned when incrementing a non-numeric field.
var ErrNotNumeric = errors.New("value is not numeric")

// Update is a physical update document. Field names are dotted paths.
type Update struct {
	Set   map[string]any
	Unset []string
	Inc   map[string]any
	// SetOnInsert is only applied when the update creates the document.
	SetOnInsert map[string]any
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0 && len(u.Inc) == 0 && len(u.SetOnInsert) == 0
}

// Fields returns every field written by the update in sorted order.
func (u Update) Fields() []string {
	seen := map[string]struct{}{}
	for f := range u.Set {
		seen[f] = struct{}{}
	}
	for _, f := range u.Unset {
		seen[f] = struct{}{}
	}
	for f := range u.Inc {
		seen[f] = struct{}{}
	}
	for f := range u.SetOnInsert {
		seen[f] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Apply returns a copy of doc with the update applied. inserted must be true
// when the document is being created by an upsert.
func (u Update) Apply(doc Document, inserted bool) (Document, error) {
	out := doc.Clone()
	if out == nil {
		out = Document{}
	}
	for _, f := range slices.Sorted(maps.Keys(u.Inc)) {
		cur, ok := out.Get(f)
		if !ok || cur == nil {
			cur = 0
		}
		next, err := Add(cur, u.Inc[f])
		if err != nil {
			return nil, fmt.Errorf("inc %s: %w", f, err)
		}
		out.Set(f, next)
	}
	for _, f := range slices.Sorted(maps.Keys(u.Set)) {
		out.Set(f, cloneValue(u.Set[f]))
	}
	for _, f := range u.Unset {
		out.Delete(f)
	}
	if inserted {
		for _, f := range slices.Sorted(maps.Keys(u.SetOnInsert)) {
			if _, ok := u.Set[f]; ok {
				continue
			}
			out.Set(f, cloneValue(u.SetOnInsert[f]))
		}
	}
	return out, nil
}

// ToMap renders the update in query-document notation.
func (u Update) ToMap() map[string]any {
	m := map[string]any{}
	if len(u.Set) > 0 {
		m["$set"] = u.Set
	}
	if len(u.Unset) > 0 {
		unset := make(map[string]any, len(u.Unset))
		for _, f := range u.Unset {
			unset[f] = ""
		}
		m["$unset"] = unset
	}
	if len(u.Inc) > 0 {
		m["$inc"] = u.Inc
	}
	if len(u.SetOnInsert) > 0 {
		m["$setOnInsert"] = u.SetOnInsert
	}
	return m
}

// Sort orders query results on a single field.
type Sort struct {
	Field      string
	Descending bool
}
