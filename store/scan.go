// Package store holds the pieces shared by the transport drivers: key
// ranges derived from physical predicates, and in-memory ordering of
// results for stores that can't sort natively.
package store

import (
	"cmp"
	"slices"
	"strings"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
)

// Range is a run of keys on one slot. Exact ranges hold a single key;
// otherwise the range is every key starting with Prefix.
type Range struct {
	Slot   index.Slot
	Prefix string
	Exact  bool
}

// Contains reports whether key falls in the range.
func (r Range) Contains(key string) bool {
	if r.Exact {
		return key == r.Prefix
	}
	return strings.HasPrefix(key, r.Prefix)
}

// Ranges returns key ranges on a single slot that together contain every
// document matching p. ok is false when p doesn't constrain any slot and a
// full scan is needed. Ranges may overlap; the caller still evaluates p on
// every candidate.
func Ranges(p physical.Predicate) (rs []Range, ok bool) {
	switch x := p.(type) {
	case physical.Eq:
		s, isStr := x.Value.(string)
		if !index.IsSlot(x.Field) || !isStr {
			return nil, false
		}
		return []Range{{Slot: index.Slot(x.Field), Prefix: s, Exact: true}}, true
	case physical.StartsWith:
		if !index.IsSlot(x.Field) {
			return nil, false
		}
		return []Range{{Slot: index.Slot(x.Field), Prefix: x.Prefix}}, true
	case physical.And:
		var best []Range
		for _, c := range x {
			rs, ok := Ranges(c)
			if !ok {
				continue
			}
			if best == nil || narrower(rs, best) {
				best = rs
			}
		}
		return best, best != nil
	case physical.Or:
		var out []Range
		for _, c := range x {
			rs, ok := Ranges(c)
			if !ok {
				return nil, false
			}
			out = append(out, rs...)
		}
		// One slot per scan keeps the merge simple.
		for _, r := range out {
			if r.Slot != out[0].Slot {
				return nil, false
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

func narrower(a, b []Range) bool {
	if len(a) == 1 && len(b) == 1 {
		if a[0].Exact != b[0].Exact {
			return a[0].Exact
		}
		return len(a[0].Prefix) > len(b[0].Prefix)
	}
	return len(a) < len(b)
}

// Sort orders docs on s in place. Documents missing the field sort first,
// as in ascending Mongo order, and ties are broken on "_id".
func Sort(docs []physical.Document, s physical.Sort) {
	field := s.Field
	if field == "" {
		field = string(index.SlotID)
	}
	slices.SortStableFunc(docs, func(a, b physical.Document) int {
		c := compareField(a, b, field)
		if c == 0 && field != string(index.SlotID) {
			c = cmp.Compare(a.ID(), b.ID())
		}
		if s.Descending {
			return -c
		}
		return c
	})
}

func compareField(a, b physical.Document, field string) int {
	av, aok := a.Get(field)
	bv, bok := b.Get(field)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	if c, ok := physical.CompareValues(av, bv); ok {
		return c
	}
	return 0
}

// Filter returns the documents of docs matching p.
func Filter(docs []physical.Document, p physical.Predicate) ([]physical.Document, error) {
	out := docs[:0:0]
	for _, d := range docs {
		ok, err := physical.Match(p, d)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Truncate applies a query limit. Zero means no limit.
func Truncate(docs []physical.Document, limit int) []physical.Document {
	if limit > 0 && len(docs) > limit {
		return docs[:limit]
	}
	return docs
}
