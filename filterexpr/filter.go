// Package filterexpr parses logical filters and compiles them into physical
// predicates against an entity's index catalog.
package filterexpr

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/acksell/slotdb/physical"
)

var (
	// ErrUnsupportedPredicate is returned for filter shapes outside the
	// supported vocabulary.
	ErrUnsupportedPredicate = errors.New("unsupported predicate")
	// ErrUnresolvableFilter is returned when a filter can't be served by
	// any index and the policy forbids post-filtering.
	ErrUnresolvableFilter = errors.New("unresolvable filter")
)

// Filter is a logical predicate tree. The set of node types is closed:
// Equal, Prefix, Range, And, Or and Related.
type Filter interface {
	isFilter()
}

// Equal binds a logical field to a value.
type Equal struct {
	Field string
	Value any
}

// Prefix matches string fields starting with Prefix.
type Prefix struct {
	Field  string
	Prefix string
}

// Range compares a logical field with a value.
type Range struct {
	Field string
	Op    physical.Op
	Value any
}

// And matches when all children match.
type And []Filter

// Or matches when any child matches. Branch order is kept.
type Or []Filter

// Related selects the instances of a related entity stored under the key
// of the document bound by the surrounding filter. Where filters the
// related documents on their own fields.
type Related struct {
	Relation string
	Where    Filter
}

func (Equal) isFilter()   {}
func (Prefix) isFilter()  {}
func (Range) isFilter()   {}
func (And) isFilter()     {}
func (Or) isFilter()      {}
func (Related) isFilter() {}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedPredicate, fmt.Sprintf(format, args...))
}

// Parse converts a query document into a Filter. It accepts
//
//	{"field": value}                      equality
//	{"field": {"$eq": value}}             equality
//	{"field": {"$startsWith": "prefix"}}  prefix
//	{"field": {"$gt": v, "$lte": w}}      ranges ($gt, $gte, $lt, $lte)
//	{"$and": [...]}, {"$or": [...]}       composition
//	{"$related": "relation"}              fan-out, or {"$related": {"relation": {...where}}}
//
// Keys are processed in sorted order so the result is deterministic.
func Parse(m map[string]any) (Filter, error) {
	var parts And
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		switch {
		case k == "$and" || k == "$or":
			list, err := parseList(k, v)
			if err != nil {
				return nil, err
			}
			if k == "$and" {
				parts = append(parts, And(list))
			} else {
				parts = append(parts, Or(list))
			}
		case k == "$related":
			rel, err := parseRelated(v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, rel...)
		case strings.HasPrefix(k, "$"):
			return nil, unsupported("operator %q", k)
		default:
			f, err := parseField(strings.TrimPrefix(k, "."), v)
			if err != nil {
				return nil, err
			}
			parts = append(parts, f...)
		}
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts, nil
}

func parseList(op string, v any) ([]Filter, error) {
	items, ok := v.([]any)
	if !ok {
		if ms, ok := v.([]map[string]any); ok {
			items = make([]any, len(ms))
			for i, m := range ms {
				items[i] = m
			}
		} else {
			return nil, unsupported("%s expects a list, got %T", op, v)
		}
	}
	if len(items) == 0 {
		return nil, unsupported("%s with no branches", op)
	}
	out := make([]Filter, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, unsupported("%s branch %d is %T", op, i, item)
		}
		f, err := Parse(m)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
		}
		out[i] = f
	}
	return out, nil
}

func parseRelated(v any) ([]Filter, error) {
	if name, ok := v.(string); ok && name != "" {
		return []Filter{Related{Relation: name}}, nil
	}
	m, ok := asMap(v)
	if !ok || len(m) == 0 {
		return nil, unsupported("$related expects a relation name or a map of relation to filter")
	}
	var out []Filter
	for _, name := range slices.Sorted(maps.Keys(m)) {
		rel := Related{Relation: name}
		if where, ok := asMap(m[name]); ok && len(where) > 0 {
			f, err := Parse(where)
			if err != nil {
				return nil, fmt.Errorf("$related %s: %w", name, err)
			}
			rel.Where = f
		}
		out = append(out, rel)
	}
	return out, nil
}

func parseField(field string, v any) ([]Filter, error) {
	ops, ok := asMap(v)
	if !ok || len(ops) == 0 || !hasOperators(ops) {
		return []Filter{Equal{Field: field, Value: v}}, nil
	}

	var out []Filter
	for _, op := range slices.Sorted(maps.Keys(ops)) {
		arg := ops[op]
		switch op {
		case "$eq":
			out = append(out, Equal{Field: field, Value: arg})
		case "$startsWith":
			s, ok := arg.(string)
			if !ok {
				return nil, unsupported("%s: $startsWith expects a string, got %T", field, arg)
			}
			out = append(out, Prefix{Field: field, Prefix: s})
		default:
			cmp := physical.Op(op)
			if !cmp.Valid() {
				return nil, unsupported("%s: operator %q", field, op)
			}
			if arg == nil {
				return nil, unsupported("%s: %s against null", field, op)
			}
			out = append(out, Range{Field: field, Op: cmp, Value: arg})
		}
	}
	return out, nil
}

// hasOperators reports whether m is an operator map. Mixing operators and
// plain keys is rejected later by treating the plain keys as operators.
func hasOperators(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case physical.Document:
		return m, true
	}
	return nil, false
}
