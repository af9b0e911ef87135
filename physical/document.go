// Package physical holds the store-facing vocabulary: documents, predicate
// trees over named physical fields and update operations. Drivers translate
// these into their native query languages.
package physical

import (
	"strings"
)

// Document is a stored record: logical fields plus index slot fields.
type Document map[string]any

// SplitPath splits a dotted field path. A leading "." is ignored.
func SplitPath(field string) []string {
	return strings.Split(strings.TrimPrefix(field, "."), ".")
}

// Get resolves a dotted path through nested maps.
func (d Document) Get(field string) (any, bool) {
	path := SplitPath(field)
	var cur map[string]any = d
	for i, key := range path {
		v, ok := cur[key]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}
		if cur, ok = asMap(v); !ok {
			return nil, false
		}
	}
	return nil, false
}

// Set writes v at a dotted path, creating intermediate maps.
func (d Document) Set(field string, v any) {
	path := SplitPath(field)
	var cur map[string]any = d
	for _, key := range path[:len(path)-1] {
		next, ok := asMap(cur[key])
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}

// Delete removes the value at a dotted path. Missing paths are ignored.
func (d Document) Delete(field string) {
	path := SplitPath(field)
	var cur map[string]any = d
	for _, key := range path[:len(path)-1] {
		next, ok := asMap(cur[key])
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, path[len(path)-1])
}

// Clone returns a deep copy of nested maps and slices.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

// ID returns the primary identity stored in "_id".
func (d Document) ID() string {
	s, _ := d["_id"].(string)
	return s
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Document:
		return cloneMap(x)
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}
