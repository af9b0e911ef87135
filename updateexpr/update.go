// Package updateexpr builds logical updates and compiles them into physical
// updates that keep every index slot in sync with the fields it is derived
// from.
package updateexpr

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
)

var (
	// ErrInvalidUpdate is returned for malformed update documents.
	ErrInvalidUpdate = errors.New("invalid update")
	// ErrSlotWrite is returned when an update writes an index slot directly.
	ErrSlotWrite = errors.New("index slots are derived and can't be written")
	// ErrIndexDerivation is returned when an index key can't be recomputed
	// after the update.
	ErrIndexDerivation = errors.New("index key derivation failed")
)

// IndexDerivationError names the index and field that blocked an update.
type IndexDerivationError struct {
	Index  string
	Field  index.FieldRef
	Reason string
}

func (e *IndexDerivationError) Error() string {
	return fmt.Sprintf("%v: index %q field %q: %s", ErrIndexDerivation, e.Index, e.Field, e.Reason)
}

func (e *IndexDerivationError) Unwrap() error {
	return ErrIndexDerivation
}

// Kind is the type of a logical update operation.
type Kind int

const (
	Set Kind = iota
	Remove
	Inc
)

func (k Kind) String() string {
	switch k {
	case Set:
		return "set"
	case Remove:
		return "remove"
	case Inc:
		return "inc"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Op is one logical mutation.
type Op struct {
	Kind  Kind
	Field string
	Value any
}

// Update is an ordered list of logical mutations.
//
//	u := updateexpr.New().Set("username", "antonio").Inc("logins", 1).Remove("resetToken")
type Update struct {
	ops []Op
}

// New returns an empty update.
func New() *Update {
	return &Update{}
}

// Set assigns v to field.
func (u *Update) Set(field string, v any) *Update {
	u.ops = append(u.ops, Op{Kind: Set, Field: normalize(field), Value: v})
	return u
}

// Remove deletes field.
func (u *Update) Remove(field string) *Update {
	u.ops = append(u.ops, Op{Kind: Remove, Field: normalize(field)})
	return u
}

// Inc adds n to the numeric field. Missing fields start at zero.
func (u *Update) Inc(field string, n any) *Update {
	u.ops = append(u.ops, Op{Kind: Inc, Field: normalize(field), Value: n})
	return u
}

// Ops returns the operations in order.
func (u *Update) Ops() []Op {
	if u == nil {
		return nil
	}
	return slices.Clone(u.ops)
}

// Fields returns the fields mutated by the update in order of first use.
func (u *Update) Fields() []string {
	var out []string
	for _, op := range u.Ops() {
		if !slices.Contains(out, op.Field) {
			out = append(out, op.Field)
		}
	}
	return out
}

// IsEmpty reports whether the update has no operations.
func (u *Update) IsEmpty() bool {
	return u == nil || len(u.ops) == 0
}

func normalize(field string) string {
	return strings.TrimPrefix(field, ".")
}

// Parse reads an update document. Supported forms are $set, $inc, $unset
// (or $remove) and bare fields, which are treated as $set. Operators are
// applied in the order set, inc, unset; fields within an operator in
// sorted order.
func Parse(m map[string]any) (*Update, error) {
	u := New()
	var bare []string
	for k := range m {
		switch k {
		case "$set", "$inc", "$unset", "$remove":
		default:
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidUpdate, k)
			}
			bare = append(bare, k)
		}
	}

	if v, ok := m["$set"]; ok {
		fields, err := fieldMap("$set", v)
		if err != nil {
			return nil, err
		}
		for _, f := range slices.Sorted(maps.Keys(fields)) {
			u.Set(f, fields[f])
		}
	}
	slices.Sort(bare)
	for _, f := range bare {
		u.Set(f, m[f])
	}

	if v, ok := m["$inc"]; ok {
		fields, err := fieldMap("$inc", v)
		if err != nil {
			return nil, err
		}
		for _, f := range slices.Sorted(maps.Keys(fields)) {
			if !physical.IsNumber(fields[f]) {
				return nil, fmt.Errorf("%w: $inc %s by %T", ErrInvalidUpdate, f, fields[f])
			}
			u.Inc(f, fields[f])
		}
	}

	for _, op := range []string{"$unset", "$remove"} {
		v, ok := m[op]
		if !ok {
			continue
		}
		fields, err := fieldList(op, v)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			u.Remove(f)
		}
	}
	return u, nil
}

func fieldMap(op string, v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case physical.Document:
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s expects an object, got %T", ErrInvalidUpdate, op, v)
}

func fieldList(op string, v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s entry %d is %T", ErrInvalidUpdate, op, i, e)
			}
			out[i] = s
		}
		return out, nil
	}
	m, err := fieldMap(op, v)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(m)), nil
}
