// Package index describes the logical indexes of an entity and maps them
// onto the fixed set of physical index slots.
//
// Example:
//
//	var Accounts = index.MustNew(index.EntityConfig{
//	    Entity: "Account",
//	    Indexes: []index.Definition{
//	        {Name: "kind", Field: index.SlotID, PK: index.Fields(".accountId"),
//	            Relations: []index.RelationRef{{Name: "access", Entity: "AccessType"}}},
//	        {Name: "byUsername", Field: index.SlotID2, PK: index.Fields(".username")},
//	    },
//	})
package index

import (
	"slices"
	"strings"

	"github.com/acksell/slotdb/physical"
)

// Slot is a physical field holding one index's encoded key.
type Slot string

const (
	SlotID  Slot = "_id"
	SlotID2 Slot = "_id2"
	SlotID3 Slot = "_id3"
	SlotID4 Slot = "_id4"
	SlotID5 Slot = "_id5"
)

// Slots lists every physical slot in order. SlotID is the document identity.
var Slots = []Slot{SlotID, SlotID2, SlotID3, SlotID4, SlotID5}

// Valid reports whether s is one of the physical slots.
func (s Slot) Valid() bool {
	return slices.Contains(Slots, s)
}

// IsSlot reports whether field names a physical slot.
func IsSlot(field string) bool {
	return Slot(field).Valid()
}

// FieldRef is a dotted path into the logical document. A leading "." is
// accepted and dropped, so ".accountId" and "accountId" are the same field.
type FieldRef string

// Fields builds FieldRefs from paths.
func Fields(paths ...string) []FieldRef {
	out := make([]FieldRef, len(paths))
	for i, p := range paths {
		out[i] = FieldRef(p).Normalize()
	}
	return out
}

// Normalize drops the optional leading ".".
func (f FieldRef) Normalize() FieldRef {
	return FieldRef(strings.TrimPrefix(string(f), "."))
}

// Path splits the reference into its components.
func (f FieldRef) Path() []string {
	return physical.SplitPath(string(f))
}

func (f FieldRef) String() string {
	return string(f.Normalize())
}

// overlaps reports whether writing one of the fields can change the other,
// i.e. they are equal or one is nested under the other.
func (f FieldRef) overlaps(other FieldRef) bool {
	a, b := string(f.Normalize()), string(other.Normalize())
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

// RelationRef declares that instances of Entity can be stored under a
// prefix of the owning index's key.
type RelationRef struct {
	Name   string
	Entity string
}

// Definition is one logical index.
type Definition struct {
	Name      string
	Field     Slot
	PK        []FieldRef
	SK        []FieldRef
	Relations []RelationRef
}

// Terms returns the PK fields followed by the SK fields.
func (d Definition) Terms() []FieldRef {
	return append(slices.Clone(d.PK), d.SK...)
}

// Relation looks up a relation declared on the index.
func (d Definition) Relation(name string) (RelationRef, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationRef{}, false
}

// DependsOn reports whether the encoded key depends on field.
func (d Definition) DependsOn(field FieldRef) bool {
	for _, ref := range d.Terms() {
		if ref.overlaps(field) {
			return true
		}
	}
	return false
}

func (d Definition) clone() Definition {
	d.PK = normalizeRefs(d.PK)
	d.SK = normalizeRefs(d.SK)
	d.Relations = slices.Clone(d.Relations)
	return d
}

func normalizeRefs(refs []FieldRef) []FieldRef {
	if len(refs) == 0 {
		return nil
	}
	out := make([]FieldRef, len(refs))
	for i, r := range refs {
		out[i] = r.Normalize()
	}
	return out
}

// EntityConfig declares an entity's indexes. The first index is the
// primary index and must use SlotID.
type EntityConfig struct {
	Entity  string
	Indexes []Definition
	// AutoID, when set, is filled with a generated identifier on create if
	// the item doesn't carry one.
	AutoID FieldRef
}
