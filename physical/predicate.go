package physical

import (
	"encoding/json"
)

// Predicate is a node of a physical predicate tree. The set of node types
// is closed: And, Or, Eq, StartsWith and Compare.
type Predicate interface {
	isPredicate()
}

// And matches when every child matches. An empty And matches everything.
type And []Predicate

// Or matches when any child matches. Children keep their order.
type Or []Predicate

// Eq matches documents whose field equals Value. A nil Value matches a
// missing field.
type Eq struct {
	Field string
	Value any
}

// StartsWith matches string fields beginning with Prefix.
type StartsWith struct {
	Field  string
	Prefix string
}

// Op is a range comparator.
type Op string

const (
	Gt  Op = "$gt"
	Gte Op = "$gte"
	Lt  Op = "$lt"
	Lte Op = "$lte"
)

// Valid reports whether op is one of the known comparators.
func (op Op) Valid() bool {
	switch op {
	case Gt, Gte, Lt, Lte:
		return true
	}
	return false
}

// Compare matches documents whose field compares to Value per Op.
type Compare struct {
	Field string
	Op    Op
	Value any
}

func (And) isPredicate()        {}
func (Or) isPredicate()         {}
func (Eq) isPredicate()         {}
func (StartsWith) isPredicate() {}
func (Compare) isPredicate()    {}

// AllOf joins predicates with And, dropping nils and flattening nested Ands.
// It returns nil when nothing is left and the single predicate when only
// one remains.
func AllOf(ps ...Predicate) Predicate {
	var out And
	for _, p := range ps {
		switch x := p.(type) {
		case nil:
		case And:
			for _, c := range x {
				if c != nil {
					out = append(out, c)
				}
			}
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// Fields returns every field referenced by p, in tree order.
func Fields(p Predicate) []string {
	var out []string
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch x := p.(type) {
		case And:
			for _, c := range x {
				walk(c)
			}
		case Or:
			for _, c := range x {
				walk(c)
			}
		case Eq:
			out = append(out, x.Field)
		case StartsWith:
			out = append(out, x.Field)
		case Compare:
			out = append(out, x.Field)
		}
	}
	walk(p)
	return out
}

// ToMap renders p in the query-document notation used in logs and the
// explain output:
//
//	{"$or": [{"_id": {"$startsWith": "account:_id#741234≻accesstype"}}, {"_id": "account:_id#741234↠antonio"}]}
func ToMap(p Predicate) map[string]any {
	switch x := p.(type) {
	case nil:
		return map[string]any{}
	case And:
		return map[string]any{"$and": toList(x)}
	case Or:
		return map[string]any{"$or": toList(x)}
	case Eq:
		return map[string]any{x.Field: x.Value}
	case StartsWith:
		return map[string]any{x.Field: map[string]any{"$startsWith": x.Prefix}}
	case Compare:
		return map[string]any{x.Field: map[string]any{string(x.Op): x.Value}}
	}
	return nil
}

func toList(ps []Predicate) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = ToMap(p)
	}
	return out
}

// String renders p as JSON.
func String(p Predicate) string {
	b, err := json.Marshal(ToMap(p))
	if err != nil {
		return "<unprintable predicate>"
	}
	return string(b)
}
