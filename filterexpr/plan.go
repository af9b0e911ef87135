package filterexpr

import (
	"fmt"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
)

// Policy decides what happens to filters no index can serve.
type Policy int

const (
	// Reject fails with ErrUnresolvableFilter.
	Reject Policy = iota
	// PostFilter compiles the filter into a scan over raw fields.
	PostFilter
)

func (p Policy) String() string {
	if p == PostFilter {
		return "postFilter"
	}
	return "reject"
}

// ParsePolicy parses "reject" or "postFilter". The empty string is Reject.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject":
		return Reject, nil
	case "postFilter", "postfilter", "post-filter":
		return PostFilter, nil
	}
	return Reject, fmt.Errorf("unknown filter policy %q", s)
}

type options struct {
	policy    Policy
	relations []string
}

// Option configures Compile.
type Option func(*options)

// WithPolicy sets the policy for unresolvable filters. Default is Reject.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithRelations extends the result with the instances of the named
// relations stored under the matched document's key.
func WithRelations(names ...string) Option {
	return func(o *options) { o.relations = append(o.relations, names...) }
}

// Plan is a compiled filter.
type Plan struct {
	// Index is the index serving the query.
	Index index.Definition
	// Slot is the physical field results are ordered on.
	Slot index.Slot
	// PKValue is the encoded PK part of the key used on Slot, without the
	// type tag and slot header. Empty when no key was used.
	PKValue string
	// Key is the predicate on index slots.
	Key physical.Predicate
	// Residual holds predicates on raw logical fields.
	Residual physical.Predicate
	// Bound holds the equality-bound logical fields of a conjunctive
	// filter.
	Bound map[string]any
	// Unresolved is set when no index could serve the filter and the plan
	// scans raw fields.
	Unresolved bool
	// Relations lists the relations added by WithRelations.
	Relations []string
}

// Predicate returns the full physical predicate.
func (p *Plan) Predicate() physical.Predicate {
	return physical.AllOf(p.Key, p.Residual)
}

// Bindings returns the equality-bound fields as a document, suitable as
// the known state of an update.
func (p *Plan) Bindings() physical.Document {
	doc := physical.Document{}
	for f, v := range p.Bound {
		doc.Set(f, v)
	}
	return doc
}

// Explain renders the plan for logs and diagnostics.
func (p *Plan) Explain() map[string]any {
	out := map[string]any{
		"index":      p.Index.Name,
		"slot":       string(p.Slot),
		"predicate":  physical.ToMap(p.Predicate()),
		"unresolved": p.Unresolved,
	}
	if p.PKValue != "" {
		out["pk"] = map[string]any{"key": string(p.Slot), "value": p.PKValue}
	}
	if len(p.Relations) > 0 {
		out["relations"] = p.Relations
	}
	return out
}
