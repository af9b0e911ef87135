package filterexpr

import (
	"fmt"
	"strings"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
)

// Compile translates f into a physical plan for the entity described by
// cat.
//
// Equality-bound fields pick the index (see index.Catalog.Resolve) and are
// folded into its key: a fully bound key becomes an equality on the slot,
// a partially bound key a prefix match. Everything else is kept as
// predicates on the raw fields. Or branches are compiled independently and
// keep their order.
func Compile(f Filter, cat *index.Catalog, opts ...Option) (*Plan, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if f == nil {
		f = And{}
	}
	c := compiler{cat: cat, policy: o.policy}
	plan, err := c.compile(f)
	if err != nil {
		return nil, err
	}
	if len(o.relations) > 0 {
		if err := c.addRelations(plan, o.relations); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

type compiler struct {
	cat    *index.Catalog
	policy Policy
}

func (c compiler) compile(f Filter) (*Plan, error) {
	if or, ok := f.(Or); ok && len(or) != 1 {
		return c.compileOr(or)
	}
	var cj conjunction
	cj.add(f)
	return c.compileConjunction(&cj)
}

func (c compiler) compileOr(or Or) (*Plan, error) {
	if len(or) == 0 {
		return nil, unsupported("$or with no branches")
	}
	plan := &Plan{}
	preds := make(physical.Or, len(or))
	for i, branch := range or {
		bp, err := c.compile(branch)
		if err != nil {
			return nil, fmt.Errorf("$or[%d]: %w", i, err)
		}
		preds[i] = bp.Predicate()
		if i == 0 {
			plan.Index, plan.Slot = bp.Index, bp.Slot
		} else if bp.Slot != plan.Slot {
			// Branches on different slots can only be ordered by identity.
			plan.Index, plan.Slot = c.cat.Primary(), index.SlotID
		}
		plan.Unresolved = plan.Unresolved || bp.Unresolved
	}
	plan.Key = preds
	return plan, nil
}

// conjunction is a flattened And.
type conjunction struct {
	leaves  []Filter
	used    []bool
	ors     []Or
	related []Related
}

func (cj *conjunction) add(f Filter) {
	switch x := f.(type) {
	case And:
		for _, e := range x {
			cj.add(e)
		}
	case Or:
		if len(x) == 1 {
			cj.add(x[0])
			return
		}
		cj.ors = append(cj.ors, x)
	case Related:
		cj.related = append(cj.related, x)
	default:
		cj.leaves = append(cj.leaves, f)
		cj.used = append(cj.used, false)
	}
}

// bindings returns the first equality per field and the leaf it came from.
func (cj *conjunction) bindings() (map[string]any, map[string]int) {
	bound := map[string]any{}
	from := map[string]int{}
	for i, l := range cj.leaves {
		eq, ok := l.(Equal)
		if !ok || eq.Value == nil || index.IsSlot(eq.Field) {
			continue
		}
		if _, dup := bound[eq.Field]; dup {
			continue
		}
		bound[eq.Field] = eq.Value
		from[eq.Field] = i
	}
	return bound, from
}

// prefixOn finds an unused, key-safe Prefix leaf on field.
func (cj *conjunction) prefixOn(field index.FieldRef) (string, int, bool) {
	for i, l := range cj.leaves {
		p, ok := l.(Prefix)
		if !ok || cj.used[i] || p.Field != string(field) {
			continue
		}
		if term, ok, err := keys.EncodeTerm(p.Prefix); err != nil || !ok || term != p.Prefix {
			continue
		}
		return p.Prefix, i, true
	}
	return "", 0, false
}

func (c compiler) compileConjunction(cj *conjunction) (*Plan, error) {
	bound, from := cj.bindings()
	plan := &Plan{Bound: bound}

	// Predicates addressing slots directly are kept as key predicates.
	var slotPreds []physical.Predicate
	for i, l := range cj.leaves {
		field, ok := leafField(l)
		if !ok || !index.IsSlot(field) {
			continue
		}
		p, err := raw(l)
		if err != nil {
			return nil, err
		}
		slotPreds = append(slotPreds, p)
		cj.used[i] = true
	}

	if len(cj.related) > 1 {
		return nil, unsupported("more than one $related in a conjunction")
	}
	if len(cj.related) == 1 {
		if err := c.related(plan, cj, cj.related[0], from); err != nil {
			return nil, err
		}
		plan.Key = physical.AllOf(append(slotPreds, plan.Key)...)
		if err := c.residual(plan, cj, -1); err != nil {
			return nil, err
		}
		return plan, nil
	}

	res := c.cat.Resolve(mapKeys(bound))
	skipOr := -1
	switch {
	case !res.Unresolved:
		key, err := c.key(plan, cj, res, from)
		if err != nil {
			return nil, err
		}
		plan.Index, plan.Slot, plan.Key = res.Index, res.Index.Field, key

	case len(slotPreds) > 0:
		slot := slotOf(slotPreds[0])
		def, ok := c.cat.IndexBySlot(index.Slot(slot))
		if !ok {
			return nil, unsupported("slot %s is not used by %s", slot, c.cat.Entity())
		}
		plan.Index, plan.Slot, plan.Key = def, def.Field, c.scope(def.Field)

	case len(cj.ors) > 0:
		op, err := c.compileOr(cj.ors[0])
		if err != nil {
			return nil, err
		}
		plan.Index, plan.Slot, plan.Key = op.Index, op.Slot, op.Key
		plan.Unresolved = op.Unresolved
		skipOr = 0

	default:
		if ok := c.leadingPrefix(plan, cj); ok {
			break
		}
		if c.policy != PostFilter {
			return nil, fmt.Errorf("%w: no index of %s has its leading PK field bound by %s",
				ErrUnresolvableFilter, c.cat.Entity(), describe(cj))
		}
		plan.Index, plan.Slot, plan.Unresolved = c.cat.Primary(), index.SlotID, true
		plan.Key = c.scope(index.SlotID)
	}

	plan.Key = physical.AllOf(append(slotPreds, plan.Key)...)
	if err := c.residual(plan, cj, skipOr); err != nil {
		return nil, err
	}
	return plan, nil
}

// scope matches every key the entity stores on slot. Entities share the
// collection, so plans not bound to a key still need it.
func (c compiler) scope(slot index.Slot) physical.Predicate {
	return physical.StartsWith{Field: string(slot), Prefix: keys.Header(c.cat.TypeTag(), string(slot))}
}

// key builds the slot predicate for a resolved index and marks the leaves
// folded into it.
func (c compiler) key(plan *Plan, cj *conjunction, res index.Resolution, from map[string]int) (physical.Predicate, error) {
	def := res.Index
	slot := string(def.Field)

	pk := make([]any, res.Score)
	for i := range pk {
		f := string(def.PK[i])
		pk[i] = plan.Bound[f]
		cj.used[from[f]] = true
	}
	base, err := c.cat.KeyFor(def, pk, nil)
	if err != nil {
		return nil, err
	}
	plan.PKValue = strings.TrimPrefix(base, keys.Header(c.cat.TypeTag(), slot))

	if !res.Full {
		next := def.PK[res.Score]
		if p, i, ok := cj.prefixOn(next); ok {
			cj.used[i] = true
			return physical.StartsWith{Field: slot, Prefix: base + keys.PrefixSep + p}, nil
		}
		return physical.StartsWith{Field: slot, Prefix: base + keys.PrefixSep}, nil
	}

	var sk []any
	for _, ref := range def.SK {
		v, ok := plan.Bound[string(ref)]
		if !ok {
			break
		}
		sk = append(sk, v)
		cj.used[from[string(ref)]] = true
	}
	if len(def.SK) == 0 {
		return physical.Eq{Field: slot, Value: base}, nil
	}
	sep := keys.SortSep
	if len(sk) > 0 {
		if base, err = c.cat.KeyFor(def, pk, sk); err != nil {
			return nil, err
		}
		if len(sk) == len(def.SK) {
			return physical.Eq{Field: slot, Value: base}, nil
		}
		sep = keys.PrefixSep
	}

	next := def.SK[len(sk)]
	if p, i, ok := cj.prefixOn(next); ok {
		cj.used[i] = true
		return physical.StartsWith{Field: slot, Prefix: base + sep + p}, nil
	}
	// Rows without the remaining sort fields are stored under the bare
	// prefix, so match it exactly as well.
	return physical.Or{
		physical.Eq{Field: slot, Value: base},
		physical.StartsWith{Field: slot, Prefix: base + sep},
	}, nil
}

// leadingPrefix serves a filter with a $startsWith on the first PK field
// of some index.
func (c compiler) leadingPrefix(plan *Plan, cj *conjunction) bool {
	for _, def := range c.cat.Indexes() {
		p, i, ok := cj.prefixOn(def.PK[0])
		if !ok {
			continue
		}
		cj.used[i] = true
		slot := string(def.Field)
		plan.Index, plan.Slot = def, def.Field
		plan.Key = physical.StartsWith{Field: slot, Prefix: keys.Header(c.cat.TypeTag(), slot) + p}
		return true
	}
	return false
}

func (c compiler) related(plan *Plan, cj *conjunction, rel Related, from map[string]int) error {
	def, _, ok := c.cat.RelationOwner(rel.Relation)
	if !ok {
		return fmt.Errorf("%w: %w: %q", ErrUnsupportedPredicate, index.ErrUnknownRelation, rel.Relation)
	}
	pk, err := c.relationPK(def, rel.Relation, plan.Bound)
	if err != nil {
		return err
	}
	for _, ref := range def.PK {
		cj.used[from[string(ref)]] = true
	}
	prefix, err := c.cat.RelationPrefix(def, rel.Relation, pk)
	if err != nil {
		return err
	}
	base, err := c.cat.KeyFor(def, pk, nil)
	if err != nil {
		return err
	}
	plan.Index, plan.Slot = def, def.Field
	plan.Key = physical.StartsWith{Field: string(def.Field), Prefix: prefix}
	plan.PKValue = strings.TrimPrefix(base, keys.Header(c.cat.TypeTag(), string(def.Field)))
	if rel.Where != nil {
		where, err := raw(rel.Where)
		if err != nil {
			return fmt.Errorf("$related %s: %w", rel.Relation, err)
		}
		plan.Key = physical.AllOf(plan.Key, where)
	}
	return nil
}

func (c compiler) relationPK(def index.Definition, relation string, bound map[string]any) ([]any, error) {
	pk := make([]any, len(def.PK))
	for i, ref := range def.PK {
		v, ok := bound[string(ref)]
		if !ok {
			return nil, fmt.Errorf("%w: relation %q needs %s bound", ErrUnresolvableFilter, relation, ref)
		}
		pk[i] = v
	}
	return pk, nil
}

// addRelations turns the plan into an Or of the relation fan-out prefixes
// followed by the plan itself.
func (c compiler) addRelations(plan *Plan, names []string) error {
	if plan.Bound == nil || plan.Unresolved {
		return fmt.Errorf("%w: relations need a conjunctive filter binding the PK", ErrUnresolvableFilter)
	}
	fanout := make(physical.Or, 0, len(names)+1)
	for _, name := range names {
		def, _, ok := c.cat.RelationOwner(name)
		if !ok {
			return fmt.Errorf("%w: %q", index.ErrUnknownRelation, name)
		}
		pk, err := c.relationPK(def, name, plan.Bound)
		if err != nil {
			return err
		}
		prefix, err := c.cat.RelationPrefix(def, name, pk)
		if err != nil {
			return err
		}
		fanout = append(fanout, physical.StartsWith{Field: string(def.Field), Prefix: prefix})
	}
	plan.Key = append(fanout, plan.Predicate())
	plan.Residual = nil
	plan.Relations = append(plan.Relations, names...)
	return nil
}

// residual turns the unused leaves and the remaining Ors into raw field
// predicates.
func (c compiler) residual(plan *Plan, cj *conjunction, skipOr int) error {
	var preds []physical.Predicate
	for i, l := range cj.leaves {
		if cj.used[i] {
			continue
		}
		p, err := raw(l)
		if err != nil {
			return err
		}
		preds = append(preds, p)
	}
	for i, or := range cj.ors {
		if i == skipOr {
			continue
		}
		p, err := raw(or)
		if err != nil {
			return err
		}
		preds = append(preds, p)
	}
	plan.Residual = physical.AllOf(preds...)
	return nil
}

// Raw translates f into predicates on raw fields without using any index.
// It is meant for conditions evaluated against an already selected
// document.
func Raw(f Filter) (physical.Predicate, error) {
	if f == nil {
		return nil, nil
	}
	return raw(f)
}

func raw(f Filter) (physical.Predicate, error) {
	switch x := f.(type) {
	case Equal:
		return physical.Eq{Field: x.Field, Value: x.Value}, nil
	case Prefix:
		return physical.StartsWith{Field: x.Field, Prefix: x.Prefix}, nil
	case Range:
		return physical.Compare{Field: x.Field, Op: x.Op, Value: x.Value}, nil
	case And:
		out := make(physical.And, 0, len(x))
		for _, e := range x {
			p, err := raw(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return physical.AllOf(out...), nil
	case Or:
		out := make(physical.Or, 0, len(x))
		for _, e := range x {
			p, err := raw(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case Related:
		return nil, unsupported("$related %s can't be nested under $or", x.Relation)
	}
	return nil, unsupported("filter node %T", f)
}

func leafField(f Filter) (string, bool) {
	switch x := f.(type) {
	case Equal:
		return x.Field, true
	case Prefix:
		return x.Field, true
	case Range:
		return x.Field, true
	}
	return "", false
}

func slotOf(p physical.Predicate) string {
	if fields := physical.Fields(p); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func mapKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func describe(cj *conjunction) string {
	var fields []string
	for _, l := range cj.leaves {
		if f, ok := leafField(l); ok {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return "an empty filter"
	}
	return "fields " + strings.Join(fields, ", ")
}
