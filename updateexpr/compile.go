package updateexpr

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
)

// Compile turns u into a physical update for the entity described by cat.
//
// known is what the caller knows about the stored document, typically the
// equality bindings of the filter selecting it. The update is applied to
// known in memory, and every index whose key depends on a mutated field is
// re-encoded from the result and written in the same update. If a key can't
// be derived (a PK field is missing or removed, an SK field or an
// incremented key field is unknown) Compile fails and returns no
// operations.
//
// SetOnInsert carries the remaining known fields and the slots of the
// untouched indexes that can be derived from them, so an upsert creates a
// complete document.
func Compile(u *Update, cat *index.Catalog, known physical.Document) (physical.Update, error) {
	st := newState(known)
	for _, op := range u.Ops() {
		if op.Field == "" {
			return physical.Update{}, fmt.Errorf("%w: empty field name", ErrInvalidUpdate)
		}
		if index.IsSlot(physical.SplitPath(op.Field)[0]) {
			return physical.Update{}, fmt.Errorf("%w: %s", ErrSlotWrite, op.Field)
		}
		if err := st.apply(op); err != nil {
			return physical.Update{}, err
		}
	}

	out := st.ops()
	touched := u.Fields()
	for _, def := range cat.Indexes() {
		if !dependsOnAny(def, touched) {
			continue
		}
		key, err := st.derive(cat, def)
		if err != nil {
			return physical.Update{}, err
		}
		if out.Set == nil {
			out.Set = map[string]any{}
		}
		out.Set[string(def.Field)] = key
	}

	insert := map[string]any{}
	for _, leaf := range leaves(known, "") {
		if !overlapsAny(leaf.path, touched) && !index.IsSlot(physical.SplitPath(leaf.path)[0]) {
			insert[leaf.path] = leaf.value
		}
	}
	for _, def := range cat.Indexes() {
		if dependsOnAny(def, touched) {
			continue
		}
		if key, err := cat.Encode(def, st.doc); err == nil {
			insert[string(def.Field)] = key
		}
	}
	if len(insert) > 0 {
		out.SetOnInsert = insert
	}
	return out, nil
}

type fieldState int

const (
	stateKnown fieldState = iota
	stateRemoved
	stateUnknown
)

// state tracks the document as far as it is known while applying ops, and
// the collapsed physical operations per field.
type state struct {
	doc    physical.Document
	status map[string]fieldState
	set    map[string]any
	inc    map[string]any
	unset  map[string]bool
}

func newState(known physical.Document) *state {
	doc := known.Clone()
	if doc == nil {
		doc = physical.Document{}
	}
	return &state{
		doc:    doc,
		status: map[string]fieldState{},
		set:    map[string]any{},
		inc:    map[string]any{},
		unset:  map[string]bool{},
	}
}

func (s *state) apply(op Op) error {
	f := op.Field
	switch op.Kind {
	case Set:
		s.doc.Set(f, op.Value)
		s.status[f] = stateKnown
		s.set[f] = op.Value
		delete(s.inc, f)
		delete(s.unset, f)

	case Remove:
		s.doc.Delete(f)
		s.status[f] = stateRemoved
		s.unset[f] = true
		delete(s.set, f)
		delete(s.inc, f)

	case Inc:
		if !physical.IsNumber(op.Value) {
			return fmt.Errorf("%w: inc %s by %T", ErrInvalidUpdate, f, op.Value)
		}
		cur, ok := s.doc.Get(f)
		switch {
		case ok && cur != nil:
			next, err := physical.Add(cur, op.Value)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
			}
			s.doc.Set(f, next)
			s.status[f] = stateKnown
			if _, pending := s.set[f]; pending {
				s.set[f] = next
				return nil
			}
		case s.status[f] == stateRemoved:
			// Removed earlier in this update, so it starts from zero.
			s.doc.Set(f, op.Value)
			s.status[f] = stateKnown
			delete(s.unset, f)
			s.set[f] = op.Value
			return nil
		default:
			s.status[f] = stateUnknown
		}
		if prev, ok := s.inc[f]; ok {
			sum, err := physical.Add(prev, op.Value)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
			}
			s.inc[f] = sum
		} else {
			s.inc[f] = op.Value
		}
	default:
		return fmt.Errorf("%w: unknown op %v", ErrInvalidUpdate, op.Kind)
	}
	return nil
}

func (s *state) ops() physical.Update {
	var out physical.Update
	if len(s.set) > 0 {
		out.Set = maps.Clone(s.set)
	}
	if len(s.inc) > 0 {
		out.Inc = maps.Clone(s.inc)
	}
	if len(s.unset) > 0 {
		out.Unset = slices.Sorted(maps.Keys(s.unset))
	}
	return out
}

// derive re-encodes def from the post-update state.
func (s *state) derive(cat *index.Catalog, def index.Definition) (string, error) {
	fail := func(ref index.FieldRef, reason string) (string, error) {
		return "", &IndexDerivationError{Index: def.Name, Field: ref, Reason: reason}
	}
	pk := make([]any, len(def.PK))
	for i, ref := range def.PK {
		v, ok := s.lookup(ref)
		switch {
		case s.statusOf(ref) == stateRemoved:
			return fail(ref, "PK field removed")
		case s.statusOf(ref) == stateUnknown:
			return fail(ref, "incremented without a known current value")
		case !ok:
			return fail(ref, "PK field value unknown")
		}
		pk[i] = v
	}
	var sk []any
	for _, ref := range def.SK {
		v, ok := s.lookup(ref)
		if s.statusOf(ref) == stateRemoved {
			// A document without this sort field is stored under the
			// truncated key, as on create.
			break
		}
		if s.statusOf(ref) == stateUnknown {
			return fail(ref, "incremented without a known current value")
		}
		if !ok {
			return fail(ref, "SK field value unknown")
		}
		sk = append(sk, v)
	}
	key, err := cat.KeyFor(def, pk, sk)
	if err != nil {
		return "", fmt.Errorf("%w: index %q: %w", ErrIndexDerivation, def.Name, err)
	}
	return key, nil
}

func (s *state) lookup(ref index.FieldRef) (any, bool) {
	return index.ResolvePath(s.doc, ref)
}

// statusOf returns the status of ref, or of the closest mutated parent.
func (s *state) statusOf(ref index.FieldRef) fieldState {
	path := string(ref)
	for {
		if st, ok := s.status[path]; ok {
			return st
		}
		i := strings.LastIndex(path, ".")
		if i < 0 {
			return stateKnown
		}
		path = path[:i]
	}
}

func dependsOnAny(def index.Definition, fields []string) bool {
	for _, f := range fields {
		if def.DependsOn(index.FieldRef(f)) {
			return true
		}
	}
	return false
}

func overlapsAny(path string, fields []string) bool {
	for _, f := range fields {
		if f == path || strings.HasPrefix(f, path+".") || strings.HasPrefix(path, f+".") {
			return true
		}
	}
	return false
}

type leaf struct {
	path  string
	value any
}

// leaves flattens nested maps into dotted paths.
func leaves(doc map[string]any, prefix string) []leaf {
	var out []leaf
	for _, k := range slices.Sorted(maps.Keys(doc)) {
		path := prefix + k
		switch v := doc[k].(type) {
		case map[string]any:
			if len(v) > 0 {
				out = append(out, leaves(v, path+".")...)
				continue
			}
		case physical.Document:
			if len(v) > 0 {
				out = append(out, leaves(v, path+".")...)
				continue
			}
		}
		out = append(out, leaf{path: path, value: doc[k]})
	}
	return out
}
