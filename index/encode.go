package index

import (
	"errors"
	"fmt"

	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
)

// Encode computes def's key from a document. Every PK field must be
// present; a missing SK field truncates the sort terms.
func (c *Catalog) Encode(def Definition, doc physical.Document) (string, error) {
	pk := make([]any, len(def.PK))
	for i, ref := range def.PK {
		v, ok := ResolvePath(doc, ref)
		if !ok {
			return "", &MissingFieldError{Index: def.Name, Field: ref}
		}
		pk[i] = v
	}
	sk := make([]any, len(def.SK))
	for i, ref := range def.SK {
		sk[i], _ = ResolvePath(doc, ref)
	}
	key, err := keys.Encode(c.typeTag, string(def.Field), pk, sk)
	if err != nil {
		return "", fmt.Errorf("index %q: %w", def.Name, err)
	}
	return key, nil
}

// EncodeAll computes every slot of a document. The primary index is
// required; secondary indexes whose PK fields are missing are skipped
// (sparse indexes).
func (c *Catalog) EncodeAll(doc physical.Document) (map[Slot]string, error) {
	out := make(map[Slot]string, len(c.indexes))
	for i, def := range c.indexes {
		key, err := c.Encode(def, doc)
		if i > 0 && errors.Is(err, ErrMissingField) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[def.Field] = key
	}
	return out, nil
}

// KeyFor encodes explicit PK and SK values for def. Trailing nils produce
// the prefix form of the key.
func (c *Catalog) KeyFor(def Definition, pk, sk []any) (string, error) {
	return keys.Encode(c.typeTag, string(def.Field), pk, sk)
}

// RelationPrefix returns the fan-out prefix under which instances of the
// relation's entity are stored for the given, fully bound, PK values.
func (c *Catalog) RelationPrefix(def Definition, relation string, pk []any) (string, error) {
	rel, ok := def.Relation(relation)
	if !ok {
		return "", fmt.Errorf("%w: %q on index %q", ErrUnknownRelation, relation, def.Name)
	}
	if len(pk) != len(def.PK) {
		return "", fmt.Errorf("relation %q needs all %d PK values of index %q", relation, len(def.PK), def.Name)
	}
	for i, v := range pk {
		if v == nil {
			return "", &MissingFieldError{Index: def.Name, Field: def.PK[i]}
		}
	}
	key, err := keys.Encode(c.typeTag, string(def.Field), pk, nil)
	if err != nil {
		return "", err
	}
	return keys.EncodeRelation(key, rel.Entity)
}

// RelationKey returns the key of a child of parent reached through
// relation, identified by childValues. The result always starts with the
// parent's RelationPrefix.
func (c *Catalog) RelationKey(relation string, parent physical.Document, childValues []any) (string, error) {
	def, rel, ok := c.RelationOwner(relation)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRelation, relation)
	}
	if len(childValues) == 0 {
		return "", fmt.Errorf("relation %q: %w: no child values", relation, keys.ErrEmptyKey)
	}
	terms := make([]any, 0, len(def.PK)+1+len(childValues))
	for _, ref := range def.PK {
		v, ok := ResolvePath(parent, ref)
		if !ok {
			return "", &MissingFieldError{Index: def.Name, Field: ref}
		}
		terms = append(terms, v)
	}
	terms = append(terms, keys.TypeTag(rel.Entity))
	for i, v := range childValues {
		if v == nil {
			return "", fmt.Errorf("relation %q: child value %d is nil", relation, i)
		}
		terms = append(terms, v)
	}
	return keys.Encode(c.typeTag, string(def.Field), terms, nil)
}
