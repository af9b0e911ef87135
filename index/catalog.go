package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
)

var (
	// ErrInvalidConfig wraps every entity configuration problem.
	ErrInvalidConfig = errors.New("invalid index configuration")
	// ErrMissingField is returned when a key field has no value.
	ErrMissingField = errors.New("missing key field")
	// ErrUnknownRelation is returned for relations no index declares.
	ErrUnknownRelation = errors.New("unknown relation")
)

// MissingFieldError reports the key field that could not be resolved.
type MissingFieldError struct {
	Index string
	Field FieldRef
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("index %q: %v %q", e.Index, ErrMissingField, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// Catalog is a validated, immutable set of index definitions for one
// entity. It is safe for concurrent use.
type Catalog struct {
	entity  string
	typeTag string
	indexes []Definition
	autoID  FieldRef
}

// New validates cfg and builds a Catalog.
func New(cfg EntityConfig) (*Catalog, error) {
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: entity %q: %w", ErrInvalidConfig, cfg.Entity, err)
	}
	c := &Catalog{
		entity:  cfg.Entity,
		typeTag: keys.TypeTag(cfg.Entity),
		indexes: make([]Definition, len(cfg.Indexes)),
		autoID:  cfg.AutoID.Normalize(),
	}
	for i, def := range cfg.Indexes {
		c.indexes[i] = def.clone()
	}
	return c, nil
}

// MustNew is like New but panics on invalid configuration. Use it for
// package-level catalog declarations.
func MustNew(cfg EntityConfig) *Catalog {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

func validate(cfg EntityConfig) error {
	if cfg.Entity == "" {
		return errors.New("entity name is empty")
	}
	if strings.ContainsAny(cfg.Entity, ":#"+keys.PrefixSep+keys.SortSep) {
		return errors.New("entity name contains a reserved character")
	}
	if len(cfg.Indexes) == 0 {
		return errors.New("no indexes declared")
	}
	if cfg.Indexes[0].Field != SlotID {
		return fmt.Errorf("primary index %q must use slot %s, got %q", cfg.Indexes[0].Name, SlotID, cfg.Indexes[0].Field)
	}
	if cfg.AutoID != "" {
		if err := validateRef(cfg.AutoID); err != nil {
			return fmt.Errorf("autoID: %w", err)
		}
	}

	names := map[string]bool{}
	slots := map[Slot]string{}
	relations := map[string]string{}
	for _, def := range cfg.Indexes {
		if def.Name == "" {
			return fmt.Errorf("index on slot %q has no name", def.Field)
		}
		if names[def.Name] {
			return fmt.Errorf("duplicate index name %q", def.Name)
		}
		names[def.Name] = true

		if !def.Field.Valid() {
			return fmt.Errorf("index %q: unknown slot %q", def.Name, def.Field)
		}
		if other, ok := slots[def.Field]; ok {
			return fmt.Errorf("indexes %q and %q both target slot %s", other, def.Name, def.Field)
		}
		slots[def.Field] = def.Name

		if len(def.PK) == 0 {
			return fmt.Errorf("index %q: PK is empty", def.Name)
		}
		for _, ref := range def.Terms() {
			if err := validateRef(ref); err != nil {
				return fmt.Errorf("index %q: %w", def.Name, err)
			}
		}

		for _, rel := range def.Relations {
			if rel.Name == "" || rel.Entity == "" {
				return fmt.Errorf("index %q: relation needs a name and an entity", def.Name)
			}
			if strings.ContainsAny(rel.Entity, keys.PrefixSep+keys.SortSep) {
				return fmt.Errorf("index %q: relation %q entity contains a reserved glyph", def.Name, rel.Name)
			}
			if other, ok := relations[rel.Name]; ok {
				return fmt.Errorf("relation %q declared on both %q and %q", rel.Name, other, def.Name)
			}
			relations[rel.Name] = def.Name
		}
	}
	return nil
}

func validateRef(ref FieldRef) error {
	if ref.Normalize() == "" {
		return errors.New("empty field reference")
	}
	for _, part := range ref.Path() {
		if part == "" {
			return fmt.Errorf("field reference %q has an empty path component", ref)
		}
	}
	if IsSlot(ref.Path()[0]) {
		return fmt.Errorf("field reference %q points into a physical slot", ref)
	}
	return nil
}

// Entity returns the entity name.
func (c *Catalog) Entity() string { return c.entity }

// TypeTag returns the key type tag, the lower-cased entity name.
func (c *Catalog) TypeTag() string { return c.typeTag }

// AutoID returns the field filled with a generated id on create, if any.
func (c *Catalog) AutoID() FieldRef { return c.autoID }

// Primary returns the primary index.
func (c *Catalog) Primary() Definition { return c.indexes[0].clone() }

// Indexes returns every index in declaration order.
func (c *Catalog) Indexes() []Definition {
	out := make([]Definition, len(c.indexes))
	for i, def := range c.indexes {
		out[i] = def.clone()
	}
	return out
}

// Index looks up an index by name.
func (c *Catalog) Index(name string) (Definition, bool) {
	for _, def := range c.indexes {
		if def.Name == name {
			return def.clone(), true
		}
	}
	return Definition{}, false
}

// IndexBySlot looks up the index stored in slot.
func (c *Catalog) IndexBySlot(slot Slot) (Definition, bool) {
	for _, def := range c.indexes {
		if def.Field == slot {
			return def.clone(), true
		}
	}
	return Definition{}, false
}

// Slots returns the slots used by the entity in declaration order.
func (c *Catalog) Slots() []Slot {
	out := make([]Slot, len(c.indexes))
	for i, def := range c.indexes {
		out[i] = def.Field
	}
	return out
}

// Touches returns the indexes whose key depends on field.
func (c *Catalog) Touches(field string) []Definition {
	var out []Definition
	for _, def := range c.indexes {
		if def.DependsOn(FieldRef(field)) {
			out = append(out, def.clone())
		}
	}
	return out
}

// IsKeyField reports whether any index key depends on field.
func (c *Catalog) IsKeyField(field string) bool {
	return len(c.Touches(field)) > 0
}

// RelationOwner returns the index declaring the named relation.
func (c *Catalog) RelationOwner(name string) (Definition, RelationRef, bool) {
	for _, def := range c.indexes {
		if rel, ok := def.Relation(name); ok {
			return def.clone(), rel, true
		}
	}
	return Definition{}, RelationRef{}, false
}

// ResolvePath resolves a field reference against a document. Explicit nil
// values count as absent.
func ResolvePath(doc physical.Document, ref FieldRef) (any, bool) {
	v, ok := doc.Get(string(ref))
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
