// Package memstore is an in-memory transport.Driver. Documents are kept in
// a btree ordered by identity, and every index slot has its own btree of
// (key, identity) pairs so key predicates scan only their range.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/store"
	"github.com/acksell/slotdb/transport"
)

var errClosed = errors.New("memstore: closed")

type document struct {
	id  string
	doc physical.Document
}

func lessDocument(l, r *document) bool {
	return l.id < r.id
}

type slotEntry struct {
	key string
	id  string
}

func lessSlotEntry(l, r slotEntry) bool {
	if l.key != r.key {
		return l.key < r.key
	}
	return l.id < r.id
}

// Store is an in-memory document collection.
type Store struct {
	mu     sync.RWMutex
	docs   *btree.BTreeG[*document]
	slots  map[index.Slot]*btree.BTreeG[slotEntry]
	closed bool
}

var _ transport.Driver = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	slots := make(map[index.Slot]*btree.BTreeG[slotEntry], len(index.Slots))
	for _, s := range index.Slots {
		slots[s] = btree.NewG(8, lessSlotEntry)
	}
	return &Store{
		docs:  btree.NewG(8, lessDocument),
		slots: slots,
	}
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs.Len()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func (s *Store) Insert(ctx context.Context, doc physical.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.put(doc.Clone())
}

func (s *Store) Replace(ctx context.Context, filter physical.Predicate, doc physical.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	old, err := s.first(filter)
	if err != nil {
		return false, err
	}
	if old == nil {
		return false, s.put(doc.Clone())
	}
	return true, s.swap(old, doc.Clone())
}

func (s *Store) Find(ctx context.Context, q transport.Query) ([]physical.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	docs, err := s.match(q.Filter)
	if err != nil {
		return nil, err
	}
	store.Sort(docs, q.Sort)
	docs = store.Truncate(docs, q.Limit)
	for i, d := range docs {
		docs[i] = d.Clone()
	}
	return docs, nil
}

func (s *Store) FindOneAndUpdate(ctx context.Context, filter physical.Predicate, update physical.Update, upsert bool) (transport.UpdateOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return transport.UpdateOutcome{}, err
	}
	old, err := s.first(filter)
	if err != nil {
		return transport.UpdateOutcome{}, err
	}
	if old == nil {
		if !upsert {
			return transport.UpdateOutcome{}, nil
		}
		doc, err := update.Apply(nil, true)
		if err != nil {
			return transport.UpdateOutcome{}, err
		}
		if err := s.put(doc); err != nil {
			return transport.UpdateOutcome{}, err
		}
		return transport.UpdateOutcome{Document: doc.Clone(), Upserted: true}, nil
	}
	doc, err := update.Apply(old, false)
	if err != nil {
		return transport.UpdateOutcome{}, err
	}
	if err := s.swap(old, doc); err != nil {
		return transport.UpdateOutcome{}, err
	}
	return transport.UpdateOutcome{Document: doc.Clone(), Matched: true}, nil
}

func (s *Store) FindOneAndDelete(ctx context.Context, filter physical.Predicate) (physical.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	old, err := s.first(filter)
	if err != nil || old == nil {
		return nil, err
	}
	s.remove(old)
	return old, nil
}

// put stores a new document. The caller holds the write lock.
func (s *Store) put(doc physical.Document) error {
	id := doc.ID()
	if id == "" {
		return transport.ErrMissingIdentity
	}
	if _, ok := s.docs.Get(&document{id: id}); ok {
		return fmt.Errorf("%w: %s", transport.ErrDuplicate, id)
	}
	s.docs.ReplaceOrInsert(&document{id: id, doc: doc})
	for slot, tree := range s.slots {
		if key, ok := doc[string(slot)].(string); ok {
			tree.ReplaceOrInsert(slotEntry{key: key, id: id})
		}
	}
	return nil
}

// swap replaces old with doc, which may carry a different identity.
func (s *Store) swap(old, doc physical.Document) error {
	id := doc.ID()
	if id == "" {
		return transport.ErrMissingIdentity
	}
	if id != old.ID() {
		if _, ok := s.docs.Get(&document{id: id}); ok {
			return fmt.Errorf("%w: %s", transport.ErrDuplicate, id)
		}
	}
	s.remove(old)
	return s.put(doc)
}

func (s *Store) remove(doc physical.Document) {
	id := doc.ID()
	s.docs.Delete(&document{id: id})
	for slot, tree := range s.slots {
		if key, ok := doc[string(slot)].(string); ok {
			tree.Delete(slotEntry{key: key, id: id})
		}
	}
}

// first returns the matching document with the lowest identity.
func (s *Store) first(filter physical.Predicate) (physical.Document, error) {
	docs, err := s.match(filter)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	store.Sort(docs, physical.Sort{})
	return docs[0], nil
}

// match returns the stored documents matching p, without copying them.
func (s *Store) match(p physical.Predicate) ([]physical.Document, error) {
	ranges, ok := store.Ranges(p)
	if !ok {
		var (
			out []physical.Document
			err error
		)
		s.docs.Ascend(func(d *document) bool {
			var hit bool
			hit, err = physical.Match(p, d.doc)
			if hit {
				out = append(out, d.doc)
			}
			return err == nil
		})
		return out, err
	}

	seen := map[string]struct{}{}
	var out []physical.Document
	for _, r := range ranges {
		var err error
		s.slots[r.Slot].AscendGreaterOrEqual(slotEntry{key: r.Prefix}, func(e slotEntry) bool {
			if !strings.HasPrefix(e.key, r.Prefix) || (r.Exact && e.key != r.Prefix) {
				return false
			}
			if _, dup := seen[e.id]; dup {
				return true
			}
			seen[e.id] = struct{}{}
			d, _ := s.docs.Get(&document{id: e.id})
			var hit bool
			hit, err = physical.Match(p, d.doc)
			if hit {
				out = append(out, d.doc)
			}
			return err == nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
