// Package badgerstore is a transport.Driver backed by BadgerDB.
//
// Every document is stored once under its identity, and each index slot it
// carries gets an entry ordered by the slot's key. Writes run in a single
// badger transaction, so a document and its slot entries never disagree.
package badgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/store"
	"github.com/acksell/slotdb/transport"
)

// Options configures the BadgerDB store.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Compress stores documents lz4-compressed.
	Compress bool
	// Logger for BadgerDB. If nil, logging is disabled.
	Logger badger.Logger
	// Retries is how often a write is retried after a transaction
	// conflict. Defaults to 3.
	Retries int
}

// Store is a document collection in a badger database.
type Store struct {
	db      *badger.DB
	codec   codec
	retries int
}

var _ transport.Driver = (*Store)(nil)

// New opens the database.
func New(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)

	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	retries := opts.Retries
	if retries <= 0 {
		retries = 3
	}
	return &Store{
		db:      db,
		codec:   codec{compress: opts.Compress},
		retries: retries,
	}, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range s.retries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", transport.ErrConflict, err)
}

func (s *Store) Insert(ctx context.Context, doc physical.Document) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return s.put(txn, doc)
	})
}

func (s *Store) Replace(ctx context.Context, filter physical.Predicate, doc physical.Document) (bool, error) {
	var matched bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		old, err := s.first(txn, filter)
		if err != nil {
			return err
		}
		matched = old != nil
		if old == nil {
			return s.put(txn, doc)
		}
		return s.swap(txn, old, doc)
	})
	return matched, err
}

func (s *Store) Find(ctx context.Context, q transport.Query) ([]physical.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []physical.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		docs, err = s.match(txn, q.Filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	store.Sort(docs, q.Sort)
	return store.Truncate(docs, q.Limit), nil
}

func (s *Store) FindOneAndUpdate(ctx context.Context, filter physical.Predicate, update physical.Update, upsert bool) (transport.UpdateOutcome, error) {
	var out transport.UpdateOutcome
	err := s.update(ctx, func(txn *badger.Txn) error {
		out = transport.UpdateOutcome{}
		old, err := s.first(txn, filter)
		if err != nil {
			return err
		}
		if old == nil {
			if !upsert {
				return nil
			}
			doc, err := update.Apply(nil, true)
			if err != nil {
				return err
			}
			out.Document, out.Upserted = doc, true
			return s.put(txn, doc)
		}
		doc, err := update.Apply(old, false)
		if err != nil {
			return err
		}
		out.Document, out.Matched = doc, true
		return s.swap(txn, old, doc)
	})
	if err != nil {
		return transport.UpdateOutcome{}, err
	}
	return out, nil
}

func (s *Store) FindOneAndDelete(ctx context.Context, filter physical.Predicate) (physical.Document, error) {
	var deleted physical.Document
	err := s.update(ctx, func(txn *badger.Txn) error {
		old, err := s.first(txn, filter)
		if err != nil || old == nil {
			deleted = nil
			return err
		}
		deleted = old
		return s.remove(txn, old)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *Store) put(txn *badger.Txn, doc physical.Document) error {
	id := doc.ID()
	if id == "" {
		return transport.ErrMissingIdentity
	}
	key := docKey(id)
	_, err := txn.Get(key)
	if err == nil {
		return fmt.Errorf("%w: %s", transport.ErrDuplicate, id)
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	val, err := s.codec.encode(doc)
	if err != nil {
		return err
	}
	if err := txn.Set(key, val); err != nil {
		return err
	}
	for _, slot := range index.Slots {
		if k, ok := doc[string(slot)].(string); ok {
			if err := txn.Set(slotKey(slot, k, id), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) swap(txn *badger.Txn, old, doc physical.Document) error {
	id := doc.ID()
	if id == "" {
		return transport.ErrMissingIdentity
	}
	if id != old.ID() {
		_, err := txn.Get(docKey(id))
		if err == nil {
			return fmt.Errorf("%w: %s", transport.ErrDuplicate, id)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
	}
	if err := s.remove(txn, old); err != nil {
		return err
	}
	return s.put(txn, doc)
}

func (s *Store) remove(txn *badger.Txn, doc physical.Document) error {
	id := doc.ID()
	if err := txn.Delete(docKey(id)); err != nil {
		return err
	}
	for _, slot := range index.Slots {
		if k, ok := doc[string(slot)].(string); ok {
			if err := txn.Delete(slotKey(slot, k, id)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) get(txn *badger.Txn, id string) (physical.Document, error) {
	item, err := txn.Get(docKey(id))
	if err != nil {
		return nil, err
	}
	var doc physical.Document
	err = item.Value(func(val []byte) error {
		doc, err = s.codec.decode(val)
		return err
	})
	return doc, err
}

func (s *Store) first(txn *badger.Txn, filter physical.Predicate) (physical.Document, error) {
	docs, err := s.match(txn, filter)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	store.Sort(docs, physical.Sort{})
	return docs[0], nil
}

// match scans the slot ranges constraining p, or every document when p
// constrains no slot.
func (s *Store) match(txn *badger.Txn, p physical.Predicate) ([]physical.Document, error) {
	ranges, ok := store.Ranges(p)
	if !ok {
		return s.scanDocuments(txn, p)
	}

	seen := map[string]struct{}{}
	var out []physical.Document
	for _, r := range ranges {
		prefix := rangePrefix(rangeSpec{slot: r.Slot, prefix: r.Prefix, exact: r.Exact})
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			id, err := idFromSlotKey(it.Item().KeyCopy(nil))
			if err != nil {
				it.Close()
				return nil, err
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			doc, err := s.get(txn, id)
			if err != nil {
				it.Close()
				return nil, fmt.Errorf("load %s: %w", id, err)
			}
			hit, err := physical.Match(p, doc)
			if err != nil {
				it.Close()
				return nil, err
			}
			if hit {
				out = append(out, doc)
			}
		}
		it.Close()
	}
	return out, nil
}

func (s *Store) scanDocuments(txn *badger.Txn, p physical.Predicate) ([]physical.Document, error) {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: docPrefix()})
	defer it.Close()

	var out []physical.Document
	for it.Rewind(); it.Valid(); it.Next() {
		var doc physical.Document
		err := it.Item().Value(func(val []byte) error {
			var err error
			doc, err = s.codec.decode(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		hit, err := physical.Match(p, doc)
		if err != nil {
			return nil, err
		}
		if hit {
			out = append(out, doc)
		}
	}
	return out, nil
}
