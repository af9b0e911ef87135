// Package transport runs logical operations against a document store.
//
// A Transporter compiles logical filters and updates with an entity's
// index catalog and hands the physical result to a Driver, the native
// store boundary. One Transporter serves one physical collection shared by
// every entity stored in it.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/acksell/slotdb/physical"
)

var (
	// ErrDuplicate is returned by Driver.Insert when the identity exists.
	ErrDuplicate = errors.New("document already exists")
	// ErrConflict is returned when a concurrent write invalidated the
	// operation.
	ErrConflict = errors.New("write conflict")
	// ErrConditionFailed is returned when a conditional write didn't hold.
	ErrConditionFailed = errors.New("condition failed")
	// ErrNotFound is returned when no document matched.
	ErrNotFound = errors.New("document not found")
	// ErrMissingIdentity is returned for documents without an "_id".
	ErrMissingIdentity = errors.New("document has no _id")
)

// Query is a physical read.
type Query struct {
	Filter physical.Predicate
	// Sort orders the results. The zero value orders by "_id".
	Sort physical.Sort
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// UpdateOutcome is the result of Driver.FindOneAndUpdate.
type UpdateOutcome struct {
	// Document is the document after the update, nil when nothing matched
	// and no upsert happened.
	Document physical.Document
	Matched  bool
	Upserted bool
}

// Driver is implemented by every store. All methods are atomic on a single
// document and safe for concurrent use. When several documents match a
// filter, the single-document operations act on the first one in "_id"
// order.
type Driver interface {
	// Insert stores a new document, failing with ErrDuplicate if its "_id"
	// exists.
	Insert(ctx context.Context, doc physical.Document) error
	// Replace replaces the first document matching filter with doc, or
	// inserts doc if none matches. matched reports which happened.
	Replace(ctx context.Context, filter physical.Predicate, doc physical.Document) (matched bool, err error)
	// Find returns the documents matching q.
	Find(ctx context.Context, q Query) ([]physical.Document, error)
	// FindOneAndUpdate applies update to the first document matching filter
	// and returns it after the update. With upsert set, a missing document
	// is created from the update alone.
	FindOneAndUpdate(ctx context.Context, filter physical.Predicate, update physical.Update, upsert bool) (UpdateOutcome, error)
	// FindOneAndDelete deletes the first document matching filter and
	// returns it, or nil when none matched.
	FindOneAndDelete(ctx context.Context, filter physical.Predicate) (physical.Document, error)
	Close() error
}

// StoreError is the uniform error for store failures.
type StoreError struct {
	Op      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) *StoreError {
	return &StoreError{Op: op, Message: err.Error(), Err: err}
}
