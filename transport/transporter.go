package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
)

// ErrInvalidItem is returned for items that can't be stored as given.
var ErrInvalidItem = errors.New("invalid item")

// Transporter runs logical operations against a Driver.
type Transporter struct {
	driver Driver
	log    *slog.Logger
	policy filterexpr.Policy
	newID  func() (string, error)
}

// Option configures a Transporter.
type Option func(*Transporter)

// WithLogger sets the logger. Compiled queries are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transporter) { t.log = l }
}

// WithPolicy sets the policy for filters no index can serve.
func WithPolicy(p filterexpr.Policy) Option {
	return func(t *Transporter) { t.policy = p }
}

// WithIDGenerator replaces the generator used for AutoID fields.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(t *Transporter) { t.newID = fn }
}

// New creates a Transporter over driver.
func New(driver Driver, opts ...Option) *Transporter {
	t := &Transporter{
		driver: driver,
		log:    slog.Default(),
		newID:  newUUIDv7,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Driver returns the underlying driver.
func (t *Transporter) Driver() Driver {
	return t.driver
}

// Close closes the driver.
func (t *Transporter) Close() error {
	return t.driver.Close()
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Record is a stored item in logical shape: slot fields are stripped and
// the identity is reported separately.
type Record struct {
	ID   string            `json:"id"`
	Item physical.Document `json:"item"`
}

func toRecord(doc physical.Document) *Record {
	if doc == nil {
		return nil
	}
	return &Record{ID: doc.ID(), Item: Strip(doc)}
}

// Strip returns a copy of doc without index slot fields.
func Strip(doc physical.Document) physical.Document {
	out := doc.Clone()
	for _, s := range index.Slots {
		delete(out, string(s))
	}
	return out
}

func (t *Transporter) compile(ctx context.Context, op string, cat *index.Catalog, f filterexpr.Filter, cond filterexpr.Filter, opts ...filterexpr.Option) (*filterexpr.Plan, physical.Predicate, error) {
	opts = append([]filterexpr.Option{filterexpr.WithPolicy(t.policy)}, opts...)
	plan, err := filterexpr.Compile(f, cat, opts...)
	if err != nil {
		return nil, nil, err
	}
	extra, err := filterexpr.Raw(cond)
	if err != nil {
		return nil, nil, err
	}
	pred := physical.AllOf(plan.Predicate(), extra)
	t.log.DebugContext(ctx, "compiled query",
		"op", op,
		"entity", cat.Entity(),
		"index", plan.Index.Name,
		"slot", plan.Slot,
		"unresolved", plan.Unresolved,
		"filter", physical.String(pred),
	)
	return plan, pred, nil
}

func (t *Transporter) storeFailed(ctx context.Context, op string, cat *index.Catalog, err error) *StoreError {
	t.log.WarnContext(ctx, "store operation failed", "op", op, "entity", cat.Entity(), "error", err)
	return storeError(op, err)
}
