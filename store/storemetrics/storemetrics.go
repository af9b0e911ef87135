// Package storemetrics instruments a transport.Driver with Prometheus
// metrics.
package storemetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/transport"
)

// Metrics holds the driver collectors.
type Metrics struct {
	// OperationsTotal counts driver calls by operation and status.
	OperationsTotal *prometheus.CounterVec
	// OperationDuration is the latency of driver calls.
	OperationDuration *prometheus.HistogramVec
	// DocumentsReturned counts documents returned by Find.
	DocumentsReturned prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slotdb_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slotdb_store_operation_duration_seconds",
				Help:    "Store operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		DocumentsReturned: f.NewCounter(prometheus.CounterOpts{
			Name: "slotdb_store_documents_returned_total",
			Help: "Total number of documents returned by find operations",
		}),
	}
}

// Driver is an instrumented transport.Driver.
type Driver struct {
	next    transport.Driver
	metrics *Metrics
}

var _ transport.Driver = (*Driver)(nil)

// Wrap instruments next.
func Wrap(next transport.Driver, m *Metrics) *Driver {
	return &Driver{next: next, metrics: m}
}

func (d *Driver) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	d.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (d *Driver) Insert(ctx context.Context, doc physical.Document) error {
	start := time.Now()
	err := d.next.Insert(ctx, doc)
	d.observe("insert", start, err)
	return err
}

func (d *Driver) Replace(ctx context.Context, filter physical.Predicate, doc physical.Document) (bool, error) {
	start := time.Now()
	matched, err := d.next.Replace(ctx, filter, doc)
	d.observe("replace", start, err)
	return matched, err
}

func (d *Driver) Find(ctx context.Context, q transport.Query) ([]physical.Document, error) {
	start := time.Now()
	docs, err := d.next.Find(ctx, q)
	d.observe("find", start, err)
	d.metrics.DocumentsReturned.Add(float64(len(docs)))
	return docs, err
}

func (d *Driver) FindOneAndUpdate(ctx context.Context, filter physical.Predicate, update physical.Update, upsert bool) (transport.UpdateOutcome, error) {
	start := time.Now()
	out, err := d.next.FindOneAndUpdate(ctx, filter, update, upsert)
	d.observe("update", start, err)
	return out, err
}

func (d *Driver) FindOneAndDelete(ctx context.Context, filter physical.Predicate) (physical.Document, error) {
	start := time.Now()
	doc, err := d.next.FindOneAndDelete(ctx, filter)
	d.observe("delete", start, err)
	return doc, err
}

func (d *Driver) Close() error {
	return d.next.Close()
}
