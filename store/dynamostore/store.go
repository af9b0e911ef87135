// Package dynamostore is a transport.Driver over a DynamoDB table whose
// partition key is "_id".
//
// Slot predicates other than an exact identity are evaluated with a
// filtered Scan, optionally split into parallel segments. Results are
// ordered and limited in memory, since a table keyed on "_id" alone has no
// cross-partition order. Single-document writes are conditioned on the
// filter that selected the document, so a concurrent change surfaces as
// transport.ErrConflict instead of being overwritten.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/panjf2000/ants/v2"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/store"
	"github.com/acksell/slotdb/transport"
)

const idAttribute = string(index.SlotID)

// Client is the subset of *dynamodb.Client used by the store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Options configures the store.
type Options struct {
	Table string
	// Segments splits scans into parallel segments. Values below 2 scan
	// sequentially.
	Segments int
	// ConsistentRead makes every read strongly consistent.
	ConsistentRead bool
}

// Store is a document collection in one DynamoDB table.
type Store struct {
	client Client
	opts   Options
	pool   *ants.Pool
}

var _ transport.Driver = (*Store)(nil)

// New creates a store over client.
func New(client Client, opts Options) (*Store, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	s := &Store{client: client, opts: opts}
	if opts.Segments > 1 {
		pool, err := ants.NewPool(opts.Segments)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		s.pool = pool
	}
	return s, nil
}

// NewFromConfig creates a store from the default AWS configuration. A
// non-empty endpoint points the client at a local DynamoDB.
func NewFromConfig(ctx context.Context, endpoint, region string, opts Options) (*Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, opts)
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Release()
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, doc physical.Document) error {
	id := doc.ID()
	if id == "" {
		return transport.ErrMissingIdentity
	}
	err := s.putNew(ctx, doc)
	if isConditionFailed(err) {
		return fmt.Errorf("%w: %s", transport.ErrDuplicate, id)
	}
	return err
}

func (s *Store) Replace(ctx context.Context, filter physical.Predicate, doc physical.Document) (bool, error) {
	if doc.ID() == "" {
		return false, transport.ErrMissingIdentity
	}
	old, err := s.first(ctx, filter)
	if err != nil {
		return false, err
	}
	if old == nil {
		err := s.putNew(ctx, doc)
		if isConditionFailed(err) {
			return false, fmt.Errorf("%w: %s", transport.ErrDuplicate, doc.ID())
		}
		return false, err
	}
	return true, s.rewrite(ctx, filter, old, doc)
}

func (s *Store) Find(ctx context.Context, q transport.Query) ([]physical.Document, error) {
	docs, err := s.find(ctx, q.Filter)
	if err != nil {
		return nil, err
	}
	store.Sort(docs, q.Sort)
	return store.Truncate(docs, q.Limit), nil
}

func (s *Store) FindOneAndUpdate(ctx context.Context, filter physical.Predicate, update physical.Update, upsert bool) (transport.UpdateOutcome, error) {
	old, err := s.first(ctx, filter)
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
		if doc.ID() == "" {
			return transport.UpdateOutcome{}, transport.ErrMissingIdentity
		}
		err = s.putNew(ctx, doc)
		if isConditionFailed(err) {
			return transport.UpdateOutcome{}, fmt.Errorf("%w: %s", transport.ErrDuplicate, doc.ID())
		}
		if err != nil {
			return transport.UpdateOutcome{}, err
		}
		return transport.UpdateOutcome{Document: doc, Upserted: true}, nil
	}

	doc, err := update.Apply(old, false)
	if err != nil {
		return transport.UpdateOutcome{}, err
	}
	if doc.ID() != old.ID() {
		if err := s.rewrite(ctx, filter, old, doc); err != nil {
			return transport.UpdateOutcome{}, err
		}
		return transport.UpdateOutcome{Document: doc, Matched: true}, nil
	}

	ub, ok := updateBuilder(update)
	if !ok {
		return transport.UpdateOutcome{Document: old, Matched: true}, nil
	}
	b := expression.NewBuilder().WithUpdate(ub)
	if cond, ok, err := condition(filter); err != nil {
		return transport.UpdateOutcome{}, err
	} else if ok {
		b = b.WithCondition(cond)
	}
	expr, err := b.Build()
	if err != nil {
		return transport.UpdateOutcome{}, fmt.Errorf("build update: %w", err)
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.opts.Table),
		Key:                       idKey(old.ID()),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return transport.UpdateOutcome{}, conflict(err)
	}
	updated, err := unmarshalDocument(out.Attributes)
	if err != nil {
		return transport.UpdateOutcome{}, err
	}
	return transport.UpdateOutcome{Document: updated, Matched: true}, nil
}

func (s *Store) FindOneAndDelete(ctx context.Context, filter physical.Predicate) (physical.Document, error) {
	old, err := s.first(ctx, filter)
	if err != nil || old == nil {
		return nil, err
	}
	in := &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.opts.Table),
		Key:          idKey(old.ID()),
		ReturnValues: types.ReturnValueAllOld,
	}
	if cond, ok, err := condition(filter); err != nil {
		return nil, err
	} else if ok {
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("build condition: %w", err)
		}
		in.ConditionExpression = expr.Condition()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}
	out, err := s.client.DeleteItem(ctx, in)
	if err != nil {
		return nil, conflict(err)
	}
	if len(out.Attributes) == 0 {
		return old, nil
	}
	return unmarshalDocument(out.Attributes)
}

// putNew writes doc if its identity is free.
func (s *Store) putNew(ctx context.Context, doc physical.Document) error {
	item, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(idAttribute))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.opts.Table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	return err
}

// rewrite replaces old with doc while old still matches filter. When the
// identity changes the delete and the put run in one transaction.
func (s *Store) rewrite(ctx context.Context, filter physical.Predicate, old, doc physical.Document) error {
	item, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	b := expression.NewBuilder()
	cond, ok, err := condition(filter)
	if err != nil {
		return err
	}
	if ok {
		b = b.WithCondition(cond)
	}

	if doc.ID() == old.ID() {
		in := &dynamodb.PutItemInput{TableName: aws.String(s.opts.Table), Item: item}
		if ok {
			expr, err := b.Build()
			if err != nil {
				return fmt.Errorf("build condition: %w", err)
			}
			in.ConditionExpression = expr.Condition()
			in.ExpressionAttributeNames = expr.Names()
			in.ExpressionAttributeValues = expr.Values()
		}
		_, err := s.client.PutItem(ctx, in)
		return conflict(err)
	}

	del := &types.Delete{TableName: aws.String(s.opts.Table), Key: idKey(old.ID())}
	if ok {
		expr, err := b.Build()
		if err != nil {
			return fmt.Errorf("build condition: %w", err)
		}
		del.ConditionExpression = expr.Condition()
		del.ExpressionAttributeNames = expr.Names()
		del.ExpressionAttributeValues = expr.Values()
	}
	notExists, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(idAttribute))).
		Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: del},
			{Put: &types.Put{
				TableName:                aws.String(s.opts.Table),
				Item:                     item,
				ConditionExpression:      notExists.Condition(),
				ExpressionAttributeNames: notExists.Names(),
			}},
		},
	})
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && len(canceled.CancellationReasons) == 2 &&
		aws.ToString(canceled.CancellationReasons[1].Code) == "ConditionalCheckFailed" {
		return fmt.Errorf("%w: %s", transport.ErrDuplicate, doc.ID())
	}
	return conflict(err)
}

func (s *Store) first(ctx context.Context, filter physical.Predicate) (physical.Document, error) {
	docs, err := s.find(ctx, filter)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	store.Sort(docs, physical.Sort{})
	return docs[0], nil
}

// find returns every document matching p, unordered.
func (s *Store) find(ctx context.Context, p physical.Predicate) ([]physical.Document, error) {
	if ranges, ok := store.Ranges(p); ok && len(ranges) == 1 && ranges[0].Exact && ranges[0].Slot == index.SlotID {
		doc, err := s.get(ctx, ranges[0].Prefix)
		if err != nil || doc == nil {
			return nil, err
		}
		return store.Filter([]physical.Document{doc}, p)
	}

	in := &dynamodb.ScanInput{
		TableName:      aws.String(s.opts.Table),
		ConsistentRead: aws.Bool(s.opts.ConsistentRead),
	}
	cond, ok, err := condition(p)
	if err != nil {
		return nil, err
	}
	if ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("build filter: %w", err)
		}
		in.FilterExpression = expr.Filter()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}

	docs, err := s.scan(ctx, in)
	if err != nil {
		return nil, err
	}
	// DynamoDB compares numbers and missing attributes slightly
	// differently; the in-memory match is authoritative.
	return store.Filter(docs, p)
}

func (s *Store) get(ctx context.Context, id string) (physical.Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.opts.Table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(s.opts.ConsistentRead),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshalDocument(out.Item)
}

func (s *Store) scan(ctx context.Context, in *dynamodb.ScanInput) ([]physical.Document, error) {
	if s.pool == nil {
		return s.scanSegment(ctx, *in)
	}

	n := s.opts.Segments
	results := make([][]physical.Document, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		seg := *in
		seg.Segment, seg.TotalSegments = aws.Int32(int32(i)), aws.Int32(int32(n))
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			results[i], errs[i] = s.scanSegment(ctx, seg)
		}); err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	var docs []physical.Document
	for _, r := range results {
		docs = append(docs, r...)
	}
	return docs, nil
}

func (s *Store) scanSegment(ctx context.Context, in dynamodb.ScanInput) ([]physical.Document, error) {
	var docs []physical.Document
	for {
		out, err := s.client.Scan(ctx, &in)
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			doc, err := unmarshalDocument(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return docs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// conflict maps failed write conditions to transport.ErrConflict: the
// document changed between the read that selected it and the write.
func conflict(err error) error {
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if isConditionFailed(err) || errors.As(err, &canceled) {
		return fmt.Errorf("%w: %w", transport.ErrConflict, err)
	}
	return err
}
