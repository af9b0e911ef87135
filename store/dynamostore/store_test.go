package dynamostore

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/transport"
)

// fakeClient keeps items in memory. It enforces attribute_not_exists
// conditions and ignores scan filters, which the store re-checks anyway.
// failConditions makes every other condition fail.
type fakeClient struct {
	mu             sync.Mutex
	items          map[string]map[string]types.AttributeValue
	pageSize       int
	failConditions bool

	scans   int
	updates []*dynamodb.UpdateItemInput
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: map[string]map[string]types.AttributeValue{}, pageSize: 2}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item["_id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeClient) conditionFails(id string, cond *string) bool {
	if cond == nil {
		return false
	}
	if strings.Contains(*cond, "attribute_not_exists") {
		_, ok := f.items[id]
		return ok
	}
	return f.failConditions
}

func ccf() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := keyOf(in.Item)
	if f.conditionFails(id, in.ConditionExpression) {
		return nil, ccf()
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	id := keyOf(in.Key)
	if f.conditionFails(id, in.ConditionExpression) {
		return nil, ccf()
	}
	return &dynamodb.UpdateItemOutput{Attributes: f.items[id]}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := keyOf(in.Key)
	if f.conditionFails(id, in.ConditionExpression) {
		return nil, ccf()
	}
	old := f.items[id]
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{Attributes: old}, nil
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	ids := slices.Sorted(func(yield func(string) bool) {
		for id := range f.items {
			if !yield(id) {
				return
			}
		}
	})
	if in.Segment != nil {
		var seg []string
		for i, id := range ids {
			if int32(i)%aws.ToInt32(in.TotalSegments) == aws.ToInt32(in.Segment) {
				seg = append(seg, id)
			}
		}
		ids = seg
	}
	start := 0
	if in.ExclusiveStartKey != nil {
		start, _ = slices.BinarySearch(ids, keyOf(in.ExclusiveStartKey))
		start++
	}
	out := &dynamodb.ScanOutput{}
	for _, id := range ids[min(start, len(ids)):] {
		if len(out.Items) == f.pageSize {
			out.LastEvaluatedKey = idKey(keyOf(out.Items[len(out.Items)-1]))
			break
		}
		out.Items = append(out.Items, f.items[id])
	}
	return out, nil
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		switch {
		case ti.Delete != nil && f.conditionFails(keyOf(ti.Delete.Key), ti.Delete.ConditionExpression),
			ti.Put != nil && f.conditionFails(keyOf(ti.Put.Item), ti.Put.ConditionExpression):
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}
	for _, ti := range in.TransactItems {
		if ti.Delete != nil {
			delete(f.items, keyOf(ti.Delete.Key))
		}
		if ti.Put != nil {
			f.items[keyOf(ti.Put.Item)] = ti.Put.Item
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func newTestStore(t *testing.T, segments int) (*Store, *fakeClient) {
	t.Helper()
	client := newFakeClient()
	s, err := New(client, Options{Table: "slotdb", Segments: segments})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for _, d := range []physical.Document{
		{"_id": "user:_id#b", "_id2": "user:_id2#x", "name": "bob", "age": 30},
		{"_id": "user:_id#a", "_id2": "user:_id2#y", "name": "alice", "age": 25},
		{"_id": "user:_id#c", "name": "carol", "age": 41},
		{"_id": "team:_id#a", "name": "core"},
	} {
		require.NoError(t, s.Insert(context.Background(), d))
	}
	return s, client
}

func ids(docs []physical.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func expressionFor(cond expression.ConditionBuilder) (*string, error) {
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, err
	}
	return expr.Condition(), nil
}

func TestNew(t *testing.T) {
	_, err := New(newFakeClient(), Options{})
	assert.Error(t, err)
}

func TestCondition(t *testing.T) {
	tests := []struct {
		name string
		p    physical.Predicate
		want []string
	}{
		{name: "eq", p: physical.Eq{Field: "_id", Value: "a"}, want: []string{" = "}},
		{name: "missing", p: physical.Eq{Field: "x", Value: nil}, want: []string{"attribute_not_exists", "attribute_type", " OR "}},
		{name: "prefix", p: physical.StartsWith{Field: "_id2", Prefix: "a"}, want: []string{"begins_with"}},
		{name: "range", p: physical.Compare{Field: "_id", Op: physical.Gt, Value: "a"}, want: []string{" > "}},
		{
			name: "and of or",
			p: physical.And{
				physical.Or{physical.Eq{Field: "_id", Value: "a"}, physical.StartsWith{Field: "_id", Prefix: "a↠"}},
				physical.Compare{Field: "age", Op: physical.Lte, Value: 3},
			},
			want: []string{" OR ", " AND ", "begins_with", " <= "},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, ok, err := condition(tt.p)
			require.NoError(t, err)
			require.True(t, ok)
			expr, err := expressionFor(cond)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, aws.ToString(expr), w)
			}
		})
	}

	_, ok, err := condition(nil)
	assert.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = condition(physical.And{})
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestUnmarshalNumbers(t *testing.T) {
	item, err := marshalDocument(physical.Document{"_id": "a", "n": 3, "f": 1.5, "nested": map[string]any{"m": []any{7}}})
	require.NoError(t, err)
	doc, err := unmarshalDocument(item)
	require.NoError(t, err)
	assert.Equal(t, physical.Document{"_id": "a", "n": int64(3), "f": 1.5, "nested": map[string]any{"m": []any{int64(7)}}}, doc)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	for _, segments := range []int{0, 3} {
		s, client := newTestStore(t, segments)

		docs, err := s.Find(ctx, transport.Query{Filter: physical.StartsWith{Field: "_id", Prefix: "user:"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"user:_id#a", "user:_id#b", "user:_id#c"}, ids(docs))

		docs, err = s.Find(ctx, transport.Query{
			Filter: physical.Compare{Field: "age", Op: physical.Gte, Value: 30},
			Sort:   physical.Sort{Field: "age", Descending: true},
			Limit:  1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"user:_id#c"}, ids(docs))

		scans := client.scans
		docs, err = s.Find(ctx, transport.Query{Filter: physical.Eq{Field: "_id", Value: "user:_id#b"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"user:_id#b"}, ids(docs))
		assert.Equal(t, scans, client.scans, "identity lookups don't scan")
	}
}

func TestInsertAndReplace(t *testing.T) {
	ctx := context.Background()
	s, client := newTestStore(t, 0)

	assert.ErrorIs(t, s.Insert(ctx, physical.Document{"_id": "user:_id#a"}), transport.ErrDuplicate)
	assert.ErrorIs(t, s.Insert(ctx, physical.Document{"x": 1}), transport.ErrMissingIdentity)

	matched, err := s.Replace(ctx, physical.Eq{Field: "_id", Value: "user:_id#a"}, physical.Document{"_id": "user:_id#a", "name": "alice2"})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = s.Replace(ctx, physical.Eq{Field: "_id", Value: "user:_id#n"}, physical.Document{"_id": "user:_id#n"})
	require.NoError(t, err)
	assert.False(t, matched)

	_, err = s.Replace(ctx, physical.And{
		physical.Eq{Field: "_id", Value: "user:_id#n"},
		physical.Eq{Field: "name", Value: "nobody"},
	}, physical.Document{"_id": "user:_id#n"})
	assert.ErrorIs(t, err, transport.ErrDuplicate)

	client.failConditions = true
	_, err = s.Replace(ctx, physical.Eq{Field: "_id", Value: "user:_id#a"}, physical.Document{"_id": "user:_id#a"})
	assert.ErrorIs(t, err, transport.ErrConflict)
}

func TestFindOneAndUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("update in place", func(t *testing.T) {
		s, client := newTestStore(t, 0)
		out, err := s.FindOneAndUpdate(ctx, physical.Eq{Field: "_id", Value: "user:_id#a"},
			physical.Update{Set: map[string]any{"name": "al"}, Inc: map[string]any{"age": 1}, Unset: []string{"_id2"}}, false)
		require.NoError(t, err)
		assert.True(t, out.Matched)
		require.Len(t, client.updates, 1)
		in := client.updates[0]
		for _, clause := range []string{"SET ", "REMOVE ", "ADD "} {
			assert.Contains(t, aws.ToString(in.UpdateExpression), clause)
		}
		assert.ElementsMatch(t, []string{"name", "_id2", "age", "_id"}, slices.Collect(maps.Values(in.ExpressionAttributeNames)))
		assert.NotNil(t, in.ConditionExpression)
		assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
	})

	t.Run("identity change is transactional", func(t *testing.T) {
		s, client := newTestStore(t, 0)
		out, err := s.FindOneAndUpdate(ctx, physical.Eq{Field: "_id", Value: "user:_id#c"},
			physical.Update{Set: map[string]any{"_id": "user:_id#z"}}, false)
		require.NoError(t, err)
		assert.Equal(t, "user:_id#z", out.Document.ID())
		assert.NotContains(t, client.items, "user:_id#c")
		assert.Contains(t, client.items, "user:_id#z")

		_, err = s.FindOneAndUpdate(ctx, physical.Eq{Field: "_id", Value: "user:_id#z"},
			physical.Update{Set: map[string]any{"_id": "user:_id#a"}}, false)
		assert.ErrorIs(t, err, transport.ErrDuplicate)
	})

	t.Run("upsert", func(t *testing.T) {
		s, client := newTestStore(t, 0)
		out, err := s.FindOneAndUpdate(ctx, physical.Eq{Field: "_id", Value: "user:_id#n"},
			physical.Update{SetOnInsert: map[string]any{"_id": "user:_id#n", "age": 1}}, true)
		require.NoError(t, err)
		assert.True(t, out.Upserted)

		var stored map[string]any
		require.NoError(t, attributevalue.UnmarshalMap(client.items["user:_id#n"], &stored))
		assert.Equal(t, float64(1), stored["age"])
	})

	t.Run("conflict", func(t *testing.T) {
		s, client := newTestStore(t, 0)
		client.failConditions = true
		_, err := s.FindOneAndUpdate(ctx, physical.Eq{Field: "_id", Value: "user:_id#a"},
			physical.Update{Set: map[string]any{"name": "x"}}, false)
		assert.ErrorIs(t, err, transport.ErrConflict)
	})
}

func TestFindOneAndDelete(t *testing.T) {
	ctx := context.Background()
	s, client := newTestStore(t, 0)

	doc, err := s.FindOneAndDelete(ctx, physical.Eq{Field: "name", Value: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "user:_id#b", doc.ID())
	assert.Equal(t, int64(30), doc["age"])
	assert.NotContains(t, client.items, "user:_id#b")

	doc, err = s.FindOneAndDelete(ctx, physical.Eq{Field: "name", Value: "bob"})
	require.NoError(t, err)
	assert.Nil(t, doc)
}
