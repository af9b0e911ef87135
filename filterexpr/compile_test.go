package filterexpr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/slotdb/filterexpr"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
)

// Account mirrors the access-control entity: accounts keyed by id with the
// username as sort key, looked up by username through a secondary index.
var Account = index.MustNew(index.EntityConfig{
	Entity: "Account",
	Indexes: []index.Definition{
		{
			Name:  "kind",
			Field: index.SlotID,
			PK:    index.Fields(".accountId"),
			SK:    index.Fields(".username"),
			Relations: []index.RelationRef{
				{Name: "access", Entity: "AccessType"},
				{Name: "tokens", Entity: "Token"},
			},
		},
		{Name: "byUsername", Field: index.SlotID2, PK: index.Fields(".username")},
		{Name: "byRegion", Field: index.SlotID3, PK: index.Fields("region", "country"), SK: index.Fields("plan", "createdAt")},
	},
})

func compile(t *testing.T, m map[string]any, opts ...filterexpr.Option) *filterexpr.Plan {
	t.Helper()
	f, err := filterexpr.Parse(m)
	require.NoError(t, err)
	plan, err := filterexpr.Compile(f, Account, opts...)
	require.NoError(t, err)
	return plan
}

func TestCompile_IndexBasedFilters(t *testing.T) {
	plan := compile(t, map[string]any{"accountId": 1234, "username": "antonio"}, filterexpr.WithRelations("access"))

	want := `{"$or":[{"_id":{"$startsWith":"account:_id#741234≻accesstype"}},{"_id":"account:_id#741234↠antonio"}]}`
	assert.JSONEq(t, want, physical.String(plan.Predicate()))
	assert.Equal(t, index.SlotID, plan.Slot)
	assert.Equal(t, "741234", plan.PKValue)
	assert.Equal(t, []string{"access"}, plan.Relations)
}

func TestCompile_AccountScenario(t *testing.T) {
	t.Run("primary equality", func(t *testing.T) {
		plan := compile(t, map[string]any{"accountId": "741234"})
		assert.Equal(t, "kind", plan.Index.Name)
		assert.Equal(t, physical.Or{
			physical.Eq{Field: "_id", Value: "account:_id#741234"},
			physical.StartsWith{Field: "_id", Prefix: "account:_id#741234↠"},
		}, plan.Predicate())
	})

	t.Run("username goes to the secondary slot", func(t *testing.T) {
		plan := compile(t, map[string]any{"username": "antonio"})
		assert.Equal(t, "byUsername", plan.Index.Name)
		assert.Equal(t, index.SlotID2, plan.Slot)
		assert.Equal(t, physical.Eq{Field: "_id2", Value: "account:_id2#antonio"}, plan.Predicate())
	})

	t.Run("relation fan-out", func(t *testing.T) {
		plan := compile(t, map[string]any{"accountId": "741234", "$related": "access"})
		assert.Equal(t, physical.StartsWith{Field: "_id", Prefix: "account:_id#741234≻accesstype"}, plan.Predicate())
		assert.Equal(t, "741234", plan.PKValue)
	})
}

func TestCompile_KeyShapes(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want physical.Predicate
	}{
		{
			name: "partial PK",
			in:   map[string]any{"region": "eu"},
			want: physical.StartsWith{Field: "_id3", Prefix: "account:_id3#eu≻"},
		},
		{
			name: "partial PK with prefix on next term",
			in:   map[string]any{"region": "eu", "country": map[string]any{"$startsWith": "p"}},
			want: physical.StartsWith{Field: "_id3", Prefix: "account:_id3#eu≻p"},
		},
		{
			name: "full PK partial SK",
			in:   map[string]any{"region": "eu", "country": "pt", "plan": "pro"},
			want: physical.Or{
				physical.Eq{Field: "_id3", Value: "account:_id3#eu≻pt↠pro"},
				physical.StartsWith{Field: "_id3", Prefix: "account:_id3#eu≻pt↠pro≻"},
			},
		},
		{
			name: "full PK prefix on first SK term",
			in:   map[string]any{"region": "eu", "country": "pt", "plan": map[string]any{"$startsWith": "pr"}},
			want: physical.StartsWith{Field: "_id3", Prefix: "account:_id3#eu≻pt↠pr"},
		},
		{
			name: "full PK with range on SK keeps raw compare",
			in: map[string]any{"region": "eu", "country": "pt", "plan": "pro",
				"createdAt": map[string]any{"$gte": "2024"}},
			want: physical.And{
				physical.Or{
					physical.Eq{Field: "_id3", Value: "account:_id3#eu≻pt↠pro"},
					physical.StartsWith{Field: "_id3", Prefix: "account:_id3#eu≻pt↠pro≻"},
				},
				physical.Compare{Field: "createdAt", Op: physical.Gte, Value: "2024"},
			},
		},
		{
			name: "full PK and SK",
			in:   map[string]any{"region": "eu", "country": "pt", "plan": "pro", "createdAt": "2024"},
			want: physical.Eq{Field: "_id3", Value: "account:_id3#eu≻pt↠pro≻2024"},
		},
		{
			name: "non-key fields become residual",
			in:   map[string]any{"username": "antonio", "active": true},
			want: physical.And{
				physical.Eq{Field: "_id2", Value: "account:_id2#antonio"},
				physical.Eq{Field: "active", Value: true},
			},
		},
		{
			name: "leading prefix",
			in:   map[string]any{"username": map[string]any{"$startsWith": "ant"}},
			want: physical.StartsWith{Field: "_id2", Prefix: "account:_id2#ant"},
		},
		{
			name: "slot addressed directly",
			in:   map[string]any{"_id": "account:_id#741234"},
			want: physical.And{
				physical.Eq{Field: "_id", Value: "account:_id#741234"},
				physical.StartsWith{Field: "_id", Prefix: "account:_id#"},
			},
		},
		{
			name: "or branches keep order",
			in: map[string]any{"$or": []any{
				map[string]any{"username": "zed"},
				map[string]any{"accountId": 1},
			}},
			want: physical.Or{
				physical.Eq{Field: "_id2", Value: "account:_id2#zed"},
				physical.Or{
					physical.Eq{Field: "_id", Value: "account:_id#711"},
					physical.StartsWith{Field: "_id", Prefix: "account:_id#711↠"},
				},
			},
		},
		{
			name: "nested or under a resolved and is raw",
			in: map[string]any{"username": "antonio", "$or": []any{
				map[string]any{"active": true},
				map[string]any{"balance": map[string]any{"$gt": 10}},
			}},
			want: physical.And{
				physical.Eq{Field: "_id2", Value: "account:_id2#antonio"},
				physical.Or{
					physical.Eq{Field: "active", Value: true},
					physical.Compare{Field: "balance", Op: physical.Gt, Value: 10},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := compile(t, tt.in)
			assert.Equal(t, tt.want, plan.Predicate())
		})
	}
}

func TestCompile_OrAcrossSlotsSortsByIdentity(t *testing.T) {
	plan := compile(t, map[string]any{"$or": []any{
		map[string]any{"username": "zed"},
		map[string]any{"accountId": 1},
	}})
	assert.Equal(t, index.SlotID, plan.Slot)

	plan = compile(t, map[string]any{"$or": []any{
		map[string]any{"username": "zed"},
		map[string]any{"username": "amy"},
	}})
	assert.Equal(t, index.SlotID2, plan.Slot)
}

func TestCompile_Unresolvable(t *testing.T) {
	f, err := filterexpr.Parse(map[string]any{"active": true})
	require.NoError(t, err)

	_, err = filterexpr.Compile(f, Account)
	require.ErrorIs(t, err, filterexpr.ErrUnresolvableFilter)

	plan, err := filterexpr.Compile(f, Account, filterexpr.WithPolicy(filterexpr.PostFilter))
	require.NoError(t, err)
	assert.True(t, plan.Unresolved)
	assert.Equal(t, index.SlotID, plan.Slot)
	assert.Equal(t, physical.And{
		physical.StartsWith{Field: "_id", Prefix: "account:_id#"},
		physical.Eq{Field: "active", Value: true},
	}, plan.Predicate())

	// Non-leading PK fields don't bind an index.
	f, err = filterexpr.Parse(map[string]any{"country": "pt"})
	require.NoError(t, err)
	_, err = filterexpr.Compile(f, Account)
	require.ErrorIs(t, err, filterexpr.ErrUnresolvableFilter)

	// Relations need the owning PK bound.
	f, err = filterexpr.Parse(map[string]any{"username": "antonio"})
	require.NoError(t, err)
	_, err = filterexpr.Compile(f, Account, filterexpr.WithRelations("access"))
	require.ErrorIs(t, err, filterexpr.ErrUnresolvableFilter)
}

func TestCompile_Errors(t *testing.T) {
	f, err := filterexpr.Parse(map[string]any{"accountId": "a≻b"})
	require.NoError(t, err)
	_, err = filterexpr.Compile(f, Account)
	require.ErrorIs(t, err, keys.ErrUnencodableValue)

	_, err = filterexpr.Compile(filterexpr.Related{Relation: "nope"}, Account)
	require.ErrorIs(t, err, index.ErrUnknownRelation)

	_, err = filterexpr.Compile(filterexpr.And{
		filterexpr.Equal{Field: "accountId", Value: 1},
		filterexpr.Related{Relation: "access"},
		filterexpr.Related{Relation: "tokens"},
	}, Account)
	require.ErrorIs(t, err, filterexpr.ErrUnsupportedPredicate)

	_, err = filterexpr.Compile(filterexpr.And{
		filterexpr.Equal{Field: "username", Value: "a"},
		filterexpr.Or{filterexpr.Related{Relation: "access"}, filterexpr.Equal{Field: "x", Value: 1}},
	}, Account)
	require.ErrorIs(t, err, filterexpr.ErrUnsupportedPredicate)

	_, err = filterexpr.Compile(filterexpr.Equal{Field: "_id5", Value: "x"}, Account)
	require.ErrorIs(t, err, filterexpr.ErrUnsupportedPredicate)
}

func TestCompile_Deterministic(t *testing.T) {
	in := map[string]any{"region": "eu", "country": "pt", "username": "antonio", "active": true}
	first := compile(t, in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, compile(t, in))
	}
}

func TestPlan_Bindings(t *testing.T) {
	plan := compile(t, map[string]any{"accountId": 1, "profile.name": "x", "balance": map[string]any{"$gt": 3}})
	assert.Equal(t, physical.Document{"accountId": 1, "profile": map[string]any{"name": "x"}}, plan.Bindings())

	explain := plan.Explain()
	assert.Equal(t, "kind", explain["index"])
	assert.Equal(t, map[string]any{"key": "_id", "value": "711"}, explain["pk"])
}
