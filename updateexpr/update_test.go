package updateexpr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
	"github.com/acksell/slotdb/updateexpr"
)

var Account = index.MustNew(index.EntityConfig{
	Entity: "Account",
	Indexes: []index.Definition{
		{Name: "kind", Field: index.SlotID, PK: index.Fields(".accountId"), SK: index.Fields(".username")},
		{Name: "byUsername", Field: index.SlotID2, PK: index.Fields(".username")},
		{Name: "byScore", Field: index.SlotID3, PK: index.Fields("team"), SK: index.Fields("score")},
	},
})

func TestCompile_NonIndexedPassThrough(t *testing.T) {
	u := updateexpr.New().Set("bio", "hello").Inc("logins", 1).Remove("resetToken")

	got, err := updateexpr.Compile(u, Account, physical.Document{"accountId": 1, "username": "antonio"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bio": "hello"}, got.Set)
	assert.Equal(t, map[string]any{"logins": 1}, got.Inc)
	assert.Equal(t, []string{"resetToken"}, got.Unset)
	assert.Equal(t, map[string]any{
		"accountId": 1,
		"username":  "antonio",
		"_id":       "account:_id#711↠antonio",
		"_id2":      "account:_id2#antonio",
	}, got.SetOnInsert)
}

func TestCompile_RecomputesEveryDependentSlot(t *testing.T) {
	u := updateexpr.New().Set("username", "tony")

	got, err := updateexpr.Compile(u, Account, physical.Document{"accountId": 1234})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"username": "tony",
		"_id":      "account:_id#741234↠tony",
		"_id2":     "account:_id2#tony",
	}, got.Set)
	assert.Empty(t, got.Unset)
	assert.Empty(t, got.Inc)
	assert.Equal(t, map[string]any{"accountId": 1234}, got.SetOnInsert)
}

func TestCompile_DerivationFailuresProduceNoOps(t *testing.T) {
	tests := []struct {
		name  string
		u     *updateexpr.Update
		known physical.Document
		field index.FieldRef
	}{
		{
			name:  "PK unknown",
			u:     updateexpr.New().Set("username", "tony"),
			known: physical.Document{},
			field: "accountId",
		},
		{
			name:  "PK removed",
			u:     updateexpr.New().Remove("accountId"),
			known: physical.Document{"accountId": 1, "username": "a"},
			field: "accountId",
		},
		{
			name:  "secondary PK removed",
			u:     updateexpr.New().Remove("username"),
			known: physical.Document{"accountId": 1, "username": "a"},
			field: "username",
		},
		{
			name:  "SK unknown",
			u:     updateexpr.New().Set("accountId", 2),
			known: physical.Document{},
			field: "username",
		},
		{
			name:  "inc of an unknown key field",
			u:     updateexpr.New().Inc("score", 1),
			known: physical.Document{"team": "red"},
			field: "score",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := updateexpr.Compile(tt.u, Account, tt.known)
			var derr *updateexpr.IndexDerivationError
			require.ErrorAs(t, err, &derr)
			require.ErrorIs(t, err, updateexpr.ErrIndexDerivation)
			assert.Equal(t, tt.field, derr.Field)
			assert.True(t, got.IsEmpty(), "no physical ops on failure")
		})
	}
}

func TestCompile_IncOnKnownKeyField(t *testing.T) {
	u := updateexpr.New().Inc("score", 5)

	got, err := updateexpr.Compile(u, Account, physical.Document{"team": "red", "score": 10})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"score": 5}, got.Inc)
	assert.Equal(t, "account:_id3#red↠7215", got.Set["_id3"])
}

func TestCompile_SortFieldRemovalTruncates(t *testing.T) {
	u := updateexpr.New().Remove("score")

	got, err := updateexpr.Compile(u, Account, physical.Document{"team": "red", "score": 10})
	require.NoError(t, err)
	assert.Equal(t, "account:_id3#red", got.Set["_id3"])
	assert.Equal(t, []string{"score"}, got.Unset)
}

func TestCompile_OpsCollapse(t *testing.T) {
	u := updateexpr.New().
		Set("n", 1).Inc("n", 2).
		Inc("m", 1).Inc("m", 2).
		Remove("r").Inc("r", 4).
		Inc("s", 1).Set("s", 9).
		Set("t", 1).Remove("t")

	got, err := updateexpr.Compile(u, Account, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(3), "r": 4, "s": 9}, got.Set)
	assert.Equal(t, map[string]any{"m": int64(3)}, got.Inc)
	assert.Equal(t, []string{"t"}, got.Unset)
}

func TestCompile_Rejects(t *testing.T) {
	_, err := updateexpr.Compile(updateexpr.New().Set("_id2", "x"), Account, nil)
	require.ErrorIs(t, err, updateexpr.ErrSlotWrite)

	_, err = updateexpr.Compile(updateexpr.New().Inc("n", "1"), Account, nil)
	require.ErrorIs(t, err, updateexpr.ErrInvalidUpdate)

	_, err = updateexpr.Compile(updateexpr.New().Inc("name", 1), Account, physical.Document{"name": "x"})
	require.ErrorIs(t, err, updateexpr.ErrInvalidUpdate)

	_, err = updateexpr.Compile(updateexpr.New().Set("username", "a≻b"), Account, physical.Document{"accountId": 1})
	require.ErrorIs(t, err, updateexpr.ErrIndexDerivation)
	require.ErrorIs(t, err, keys.ErrUnencodableValue)
}

func TestCompile_AppliedUpdateKeepsSlotsConsistent(t *testing.T) {
	stored := physical.Document{"accountId": 1, "username": "a", "team": "red", "score": 1}
	slots, err := Account.EncodeAll(stored)
	require.NoError(t, err)
	for slot, key := range slots {
		stored[string(slot)] = key
	}

	u := updateexpr.New().Set("username", "b").Inc("score", 2)
	pu, err := updateexpr.Compile(u, Account, physical.Document{"accountId": 1, "score": 1, "team": "red"})
	require.NoError(t, err)

	updated, err := pu.Apply(stored, false)
	require.NoError(t, err)

	want, err := Account.EncodeAll(updated)
	require.NoError(t, err)
	for slot, key := range want {
		assert.Equal(t, key, updated[string(slot)], "slot %s", slot)
	}
}

func TestParse(t *testing.T) {
	u, err := updateexpr.Parse(map[string]any{
		"$unset": map[string]any{"b": "", "a": ""},
		"$inc":   map[string]any{"n": 1},
		"$set":   map[string]any{"y": 2, "x": 1},
		"bare":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, []updateexpr.Op{
		{Kind: updateexpr.Set, Field: "x", Value: 1},
		{Kind: updateexpr.Set, Field: "y", Value: 2},
		{Kind: updateexpr.Set, Field: "bare", Value: true},
		{Kind: updateexpr.Inc, Field: "n", Value: 1},
		{Kind: updateexpr.Remove, Field: "a"},
		{Kind: updateexpr.Remove, Field: "b"},
	}, u.Ops())

	u, err = updateexpr.Parse(map[string]any{"$remove": []any{"z"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, u.Fields())

	for _, bad := range []map[string]any{
		{"$push": map[string]any{"a": 1}},
		{"$set": 3},
		{"$inc": map[string]any{"n": "x"}},
		{"$unset": []any{1}},
	} {
		_, err := updateexpr.Parse(bad)
		require.ErrorIs(t, err, updateexpr.ErrInvalidUpdate)
	}
}
