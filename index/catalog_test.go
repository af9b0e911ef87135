package index_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
)

func accounts(t *testing.T) *index.Catalog {
	t.Helper()
	cat, err := index.New(index.EntityConfig{
		Entity: "Account",
		Indexes: []index.Definition{
			{
				Name:      "kind",
				Field:     index.SlotID,
				PK:        index.Fields(".accountId"),
				SK:        index.Fields(".username"),
				Relations: []index.RelationRef{{Name: "access", Entity: "AccessType"}},
			},
			{Name: "byUsername", Field: index.SlotID2, PK: index.Fields(".username")},
			{Name: "byRegion", Field: index.SlotID3, PK: index.Fields("region", "country"), SK: index.Fields("createdAt")},
		},
	})
	require.NoError(t, err)
	return cat
}

func TestNew_Invalid(t *testing.T) {
	pk := index.Fields("id")
	tests := []struct {
		name string
		cfg  index.EntityConfig
	}{
		{"empty entity", index.EntityConfig{Indexes: []index.Definition{{Name: "a", Field: index.SlotID, PK: pk}}}},
		{"reserved entity char", index.EntityConfig{Entity: "a:b", Indexes: []index.Definition{{Name: "a", Field: index.SlotID, PK: pk}}}},
		{"no indexes", index.EntityConfig{Entity: "A"}},
		{"primary not on _id", index.EntityConfig{Entity: "A", Indexes: []index.Definition{{Name: "a", Field: index.SlotID2, PK: pk}}}},
		{"duplicate slot", index.EntityConfig{Entity: "A", Indexes: []index.Definition{
			{Name: "a", Field: index.SlotID, PK: pk},
			{Name: "b", Field: index.SlotID2, PK: pk},
			{Name: "c", Field: index.SlotID2, PK: pk},
		}}},
		{"duplicate name", index.EntityConfig{Entity: "A", Indexes: []index.Definition{
			{Name: "a", Field: index.SlotID, PK: pk},
			{Name: "a", Field: index.SlotID2, PK: pk},
		}}},
		{"unknown slot", index.EntityConfig{Entity: "A", Indexes: []index.Definition{
			{Name: "a", Field: index.SlotID, PK: pk},
			{Name: "b", Field: "_id9", PK: pk},
		}}},
		{"empty pk", index.EntityConfig{Entity: "A", Indexes: []index.Definition{{Name: "a", Field: index.SlotID}}}},
		{"empty path component", index.EntityConfig{Entity: "A", Indexes: []index.Definition{{Name: "a", Field: index.SlotID, PK: index.Fields("a..b")}}}},
		{"slot as field", index.EntityConfig{Entity: "A", Indexes: []index.Definition{{Name: "a", Field: index.SlotID, PK: index.Fields("_id2")}}}},
		{"duplicate relation", index.EntityConfig{Entity: "A", Indexes: []index.Definition{
			{Name: "a", Field: index.SlotID, PK: pk, Relations: []index.RelationRef{{Name: "r", Entity: "B"}}},
			{Name: "b", Field: index.SlotID2, PK: pk, Relations: []index.RelationRef{{Name: "r", Entity: "C"}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := index.New(tt.cfg)
			require.ErrorIs(t, err, index.ErrInvalidConfig)
		})
	}

	assert.Panics(t, func() { index.MustNew(index.EntityConfig{Entity: "A"}) })
}

func TestCatalog_Accessors(t *testing.T) {
	cat := accounts(t)

	assert.Equal(t, "Account", cat.Entity())
	assert.Equal(t, "account", cat.TypeTag())
	assert.Equal(t, "kind", cat.Primary().Name)
	assert.Equal(t, []index.FieldRef{"accountId"}, cat.Primary().PK)
	assert.Equal(t, []index.Slot{index.SlotID, index.SlotID2, index.SlotID3}, cat.Slots())

	def, ok := cat.IndexBySlot(index.SlotID2)
	require.True(t, ok)
	assert.Equal(t, "byUsername", def.Name)

	_, ok = cat.Index("missing")
	assert.False(t, ok)

	// Catalog contents can't be mutated through returned definitions.
	cat.Indexes()[0].PK[0] = "hacked"
	assert.Equal(t, index.FieldRef("accountId"), cat.Primary().PK[0])

	names := func(defs []index.Definition) []string {
		var out []string
		for _, d := range defs {
			out = append(out, d.Name)
		}
		return out
	}
	assert.Equal(t, []string{"kind", "byUsername"}, names(cat.Touches("username")))
	assert.Equal(t, []string{"byRegion"}, names(cat.Touches("country")))
	assert.Empty(t, cat.Touches("balance"))
	assert.True(t, cat.IsKeyField(".accountId"))

	assert.True(t, index.IsSlot("_id2"))
	assert.False(t, index.IsSlot("accountId"))
}

func TestResolve(t *testing.T) {
	cat := accounts(t)

	tests := []struct {
		name       string
		bound      []string
		wantIndex  string
		wantScore  int
		wantFull   bool
		unresolved bool
	}{
		{"primary pk", []string{"accountId"}, "kind", 1, true, false},
		{"secondary pk", []string{"username"}, "byUsername", 1, true, false},
		{"both bound prefers first declared", []string{"username", "accountId"}, "kind", 1, true, false},
		{"partial composite", []string{"region"}, "byRegion", 1, false, false},
		{"full composite", []string{"country", "region"}, "byRegion", 2, true, false},
		{"full single beats partial composite", []string{"region", "username"}, "byUsername", 1, true, false},
		{"non leading term doesn't bind", []string{"country"}, "kind", 0, false, true},
		{"nothing bound", nil, "kind", 0, false, true},
		{"leading dot", []string{".username"}, "byUsername", 1, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := cat.Resolve(tt.bound)
			assert.Equal(t, tt.wantIndex, res.Index.Name)
			assert.Equal(t, tt.wantScore, res.Score)
			assert.Equal(t, tt.wantFull, res.Full)
			assert.Equal(t, tt.unresolved, res.Unresolved)

			// Deterministic.
			assert.Equal(t, res, cat.Resolve(tt.bound))
		})
	}
}

func TestEncode(t *testing.T) {
	cat := accounts(t)

	doc := physical.Document{"accountId": 1234, "username": "antonio"}
	slots, err := cat.EncodeAll(doc)
	require.NoError(t, err)
	assert.Equal(t, map[index.Slot]string{
		index.SlotID:  "account:_id#741234↠antonio",
		index.SlotID2: "account:_id2#antonio",
	}, slots)

	key, err := cat.Encode(cat.Primary(), physical.Document{"accountId": "741234"})
	require.NoError(t, err)
	assert.Equal(t, "account:_id#741234", key)

	_, err = cat.EncodeAll(physical.Document{"username": "antonio"})
	var missing *index.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "kind", missing.Index)
	assert.Equal(t, index.FieldRef("accountId"), missing.Field)

	_, err = cat.EncodeAll(physical.Document{"accountId": "a≻b"})
	require.ErrorIs(t, err, keys.ErrUnencodableValue)
}

func TestRelationKeys(t *testing.T) {
	cat := accounts(t)

	prefix, err := cat.RelationPrefix(cat.Primary(), "access", []any{1234})
	require.NoError(t, err)
	assert.Equal(t, "account:_id#741234≻accesstype", prefix)

	child, err := cat.RelationKey("access", physical.Document{"accountId": 1234}, []any{"read"})
	require.NoError(t, err)
	assert.Equal(t, "account:_id#741234≻accesstype≻read", child)
	assert.True(t, strings.HasPrefix(child, prefix))

	_, err = cat.RelationPrefix(cat.Primary(), "tokens", []any{1234})
	require.ErrorIs(t, err, index.ErrUnknownRelation)

	_, err = cat.RelationPrefix(cat.Primary(), "access", []any{nil})
	require.ErrorIs(t, err, index.ErrMissingField)

	_, err = cat.RelationKey("access", physical.Document{"accountId": 1234}, nil)
	require.ErrorIs(t, err, keys.ErrEmptyKey)

	_, err = cat.RelationKey("access", physical.Document{}, []any{"read"})
	require.ErrorIs(t, err, index.ErrMissingField)
}
