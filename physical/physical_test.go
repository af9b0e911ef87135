package physical_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acksell/slotdb/physical"
)

func TestDocumentPaths(t *testing.T) {
	doc := physical.Document{"name": "antonio"}

	doc.Set("address.city", "Lisbon")
	v, ok := doc.Get(".address.city")
	require.True(t, ok)
	assert.Equal(t, "Lisbon", v)

	_, ok = doc.Get("address.zip")
	assert.False(t, ok)
	_, ok = doc.Get("name.first")
	assert.False(t, ok)

	doc.Delete("address.city")
	_, ok = doc.Get("address.city")
	assert.False(t, ok)

	doc.Delete("missing.path")
}

func TestDocumentClone(t *testing.T) {
	doc := physical.Document{"nested": map[string]any{"a": 1}, "list": []any{"x"}}
	clone := doc.Clone()

	clone.Set("nested.a", 2)
	clone["list"].([]any)[0] = "y"

	v, _ := doc.Get("nested.a")
	assert.Equal(t, 1, v)
	assert.Equal(t, "x", doc["list"].([]any)[0])
}

func TestMatch(t *testing.T) {
	doc := physical.Document{
		"_id":      "account:_id#741234",
		"_id2":     "account:_id2#antonio",
		"balance":  int64(10),
		"ratio":    0.5,
		"username": "antonio",
		"active":   true,
	}

	tests := []struct {
		name string
		p    physical.Predicate
		want bool
	}{
		{"nil matches", nil, true},
		{"eq", physical.Eq{Field: "_id", Value: "account:_id#741234"}, true},
		{"eq mismatch", physical.Eq{Field: "_id", Value: "account:_id#1"}, false},
		{"eq across int widths", physical.Eq{Field: "balance", Value: 10}, true},
		{"eq json number", physical.Eq{Field: "ratio", Value: json.Number("0.5")}, true},
		{"eq nil matches missing", physical.Eq{Field: "deleted", Value: nil}, true},
		{"starts with", physical.StartsWith{Field: "_id", Prefix: "account:_id#74"}, true},
		{"starts with non string", physical.StartsWith{Field: "balance", Prefix: "1"}, false},
		{"gt", physical.Compare{Field: "balance", Op: physical.Gt, Value: 9.5}, true},
		{"lte", physical.Compare{Field: "balance", Op: physical.Lte, Value: 10}, true},
		{"lt", physical.Compare{Field: "balance", Op: physical.Lt, Value: 10}, false},
		{"string range", physical.Compare{Field: "_id2", Op: physical.Gt, Value: "account:_id2#a"}, true},
		{"incomparable", physical.Compare{Field: "username", Op: physical.Gt, Value: 1}, false},
		{"missing field", physical.Compare{Field: "nope", Op: physical.Gte, Value: 0}, false},
		{"and", physical.And{
			physical.Eq{Field: "active", Value: true},
			physical.StartsWith{Field: "_id2", Prefix: "account:_id2#"},
		}, true},
		{"or keeps going", physical.Or{
			physical.Eq{Field: "_id", Value: "x"},
			physical.Eq{Field: "username", Value: "antonio"},
		}, true},
		{"empty or", physical.Or{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := physical.Match(tt.p, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllOf(t *testing.T) {
	a := physical.Eq{Field: "a", Value: 1}
	b := physical.Eq{Field: "b", Value: 2}

	assert.Nil(t, physical.AllOf(nil, nil))
	assert.Equal(t, a, physical.AllOf(nil, a))
	assert.Equal(t, physical.And{a, b}, physical.AllOf(physical.And{a}, nil, b))
}

func TestToMap(t *testing.T) {
	p := physical.Or{
		physical.StartsWith{Field: "_id", Prefix: "account:_id#741234≻accesstype"},
		physical.Eq{Field: "_id", Value: "account:_id#741234↠antonio"},
	}

	want := `{"$or":[{"_id":{"$startsWith":"account:_id#741234≻accesstype"}},{"_id":"account:_id#741234↠antonio"}]}`
	assert.JSONEq(t, want, physical.String(p))
	assert.Equal(t, []string{"_id", "_id"}, physical.Fields(p))
}

func TestUpdateApply(t *testing.T) {
	doc := physical.Document{"count": 1, "name": "a", "tmp": true}
	u := physical.Update{
		Set:         map[string]any{"name": "b", "profile.bio": "hi"},
		Unset:       []string{"tmp"},
		Inc:         map[string]any{"count": 2, "visits": 1.5},
		SetOnInsert: map[string]any{"created": "now", "name": "ignored"},
	}

	got, err := u.Apply(doc, false)
	require.NoError(t, err)
	assert.Equal(t, physical.Document{
		"count":   int64(3),
		"visits":  1.5,
		"name":    "b",
		"profile": map[string]any{"bio": "hi"},
	}, got)

	// Original untouched.
	assert.Equal(t, "a", doc["name"])

	inserted, err := u.Apply(nil, true)
	require.NoError(t, err)
	assert.Equal(t, "now", inserted["created"])
	assert.Equal(t, "b", inserted["name"])

	_, err = physical.Update{Inc: map[string]any{"name": 1}}.Apply(doc, false)
	require.ErrorIs(t, err, physical.ErrNotNumeric)
}

func TestUpdateFields(t *testing.T) {
	u := physical.Update{
		Set:   map[string]any{"b": 1},
		Unset: []string{"a"},
		Inc:   map[string]any{"c": 1},
	}
	assert.Equal(t, []string{"a", "b", "c"}, u.Fields())
	assert.False(t, u.IsEmpty())
	assert.True(t, physical.Update{}.IsEmpty())
}
