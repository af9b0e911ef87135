// Package pagination implements cursor pagination over an index slot.
//
// A cursor records where a row sits in the scan order: its key on the slot
// the query is ordered on, and its identity to break ties between rows
// sharing that key. On the primary slot both are the same and the cursor is
// the document identity itself. Since slot encodings preserve the order of
// the logical values, resuming strictly after the cursor neither skips nor
// repeats rows.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/index/keys"
	"github.com/acksell/slotdb/physical"
)

var (
	// ErrInvalidCursor is returned for cursors not produced by this index.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrInvalidPageSize is returned when first is not positive.
	ErrInvalidPageSize = errors.New("page size must be positive")
)

// Direction of a scan.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// ParseDirection parses "asc" or "desc". The empty string is Ascending.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "asc", "ASC", "ascending":
		return Ascending, nil
	case "desc", "DESC", "descending":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("unknown sort direction %q", s)
}

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// BuildSort orders results on def's slot. A definition without a slot
// falls back to the document identity.
func BuildSort(def index.Definition, dir Direction) physical.Sort {
	field := string(def.Field)
	if field == "" {
		field = string(index.SlotID)
	}
	return physical.Sort{Field: field, Descending: dir == Descending}
}

// Cursor is the position of a row in a scan ordered on Key's slot.
type Cursor struct {
	Key string
	ID  string
}

// String encodes c. A cursor on the primary slot is the identity itself;
// others are opaque.
func (c Cursor) String() string {
	if c.Key == c.ID {
		return c.ID
	}
	b, _ := json.Marshal([2]string{c.Key, c.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

// ParseCursor decodes a cursor produced by Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	if _, err := keys.Decode(s); err == nil {
		return Cursor{Key: s, ID: s}, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}
	var parts [2]string
	if err := json.Unmarshal(b, &parts); err != nil {
		return Cursor{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return Cursor{Key: parts[0], ID: parts[1]}, nil
}

// ContinuationFilter returns the predicate selecting the rows after cursor
// in the given direction. An empty cursor yields a nil predicate.
//
// Rows sharing the cursor's key resume on identity, matching the order
// drivers return them in.
func ContinuationFilter(cursor string, cat *index.Catalog, def index.Definition, dir Direction) (physical.Predicate, error) {
	if cursor == "" {
		return nil, nil
	}
	c, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	slot := BuildSort(def, dir).Field
	if err := checkKey(c.Key, cat, slot); err != nil {
		return nil, err
	}
	if err := checkKey(c.ID, cat, string(index.SlotID)); err != nil {
		return nil, err
	}

	op := physical.Gt
	if dir == Descending {
		op = physical.Lt
	}
	if slot == string(index.SlotID) {
		if c.Key != c.ID {
			return nil, fmt.Errorf("%w: key and identity differ on %s", ErrInvalidCursor, slot)
		}
		return physical.Compare{Field: slot, Op: op, Value: c.ID}, nil
	}
	return physical.Or{
		physical.Compare{Field: slot, Op: op, Value: c.Key},
		physical.And{
			physical.Eq{Field: slot, Value: c.Key},
			physical.Compare{Field: string(index.SlotID), Op: op, Value: c.ID},
		},
	}, nil
}

// checkKey verifies key is a canonical key of cat on slot.
func checkKey(key string, cat *index.Catalog, slot string) error {
	d, err := keys.Decode(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	if d.TypeTag != cat.TypeTag() || d.Slot != slot {
		return fmt.Errorf("%w: cursor is for %s:%s, want %s:%s", ErrInvalidCursor, d.TypeTag, d.Slot, cat.TypeTag(), slot)
	}
	again, err := keys.Encode(d.TypeTag, d.Slot, terms(d.PK), terms(d.SK))
	if err != nil || again != key {
		return fmt.Errorf("%w: cursor is not a canonical key", ErrInvalidCursor)
	}
	return nil
}

func terms(ss []string) []any {
	if ss == nil {
		return nil
	}
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Limit is the number of rows to fetch for a page of size first; one extra
// row detects whether a next page exists.
func Limit(first int) int {
	return first + 1
}

// Edge is one row of a page. ID is the row's document identity.
type Edge struct {
	Cursor string            `json:"cursor"`
	ID     string            `json:"id"`
	Node   physical.Document `json:"node"`
}

// PageInfo describes the position of a page.
//
// HasPreviousPage is true whenever an after cursor was given. It is not
// verified against the store: a stale cursor still reports a previous
// page.
type PageInfo struct {
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
}

// Connection is a page of rows.
type Connection struct {
	Edges    []Edge   `json:"edges"`
	PageInfo PageInfo `json:"pageInfo"`
}

// Page builds a connection from rows fetched with Limit(first), ordered on
// slot.
func Page(rows []physical.Document, first int, after string, slot index.Slot) (Connection, error) {
	if first <= 0 {
		return Connection{}, ErrInvalidPageSize
	}
	conn := Connection{PageInfo: PageInfo{HasPreviousPage: after != ""}}
	if len(rows) > first {
		conn.PageInfo.HasNextPage = true
		rows = rows[:first]
	}
	conn.Edges = make([]Edge, 0, len(rows))
	for i, row := range rows {
		key, ok := row[string(slot)].(string)
		if !ok || key == "" || row.ID() == "" {
			return Connection{}, fmt.Errorf("row %d has no %s value to use as cursor", i, slot)
		}
		cursor := Cursor{Key: key, ID: row.ID()}
		conn.Edges = append(conn.Edges, Edge{Cursor: cursor.String(), ID: row.ID(), Node: row})
	}
	if n := len(conn.Edges); n > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[n-1].Cursor
	}
	return conn, nil
}
