// Package keys implements the composite key grammar used to store every
// logical index of an entity in a single physical field.
//
// A key looks like
//
//	typeTag ":" slot "#" PK1 ≻ PK2 ... [↠ SK1 ≻ SK2 ...]
//
// PrefixSep ("≻") separates terms and marks relation fan-out prefixes,
// SortSep ("↠") marks the start of the sort key terms. Both glyphs are
// reserved: a value containing either of them can't be encoded.
package keys

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	// PrefixSep separates key terms and relation fan-out markers.
	PrefixSep = "≻"
	// SortSep separates the partition terms from the sort terms.
	SortSep = "↠"

	typeSep = ":"
	slotSep = "#"

	// Version of the key grammar. Changing either glyph or the scalar
	// encodings requires a bump and a data migration.
	Version = 1

	// TimeLayout is fixed width so timestamps sort chronologically.
	TimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Decoded holds the parts of an encoded key. Terms are in their encoded
// form; use DecodeNumber or DecodeTime to recover typed values.
type Decoded struct {
	TypeTag string
	Slot    string
	PK      []string
	SK      []string
}

// HasSK reports whether the key carried the sort separator.
func (d Decoded) HasSK() bool {
	return d.SK != nil
}

// TypeTag returns the type tag used for an entity name.
func TypeTag(entity string) string {
	return strings.ToLower(entity)
}

// Header returns the "typeTag:slot#" part shared by every key of a slot.
func Header(typeTag, slot string) string {
	return typeTag + typeSep + slot + slotSep
}

// Encode builds a key from the PK and SK values.
//
// A nil value ends its tuple: the terms after it don't participate and the
// result is a prefix form usable in starts-with queries. SK terms are only
// appended when every PK term is present.
func Encode(typeTag, slot string, pk, sk []any) (string, error) {
	if err := validateHeader(typeTag, slot); err != nil {
		return "", err
	}
	pkTerms, err := encodeTerms(pk)
	if err != nil {
		return "", err
	}
	if len(pkTerms) == 0 {
		return "", fmt.Errorf("%w: %s:%s has no leading PK value", ErrEmptyKey, typeTag, slot)
	}

	var b strings.Builder
	b.WriteString(Header(typeTag, slot))
	b.WriteString(strings.Join(pkTerms, PrefixSep))
	if len(pkTerms) < len(pk) {
		return b.String(), nil
	}

	skTerms, err := encodeTerms(sk)
	if err != nil {
		return "", err
	}
	if len(skTerms) > 0 {
		b.WriteString(SortSep)
		b.WriteString(strings.Join(skTerms, PrefixSep))
	}
	return b.String(), nil
}

// EncodeRelation appends the fan-out marker for a related entity to key.
// Every key of a child stored under the parent starts with the result.
func EncodeRelation(key, entity string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	tag := TypeTag(entity)
	if err := validateTerm(tag); err != nil {
		return "", err
	}
	return key + PrefixSep + tag, nil
}

// EncodeTerm encodes a single scalar. ok is false for nil.
func EncodeTerm(v any) (term string, ok bool, err error) {
	if v == nil {
		return "", false, nil
	}
	switch x := v.(type) {
	case string:
		term = x
	case bool:
		term = strconv.FormatBool(x)
	case time.Time:
		term = x.UTC().Format(TimeLayout)
	case *time.Time:
		if x == nil {
			return "", false, nil
		}
		term = x.UTC().Format(TimeLayout)
	case json.Number:
		term, err = encodeJSONNumber(x)
	case int:
		term, err = Number(x)
	case int8:
		term, err = Number(x)
	case int16:
		term, err = Number(x)
	case int32:
		term, err = Number(x)
	case int64:
		term, err = Number(x)
	case uint:
		term, err = Number(x)
	case uint8:
		term, err = Number(x)
	case uint16:
		term, err = Number(x)
	case uint32:
		term, err = Number(x)
	case uint64:
		term, err = Number(x)
	case float32:
		term, err = Number(x)
	case float64:
		term, err = Number(x)
	case fmt.Stringer:
		term = x.String()
	default:
		term, err = encodeKind(v)
	}
	if err != nil {
		return "", false, err
	}
	if err := validateValue(v, term); err != nil {
		return "", false, err
	}
	return term, true, nil
}

// encodeKind handles named types whose underlying kind is a scalar.
func encodeKind(v any) (string, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())
	}
	return "", unencodable(v, "unsupported type")
}

func encodeTerms(values []any) ([]string, error) {
	terms := make([]string, 0, len(values))
	for _, v := range values {
		term, ok, err := EncodeTerm(v)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func validateValue(v any, term string) error {
	if term == "" {
		return unencodable(v, "empty string")
	}
	if strings.Contains(term, PrefixSep) || strings.Contains(term, SortSep) {
		return unencodable(v, "contains a reserved separator glyph")
	}
	return nil
}

func validateTerm(term string) error {
	return validateValue(term, term)
}

func validateHeader(typeTag, slot string) error {
	if typeTag == "" || slot == "" {
		return unencodable(typeTag+typeSep+slot, "empty type tag or slot")
	}
	if strings.ContainsAny(typeTag, typeSep+slotSep+PrefixSep+SortSep) {
		return unencodable(typeTag, "type tag contains a reserved character")
	}
	if strings.ContainsAny(slot, typeSep+slotSep+PrefixSep+SortSep) {
		return unencodable(slot, "slot contains a reserved character")
	}
	return nil
}

// Decode splits an encoded key into its parts.
func Decode(key string) (Decoded, error) {
	typeTag, rest, ok := strings.Cut(key, typeSep)
	if !ok || typeTag == "" {
		return Decoded{}, malformed(key, "missing type tag")
	}
	slot, body, ok := strings.Cut(rest, slotSep)
	if !ok || slot == "" {
		return Decoded{}, malformed(key, "missing slot")
	}
	if strings.ContainsAny(typeTag+slot, PrefixSep+SortSep) {
		return Decoded{}, malformed(key, "separator before key body")
	}
	if body == "" {
		return Decoded{}, malformed(key, "empty key body")
	}

	d := Decoded{TypeTag: typeTag, Slot: slot}
	pkPart, skPart, hasSK := strings.Cut(body, SortSep)
	if hasSK && strings.Contains(skPart, SortSep) {
		return Decoded{}, malformed(key, "repeated sort separator")
	}

	var err error
	if d.PK, err = splitTerms(key, pkPart); err != nil {
		return Decoded{}, err
	}
	if hasSK {
		if d.SK, err = splitTerms(key, skPart); err != nil {
			return Decoded{}, err
		}
	}
	return d, nil
}

func splitTerms(key, part string) ([]string, error) {
	terms := strings.Split(part, PrefixSep)
	for _, t := range terms {
		if t == "" {
			return nil, malformed(key, "empty term")
		}
	}
	return terms, nil
}

// DecodeTime reverses the time.Time term encoding.
func DecodeTime(term string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, term)
	if err != nil {
		return time.Time{}, malformed(term, "time term: "+err.Error())
	}
	return t, nil
}
