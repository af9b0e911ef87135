package physical

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Match evaluates p against doc. A nil predicate matches every document.
// Drivers without a native query language (or with native gaps) use it to
// evaluate predicates in memory.
func Match(p Predicate, doc Document) (bool, error) {
	switch x := p.(type) {
	case nil:
		return true, nil
	case And:
		for _, c := range x {
			ok, err := Match(c, doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, c := range x {
			ok, err := Match(c, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Eq:
		v, ok := doc.Get(x.Field)
		if !ok || v == nil {
			return x.Value == nil, nil
		}
		return Equal(v, x.Value), nil
	case StartsWith:
		v, ok := doc.Get(x.Field)
		if !ok {
			return false, nil
		}
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, x.Prefix), nil
	case Compare:
		v, ok := doc.Get(x.Field)
		if !ok || v == nil {
			return false, nil
		}
		c, ok := CompareValues(v, x.Value)
		if !ok {
			return false, nil
		}
		switch x.Op {
		case Gt:
			return c > 0, nil
		case Gte:
			return c >= 0, nil
		case Lt:
			return c < 0, nil
		case Lte:
			return c <= 0, nil
		}
		return false, fmt.Errorf("unknown comparator %q", x.Op)
	}
	return false, fmt.Errorf("unknown predicate %T", p)
}

// Equal compares two field values. Numbers compare by value regardless of
// their Go type, since decoders disagree on integer widths.
func Equal(a, b any) bool {
	if c, ok := CompareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two values of the same family (strings, numbers,
// booleans, times). ok is false when the values are not comparable.
func CompareValues(a, b any) (c int, ok bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}

	if ai, ok := ToInt64(a); ok {
		if bi, ok := ToInt64(b); ok {
			return cmp(ai, bi), true
		}
	}
	af, aok := ToFloat64(a)
	bf, bok := ToFloat64(b)
	if !aok || !bok {
		return 0, false
	}
	return cmp(af, bf), true
}

func cmp[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// IsNumber reports whether v is a numeric value.
func IsNumber(v any) bool {
	_, ok := ToFloat64(v)
	return ok
}

// ToInt64 converts integer values. Floats and overflowing uint64s are
// rejected.
func ToInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), uint64(x) <= 1<<63-1
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= 1<<63-1
	case json.Number:
		i, err := x.Int64()
		return i, err == nil
	}
	return 0, false
}

// ToFloat64 converts any numeric value.
func ToFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// Add sums two numbers, staying integral when both operands are integers.
func Add(a, b any) (any, error) {
	if ai, ok := ToInt64(a); ok {
		if bi, ok := ToInt64(b); ok {
			return ai + bi, nil
		}
	}
	af, aok := ToFloat64(a)
	bf, bok := ToFloat64(b)
	if !aok || !bok {
		return nil, fmt.Errorf("%w: cannot add %T and %T", ErrNotNumeric, a, b)
	}
	return af + bf, nil
}
