package keys

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Numeric is a constraint for all numeric types.
type Numeric interface {
	constraints.Integer | constraints.Float
}

// Number encodes a number so that the lexicographic order of the encoded
// strings matches numeric order.
//
// Layout (digits are decimal, no exponent):
//
//	0          → "5"
//	1234       → "7" + "4" + "1234"          (marker, integer digit count, digits)
//	0.25       → "7" + "0" + ".25"
//	12345678901 → "8" + "11" + "12345678901"  (two digit count from 10 digits on)
//	-1234      → "3" + "5" + "8765" + "~"    (nines complement of count and digits)
//
// Negative numbers end with "~" so a shorter negative never sorts before a
// longer one sharing its prefix.
func Number[T Numeric](v T) (string, error) {
	switch reflect.TypeOf(v).Kind() {
	case reflect.Float32:
		return encodeFloat(float64(v), 32)
	case reflect.Float64:
		return encodeFloat(float64(v), 64)
	}
	if v < 0 {
		return encodeDecimal(strconv.FormatInt(int64(v), 10))
	}
	return encodeDecimal(strconv.FormatUint(uint64(v), 10))
}

func encodeFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", unencodable(f, "NaN and Inf have no key order")
	}
	return encodeDecimal(strconv.FormatFloat(f, 'f', -1, bits))
}

func encodeJSONNumber(n json.Number) (string, error) {
	if i, err := n.Int64(); err == nil {
		return Number(i)
	}
	f, err := n.Float64()
	if err != nil {
		return "", unencodable(n, "not a number")
	}
	return encodeFloat(f, 64)
}

const maxIntDigits = 99

func encodeDecimal(s string) (string, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	intPart = strings.TrimLeft(intPart, "0")
	frac = strings.TrimRight(frac, "0")
	if intPart == "" && frac == "" {
		return "5", nil
	}

	k := len(intPart)
	if k > maxIntDigits {
		return "", unencodable(s, "more than %d integer digits", maxIntDigits)
	}

	var b strings.Builder
	if !neg {
		if k <= 9 {
			b.WriteByte('7')
			b.WriteByte(byte('0' + k))
		} else {
			b.WriteByte('8')
			b.WriteString(strconv.Itoa(k))
		}
		b.WriteString(intPart)
		if frac != "" {
			b.WriteByte('.')
			b.WriteString(frac)
		}
		return b.String(), nil
	}

	if k <= 9 {
		b.WriteByte('3')
		b.WriteByte(byte('0' + 9 - k))
	} else {
		b.WriteByte('2')
		b.WriteString(twoDigits(maxIntDigits - k))
	}
	b.WriteString(complement(intPart))
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(complement(frac))
	}
	b.WriteByte('~')
	return b.String(), nil
}

// DecodeNumber reverses Number. The result is the canonical decimal form
// (no exponent, no redundant zeros).
func DecodeNumber(term string) (json.Number, error) {
	bad := func(reason string) (json.Number, error) {
		return "", malformed(term, "number term: "+reason)
	}
	if term == "" {
		return bad("empty")
	}

	var (
		neg    bool
		k      int
		digits string
	)
	switch term[0] {
	case '5':
		if len(term) != 1 {
			return bad("zero has trailing data")
		}
		return "0", nil
	case '7':
		if len(term) < 2 || !isDigit(term[1]) {
			return bad("missing digit count")
		}
		k, digits = int(term[1]-'0'), term[2:]
	case '8':
		if len(term) < 3 {
			return bad("missing digit count")
		}
		n, err := strconv.Atoi(term[1:3])
		if err != nil {
			return bad("invalid digit count")
		}
		k, digits = n, term[3:]
	case '3':
		if len(term) < 3 || !isDigit(term[1]) || !strings.HasSuffix(term, "~") {
			return bad("invalid negative number")
		}
		neg = true
		k, digits = 9-int(term[1]-'0'), complement(term[2:len(term)-1])
	case '2':
		if len(term) < 4 || !strings.HasSuffix(term, "~") {
			return bad("invalid negative number")
		}
		n, err := strconv.Atoi(term[1:3])
		if err != nil {
			return bad("invalid digit count")
		}
		neg = true
		k, digits = maxIntDigits-n, complement(term[3:len(term)-1])
	default:
		return bad("unknown marker")
	}

	if len(digits) < k {
		return bad("truncated digits")
	}
	intPart, rest := digits[:k], digits[k:]
	if !allDigits(intPart) {
		return bad("invalid digit")
	}
	if rest != "" && (rest[0] != '.' || !allDigits(rest[1:]) || len(rest) == 1) {
		return bad("invalid fraction")
	}
	if intPart == "" {
		intPart = "0"
	}
	out := intPart + rest
	if neg {
		out = "-" + out
	}
	return json.Number(out), nil
}

func complement(digits string) string {
	b := []byte(digits)
	for i, c := range b {
		if isDigit(c) {
			b[i] = '9' - (c - '0')
		}
	}
	return string(b)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
