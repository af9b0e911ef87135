package keys

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyKey is returned when a key has no leading PK term to encode.
	ErrEmptyKey = errors.New("empty key")
	// ErrUnencodableValue is returned for values that can't be part of a key.
	ErrUnencodableValue = errors.New("unencodable key value")
	// ErrMalformedKey is returned when decoding a string that isn't a valid key.
	ErrMalformedKey = errors.New("malformed key")
)

// UnencodableValueError describes a value rejected by the codec.
type UnencodableValueError struct {
	Value  any
	Reason string
}

func (e *UnencodableValueError) Error() string {
	return fmt.Sprintf("%v: %T %q: %s", ErrUnencodableValue, e.Value, fmt.Sprint(e.Value), e.Reason)
}

func (e *UnencodableValueError) Unwrap() error {
	return ErrUnencodableValue
}

// MalformedKeyError describes a string that could not be decoded.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("%v %q: %s", ErrMalformedKey, e.Key, e.Reason)
}

func (e *MalformedKeyError) Unwrap() error {
	return ErrMalformedKey
}

func unencodable(v any, format string, args ...any) error {
	return &UnencodableValueError{Value: v, Reason: fmt.Sprintf(format, args...)}
}

func malformed(key string, reason string) error {
	return &MalformedKeyError{Key: key, Reason: reason}
}
