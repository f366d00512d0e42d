package envelope

import (
	"errors"
	"fmt"
)

var (
	// ErrEncode matches every *EncodeError.
	ErrEncode = errors.New("envelope encode failed")
	// ErrMalformedFrame matches decode failures caused by bytes that do not parse.
	ErrMalformedFrame = errors.New("malformed envelope frame")
	// ErrMissingField matches decode failures caused by an absent required field.
	ErrMissingField = errors.New("envelope frame missing required field")
)

// EncodeError reports a payload or timestamp that cannot be represented in a frame.
type EncodeError struct {
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope encode: %s: %v", e.Reason, e.Err)
	}
	return "envelope encode: " + e.Reason
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// DecodeErrorKind distinguishes unparseable frames from incomplete ones.
type DecodeErrorKind int

const (
	KindMalformed DecodeErrorKind = iota
	KindMissingField
)

func (k DecodeErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindMissingField:
		return "missing_field"
	default:
		return "unknown"
	}
}

// DecodeError reports a frame that could not be turned back into an envelope.
// Field is set for KindMissingField and, when known, for KindMalformed.
type DecodeError struct {
	Kind  DecodeErrorKind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == KindMissingField:
		return fmt.Sprintf("envelope decode: missing required field %q", e.Field)
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("envelope decode: malformed field %q: %v", e.Field, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("envelope decode: malformed frame: %v", e.Err)
	default:
		return "envelope decode: malformed frame"
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformedFrame:
		return e.Kind == KindMalformed
	case ErrMissingField:
		return e.Kind == KindMissingField
	}
	return false
}

func malformed(field string, err error) *DecodeError {
	return &DecodeError{Kind: KindMalformed, Field: field, Err: err}
}

func missing(field string) *DecodeError {
	return &DecodeError{Kind: KindMissingField, Field: field}
}
