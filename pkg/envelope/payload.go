package envelope

import (
	"encoding"
	"encoding/json"
	"reflect"

	"github.com/bytedance/sonic"
)

// PayloadBytes coerces a producer value into frame payload bytes:
//   - []byte and json.RawMessage are used as-is,
//   - string is used as its UTF-8 bytes,
//   - encoding.BinaryMarshaler contributes its binary form,
//   - maps, structs, slices and arrays are serialized as JSON.
//
// Bare numbers and booleans are rejected, as are nil and values that cannot be
// serialized. Every failure is an *EncodeError.
func PayloadBytes(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, &EncodeError{Reason: "payload is nil"}
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case string:
		return []byte(p), nil
	case encoding.BinaryMarshaler:
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, &EncodeError{Reason: "payload binary marshal", Err: err}
		}
		return b, nil
	default:
		if isScalar(p) {
			return nil, &EncodeError{Reason: "payload must be bytes, a string or a structured value"}
		}
		b, err := sonic.Marshal(p)
		if err != nil {
			return nil, &EncodeError{Reason: "payload not representable as bytes", Err: err}
		}
		return b, nil
	}
}

func isScalar(v any) bool {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}
