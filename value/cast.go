package value

import (
	"errors"
	"math"

	"github.com/golobby/cast"
)

// ErrNotScalar is returned by the As* accessors when called on a
// variable-length or Null value.
var ErrNotScalar = errors.New("value: not a scalar kind")

// raw returns the Go-native representation of a scalar value suitable for
// handing to the cast library, or an error for non-scalar kinds.
func (v Value) raw() (interface{}, error) {
	switch v.kind {
	case KindF32:
		return math.Float32frombits(uint32(v.scalar)), nil
	case KindF64:
		return math.Float64frombits(v.scalar), nil
	case KindU8:
		return uint8(v.scalar), nil
	case KindU16:
		return uint16(v.scalar), nil
	case KindU32:
		return uint32(v.scalar), nil
	case KindU64:
		return v.scalar, nil
	case KindI8:
		return int8(v.scalar), nil
	case KindI16:
		return int16(v.scalar), nil
	case KindI32:
		return int32(v.scalar), nil
	case KindI64:
		return int64(v.scalar), nil
	default:
		return nil, ErrNotScalar
	}
}

// AsInt64 coerces any scalar kind to int64, used by the error-dispatch path
// (publishing an integer status code to "topic#") and by metadata handling.
func (v Value) AsInt64() (int64, error) {
	raw, err := v.raw()
	if err != nil {
		return 0, err
	}
	return cast.ToInt64(raw)
}

// AsFloat64 coerces any scalar kind to float64.
func (v Value) AsFloat64() (float64, error) {
	raw, err := v.raw()
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64(raw)
}

// AsString renders Str/Json payloads as a string, or coerces a scalar via
// the cast library for diagnostic/logging use.
func (v Value) AsString() (string, error) {
	if v.kind == KindStr || v.kind == KindJSON {
		return string(v.bytes[:v.size]), nil
	}
	raw, err := v.raw()
	if err != nil {
		return "", err
	}
	return cast.ToString(raw)
}
