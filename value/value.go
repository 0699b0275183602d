// Package value implements the tagged-union Value type carried by every
// pub/sub message: scalars, binary/string/JSON payloads, and the Retain/Const
// flags that govern how the engine stores and dispatches them.
package value

import (
	"errors"
	"math"
)

// Kind identifies the active variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindStr
	KindJSON
	KindBin
	KindF32
	KindF64
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
)

// String returns a short name for the kind, used in logging and error text.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindStr:
		return "str"
	case KindJSON:
		return "json"
	case KindBin:
		return "bin"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	default:
		return "unknown"
	}
}

// IsVariableLength reports whether the kind carries a byte payload rather
// than an inline scalar.
func (k Kind) IsVariableLength() bool {
	return k == KindStr || k == KindJSON || k == KindBin
}

// Flags are the per-value bits from spec.md §3.
type Flags uint8

const (
	// Retain instructs the engine to persist this value as the topic's
	// last-known value for future subscribers.
	Retain Flags = 1 << iota
	// Const means the payload storage is caller-owned and stable for the
	// value's lifetime; the engine may borrow it instead of copying.
	Const
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

var (
	// ErrRetainRequiresConst is returned when a variable-length Retain
	// value is not also Const — the engine refuses to retain storage it
	// does not own and the caller has not promised to keep alive.
	ErrRetainRequiresConst = errors.New("value: variable-length Retain payload must be Const")
)

// Value is the tagged union carried by every publish. Once constructed it is
// immutable; callers must not mutate a Bytes() slice obtained from a Value.
type Value struct {
	kind   Kind
	flags  Flags
	scalar uint64 // bit pattern for scalar kinds
	bytes  []byte // payload for variable-length kinds
	size   int    // explicit length; 0 lets Str/Json derive from NUL
}

// Null returns the zero value — the empty/absent variant.
func Null() Value { return Value{kind: KindNull} }

// Kind returns the active variant.
func (v Value) Kind() Kind { return v.kind }

// Flags returns the Retain/Const bit set.
func (v Value) Flags() Flags { return v.flags }

// Size returns the declared payload length for variable-length kinds, or 0
// for scalars.
func (v Value) Size() int { return v.size }

// Bytes returns the payload for variable-length kinds. It is the zero-copy
// borrowed slice when Const is set; callers must treat it as read-only.
func (v Value) Bytes() []byte { return v.bytes }

// newVar constructs a variable-length value, deriving size from NUL
// termination for Str/Json when size is given as 0, per spec.md §4.1.
func newVar(k Kind, b []byte, size int, flags Flags) (Value, error) {
	if flags.Has(Retain) && !flags.Has(Const) {
		return Value{}, ErrRetainRequiresConst
	}
	if size == 0 && (k == KindStr || k == KindJSON) {
		size = len(b)
		for i, c := range b {
			if c == 0 {
				size = i
				break
			}
		}
	}
	return Value{kind: k, flags: flags, bytes: b, size: size}, nil
}

// Str constructs a KindStr value. If size is 0 the length is derived from
// NUL-termination within b (or len(b) if none is found).
func Str(b []byte, size int, flags Flags) (Value, error) { return newVar(KindStr, b, size, flags) }

// JSON constructs a KindJSON value with the same size rules as Str.
func JSON(b []byte, size int, flags Flags) (Value, error) { return newVar(KindJSON, b, size, flags) }

// Bin constructs a KindBin value; size is always explicit (no NUL rule).
func Bin(b []byte, size int, flags Flags) (Value, error) {
	if flags.Has(Retain) && !flags.Has(Const) {
		return Value{}, ErrRetainRequiresConst
	}
	return Value{kind: KindBin, flags: flags, bytes: b, size: size}, nil
}

func F32(f float32, flags Flags) Value {
	return Value{kind: KindF32, flags: flags, scalar: uint64(math.Float32bits(f))}
}

func F64(f float64, flags Flags) Value {
	return Value{kind: KindF64, flags: flags, scalar: math.Float64bits(f)}
}

func U8(u uint8, flags Flags) Value  { return Value{kind: KindU8, flags: flags, scalar: uint64(u)} }
func U16(u uint16, flags Flags) Value { return Value{kind: KindU16, flags: flags, scalar: uint64(u)} }
func U32(u uint32, flags Flags) Value { return Value{kind: KindU32, flags: flags, scalar: uint64(u)} }
func U64(u uint64, flags Flags) Value { return Value{kind: KindU64, flags: flags, scalar: u} }

func I8(i int8, flags Flags) Value  { return Value{kind: KindI8, flags: flags, scalar: uint64(uint8(i))} }
func I16(i int16, flags Flags) Value {
	return Value{kind: KindI16, flags: flags, scalar: uint64(uint16(i))}
}
func I32(i int32, flags Flags) Value {
	return Value{kind: KindI32, flags: flags, scalar: uint64(uint32(i))}
}
func I64(i int64, flags Flags) Value { return Value{kind: KindI64, flags: flags, scalar: uint64(i)} }

// Equal implements the dedup rule from spec.md §4.3.3: same kind, same
// flags, and same bytes/scalar bits.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind || v.flags != other.flags {
		return false
	}
	if v.kind.IsVariableLength() {
		if v.size != other.size {
			return false
		}
		return bytesEqual(v.bytes[:v.size], other.bytes[:other.size])
	}
	return v.scalar == other.scalar
}

// ScalarBits returns the raw bit pattern backing a scalar-kind Value, for
// wire encoding. Meaningless for variable-length kinds.
func (v Value) ScalarBits() uint64 { return v.scalar }

// FromScalarBits reconstructs a scalar Value from a wire-decoded bit
// pattern, the inverse of ScalarBits.
func FromScalarBits(k Kind, bits uint64, flags Flags) Value {
	return Value{kind: k, flags: flags, scalar: bits}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
