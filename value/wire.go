package value

import "encoding/binary"

// scalarWidth returns the little-endian byte width of a scalar kind's wire
// representation, or 0 for variable-length kinds.
func scalarWidth(k Kind) int {
	switch k {
	case KindU8, KindI8:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32, KindF32:
		return 4
	case KindU64, KindI64, KindF64:
		return 8
	default:
		return 0
	}
}

// Encode renders v as little-endian wire bytes (spec.md §6 "all integers
// little-endian"): the raw scalar bits for scalar kinds, or the payload
// slice as-is for variable-length kinds.
func Encode(v Value) []byte {
	if w := scalarWidth(v.kind); w > 0 {
		b := make([]byte, w)
		putLE(b, v.scalar)
		return b
	}
	return v.bytes[:v.size]
}

func putLE(b []byte, bits uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(bits))
	case 8:
		binary.LittleEndian.PutUint64(b, bits)
	}
}

func getLE(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Decode is the inverse of Encode: given the wire Kind, the Retain bit
// carried alongside it (spec.md §6 "equal to the wire Retain bit"), and the
// raw payload bytes, reconstructs a Value. Variable-length kinds are always
// reconstructed as Const (the caller owns b's backing array at this point —
// typically a freshly-received wire buffer).
func Decode(k Kind, retain bool, b []byte) (Value, error) {
	flags := Flags(0)
	if retain {
		flags |= Retain
	}
	if w := scalarWidth(k); w > 0 {
		if len(b) < w {
			return Value{}, ErrNotScalar
		}
		return FromScalarBits(k, getLE(b[:w]), flags), nil
	}
	if k == KindNull {
		return Value{kind: KindNull, flags: flags}, nil
	}
	flags |= Const
	switch k {
	case KindStr:
		return Str(b, len(b), flags)
	case KindJSON:
		return JSON(b, len(b), flags)
	default:
		return Bin(b, len(b), flags)
	}
}
