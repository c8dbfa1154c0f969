package tensor

import "math"

// DType enumerates the element types a tensor binding or channel may carry.
// Simulation always computes in float32; Float16 affects the declared wire
// width and the storage conversion only.
type DType int

const (
	DTypeInvalid DType = iota
	Float32
	Float16
)

// String returns a human-readable identifier for debugging/logging.
func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "invalid"
	}
}

// Bytes returns the storage size of one element.
func (d DType) Bytes() int {
	switch d {
	case Float32:
		return 4
	case Float16:
		return 2
	default:
		return 0
	}
}

// Float16ToFloat32 expands an IEEE 754 binary16 value, including subnormals,
// infinities and NaN payloads.
func Float16ToFloat32(value uint16) float32 {
	sign := uint32(value>>15) & 0x1
	exponent := uint32(value>>10) & 0x1F
	mantissa := uint32(value & 0x3FF)

	var bits uint32
	if exponent == 0 {
		if mantissa == 0 {
			bits = sign << 31
		} else {
			shifts := uint32(0)
			for (mantissa & 0x400) == 0 {
				mantissa <<= 1
				shifts++
			}
			mantissa &= 0x3FF
			// The normalized value is 1.f x 2^(-14-shifts).
			exponent = (127 - 15 + 1) - shifts
			bits = (sign << 31) | (exponent << 23) | (mantissa << 13)
		}
	} else if exponent == 0x1F {
		if mantissa == 0 {
			bits = (sign << 31) | 0x7F800000
		} else {
			bits = (sign << 31) | 0x7F800000 | (mantissa << 13)
		}
	} else {
		exponent = exponent + (127 - 15)
		bits = (sign << 31) | (exponent << 23) | (mantissa << 13)
	}

	return math.Float32frombits(bits)
}

// Float32ToFloat16 narrows to IEEE 754 binary16, saturating to infinity and
// flushing values below the subnormal range to signed zero.
func Float32ToFloat16(value float32) uint16 {
	bits := math.Float32bits(value)

	sign := uint16((bits >> 31) & 0x1)
	exponent := int((bits >> 23) & 0xFF)
	mantissa := uint32(bits & 0x7FFFFF)

	var half uint16
	if exponent == 0xFF {
		if mantissa == 0 {
			half = (sign << 15) | 0x7C00
		} else {
			half = (sign << 15) | 0x7C00 | uint16(mantissa>>13)
		}
	} else if exponent > 142 {
		half = (sign << 15) | 0x7C00
	} else if exponent < 113 {
		if exponent < 103 {
			half = sign << 15
		} else {
			mantissa |= 0x800000
			shift := uint(113 - exponent)
			halfMantissa := uint16(mantissa >> (shift + 13))
			half = (sign << 15) | halfMantissa
		}
	} else {
		halfExponent := uint16(exponent-112) << 10
		halfMantissa := uint16(mantissa >> 13)
		half = (sign << 15) | halfExponent | halfMantissa
	}

	return half
}
