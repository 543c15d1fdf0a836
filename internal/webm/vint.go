package webm

// EBML variable-length integers. The leading bits of the first byte encode
// the width: 1xxxxxxx is one byte, 01xxxxxx two, 001xxxxx three. Values that
// don't fit three bytes are written as the 8-byte unknown-size marker, which
// standard demuxers treat as "read until the next top-level element".

const (
	maxVINT1 = 0x7F
	maxVINT2 = 0x3FFF
	maxVINT3 = 0x1FFFFF
)

// unknownSize is the 8-byte VINT with all value bits set.
var unknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// AppendVINT appends the smallest VINT encoding of v to dst.
func AppendVINT(dst []byte, v uint64) []byte {
	switch {
	case v < maxVINT1:
		return append(dst, 0x80|byte(v))
	case v < maxVINT2:
		return append(dst, 0x40|byte(v>>8), byte(v))
	case v < maxVINT3:
		return append(dst, 0x20|byte(v>>16), byte(v>>8), byte(v))
	default:
		return append(dst, unknownSize...)
	}
}

// DecodeVINT reads one VINT from b. It returns the decoded value, the number
// of bytes consumed, and whether the encoding was the unknown-size marker.
// n == 0 means b held no complete VINT.
func DecodeVINT(b []byte) (v uint64, n int, unknown bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	width := 0
	for mask := byte(0x80); mask > 0; mask >>= 1 {
		width++
		if b[0]&mask != 0 {
			break
		}
	}
	if b[0] == 0 || len(b) < width {
		return 0, 0, false
	}
	v = uint64(b[0] &^ (0x80 >> (width - 1)))
	allOnes := v == uint64(0xFF>>width)
	for i := 1; i < width; i++ {
		v = v<<8 | uint64(b[i])
		allOnes = allOnes && b[i] == 0xFF
	}
	return v, width, allOnes
}
