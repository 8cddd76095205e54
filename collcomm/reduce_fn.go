package collcomm

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// ReduceBytes computes dst[i] = a[i] op b[i] for buffers
// of little-endian elements of type dt.
//
// dst may alias a or b.
func ReduceBytes(dst, a, b []byte, dt DataType, op ReduceOp) error {
	if len(a) != len(b) || len(dst) != len(a) {
		return ParameterErrorf("mismatching reduce lengths: dst=%d a=%d b=%d", len(dst), len(a), len(b))
	}
	if op < Sum || op > Min {
		return NotSupportedErrorf("reduce op %s", op)
	}
	le := binary.LittleEndian
	switch dt {
	case Int8:
		return reduceElems(dst, a, b, 1, op,
			func(p []byte) int8 { return int8(p[0]) },
			func(p []byte, v int8) { p[0] = byte(v) })
	case Uint8:
		return reduceElems(dst, a, b, 1, op,
			func(p []byte) uint8 { return p[0] },
			func(p []byte, v uint8) { p[0] = v })
	case Int16:
		return reduceElems(dst, a, b, 2, op,
			func(p []byte) int16 { return int16(le.Uint16(p)) },
			func(p []byte, v int16) { le.PutUint16(p, uint16(v)) })
	case Int32:
		return reduceElems(dst, a, b, 4, op,
			func(p []byte) int32 { return int32(le.Uint32(p)) },
			func(p []byte, v int32) { le.PutUint32(p, uint32(v)) })
	case Int64:
		return reduceElems(dst, a, b, 8, op,
			func(p []byte) int64 { return int64(le.Uint64(p)) },
			func(p []byte, v int64) { le.PutUint64(p, uint64(v)) })
	case Float16:
		// Accumulate in float32 and round once per element.
		return reduceElems(dst, a, b, 2, op,
			func(p []byte) float32 { return float16.Frombits(le.Uint16(p)).Float32() },
			func(p []byte, v float32) { le.PutUint16(p, float16.Fromfloat32(v).Bits()) })
	case Float32:
		return reduceElems(dst, a, b, 4, op,
			func(p []byte) float32 { return math.Float32frombits(le.Uint32(p)) },
			func(p []byte, v float32) { le.PutUint32(p, math.Float32bits(v)) })
	case Float64:
		return reduceElems(dst, a, b, 8, op,
			func(p []byte) float64 { return math.Float64frombits(le.Uint64(p)) },
			func(p []byte, v float64) { le.PutUint64(p, math.Float64bits(v)) })
	}
	return NotSupportedErrorf("reduce data type %s", dt)
}

func reduceElems[T constraints.Integer | constraints.Float](dst, a, b []byte, size int, op ReduceOp,
	get func([]byte) T, put func([]byte, T)) error {
	if len(a)%size != 0 {
		return ParameterErrorf("buffer of %d bytes is not a multiple of the element size %d", len(a), size)
	}
	for i := 0; i < len(a); i += size {
		x, y := get(a[i:i+size]), get(b[i:i+size])
		put(dst[i:i+size], applyOp(x, y, op))
	}
	return nil
}

func applyOp[T constraints.Integer | constraints.Float](x, y T, op ReduceOp) T {
	switch op {
	case Prod:
		return x * y
	case Max:
		if y > x {
			return y
		}
		return x
	case Min:
		if y < x {
			return y
		}
		return x
	}
	return x + y
}
