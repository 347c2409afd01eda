// Package polyline implements the compact string form used to move stroke
// geometry across the wire: the delta + zig-zag + base64-ish "encoded polyline"
// scheme, applied to (x, y) pairs at a fixed decimal precision.
package polyline

import (
	"fmt"
	"math"
	"strings"
)

// Precision is the number of decimal digits preserved by Encode.
const Precision = 5

// MaxCoordinate bounds the magnitude of every coordinate the codec carries.
// Larger values, NaN and infinities have no encoding.
const MaxCoordinate = 1e9

var (
	factor       = math.Pow10(Precision)
	maxQuantized = int64(MaxCoordinate * factor)
)

// Point is a surface-local coordinate pair.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DecodeError reports a malformed encoded polyline.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed polyline at offset %d: %s", e.Offset, e.Reason)
}

// InRange reports whether v can be encoded.
func InRange(v float64) bool {
	return !math.IsNaN(v) && v >= -MaxCoordinate && v <= MaxCoordinate
}

// Round snaps v to the codec precision, which is what a round trip returns.
func Round(v float64) float64 {
	return float64(quantize(v)) / factor
}

func quantize(v float64) int64 {
	return int64(math.Round(v * factor))
}

// Encode panics if a coordinate is out of range; callers validate points as
// they are created.
func Encode(points []Point) string {
	var sb strings.Builder
	sb.Grow(len(points) * 8)
	var prevX, prevY int64
	for _, p := range points {
		if !InRange(p.X) || !InRange(p.Y) {
			panic(fmt.Sprintf("polyline: point (%v, %v) is outside ±%g", p.X, p.Y, MaxCoordinate))
		}
		x, y := quantize(p.X), quantize(p.Y)
		writeValue(&sb, x-prevX)
		writeValue(&sb, y-prevY)
		prevX, prevY = x, y
	}
	return sb.String()
}

func writeValue(sb *strings.Builder, delta int64) {
	v := delta << 1
	if delta < 0 {
		v = ^v
	}
	u := uint64(v)
	for u >= 0x20 {
		sb.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	sb.WriteByte(byte(u + 63))
}

// Decode parses an encoded polyline. The empty string decodes to no points;
// anything that is not a whole number of coordinate pairs is a *DecodeError.
func Decode(encoded string) ([]Point, error) {
	points := make([]Point, 0, len(encoded)/4)
	var x, y int64
	offset := 0
	for offset < len(encoded) {
		dx, next, err := readValue(encoded, offset)
		if err != nil {
			return nil, err
		}
		if next >= len(encoded) {
			return nil, &DecodeError{Offset: next, Reason: "coordinate pair is missing its y value"}
		}
		dy, next, err := readValue(encoded, next)
		if err != nil {
			return nil, err
		}
		// bounding each delta keeps the running sums from overflowing
		if dx < -2*maxQuantized || dx > 2*maxQuantized || dy < -2*maxQuantized || dy > 2*maxQuantized {
			return nil, &DecodeError{Offset: offset, Reason: "coordinate out of range"}
		}
		x += dx
		y += dy
		if x < -maxQuantized || x > maxQuantized || y < -maxQuantized || y > maxQuantized {
			return nil, &DecodeError{Offset: offset, Reason: "coordinate out of range"}
		}
		points = append(points, Point{X: float64(x) / factor, Y: float64(y) / factor})
		offset = next
	}
	return points, nil
}

func readValue(encoded string, offset int) (int64, int, error) {
	var result uint64
	var shift uint
	for i := offset; ; i++ {
		if i >= len(encoded) {
			return 0, i, &DecodeError{Offset: i, Reason: "truncated value"}
		}
		c := encoded[i]
		if c < 63 || c > 63+0x3f {
			return 0, i, &DecodeError{Offset: i, Reason: fmt.Sprintf("invalid character %q", c)}
		}
		b := uint64(c - 63)
		// the chunk at shift 60 has room for four bits and must be the last
		if shift > 60 || (shift == 60 && b > 0x0f) {
			return 0, i, &DecodeError{Offset: i, Reason: "value overflows 64 bits"}
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			v := int64(result >> 1)
			if result&1 != 0 {
				v = ^v
			}
			return v, i + 1, nil
		}
	}
}
