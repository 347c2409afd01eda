package polyline

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownVector(t *testing.T) {
	points := []Point{{38.5, -120.2}, {40.7, -120.95}, {43.252, -126.453}}
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", Encode(points))

	decoded, err := Decode("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i := range points {
		assert.InDelta(t, points[i].X, decoded[i].X, 1e-9)
		assert.InDelta(t, points[i].Y, decoded[i].Y, 1e-9)
	}
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for iteration := 0; iteration < 500; iteration++ {
		n := 1 + r.Intn(64)
		points := make([]Point, n)
		for i := range points {
			points[i] = Point{
				X: Round((r.Float64() - 0.5) * 20000),
				Y: Round((r.Float64() - 0.5) * 20000),
			}
		}
		decoded, err := Decode(Encode(points))
		require.NoError(t, err)
		require.Len(t, decoded, n)
		for i := range points {
			assert.InDelta(t, points[i].X, decoded[i].X, 1e-9, "x of point %d", i)
			assert.InDelta(t, points[i].Y, decoded[i].Y, 1e-9, "y of point %d", i)
		}
	}
}

func TestRoundTripIntegerPixels(t *testing.T) {
	points := []Point{{0, 0}, {10, 10}, {20, 0}, {-5, 1024}}
	decoded, err := Decode(Encode(points))
	require.NoError(t, err)
	assert.Equal(t, points, decoded)
}

func TestEncodeRoundsToPrecision(t *testing.T) {
	decoded, err := Decode(Encode([]Point{{1.234567891, -0.000004}}))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.InDelta(t, 1.23457, decoded[0].X, 1e-9)
	assert.InDelta(t, 0, decoded[0].Y, 1e-9)
}

func TestDecodeEmpty(t *testing.T) {
	points, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestDecodeMalformed(t *testing.T) {
	for name, input := range map[string]string{
		"odd number of values": "??_p~iF",
		"truncated value":      "_p~iF~ps|",
		"invalid character":    "_p~iF ps|U",
		"control character":    "\x01?",
		"overflow":             "~~~~~~~~~~~~~~~",
	} {
		t.Run(name, func(t *testing.T) {
			points, err := Decode(input)
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Nil(t, points)
			assert.NotEmpty(t, decodeErr.Reason)
		})
	}
}

func TestDecodeRejectsBitsPastSixtyFour(t *testing.T) {
	// twelve full chunks fill 60 bits; a final chunk may add only four more
	_, err := Decode(strings.Repeat("~", 12) + "^?")
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 12, decodeErr.Offset)
}

func TestDecodeRejectsOutOfRangeCoordinates(t *testing.T) {
	var sb strings.Builder
	writeValue(&sb, maxQuantized+1)
	writeValue(&sb, 0)
	_, err := Decode(sb.String())
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Reason, "out of range")

	// two in-range deltas that sum past the bound
	sb.Reset()
	writeValue(&sb, maxQuantized)
	writeValue(&sb, 0)
	writeValue(&sb, 1)
	writeValue(&sb, 0)
	_, err = Decode(sb.String())
	require.ErrorAs(t, err, &decodeErr)
}

func TestEncodeRangeEdges(t *testing.T) {
	edge := []Point{{MaxCoordinate, -MaxCoordinate}, {-MaxCoordinate, MaxCoordinate}}
	decoded, err := Decode(Encode(edge))
	require.NoError(t, err)
	assert.Equal(t, edge, decoded)

	for _, v := range []float64{1e14, -MaxCoordinate - 1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Panics(t, func() { Encode([]Point{{X: 0, Y: v}}) }, "%v", v)
		assert.False(t, InRange(v))
	}
}
