package surface

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// ParseColor understands the color strings paths carry: CSS names, #rgb,
// #rrggbb, #rrggbbaa, rgb(r,g,b) and rgba(r,g,b,a) with alpha in [0, 1].
func ParseColor(s string) (color.Color, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return nil, fmt.Errorf("empty color")
	case strings.HasPrefix(v, "#"):
		return parseHex(v[1:])
	case strings.HasPrefix(v, "rgba(") && strings.HasSuffix(v, ")"):
		return parseFunctional(v[len("rgba("):len(v)-1], 4)
	case strings.HasPrefix(v, "rgb(") && strings.HasSuffix(v, ")"):
		return parseFunctional(v[len("rgb("):len(v)-1], 3)
	}
	if c, ok := colornames.Map[v]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown color %q", s)
}

func parseHex(h string) (color.Color, error) {
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return nil, fmt.Errorf("invalid hex color #%s", h)
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid hex color #%s: %w", h, err)
	}
	return color.NRGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}

func parseFunctional(body string, want int) (color.Color, error) {
	parts := strings.Split(body, ",")
	if len(parts) != want {
		return nil, fmt.Errorf("expected %d color components, got %d", want, len(parts))
	}
	var channels [3]uint8
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil || f < 0 || f > 255 {
			return nil, fmt.Errorf("invalid color component %q", parts[i])
		}
		channels[i] = uint8(math.Round(f))
	}
	alpha := uint8(255)
	if want == 4 {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("invalid alpha %q", parts[3])
		}
		alpha = uint8(math.Round(f * 255))
	}
	return color.NRGBA{R: channels[0], G: channels[1], B: channels[2], A: alpha}, nil
}
