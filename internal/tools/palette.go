package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

const defaultPaletteBase = "#3b82f6"

// ColorPalette derives a harmonious palette from a base color.
func ColorPalette() Tool {
	return Tool{
		Name:        "generate_color_palette",
		Description: "Generate a color palette (analogous, complementary, triadic or monochromatic) from a base hex color.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"base":{"type":"string","description":"Base color, e.g. #3b82f6"},"scheme":{"type":"string","enum":["analogous","complementary","triadic","monochromatic"]},"count":{"type":"integer","minimum":2,"maximum":10}}}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Base   string `json:"base"`
				Scheme string `json:"scheme"`
				Count  int    `json:"count"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			if in.Base == "" {
				in.Base = defaultPaletteBase
			}
			if in.Scheme == "" {
				in.Scheme = "analogous"
			}
			if in.Count == 0 {
				in.Count = 5
			}
			colors, err := GeneratePalette(in.Base, in.Scheme, in.Count)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "color_palette", Data: map[string]any{
				"base":   in.Base,
				"scheme": in.Scheme,
				"colors": colors,
			}}, nil
		},
	}
}

// GeneratePalette returns count hex colors. The first entry is the base.
func GeneratePalette(base, scheme string, count int) ([]string, error) {
	if count < 2 || count > 10 {
		return nil, fmt.Errorf("count must be 2-10, got %d", count)
	}
	c, err := colorful.Hex(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base color %q", base)
	}
	h, s, v := c.Hsv()

	colors := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var next colorful.Color
		switch scheme {
		case "analogous":
			next = colorful.Hsv(wrapHue(h+float64(i)*30), s, v)
		case "complementary":
			hue := h
			if i%2 == 1 {
				hue = h + 180
			}
			// Walk value down every pair so entries stay distinct.
			next = colorful.Hsv(wrapHue(hue), s, clamp01(v-float64(i/2)*0.15))
		case "triadic":
			next = colorful.Hsv(wrapHue(h+float64(i%3)*120), s, clamp01(v-float64(i/3)*0.15))
		case "monochromatic":
			step := 0.8 / float64(count)
			next = colorful.Hsv(h, s, clamp01(v-float64(i)*step))
		default:
			return nil, fmt.Errorf("unknown scheme %q", scheme)
		}
		colors = append(colors, next.Clamped().Hex())
	}
	return colors, nil
}

func wrapHue(h float64) float64 {
	return math.Mod(math.Mod(h, 360)+360, 360)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
