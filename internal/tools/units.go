package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type unitCategory struct {
	name    string
	factors map[string]float64 // to the category's base unit
}

var unitCategories = []unitCategory{
	{"length", map[string]float64{
		"mm": 0.001, "cm": 0.01, "m": 1, "km": 1000,
		"in": 0.0254, "ft": 0.3048, "yd": 0.9144, "mi": 1609.344,
	}},
	{"mass", map[string]float64{
		"mg": 1e-6, "g": 0.001, "kg": 1, "t": 1000,
		"oz": 0.028349523125, "lb": 0.45359237,
	}},
	{"volume", map[string]float64{
		"ml": 0.001, "l": 1, "floz": 0.0295735295625, "cup": 0.2365882365,
		"pt": 0.473176473, "qt": 0.946352946, "gal": 3.785411784,
	}},
	{"time", map[string]float64{
		"ms": 0.001, "s": 1, "min": 60, "h": 3600, "day": 86400, "week": 604800,
	}},
	{"data", map[string]float64{
		"bit": 0.125, "B": 1, "KB": 1e3, "MB": 1e6, "GB": 1e9, "TB": 1e12,
		"KiB": 1024, "MiB": 1 << 20, "GiB": 1 << 30, "TiB": 1 << 40,
	}},
}

var unitAliases = map[string]string{
	"meter": "m", "meters": "m", "kilometer": "km", "kilometers": "km",
	"centimeter": "cm", "millimeter": "mm", "inch": "in", "inches": "in",
	"foot": "ft", "feet": "ft", "yard": "yd", "mile": "mi", "miles": "mi",
	"gram": "g", "grams": "g", "kilogram": "kg", "kilograms": "kg",
	"pound": "lb", "pounds": "lb", "lbs": "lb", "ounce": "oz", "ounces": "oz",
	"liter": "l", "liters": "l", "litre": "l", "milliliter": "ml",
	"gallon": "gal", "gallons": "gal", "quart": "qt", "pint": "pt",
	"second": "s", "seconds": "s", "sec": "s", "minute": "min", "minutes": "min",
	"hour": "h", "hours": "h", "hr": "h", "days": "day", "weeks": "week",
	"byte": "B", "bytes": "B", "bits": "bit",
	"celsius": "c", "fahrenheit": "f", "kelvin": "k",
}

// UnitConverter converts between units of one physical category.
func UnitConverter() Tool {
	return Tool{
		Name:        "unit_converter",
		Description: "Convert a value between units of length, mass, volume, time, data size or temperature.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"value":{"type":"number"},"from":{"type":"string","description":"Source unit, e.g. km"},"to":{"type":"string","description":"Target unit, e.g. mi"}},"required":["value","from","to"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Value float64 `json:"value"`
				From  string  `json:"from"`
				To    string  `json:"to"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			out, category, err := ConvertUnits(in.Value, in.From, in.To)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "conversion", Data: map[string]any{
				"value":    in.Value,
				"from":     in.From,
				"to":       in.To,
				"result":   out,
				"category": category,
			}}, nil
		},
	}
}

// ConvertUnits converts value and reports the unit category.
func ConvertUnits(value float64, from, to string) (float64, string, error) {
	f, t := normalizeUnit(from), normalizeUnit(to)
	if isTemperature(f) || isTemperature(t) {
		if !isTemperature(f) || !isTemperature(t) {
			return 0, "", fmt.Errorf("cannot convert %s to %s", from, to)
		}
		return convertTemperature(value, f, t), "temperature", nil
	}
	for _, c := range unitCategories {
		ff, okFrom := c.factors[f]
		tf, okTo := c.factors[t]
		if okFrom && okTo {
			return value * ff / tf, c.name, nil
		}
		if okFrom || okTo {
			return 0, "", fmt.Errorf("cannot convert %s to %s", from, to)
		}
	}
	return 0, "", fmt.Errorf("unknown unit %q or %q", from, to)
}

func normalizeUnit(u string) string {
	u = strings.TrimSpace(u)
	if alias, ok := unitAliases[strings.ToLower(u)]; ok {
		return alias
	}
	// Data units are case sensitive (b vs B); everything else is not.
	for _, c := range unitCategories {
		if c.name == "data" {
			if _, ok := c.factors[u]; ok {
				return u
			}
		}
	}
	return strings.ToLower(u)
}

func isTemperature(u string) bool { return u == "c" || u == "f" || u == "k" }

func convertTemperature(v float64, from, to string) float64 {
	var c float64
	switch from {
	case "c":
		c = v
	case "f":
		c = (v - 32) * 5 / 9
	case "k":
		c = v - 273.15
	}
	switch to {
	case "f":
		return c*9/5 + 32
	case "k":
		return c + 273.15
	default:
		return c
	}
}
