package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"toolhub/internal/util"
)

// Factor tables convert through a canonical base unit per category
// (meters, grams, liters). Temperature is affine and handled separately.
var unitFactors = map[string]map[string]float64{
	"length": {
		"meters":      1,
		"centimeters": 0.01,
		"kilometers":  1000,
		"inches":      0.0254,
		"feet":        0.3048,
		"miles":       1609.344,
	},
	"weight": {
		"grams":       1,
		"kilograms":   1000,
		"metric_tons": 1e6,
		"ounces":      28.349523125,
		"pounds":      453.59237,
	},
	"volume": {
		"liters":       1,
		"milliliters":  0.001,
		"cubic_meters": 1000,
		"quarts":       0.946352946,
		"gallons":      3.785411784,
	},
}

var temperatureUnits = map[string]struct{}{"celsius": {}, "fahrenheit": {}, "kelvin": {}}

// ConvertTool converts values between measurement units and times between
// timezones.
type ConvertTool struct {
	categories map[string]string // unit -> category
}

// NewConvertTool constructs a converter tool.
func NewConvertTool() *ConvertTool {
	categories := map[string]string{}
	for category, units := range unitFactors {
		for unit := range units {
			categories[unit] = category
		}
	}
	for unit := range temperatureUnits {
		categories[unit] = "temperature"
	}
	return &ConvertTool{categories: categories}
}

func (c *ConvertTool) Name() string { return "convert" }

func (c *ConvertTool) Description() string {
	return "Converts values between units of measurement (length, weight, temperature, volume) and times between timezones."
}

func (c *ConvertTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":    map[string]any{"type": "string", "enum": []string{"convert", "list_units", "timezone"}},
			"value":     map[string]any{"type": "number"},
			"from_unit": map[string]any{"type": "string"},
			"to_unit":   map[string]any{"type": "string"},
			"time":      map[string]any{"type": "string", "description": "RFC 3339 timestamp, or empty for now"},
			"from_tz":   map[string]any{"type": "string"},
			"to_tz":     map[string]any{"type": "string"},
		},
		"required":             []string{"action"},
		"additionalProperties": false,
	}
}

type convertInput struct {
	Action   string   `json:"action"`
	Value    *float64 `json:"value"`
	FromUnit string   `json:"from_unit"`
	ToUnit   string   `json:"to_unit"`
	Time     string   `json:"time"`
	FromTZ   string   `json:"from_tz"`
	ToTZ     string   `json:"to_tz"`
}

func (c *ConvertTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args convertInput
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, err
	}

	start := time.Now()
	var payload any
	var preview string
	var err error
	switch strings.ToLower(args.Action) {
	case "convert":
		payload, preview, err = c.convertUnits(args)
	case "list_units":
		payload, preview, err = c.listUnits()
	case "timezone":
		payload, preview, err = c.convertTimezone(args)
	default:
		err = fmt.Errorf("unsupported action %q", args.Action)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		ToolName:   c.Name(),
		Payload:    payload,
		Preview:    preview,
		LineCount:  strings.Count(preview, "\n") + 1,
		ByteCount:  util.JSONSize(payload),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (c *ConvertTool) convertUnits(args convertInput) (any, string, error) {
	if args.Value == nil || args.FromUnit == "" || args.ToUnit == "" {
		return nil, "", errors.New("value, from_unit, and to_unit are required for convert")
	}
	from := normalizeUnit(args.FromUnit)
	to := normalizeUnit(args.ToUnit)
	fromCat, ok := c.categories[from]
	if !ok {
		return nil, "", fmt.Errorf("unknown unit %q", args.FromUnit)
	}
	toCat, ok := c.categories[to]
	if !ok {
		return nil, "", fmt.Errorf("unknown unit %q", args.ToUnit)
	}
	if fromCat != toCat {
		return nil, "", fmt.Errorf("cannot convert %s (%s) to %s (%s)", from, fromCat, to, toCat)
	}

	var converted float64
	if fromCat == "temperature" {
		converted = convertTemperature(*args.Value, from, to)
	} else {
		base := *args.Value * unitFactors[fromCat][from]
		converted = base / unitFactors[toCat][to]
	}

	payload := map[string]any{
		"value":           *args.Value,
		"from_unit":       from,
		"to_unit":         to,
		"category":        fromCat,
		"converted_value": converted,
	}
	preview := fmt.Sprintf("%g %s = %g %s", *args.Value, from, converted, to)
	return payload, preview, nil
}

func (c *ConvertTool) listUnits() (any, string, error) {
	out := map[string][]string{}
	for category, units := range unitFactors {
		names := make([]string, 0, len(units))
		for unit := range units {
			names = append(names, unit)
		}
		sort.Strings(names)
		out[category] = names
	}
	out["temperature"] = []string{"celsius", "fahrenheit", "kelvin"}
	return out, fmt.Sprintf("%d unit categories", len(out)), nil
}

func (c *ConvertTool) convertTimezone(args convertInput) (any, string, error) {
	if args.FromTZ == "" || args.ToTZ == "" {
		return nil, "", errors.New("from_tz and to_tz are required for timezone")
	}
	fromLoc, err := time.LoadLocation(args.FromTZ)
	if err != nil {
		return nil, "", fmt.Errorf("unknown timezone %q", args.FromTZ)
	}
	toLoc, err := time.LoadLocation(args.ToTZ)
	if err != nil {
		return nil, "", fmt.Errorf("unknown timezone %q", args.ToTZ)
	}

	var t time.Time
	if args.Time == "" {
		t = time.Now().In(fromLoc)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02T15:04:05", args.Time, fromLoc)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, args.Time)
			if err != nil {
				return nil, "", fmt.Errorf("time must be RFC 3339 or 2006-01-02T15:04:05: %w", err)
			}
		}
		t = parsed
	}
	converted := t.In(toLoc)

	payload := map[string]string{
		"input_time":     t.Format(time.RFC3339),
		"from_tz":        args.FromTZ,
		"to_tz":          args.ToTZ,
		"converted_time": converted.Format(time.RFC3339),
	}
	preview := fmt.Sprintf("%s (%s) = %s (%s)", t.Format("15:04"), args.FromTZ, converted.Format("15:04"), args.ToTZ)
	return payload, preview, nil
}

func convertTemperature(v float64, from, to string) float64 {
	// Through celsius.
	var c float64
	switch from {
	case "celsius":
		c = v
	case "fahrenheit":
		c = (v - 32) * 5 / 9
	case "kelvin":
		c = v - 273.15
	}
	switch to {
	case "celsius":
		return c
	case "fahrenheit":
		return c*9/5 + 32
	case "kelvin":
		return c + 273.15
	}
	return c
}

func normalizeUnit(u string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(u)), " ", "_")
}
