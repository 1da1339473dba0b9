package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"toolhub/internal/store"
	"toolhub/internal/util"
)

const routeBucket = "routes"

// cityCoordinates is the fixed city table used for distance calculation.
var cityCoordinates = map[string][2]float64{
	"New York":      {40.7128, -74.0060},
	"Los Angeles":   {34.0522, -118.2437},
	"Chicago":       {41.8781, -87.6298},
	"Houston":       {29.7604, -95.3698},
	"Phoenix":       {33.4484, -112.0740},
	"Philadelphia":  {39.9526, -75.1652},
	"San Antonio":   {29.4241, -98.4936},
	"San Diego":     {32.7157, -117.1611},
	"Dallas":        {32.7767, -96.7970},
	"San Jose":      {37.3382, -121.8863},
	"London":        {51.5074, -0.1278},
	"Paris":         {48.8566, 2.3522},
	"Tokyo":         {35.6895, 139.6917},
	"Denver":        {39.7392, -104.9903},
	"Seattle":       {47.6062, -122.3321},
	"San Francisco": {37.7749, -122.4194},
}

const earthRadiusKm = 6371.0

// RoutePlanTool plans logistics routes with haversine distances and a
// nearest-neighbor waypoint ordering.
type RoutePlanTool struct {
	db *store.Store
}

// NewRoutePlanTool constructs a route planning tool backed by db.
func NewRoutePlanTool(db *store.Store) *RoutePlanTool {
	return &RoutePlanTool{db: db}
}

func (r *RoutePlanTool) Name() string { return "route_plan" }

func (r *RoutePlanTool) Description() string {
	return "Optimizes logistics routes using haversine distance calculation and waypoint ordering."
}

func (r *RoutePlanTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string",
				"enum": []string{"optimize_route", "estimate_delivery_time", "list_routes", "get_route_details"},
			},
			"route_id":    map[string]any{"type": "string"},
			"origin":      map[string]any{"type": "string"},
			"destination": map[string]any{"type": "string"},
			"waypoints": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"avg_speed_kmh": map[string]any{"type": "integer", "minimum": 1},
		},
		"required":             []string{"operation"},
		"additionalProperties": false,
	}
}

type routeInput struct {
	Operation   string   `json:"operation"`
	RouteID     string   `json:"route_id"`
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	Waypoints   []string `json:"waypoints"`
	AvgSpeedKmh int      `json:"avg_speed_kmh"`
}

// Route is a planned route document.
type Route struct {
	RouteID       string    `json:"route_id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	Waypoints     []string  `json:"waypoints"`
	OptimizedPath []string  `json:"optimized_path"`
	DistanceKm    float64   `json:"distance_km"`
	DurationHours float64   `json:"estimated_duration_hours"`
	PlannedAt     time.Time `json:"planned_at"`
}

func (r *RoutePlanTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	var args routeInput
	if err := json.Unmarshal(input, &args); err != nil {
		return Result{}, err
	}

	start := time.Now()
	var payload any
	var preview string
	var err error
	switch strings.ToLower(args.Operation) {
	case "optimize_route":
		payload, preview, err = r.optimizeRoute(args)
	case "estimate_delivery_time":
		payload, preview, err = r.estimateDelivery(args)
	case "list_routes":
		payload, preview, err = r.listRoutes(args)
	case "get_route_details":
		payload, preview, err = r.routeDetails(args)
	default:
		err = fmt.Errorf("unsupported operation %q", args.Operation)
	}
	if err != nil {
		return Result{}, err
	}

	return Result{
		ToolName:   r.Name(),
		Payload:    payload,
		Preview:    preview,
		LineCount:  strings.Count(preview, "\n") + 1,
		ByteCount:  util.JSONSize(payload),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (r *RoutePlanTool) optimizeRoute(args routeInput) (any, string, error) {
	if args.RouteID == "" || args.Origin == "" || args.Destination == "" {
		return nil, "", errors.New("route_id, origin, and destination are required")
	}
	for _, city := range append([]string{args.Origin, args.Destination}, args.Waypoints...) {
		if _, ok := cityCoordinates[city]; !ok {
			return nil, "", fmt.Errorf("unknown city %q; known cities: %s", city, strings.Join(knownCities(), ", "))
		}
	}
	speed := args.AvgSpeedKmh
	if speed <= 0 {
		speed = 80
	}

	path := orderWaypoints(args.Origin, args.Destination, args.Waypoints)
	var total float64
	for i := 0; i < len(path)-1; i++ {
		total += haversineKm(path[i], path[i+1])
	}

	route := Route{
		RouteID:       args.RouteID,
		Origin:        args.Origin,
		Destination:   args.Destination,
		Waypoints:     args.Waypoints,
		OptimizedPath: path,
		DistanceKm:    round2(total),
		DurationHours: round2(total / float64(speed)),
		PlannedAt:     time.Now().UTC(),
	}
	if err := r.db.PutNew(routeBucket, args.RouteID, route); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, "", fmt.Errorf("route %q already exists", args.RouteID)
		}
		return nil, "", err
	}
	preview := fmt.Sprintf("%s: %s (%.0f km, %.1f h)", route.RouteID, strings.Join(path, " -> "), route.DistanceKm, route.DurationHours)
	return route, preview, nil
}

func (r *RoutePlanTool) estimateDelivery(args routeInput) (any, string, error) {
	route, err := r.load(args.RouteID)
	if err != nil {
		return nil, "", err
	}
	arrival := route.PlannedAt.Add(time.Duration(route.DurationHours * float64(time.Hour)))
	payload := map[string]any{
		"route_id":                 route.RouteID,
		"estimated_arrival_time":   arrival.Format(time.RFC3339),
		"estimated_duration_hours": route.DurationHours,
	}
	preview := fmt.Sprintf("%s arrives %s", route.RouteID, arrival.Format(time.RFC3339))
	return payload, preview, nil
}

func (r *RoutePlanTool) listRoutes(args routeInput) (any, string, error) {
	var routes []Route
	err := r.db.List(routeBucket, func(key string, raw json.RawMessage) error {
		var route Route
		if err := json.Unmarshal(raw, &route); err != nil {
			return err
		}
		if args.Origin != "" && route.Origin != args.Origin {
			return nil
		}
		if args.Destination != "" && route.Destination != args.Destination {
			return nil
		}
		routes = append(routes, route)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if routes == nil {
		routes = []Route{}
	}
	return routes, fmt.Sprintf("%d route(s)", len(routes)), nil
}

func (r *RoutePlanTool) routeDetails(args routeInput) (any, string, error) {
	route, err := r.load(args.RouteID)
	if err != nil {
		return nil, "", err
	}
	preview := fmt.Sprintf("%s: %s", route.RouteID, strings.Join(route.OptimizedPath, " -> "))
	return route, preview, nil
}

func (r *RoutePlanTool) load(routeID string) (Route, error) {
	if routeID == "" {
		return Route{}, errors.New("route_id is required")
	}
	var route Route
	if err := r.db.Get(routeBucket, routeID, &route); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Route{}, fmt.Errorf("route %q not found", routeID)
		}
		return Route{}, err
	}
	return route, nil
}

// orderWaypoints greedily visits the nearest unvisited waypoint, then the
// destination.
func orderWaypoints(origin, destination string, waypoints []string) []string {
	path := []string{origin}
	remaining := make(map[string]struct{}, len(waypoints))
	for _, w := range waypoints {
		remaining[w] = struct{}{}
	}
	current := origin
	for len(remaining) > 0 {
		next := ""
		best := math.MaxFloat64
		for city := range remaining {
			if d := haversineKm(current, city); d < best || (d == best && city < next) {
				best = d
				next = city
			}
		}
		path = append(path, next)
		delete(remaining, next)
		current = next
	}
	return append(path, destination)
}

// haversineKm returns the great-circle distance between two known cities.
func haversineKm(city1, city2 string) float64 {
	a := cityCoordinates[city1]
	b := cityCoordinates[city2]
	lat1, lon1 := radians(a[0]), radians(a[1])
	lat2, lon2 := radians(b[0]), radians(b[1])

	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func knownCities() []string {
	cities := make([]string, 0, len(cityCoordinates))
	for city := range cityCoordinates {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}
