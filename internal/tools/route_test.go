package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolhub/internal/store"
)

func newRouteTool(t *testing.T) *RoutePlanTool {
	t.Helper()
	db, err := store.Open("")
	require.NoError(t, err)
	return NewRoutePlanTool(db)
}

func runRoute(t *testing.T, tool *RoutePlanTool, input map[string]any) (Result, error) {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return tool.Execute(context.Background(), raw, Meta{})
}

func TestOptimizeRouteOrdersWaypoints(t *testing.T) {
	tool := newRouteTool(t)
	res, err := runRoute(t, tool, map[string]any{
		"operation":   "optimize_route",
		"route_id":    "RT-1",
		"origin":      "New York",
		"destination": "Los Angeles",
		"waypoints":   []string{"Denver", "Chicago"},
	})
	require.NoError(t, err)

	route := res.Payload.(Route)
	// Nearest neighbor from New York picks Chicago before Denver.
	assert.Equal(t, []string{"New York", "Chicago", "Denver", "Los Angeles"}, route.OptimizedPath)
	assert.Greater(t, route.DistanceKm, 3000.0)
	assert.Less(t, route.DistanceKm, 5000.0)
	assert.Greater(t, route.DurationHours, 0.0)
}

func TestOptimizeRouteDefaultsSpeed(t *testing.T) {
	tool := newRouteTool(t)
	res, err := runRoute(t, tool, map[string]any{
		"operation":   "optimize_route",
		"route_id":    "RT-speed",
		"origin":      "London",
		"destination": "Paris",
	})
	require.NoError(t, err)
	route := res.Payload.(Route)
	assert.InDelta(t, route.DistanceKm/80.0, route.DurationHours, 0.01)
}

func TestOptimizeRouteRejectsDuplicateID(t *testing.T) {
	tool := newRouteTool(t)
	input := map[string]any{
		"operation":   "optimize_route",
		"route_id":    "RT-dup",
		"origin":      "London",
		"destination": "Paris",
	}
	_, err := runRoute(t, tool, input)
	require.NoError(t, err)

	_, err = runRoute(t, tool, input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestOptimizeRouteRejectsUnknownCity(t *testing.T) {
	tool := newRouteTool(t)
	_, err := runRoute(t, tool, map[string]any{
		"operation":   "optimize_route",
		"route_id":    "RT-bad",
		"origin":      "Atlantis",
		"destination": "Paris",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown city")
	assert.Contains(t, err.Error(), "known cities")
}

func TestEstimateDeliveryTime(t *testing.T) {
	tool := newRouteTool(t)
	_, err := runRoute(t, tool, map[string]any{
		"operation":   "optimize_route",
		"route_id":    "RT-eta",
		"origin":      "Seattle",
		"destination": "San Francisco",
	})
	require.NoError(t, err)

	res, err := runRoute(t, tool, map[string]any{
		"operation": "estimate_delivery_time",
		"route_id":  "RT-eta",
	})
	require.NoError(t, err)
	payload := res.Payload.(map[string]any)
	assert.Equal(t, "RT-eta", payload["route_id"])
	assert.NotEmpty(t, payload["estimated_arrival_time"])
}

func TestEstimateDeliveryUnknownRoute(t *testing.T) {
	tool := newRouteTool(t)
	_, err := runRoute(t, tool, map[string]any{
		"operation": "estimate_delivery_time",
		"route_id":  "RT-missing",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListRoutesFilters(t *testing.T) {
	tool := newRouteTool(t)
	for _, spec := range []struct{ id, origin, dest string }{
		{"RT-a", "London", "Paris"},
		{"RT-b", "London", "Tokyo"},
		{"RT-c", "Chicago", "Dallas"},
	} {
		_, err := runRoute(t, tool, map[string]any{
			"operation":   "optimize_route",
			"route_id":    spec.id,
			"origin":      spec.origin,
			"destination": spec.dest,
		})
		require.NoError(t, err)
	}

	res, err := runRoute(t, tool, map[string]any{"operation": "list_routes", "origin": "London"})
	require.NoError(t, err)
	routes := res.Payload.([]Route)
	assert.Len(t, routes, 2)

	res, err = runRoute(t, tool, map[string]any{"operation": "list_routes", "origin": "London", "destination": "Tokyo"})
	require.NoError(t, err)
	routes = res.Payload.([]Route)
	require.Len(t, routes, 1)
	assert.Equal(t, "RT-b", routes[0].RouteID)

	res, err = runRoute(t, tool, map[string]any{"operation": "list_routes", "origin": "Phoenix"})
	require.NoError(t, err)
	assert.Empty(t, res.Payload.([]Route))
}

func TestGetRouteDetails(t *testing.T) {
	tool := newRouteTool(t)
	_, err := runRoute(t, tool, map[string]any{
		"operation":   "optimize_route",
		"route_id":    "RT-detail",
		"origin":      "Houston",
		"destination": "Dallas",
	})
	require.NoError(t, err)

	res, err := runRoute(t, tool, map[string]any{"operation": "get_route_details", "route_id": "RT-detail"})
	require.NoError(t, err)
	route := res.Payload.(Route)
	assert.Equal(t, "RT-detail", route.RouteID)
	assert.Equal(t, []string{"Houston", "Dallas"}, route.OptimizedPath)
}

func TestHaversineSymmetry(t *testing.T) {
	d1 := haversineKm("New York", "Chicago")
	d2 := haversineKm("Chicago", "New York")
	assert.InDelta(t, d1, d2, 1e-9)
	assert.InDelta(t, 1144, d1, 12)
	assert.Zero(t, haversineKm("Tokyo", "Tokyo"))
}
