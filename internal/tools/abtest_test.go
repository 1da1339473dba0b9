package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolhub/internal/store"
)

func newABTool(t *testing.T) (*ABTestTool, *store.Store) {
	t.Helper()
	db, err := store.Open("")
	require.NoError(t, err)
	return NewABTestTool(db), db
}

func runAB(t *testing.T, tool *ABTestTool, input map[string]any) (Result, error) {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return tool.Execute(context.Background(), raw, Meta{})
}

func TestABTestLifecycle(t *testing.T) {
	tool, _ := newABTool(t)

	res, err := runAB(t, tool, map[string]any{
		"action": "create", "test_id": "exp-1", "variations": []string{"control", "treatment"},
	})
	require.NoError(t, err)
	test := res.Payload.(ABTest)
	assert.False(t, test.Running)
	assert.Equal(t, "conversion_rate", test.SuccessMetric)

	// Allocation before start is rejected.
	_, err = runAB(t, tool, map[string]any{"action": "allocate", "test_id": "exp-1", "user_id": "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	_, err = runAB(t, tool, map[string]any{"action": "start", "test_id": "exp-1"})
	require.NoError(t, err)

	res, err = runAB(t, tool, map[string]any{"action": "allocate", "test_id": "exp-1", "user_id": "u1"})
	require.NoError(t, err)
	first := res.Payload.(map[string]string)["variation"]

	// Same user always lands in the same variation.
	res, err = runAB(t, tool, map[string]any{"action": "allocate", "test_id": "exp-1", "user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, first, res.Payload.(map[string]string)["variation"])

	res, err = runAB(t, tool, map[string]any{"action": "convert", "test_id": "exp-1", "user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, first, res.Payload.(map[string]string)["variation"])

	_, err = runAB(t, tool, map[string]any{"action": "stop", "test_id": "exp-1"})
	require.NoError(t, err)

	// A stopped test cannot be restarted.
	_, err = runAB(t, tool, map[string]any{"action": "start", "test_id": "exp-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be restarted")
}

func TestABTestCreateValidation(t *testing.T) {
	tool, _ := newABTool(t)

	_, err := runAB(t, tool, map[string]any{"action": "create", "test_id": "exp-2", "variations": []string{"only"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two")

	_, err = runAB(t, tool, map[string]any{"action": "create", "test_id": "exp-2", "variations": []string{"a", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = runAB(t, tool, map[string]any{"action": "create", "test_id": "exp-2", "variations": []string{"a", "b"}})
	require.NoError(t, err)
	_, err = runAB(t, tool, map[string]any{"action": "create", "test_id": "exp-2", "variations": []string{"a", "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestABTestRequiresTestID(t *testing.T) {
	tool, _ := newABTool(t)
	_, err := runAB(t, tool, map[string]any{"action": "results"})
	assert.Error(t, err)
}

func TestABTestResultsWithoutData(t *testing.T) {
	tool, _ := newABTool(t)
	_, err := runAB(t, tool, map[string]any{"action": "create", "test_id": "exp-3", "variations": []string{"a", "b"}})
	require.NoError(t, err)

	res, err := runAB(t, tool, map[string]any{"action": "results", "test_id": "exp-3"})
	require.NoError(t, err)
	results := res.Payload.(abResults)
	assert.Nil(t, results.PValue)
	assert.NotEmpty(t, results.Note)
}

func TestABTestResultsSignificance(t *testing.T) {
	tool, db := newABTool(t)

	// Seed a finished experiment with a large, clearly significant gap.
	seeded := ABTest{
		TestID:        "exp-sig",
		SuccessMetric: "conversion_rate",
		Variations: []VariationStats{
			{Name: "control", Users: 1000, Conversions: 100},
			{Name: "treatment", Users: 1000, Conversions: 200},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Put(abTestBucket, seeded.TestID, seeded))

	res, err := runAB(t, tool, map[string]any{"action": "results", "test_id": "exp-sig"})
	require.NoError(t, err)
	results := res.Payload.(abResults)

	require.NotNil(t, results.PValue)
	require.NotNil(t, results.Significant)
	assert.Less(t, *results.PValue, 0.05)
	assert.True(t, *results.Significant)
	assert.InDelta(t, 10.0, results.Variations[0].ConversionRate, 1e-9)
	assert.InDelta(t, 20.0, results.Variations[1].ConversionRate, 1e-9)
}

func TestChiSquaredUndefinedCases(t *testing.T) {
	_, _, ok := chiSquared([]VariationStats{{Name: "a", Users: 10}})
	assert.False(t, ok, "single variation")

	_, _, ok = chiSquared([]VariationStats{
		{Name: "a", Users: 10, Conversions: 0},
		{Name: "b", Users: 10, Conversions: 0},
	})
	assert.False(t, ok, "no conversions anywhere")

	_, _, ok = chiSquared([]VariationStats{
		{Name: "a", Users: 10, Conversions: 10},
		{Name: "b", Users: 10, Conversions: 10},
	})
	assert.False(t, ok, "everyone converted")

	_, _, ok = chiSquared([]VariationStats{
		{Name: "a", Users: 0, Conversions: 0},
		{Name: "b", Users: 10, Conversions: 5},
	})
	assert.False(t, ok, "empty variation")
}

func TestVariationIndexDeterministic(t *testing.T) {
	for _, user := range []string{"alice", "bob", "carol"} {
		idx := variationIndex(user, 3)
		assert.Equal(t, idx, variationIndex(user, 3))
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 3)
	}
}
