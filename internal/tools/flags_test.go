package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolhub/internal/store"
)

func newFlagsTool(t *testing.T) *FlagsTool {
	t.Helper()
	db, err := store.Open("")
	require.NoError(t, err)
	return NewFlagsTool(db)
}

func runFlags(t *testing.T, tool *FlagsTool, input map[string]any) (Result, error) {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return tool.Execute(context.Background(), raw, Meta{})
}

func TestFlagLifecycle(t *testing.T) {
	tool := newFlagsTool(t)

	res, err := runFlags(t, tool, map[string]any{"action": "create", "flag": "new-checkout"})
	require.NoError(t, err)
	flag := res.Payload.(Flag)
	assert.False(t, flag.Enabled)
	assert.Equal(t, 100, flag.RolloutPercent)

	// Disabled flags are off for everyone regardless of rollout.
	res, err = runFlags(t, tool, map[string]any{"action": "evaluate", "flag": "new-checkout", "subject": "u1"})
	require.NoError(t, err)
	assert.False(t, res.Payload.(map[string]any)["on"].(bool))

	_, err = runFlags(t, tool, map[string]any{"action": "enable", "flag": "new-checkout"})
	require.NoError(t, err)

	res, err = runFlags(t, tool, map[string]any{"action": "evaluate", "flag": "new-checkout", "subject": "u1"})
	require.NoError(t, err)
	assert.True(t, res.Payload.(map[string]any)["on"].(bool))

	_, err = runFlags(t, tool, map[string]any{"action": "disable", "flag": "new-checkout"})
	require.NoError(t, err)

	res, err = runFlags(t, tool, map[string]any{"action": "evaluate", "flag": "new-checkout", "subject": "u1"})
	require.NoError(t, err)
	assert.False(t, res.Payload.(map[string]any)["on"].(bool))
}

func TestFlagCreateValidation(t *testing.T) {
	tool := newFlagsTool(t)

	_, err := runFlags(t, tool, map[string]any{"action": "create"})
	require.Error(t, err)

	_, err = runFlags(t, tool, map[string]any{"action": "create", "flag": "f", "rollout_percent": 120})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 100")

	_, err = runFlags(t, tool, map[string]any{"action": "create", "flag": "f"})
	require.NoError(t, err)
	_, err = runFlags(t, tool, map[string]any{"action": "create", "flag": "f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestFlagRolloutEdges(t *testing.T) {
	tool := newFlagsTool(t)

	_, err := runFlags(t, tool, map[string]any{"action": "create", "flag": "zero", "rollout_percent": 0})
	require.NoError(t, err)
	_, err = runFlags(t, tool, map[string]any{"action": "enable", "flag": "zero"})
	require.NoError(t, err)

	res, err := runFlags(t, tool, map[string]any{"action": "evaluate", "flag": "zero", "subject": "anyone"})
	require.NoError(t, err)
	assert.False(t, res.Payload.(map[string]any)["on"].(bool))
}

func TestFlagRolloutSticky(t *testing.T) {
	tool := newFlagsTool(t)
	_, err := runFlags(t, tool, map[string]any{"action": "create", "flag": "partial", "rollout_percent": 50})
	require.NoError(t, err)
	_, err = runFlags(t, tool, map[string]any{"action": "enable", "flag": "partial"})
	require.NoError(t, err)

	for _, subject := range []string{"u1", "u2", "u3", "u4", "u5"} {
		res, err := runFlags(t, tool, map[string]any{"action": "evaluate", "flag": "partial", "subject": subject})
		require.NoError(t, err)
		first := res.Payload.(map[string]any)["on"].(bool)

		res, err = runFlags(t, tool, map[string]any{"action": "evaluate", "flag": "partial", "subject": subject})
		require.NoError(t, err)
		assert.Equal(t, first, res.Payload.(map[string]any)["on"].(bool), "subject %s flipped", subject)
	}
}

func TestFlagEvaluateRequiresSubject(t *testing.T) {
	tool := newFlagsTool(t)
	_, err := runFlags(t, tool, map[string]any{"action": "create", "flag": "f"})
	require.NoError(t, err)

	_, err = runFlags(t, tool, map[string]any{"action": "evaluate", "flag": "f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
}

func TestFlagListAndDelete(t *testing.T) {
	tool := newFlagsTool(t)
	for _, name := range []string{"b-flag", "a-flag"} {
		_, err := runFlags(t, tool, map[string]any{"action": "create", "flag": name})
		require.NoError(t, err)
	}

	res, err := runFlags(t, tool, map[string]any{"action": "list"})
	require.NoError(t, err)
	flags := res.Payload.([]Flag)
	require.Len(t, flags, 2)
	assert.Equal(t, "a-flag", flags[0].Name)

	_, err = runFlags(t, tool, map[string]any{"action": "delete", "flag": "a-flag"})
	require.NoError(t, err)

	_, err = runFlags(t, tool, map[string]any{"action": "delete", "flag": "a-flag"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	res, err = runFlags(t, tool, map[string]any{"action": "list"})
	require.NoError(t, err)
	assert.Len(t, res.Payload.([]Flag), 1)
}

func TestInRolloutBounds(t *testing.T) {
	assert.False(t, inRollout("f", "subject", 0))
	assert.True(t, inRollout("f", "subject", 100))

	// A 50% rollout over many subjects should split somewhere near half.
	on := 0
	for i := 0; i < 200; i++ {
		if inRollout("partial", string(rune('a'+i%26))+string(rune('0'+i/26)), 50) {
			on++
		}
	}
	assert.Greater(t, on, 50)
	assert.Less(t, on, 150)
}
