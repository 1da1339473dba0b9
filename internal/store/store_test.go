package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryOnlyStore(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	require.NoError(t, s.Put("things", "a", doc{Name: "a", Count: 1}))

	var got doc
	require.NoError(t, s.Get("things", "a", &got))
	assert.Equal(t, doc{Name: "a", Count: 1}, got)
}

func TestGetMissing(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	var got doc
	err = s.Get("things", "missing", &got)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Get("no-such-bucket", "a", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutNewRejectsDuplicates(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	require.NoError(t, s.PutNew("things", "a", doc{Name: "a"}))
	err = s.PutNew("things", "a", doc{Name: "again"})
	assert.ErrorIs(t, err, ErrExists)

	var got doc
	require.NoError(t, s.Get("things", "a", &got))
	assert.Equal(t, "a", got.Name)
}

func TestDelete(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	require.NoError(t, s.Put("things", "a", doc{Name: "a"}))
	require.NoError(t, s.Delete("things", "a"))

	var got doc
	assert.ErrorIs(t, s.Get("things", "a", &got), ErrNotFound)
	assert.ErrorIs(t, s.Delete("things", "a"), ErrNotFound)
}

func TestKeysSorted(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put("things", key, doc{Name: key}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys("things"))
	assert.Empty(t, s.Keys("empty"))
}

func TestListVisitsInOrder(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)

	for _, key := range []string{"b", "a"} {
		require.NoError(t, s.Put("things", key, doc{Name: key}))
	}

	var seen []string
	err = s.List("things", func(key string, raw json.RawMessage) error {
		var d doc
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		seen = append(seen, d.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("things", "a", doc{Name: "a", Count: 7}))

	reopened, err := Open(path)
	require.NoError(t, err)

	var got doc
	require.NoError(t, reopened.Get("things", "a", &got))
	assert.Equal(t, doc{Name: "a", Count: 7}, got)

	// The file on disk is a plain JSON object, not a partial write.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}
