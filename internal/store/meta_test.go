package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestMeta opens a MetaStore in a fresh temp directory.
func createTestMeta(t *testing.T) (*MetaStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	m, err := OpenMeta(path)
	if err != nil {
		t.Fatalf("OpenMeta() failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, path
}

func TestOpenMeta_CreatesNewDatabase(t *testing.T) {
	_, path := createTestMeta(t)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpenMeta_Pragmas(t *testing.T) {
	m, _ := createTestMeta(t)

	assert.NoError(t, m.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, m.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, m.verifyPragma("user_version", "1"))
}

func TestOpenMeta_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		m, err := OpenMeta(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, m.Close())
	}
}

func TestOpenMeta_RejectsNewerSchema(t *testing.T) {
	m, path := createTestMeta(t)
	_, err := m.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = OpenMeta(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestMetaStore_LoadChainEmpty(t *testing.T) {
	m, _ := createTestMeta(t)

	_, err := m.LoadChain(context.Background())
	assert.ErrorIs(t, err, ErrNoChain)
}

func TestMetaStore_SaveLoad(t *testing.T) {
	m, path := createTestMeta(t)
	ctx := context.Background()

	rec := ChainRecord{
		SessionID:     "session-1",
		EngineVersion: "0.2.0",
		Nodes: []NodeRecord{
			{ID: "a", Code: "x = 1", Valid: true, Inputs: map[string]string{}, Outputs: map[string]string{"x": "h1"}},
			{ID: "b", Code: "y = x + 1", Valid: false, Inputs: map[string]string{"x": "h1"}, Outputs: map[string]string{}},
		},
	}
	require.NoError(t, m.SaveChain(ctx, rec))

	// Saving replaces the previous record entirely.
	rec.Nodes = []NodeRecord{
		rec.Nodes[1],
		{ID: "c", Code: "z = 3", Valid: true, Inputs: map[string]string{}, Outputs: map[string]string{"z": "h3", "w": "h1"}},
	}
	require.NoError(t, m.SaveChain(ctx, rec))
	require.NoError(t, m.Close())

	reopened, err := OpenMeta(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LoadChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, &rec, got)
}

func TestChainRecord_Refcounts(t *testing.T) {
	rec := ChainRecord{Nodes: []NodeRecord{
		{ID: "a", Outputs: map[string]string{"x": "h1", "y": "h2"}},
		{ID: "b", Outputs: map[string]string{"z": "h1"}},
		{ID: "c", Outputs: map[string]string{}},
	}}

	assert.Equal(t, map[string]int{"h1": 2, "h2": 1}, rec.Refcounts())
}

func TestMarshalBindings(t *testing.T) {
	got, err := marshalBindings(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2"}`, got)

	got, err = marshalBindings(nil)
	require.NoError(t, err)
	assert.Equal(t, `{}`, got)

	back, err := unmarshalBindings(`{"a":"1","b":"2"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, back)

	for _, bad := range []string{`{"a":1}`, `["a"]`, `{"a":null}`, `{"a":"1"} {}`, `{`} {
		_, err = unmarshalBindings(bad)
		assert.Error(t, err, bad)
	}
}

func TestMarshalBindings_RoundTrip(t *testing.T) {
	bindings := map[string]string{
		"x":   "0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0",
		"df":  "*",
		"año": "ab",
	}

	text, err := marshalBindings(bindings)
	require.NoError(t, err)

	back, err := unmarshalBindings(text)
	require.NoError(t, err)
	assert.Equal(t, bindings, back)
}
