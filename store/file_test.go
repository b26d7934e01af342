package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStoreCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "state")
	st, err := NewFileStore(root)
	require.NoError(t, err)
	defer st.Close()

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileStoreRoundTrip(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	value := map[string]any{"status": "pending", "count": float64(2)}
	require.NoError(t, st.Set(ctx, "manual_review:default", "abc123", value))

	got, err := st.Get(ctx, "manual_review:default", "abc123")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	got, err = st.Get(ctx, "manual_review:default", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStoreSanitizesNamespace(t *testing.T) {
	root := t.TempDir()
	st, err := NewFileStore(root)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "rate_limit:per user", "alice", map[string]any{}))

	// ':' and ' ' are unsafe in filenames and get replaced
	_, err = os.Stat(filepath.Join(root, "rate_limit_per_user.json"))
	require.NoError(t, err)

	exists, err := st.Exists(ctx, "rate_limit:per user", "alice")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	st, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "ns", "key", map[string]any{"v": "x"}))
	require.NoError(t, st.Close())

	st, err = NewFileStore(root)
	require.NoError(t, err)
	defer st.Close()

	got, err := st.Get(ctx, "ns", "key")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "x"}, got)
}

func TestFileStoreDeleteAndClear(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "ns", "a", map[string]any{}))
	require.NoError(t, st.Set(ctx, "ns", "b", map[string]any{}))

	require.NoError(t, st.Delete(ctx, "ns", "a"))
	keys, err := st.ListKeys(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	require.NoError(t, st.ClearNamespace(ctx, "ns"))
	keys, err = st.ListKeys(ctx, "ns")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Clearing again is a no-op
	require.NoError(t, st.ClearNamespace(ctx, "ns"))
}
