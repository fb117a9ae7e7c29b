package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync-io/flowsync/pkg/config"
)

func TestSyncState(t *testing.T) {
	st := make(SyncState)

	t.Run("get missing is empty", func(t *testing.T) {
		assert.Empty(t, st.Get("cursor"))
		assert.Equal(t, int64(7), st.GetInt("total_records", 7))
	})

	t.Run("set and get", func(t *testing.T) {
		st.Set(KeyCursor, "2024-01-05T00:00:00Z")
		st.Set(KeyTotalRecords, "140")
		assert.Equal(t, "2024-01-05T00:00:00Z", st.Get(KeyCursor))
		assert.Equal(t, int64(140), st.GetInt(KeyTotalRecords, 0))
	})

	t.Run("setting empty deletes", func(t *testing.T) {
		st.Set("page_token", "tok")
		st.Set("page_token", "")
		_, ok := st["page_token"]
		assert.False(t, ok)
	})

	t.Run("clone is independent", func(t *testing.T) {
		c := st.Clone()
		c.Set(KeyCursor, "changed")
		assert.Equal(t, "2024-01-05T00:00:00Z", st.Get(KeyCursor))
	})
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "orders.json")
	store := NewFileStore(path)
	ctx := context.Background()

	t.Run("missing file yields empty state", func(t *testing.T) {
		st, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, st)
	})

	t.Run("save and reload", func(t *testing.T) {
		st := SyncState{KeyCursor: "2024-01-05T00:00:00Z", "offset": "200"}
		require.NoError(t, store.Save(ctx, st))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, st, loaded)
	})

	t.Run("save replaces whole state", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, SyncState{KeyCursor: "2024-02-01T00:00:00Z"}))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2024-02-01T00:00:00Z", loaded.Get(KeyCursor))
		assert.Empty(t, loaded.Get("offset"), "stale keys do not survive a save")
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("corrupt file is an error not silence", func(t *testing.T) {
		bad := filepath.Join(dir, "corrupt.json")
		require.NoError(t, os.WriteFile(bad, []byte("{{{"), 0o600))
		_, err := NewFileStore(bad).Load(ctx)
		assert.Error(t, err)
	})
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, "orders")
	require.NoError(t, err)
	defer store.Close()

	t.Run("empty on first load", func(t *testing.T) {
		st, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, st)
	})

	t.Run("save and reload", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, SyncState{KeyCursor: "2024-01-05T00:00:00Z", "offset": "100"}))

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2024-01-05T00:00:00Z", loaded.Get(KeyCursor))
		assert.Equal(t, "100", loaded.Get("offset"))
	})

	t.Run("connectors are isolated", func(t *testing.T) {
		other, err := NewSQLiteStore(path, "customers")
		require.NoError(t, err)
		defer other.Close()

		st, err := other.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, st, "another connector sees none of the orders state")

		require.NoError(t, other.Save(ctx, SyncState{KeyCursor: "c1"}))
		orders, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2024-01-05T00:00:00Z", orders.Get(KeyCursor))
	})

	t.Run("save replaces whole state", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, SyncState{KeyCursor: "2024-02-01T00:00:00Z"}))
		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded.Get("offset"))
	})
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	t.Run("file", func(t *testing.T) {
		s, err := NewStore(config.StateConfig{Type: "file", Path: filepath.Join(dir, "s.json")}, "orders")
		require.NoError(t, err)
		assert.IsType(t, &FileStore{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := NewStore(config.StateConfig{Type: "sqlite", Path: filepath.Join(dir, "s.db")}, "orders")
		require.NoError(t, err)
		assert.IsType(t, &SQLiteStore{}, s)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewStore(config.StateConfig{Type: "redis", Path: "x"}, "orders")
		assert.Error(t, err)
	})
}
