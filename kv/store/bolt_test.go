package store

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempDB(t require.TestingT) (string, func()) {
	dir, err := ioutil.TempDir("", "store-sync")
	require.NoError(t, err)
	return filepath.Join(dir, "db.bolt"), func() { os.RemoveAll(dir) }
}

func TestBoltStore(t *testing.T) {
	path, cleanup := tempDB(t)
	defer cleanup()
	ctx := context.Background()
	db, err := New(Options{Path: path})
	require.NoError(t, err)

	t.Run("empty load", func(t *testing.T) {
		_, ok, err := db.Load(ctx)
		require.NoError(t, err)
		require.False(t, ok)
	})
	t.Run("save then load", func(t *testing.T) {
		require.NoError(t, db.Save(ctx, map[string]interface{}{
			"counter": 5,
			"prefs":   map[string]interface{}{"theme": "dark"},
		}))
		saved, ok, err := db.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, map[string]interface{}{
			"counter": 5.0,
			"prefs":   map[string]interface{}{"theme": "dark"},
		}, saved)
	})
	t.Run("save is a full snapshot", func(t *testing.T) {
		require.NoError(t, db.Save(ctx, map[string]interface{}{"counter": 6}))
		saved, ok, err := db.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, map[string]interface{}{"counter": 6.0}, saved)
	})
	t.Run("survives reopening", func(t *testing.T) {
		require.NoError(t, db.Close())
		db, err = New(Options{Path: path})
		require.NoError(t, err)
		saved, ok, err := db.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, map[string]interface{}{"counter": 6.0}, saved)
	})
	require.NoError(t, db.Close())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	snapshot := map[string]interface{}{"counter": 1}
	require.NoError(t, s.Save(ctx, snapshot))
	snapshot["counter"] = 2
	saved, ok, err := s.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, saved["counter"])
	require.Equal(t, 1, s.Writes())

	seeded := NewMemoryStoreWith(map[string]interface{}{"counter": 5})
	saved, ok, err = seeded.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, saved["counter"])
}

func TestFilter(t *testing.T) {
	state := map[string]interface{}{"counter": 1, "theme": "dark", "session": "x"}
	require.Equal(t, map[string]interface{}{"counter": 1, "theme": "dark"}, Filter(state, []string{"counter", "theme", "missing"}))
	require.Empty(t, Filter(state, nil))
}

func BenchmarkSave(b *testing.B) {
	path, cleanup := tempDB(b)
	defer cleanup()
	db, err := New(Options{Path: path, NoSync: true})
	require.NoError(b, err)
	defer db.Close()
	for i := 0; i < b.N; i++ {
		db.Save(context.Background(), map[string]interface{}{"counter": i, "label": fmt.Sprint(i)})
	}
}
