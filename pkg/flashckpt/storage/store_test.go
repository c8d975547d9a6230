package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nash635/dlrover/pkg/flashckpt/storage"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) storage.Store

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	t.Run(name+"/Save_and_Load", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		data := []byte(`{"w":[1,2,3]}`)
		require.NoError(t, store.Save(5, data, ""))

		loaded, err := store.Load(5)
		require.NoError(t, err)
		assert.Equal(t, data, loaded)
	})

	t.Run(name+"/Load_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load(999)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run(name+"/Save_Overwrite", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(7, []byte("first"), ""))
		require.NoError(t, store.Save(7, []byte("second"), ""))

		loaded, err := store.Load(7)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), loaded)
	})

	t.Run(name+"/Latest_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Latest()
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run(name+"/Latest_HighestStep", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(10, []byte("ten"), ""))
		require.NoError(t, store.Save(30, []byte("thirty"), ""))
		require.NoError(t, store.Save(20, []byte("twenty"), ""))

		info, err := store.Latest()
		require.NoError(t, err)
		assert.Equal(t, uint64(30), info.Step)
		assert.Equal(t, int64(len("thirty")), info.Size)
	})

	t.Run(name+"/List_Ordered", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(3, []byte("c"), ""))
		require.NoError(t, store.Save(1, []byte("a"), ""))
		require.NoError(t, store.Save(2, []byte("b"), ""))

		infos, err := store.List()
		require.NoError(t, err)
		require.Len(t, infos, 3)
		assert.Equal(t, uint64(1), infos[0].Step)
		assert.Equal(t, uint64(2), infos[1].Step)
		assert.Equal(t, uint64(3), infos[2].Step)
	})

	t.Run(name+"/List_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		infos, err := store.List()
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run(name+"/Delete", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(4, []byte("gone"), ""))
		require.NoError(t, store.Delete(4))

		_, err := store.Load(4)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		// Deleting a missing step is not an error.
		assert.NoError(t, store.Delete(4))
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.Save(1, []byte("x"), ""), storage.ErrStoreClosed)
		_, err := store.Load(1)
		assert.ErrorIs(t, err, storage.ErrStoreClosed)
		_, err = store.List()
		assert.ErrorIs(t, err, storage.ErrStoreClosed)
	})
}

func TestFSStore(t *testing.T) {
	storeContractTest(t, "FSStore", func(t *testing.T) storage.Store {
		store, err := storage.NewFSStore(t.TempDir())
		require.NoError(t, err)
		return store
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContractTest(t, "SQLiteStore", func(t *testing.T) storage.Store {
		store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
		require.NoError(t, err)
		return store
	})
}

func TestFSStoreCustomPath(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFSStore(dir)
	require.NoError(t, err)
	defer store.Close()

	custom := filepath.Join(dir, "special", "model.ckpt")
	require.NoError(t, store.Save(12, []byte("payload"), custom))

	// The custom destination exists and the step remains loadable.
	assert.FileExists(t, custom)
	loaded, err := store.Load(12)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), loaded)

	info, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), info.Step)
}

func TestSQLiteStorePathRecorded(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ckpt.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(3, []byte("x"), "/mnt/ckpt/3"))

	info, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/ckpt/3", info.Path)
}
