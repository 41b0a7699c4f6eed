package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStoreRoundtrip(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping())

	data := []byte("opaque encrypted container bytes")
	require.NoError(t, store.SaveSnapshot("snap-1", data))

	out, err := store.LoadSnapshot("snap-1")
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// Replacing an existing ID is allowed and atomic.
	replacement := []byte("second container")
	require.NoError(t, store.SaveSnapshot("snap-1", replacement))
	out, err = store.LoadSnapshot("snap-1")
	require.NoError(t, err)
	assert.Equal(t, replacement, out)
}

func TestFileSystemStoreNotFound(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadSnapshot("missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.ErrorIs(t, store.DeleteSnapshot("missing"), ErrSnapshotNotFound)
}

func TestFileSystemStoreRejectsPathTraversal(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", `a\b`, "..", "x..y"} {
		assert.Error(t, store.SaveSnapshot(id, []byte("data")), "id %q", id)
		_, err := store.LoadSnapshot(id)
		assert.Error(t, err, "id %q", id)
		assert.Error(t, store.DeleteSnapshot(id), "id %q", id)
	}
}

func TestFileSystemStoreList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSystemStore(dir)
	require.NoError(t, err)

	infos, err := store.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, infos)

	require.NoError(t, store.SaveSnapshot("older", []byte("a")))
	// Mod times are the sort key; space them out explicitly.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "older"+snapshotExt), past, past))
	require.NoError(t, store.SaveSnapshot("newer", []byte("bb")))

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	infos, err = store.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "newer", infos[0].ID)
	assert.Equal(t, int64(2), infos[0].Size)
	assert.Equal(t, "older", infos[1].ID)
}

func TestFileSystemStoreDelete(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.SaveSnapshot("doomed", []byte("data")))
	require.NoError(t, store.DeleteSnapshot("doomed"))
	_, err = store.LoadSnapshot("doomed")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestFileSystemStorePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "store")
	store, err := NewFileSystemStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.SaveSnapshot("snap", []byte("data")))

	di, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, DirPermissions, di.Mode().Perm())

	fi, err := os.Stat(filepath.Join(dir, "snap"+snapshotExt))
	require.NoError(t, err)
	assert.Equal(t, FilePermissions, fi.Mode().Perm())
}

func TestNewStoreFactory(t *testing.T) {
	store, err := NewStore(StoreConfig{
		Type:   StoreTypeFileSystem,
		Config: map[string]interface{}{"base_path": t.TempDir()},
	})
	require.NoError(t, err)
	require.NoError(t, store.Ping())

	_, err = NewStore(StoreConfig{Type: StoreTypeFileSystem})
	assert.Error(t, err)

	_, err = NewStore(StoreConfig{Type: "bogus"})
	assert.Error(t, err)
}
