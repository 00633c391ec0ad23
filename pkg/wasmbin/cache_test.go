package wasmbin

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePutGet(t *testing.T) {
	store := openTestStore(t)
	data := []byte("\x00asm\x01\x00\x00\x00")

	require.NoError(t, store.Put("6.0.3", data, "https://example.com/6.0.3/radare2.wasm"))

	got, err := store.Get("6.0.3")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStoreGetMissing(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("9.9.9")
	assert.ErrorIs(t, err, ErrModuleNotCached)
}

func TestStoreListMetadata(t *testing.T) {
	store := openTestStore(t)
	data := []byte("module bytes")
	require.NoError(t, store.Put("6.0.3", data, "test"))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	sum := sha256.Sum256(data)
	assert.Equal(t, "6.0.3", entries[0].Version)
	assert.Equal(t, int64(len(data)), entries[0].Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), entries[0].SHA256)
	assert.Equal(t, "test", entries[0].Source)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestStorePutOverwrites(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put("6.0.3", []byte("first"), "a"))
	require.NoError(t, store.Put("6.0.3", []byte("second"), "b"))

	got, err := store.Get("6.0.3")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Source)
}

func TestStoreDelete(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put("6.0.3", []byte("bytes"), "test"))

	require.NoError(t, store.Delete("6.0.3"))
	_, err := store.Get("6.0.3")
	assert.ErrorIs(t, err, ErrModuleNotCached)

	// Deleting again is not an error.
	require.NoError(t, store.Delete("6.0.3"))
}

func TestStoreRejectsPathLikeVersions(t *testing.T) {
	store := openTestStore(t)

	for _, version := range []string{"", "..", "a/b", `a\b`} {
		_, err := store.Get(version)
		assert.ErrorIs(t, err, ErrModuleNotCached, "version %q", version)
		assert.Error(t, store.Put(version, []byte("x"), "test"), "version %q", version)
	}
}

func TestStoreMissingBlobDropsRow(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("6.0.3", []byte("bytes"), "test"))
	require.NoError(t, os.Remove(filepath.Join(dir, "modules", "6.0.3.wasm")))

	_, err = store.Get("6.0.3")
	assert.ErrorIs(t, err, ErrModuleNotCached)

	entries, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}
