package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhost-dev/flowhost/wireformat"
)

func newTestContext() *Context {
	return NewContext(NewMemoryStore(), NewMemoryStore(), NewMemoryStore(),
		"app-1", "board-1", "node-1", "user-1")
}

func TestContextIssuesScopedDirectories(t *testing.T) {
	t.Parallel()

	c := newTestContext()

	tests := []struct {
		name string
		fp   wireformat.FlowPathWire
		path string
		ref  string
	}{
		{"board storage", c.StorageDir(false), "boards/board-1/storage", RefBoard},
		{"node storage", c.StorageDir(true), "boards/board-1/storage/node-1", RefBoard},
		{"upload", c.UploadDir(), "boards/board-1/upload", RefBoard},
		{"global cache", c.CacheDir(false, false), "tmp/global/apps/app-1", RefCache},
		{"user cache", c.CacheDir(false, true), "tmp/user/user-1/apps/app-1", RefCache},
		{"node cache", c.CacheDir(true, false), "tmp/global/apps/app-1/node-1", RefCache},
		{"user dir", c.UserDir(false), "users/user-1/apps/app-1", RefUser},
		{"user node dir", c.UserDir(true), "users/user-1/apps/app-1/node-1", RefUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.path, tt.fp.Path)
			assert.Equal(t, tt.ref, tt.fp.StoreRef)
		})
	}
}

func TestContextRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	ctx := context.Background()

	tests := []struct {
		name string
		fp   wireformat.FlowPathWire
	}{
		{"other board", wireformat.FlowPathWire{Path: "boards/board-2/storage/f", StoreRef: RefBoard}},
		{"traversal", wireformat.FlowPathWire{Path: "boards/board-1/../board-2/storage/f", StoreRef: RefBoard}},
		{"other user", wireformat.FlowPathWire{Path: "users/user-2/apps/app-1/f", StoreRef: RefUser}},
		{"other app cache", wireformat.FlowPathWire{Path: "tmp/global/apps/app-2/f", StoreRef: RefCache}},
		{"unknown ref", wireformat.FlowPathWire{Path: "boards/board-1/storage/f", StoreRef: "bogus"}},
		{"absolute escape", wireformat.FlowPathWire{Path: "../../etc/passwd", StoreRef: RefBoard}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := c.Read(ctx, tt.fp)
			assert.Error(t, err)
			assert.Error(t, c.Write(ctx, tt.fp, []byte("x")))
		})
	}
}

func TestContextReadWriteList(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	ctx := context.Background()
	dir := c.StorageDir(false)

	require.NoError(t, c.Write(ctx, Child(dir, "a.txt"), []byte("alpha")))
	require.NoError(t, c.Write(ctx, Child(dir, "b.txt"), []byte("beta")))

	data, err := c.Read(ctx, Child(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	entries, err := c.List(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "boards/board-1/storage/a.txt", entries[0].Path)
	assert.Equal(t, RefBoard, entries[0].StoreRef)

	_, err = c.Read(ctx, Child(dir, "missing.txt"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirStore(t *testing.T) {
	t.Parallel()

	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "boards/b/storage/f.txt", []byte("data")))
	got, err := store.Get(ctx, "boards/b/storage/f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	keys, err := store.List(ctx, "boards/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"boards/b/storage/f.txt"}, keys)

	_, err = store.Get(ctx, "boards/b/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirStoreConfinesEscapingKeys(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := NewDirStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	// Dot segments collapse inside the root instead of climbing out of it.
	require.NoError(t, store.Put(ctx, "../esc.txt", []byte("x")))
	_, err = os.Stat(filepath.Join(filepath.Dir(root), "esc.txt"))
	assert.True(t, os.IsNotExist(err))

	got, err := store.Get(ctx, "esc.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}
