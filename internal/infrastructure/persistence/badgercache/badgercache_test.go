package badgercache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.Has("node-a", "k"))
	_, ok := c.Get("node-a", "k")
	assert.False(t, ok)

	c.Set("node-a", "k", []byte(`{"answer":42}`))
	assert.True(t, c.Has("node-a", "k"))
	got, ok := c.Get("node-a", "k")
	require.True(t, ok)
	assert.JSONEq(t, `{"answer":42}`, string(got))

	c.Delete("node-a", "k")
	assert.False(t, c.Has("node-a", "k"))
}

func TestCacheNamespacesByNode(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	c.Set("node-a", "shared", []byte(`"a"`))
	c.Set("node-b", "shared", []byte(`"b"`))

	got, ok := c.Get("node-a", "shared")
	require.True(t, ok)
	assert.JSONEq(t, `"a"`, string(got))

	got, ok = c.Get("node-b", "shared")
	require.True(t, ok)
	assert.JSONEq(t, `"b"`, string(got))
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	require.NoError(t, err)
	c.Set("node-a", "k", []byte(`1`))
	require.NoError(t, c.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.Get("node-a", "k")
	require.True(t, ok)
	assert.JSONEq(t, `1`, string(got))
}
