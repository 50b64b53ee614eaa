package trust

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateDefaultDeny(t *testing.T) {
	t.Parallel()

	g, err := NewGate(nil)
	require.NoError(t, err)
	assert.False(t, g.Allow("sha256-unknown", "board-1"))
}

func TestGateOnceScopeConsumedByFirstInvocation(t *testing.T) {
	t.Parallel()

	g, err := NewGate(nil)
	require.NoError(t, err)
	require.NoError(t, g.Grant(Decision{Digest: "d1", Scope: ScopeOnce}))

	assert.True(t, g.Allow("d1", ""))
	assert.False(t, g.Allow("d1", ""), "once-scope must not admit a second invocation")
}

func TestGateBoardScope(t *testing.T) {
	t.Parallel()

	g, err := NewGate(nil)
	require.NoError(t, err)
	require.NoError(t, g.Grant(Decision{Digest: "d1", Scope: ScopeBoard, BoardID: "board-1"}))

	assert.True(t, g.Allow("d1", "board-1"))
	assert.True(t, g.Allow("d1", "board-1"), "board scope is durable")
	assert.False(t, g.Allow("d1", "board-2"))
	assert.False(t, g.Allow("d1", ""))
}

func TestGateEmptyBoardGrantAdmitsNothing(t *testing.T) {
	t.Parallel()

	g, err := NewGate(nil)
	require.NoError(t, err)
	require.NoError(t, g.Grant(Decision{Digest: "d1", Scope: ScopeBoard, BoardID: ""}))

	assert.False(t, g.Allow("d1", ""), "a board grant without a board must not admit board-less invocations")
	assert.False(t, g.Allow("d1", "board-1"))
}

func TestGatePackageScope(t *testing.T) {
	t.Parallel()

	g, err := NewGate(nil)
	require.NoError(t, err)
	require.NoError(t, g.Grant(Decision{Digest: "d1", Scope: ScopePackage}))

	assert.True(t, g.Allow("d1", "board-1"))
	assert.True(t, g.Allow("d1", "anything"))
	assert.False(t, g.Allow("d2", "board-1"))
}

func TestGateRevoke(t *testing.T) {
	t.Parallel()

	g, err := NewGate(nil)
	require.NoError(t, err)
	require.NoError(t, g.Grant(Decision{Digest: "d1", Scope: ScopePackage}))
	require.NoError(t, g.Grant(Decision{Digest: "d1", Scope: ScopeBoard, BoardID: "b"}))
	require.NoError(t, g.Grant(Decision{Digest: "d2", Scope: ScopePackage}))

	require.NoError(t, g.Revoke("d1"))
	assert.False(t, g.Allow("d1", "b"))
	assert.True(t, g.Allow("d2", "b"))
}

func TestFileStorePersistsDurableScopesOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trust.yaml")
	store := NewFileStore(path)

	g, err := NewGate(store)
	require.NoError(t, err)
	require.NoError(t, g.Grant(Decision{Digest: "d1", Scope: ScopePackage}))
	require.NoError(t, g.Grant(Decision{Digest: "d2", Scope: ScopeBoard, BoardID: "b"}))
	require.NoError(t, g.Grant(Decision{Digest: "d3", Scope: ScopeOnce}))

	// A fresh gate over the same file sees the durable decisions.
	reloaded, err := NewGate(store)
	require.NoError(t, err)
	assert.True(t, reloaded.Allow("d1", "any"))
	assert.True(t, reloaded.Allow("d2", "b"))
	assert.False(t, reloaded.Allow("d3", ""), "once-scope grants never persist")
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "absent", "trust.yaml"))
	decisions, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, decisions)
}
