package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/flowhost-dev/flowhost/wireformat"
)

// Store references carried inside FlowPath locators. The guest sees only the
// ref string; the mapping to a concrete BlobStore stays host-side.
const (
	RefBoard = "board"
	RefCache = "cache"
	RefUser  = "user"
)

// Context issues FlowPath locators and resolves them back to blob stores for
// one invocation. Node-scoped directory requests resolve inside the node's
// assigned subtree and nowhere else.
type Context struct {
	boardStore BlobStore
	cacheStore BlobStore
	userStore  BlobStore

	appID   string
	boardID string
	nodeID  string
	userID  string
}

// NewContext binds the three scoped stores to one invocation's identifiers.
func NewContext(board, cache, user BlobStore, appID, boardID, nodeID, userID string) *Context {
	return &Context{
		boardStore: board,
		cacheStore: cache,
		userStore:  user,
		appID:      appID,
		boardID:    boardID,
		nodeID:     nodeID,
		userID:     userID,
	}
}

// StorageDir issues the board storage directory, optionally scoped to the
// invoking node's subtree.
func (c *Context) StorageDir(nodeScoped bool) wireformat.FlowPathWire {
	p := path.Join("boards", c.boardID, "storage")
	if nodeScoped {
		p = path.Join(p, c.nodeID)
	}
	return wireformat.FlowPathWire{Path: p, StoreRef: RefBoard}
}

// UploadDir issues the board upload directory.
func (c *Context) UploadDir() wireformat.FlowPathWire {
	return wireformat.FlowPathWire{
		Path:     path.Join("boards", c.boardID, "upload"),
		StoreRef: RefBoard,
	}
}

// CacheDir issues an ephemeral cache directory, optionally scoped to the node
// and/or the user.
func (c *Context) CacheDir(nodeScoped, userScoped bool) wireformat.FlowPathWire {
	p := "tmp"
	if userScoped {
		p = path.Join(p, "user", c.userID)
	} else {
		p = path.Join(p, "global")
	}
	p = path.Join(p, "apps", c.appID)
	if nodeScoped {
		p = path.Join(p, c.nodeID)
	}
	return wireformat.FlowPathWire{Path: p, StoreRef: RefCache}
}

// UserDir issues the per-user app directory.
func (c *Context) UserDir(nodeScoped bool) wireformat.FlowPathWire {
	p := path.Join("users", c.userID, "apps", c.appID)
	if nodeScoped {
		p = path.Join(p, c.nodeID)
	}
	return wireformat.FlowPathWire{Path: p, StoreRef: RefUser}
}

// resolve maps a FlowPath back to its store and normalized key, rejecting
// locators that escape the subtrees this context may issue.
func (c *Context) resolve(fp wireformat.FlowPathWire) (BlobStore, string, error) {
	key := normalizeKey(fp.Path)
	if key == "" || strings.HasPrefix(key, "..") {
		return nil, "", fmt.Errorf("invalid flow path %q", fp.Path)
	}

	var store BlobStore
	var allowed []string
	switch fp.StoreRef {
	case RefBoard:
		store = c.boardStore
		allowed = []string{path.Join("boards", c.boardID)}
	case RefCache:
		store = c.cacheStore
		allowed = []string{
			path.Join("tmp", "global", "apps", c.appID),
			path.Join("tmp", "user", c.userID, "apps", c.appID),
		}
	case RefUser:
		store = c.userStore
		allowed = []string{path.Join("users", c.userID, "apps", c.appID)}
	default:
		return nil, "", fmt.Errorf("unknown store ref %q", fp.StoreRef)
	}
	if store == nil {
		return nil, "", fmt.Errorf("store %q not configured", fp.StoreRef)
	}

	for _, prefix := range allowed {
		if key == prefix || strings.HasPrefix(key, prefix+"/") {
			return store, key, nil
		}
	}
	return nil, "", fmt.Errorf("flow path %q escapes its issued subtree", fp.Path)
}

// Read returns the bytes at the locator, or ErrNotFound.
func (c *Context) Read(ctx context.Context, fp wireformat.FlowPathWire) ([]byte, error) {
	store, key, err := c.resolve(fp)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

// Write stores bytes at the locator.
func (c *Context) Write(ctx context.Context, fp wireformat.FlowPathWire, data []byte) error {
	store, key, err := c.resolve(fp)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

// List returns locators for every object under the locator's prefix.
func (c *Context) List(ctx context.Context, fp wireformat.FlowPathWire) ([]wireformat.FlowPathWire, error) {
	store, key, err := c.resolve(fp)
	if err != nil {
		return nil, err
	}
	keys, err := store.List(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]wireformat.FlowPathWire, 0, len(keys))
	for _, k := range keys {
		out = append(out, wireformat.FlowPathWire{Path: k, StoreRef: fp.StoreRef})
	}
	return out, nil
}

// Child returns a locator for an entry under a directory locator.
func Child(fp wireformat.FlowPathWire, name string) wireformat.FlowPathWire {
	return wireformat.FlowPathWire{
		Path:          path.Join(fp.Path, name),
		StoreRef:      fp.StoreRef,
		CacheStoreRef: fp.CacheStoreRef,
	}
}
