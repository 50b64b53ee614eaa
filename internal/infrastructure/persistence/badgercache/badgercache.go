// Package badgercache backs the node cache with a Badger key-value store so
// cached entries survive host restarts.
package badgercache

import (
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/goccy/go-json"
)

// Cache is a persistent CacheStore implementation. Keys are namespaced by
// node name so one node cannot read another node's cache entries.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) a Badger-backed cache at dir.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Badger's own logger is too chatty for a cache
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store at %s: %w", dir, err)
	}
	return &Cache{db: db}, nil
}

func entryKey(node, key string) []byte {
	return []byte(node + "\x00" + key)
}

// Get returns the cached value, or false if absent. Read errors degrade to a
// miss: the cache is best-effort.
func (c *Cache) Get(node, key string) (json.RawMessage, bool) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(node, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		slog.Warn("cache read failed", "node", node, "key", key, "error", err)
		return nil, false
	}
	return value, true
}

func (c *Cache) Set(node, key string, value json.RawMessage) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(node, key), value)
	})
	if err != nil {
		slog.Warn("cache write failed", "node", node, "key", key, "error", err)
	}
}

func (c *Cache) Delete(node, key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(node, key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		slog.Warn("cache delete failed", "node", node, "key", key, "error", err)
	}
}

func (c *Cache) Has(node, key string) bool {
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(entryKey(node, key))
		return err
	})
	return err == nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
