// Package storage mediates all guest file access. Guests only ever hold
// FlowPath locators issued by the host; resolution back to a concrete store
// happens host-side, so credentials and real paths never cross the boundary.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// BlobStore is one addressable object store. Paths are slash-separated
// logical keys, not filesystem paths.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = fmt.Errorf("object not found")

// MemoryStore is an in-memory BlobStore, used in tests and as the default
// backing for ephemeral cache directories.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[normalizeKey(key)] = buf
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[normalizeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = normalizeKey(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix+"/") || k == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DirStore is a BlobStore over a local directory tree. Keys are confined to
// the root; escaping keys are rejected during normalization.
type DirStore struct {
	root string
}

// NewDirStore creates a store rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root %s: %w", dir, err)
	}
	return &DirStore{root: dir}, nil
}

func (s *DirStore) hostPath(key string) (string, error) {
	key = normalizeKey(key)
	if key == "" || strings.HasPrefix(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *DirStore) Put(_ context.Context, key string, data []byte) error {
	p, err := s.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	return os.WriteFile(p, data, 0o600)
}

func (s *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.hostPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) //nolint:gosec // key is normalized and rooted
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (s *DirStore) List(_ context.Context, prefix string) ([]string, error) {
	base, err := s.hostPath(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.Walk(base, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// normalizeKey cleans a logical key: forward slashes, no leading slash, no
// dot segments surviving path.Clean.
func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}
