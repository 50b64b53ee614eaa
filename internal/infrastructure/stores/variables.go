// Package stores holds the host-owned mutable state shared with guest code
// through the capability surface: run-scoped variables and node-scoped cache.
// All mutation happens host-side under the store's own locking; the guest
// only issues request-response calls.
package stores

import (
	"sync"

	"github.com/goccy/go-json"
)

// VariableStore is the run/board-scoped variable table. Values are raw JSON,
// exactly as the guest supplied them.
type VariableStore interface {
	Get(name string) (json.RawMessage, bool)
	Set(name string, value json.RawMessage)
	Delete(name string)
	Has(name string) bool
}

// MemoryVariables is the in-memory VariableStore.
type MemoryVariables struct {
	mu   sync.RWMutex
	vars map[string]json.RawMessage
}

// NewMemoryVariables creates an empty variable store.
func NewMemoryVariables() *MemoryVariables {
	return &MemoryVariables{vars: make(map[string]json.RawMessage)}
}

func (s *MemoryVariables) Get(name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

func (s *MemoryVariables) Set(name string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

func (s *MemoryVariables) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, name)
}

func (s *MemoryVariables) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.vars[name]
	return ok
}

// VariableScopes hands out one variable store per scope key. Scope keys are
// board IDs when present, run IDs otherwise, so unrelated runs never observe
// each other's variables.
type VariableScopes struct {
	mu     sync.Mutex
	scopes map[string]*MemoryVariables
}

// NewVariableScopes creates an empty scope registry.
func NewVariableScopes() *VariableScopes {
	return &VariableScopes{scopes: make(map[string]*MemoryVariables)}
}

// ForScope returns the store for the given scope key, creating it on first use.
func (r *VariableScopes) ForScope(key string) VariableStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[key]
	if !ok {
		s = NewMemoryVariables()
		r.scopes[key] = s
	}
	return s
}

// DropScope discards a scope's variables, typically when a run finishes.
func (r *VariableScopes) DropScope(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.scopes, key)
}
