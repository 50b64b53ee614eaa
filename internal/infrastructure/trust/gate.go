package trust

import (
	"sync"
)

// Gate answers whether a package digest may run. The default answer for an
// unknown digest is no.
type Gate struct {
	mu        sync.RWMutex
	store     *FileStore
	decisions []Decision
}

// NewGate creates a gate over an optional file store. A nil store keeps all
// decisions in memory.
func NewGate(store *FileStore) (*Gate, error) {
	g := &Gate{store: store}
	if store != nil {
		decisions, err := store.Load()
		if err != nil {
			return nil, err
		}
		g.decisions = decisions
	}
	return g, nil
}

// Allow reports whether the digest is trusted for the given board. A
// once-scoped grant is consumed by the first invocation it admits.
func (g *Gate) Allow(digest, boardID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, d := range g.decisions {
		if d.Digest != digest {
			continue
		}
		switch d.Scope {
		case ScopePackage:
			return true
		case ScopeBoard:
			// A board grant without a board admits nothing.
			if d.BoardID != "" && d.BoardID == boardID {
				return true
			}
		case ScopeOnce:
			g.decisions = append(g.decisions[:i], g.decisions[i+1:]...)
			return true
		}
	}
	return false
}

// Grant records a decision. Board and package scopes persist when a file
// store is attached; once-scope grants live only in this gate instance.
func (g *Gate) Grant(d Decision) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decisions = append(g.decisions, d)
	return g.persistLocked()
}

// Revoke removes every decision for a digest.
func (g *Gate) Revoke(digest string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.decisions[:0]
	for _, d := range g.decisions {
		if d.Digest != digest {
			kept = append(kept, d)
		}
	}
	g.decisions = kept
	return g.persistLocked()
}

// Decisions returns a copy of all recorded decisions.
func (g *Gate) Decisions() []Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Decision, len(g.decisions))
	copy(out, g.decisions)
	return out
}

func (g *Gate) persistLocked() error {
	if g.store == nil {
		return nil
	}
	return g.store.Save(g.decisions)
}
