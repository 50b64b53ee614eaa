// Package capability defines the permission model gating the host surface.
// A capability names one host-surface area a node may use; the enforcer
// decides, once per loaded package, whether each area is granted.
package capability

import (
	"fmt"
	"sort"
	"strings"
)

// Capability identifies one host-surface area.
type Capability string

const (
	NetworkHTTP      Capability = "network:http"
	NetworkWebsocket Capability = "network:websocket"
	StorageRead      Capability = "storage:read"
	StorageWrite     Capability = "storage:write"
	StorageNode      Capability = "storage:node"
	StorageUser      Capability = "storage:user"
	Variables        Capability = "variables"
	Cache            Capability = "cache"
	Streaming        Capability = "streaming"
	Models           Capability = "models"
	A2UI             Capability = "a2ui"
	OAuth            Capability = "oauth"
	Functions        Capability = "functions"
)

var known = map[Capability]bool{
	NetworkHTTP: true, NetworkWebsocket: true,
	StorageRead: true, StorageWrite: true, StorageNode: true, StorageUser: true,
	Variables: true, Cache: true, Streaming: true, Models: true,
	A2UI: true, OAuth: true, Functions: true,
}

// Parse converts a capability name to a Capability, rejecting unknown names.
func Parse(name string) (Capability, error) {
	c := Capability(strings.TrimSpace(name))
	if !known[c] {
		return "", fmt.Errorf("unknown capability %q", name)
	}
	return c, nil
}

func (c Capability) String() string {
	return string(c)
}

// Set is an immutable-by-convention collection of granted capabilities.
type Set map[Capability]bool

// NewSet builds a set from capabilities.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// ParseSet converts declared permission names into a Set. Unknown names are an
// error so a package cannot smuggle in capabilities the host does not know.
func ParseSet(names []string) (Set, error) {
	s := make(Set, len(names))
	for _, name := range names {
		c, err := Parse(name)
		if err != nil {
			return nil, err
		}
		s[c] = true
	}
	return s, nil
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	return s[c]
}

// Union returns a new set containing both s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for c := range s {
		out[c] = true
	}
	for c := range other {
		out[c] = true
	}
	return out
}

// Names returns the capability names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for c := range s {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return names
}
