package capability

import (
	"errors"
	"fmt"
)

// ErrDenied is the sentinel wrapped by every denial. Callers that need the
// concrete capability use errors.As with *DeniedError.
var ErrDenied = errors.New("capability denied")

// DeniedError reports a denied capability check.
type DeniedError struct {
	Capability Capability
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("capability denied: %s", e.Capability)
}

func (e *DeniedError) Unwrap() error {
	return ErrDenied
}

// Enforcer answers capability checks for one loaded package instance. The
// granted set is resolved once, from the union of declared permissions and
// any runtime grants, and is immutable afterwards. Changing grants requires
// reloading the package.
type Enforcer struct {
	granted Set
}

// NewEnforcer resolves the granted set from the package's declared
// permissions and runtime-granted overrides.
func NewEnforcer(declared Set, overrides Set) *Enforcer {
	return &Enforcer{granted: declared.Union(overrides)}
}

// Check returns nil if the capability is granted, a *DeniedError otherwise.
// Denial is fail-closed: callers translate it into the surface function's
// null/false sentinel, never a trap.
func (e *Enforcer) Check(c Capability) error {
	if e == nil || !e.granted.Has(c) {
		return &DeniedError{Capability: c}
	}
	return nil
}

// Granted returns a copy of the resolved grant set.
func (e *Enforcer) Granted() Set {
	out := make(Set, len(e.granted))
	for c := range e.granted {
		out[c] = true
	}
	return out
}
