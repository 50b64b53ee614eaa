package wasm

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed means the bytes are not a loadable WASM module.
	ErrMalformed = errors.New("malformed wasm module")

	// ErrIncompatibleABI means the module reports an abi_version outside the
	// range this host speaks.
	ErrIncompatibleABI = errors.New("incompatible abi version")

	// ErrMissingExport means a required guest export is absent.
	ErrMissingExport = errors.New("missing required export")

	// ErrDuplicateNodeName means two node definitions in one package share a
	// name.
	ErrDuplicateNodeName = errors.New("duplicate node name")
)

// TrapError wraps a guest-side trap or call failure. The guest is untrusted,
// so the reason is preserved for diagnostics but never interpreted.
type TrapError struct {
	NodeName string
	Err      error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("guest trap in node %s: %v", e.NodeName, e.Err)
}

func (e *TrapError) Unwrap() error {
	return e.Err
}
