package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/tetratelabs/wazero/api"

	"github.com/flowhost-dev/flowhost/wireformat"
)

// readGuestBytes copies a packed ptr+len buffer out of guest memory. A zero
// packed value or an out-of-bounds range yields ok=false.
func readGuestBytes(mod api.Module, packed uint64) ([]byte, bool) {
	if packed == 0 {
		return nil, false
	}
	ptr, length := wireformat.UnpackPtrLen(packed)
	if length == 0 {
		return nil, true
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, false
	}
	// The guest may deallocate or reuse the region after the call returns;
	// copy so host code never aliases guest memory.
	out := make([]byte, length)
	copy(out, data)
	return out, true
}

// readGuestString reads a packed ptr+len UTF-8 string from guest memory.
func readGuestString(mod api.Module, packed uint64) (string, bool) {
	data, ok := readGuestBytes(mod, packed)
	if !ok {
		return "", false
	}
	return string(data), true
}

// readGuestJSON reads and unmarshals a packed JSON buffer from guest memory.
func readGuestJSON(mod api.Module, packed uint64, v any) bool {
	data, ok := readGuestBytes(mod, packed)
	if !ok || len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// writeGuestBytes copies data into guest memory via the guest's allocate
// export and returns the packed ptr+len. The guest owns the allocation and
// frees it with deallocate once consumed. Returns 0 on any failure; 0 is the
// null sentinel every host function uses for "no result".
func writeGuestBytes(ctx context.Context, mod api.Module, data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		slog.Error("guest module missing allocate export", "module", mod.Name())
		return 0
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // WASM32 pointers are 32-bit
	if !mod.Memory().Write(ptr, data) {
		return 0
	}
	return wireformat.PackPtrLen(ptr, uint32(len(data))) //nolint:gosec // length fits WASM32
}

// writeGuestString writes a UTF-8 string into guest memory.
func writeGuestString(ctx context.Context, mod api.Module, s string) uint64 {
	return writeGuestBytes(ctx, mod, []byte(s))
}

// writeGuestJSON marshals v and writes it into guest memory.
func writeGuestJSON(ctx context.Context, mod api.Module, v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal host response", "error", err)
		return 0
	}
	return writeGuestBytes(ctx, mod, data)
}
