// Package wireformat defines the JSON wire structures and the packed-pointer
// convention crossing the WASM host/guest boundary. These types are the ABI
// contract and must remain stable across language bindings.
package wireformat

import (
	"fmt"
	"time"
)

// PackPtrLen packs a guest pointer and length into the single i64 value the
// ABI uses for returning buffers. Zero means "null".
func PackPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// UnpackPtrLen is the inverse of PackPtrLen.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)    //nolint:gosec // WASM32 pointers are 32-bit
	length = uint32(packed)       //nolint:gosec // WASM32 lengths are 32-bit
	return ptr, length
}

// HTTPRequestWire is the guest-to-host shape of an HTTP request. The host
// performs the actual network call so it can apply allow-lists and limits
// transparently.
type HTTPRequestWire struct {
	Method    string              `json:"method"`
	URL       string              `json:"url"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Body      string              `json:"body,omitempty"` // base64
	TimeoutMs int64               `json:"timeout_ms,omitempty"`
}

// HTTPResponseWire is the host-to-guest shape of an HTTP response.
type HTTPResponseWire struct {
	StatusCode    int                 `json:"status_code"`
	Headers       map[string][]string `json:"headers,omitempty"`
	Body          string              `json:"body,omitempty"` // base64
	BodyTruncated bool                `json:"body_truncated,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// FlowPathWire is the opaque storage locator issued by the host. The guest
// never sees a raw filesystem path; the locator is only meaningful to host
// storage calls, within the invocation that received it.
type FlowPathWire struct {
	Path          string `json:"path"`
	StoreRef      string `json:"store_ref"`
	CacheStoreRef string `json:"cache_store_ref,omitempty"`
}

// EmbedRequestWire is the guest-to-host shape of an embedding request.
type EmbedRequestWire struct {
	ModelBit string   `json:"model_bit"`
	Texts    []string `json:"texts"`
}

// EmbedResponseWire carries the embedding vectors back to the guest.
type EmbedResponseWire struct {
	Vectors [][]float32 `json:"vectors"`
}

// OAuthTokenWire is the host-to-guest shape of an OAuth token. Refresh
// secrets never cross the boundary.
type OAuthTokenWire struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// DateFormat is the canonical wire encoding for Date pin values.
const DateFormat = time.RFC3339Nano

// ParseDate parses a wire-encoded date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
