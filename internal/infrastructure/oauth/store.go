// Package oauth holds the host-side token store exposed to nodes through the
// oauth capability. Tokens are keyed by provider; refresh secrets stay
// host-side and never cross the guest boundary.
package oauth

import (
	"sync"

	"github.com/flowhost-dev/flowhost/wireformat"
)

// Token is the host-side record for one provider.
type Token struct {
	AccessToken  string
	TokenType    string
	ExpiresAt    *int64
	RefreshToken string // never serialized toward the guest
	Scopes       []string
}

// Wire converts the token to its guest-visible shape, dropping the refresh
// secret.
func (t Token) Wire() wireformat.OAuthTokenWire {
	return wireformat.OAuthTokenWire{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		ExpiresAt:   t.ExpiresAt,
		Scopes:      t.Scopes,
	}
}

// TokenStore maps providers to tokens.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]Token)}
}

// Put stores a provider token.
func (s *TokenStore) Put(provider string, token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[provider] = token
}

// Get returns the token for a provider.
func (s *TokenStore) Get(provider string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[provider]
	return t, ok
}

// Has reports whether a token exists for a provider.
func (s *TokenStore) Has(provider string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[provider]
	return ok
}
