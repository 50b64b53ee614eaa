package hostfuncs

import "context"

type sessionKey struct{}

// WithSession attaches the invocation session to the context passed into
// guest calls. Host functions recover it from there; a context without a
// session makes every capability call a no-op returning its null sentinel.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session attached by WithSession, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
