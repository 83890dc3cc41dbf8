package requestctx

import "context"

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the AuthContext.
var Key contextKey = "open-image-gateway/requestctx"

// AuthContext is the per-request outcome of caller authentication. It lives
// only for the request and is never persisted.
type AuthContext struct {
	CallerAuthorized bool
	// CallerID is a stable, non-reversible fingerprint of the caller secret
	// used to key rate limits and idempotency records.
	CallerID           string
	UpstreamCredential string
}

// WithContext embeds the auth context into the parent context.
func WithContext(parent context.Context, ac *AuthContext) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, ac)
}

// FromContext retrieves the auth context if present.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	if ctx == nil {
		return nil, false
	}
	ac, ok := ctx.Value(Key).(*AuthContext)
	return ac, ok
}

// FiberLocalsKey returns the key used in fiber.Locals for auth context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
