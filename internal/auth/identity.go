package auth

import (
	"context"
	"time"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Subject    string    `json:"subject"`
	Scope      string    `json:"scope,omitempty"`
	KeyVersion int       `json:"keyVersion"`
	TokenType  string    `json:"tokenType"`
	TokenID    string    `json:"-"`
	ExpiresAt  time.Time `json:"-"`
}

type identityKey struct{}

// ContextWithIdentity returns a context carrying identity.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored in ctx.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
