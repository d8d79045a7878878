package session

import (
	"context"

	"github.com/votefest/wallet-service/internal/domain"
)

type identityContextKey struct{}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFrom returns the identity stored in ctx, or the anonymous identity.
func IdentityFrom(ctx context.Context) domain.Identity {
	if identity, ok := ctx.Value(identityContextKey{}).(domain.Identity); ok {
		return identity
	}
	return domain.Anonymous()
}
