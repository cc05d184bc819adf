package auth

import (
	"context"

	"github.com/keypost/keypost/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// principalContextKey is the context key for storing the authenticated Principal.
	principalContextKey contextKey = "principal"
)

// ContextWithPrincipal adds the authenticated Principal to the context.
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the Principal from the context.
// Returns nil if not present.
func PrincipalFromContext(ctx context.Context) *model.Principal {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok {
		return nil
	}
	return p
}

// UserFromContext returns the caller's local user record, or nil if unauthenticated.
func UserFromContext(ctx context.Context) *model.User {
	p := PrincipalFromContext(ctx)
	if p == nil {
		return nil
	}
	return p.User
}

// UserIDFromContext is a convenience function to get the local user ID from context.
// Returns empty string if not authenticated.
func UserIDFromContext(ctx context.Context) string {
	return PrincipalFromContext(ctx).UserID()
}
