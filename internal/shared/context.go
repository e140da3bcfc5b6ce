package shared

import "context"

// Identity describes the authenticated caller as resolved by the upstream
// gateway. CompanyID scopes every query; it is always passed explicitly to
// services and repositories, never read from ambient state.
type Identity struct {
	UserID    int64
	CompanyID int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
