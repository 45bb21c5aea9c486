package auth

import (
	"context"

	"github.com/chobo-shop/api/internal/domain"
)

// ContextProvider answers "who is signed in" from the identity the middleware stored in context.
type ContextProvider struct{}

// NewContextProvider returns the request-context backed auth provider.
func NewContextProvider() ContextProvider {
	return ContextProvider{}
}

// CurrentUser returns the signed-in user when the request carried a verified token.
func (ContextProvider) CurrentUser(ctx context.Context) (domain.AuthUser, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return domain.AuthUser{}, false
	}
	return domain.AuthUser{ID: identity.UID, Email: identity.Email, Locale: identity.Locale}, true
}

// IsAuthenticated reports whether a verified identity is present.
func (p ContextProvider) IsAuthenticated(ctx context.Context) bool {
	_, ok := p.CurrentUser(ctx)
	return ok
}
