package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/domain"
	"github.com/google/uuid"
)

type claimsKey struct{}

// WithClaims attaches an authenticated identity to ctx.
func WithClaims(ctx context.Context, claims *domain.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*domain.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*domain.Claims)
	return claims, ok && claims != nil
}

// BearerToken returns the token from an "Authorization: Bearer <token>" header, or "".
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// DoctorResolver works out which clinician is acting on a request. Not every route mounts
// the authentication middleware, so it falls back to decoding the bearer token itself.
type DoctorResolver struct {
	tokens *JWTManager
}

func NewDoctorResolver(tokens *JWTManager) *DoctorResolver {
	return &DoctorResolver{tokens: tokens}
}

// Resolve returns the acting clinician, or nil when none can be established.
// A nil result is an expected outcome and callers proceed without attribution.
func (d *DoctorResolver) Resolve(r *http.Request) *uuid.UUID {
	if r == nil {
		return nil
	}

	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.UserID != uuid.Nil {
		id := claims.UserID
		return &id
	}

	token := BearerToken(r)
	if token == "" || d.tokens == nil {
		return nil
	}
	id, err := d.tokens.ParseIdentity(token)
	if err != nil {
		return nil
	}
	return &id
}
