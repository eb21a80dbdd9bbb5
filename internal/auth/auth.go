// Package auth authenticates builders from bearer tokens and decides who may
// mutate a platform's composition.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/errors"
)

// Actor is an authenticated principal.
type Actor struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
}

// Claims is the JWT payload the composer issues and accepts.
type Claims struct {
	Name     string `json:"name,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authorizer validates tokens and answers mutation checks.
type Authorizer struct {
	secret []byte
	issuer string
}

// NewAuthorizer constructs an authorizer for HMAC-signed tokens.
func NewAuthorizer(secret []byte, issuer string) *Authorizer {
	return &Authorizer{secret: secret, issuer: issuer}
}

// IssueToken mints a signed token for an actor. Used by tooling and tests.
func (a *Authorizer) IssueToken(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:     actor.Name,
		TenantID: actor.TenantID,
		Admin:    actor.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a bearer token and returns the actor it names.
func (a *Authorizer) ParseToken(tokenString string) (Actor, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return Actor{}, errors.Unauthorized("missing bearer token")
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Actor{}, errors.Unauthorized("invalid token")
	}
	if claims.Subject == "" {
		return Actor{}, errors.Unauthorized("token has no subject")
	}

	return Actor{
		ID:       claims.Subject,
		Name:     claims.Name,
		TenantID: claims.TenantID,
		Admin:    claims.Admin,
	}, nil
}

// CanMutate reports whether the actor may change a platform's composition:
// global admins and the platform's listed admins.
func CanMutate(actor Actor, p platform.Platform) bool {
	if actor.Admin {
		return true
	}
	for _, admin := range p.Admins {
		if admin == actor.ID {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithActor attaches the authenticated actor to a request context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFrom extracts the authenticated actor from a context.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}
