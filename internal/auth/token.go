// Package auth defines the boundary to the external auth provider. The rest
// of the subsystem never sees credentials, only a TokenProvider.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dovelchat/msgcache/internal/common"
)

// TokenProvider supplies the bearer token attached to directory and file
// service requests. The token itself is issued and refreshed by the host
// application's auth layer.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticProvider returns a fixed token. Used in tests and by the CLI, where
// the token comes from the environment.
type StaticProvider string

func (s StaticProvider) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", common.ErrInvalidToken
	}
	return string(s), nil
}

// ExpiryGuard wraps another provider and refuses to hand out JWTs whose exp
// claim has already passed, so callers fail fast with common.ErrTokenExpired
// instead of collecting a 401 from the backend.
//
// The token signature is NOT verified here; verification is the backend's
// job and the signing key is not available on-device.
type ExpiryGuard struct {
	inner  TokenProvider
	parser *jwt.Parser
	now    func() time.Time
}

// NewExpiryGuard wraps inner with a client-side expiry check.
func NewExpiryGuard(inner TokenProvider) *ExpiryGuard {
	return &ExpiryGuard{
		inner:  inner,
		parser: jwt.NewParser(),
		now:    time.Now,
	}
}

func (g *ExpiryGuard) Token(ctx context.Context) (string, error) {
	token, err := g.inner.Token(ctx)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	if _, _, err := g.parser.ParseUnverified(token, claims); err != nil {
		// Opaque (non-JWT) tokens pass through untouched.
		return token, nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}
	if exp.Before(g.now()) {
		return "", fmt.Errorf("token expired at %s: %w", exp.Format(time.RFC3339), common.ErrTokenExpired)
	}
	return token, nil
}
