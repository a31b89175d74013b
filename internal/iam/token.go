package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 15 * time.Minute

// TokenClaims is the signed payload embedded in an access token. The JSON
// shape is a wire contract consumed by downstream services: sub/email identify
// the user, iat/exp are epoch seconds, and the remaining fields carry the
// resolved Claims snapshot at issuance time.
type TokenClaims struct {
	Email             string                   `json:"email"`
	GlobalPermissions []string                 `json:"global_permissions"`
	GlobalRoles       []string                 `json:"global_roles"`
	Services          map[string]ServiceClaims `json:"services"`
	jwt.RegisteredClaims
}

// AccessClaims returns the resolved-claims portion of the token.
func (c *TokenClaims) AccessClaims() Claims {
	return Claims{
		GlobalPermissions: c.GlobalPermissions,
		GlobalRoles:       c.GlobalRoles,
		Services:          c.Services,
	}
}

// Issuer signs and verifies access tokens with a process-wide HS256 secret.
// The token is the cache: permissions changed after issuance are not visible
// until the token is reissued.
type Issuer struct {
	resolver *Resolver
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

func NewIssuer(resolver *Resolver, secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if resolver == nil {
		return nil, errors.New("iam: resolver is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("iam: token secret is required")
	}
	issuer := &Issuer{
		resolver: resolver,
		secret:   secret,
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue resolves the user's effective access rights and signs them into an
// expiring bearer token. Returns the token and its lifetime.
func (i *Issuer) Issue(ctx context.Context, user User) (string, time.Duration, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", 0, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	resolved, err := i.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return "", 0, err
	}

	now := i.now().UTC()
	claims := TokenClaims{
		Email:             user.Email,
		GlobalPermissions: resolved.GlobalPermissions,
		GlobalRoles:       resolved.GlobalRoles,
		Services:          resolved.Services,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, i.ttl, nil
}

// Verify validates signature and expiry and decodes the claims. Expiry is
// checked with no leeway. Returns ErrTokenExpired past exp, ErrTokenInvalid
// for anything else wrong with the token.
func (i *Issuer) Verify(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	if claims.IssuedAt == nil {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
