package iam

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Header names read by the client-credential guard.
const (
	HeaderClientID     = "X-Client-Id"
	HeaderClientSecret = "X-Client-Secret"
)

const bearerPrefix = "Bearer "

// Identity is the result of a successful guard check: either an authenticated
// user with its decoded token claims, or an authenticated service with no
// associated user.
type Identity struct {
	User    *User
	Service *Service
	Claims  *TokenClaims
}

// Guard authenticates a request from its headers. A nil identity with a nil
// error means the guard's credentials were not presented at all, and other
// strategies may apply. Credentials that are present but wrong fail loudly.
type Guard interface {
	Authenticate(ctx context.Context, h http.Header) (*Identity, error)
}

// BearerGuard verifies a user access token from the Authorization header and
// re-checks that the subject is still an active user.
type BearerGuard struct {
	store  Store
	issuer *Issuer
}

func NewBearerGuard(store Store, issuer *Issuer) *BearerGuard {
	return &BearerGuard{store: store, issuer: issuer}
}

func (g *BearerGuard) Authenticate(ctx context.Context, h http.Header) (*Identity, error) {
	header := strings.TrimSpace(h.Get("Authorization"))
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, nil
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])

	claims, err := g.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := g.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user.Status != UserStatusActive {
		return nil, ErrAccountNotActive
	}
	return &Identity{User: &user, Claims: claims}, nil
}

// ClientGuard verifies a service's static client id/secret pair. This is
// service-to-service auth, not impersonation: the resulting identity carries
// no user.
type ClientGuard struct {
	store Store
}

func NewClientGuard(store Store) *ClientGuard {
	return &ClientGuard{store: store}
}

func (g *ClientGuard) Authenticate(ctx context.Context, h http.Header) (*Identity, error) {
	clientID := strings.TrimSpace(h.Get(HeaderClientID))
	clientSecret := strings.TrimSpace(h.Get(HeaderClientSecret))
	if clientID == "" || clientSecret == "" {
		return nil, nil
	}

	svc, err := g.store.GetServiceByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrClientCredentialsInvalid
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(svc.ClientSecret), []byte(clientSecret)) != 1 {
		return nil, ErrClientCredentialsInvalid
	}
	if svc.Status != ServiceStatusActive {
		return nil, ErrServiceNotActive
	}
	return &Identity{Service: &svc}, nil
}
