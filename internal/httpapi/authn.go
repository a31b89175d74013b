package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgrid.org/internal/iam"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth runs the configured guards in order. The first guard that
// recognizes its credentials decides the outcome; a request with no
// credentials at all is rejected unless the path is public.
func (a *API) withAuth(next http.Handler) http.Handler {
	if len(a.guards) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		for _, guard := range a.guards {
			identity, err := guard.Authenticate(r.Context(), r.Header)
			if err != nil {
				respondAuthError(w, r, err)
				return
			}
			if identity == nil {
				continue
			}
			ctx := iam.ContextWithIdentity(r.Context(), identity)
			if tok := bearerToken(r.Header); tok != "" {
				ctx = iam.ContextWithToken(ctx, tok)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="authgrid"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	})
}

// requireStaff gates admin endpoints behind a staff user identity.
func (a *API) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	identity, ok := iam.IdentityFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgrid"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if identity.User == nil || !identity.User.IsStaff {
		writeError(w, r, http.StatusForbidden, "staff access required")
		return false
	}
	return true
}

func respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, iam.ErrTokenExpired):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="token expired"`)
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, iam.ErrTokenInvalid):
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, iam.ErrNotFound):
		// Token subject no longer exists.
		writeError(w, r, http.StatusUnauthorized, "unknown principal")
	case errors.Is(err, iam.ErrClientCredentialsInvalid):
		writeError(w, r, http.StatusUnauthorized, "invalid client credentials")
	case errors.Is(err, iam.ErrAccountNotActive):
		writeError(w, r, http.StatusForbidden, "account is not active")
	case errors.Is(err, iam.ErrServiceNotActive):
		writeError(w, r, http.StatusForbidden, "service is not active")
	default:
		writeError(w, r, http.StatusInternalServerError, "authentication error")
	}
}

// bearerToken returns the raw token from the Authorization header, or "".
func bearerToken(h http.Header) string {
	header := strings.TrimSpace(h.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func handleIAMError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, iam.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, iam.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, iam.ErrAccountNotActive):
		writeError(w, r, http.StatusForbidden, "account is not active")
	case errors.Is(err, iam.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, iam.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
