package httpapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"authgrid.org/internal/audit"
	"authgrid.org/internal/iam"
)

var validate = validator.New()

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (a *API) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	token, ttl, user, err := a.core.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		ExpiresIn:   int64(ttl.Seconds()),
		TokenType:   "Bearer",
	})
}

type meResponse struct {
	User   iam.User   `json:"user"`
	Claims iam.Claims `json:"claims"`
}

func (a *API) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identity, ok := iam.IdentityFromContext(r.Context())
	if !ok || identity.User == nil || identity.Claims == nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgrid"`)
		writeError(w, r, http.StatusUnauthorized, "user token required")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:   *identity.User,
		Claims: identity.Claims.AccessClaims(),
	})
}
