package api

import (
	"log"
	"net/http"
	"time"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/auth"
)

// TokenIssuer issues operator tokens. *auth.JWTService implements it.
type TokenIssuer interface {
	GenerateAccessToken(subject, email, role string) (string, time.Time, error)
}

type AuthHandlers struct {
	operator auth.Operator
	tokens   TokenIssuer
}

func NewAuthHandlers(operator auth.Operator, tokens TokenIssuer) *AuthHandlers {
	return &AuthHandlers{operator: operator, tokens: tokens}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges the operator password for a token, returned in the body
// and as the access_token cookie.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.operator.Authenticate(req.Username, req.Password); err != nil {
		log.Printf("[Auth] operator login rejected for %q from %s", req.Username, r.RemoteAddr)
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Kind: apperr.Kind(apperr.ErrUnauthorized)})
		return
	}

	token, expiresAt, err := h.tokens.GenerateAccessToken(req.Username, "", auth.RoleOperator)
	if err != nil {
		respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/admin",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	respondJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}
