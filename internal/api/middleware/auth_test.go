package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-fulfillment/internal/auth"
)

const testSecret = "test-secret-key-for-middleware-tests"

func newTestOperatorService() *auth.JWTService {
	return auth.NewOperatorService(testSecret, 15*time.Minute)
}

func claimsFor(subject, role string) *auth.Claims {
	return &auth.Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
}

func captureClaims(dst **auth.Claims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := GetUserFromContext(r.Context()); ok {
			*dst = claims
		}
		w.WriteHeader(http.StatusOK)
	})
}

// ============================================
// Auth Middleware Tests
// ============================================

func TestAuthMiddleware_ValidToken_Header(t *testing.T) {
	jwtService := newTestOperatorService()

	token, _, err := jwtService.GenerateAccessToken("ops", "ops@example.com", auth.RoleOperator)
	require.NoError(t, err)

	var captured *auth.Claims
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	AuthMiddleware(jwtService)(captureClaims(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "ops", captured.UserID())
	assert.Equal(t, auth.RoleOperator, captured.Role)
}

func TestAuthMiddleware_ValidToken_Cookie(t *testing.T) {
	jwtService := newTestOperatorService()

	token, _, err := jwtService.GenerateAccessToken("ops", "", auth.RoleOperator)
	require.NoError(t, err)

	var captured *auth.Claims
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()

	AuthMiddleware(jwtService)(captureClaims(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "ops", captured.UserID())
}

func TestAuthMiddleware_HeaderTakesPrecedence(t *testing.T) {
	jwtService := newTestOperatorService()
	cookieToken, _, _ := jwtService.GenerateAccessToken("cookie-user", "", auth.RoleOperator)
	headerToken, _, _ := jwtService.GenerateAccessToken("header-user", "", auth.RoleOperator)

	var captured *auth.Claims
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: cookieToken})
	req.Header.Set("Authorization", "Bearer "+headerToken)
	rec := httptest.NewRecorder()

	AuthMiddleware(jwtService)(captureClaims(&captured)).ServeHTTP(rec, req)

	require.NotNil(t, captured)
	assert.Equal(t, "header-user", captured.UserID())
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	expired, _, err := auth.NewOperatorService(testSecret, -time.Minute).GenerateAccessToken("ops", "", auth.RoleOperator)
	require.NoError(t, err)
	foreign, _, err := auth.NewOperatorService("another-secret-of-sufficient-len", time.Minute).GenerateAccessToken("ops", "", auth.RoleOperator)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		body   string
	}{
		{"no token", "", "unauthorized"},
		{"garbage", "Bearer invalid-token", "invalid token"},
		{"expired", "Bearer " + expired, "expired"},
		{"wrong secret", "Bearer " + foreign, "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			AuthMiddleware(newTestOperatorService())(handler).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
			assert.Contains(t, rec.Body.String(), `"kind":"unauthorized"`)
			assert.False(t, called)
		})
	}
}

// ============================================
// Require Role Middleware Tests
// ============================================

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.Claims
		want   int
	}{
		{"operator", claimsFor("ops", auth.RoleOperator), http.StatusOK},
		{"customer", claimsFor("cust-1", auth.RoleCustomer), http.StatusForbidden},
		{"no claims", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			ctx := context.Background()
			if tt.claims != nil {
				ctx = context.WithValue(ctx, UserContextKey, tt.claims)
			}
			req := httptest.NewRequest(http.MethodGet, "/admin", nil).WithContext(ctx)
			rec := httptest.NewRecorder()

			RequireRole(auth.RoleOperator)(handler).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// ============================================
// Helper Functions Tests
// ============================================

func TestGetUserID(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserContextKey, claimsFor("cust-1", auth.RoleCustomer))

	assert.Equal(t, "cust-1", GetUserID(ctx))
	assert.Empty(t, GetUserID(context.Background()))
}
