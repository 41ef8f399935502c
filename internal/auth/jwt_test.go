package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing-purposes"

// ============================================
// Operator Token Tests
// ============================================

func TestOperatorService_RoundTrip(t *testing.T) {
	service := NewOperatorService(testSecret, 15*time.Minute)

	token, expiresAt, err := service.GenerateAccessToken("ops", "ops@example.com", RoleOperator)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))
	assert.True(t, expiresAt.Before(time.Now().Add(16*time.Minute)))

	claims, err := service.ValidateAccessToken(token)

	require.NoError(t, err)
	assert.Equal(t, "ops", claims.UserID())
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, OperatorIssuer, claims.Issuer)
	assert.Equal(t, 15*time.Minute, service.Expiry())
}

func TestJWTService_Expired(t *testing.T) {
	service := NewOperatorService(testSecret, -time.Minute)

	token, _, err := service.GenerateAccessToken("ops", "", RoleOperator)
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Nil(t, claims)
}

func TestJWTService_Invalid(t *testing.T) {
	service := NewOperatorService(testSecret, time.Minute)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"random string", "not-a-valid-token"},
		{"malformed JWT", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTService_WrongSignature(t *testing.T) {
	service1 := NewOperatorService("secret-key-1", time.Minute)
	service2 := NewOperatorService("secret-key-2", time.Minute)

	token, _, err := service1.GenerateAccessToken("ops", "", RoleOperator)
	require.NoError(t, err)

	claims, err := service2.ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestJWTService_WrongAlgorithm(t *testing.T) {
	service := NewOperatorService(testSecret, time.Minute)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "ops",
			Issuer:  OperatorIssuer,
		},
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(tokenString)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestJWTService_MissingSubject(t *testing.T) {
	service := NewJWTService(testSecret, time.Minute)

	token, _, err := service.GenerateAccessToken("", "a@example.com", RoleCustomer)
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// ============================================
// Customer (Supabase) Token Tests
// ============================================

// supabaseToken mimics a Supabase access token: HS256 over the project
// secret, aud=authenticated, sub=user id.
func supabaseToken(t *testing.T, secret string, aud string) string {
	t.Helper()
	claims := Claims{
		Email: "asha@example.com",
		Role:  RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "9f3c2a1e-0000-4000-8000-000000000001",
			Audience:  jwt.ClaimStrings{aud},
			Issuer:    "https://project.supabase.co/auth/v1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestSupabaseVerifier_AcceptsProjectToken(t *testing.T) {
	verifier := NewSupabaseVerifier(testSecret)

	claims, err := verifier.ValidateAccessToken(supabaseToken(t, testSecret, SupabaseAudience))

	require.NoError(t, err)
	assert.Equal(t, "9f3c2a1e-0000-4000-8000-000000000001", claims.UserID())
	assert.Equal(t, "asha@example.com", claims.Email)
}

func TestSupabaseVerifier_RejectsOtherAudience(t *testing.T) {
	verifier := NewSupabaseVerifier(testSecret)

	_, err := verifier.ValidateAccessToken(supabaseToken(t, testSecret, "anon"))

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOperatorService_RejectsCustomerToken(t *testing.T) {
	operators := NewOperatorService(testSecret, time.Minute)

	_, err := operators.ValidateAccessToken(supabaseToken(t, testSecret, SupabaseAudience))

	assert.ErrorIs(t, err, ErrInvalidToken, "issuer must match")
}
