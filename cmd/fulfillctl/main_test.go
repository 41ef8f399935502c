package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-fulfillment/internal/auth"
	"github.com/example/ec-fulfillment/internal/config"
)

const operatorSecret = "operator-secret-that-is-at-least-32-chars"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvConfigFile, "")
	root := rootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fulfill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ============================================================================
// hash-password Tests
// ============================================================================

func TestHashPassword_Arg(t *testing.T) {
	out, err := run(t, "", "hash-password", "correct horse")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("correct horse", strings.TrimSpace(out)))
}

func TestHashPassword_Stdin(t *testing.T) {
	out, err := run(t, "battery staple\n", "hash-password")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("battery staple", strings.TrimSpace(out)))
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := run(t, "", "hash-password", "short")
	assert.Error(t, err)
}

// ============================================================================
// token Tests
// ============================================================================

func TestToken_MintsOperatorToken(t *testing.T) {
	path := writeConfig(t, "auth:\n  operator_jwt_secret: "+operatorSecret+"\n  operator_username: ops\n")

	out, err := run(t, "", "token", "--config", path)
	require.NoError(t, err)

	claims, err := auth.NewOperatorService(operatorSecret, 0).ValidateAccessToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.UserID())
	assert.Equal(t, auth.RoleOperator, claims.Role)
}

func TestToken_SubjectFlag(t *testing.T) {
	path := writeConfig(t, "auth:\n  operator_jwt_secret: "+operatorSecret+"\n")

	out, err := run(t, "", "token", "--config", path, "--subject", "asha")
	require.NoError(t, err)

	claims, err := auth.NewOperatorService(operatorSecret, 0).ValidateAccessToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "asha", claims.UserID())
}

func TestToken_RequiresSecret(t *testing.T) {
	path := writeConfig(t, "auth:\n  operator_jwt_secret: short\n")
	_, err := run(t, "", "token", "--config", path)
	assert.ErrorContains(t, err, "operator_jwt_secret")
}

// ============================================================================
// Command Wiring Tests
// ============================================================================

func TestRetryBooking_RequiresOperator(t *testing.T) {
	_, err := run(t, "", "retry-booking", "order-1")
	assert.ErrorContains(t, err, "--operator")
}

func TestOrder_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: memory\n")
	_, err := run(t, "", "order", "order-1", "--config", path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"token", "hash-password", "order", "retry-booking", "sweep", "track", "serviceability"} {
		assert.True(t, names[want], want)
	}
}
