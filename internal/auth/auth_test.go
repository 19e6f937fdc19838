package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/core"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(config.SecurityConfig{
		APIKeys:   []string{"asha=key-a", " ravi = key-r "},
		JWTSecret: testSecret,
		TokenTTL:  time.Hour,
	})
	require.NoError(t, err)
	return a
}

func TestNew_BadKeyEntry(t *testing.T) {
	_, err := New(config.SecurityConfig{APIKeys: []string{"nokey"}})
	require.Error(t, err)

	_, err = New(config.SecurityConfig{APIKeys: []string{"=key"}})
	require.Error(t, err)
}

func TestEnabled(t *testing.T) {
	a, err := New(config.SecurityConfig{})
	require.NoError(t, err)
	assert.False(t, a.Enabled())
	assert.True(t, newAuth(t).Enabled())
}

func TestResolveAPIKey(t *testing.T) {
	a := newAuth(t)

	op, err := a.ResolveAPIKey("key-a")
	require.NoError(t, err)
	assert.Equal(t, "asha", op.ID)

	op, err = a.ResolveAPIKey("key-r")
	require.NoError(t, err)
	assert.Equal(t, "ravi", op.ID)

	_, err = a.ResolveAPIKey("key-x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.ResolveAPIKey("")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIssueAndParseToken(t *testing.T) {
	a := newAuth(t)

	token, expires, err := a.IssueToken(core.Operator{ID: "asha", Name: "Asha K", Email: "asha@example.com"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	op, err := a.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, core.Operator{ID: "asha", Name: "Asha K", Email: "asha@example.com"}, op)
}

func TestParseToken_Expired(t *testing.T) {
	a := newAuth(t)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := a.IssueToken(core.Operator{ID: "asha"})
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseToken_WrongSecret(t *testing.T) {
	other, err := New(config.SecurityConfig{JWTSecret: strings.Repeat("z", 32)})
	require.NoError(t, err)
	token, _, err := other.IssueToken(core.Operator{ID: "asha"})
	require.NoError(t, err)

	_, err = newAuth(t).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "asha",
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newAuth(t).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := newAuth(t).ParseToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokensDisabled(t *testing.T) {
	a, err := New(config.SecurityConfig{APIKeys: []string{"asha=k"}})
	require.NoError(t, err)

	_, _, err = a.IssueToken(core.Operator{ID: "asha"})
	assert.ErrorIs(t, err, ErrTokensDisabled)
	_, err = a.ParseToken("x.y.z")
	assert.ErrorIs(t, err, ErrTokensDisabled)
}

func TestResolve(t *testing.T) {
	a := newAuth(t)
	token, _, err := a.IssueToken(core.Operator{ID: "ravi"})
	require.NoError(t, err)

	op, err := a.Resolve("key-a", token)
	require.NoError(t, err)
	assert.Equal(t, "asha", op.ID, "API key wins when both are given")

	op, err = a.Resolve("", token)
	require.NoError(t, err)
	assert.Equal(t, "ravi", op.ID)

	_, err = a.Resolve("", "")
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
}
