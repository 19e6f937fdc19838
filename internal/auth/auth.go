// Package auth resolves the operator behind a request. Operators present
// either a static API key (configured as operator=key pairs) or an HS256
// bearer token issued by this package.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/core"
)

var (
	// ErrInvalidCredentials is returned for unknown API keys and bad tokens.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokensDisabled is returned when no signing secret is configured.
	ErrTokensDisabled = errors.New("token signing is not configured")
)

const issuer = "intake"

// Claims are the JWT claims of an operator token. The operator ID is the
// subject.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type apiKey struct {
	key      []byte
	operator string
}

// Authenticator validates API keys and operator tokens.
type Authenticator struct {
	keys   []apiKey
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New builds an Authenticator from the security settings.
func New(cfg config.SecurityConfig) (*Authenticator, error) {
	a := &Authenticator{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}
	if a.ttl <= 0 {
		a.ttl = 12 * time.Hour
	}
	for _, pair := range cfg.APIKeys {
		op, key, ok := strings.Cut(pair, "=")
		op, key = strings.TrimSpace(op), strings.TrimSpace(key)
		if !ok || op == "" || key == "" {
			return nil, fmt.Errorf("api key entry for %q must look like operator=key", op)
		}
		a.keys = append(a.keys, apiKey{key: []byte(key), operator: op})
	}
	return a, nil
}

// Enabled reports whether any credential can be accepted.
func (a *Authenticator) Enabled() bool {
	return len(a.keys) > 0 || len(a.secret) > 0
}

// ResolveAPIKey returns the operator owning key. Every configured key is
// compared so the time taken does not depend on which one matches.
func (a *Authenticator) ResolveAPIKey(key string) (core.Operator, error) {
	var match string
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), k.key) == 1 {
			match = k.operator
		}
	}
	if match == "" {
		return core.Operator{}, ErrInvalidCredentials
	}
	return core.Operator{ID: match}, nil
}

// IssueToken signs a token for op.
func (a *Authenticator) IssueToken(op core.Operator) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, ErrTokensDisabled
	}
	if op.ID == "" {
		return "", time.Time{}, errors.New("operator id is required")
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		Name:  op.Name,
		Email: op.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken verifies a bearer token and returns its operator.
func (a *Authenticator) ParseToken(token string) (core.Operator, error) {
	if len(a.secret) == 0 {
		return core.Operator{}, ErrTokensDisabled
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return core.Operator{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.Subject == "" {
		return core.Operator{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}
	return core.Operator{ID: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

// Resolve accepts either credential: an API key if one is given, otherwise
// a bearer token.
func (a *Authenticator) Resolve(apiKey, bearer string) (core.Operator, error) {
	switch {
	case apiKey != "":
		return a.ResolveAPIKey(apiKey)
	case bearer != "":
		return a.ParseToken(bearer)
	}
	return core.Operator{}, core.ErrNotAuthenticated
}
