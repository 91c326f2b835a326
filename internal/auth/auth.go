// Package auth turns bearer tokens into the caller identity that the
// backend policy evaluates. Tokens are HS256 JWTs with the caller's id in
// "sub" and its role in "role".
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"gradebook/internal/policy"
)

var ErrNoToken = errors.New("auth: no bearer token")

type Claims struct {
	Role string `json:"role,omitempty"`
	gojwt.RegisteredClaims
}

// Issue signs a token for subject. A ttl of zero or less issues a token that
// does not expire.
func Issue(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: gojwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = gojwt.NewNumericDate(now.Add(ttl))
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
}

func Parse(secret []byte, token string) (policy.Caller, error) {
	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(t *gojwt.Token) (any, error) {
		return secret, nil
	}, gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return policy.Caller{}, fmt.Errorf("auth: %w", err)
	}
	if claims.Subject == "" {
		return policy.Caller{}, errors.New("auth: token has no subject")
	}
	return policy.Caller{Subject: claims.Subject, Role: claims.Role}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", fmt.Errorf("auth: malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}
