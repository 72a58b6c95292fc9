// ABOUTME: JWT token verification for authenticating chat turns and REST requests
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier resolves a bearer token to the owner it was minted
// for. Tokens arrive in every chat turn payload and on each REST
// request, so verification has to be cheap and stateless.
type TokenVerifier interface {
	Verify(raw string) (ownerID string, err error)
}

// JWTVerifier checks HS256 tokens against a shared secret. The mobile
// app's auth service signs with the same secret; there is no key
// rotation or JWKS lookup here.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify checks the signature and expiry and returns the owner ID
// carried in the "sub" claim. Expired tokens surface as
// ErrExpiredToken so callers can tell a stale client from a forged
// token; everything else collapses to ErrInvalidToken.
func (v *JWTVerifier) Verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		// Reject anything but HMAC before touching the secret. An
		// attacker-chosen alg (none, RS256) must never get this far.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		// A signed token without a subject is useless: every store
		// operation is scoped by owner.
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate mints a token for ownerID, valid for expiresIn. Used by the
// token CLI command and by tests; the app's own tokens come from its
// auth service.
func (v *JWTVerifier) Generate(ownerID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": ownerID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	})
	return token.SignedString(v.secret)
}
