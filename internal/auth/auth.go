// Package auth verifies the bearer tokens issued by the account service.
// Credentials themselves never reach the chat server.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	TokenCookieKey = "token"
	TokenQueryKey  = "token"

	defaultExp = 24 * time.Hour
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId string) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (string, bool) {
	userId, ok := ctx.Value(userIdKey).(string)
	return userId, ok && userId != ""
}

type Claims struct {
	UserId string `json:"user-id"`
	jwt.StandardClaims
}

func (c *Claims) Valid() error {
	if err := c.StandardClaims.Valid(); err != nil {
		return err
	}
	if c.UserId == "" {
		return errors.New("missing user id claim")
	}
	return nil
}

type TokenManager struct {
	signingKey []byte
}

func NewTokenManager(signingKey []byte) *TokenManager {
	return &TokenManager{signingKey: signingKey}
}

// Issue signs a token for userId. A zero exp uses the 24h default.
func (m *TokenManager) Issue(userId string, exp time.Duration) (string, error) {
	if exp == 0 {
		exp = defaultExp
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserId: userId,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(exp).Unix(),
		},
	})

	return token.SignedString(m.signingKey)
}

// Verify parses tokenString and returns the user id it was issued for.
func (m *TokenManager) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	return claims.UserId, nil
}

// TokenFromRequest looks for a bearer token in the Authorization header, then
// the token query parameter, then the token cookie. Browsers cannot set
// headers on a websocket handshake, hence the fallbacks.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}

	if tok := r.URL.Query().Get(TokenQueryKey); tok != "" {
		return tok
	}

	if c, err := r.Cookie(TokenCookieKey); err == nil {
		return c.Value
	}

	return ""
}
