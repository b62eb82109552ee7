package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by the signed identity token in the session cookie.
type Claims struct {
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager issues and verifies signed identity tokens. It knows nothing about
// cookies; the HTTP layer decides how tokens travel.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs an identity token for the given email.
func (m *Manager) Issue(email string) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(m.ttl)

	claims := Claims{
		Email:     email,
		TokenType: "identity",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Subject:   email,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	token, err = tok.SignedString(m.secret)

	return
}

// Verify parses the token and returns the caller's email.
func (m *Manager) Verify(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256

		_, ok := t.Method.(*jwt.SigningMethodHMAC)

		if !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})

	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)

	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}

	if claims.TokenType != "identity" {
		return "", errors.New("invalid token type")
	}

	if claims.Email == "" {
		return "", errors.New("missing email")
	}

	return claims.Email, nil
}
