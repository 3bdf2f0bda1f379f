// Package auth issues and verifies web session tokens (HS256 JWT) bound to
// an account platform id.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer           = "creditgate"
	platformIDCtxKey = "auth.platform_id"
)

var ErrInvalidToken = errors.New("invalid session token")

type Session struct {
	Token     string
	ExpiresAt time.Time
}

type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a session for the platform id.
func (m *SessionManager) Issue(platformID string) (Session, error) {
	now := m.now().UTC()
	exp := now.Add(m.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   platformID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: signed, ExpiresAt: exp}, nil
}

// Parse verifies the token and returns its platform id.
func (m *SessionManager) Parse(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware requires a valid bearer session. onFail writes the rejection.
func (m *SessionManager) Middleware(onFail func(c *gin.Context, msg string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			onFail(c, "missing bearer token")
			return
		}
		platformID, err := m.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			onFail(c, "invalid token")
			return
		}
		c.Set(platformIDCtxKey, platformID)
		c.Next()
	}
}

// PlatformID returns the id stored by Middleware.
func PlatformID(c *gin.Context) (string, bool) {
	id := c.GetString(platformIDCtxKey)
	return id, id != ""
}
