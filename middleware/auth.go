package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by the auth middlewares.
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
)

// Claims are the fields read from access tokens issued by the hosted auth
// backend. The user id is the subject; user_id is accepted for older tokens.
type Claims struct {
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) userID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

var errNoToken = errors.New("missing bearer token")

func parseToken(header string, secret []byte) (*Claims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errNoToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.userID() == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// AuthMiddleware rejects requests without a valid bearer token. With an empty
// secret every request is rejected.
func AuthMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if len(key) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Authentication is not configured"})
			return
		}
		claims, err := parseToken(c.GetHeader("Authorization"), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Invalid or missing access token"})
			return
		}
		c.Set(ContextUserID, claims.userID())
		c.Set(ContextEmail, claims.Email)
		c.Next()
	}
}

// OptionalAuth sets the user when a valid token is present and otherwise lets
// the request through anonymously.
func OptionalAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if len(key) > 0 {
			if claims, err := parseToken(c.GetHeader("Authorization"), key); err == nil {
				c.Set(ContextUserID, claims.userID())
				c.Set(ContextEmail, claims.Email)
			}
		}
		c.Next()
	}
}
