package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const ownerKey = "owner_id"

var errInvalidToken = errors.New("invalid token")

// Authenticator resolves a bearer token to an owner id. HMAC-signed JWTs
// carry the owner in user_id or sub; static tokens map directly.
type Authenticator struct {
	secret []byte
	static map[string]string
	leeway time.Duration
}

func NewAuthenticator(jwtSecret string, staticTokens map[string]string) *Authenticator {
	a := &Authenticator{static: staticTokens, leeway: 5 * time.Second}
	if jwtSecret != "" {
		a.secret = []byte(jwtSecret)
	}
	return a
}

type ownerClaims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		owner, err := a.Owner(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

// Owner returns the owner id the token authenticates.
func (a *Authenticator) Owner(token string) (string, error) {
	if owner, ok := a.static[token]; ok {
		return owner, nil
	}
	if a.secret == nil {
		return "", errInvalidToken
	}

	var claims ownerClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithLeeway(a.leeway))
	if err != nil {
		return "", errInvalidToken
	}
	owner := claims.UserID
	if owner == "" {
		owner = claims.Subject
	}
	if owner == "" {
		return "", errInvalidToken
	}
	return owner, nil
}

func ownerFrom(c *gin.Context) string {
	return c.GetString(ownerKey)
}
