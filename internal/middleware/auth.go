package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nvct-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Context keys set by RequireAuth
const (
	ContextActor        = "actor"
	ContextCapabilities = "capabilities"
)

const tokenIssuer = "nvct-backend-admin"

var errInvalidToken = errors.New("invalid token")

// AdminClaims admin JWT claims
type AdminClaims struct {
	Username     string   `json:"username"`
	Capabilities []string `json:"capabilities"`
	jwt.RegisteredClaims
}

// Has whether the claims grant capability; admin grants everything
func (c *AdminClaims) Has(capability string) bool {
	for _, granted := range c.Capabilities {
		if granted == capability || granted == models.CapabilityAdmin {
			return true
		}
	}
	return false
}

// TokenManager issues and verifies HS256 admin tokens
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for user carrying its capabilities
func (m *TokenManager) Issue(user *models.AdminUser) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	now := time.Now()
	expiresAt := now.Add(m.ttl)
	claims := AdminClaims{
		Username:     user.Username,
		Capabilities: user.CapabilityList(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.Username,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse verifies signature, expiry and issuer
func (m *TokenManager) Parse(tokenString string) (*AdminClaims, error) {
	if len(m.secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// actor and capabilities in the gin context
func RequireAuth(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c, tokens) {
			c.Next()
		}
	}
}

// authenticate validates the token and fills the context; false means the
// request was aborted
func authenticate(c *gin.Context, tokens *TokenManager) bool {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" && c.Query("access_token") != "" {
		// browsers cannot set headers on WebSocket upgrades
		authHeader = "Bearer " + c.Query("access_token")
	}
	if authHeader == "" {
		abortUnauthorized(c, "Authentication required", "MISSING_AUTH_HEADER")
		return false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		abortUnauthorized(c, "Invalid authorization format, need Bearer token", "INVALID_AUTH_FORMAT")
		return false
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tokenString == "" {
		abortUnauthorized(c, "Empty token", "EMPTY_TOKEN")
		return false
	}

	claims, err := tokens.Parse(tokenString)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"error":  err.Error(),
		}).Warn("🚫 [Auth] invalid token")
		abortUnauthorized(c, "Invalid or expired token", "INVALID_TOKEN")
		return false
	}

	c.Set(ContextActor, claims.Username)
	c.Set(ContextCapabilities, claims)
	return true
}

func abortUnauthorized(c *gin.Context, message, code string) {
	logrus.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"code":   code,
	}).Warn("🚫 [Auth] request rejected")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// Actor authenticated username, empty when unauthenticated
func Actor(c *gin.Context) string {
	return c.GetString(ContextActor)
}
