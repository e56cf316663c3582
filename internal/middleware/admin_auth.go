package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AuthorizationPolicy capability checks layered on RequireAuth
type AuthorizationPolicy struct {
	tokens *TokenManager
}

func NewAuthorizationPolicy(tokens *TokenManager) *AuthorizationPolicy {
	return &AuthorizationPolicy{tokens: tokens}
}

// Authenticate the bearer-token check alone
func (p *AuthorizationPolicy) Authenticate() gin.HandlerFunc {
	return RequireAuth(p.tokens)
}

// Require authenticates the request and demands capability. Refusals are
// audit-logged with the requester and the action.
func (p *AuthorizationPolicy) Require(capability string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, p.tokens) {
			return
		}

		claims, _ := c.Get(ContextCapabilities)
		if ac, ok := claims.(*AdminClaims); ok && ac.Has(capability) {
			return
		}

		logrus.WithFields(logrus.Fields{
			"requester":  Actor(c),
			"action":     c.Request.Method + " " + c.FullPath(),
			"capability": capability,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		}).Warn("🚫 [Auth] insufficient permissions")

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Insufficient permissions",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
	}
}
