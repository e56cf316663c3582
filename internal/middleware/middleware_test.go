package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nvct-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func policyRouter(tokens *TokenManager) *gin.Engine {
	policy := NewAuthorizationPolicy(tokens)
	r := gin.New()
	r.GET("/read", policy.Require(models.CapabilityRead), func(c *gin.Context) {
		c.String(http.StatusOK, Actor(c))
	})
	r.GET("/settle", policy.Require(models.CapabilitySettlementWrite), func(c *gin.Context) {
		c.String(http.StatusOK, Actor(c))
	})
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthorizationPolicyRequire(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Hour)
	r := policyRouter(tokens)

	reader, _, err := tokens.Issue(&models.AdminUser{Username: "auditor", Capabilities: models.CapabilityRead})
	require.NoError(t, err)
	admin, _, err := tokens.Issue(&models.AdminUser{Username: "root", IsAdmin: true})
	require.NoError(t, err)

	w := get(r, "/read", reader)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "auditor", w.Body.String())

	assert.Equal(t, http.StatusForbidden, get(r, "/settle", reader).Code)
	assert.Equal(t, http.StatusOK, get(r, "/settle", admin).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/read", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/read", "not-a-jwt").Code)
}

func TestTokenManagerRejectsForeignAndExpiredTokens(t *testing.T) {
	tokens := NewTokenManager("test-secret", time.Hour)

	other, _, err := NewTokenManager("other-secret", time.Hour).Issue(&models.AdminUser{Username: "root", IsAdmin: true})
	require.NoError(t, err)
	_, err = tokens.Parse(other)
	assert.Error(t, err)

	expired := AdminClaims{
		Username:     "root",
		Capabilities: []string{models.CapabilityAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = tokens.Parse(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, _, err = NewTokenManager("", time.Hour).Issue(&models.AdminUser{Username: "root"})
	assert.Error(t, err)
}

func TestLocalhostOnly(t *testing.T) {
	guard := NewLocalhostOnly([]string{"10.1.0.0/16", "192.168.1.7", "bogus"})
	r := gin.New()
	r.GET("/metrics", guard.Restrict(), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5000", http.StatusOK},
		{"[::1]:5000", http.StatusOK},
		{"10.1.20.3:5000", http.StatusOK},
		{"192.168.1.7:5000", http.StatusOK},
		{"192.168.1.8:5000", http.StatusForbidden},
		{"8.8.8.8:5000", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = tt.remote
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tt.want, w.Code, tt.remote)
	}
}
