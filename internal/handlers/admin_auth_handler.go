package handlers

import (
	"errors"
	"net/http"

	"nvct-backend/internal/dto"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// AdminAuthHandler 管理员认证处理器
type AdminAuthHandler struct {
	credentials *services.CredentialService
	tokens      *middleware.TokenManager
	totpSecret  string
}

// NewAdminAuthHandler 创建管理员认证处理器
func NewAdminAuthHandler(credentials *services.CredentialService, tokens *middleware.TokenManager, totpSecret string) *AdminAuthHandler {
	if totpSecret == "" {
		logrus.Warn("⚠️ [AdminAuth] ADMIN_TOTP_SECRET not set, admin login is disabled")
	}
	return &AdminAuthHandler{
		credentials: credentials,
		tokens:      tokens,
		totpSecret:  totpSecret,
	}
}

// Login 管理员登录处理
// POST /api/admin/login
func (h *AdminAuthHandler) Login(c *gin.Context) {
	if h.totpSecret == "" {
		c.JSON(http.StatusServiceUnavailable, dto.AdminLoginResponse{
			Success: false,
			Message: "Server misconfiguration: ADMIN_TOTP_SECRET not set",
		})
		return
	}

	var req dto.AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AdminLoginResponse{
			Success: false,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	user, err := h.credentials.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, services.ErrInvalidPassword) {
			respondError(c, err, nil)
			return
		}
		logrus.WithFields(logrus.Fields{
			"username":  req.Username,
			"client_ip": c.ClientIP(),
		}).Warn("🚫 [AdminAuth] invalid credentials")
		// same message for unknown users and wrong passwords
		c.JSON(http.StatusUnauthorized, dto.AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		logrus.WithFields(logrus.Fields{
			"username":  req.Username,
			"client_ip": c.ClientIP(),
		}).Warn("🚫 [AdminAuth] invalid TOTP code")
		c.JSON(http.StatusUnauthorized, dto.AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	token, expiresAt, err := h.tokens.Issue(user)
	if err != nil {
		logrus.WithError(err).Error("❌ [AdminAuth] failed to issue token")
		c.JSON(http.StatusInternalServerError, dto.AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	logrus.Infof("✅ [AdminAuth] %s logged in", user.Username)
	c.JSON(http.StatusOK, dto.AdminLoginResponse{
		Success:      true,
		Token:        token,
		ExpiresAt:    expiresAt,
		Capabilities: user.CapabilityList(),
		Message:      "Login successful",
	})
}
