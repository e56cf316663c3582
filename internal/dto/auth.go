package dto

import "time"

// ==================== Auth DTOs ====================

// AdminLoginRequest admin login with password and TOTP second factor
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse admin login response
type AdminLoginResponse struct {
	Success      bool      `json:"success"`
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Message      string    `json:"message"`
}
