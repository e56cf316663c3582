package models

import (
	"strings"
	"time"
)

// Capabilities checked by the authorization policy
const (
	CapabilityAdmin           = "admin"
	CapabilityMultisigOwner   = "multisig:owner"
	CapabilitySettlementWrite = "settlement:write"
	CapabilityRead            = "read"
)

// AdminUser operator account backing password checks and capability claims
type AdminUser struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Username     string    `json:"username" gorm:"size:64;uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"size:255"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	IsAdmin      bool      `json:"is_admin" gorm:"not null;default:false"`
	Capabilities string    `json:"capabilities" gorm:"type:text"` // comma separated
	Address      string    `json:"address" gorm:"size:42"`        // wallet owner address, if any
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定表名
func (AdminUser) TableName() string {
	return "admin_users"
}

// CapabilityList parsed capability claims
func (u *AdminUser) CapabilityList() []string {
	caps := make([]string, 0)
	if u.IsAdmin {
		caps = append(caps, CapabilityAdmin)
	}
	for _, c := range strings.Split(u.Capabilities, ",") {
		c = strings.TrimSpace(c)
		if c != "" && c != CapabilityAdmin {
			caps = append(caps, c)
		}
	}
	return caps
}
