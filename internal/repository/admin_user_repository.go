package repository

import (
	"context"

	"nvct-backend/internal/models"

	"gorm.io/gorm"
)

// adminUserRepository implements AdminUserRepository
type adminUserRepository struct {
	db *gorm.DB
}

// NewAdminUserRepository creates a new AdminUserRepository instance
func NewAdminUserRepository(db *gorm.DB) AdminUserRepository {
	return &adminUserRepository{db: db}
}

func (r *adminUserRepository) Create(ctx context.Context, user *models.AdminUser) error {
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

func (r *adminUserRepository) GetByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	var user models.AdminUser
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *adminUserRepository) Update(ctx context.Context, user *models.AdminUser) error {
	return translate(r.db.WithContext(ctx).Save(user).Error)
}
