package repository

import (
	"context"
	"time"

	"nvct-backend/internal/models"

	"gorm.io/gorm"
)

// ledgerSubmissionRepository implements LedgerSubmissionRepository
type ledgerSubmissionRepository struct {
	db *gorm.DB
}

// NewLedgerSubmissionRepository creates a new LedgerSubmissionRepository instance
func NewLedgerSubmissionRepository(db *gorm.DB) LedgerSubmissionRepository {
	return &ledgerSubmissionRepository{db: db}
}

func (r *ledgerSubmissionRepository) Create(ctx context.Context, submission *models.LedgerSubmission) error {
	return translate(r.db.WithContext(ctx).Create(submission).Error)
}

func (r *ledgerSubmissionRepository) GetByTxHash(ctx context.Context, txHash string) (*models.LedgerSubmission, error) {
	var submission models.LedgerSubmission
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&submission).Error; err != nil {
		return nil, translate(err)
	}
	return &submission, nil
}

func (r *ledgerSubmissionRepository) UpdateStatus(ctx context.Context, txHash string, status models.LedgerSubmissionStatus, blockNumber *uint64, lastError string) error {
	updates := map[string]interface{}{
		"status":       status,
		"block_number": blockNumber,
		"last_error":   lastError,
	}
	if status == models.LedgerSubmissionStatusConfirmed {
		updates["confirmed_at"] = time.Now()
	}
	result := r.db.WithContext(ctx).
		Model(&models.LedgerSubmission{}).
		Where("tx_hash = ?", txHash).
		Updates(updates)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ledgerSubmissionRepository) ListBySender(ctx context.Context, network models.Network, sender string) ([]*models.LedgerSubmission, error) {
	var submissions []*models.LedgerSubmission
	err := r.db.WithContext(ctx).
		Where("network = ? AND sender = ?", network, sender).
		Order("nonce ASC").
		Find(&submissions).Error
	return submissions, err
}
