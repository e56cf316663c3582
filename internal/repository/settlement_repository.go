package repository

import (
	"context"

	"nvct-backend/internal/models"

	"gorm.io/gorm"
)

// settlementRepository implements SettlementRepository
type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a new SettlementRepository instance
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

// Create creates a new settlement
func (r *settlementRepository) Create(ctx context.Context, settlement *models.Settlement) error {
	return translate(r.db.WithContext(ctx).Create(settlement).Error)
}

// GetByID retrieves a settlement by application transaction id
func (r *settlementRepository) GetByID(ctx context.Context, transactionID string) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&settlement).Error
	if err != nil {
		return nil, translate(err)
	}
	return &settlement, nil
}

// Update updates a settlement
func (r *settlementRepository) Update(ctx context.Context, settlement *models.Settlement) error {
	return translate(r.db.WithContext(ctx).Save(settlement).Error)
}

// ClaimSubmission conditional update on a pending settlement without hash
func (r *settlementRepository) ClaimSubmission(ctx context.Context, transactionID, txHash string, nonce uint64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("transaction_id = ? AND status = ? AND (chain_tx_hash IS NULL OR chain_tx_hash = '')", transactionID, models.SettlementStatusPending).
		Updates(map[string]interface{}{
			"chain_tx_hash": txHash,
			"nonce":         nonce,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}

// ReleaseSubmission clears the hash if it is still txHash
func (r *settlementRepository) ReleaseSubmission(ctx context.Context, transactionID, txHash string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("transaction_id = ? AND chain_tx_hash = ?", transactionID, txHash).
		Updates(map[string]interface{}{
			"chain_tx_hash": nil,
			"nonce":         nil,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}

// List lists settlements, newest first
func (r *settlementRepository) List(ctx context.Context, filter SettlementFilter) ([]*models.Settlement, error) {
	query := r.db.WithContext(ctx).Model(&models.Settlement{})
	if filter.Network != "" {
		query = query.Where("network = ?", filter.Network)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.FromAddress != "" {
		query = query.Where("from_address = ?", filter.FromAddress)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var settlements []*models.Settlement
	if err := query.Order("created_at DESC").Find(&settlements).Error; err != nil {
		return nil, err
	}
	return settlements, nil
}
