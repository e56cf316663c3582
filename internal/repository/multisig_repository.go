package repository

import (
	"context"

	"nvct-backend/internal/models"

	"gorm.io/gorm"
)

// multisigRepository implements MultisigRepository
type multisigRepository struct {
	db *gorm.DB
}

// NewMultisigRepository creates a new MultisigRepository instance
func NewMultisigRepository(db *gorm.DB) MultisigRepository {
	return &multisigRepository{db: db}
}

// Create creates a new multisig transaction together with any initial confirmations
func (r *multisigRepository) Create(ctx context.Context, tx *models.MultisigTransaction) error {
	return translate(r.db.WithContext(ctx).Create(tx).Error)
}

// GetByID retrieves a transaction with its confirmations in confirmation order
func (r *multisigRepository) GetByID(ctx context.Context, id string) (*models.MultisigTransaction, error) {
	var tx models.MultisigTransaction
	err := r.db.WithContext(ctx).
		Preload("Confirmations", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		}).
		Where("id = ?", id).
		First(&tx).Error
	if err != nil {
		return nil, translate(err)
	}
	return &tx, nil
}

// AddConfirmation inserts one confirmation row; the unique (transaction, owner) index rejects repeats
func (r *multisigRepository) AddConfirmation(ctx context.Context, confirmation *models.MultisigConfirmation) error {
	return translate(r.db.WithContext(ctx).Create(confirmation).Error)
}

// Update updates execution state
func (r *multisigRepository) Update(ctx context.Context, tx *models.MultisigTransaction) error {
	result := r.db.WithContext(ctx).
		Model(&models.MultisigTransaction{}).
		Where("id = ?", tx.ID).
		Updates(map[string]interface{}{
			"executed":          tx.Executed,
			"executed_at":       tx.ExecutedAt,
			"executed_by":       tx.ExecutedBy,
			"execution_tx_hash": tx.ExecutionTxHash,
			"execution_nonce":   tx.ExecutionNonce,
			"block_number":      tx.BlockNumber,
			"gas_used":          tx.GasUsed,
			"receipt_status":    tx.ReceiptStatus,
			"last_error":        tx.LastError,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimExecution conditional update; exactly one caller across replicas wins
func (r *multisigRepository) ClaimExecution(ctx context.Context, id, txHash string, nonce uint64, executedBy string) error {
	result := r.db.WithContext(ctx).
		Model(&models.MultisigTransaction{}).
		Where("id = ? AND executed = ? AND (execution_tx_hash = '' OR execution_tx_hash IS NULL)", id, false).
		Updates(map[string]interface{}{
			"execution_tx_hash": txHash,
			"execution_nonce":   nonce,
			"executed_by":       executedBy,
			"last_error":        "",
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}

// ReleaseExecution clears the recorded broadcast if it is still txHash
func (r *multisigRepository) ReleaseExecution(ctx context.Context, id, txHash, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&models.MultisigTransaction{}).
		Where("id = ? AND executed = ? AND execution_tx_hash = ?", id, false, txHash).
		Updates(map[string]interface{}{
			"execution_tx_hash": "",
			"execution_nonce":   nil,
			"executed_by":       "",
			"last_error":        lastError,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrConflict
	}
	return nil
}

// List lists transactions, newest first
func (r *multisigRepository) List(ctx context.Context, filter MultisigFilter) ([]*models.MultisigTransaction, error) {
	query := r.db.WithContext(ctx).Model(&models.MultisigTransaction{}).
		Preload("Confirmations", func(db *gorm.DB) *gorm.DB {
			return db.Order("id ASC")
		})
	if filter.Network != "" {
		query = query.Where("network = ?", filter.Network)
	}
	if filter.Executed != nil {
		query = query.Where("executed = ?", *filter.Executed)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var txs []*models.MultisigTransaction
	if err := query.Order("created_at DESC").Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
