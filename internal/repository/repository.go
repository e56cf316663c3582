// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"errors"

	"nvct-backend/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrNotFound no row for the requested key
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate a row with the same unique key already exists
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict a conditional update found the row in another state
	ErrConflict = errors.New("record changed concurrently")
)

// MultisigRepository defines the interface for multisig transaction data access
type MultisigRepository interface {
	Create(ctx context.Context, tx *models.MultisigTransaction) error
	GetByID(ctx context.Context, id string) (*models.MultisigTransaction, error)
	// AddConfirmation stores one owner's confirmation. A second confirmation by the
	// same owner returns ErrDuplicate.
	AddConfirmation(ctx context.Context, confirmation *models.MultisigConfirmation) error
	// Update saves the execution fields of tx; confirmations are left untouched
	Update(ctx context.Context, tx *models.MultisigTransaction) error
	// ClaimExecution records the execution broadcast only while the transaction is
	// unexecuted and carries no broadcast yet; ErrConflict otherwise. Every replica
	// sharing the store sees the claim.
	ClaimExecution(ctx context.Context, id, txHash string, nonce uint64, executedBy string) error
	// ReleaseExecution clears a broadcast that never reached the chain, if txHash is
	// still the recorded one; ErrConflict otherwise.
	ReleaseExecution(ctx context.Context, id, txHash, lastError string) error
	List(ctx context.Context, filter MultisigFilter) ([]*models.MultisigTransaction, error)
}

// MultisigFilter optional list filters
type MultisigFilter struct {
	Network  models.Network
	Executed *bool
	Limit    int
}

// SettlementRepository defines the interface for settlement data access
type SettlementRepository interface {
	// Create returns ErrDuplicate when the application transaction id already exists
	Create(ctx context.Context, settlement *models.Settlement) error
	GetByID(ctx context.Context, transactionID string) (*models.Settlement, error)
	Update(ctx context.Context, settlement *models.Settlement) error
	// ClaimSubmission records the chain hash of a pending settlement that has none;
	// ErrConflict otherwise
	ClaimSubmission(ctx context.Context, transactionID, txHash string, nonce uint64) error
	// ReleaseSubmission clears a hash that never reached the chain, if it is still
	// the recorded one; ErrConflict otherwise
	ReleaseSubmission(ctx context.Context, transactionID, txHash string) error
	List(ctx context.Context, filter SettlementFilter) ([]*models.Settlement, error)
}

// SettlementFilter optional list filters
type SettlementFilter struct {
	Network     models.Network
	Status      models.SettlementStatus
	FromAddress string
	Limit       int
}

// LedgerSubmissionRepository audit trail of broadcast transactions
type LedgerSubmissionRepository interface {
	Create(ctx context.Context, submission *models.LedgerSubmission) error
	GetByTxHash(ctx context.Context, txHash string) (*models.LedgerSubmission, error)
	UpdateStatus(ctx context.Context, txHash string, status models.LedgerSubmissionStatus, blockNumber *uint64, lastError string) error
	ListBySender(ctx context.Context, network models.Network, sender string) ([]*models.LedgerSubmission, error)
}

// AdminUserRepository operator accounts
type AdminUserRepository interface {
	Create(ctx context.Context, user *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	Update(ctx context.Context, user *models.AdminUser) error
}

// translate maps gorm errors onto repository errors
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
