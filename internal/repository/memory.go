package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"nvct-backend/internal/models"
)

// In-memory implementations back the service when no database DSN is configured,
// and in tests. Every read returns a copy.

type memoryMultisigRepository struct {
	mu    sync.RWMutex
	txs   map[string]*models.MultisigTransaction
	seqID uint64
}

// NewMemoryMultisigRepository creates an in-memory MultisigRepository
func NewMemoryMultisigRepository() MultisigRepository {
	return &memoryMultisigRepository{txs: make(map[string]*models.MultisigTransaction)}
}

func (r *memoryMultisigRepository) Create(_ context.Context, tx *models.MultisigTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.txs[tx.ID]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	for i := range tx.Confirmations {
		r.seqID++
		tx.Confirmations[i].ID = r.seqID
		tx.Confirmations[i].TransactionID = tx.ID
	}
	r.txs[tx.ID] = tx.Clone()
	return nil
}

func (r *memoryMultisigRepository) GetByID(_ context.Context, id string) (*models.MultisigTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tx, exists := r.txs[id]
	if !exists {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

func (r *memoryMultisigRepository) AddConfirmation(_ context.Context, confirmation *models.MultisigConfirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, exists := r.txs[confirmation.TransactionID]
	if !exists {
		return ErrNotFound
	}
	if tx.HasConfirmation(confirmation.Owner) {
		return ErrDuplicate
	}
	r.seqID++
	confirmation.ID = r.seqID
	if confirmation.CreatedAt.IsZero() {
		confirmation.CreatedAt = time.Now()
	}
	tx.Confirmations = append(tx.Confirmations, *confirmation)
	tx.UpdatedAt = time.Now()
	return nil
}

func (r *memoryMultisigRepository) Update(_ context.Context, tx *models.MultisigTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.txs[tx.ID]
	if !exists {
		return ErrNotFound
	}
	updated := tx.Clone()
	updated.Confirmations = stored.Confirmations
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Now()
	r.txs[tx.ID] = updated
	return nil
}

func (r *memoryMultisigRepository) ClaimExecution(_ context.Context, id, txHash string, nonce uint64, executedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, exists := r.txs[id]
	if !exists {
		return ErrNotFound
	}
	if tx.Executed || tx.ExecutionTxHash != "" {
		return ErrConflict
	}
	tx.ExecutionTxHash = txHash
	tx.ExecutionNonce = &nonce
	tx.ExecutedBy = executedBy
	tx.LastError = ""
	tx.UpdatedAt = time.Now()
	return nil
}

func (r *memoryMultisigRepository) ReleaseExecution(_ context.Context, id, txHash, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, exists := r.txs[id]
	if !exists {
		return ErrNotFound
	}
	if tx.Executed || tx.ExecutionTxHash != txHash {
		return ErrConflict
	}
	tx.ExecutionTxHash = ""
	tx.ExecutionNonce = nil
	tx.ExecutedBy = ""
	tx.LastError = lastError
	tx.UpdatedAt = time.Now()
	return nil
}

func (r *memoryMultisigRepository) List(_ context.Context, filter MultisigFilter) ([]*models.MultisigTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.MultisigTransaction, 0, len(r.txs))
	for _, tx := range r.txs {
		if filter.Network != "" && tx.Network != filter.Network {
			continue
		}
		if filter.Executed != nil && tx.Executed != *filter.Executed {
			continue
		}
		result = append(result, tx.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

type memorySettlementRepository struct {
	mu          sync.RWMutex
	settlements map[string]*models.Settlement
}

// NewMemorySettlementRepository creates an in-memory SettlementRepository
func NewMemorySettlementRepository() SettlementRepository {
	return &memorySettlementRepository{settlements: make(map[string]*models.Settlement)}
}

func (r *memorySettlementRepository) Create(_ context.Context, settlement *models.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.settlements[settlement.TransactionID]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = now
	}
	settlement.UpdatedAt = now
	r.settlements[settlement.TransactionID] = settlement.Clone()
	return nil
}

func (r *memorySettlementRepository) GetByID(_ context.Context, transactionID string) (*models.Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settlement, exists := r.settlements[transactionID]
	if !exists {
		return nil, ErrNotFound
	}
	return settlement.Clone(), nil
}

func (r *memorySettlementRepository) Update(_ context.Context, settlement *models.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.settlements[settlement.TransactionID]; !exists {
		return ErrNotFound
	}
	settlement.UpdatedAt = time.Now()
	r.settlements[settlement.TransactionID] = settlement.Clone()
	return nil
}

func (r *memorySettlementRepository) ClaimSubmission(_ context.Context, transactionID, txHash string, nonce uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	settlement, exists := r.settlements[transactionID]
	if !exists {
		return ErrNotFound
	}
	if settlement.Status != models.SettlementStatusPending || settlement.HasChainHash() {
		return ErrConflict
	}
	settlement.ChainTxHash = &txHash
	settlement.Nonce = &nonce
	settlement.UpdatedAt = time.Now()
	return nil
}

func (r *memorySettlementRepository) ReleaseSubmission(_ context.Context, transactionID, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	settlement, exists := r.settlements[transactionID]
	if !exists {
		return ErrNotFound
	}
	if !settlement.HasChainHash() || *settlement.ChainTxHash != txHash {
		return ErrConflict
	}
	settlement.ChainTxHash = nil
	settlement.Nonce = nil
	settlement.UpdatedAt = time.Now()
	return nil
}

func (r *memorySettlementRepository) List(_ context.Context, filter SettlementFilter) ([]*models.Settlement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.Settlement, 0, len(r.settlements))
	for _, s := range r.settlements {
		if filter.Network != "" && s.Network != filter.Network {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.FromAddress != "" && s.FromAddress != filter.FromAddress {
			continue
		}
		result = append(result, s.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

type memoryLedgerSubmissionRepository struct {
	mu          sync.RWMutex
	submissions map[string]*models.LedgerSubmission
}

// NewMemoryLedgerSubmissionRepository creates an in-memory LedgerSubmissionRepository
func NewMemoryLedgerSubmissionRepository() LedgerSubmissionRepository {
	return &memoryLedgerSubmissionRepository{submissions: make(map[string]*models.LedgerSubmission)}
}

func (r *memoryLedgerSubmissionRepository) Create(_ context.Context, submission *models.LedgerSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.submissions[submission.TxHash]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	submission.CreatedAt = now
	submission.UpdatedAt = now
	cp := *submission
	r.submissions[submission.TxHash] = &cp
	return nil
}

func (r *memoryLedgerSubmissionRepository) GetByTxHash(_ context.Context, txHash string) (*models.LedgerSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	submission, exists := r.submissions[txHash]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *submission
	return &cp, nil
}

func (r *memoryLedgerSubmissionRepository) UpdateStatus(_ context.Context, txHash string, status models.LedgerSubmissionStatus, blockNumber *uint64, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	submission, exists := r.submissions[txHash]
	if !exists {
		return ErrNotFound
	}
	now := time.Now()
	submission.Status = status
	submission.BlockNumber = blockNumber
	submission.LastError = lastError
	submission.UpdatedAt = now
	if status == models.LedgerSubmissionStatusConfirmed {
		submission.ConfirmedAt = &now
	}
	return nil
}

func (r *memoryLedgerSubmissionRepository) ListBySender(_ context.Context, network models.Network, sender string) ([]*models.LedgerSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.LedgerSubmission, 0)
	for _, s := range r.submissions {
		if s.Network == network && s.Sender == sender {
			cp := *s
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Nonce < result[j].Nonce
	})
	return result, nil
}

type memoryAdminUserRepository struct {
	mu    sync.RWMutex
	users map[string]*models.AdminUser
}

// NewMemoryAdminUserRepository creates an in-memory AdminUserRepository
func NewMemoryAdminUserRepository() AdminUserRepository {
	return &memoryAdminUserRepository{users: make(map[string]*models.AdminUser)}
}

func (r *memoryAdminUserRepository) Create(_ context.Context, user *models.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.Username]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.users[user.Username] = &cp
	return nil
}

func (r *memoryAdminUserRepository) GetByUsername(_ context.Context, username string) (*models.AdminUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[username]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *memoryAdminUserRepository) Update(_ context.Context, user *models.AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[user.Username]; !exists {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	cp := *user
	r.users[user.Username] = &cp
	return nil
}
