package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nvct-backend/internal/models"
)

// PendingOperationStore holds operations waiting at the security gate
type PendingOperationStore interface {
	Save(ctx context.Context, op *models.PendingOperation) error
	Get(ctx context.Context, operationID string) (*models.PendingOperation, error)
	// Update overwrites an existing operation without extending its lifetime
	Update(ctx context.Context, op *models.PendingOperation) error
	// Take atomically removes and returns the operation. Of two concurrent callers
	// exactly one gets it; the other sees ErrNotFound.
	Take(ctx context.Context, operationID string) (*models.PendingOperation, error)
	Delete(ctx context.Context, operationID string) error
	Count(ctx context.Context) (int, error)
	// PurgeExpired drops operations expired at now and returns how many were removed
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type memoryOperationStore struct {
	mu  sync.Mutex
	ops map[string]*models.PendingOperation
}

// NewMemoryOperationStore creates an in-process PendingOperationStore
func NewMemoryOperationStore() PendingOperationStore {
	return &memoryOperationStore{ops: make(map[string]*models.PendingOperation)}
}

func cloneOperation(op *models.PendingOperation) *models.PendingOperation {
	cp := *op
	cp.Payload = append(json.RawMessage(nil), op.Payload...)
	if op.CodeIssuedAt != nil {
		t := *op.CodeIssuedAt
		cp.CodeIssuedAt = &t
	}
	return &cp
}

func (s *memoryOperationStore) Save(_ context.Context, op *models.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ops[op.OperationID]; exists {
		return ErrDuplicate
	}
	s.ops[op.OperationID] = cloneOperation(op)
	return nil
}

func (s *memoryOperationStore) Get(_ context.Context, operationID string) (*models.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, exists := s.ops[operationID]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneOperation(op), nil
}

func (s *memoryOperationStore) Update(_ context.Context, op *models.PendingOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.ops[op.OperationID]
	if !exists {
		return ErrNotFound
	}
	updated := cloneOperation(op)
	updated.ExpiresAt = stored.ExpiresAt
	s.ops[op.OperationID] = updated
	return nil
}

func (s *memoryOperationStore) Take(_ context.Context, operationID string) (*models.PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, exists := s.ops[operationID]
	if !exists {
		return nil, ErrNotFound
	}
	delete(s.ops, operationID)
	return op, nil
}

func (s *memoryOperationStore) Delete(_ context.Context, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ops, operationID)
	return nil
}

func (s *memoryOperationStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops), nil
}

func (s *memoryOperationStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, op := range s.ops {
		if op.Expired(now) {
			delete(s.ops, id)
			purged++
		}
	}
	return purged, nil
}
