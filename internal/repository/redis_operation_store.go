package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nvct-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const pendingOperationKeyPrefix = "pending_op:"

// redisOperationStore keeps pending operations in Redis so several API replicas
// share one gate. Expiry is enforced by the key TTL.
type redisOperationStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisOperationStore creates a Redis backed PendingOperationStore. namespace
// is prepended to every key.
func NewRedisOperationStore(client redis.UniversalClient, namespace string) PendingOperationStore {
	prefix := pendingOperationKeyPrefix
	if namespace != "" {
		prefix = namespace + ":" + pendingOperationKeyPrefix
	}
	return &redisOperationStore{client: client, prefix: prefix}
}

func (s *redisOperationStore) key(operationID string) string {
	return s.prefix + operationID
}

// keyTTL remaining lifetime, at least one second so Redis accepts it
func keyTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func (s *redisOperationStore) Save(ctx context.Context, op *models.PendingOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode pending operation: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(op.OperationID), data, keyTTL(op.ExpiresAt, time.Now())).Result()
	if err != nil {
		return fmt.Errorf("failed to store pending operation: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (s *redisOperationStore) Get(ctx context.Context, operationID string) (*models.PendingOperation, error) {
	data, err := s.client.Get(ctx, s.key(operationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending operation: %w", err)
	}
	return decodeOperation(data)
}

func (s *redisOperationStore) Update(ctx context.Context, op *models.PendingOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode pending operation: %w", err)
	}
	_, err = s.client.SetArgs(ctx, s.key(op.OperationID), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update pending operation: %w", err)
	}
	return nil
}

func (s *redisOperationStore) Take(ctx context.Context, operationID string) (*models.PendingOperation, error) {
	data, err := s.client.GetDel(ctx, s.key(operationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take pending operation: %w", err)
	}
	return decodeOperation(data)
}

func (s *redisOperationStore) Delete(ctx context.Context, operationID string) error {
	if err := s.client.Del(ctx, s.key(operationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete pending operation: %w", err)
	}
	return nil
}

func (s *redisOperationStore) Count(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// PurgeExpired is a no-op; Redis evicts expired keys itself
func (s *redisOperationStore) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func decodeOperation(data []byte) (*models.PendingOperation, error) {
	var op models.PendingOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("failed to decode pending operation: %w", err)
	}
	return &op, nil
}
