package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nvct-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMultisigConfirmations(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMultisigRepository()

	tx := &models.MultisigTransaction{
		ID:                    "tx-1",
		Network:               models.NetworkTestnet,
		Destination:           "0x1111111111111111111111111111111111111111",
		Value:                 "1",
		Proposer:              "0xA",
		RequiredConfirmations: 2,
		Confirmations:         []models.MultisigConfirmation{{Owner: "0xA"}},
	}
	require.NoError(t, repo.Create(ctx, tx))
	assert.ErrorIs(t, repo.Create(ctx, tx), ErrDuplicate)

	require.NoError(t, repo.AddConfirmation(ctx, &models.MultisigConfirmation{TransactionID: "tx-1", Owner: "0xB"}))
	assert.ErrorIs(t, repo.AddConfirmation(ctx, &models.MultisigConfirmation{TransactionID: "tx-1", Owner: "0xB"}), ErrDuplicate)
	assert.ErrorIs(t, repo.AddConfirmation(ctx, &models.MultisigConfirmation{TransactionID: "missing", Owner: "0xB"}), ErrNotFound)

	stored, err := repo.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xA", "0xB"}, stored.Owners())
	assert.True(t, stored.IsExecutable())

	// mutating the copy does not leak into the store
	stored.Confirmations = nil
	again, err := repo.GetByID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.ConfirmationCount())
}

func TestMemoryMultisigUpdateKeepsConfirmations(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMultisigRepository()
	require.NoError(t, repo.Create(ctx, &models.MultisigTransaction{
		ID:            "tx-2",
		Network:       models.NetworkTestnet,
		Confirmations: []models.MultisigConfirmation{{Owner: "0xA"}},
	}))

	tx, err := repo.GetByID(ctx, "tx-2")
	require.NoError(t, err)
	tx.Executed = true
	tx.ExecutionTxHash = "0xabc"
	tx.Confirmations = nil
	require.NoError(t, repo.Update(ctx, tx))

	stored, err := repo.GetByID(ctx, "tx-2")
	require.NoError(t, err)
	assert.True(t, stored.Executed)
	assert.Equal(t, "0xabc", stored.ExecutionTxHash)
	assert.Equal(t, 1, stored.ConfirmationCount())

	executed := true
	list, err := repo.List(ctx, MultisigFilter{Executed: &executed})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemorySettlementRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySettlementRepository()

	s := &models.Settlement{TransactionID: "app-1", Network: models.NetworkTestnet, Status: models.SettlementStatusPending}
	require.NoError(t, repo.Create(ctx, s))
	assert.ErrorIs(t, repo.Create(ctx, s), ErrDuplicate)

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s.Status = models.SettlementStatusConfirmed
	require.NoError(t, repo.Update(ctx, s))

	list, err := repo.List(ctx, SettlementFilter{Status: models.SettlementStatusConfirmed})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "app-1", list[0].TransactionID)

	list, err = repo.List(ctx, SettlementFilter{Network: models.NetworkMainnet})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryMultisigClaimExecutionIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMultisigRepository()
	require.NoError(t, repo.Create(ctx, &models.MultisigTransaction{ID: "tx-claim", RequiredConfirmations: 1}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := repo.ClaimExecution(ctx, "tx-claim", "0xhash", uint64(i), "0xA"); err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	// 只有记录的哈希才能释放
	assert.ErrorIs(t, repo.ReleaseExecution(ctx, "tx-claim", "0xother", "x"), ErrConflict)
	require.NoError(t, repo.ReleaseExecution(ctx, "tx-claim", "0xhash", "dropped"))

	got, err := repo.GetByID(ctx, "tx-claim")
	require.NoError(t, err)
	assert.Empty(t, got.ExecutionTxHash)
	assert.Nil(t, got.ExecutionNonce)
	assert.Equal(t, "dropped", got.LastError)

	require.NoError(t, repo.ClaimExecution(ctx, "tx-claim", "0xnext", 3, "0xA"))
	got.Executed = true
	got.ExecutionTxHash = "0xnext"
	require.NoError(t, repo.Update(ctx, got))
	assert.ErrorIs(t, repo.ReleaseExecution(ctx, "tx-claim", "0xnext", ""), ErrConflict)
	assert.ErrorIs(t, repo.ClaimExecution(ctx, "missing", "0x1", 0, "0xA"), ErrNotFound)
}

func TestMemorySettlementClaimSubmission(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySettlementRepository()
	require.NoError(t, repo.Create(ctx, &models.Settlement{TransactionID: "app-claim", Status: models.SettlementStatusPending}))

	require.NoError(t, repo.ClaimSubmission(ctx, "app-claim", "0xh1", 0))
	assert.ErrorIs(t, repo.ClaimSubmission(ctx, "app-claim", "0xh2", 1), ErrConflict)

	got, err := repo.GetByID(ctx, "app-claim")
	require.NoError(t, err)
	require.True(t, got.HasChainHash())
	assert.Equal(t, "0xh1", *got.ChainTxHash)

	assert.ErrorIs(t, repo.ReleaseSubmission(ctx, "app-claim", "0xh2"), ErrConflict)
	require.NoError(t, repo.ReleaseSubmission(ctx, "app-claim", "0xh1"))
	require.NoError(t, repo.ClaimSubmission(ctx, "app-claim", "0xh2", 1))

	got.Status = models.SettlementStatusCanceled
	got.ChainTxHash = nil
	require.NoError(t, repo.Update(ctx, got))
	assert.ErrorIs(t, repo.ClaimSubmission(ctx, "app-claim", "0xh3", 2), ErrConflict)
}

func TestMemoryOperationStoreTakeIsOneShot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOperationStore()
	require.NoError(t, store.Save(ctx, &models.PendingOperation{
		OperationID: "op-1",
		ExpiresAt:   time.Now().Add(time.Minute),
	}))

	var taken int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Take(ctx, "op-1"); err == nil {
				atomic.AddInt32(&taken, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), taken)

	_, err := store.Get(ctx, "op-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryOperationStoreUpdateKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOperationStore()
	expires := time.Now().Add(time.Minute)
	require.NoError(t, store.Save(ctx, &models.PendingOperation{OperationID: "op-2", ExpiresAt: expires}))

	require.NoError(t, store.Update(ctx, &models.PendingOperation{
		OperationID:  "op-2",
		SecurityCode: "123456",
		ExpiresAt:    expires.Add(time.Hour),
	}))

	op, err := store.Get(ctx, "op-2")
	require.NoError(t, err)
	assert.Equal(t, "123456", op.SecurityCode)
	assert.True(t, op.ExpiresAt.Equal(expires))

	assert.ErrorIs(t, store.Update(ctx, &models.PendingOperation{OperationID: "gone"}), ErrNotFound)
}

func TestMemoryOperationStorePurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOperationStore()
	now := time.Now()
	require.NoError(t, store.Save(ctx, &models.PendingOperation{OperationID: "old", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, store.Save(ctx, &models.PendingOperation{OperationID: "fresh", ExpiresAt: now.Add(time.Minute)}))

	purged, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestKeyTTLNeverBelowOneSecond(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Second, keyTTL(now.Add(-time.Minute), now))
	assert.Equal(t, 10*time.Minute, keyTTL(now.Add(10*time.Minute), now))
}
