package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMultisig(t *testing.T, node *fakeNode) (*MultisigService, *recordingPublisher) {
	t.Helper()
	connector, _ := newTestConnector(node)
	publisher := &recordingPublisher{}
	service, err := NewMultisigService(repository.NewMemoryMultisigRepository(), connector, publisher)
	require.NoError(t, err)
	return service, publisher
}

var testnetCtx = models.NewNetworkContext(models.NetworkTestnet, "tester")

func submitTransfer(t *testing.T, service *MultisigService) *models.MultisigTransaction {
	t.Helper()
	tx, err := service.Submit(context.Background(), testnetCtx, SubmitMultisigRequest{
		Destination: recipient.Hex(),
		Value:       "1000",
		Proposer:    addressOf(ownerKeyA).Hex(),
	})
	require.NoError(t, err)
	return tx
}

func TestMultisigTwoOfThreeScenario(t *testing.T) {
	node := newFakeNode()
	service, publisher := newTestMultisig(t, node)
	ctx := context.Background()
	a, b := addressOf(ownerKeyA).Hex(), addressOf(ownerKeyB).Hex()

	tx := submitTransfer(t, service)
	assert.Equal(t, []string{a}, tx.Owners())
	assert.False(t, tx.IsExecutable())

	_, err := service.Execute(ctx, tx.ID, a)
	assert.ErrorIs(t, err, ErrInsufficientConfirmations)
	assert.Equal(t, 0, node.sentCount())

	tx, err = service.Confirm(ctx, tx.ID, b)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, tx.Owners())
	assert.True(t, tx.IsExecutable())

	r1, err := service.Execute(ctx, tx.ID, b)
	require.NoError(t, err)
	assert.True(t, r1.Succeeded())
	assert.Equal(t, 1, node.sentCount())

	stored, err := service.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, stored.Executed)
	assert.Equal(t, r1.TxHash, stored.ExecutionTxHash)
	assert.Equal(t, b, stored.ExecutedBy)

	again, err := service.Execute(ctx, tx.ID, a)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
	assert.Equal(t, r1, again)
	assert.Equal(t, 1, node.sentCount())

	assert.Contains(t, publisher.kinds(), EventMultisigExecuted)
}

func TestMultisigConcurrentExecuteSendsOnce(t *testing.T) {
	node := newFakeNode()
	service, _ := newTestMultisig(t, node)
	ctx := context.Background()

	tx := submitTransfer(t, service)
	_, err := service.Confirm(ctx, tx.ID, addressOf(ownerKeyB).Hex())
	require.NoError(t, err)

	const callers = 8
	receipts := make([]*Receipt, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = service.Execute(ctx, tx.ID, addressOf(ownerKeyC).Hex())
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < callers; i++ {
		if errs[i] == nil {
			winners++
		} else {
			assert.ErrorIs(t, errs[i], ErrAlreadyExecuted)
		}
		require.NotNil(t, receipts[i])
		assert.Equal(t, receipts[0].TxHash, receipts[i].TxHash)
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, node.sentCount())
}

func TestMultisigDuplicateConfirmationIsNoOp(t *testing.T) {
	service, _ := newTestMultisig(t, newFakeNode())
	ctx := context.Background()

	tx := submitTransfer(t, service)
	same, err := service.Confirm(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)
	require.NotNil(t, same)
	assert.Equal(t, 1, same.ConfirmationCount())

	// lowercase form of the same owner is still the same owner
	_, err = service.Confirm(ctx, tx.ID, strings.ToLower(addressOf(ownerKeyA).Hex()))
	assert.ErrorIs(t, err, ErrAlreadyConfirmed)

	stored, err := service.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ConfirmationCount())
}

func TestMultisigRejectsUnknownOwner(t *testing.T) {
	service, _ := newTestMultisig(t, newFakeNode())
	ctx := context.Background()
	stranger := "0x2222222222222222222222222222222222222222"

	_, err := service.Submit(ctx, testnetCtx, SubmitMultisigRequest{
		Destination: recipient.Hex(),
		Proposer:    stranger,
	})
	assert.ErrorIs(t, err, ErrUnknownOwner)

	tx := submitTransfer(t, service)
	_, err = service.Confirm(ctx, tx.ID, stranger)
	assert.ErrorIs(t, err, ErrUnknownOwner)

	_, err = service.Confirm(ctx, tx.ID, "garbage")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestMultisigSubmitValidation(t *testing.T) {
	service, _ := newTestMultisig(t, newFakeNode())
	ctx := context.Background()
	proposer := addressOf(ownerKeyA).Hex()

	_, err := service.Submit(ctx, testnetCtx, SubmitMultisigRequest{Destination: "0x123", Proposer: proposer})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = service.Submit(ctx, testnetCtx, SubmitMultisigRequest{Destination: recipient.Hex(), Value: "-5", Proposer: proposer})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = service.Submit(ctx, testnetCtx, SubmitMultisigRequest{Destination: recipient.Hex(), Data: "0xzz", Proposer: proposer})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = service.Confirm(ctx, "missing", proposer)
	assert.ErrorIs(t, err, ErrMultisigNotFound)
}

func TestMultisigConfirmAfterExecution(t *testing.T) {
	service, _ := newTestMultisig(t, newFakeNode())
	ctx := context.Background()

	tx := submitTransfer(t, service)
	_, err := service.Confirm(ctx, tx.ID, addressOf(ownerKeyB).Hex())
	require.NoError(t, err)
	_, err = service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.NoError(t, err)

	_, err = service.Confirm(ctx, tx.ID, addressOf(ownerKeyC).Hex())
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
}

func TestMultisigPendingExecutionIsRepolledNotResent(t *testing.T) {
	node := newFakeNode()
	node.autoMine = false
	service, _ := newTestMultisig(t, node)
	ctx := context.Background()

	tx := submitTransfer(t, service)
	_, err := service.Confirm(ctx, tx.ID, addressOf(ownerKeyB).Hex())
	require.NoError(t, err)

	_, err = service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	assert.ErrorIs(t, err, ErrPendingTimeout)
	assert.Equal(t, 1, node.sentCount())

	status, err := service.Status(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", status.ChainStatus)
	assert.False(t, status.Transaction.Executed)

	node.mineAll()
	receipt, err := service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, 1, node.sentCount())
}

func TestMultisigStatusReadsThroughLedger(t *testing.T) {
	node := newFakeNode()
	node.autoMine = false
	service, _ := newTestMultisig(t, node)
	ctx := context.Background()

	tx := submitTransfer(t, service)
	_, err := service.Confirm(ctx, tx.ID, addressOf(ownerKeyB).Hex())
	require.NoError(t, err)
	_, err = service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.ErrorIs(t, err, ErrPendingTimeout)

	node.mineAll()
	status, err := service.Status(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", status.ChainStatus)
	assert.True(t, status.Transaction.Executed)
	require.NotNil(t, status.Receipt)
	assert.True(t, status.Receipt.Succeeded())
}

func TestMultisigRevertAllowsFreshExecution(t *testing.T) {
	node := newFakeNode()
	node.revertAll = true
	service, publisher := newTestMultisig(t, node)
	ctx := context.Background()

	tx := submitTransfer(t, service)
	_, err := service.Confirm(ctx, tx.ID, addressOf(ownerKeyB).Hex())
	require.NoError(t, err)

	receipt, err := service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	assert.ErrorIs(t, err, ErrExecutionReverted)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Succeeded())

	stored, err := service.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, stored.Executed)
	assert.Empty(t, stored.ExecutionTxHash)
	assert.Contains(t, publisher.kinds(), EventMultisigReverted)

	node.revertAll = false
	receipt, err = service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, 2, node.sentCount())
	// fresh nonce for the second broadcast
	assert.Equal(t, uint64(1), node.lastSent().Nonce())
}

func executableTransfer(t *testing.T, service *MultisigService) *models.MultisigTransaction {
	t.Helper()
	tx := submitTransfer(t, service)
	_, err := service.Confirm(context.Background(), tx.ID, addressOf(ownerKeyB).Hex())
	require.NoError(t, err)
	return tx
}

func TestMultisigAmbiguousSendIsNotSignedAgain(t *testing.T) {
	node := newFakeNode()
	node.autoMine = false
	service, _ := newTestMultisig(t, node)
	ctx := context.Background()
	tx := executableTransfer(t, service)

	// the node takes the transaction but the response is lost
	node.postSendErrs = []error{context.DeadlineExceeded}
	_, err := service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.ErrorIs(t, err, ErrConnection)

	stored, err := service.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, node.lastSent().Hash().Hex(), stored.ExecutionTxHash)
	require.NotNil(t, stored.ExecutionNonce)
	assert.False(t, stored.Executed)

	// still in the node's pool: polled, never re-signed
	_, err = service.Execute(ctx, tx.ID, addressOf(ownerKeyB).Hex())
	require.ErrorIs(t, err, ErrPendingTimeout)
	assert.Equal(t, 1, node.sentCount())

	node.mineAll()
	receipt, err := service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, 1, node.sentCount())
}

func TestMultisigDroppedSendIsBroadcastAgain(t *testing.T) {
	node := newFakeNode()
	service, _ := newTestMultisig(t, node)
	ctx := context.Background()
	tx := executableTransfer(t, service)

	node.sendErrs = []error{errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")}
	_, err := service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 0, node.sentCount())

	receipt, err := service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, 1, node.sentCount())
}

func TestMultisigRejectedSendReleasesClaim(t *testing.T) {
	node := newFakeNode()
	service, _ := newTestMultisig(t, node)
	ctx := context.Background()
	tx := executableTransfer(t, service)

	node.sendErrs = []error{&rpcTestError{msg: "insufficient funds for gas * price + value", code: -32000}}
	_, err := service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	require.ErrorIs(t, err, ErrTransactionRejected)

	stored, err := service.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ExecutionTxHash)
	assert.Nil(t, stored.ExecutionNonce)
	assert.Contains(t, stored.LastError, "insufficient funds")
}

// racingMultisigRepo lets another replica claim the execution first
type racingMultisigRepo struct {
	repository.MultisigRepository
}

func (r *racingMultisigRepo) ClaimExecution(ctx context.Context, id, txHash string, nonce uint64, executedBy string) error {
	if err := r.MultisigRepository.ClaimExecution(ctx, id, "0xother-replica", nonce, executedBy); err != nil {
		return err
	}
	return r.MultisigRepository.ClaimExecution(ctx, id, txHash, nonce, executedBy)
}

func TestMultisigClaimLostToOtherReplicaSendsNothing(t *testing.T) {
	node := newFakeNode()
	connector, _ := newTestConnector(node)
	service, err := NewMultisigService(&racingMultisigRepo{repository.NewMemoryMultisigRepository()}, connector, &recordingPublisher{})
	require.NoError(t, err)
	ctx := context.Background()
	tx := executableTransfer(t, service)

	_, err = service.Execute(ctx, tx.ID, addressOf(ownerKeyA).Hex())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, node.sentCount())

	stored, err := service.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xother-replica", stored.ExecutionTxHash)
}

func TestMultisigList(t *testing.T) {
	service, _ := newTestMultisig(t, newFakeNode())
	ctx := context.Background()
	submitTransfer(t, service)
	submitTransfer(t, service)

	executed := false
	list, err := service.List(ctx, models.NetworkTestnet, &executed, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = service.List(ctx, models.NetworkMainnet, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
