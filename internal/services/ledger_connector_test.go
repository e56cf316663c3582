package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"nvct-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recipient = common.HexToAddress("0x1111111111111111111111111111111111111111")

func TestSubmitAndAwaitReceipt(t *testing.T) {
	node := newFakeNode()
	connector, submissions := newTestConnector(node)
	ctx := context.Background()

	handle, err := connector.Submit(ctx, TxSpec{
		Network:   models.NetworkTestnet,
		From:      addressOf(ownerKeyA),
		To:        recipient,
		Value:     big.NewInt(5),
		Reference: "ref-1",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), handle.Nonce)

	sent := node.lastSent()
	require.NotNil(t, sent)
	// suggestion 1 gwei scaled by 1.2
	assert.Equal(t, big.NewInt(1_200_000_000), sent.GasPrice())
	assert.Equal(t, uint64(21000), sent.Gas())
	assert.Equal(t, big.NewInt(testChainID), sent.ChainId())

	receipt, err := connector.AwaitReceipt(ctx, handle, 0)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, handle.Hash.Hex(), receipt.TxHash)

	submission, err := submissions.GetByTxHash(ctx, handle.Hash.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.LedgerSubmissionStatusConfirmed, submission.Status)
	assert.Equal(t, "ref-1", submission.Reference)
}

func TestNonceAllocationIsSerializedPerSender(t *testing.T) {
	node := newFakeNode()
	node.sendDelay = time.Millisecond
	connector, _ := newTestConnector(node)
	ctx := context.Background()

	const workers = 20
	nonces := make(chan uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := connector.Submit(ctx, TxSpec{
				Network: models.NetworkTestnet,
				From:    addressOf(ownerKeyA),
				To:      recipient,
				Value:   big.NewInt(1),
			})
			if assert.NoError(t, err) {
				nonces <- handle.Nonce
			}
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[uint64]bool)
	for n := range nonces {
		assert.False(t, seen[n], "nonce %d allocated twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	// the node is asked once, later nonces come from the cache
	assert.Equal(t, 1, node.nonceCalls)
}

func TestSendFailureDropsCachedNonce(t *testing.T) {
	node := newFakeNode()
	connector, _ := newTestConnector(node)
	ctx := context.Background()
	spec := TxSpec{Network: models.NetworkTestnet, From: addressOf(ownerKeyA), To: recipient}

	_, err := connector.Submit(ctx, spec)
	require.NoError(t, err)

	node.sendErrs = []error{errors.New("connection reset by peer")}
	_, err = connector.Submit(ctx, spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.True(t, IsRetryable(err))

	var ledgerErr *LedgerError
	require.ErrorAs(t, err, &ledgerErr)
	require.NotNil(t, ledgerErr.Nonce)
	assert.Equal(t, uint64(1), *ledgerErr.Nonce)
	assert.Equal(t, addressOf(ownerKeyA), ledgerErr.Sender)

	handle, err := connector.Submit(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), handle.Nonce)
	assert.Equal(t, 2, node.nonceCalls)
}

func TestOnSignedRunsBeforeSendAndCanAbort(t *testing.T) {
	node := newFakeNode()
	connector, _ := newTestConnector(node)
	ctx := context.Background()

	var seen *TxHandle
	handle, err := connector.Submit(ctx, TxSpec{
		Network: models.NetworkTestnet,
		From:    addressOf(ownerKeyA),
		To:      recipient,
		OnSigned: func(_ context.Context, h *TxHandle) error {
			assert.Equal(t, 0, node.sentCount())
			seen = h
			return nil
		},
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, handle.Hash, seen.Hash)

	claimErr := errors.New("claimed elsewhere")
	_, err = connector.Submit(ctx, TxSpec{
		Network:  models.NetworkTestnet,
		From:     addressOf(ownerKeyA),
		To:       recipient,
		OnSigned: func(context.Context, *TxHandle) error { return claimErr },
	})
	assert.ErrorIs(t, err, claimErr)
	assert.Equal(t, 1, node.sentCount())
}

func TestAmbiguousSendKeepsHashAndChecksBroadcast(t *testing.T) {
	node := newFakeNode()
	node.autoMine = false
	connector, submissions := newTestConnector(node)
	ctx := context.Background()
	sender := addressOf(ownerKeyA)
	spec := TxSpec{Network: models.NetworkTestnet, From: sender, To: recipient, Value: big.NewInt(7)}

	// accepted by the node, but the caller only sees the timeout
	node.postSendErrs = []error{context.DeadlineExceeded}
	_, err := connector.Submit(ctx, spec)
	ledgerErr, unknown := SendOutcomeUnknown(err)
	require.True(t, unknown)
	assert.Equal(t, node.lastSent().Hash().Hex(), ledgerErr.TxHash)

	submission, err := submissions.GetByTxHash(ctx, ledgerErr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, models.LedgerSubmissionStatusUnknown, submission.Status)

	state, receipt, err := connector.CheckBroadcast(ctx, models.NetworkTestnet, sender, *ledgerErr.Nonce, ledgerErr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, BroadcastPending, state)
	assert.Nil(t, receipt)

	node.mineAll()
	state, receipt, err = connector.CheckBroadcast(ctx, models.NetworkTestnet, sender, *ledgerErr.Nonce, ledgerErr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, BroadcastMined, state)
	require.NotNil(t, receipt)
	assert.Equal(t, ledgerErr.TxHash, receipt.TxHash)

	// refused before the node saw it
	node.sendErrs = []error{errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")}
	_, err = connector.Submit(ctx, spec)
	ledgerErr, unknown = SendOutcomeUnknown(err)
	require.True(t, unknown)
	state, _, err = connector.CheckBroadcast(ctx, models.NetworkTestnet, sender, *ledgerErr.Nonce, ledgerErr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, BroadcastDropped, state)
	assert.Equal(t, 1, node.sentCount())
}

func TestCheckBroadcastDetectsReplacedNonce(t *testing.T) {
	node := newFakeNode()
	connector, _ := newTestConnector(node)
	ctx := context.Background()
	sender := addressOf(ownerKeyA)

	handle, err := connector.Submit(ctx, TxSpec{Network: models.NetworkTestnet, From: sender, To: recipient})
	require.NoError(t, err)
	_, err = connector.AwaitReceipt(ctx, handle, 0)
	require.NoError(t, err)

	// nonce 0 is mined under another hash
	state, _, err := connector.CheckBroadcast(ctx, models.NetworkTestnet, sender, 0, common.HexToHash("0xdead").Hex())
	require.NoError(t, err)
	assert.Equal(t, BroadcastDropped, state)
}

func TestAlreadyKnownCountsAsBroadcast(t *testing.T) {
	node := newFakeNode()
	connector, _ := newTestConnector(node)

	node.postSendErrs = []error{&rpcTestError{msg: "already known", code: -32000}}
	handle, err := connector.Submit(context.Background(), TxSpec{Network: models.NetworkTestnet, From: addressOf(ownerKeyA), To: recipient})
	require.NoError(t, err)
	assert.Equal(t, node.lastSent().Hash(), handle.Hash)
}

func TestSendErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{&rpcTestError{msg: "execution reverted: settlement paused", code: 3}, ErrExecutionReverted},
		{&rpcTestError{msg: "insufficient funds for gas * price + value", code: -32000}, ErrTransactionRejected},
		{errors.New("nonce too low"), ErrTransactionRejected},
		{errors.New("dial tcp: i/o timeout"), ErrConnection},
		{context.DeadlineExceeded, ErrConnection},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, classifySendError(tc.err), tc.err.Error())
	}
}

func TestAwaitReceiptTimesOut(t *testing.T) {
	node := newFakeNode()
	node.autoMine = false
	connector, _ := newTestConnector(node)
	ctx := context.Background()

	handle, err := connector.Submit(ctx, TxSpec{Network: models.NetworkTestnet, From: addressOf(ownerKeyA), To: recipient})
	require.NoError(t, err)

	_, err = connector.AwaitReceipt(ctx, handle, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrPendingTimeout)
	assert.True(t, IsRetryable(err))

	node.mineAll()
	receipt, err := connector.LookupReceipt(ctx, models.NetworkTestnet, handle.Hash.Hex())
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Succeeded())
}

func TestReadsRetryTransientFailures(t *testing.T) {
	node := newFakeNode()
	node.balances[recipient] = big.NewInt(42)
	node.readFailures = 2
	connector, _ := newTestConnector(node)

	balance, err := connector.Balance(context.Background(), models.NetworkTestnet, recipient)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), balance)

	node.readFailures = 5
	_, err = connector.Balance(context.Background(), models.NetworkTestnet, recipient)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestSubmitRequiresManagedSender(t *testing.T) {
	connector, _ := newTestConnector(newFakeNode())

	_, err := connector.Submit(context.Background(), TxSpec{
		Network: models.NetworkTestnet,
		From:    addressOf(ownerKeyC),
		To:      recipient,
	})
	assert.ErrorIs(t, err, ErrSignerUnavailable)

	_, err = connector.Submit(context.Background(), TxSpec{
		Network: models.Network("devnet"),
		From:    addressOf(ownerKeyA),
		To:      recipient,
	})
	assert.ErrorIs(t, err, ErrNetworkUnconfigured)
}

func TestFixedGasPrice(t *testing.T) {
	node := newFakeNode()
	connector, _ := newTestConnector(node)
	cfg := connector.networks[models.NetworkTestnet]
	cfg.GasPrice = "3000000000"
	connector.networks[models.NetworkTestnet] = cfg

	price, err := connector.GasPrice(context.Background(), models.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3_000_000_000), price)
}
