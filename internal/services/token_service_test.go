package services

import (
	"context"
	"math/big"
	"testing"

	"nvct-backend/internal/config"
	"nvct-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens(t *testing.T, node *fakeNode) (*TokenService, *recordingPublisher) {
	t.Helper()
	connector, _ := newTestConnector(node)
	registry, err := config.NewContractRegistry("", models.NetworkTestnet)
	require.NoError(t, err)
	publisher := &recordingPublisher{}
	service, err := NewTokenService(connector, registry, publisher)
	require.NoError(t, err)
	return service, publisher
}

func tokenContract() common.Address {
	return common.HexToAddress(config.DefaultContractAddresses()[string(models.NetworkTestnet)][models.ContractNVCToken])
}

func TestTokenTransferCallsTokenContract(t *testing.T) {
	node := newFakeNode()
	service, publisher := newTestTokens(t, node)

	tx, err := service.Transfer(context.Background(), testnetCtx, TokenTransferRequest{
		FromAddress: addressOf(ownerKeyB).Hex(),
		ToAddress:   recipient.Hex(),
		Amount:      "750",
	})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", tx.Status)
	assert.Equal(t, addressOf(ownerKeyB).Hex(), tx.Signer)

	sent := node.lastSent()
	require.NotNil(t, sent)
	assert.Equal(t, tokenContract(), *sent.To())
	assert.Zero(t, sent.Value().Sign())

	method, err := service.abi.MethodById(sent.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "transfer", method.Name)
	args, err := method.Inputs.Unpack(sent.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, recipient, args[0])
	assert.Equal(t, big.NewInt(750), args[1])

	assert.Contains(t, publisher.kinds(), EventTokenOperation)
}

func TestTokenMintAndBurnUseOperator(t *testing.T) {
	node := newFakeNode()
	service, _ := newTestTokens(t, node)
	ctx := context.Background()

	minted, err := service.Mint(ctx, testnetCtx, TokenMintRequest{ToAddress: recipient.Hex(), Amount: "10"})
	require.NoError(t, err)
	// no operator given: the network's default account signs
	assert.Equal(t, addressOf(ownerKeyA).Hex(), minted.Signer)
	method, err := service.abi.MethodById(node.lastSent().Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "mint", method.Name)

	burned, err := service.Burn(ctx, testnetCtx, TokenBurnRequest{
		FromAddress: recipient.Hex(),
		Amount:      "4",
		Operator:    addressOf(ownerKeyB).Hex(),
	})
	require.NoError(t, err)
	assert.Equal(t, addressOf(ownerKeyB).Hex(), burned.Signer)
	assert.Equal(t, recipient.Hex(), burned.Account)
	method, err = service.abi.MethodById(node.lastSent().Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "burn", method.Name)

	_, err = service.Mint(ctx, testnetCtx, TokenMintRequest{ToAddress: recipient.Hex(), Amount: "1", Operator: addressOf(ownerKeyC).Hex()})
	assert.ErrorIs(t, err, ErrSignerUnavailable)
	assert.Equal(t, 2, node.sentCount())
}

func TestTokenValidationAndRevert(t *testing.T) {
	node := newFakeNode()
	service, _ := newTestTokens(t, node)
	ctx := context.Background()

	_, err := service.Transfer(ctx, testnetCtx, TokenTransferRequest{FromAddress: addressOf(ownerKeyA).Hex(), ToAddress: "0x12", Amount: "1"})
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = service.Burn(ctx, testnetCtx, TokenBurnRequest{FromAddress: recipient.Hex(), Amount: "0"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// no token contract on mainnet in the default registry
	mainnet := models.NewNetworkContext(models.NetworkMainnet, "tester")
	_, err = service.Mint(ctx, mainnet, TokenMintRequest{ToAddress: recipient.Hex(), Amount: "1"})
	assert.ErrorIs(t, err, ErrNetworkUnconfigured)
	assert.Equal(t, 0, node.sentCount())

	node.revertAll = true
	tx, err := service.Mint(ctx, testnetCtx, TokenMintRequest{ToAddress: recipient.Hex(), Amount: "1"})
	assert.ErrorIs(t, err, ErrExecutionReverted)
	require.NotNil(t, tx)
	assert.Equal(t, "reverted", tx.Status)
}

func TestTokenBalanceOf(t *testing.T) {
	node := newFakeNode()
	node.callResult = common.LeftPadBytes(big.NewInt(123456).Bytes(), 32)
	service, _ := newTestTokens(t, node)

	balance, err := service.BalanceOf(context.Background(), models.NetworkTestnet, recipient)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123456), balance)

	require.Len(t, node.calls, 1)
	assert.Equal(t, tokenContract(), *node.calls[0].To)
	method, err := service.abi.MethodById(node.calls[0].Data[:4])
	require.NoError(t, err)
	assert.Equal(t, "balanceOf", method.Name)
}
