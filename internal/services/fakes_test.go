package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"nvct-backend/internal/clients"
	"nvct-backend/internal/config"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testChainID = 11155111

// well-known throwaway keys, never funded anywhere
const (
	ownerKeyA = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	ownerKeyB = "ae6ae8e5ccbfb04590405997ee2d52d2b330726137b875053c36d94e974d162f"
	ownerKeyC = "0dbbe8e4ae425a6d2687f1a7e3ba17bc98c673636790f1b8ad91193c05875ef1"
)

func addressOf(hexKey string) common.Address {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		panic(err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

type rpcTestError struct {
	msg  string
	code int
}

func (e *rpcTestError) Error() string  { return e.msg }
func (e *rpcTestError) ErrorCode() int { return e.code }

// fakeNode in-memory chain node. Sent transactions are mined on the next
// receipt lookup unless autoMine is off.
type fakeNode struct {
	mu sync.Mutex

	nonces   map[common.Address]uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	balances map[common.Address]*big.Int

	autoMine      bool
	revertAll     bool
	sendErrs      []error // consumed one per SendTransaction
	postSendErrs  []error // returned after the transaction was accepted
	calls         []ethereum.CallMsg
	callResult    []byte
	readFailures  int     // transient failures before reads succeed
	nonceCalls    int
	sendDelay     time.Duration
	blockNumber   int64
	gasPrice      *big.Int
	receiptLookup int
}

var _ clients.ChainNode = (*fakeNode)(nil)

func newFakeNode() *fakeNode {
	return &fakeNode{
		nonces:      make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*types.Receipt),
		balances:    make(map[common.Address]*big.Int),
		autoMine:    true,
		blockNumber: 100,
		gasPrice:    big.NewInt(1_000_000_000),
	}
}

func (f *fakeNode) transientRead() error {
	if f.readFailures > 0 {
		f.readFailures--
		return errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	}
	return nil
}

func (f *fakeNode) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(testChainID), nil
}

func (f *fakeNode) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	if err := f.transientRead(); err != nil {
		return 0, err
	}
	return f.nonces[account], nil
}

func (f *fakeNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(testChainID)), tx)
	if err != nil {
		return &rpcTestError{msg: "invalid sender", code: -32000}
	}
	if tx.Nonce() != f.nonces[sender] {
		return &rpcTestError{msg: "nonce too low", code: -32000}
	}
	f.nonces[sender]++
	f.sent = append(f.sent, tx)

	if f.autoMine {
		f.mine(tx)
	}
	if len(f.postSendErrs) > 0 {
		err := f.postSendErrs[0]
		f.postSendErrs = f.postSendErrs[1:]
		return err
	}
	return nil
}

// NonceAt counts the mined transactions of account
func (f *fakeNode) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transientRead(); err != nil {
		return 0, err
	}
	signer := types.NewEIP155Signer(big.NewInt(testChainID))
	var mined uint64
	for _, tx := range f.sent {
		if _, ok := f.receipts[tx.Hash()]; !ok {
			continue
		}
		if sender, err := types.Sender(signer, tx); err == nil && sender == account && tx.Nonce()+1 > mined {
			mined = tx.Nonce() + 1
		}
	}
	return mined, nil
}

func (f *fakeNode) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transientRead(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, call)
	return f.callResult, nil
}

// mine caller holds f.mu
func (f *fakeNode) mine(tx *types.Transaction) {
	f.blockNumber++
	status := types.ReceiptStatusSuccessful
	if f.revertAll {
		status = types.ReceiptStatusFailed
	}
	f.receipts[tx.Hash()] = &types.Receipt{
		TxHash:      tx.Hash(),
		Status:      status,
		GasUsed:     tx.Gas() / 2,
		BlockNumber: big.NewInt(f.blockNumber),
	}
}

// mineAll mines every sent transaction without a receipt
func (f *fakeNode) mineAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if _, ok := f.receipts[tx.Hash()]; !ok {
			f.mine(tx)
		}
	}
}

func (f *fakeNode) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptLookup++
	if err := f.transientRead(); err != nil {
		return nil, err
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeNode) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transientRead(); err != nil {
		return nil, err
	}
	if b, ok := f.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeNode) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeNode) lastSent() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// testNetworks testnet and mainnet with owners A, B, C, required 2, executor A
func testNetworks() map[string]config.NetworkConfig {
	owners := []string{addressOf(ownerKeyA).Hex(), addressOf(ownerKeyB).Hex(), addressOf(ownerKeyC).Hex()}
	network := func() config.NetworkConfig {
		return config.NetworkConfig{
			ChainID:            testChainID,
			RPCEndpoints:       []string{"http://fake"},
			PrivateKeys:        []string{ownerKeyA, ownerKeyB},
			GasPriceMultiplier: 1.2,
			GasLimit:           21000,
			SettlementGasLimit: 200000,
			Multisig: config.MultisigConfig{
				Owners:   owners,
				Required: 2,
				Executor: owners[0],
			},
			Enabled: true,
		}
	}
	return map[string]config.NetworkConfig{
		string(models.NetworkTestnet): network(),
		string(models.NetworkMainnet): network(),
	}
}

func newTestConnector(node *fakeNode) (*LedgerConnector, repository.LedgerSubmissionRepository) {
	networks := testNetworks()
	keyring, err := NewKeyringFromConfig(networks)
	if err != nil {
		panic(err)
	}
	submissions := repository.NewMemoryLedgerSubmissionRepository()
	connector := NewLedgerConnector(
		map[models.Network]clients.ChainNode{
			models.NetworkTestnet: node,
			models.NetworkMainnet: node,
		},
		keyring,
		submissions,
		LedgerConnectorConfig{
			Networks:       networks,
			ReceiptTimeout: 200 * time.Millisecond,
			PollInterval:   10 * time.Millisecond,
			RetryAttempts:  3,
			RetryBaseDelay: time.Millisecond,
		},
	)
	return connector, submissions
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]string, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
