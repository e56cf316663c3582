package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"nvct-backend/internal/clients"
	"nvct-backend/internal/config"
	"nvct-backend/internal/metrics"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TxSpec one transaction to sign and broadcast
type TxSpec struct {
	Network   models.Network
	From      common.Address
	To        common.Address
	Value     *big.Int
	Data      []byte
	GasLimit  uint64   // 0 uses the network default
	GasPrice  *big.Int // nil uses the node suggestion scaled by the network multiplier
	Reference string   // application id recorded with the submission

	// OnSigned runs under the sender lock after signing and before the broadcast.
	// Callers persist the hash here; an error aborts the send.
	OnSigned func(ctx context.Context, handle *TxHandle) error
}

// TxHandle identifies a broadcast transaction
type TxHandle struct {
	Network     models.Network `json:"network"`
	Hash        common.Hash    `json:"hash"`
	From        common.Address `json:"from"`
	Nonce       uint64         `json:"nonce"`
	Value       *big.Int       `json:"value"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Receipt chain confirmation of a mined transaction
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      uint64 `json:"status"`
}

// Succeeded receipt status 1
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// LedgerConnectorConfig timing and retry knobs
type LedgerConnectorConfig struct {
	Networks       map[string]config.NetworkConfig
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// LedgerConnector signs, submits and polls transactions against one node per network
type LedgerConnector struct {
	nodes       map[models.Network]clients.ChainNode
	networks    map[models.Network]config.NetworkConfig
	keyring     *Keyring
	submissions repository.LedgerSubmissionRepository

	// allocate→sign→send runs under the sender's lock
	senderLocks *utils.KeyedLock
	nonces      map[string]uint64
	nonceMu     sync.Mutex

	receiptTimeout time.Duration
	pollInterval   time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
}

// NewLedgerConnector creates the connector. nodes may miss networks; operations on
// them fail with ErrNetworkUnconfigured.
func NewLedgerConnector(nodes map[models.Network]clients.ChainNode, keyring *Keyring, submissions repository.LedgerSubmissionRepository, cfg LedgerConnectorConfig) *LedgerConnector {
	networks := make(map[models.Network]config.NetworkConfig)
	for name, networkConfig := range cfg.Networks {
		if network, err := models.ParseNetwork(name); err == nil {
			networks[network] = networkConfig
		}
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 120 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if keyring == nil {
		keyring = NewKeyring()
	}
	if submissions == nil {
		submissions = repository.NewMemoryLedgerSubmissionRepository()
	}

	return &LedgerConnector{
		nodes:          nodes,
		networks:       networks,
		keyring:        keyring,
		submissions:    submissions,
		senderLocks:    utils.NewKeyedLock(),
		nonces:         make(map[string]uint64),
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
	}
}

// HasNetwork whether a node is connected for network
func (l *LedgerConnector) HasNetwork(network models.Network) bool {
	_, ok := l.nodes[network]
	return ok
}

// NetworkConfig configuration of network
func (l *LedgerConnector) NetworkConfig(network models.Network) (config.NetworkConfig, error) {
	networkConfig, ok := l.networks[network]
	if !ok {
		return config.NetworkConfig{}, fmt.Errorf("%w: %s", ErrNetworkUnconfigured, network)
	}
	return networkConfig, nil
}

// Keyring managed accounts
func (l *LedgerConnector) Keyring() *Keyring {
	return l.keyring
}

func (l *LedgerConnector) node(network models.Network) (clients.ChainNode, error) {
	node, ok := l.nodes[network]
	if !ok || node == nil {
		return nil, fmt.Errorf("%w: no node for %s", ErrNetworkUnconfigured, network)
	}
	return node, nil
}

func senderKey(network models.Network, sender common.Address) string {
	return fmt.Sprintf("%s:%s", network, sender.Hex())
}

// Submit signs and broadcasts spec. The broadcast itself is never retried; a
// failed send drops the cached nonce so the next submission re-syncs from the node.
func (l *LedgerConnector) Submit(ctx context.Context, spec TxSpec) (*TxHandle, error) {
	node, err := l.node(spec.Network)
	if err != nil {
		return nil, err
	}
	strategy, err := l.keyring.Signer(spec.Network, spec.From)
	if err != nil {
		return nil, err
	}

	value := spec.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value", ErrInvalidAmount)
	}

	ledgerErr := func(kind error, nonce *uint64, txHash string, cause error) *LedgerError {
		metrics.LedgerNodeErrors.WithLabelValues(spec.Network.String(), errorKindLabel(kind)).Inc()
		return &LedgerError{
			Kind:    kind,
			Network: spec.Network,
			Sender:  spec.From,
			Nonce:   nonce,
			Value:   new(big.Int).Set(value),
			TxHash:  txHash,
			Err:     cause,
		}
	}

	chainID, err := l.chainID(ctx, spec.Network, node)
	if err != nil {
		return nil, ledgerErr(ErrConnection, nil, "", err)
	}

	gasPrice := spec.GasPrice
	if gasPrice == nil {
		gasPrice, err = l.GasPrice(ctx, spec.Network)
		if err != nil {
			return nil, err
		}
	}
	gasLimit := spec.GasLimit
	if gasLimit == 0 {
		gasLimit = l.networks[spec.Network].GasLimit
	}
	if gasLimit == 0 {
		gasLimit = 21000
	}

	key := senderKey(spec.Network, spec.From)
	unlock := l.senderLocks.Lock(key)
	defer unlock()

	nonce, err := l.allocateNonce(ctx, key, node, spec.From)
	if err != nil {
		return nil, ledgerErr(ErrConnection, nil, "", err)
	}

	to := spec.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     spec.Data,
	})

	signer := types.NewEIP155Signer(chainID)
	signature, err := strategy.Sign(signer.Hash(tx).Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction with %s: %w", strategy.Name(), err)
	}
	signedTx, err := tx.WithSignature(signer, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to apply signature: %w", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"network":   spec.Network,
		"sender":    spec.From.Hex(),
		"to":        to.Hex(),
		"nonce":     nonce,
		"value":     value.String(),
		"gas_limit": gasLimit,
		"gas_price": gasPrice.String(),
		"tx_hash":   signedTx.Hash().Hex(),
		"reference": spec.Reference,
	})

	handle := &TxHandle{
		Network:     spec.Network,
		Hash:        signedTx.Hash(),
		From:        spec.From,
		Nonce:       nonce,
		Value:       new(big.Int).Set(value),
		SubmittedAt: time.Now(),
	}
	if spec.OnSigned != nil {
		if err := spec.OnSigned(ctx, handle); err != nil {
			log.WithError(err).Warn("⏭️  [Ledger] broadcast aborted before send")
			return nil, err
		}
	}

	if err := node.SendTransaction(ctx, signedTx); err != nil && !isAlreadyKnown(err) {
		l.dropNonce(key)
		kind := classifySendError(err)
		metrics.LedgerSubmissions.WithLabelValues(spec.Network.String(), "failed").Inc()
		if kind == ErrConnection {
			// the node may have taken it before the connection broke
			log.WithError(err).Error("❓ [Ledger] broadcast outcome unknown")
			l.recordSubmission(ctx, spec, to, value, handle, models.LedgerSubmissionStatusUnknown, err.Error())
		} else {
			log.WithError(err).Errorf("❌ [Ledger] broadcast failed (%v)", kind)
		}
		return nil, ledgerErr(kind, &nonce, signedTx.Hash().Hex(), err)
	}
	l.storeNonce(key, nonce+1)
	metrics.LedgerSubmissions.WithLabelValues(spec.Network.String(), "submitted").Inc()
	log.Info("📤 [Ledger] transaction broadcast")

	l.recordSubmission(ctx, spec, to, value, handle, models.LedgerSubmissionStatusSubmitted, "")
	return handle, nil
}

// recordSubmission audit row of a broadcast; best effort, the transaction is already on its way
func (l *LedgerConnector) recordSubmission(ctx context.Context, spec TxSpec, to common.Address, value *big.Int, handle *TxHandle, status models.LedgerSubmissionStatus, lastError string) {
	submission := &models.LedgerSubmission{
		ID:        uuid.New().String(),
		Network:   spec.Network,
		Sender:    spec.From.Hex(),
		Nonce:     handle.Nonce,
		Recipient: to.Hex(),
		Value:     value.String(),
		TxHash:    handle.Hash.Hex(),
		Reference: spec.Reference,
		Status:    status,
		LastError: lastError,
	}
	if err := l.submissions.Create(ctx, submission); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		logrus.WithError(err).Warnf("⚠️ [Ledger] failed to record submission %s", handle.Hash.Hex())
	}
}

// BroadcastState what the node knows about an earlier broadcast
type BroadcastState int

const (
	// BroadcastMined a receipt exists
	BroadcastMined BroadcastState = iota
	// BroadcastPending the sender's nonce is used up but no receipt yet
	BroadcastPending
	// BroadcastDropped the node never took the transaction; signing again is safe
	BroadcastDropped
)

func (s BroadcastState) String() string {
	switch s {
	case BroadcastMined:
		return "mined"
	case BroadcastPending:
		return "pending"
	}
	return "dropped"
}

// CheckBroadcast settles what happened to a recorded hash whose send outcome was
// unknown. The mined nonce is read before the receipt: if the chain has moved past
// the nonce and still has no receipt for the hash, another transaction took the
// slot. Otherwise a pending nonce beyond the recorded one means the node holds the
// transaction and nothing may be signed again.
func (l *LedgerConnector) CheckBroadcast(ctx context.Context, network models.Network, sender common.Address, nonce uint64, txHash string) (BroadcastState, *Receipt, error) {
	node, err := l.node(network)
	if err != nil {
		return BroadcastPending, nil, err
	}
	var mined, pending uint64
	err = l.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		if mined, err = node.NonceAt(ctx, sender, nil); err != nil {
			return err
		}
		pending, err = node.PendingNonceAt(ctx, sender)
		return err
	})
	if err != nil {
		return BroadcastPending, nil, &LedgerError{Kind: ErrConnection, Network: network, Sender: sender, Nonce: &nonce, TxHash: txHash, Err: err}
	}

	receipt, err := l.LookupReceipt(ctx, network, txHash)
	if err != nil {
		return BroadcastPending, nil, err
	}
	if receipt != nil {
		return BroadcastMined, receipt, nil
	}

	state := BroadcastPending
	if mined > nonce || pending <= nonce {
		state = BroadcastDropped
		// the cached nonce may point past a slot the node never filled
		l.dropNonce(senderKey(network, sender))
		if err := l.submissions.UpdateStatus(ctx, txHash, models.LedgerSubmissionStatusFailed, nil, "dropped by node"); err != nil && !errors.Is(err, repository.ErrNotFound) {
			logrus.WithError(err).Warnf("⚠️ [Ledger] failed to update submission %s", txHash)
		}
	}
	logrus.WithFields(logrus.Fields{
		"network":       network,
		"sender":        sender.Hex(),
		"nonce":         nonce,
		"mined_nonce":   mined,
		"pending_nonce": pending,
		"tx_hash":       txHash,
		"state":         state.String(),
	}).Info("🔍 [Ledger] earlier broadcast checked")
	return state, nil, nil
}

// allocateNonce returns the next nonce for key. Caller holds the sender lock.
func (l *LedgerConnector) allocateNonce(ctx context.Context, key string, node clients.ChainNode, sender common.Address) (uint64, error) {
	l.nonceMu.Lock()
	cached, ok := l.nonces[key]
	l.nonceMu.Unlock()
	if ok {
		return cached, nil
	}

	var nonce uint64
	err := l.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		nonce, err = node.PendingNonceAt(ctx, sender)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return nonce, nil
}

func (l *LedgerConnector) storeNonce(key string, next uint64) {
	l.nonceMu.Lock()
	defer l.nonceMu.Unlock()
	l.nonces[key] = next
}

func (l *LedgerConnector) dropNonce(key string) {
	l.nonceMu.Lock()
	defer l.nonceMu.Unlock()
	delete(l.nonces, key)
}

func (l *LedgerConnector) chainID(ctx context.Context, network models.Network, node clients.ChainNode) (*big.Int, error) {
	if id := l.networks[network].ChainID; id != 0 {
		return big.NewInt(id), nil
	}
	var chainID *big.Int
	err := l.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		chainID, err = node.ChainID(ctx)
		return err
	})
	return chainID, err
}

// GasPrice configured fixed price, or the node suggestion scaled by the network multiplier
func (l *LedgerConnector) GasPrice(ctx context.Context, network models.Network) (*big.Int, error) {
	node, err := l.node(network)
	if err != nil {
		return nil, err
	}
	networkConfig := l.networks[network]
	if networkConfig.GasPrice != "" && networkConfig.GasPrice != "auto" {
		if fixed, ok := new(big.Int).SetString(networkConfig.GasPrice, 10); ok {
			return fixed, nil
		}
		logrus.Warnf("⚠️ [Ledger] invalid gasPrice %q for %s, using node suggestion", networkConfig.GasPrice, network)
	}

	var suggested *big.Int
	err = l.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		suggested, err = node.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, &LedgerError{Kind: ErrConnection, Network: network, Err: fmt.Errorf("failed to get gas price: %w", err)}
	}

	multiplier := networkConfig.GasPriceMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}
	percent := big.NewInt(int64(multiplier * 100))
	gasPrice := new(big.Int).Mul(suggested, percent)
	return gasPrice.Div(gasPrice, big.NewInt(100)), nil
}

// Balance wei balance of address at the latest block
func (l *LedgerConnector) Balance(ctx context.Context, network models.Network, address common.Address) (*big.Int, error) {
	node, err := l.node(network)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	err = l.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		balance, err = node.BalanceAt(ctx, address, nil)
		return err
	})
	if err != nil {
		return nil, &LedgerError{Kind: ErrConnection, Network: network, Sender: address, Err: err}
	}
	return balance, nil
}

// Call read-only contract call against the latest block
func (l *LedgerConnector) Call(ctx context.Context, network models.Network, to common.Address, data []byte) ([]byte, error) {
	node, err := l.node(network)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = l.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		out, err = node.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		metrics.LedgerNodeErrors.WithLabelValues(network.String(), errorKindLabel(ErrConnection)).Inc()
		return nil, &LedgerError{Kind: ErrConnection, Network: network, Err: err}
	}
	return out, nil
}

// LookupReceipt single read of a receipt. (nil, nil) means not mined yet.
func (l *LedgerConnector) LookupReceipt(ctx context.Context, network models.Network, txHash string) (*Receipt, error) {
	node, err := l.node(network)
	if err != nil {
		return nil, err
	}

	var receipt *types.Receipt
	err = l.withReadRetry(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = node.TransactionReceipt(ctx, common.HexToHash(txHash))
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		metrics.LedgerNodeErrors.WithLabelValues(network.String(), errorKindLabel(ErrConnection)).Inc()
		return nil, &LedgerError{Kind: ErrConnection, Network: network, TxHash: txHash, Err: err}
	}
	if receipt == nil {
		return nil, nil
	}

	result := &Receipt{
		TxHash:  txHash,
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	l.recordReceipt(ctx, result)
	return result, nil
}

func (l *LedgerConnector) recordReceipt(ctx context.Context, receipt *Receipt) {
	status := models.LedgerSubmissionStatusConfirmed
	lastError := ""
	if !receipt.Succeeded() {
		status = models.LedgerSubmissionStatusFailed
		lastError = "receipt status 0"
	}
	block := receipt.BlockNumber
	err := l.submissions.UpdateStatus(ctx, receipt.TxHash, status, &block, lastError)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logrus.WithError(err).Warnf("⚠️ [Ledger] failed to update submission %s", receipt.TxHash)
	}
}

// AwaitReceipt polls for the receipt of handle until timeout (0 uses the configured
// default). A mined but failed receipt is returned as is; interpreting the status is
// up to the caller. No receipt in time yields ErrPendingTimeout.
func (l *LedgerConnector) AwaitReceipt(ctx context.Context, handle *TxHandle, timeout time.Duration) (*Receipt, error) {
	return l.awaitReceipt(ctx, handle.Network, handle.Hash.Hex(), handle.From, &handle.Nonce, handle.Value, timeout)
}

// AwaitReceiptByHash same as AwaitReceipt for a hash recorded earlier
func (l *LedgerConnector) AwaitReceiptByHash(ctx context.Context, network models.Network, txHash string, timeout time.Duration) (*Receipt, error) {
	return l.awaitReceipt(ctx, network, txHash, common.Address{}, nil, nil, timeout)
}

func (l *LedgerConnector) awaitReceipt(ctx context.Context, network models.Network, txHash string, sender common.Address, nonce *uint64, value *big.Int, timeout time.Duration) (*Receipt, error) {
	if timeout <= 0 {
		timeout = l.receiptTimeout
	}
	startTime := time.Now()
	deadline := startTime.Add(timeout)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := l.LookupReceipt(ctx, network, txHash)
		if err == nil && receipt != nil {
			outcome := "success"
			if !receipt.Succeeded() {
				outcome = "reverted"
			}
			metrics.LedgerReceiptWait.WithLabelValues(network.String(), outcome).Observe(time.Since(startTime).Seconds())
			logrus.WithFields(logrus.Fields{
				"network": network,
				"tx_hash": txHash,
				"block":   receipt.BlockNumber,
				"status":  receipt.Status,
				"elapsed": time.Since(startTime).String(),
			}).Info("✅ [Ledger] receipt found")
			return receipt, nil
		}
		lastErr = err

		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	metrics.LedgerReceiptWait.WithLabelValues(network.String(), "timeout").Observe(time.Since(startTime).Seconds())
	kind := ErrPendingTimeout
	if lastErr != nil && errors.Is(lastErr, ErrConnection) {
		kind = ErrConnection
	}
	logrus.WithFields(logrus.Fields{
		"network": network,
		"tx_hash": txHash,
		"elapsed": time.Since(startTime).String(),
	}).Warn("⏳ [Ledger] receipt not found in time, transaction may still confirm")
	return nil, &LedgerError{
		Kind:    kind,
		Network: network,
		Sender:  sender,
		Nonce:   nonce,
		Value:   value,
		TxHash:  txHash,
		Err:     lastErr,
	}
}

// withReadRetry retries read-only node calls with bounded exponential backoff.
// Not-found and node-side RPC errors are returned at once.
func (l *LedgerConnector) withReadRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < l.retryAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !isTransientReadError(err) || attempt == l.retryAttempts-1 {
			return err
		}

		delay := time.Duration(1<<uint(attempt)) * l.retryBaseDelay
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
		logrus.Debugf("🔄 [Ledger] read failed, retry %d/%d in %v: %v", attempt+1, l.retryAttempts-1, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isTransientReadError(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

// rejection messages geth-compatible nodes return for a well-formed but unacceptable tx
var rejectionMarkers = []string{
	"nonce too low",
	"nonce too high",
	"insufficient funds",
	"underpriced",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"invalid sender",
}

// isAlreadyKnown the node already holds this exact signed transaction
func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

// classifySendError maps a SendTransaction failure onto the error taxonomy
func classifySendError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrConnection
	}
	msg := strings.ToLower(err.Error())
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if strings.Contains(msg, "revert") {
			return ErrExecutionReverted
		}
		return ErrTransactionRejected
	}
	if strings.Contains(msg, "revert") {
		return ErrExecutionReverted
	}
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return ErrTransactionRejected
		}
	}
	return ErrConnection
}

func errorKindLabel(kind error) string {
	switch kind {
	case ErrConnection:
		return "connection"
	case ErrExecutionReverted:
		return "reverted"
	case ErrTransactionRejected:
		return "rejected"
	case ErrPendingTimeout:
		return "pending_timeout"
	}
	return "other"
}
