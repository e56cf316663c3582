package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nvct-backend/internal/config"
	"nvct-backend/internal/metrics"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MultisigWallet owners and threshold of the wallet on one network
type MultisigWallet struct {
	Network  models.Network   `json:"network"`
	Owners   []common.Address `json:"owners"`
	Required int              `json:"required"`
	Executor common.Address   `json:"executor"`

	ownerSet map[common.Address]bool
}

// IsOwner owner set membership
func (w *MultisigWallet) IsOwner(addr common.Address) bool {
	return w.ownerSet[addr]
}

func newMultisigWallet(network models.Network, cfg config.MultisigConfig, keyring *Keyring) (*MultisigWallet, error) {
	wallet := &MultisigWallet{
		Network:  network,
		Required: cfg.Required,
		ownerSet: make(map[common.Address]bool),
	}
	for _, owner := range cfg.Owners {
		addr, err := utils.ParseAddress(owner)
		if err != nil {
			return nil, fmt.Errorf("invalid multisig owner %q on %s: %w", owner, network, err)
		}
		if wallet.ownerSet[addr] {
			continue
		}
		wallet.ownerSet[addr] = true
		wallet.Owners = append(wallet.Owners, addr)
	}
	if wallet.Required < 1 || wallet.Required > len(wallet.Owners) {
		return nil, fmt.Errorf("multisig on %s requires %d of %d owners", network, wallet.Required, len(wallet.Owners))
	}

	if cfg.Executor != "" {
		executor, err := utils.ParseAddress(cfg.Executor)
		if err != nil {
			return nil, fmt.Errorf("invalid multisig executor on %s: %w", network, err)
		}
		wallet.Executor = executor
	} else if sender, err := keyring.DefaultSender(network); err == nil {
		wallet.Executor = sender
	}
	return wallet, nil
}

// SubmitMultisigRequest proposal of a new wallet transaction
type SubmitMultisigRequest struct {
	Destination string `json:"destination" binding:"required"`
	Value       string `json:"value"` // wei, defaults to 0
	Data        string `json:"data"`  // hex call data
	Proposer    string `json:"proposer"` // must be the caller's bound owner address
}

// MultisigStatus transaction record plus its chain view
type MultisigStatus struct {
	Transaction       *models.MultisigTransaction `json:"transaction"`
	ConfirmationCount int                         `json:"confirmation_count"`
	Required          int                         `json:"required"`
	Executable        bool                        `json:"executable"`
	ChainStatus       string                      `json:"chain_status"` // not_submitted | pending | success | reverted
	Receipt           *Receipt                    `json:"receipt,omitempty"`
}

// MultisigService multisig wallet state machine. Confirmation bookkeeping is kept
// off-chain under the application id; the chain sees one transaction per execution.
type MultisigService struct {
	repo      repository.MultisigRepository
	ledger    *LedgerConnector
	wallets   map[models.Network]*MultisigWallet
	txLocks   *utils.KeyedLock
	publisher EventPublisher
}

// NewMultisigService builds one wallet per network that configures owners
func NewMultisigService(repo repository.MultisigRepository, ledger *LedgerConnector, publisher EventPublisher) (*MultisigService, error) {
	s := &MultisigService{
		repo:      repo,
		ledger:    ledger,
		wallets:   make(map[models.Network]*MultisigWallet),
		txLocks:   utils.NewKeyedLock(),
		publisher: publisher,
	}
	for network, networkConfig := range ledger.networks {
		if len(networkConfig.Multisig.Owners) == 0 {
			continue
		}
		wallet, err := newMultisigWallet(network, networkConfig.Multisig, ledger.keyring)
		if err != nil {
			return nil, err
		}
		s.wallets[network] = wallet
		logrus.WithFields(logrus.Fields{
			"network":  network,
			"owners":   len(wallet.Owners),
			"required": wallet.Required,
			"executor": wallet.Executor.Hex(),
		}).Info("✅ [Multisig] wallet configured")
	}
	return s, nil
}

// Wallet configuration for network
func (s *MultisigService) Wallet(network models.Network) (*MultisigWallet, error) {
	wallet, ok := s.wallets[network]
	if !ok {
		return nil, fmt.Errorf("%w: no multisig wallet on %s", ErrNetworkUnconfigured, network)
	}
	return wallet, nil
}

// resolveOwner validates addr and checks wallet membership, audit-logging refusals
func (s *MultisigService) resolveOwner(wallet *MultisigWallet, addr, action, txID string) (common.Address, error) {
	owner, err := utils.ParseAddress(addr)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	if !wallet.IsOwner(owner) {
		logrus.WithFields(logrus.Fields{
			"action":    action,
			"requester": owner.Hex(),
			"tx_id":     txID,
			"network":   wallet.Network,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}).Warn("🚫 [Multisig] request from non-owner rejected")
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownOwner, owner.Hex())
	}
	return owner, nil
}

// Submit creates a transaction with the proposer's confirmation included
func (s *MultisigService) Submit(ctx context.Context, nc models.NetworkContext, req SubmitMultisigRequest) (*models.MultisigTransaction, error) {
	wallet, err := s.Wallet(nc.Network)
	if err != nil {
		return nil, err
	}

	destination, err := utils.ParseAddress(req.Destination)
	if err != nil {
		return nil, fmt.Errorf("%w: destination %s", ErrInvalidAddress, req.Destination)
	}
	valueStr := req.Value
	if strings.TrimSpace(valueStr) == "" {
		valueStr = "0"
	}
	value, ok := utils.ParseAmount(valueStr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Value)
	}
	data := ""
	if req.Data != "" && req.Data != "0x" {
		raw, err := hexutil.Decode(req.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: call data: %v", ErrInvalidPayload, err)
		}
		data = hexutil.Encode(raw)
	}

	proposer, err := s.resolveOwner(wallet, req.Proposer, "submit", "")
	if err != nil {
		return nil, err
	}

	tx := &models.MultisigTransaction{
		ID:                    uuid.New().String(),
		Network:               nc.Network,
		Destination:           destination.Hex(),
		Value:                 value.String(),
		Data:                  data,
		Proposer:              proposer.Hex(),
		RequiredConfirmations: wallet.Required,
		Confirmations: []models.MultisigConfirmation{
			{Owner: proposer.Hex(), CreatedAt: time.Now()},
		},
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to store multisig transaction: %w", err)
	}

	metrics.MultisigTransactions.WithLabelValues(nc.Network.String(), "submitted").Inc()
	logrus.WithFields(logrus.Fields{
		"tx_id":       tx.ID,
		"network":     nc.Network,
		"destination": tx.Destination,
		"value":       tx.Value,
		"proposer":    tx.Proposer,
		"required":    tx.RequiredConfirmations,
	}).Info("📝 [Multisig] transaction submitted")
	publish(ctx, s.publisher, StatusEvent{
		Kind:      EventMultisigSubmitted,
		Network:   nc.Network,
		Reference: tx.ID,
		Status:    "submitted",
		Data:      tx,
	})

	return s.repo.GetByID(ctx, tx.ID)
}

// Confirm adds owner's confirmation. A repeated confirmation leaves the record
// unchanged and returns it together with ErrAlreadyConfirmed.
func (s *MultisigService) Confirm(ctx context.Context, txID, owner string) (*models.MultisigTransaction, error) {
	unlock := s.txLocks.Lock(txID)
	defer unlock()

	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.Wallet(tx.Network)
	if err != nil {
		return nil, err
	}
	ownerAddr, err := s.resolveOwner(wallet, owner, "confirm", txID)
	if err != nil {
		return nil, err
	}
	if tx.Executed {
		return tx, ErrAlreadyExecuted
	}
	if tx.HasConfirmation(ownerAddr.Hex()) {
		return tx, ErrAlreadyConfirmed
	}

	err = s.repo.AddConfirmation(ctx, &models.MultisigConfirmation{
		TransactionID: tx.ID,
		Owner:         ownerAddr.Hex(),
		CreatedAt:     time.Now(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return tx, ErrAlreadyConfirmed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store confirmation: %w", err)
	}

	tx, err = s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	metrics.MultisigTransactions.WithLabelValues(tx.Network.String(), "confirmed").Inc()
	logrus.WithFields(logrus.Fields{
		"tx_id":         tx.ID,
		"owner":         ownerAddr.Hex(),
		"confirmations": tx.ConfirmationCount(),
		"required":      tx.RequiredConfirmations,
		"executable":    tx.IsExecutable(),
	}).Info("✍️ [Multisig] confirmation added")
	publish(ctx, s.publisher, StatusEvent{
		Kind:      EventMultisigConfirmed,
		Network:   tx.Network,
		Reference: tx.ID,
		Status:    executableLabel(tx),
		Data:      tx,
	})
	return tx, nil
}

func executableLabel(tx *models.MultisigTransaction) string {
	if tx.IsExecutable() {
		return "executable"
	}
	return "submitted"
}

// Execute broadcasts the transaction once the threshold is met. The broadcast is
// claimed in storage before it is sent, so concurrent callers on any replica produce
// one broadcast; the losers get ErrAlreadyExecuted or ErrInvalidState. A recorded
// broadcast is reconciled against the node and only signed again once the node
// shows it was dropped.
func (s *MultisigService) Execute(ctx context.Context, txID, caller string) (*Receipt, error) {
	unlock := s.txLocks.Lock(txID)
	defer unlock()

	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.Wallet(tx.Network)
	if err != nil {
		return nil, err
	}
	callerAddr, err := s.resolveOwner(wallet, caller, "execute", txID)
	if err != nil {
		return nil, err
	}

	if tx.Executed {
		return executionReceipt(tx), ErrAlreadyExecuted
	}

	log := logrus.WithFields(logrus.Fields{
		"tx_id":   tx.ID,
		"network": tx.Network,
		"caller":  callerAddr.Hex(),
	})

	if tx.ExecutionTxHash != "" {
		receipt, err := s.reconcile(ctx, tx, wallet)
		if err != nil || receipt != nil {
			return receipt, err
		}
		// dropped by the node, the claim was released
	}

	if !tx.IsExecutable() {
		return nil, fmt.Errorf("%w: %d of %d", ErrInsufficientConfirmations, tx.ConfirmationCount(), tx.RequiredConfirmations)
	}
	if err := s.broadcast(ctx, tx, wallet, callerAddr); err != nil {
		log.WithError(err).Error("❌ [Multisig] execution broadcast failed")
		return nil, err
	}
	log.WithField("tx_hash", tx.ExecutionTxHash).Info("🚀 [Multisig] execution broadcast")

	receipt, err := s.ledger.AwaitReceiptByHash(ctx, tx.Network, tx.ExecutionTxHash, 0)
	if err != nil {
		// hash stays recorded, the next Execute reconciles it
		return nil, err
	}
	return s.applyReceipt(ctx, tx, receipt)
}

// reconcile settles a recorded broadcast. A nil receipt with a nil error means the
// node dropped it and tx is free for a new broadcast.
func (s *MultisigService) reconcile(ctx context.Context, tx *models.MultisigTransaction, wallet *MultisigWallet) (*Receipt, error) {
	log := logrus.WithFields(logrus.Fields{
		"tx_id":   tx.ID,
		"network": tx.Network,
		"tx_hash": tx.ExecutionTxHash,
	})

	if tx.ExecutionNonce == nil {
		log.Info("🔄 [Multisig] re-polling earlier execution")
		receipt, err := s.ledger.AwaitReceiptByHash(ctx, tx.Network, tx.ExecutionTxHash, 0)
		if err != nil {
			return nil, err
		}
		return s.applyReceipt(ctx, tx, receipt)
	}

	state, receipt, err := s.ledger.CheckBroadcast(ctx, tx.Network, wallet.Executor, *tx.ExecutionNonce, tx.ExecutionTxHash)
	if err != nil {
		return nil, err
	}
	switch state {
	case BroadcastMined:
		return s.applyReceipt(ctx, tx, receipt)
	case BroadcastPending:
		log.Info("🔄 [Multisig] re-polling earlier execution")
		receipt, err := s.ledger.AwaitReceiptByHash(ctx, tx.Network, tx.ExecutionTxHash, 0)
		if err != nil {
			return nil, err
		}
		return s.applyReceipt(ctx, tx, receipt)
	}

	log.Warn("♻️ [Multisig] earlier execution dropped by node, releasing")
	if err := s.repo.ReleaseExecution(ctx, tx.ID, tx.ExecutionTxHash, "dropped by node: "+tx.ExecutionTxHash); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: execution of %s changed concurrently", ErrInvalidState, tx.ID)
		}
		return nil, fmt.Errorf("failed to release execution: %w", err)
	}
	tx.ExecutionTxHash = ""
	tx.ExecutionNonce = nil
	tx.ExecutedBy = ""
	return nil, nil
}

// broadcast claims the execution in storage once the transaction is signed and
// only then sends it. A send whose outcome is unknown keeps the claim.
func (s *MultisigService) broadcast(ctx context.Context, tx *models.MultisigTransaction, wallet *MultisigWallet, caller common.Address) error {
	networkConfig, err := s.ledger.NetworkConfig(tx.Network)
	if err != nil {
		return err
	}
	value, _ := utils.ParseAmount(tx.Value)
	var data []byte
	gasLimit := networkConfig.GasLimit
	if tx.Data != "" {
		data, err = hexutil.Decode(tx.Data)
		if err != nil {
			return fmt.Errorf("%w: stored call data: %v", ErrInvalidPayload, err)
		}
		if networkConfig.SettlementGasLimit > gasLimit {
			gasLimit = networkConfig.SettlementGasLimit
		}
	}

	claimed := false
	_, err = s.ledger.Submit(ctx, TxSpec{
		Network:   tx.Network,
		From:      wallet.Executor,
		To:        common.HexToAddress(tx.Destination),
		Value:     value,
		Data:      data,
		GasLimit:  gasLimit,
		Reference: tx.ID,
		OnSigned: func(ctx context.Context, handle *TxHandle) error {
			hash := handle.Hash.Hex()
			err := s.repo.ClaimExecution(ctx, tx.ID, hash, handle.Nonce, caller.Hex())
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: execution of %s already in progress", ErrInvalidState, tx.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to claim execution: %w", err)
			}
			nonce := handle.Nonce
			claimed = true
			tx.ExecutionTxHash = hash
			tx.ExecutionNonce = &nonce
			tx.ExecutedBy = caller.Hex()
			tx.LastError = ""
			return nil
		},
	})
	if err == nil || !claimed {
		return err
	}

	if _, unknown := SendOutcomeUnknown(err); unknown {
		// the node may hold it; the next Execute checks before signing again
		tx.LastError = err.Error()
		if updateErr := s.repo.Update(ctx, tx); updateErr != nil {
			logrus.WithError(updateErr).Warnf("⚠️ [Multisig] failed to record error for %s", tx.ID)
		}
		return err
	}

	if releaseErr := s.repo.ReleaseExecution(ctx, tx.ID, tx.ExecutionTxHash, err.Error()); releaseErr != nil {
		logrus.WithError(releaseErr).Warnf("⚠️ [Multisig] failed to release execution of %s", tx.ID)
	}
	tx.ExecutionTxHash = ""
	tx.ExecutionNonce = nil
	tx.ExecutedBy = ""
	tx.LastError = err.Error()
	return err
}

// applyReceipt caller holds the transaction lock
func (s *MultisigService) applyReceipt(ctx context.Context, tx *models.MultisigTransaction, receipt *Receipt) (*Receipt, error) {
	block := receipt.BlockNumber
	status := receipt.Status
	tx.BlockNumber = &block
	tx.GasUsed = receipt.GasUsed
	tx.ReceiptStatus = &status

	if !receipt.Succeeded() {
		// reverted: terminal for this broadcast, a new Execute signs with a fresh nonce
		revertedHash := tx.ExecutionTxHash
		tx.ExecutionTxHash = ""
		tx.ExecutionNonce = nil
		tx.ExecutedBy = ""
		tx.LastError = "execution reverted in tx " + revertedHash
		if err := s.repo.Update(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to record revert: %w", err)
		}
		metrics.MultisigTransactions.WithLabelValues(tx.Network.String(), "reverted").Inc()
		publish(ctx, s.publisher, StatusEvent{
			Kind:      EventMultisigReverted,
			Network:   tx.Network,
			Reference: tx.ID,
			Status:    "reverted",
			TxHash:    revertedHash,
		})
		return receipt, &LedgerError{
			Kind:    ErrExecutionReverted,
			Network: tx.Network,
			TxHash:  revertedHash,
		}
	}

	now := time.Now()
	tx.Executed = true
	tx.ExecutedAt = &now
	tx.LastError = ""
	if err := s.repo.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}

	metrics.MultisigTransactions.WithLabelValues(tx.Network.String(), "executed").Inc()
	logrus.WithFields(logrus.Fields{
		"tx_id":    tx.ID,
		"tx_hash":  receipt.TxHash,
		"block":    receipt.BlockNumber,
		"gas_used": receipt.GasUsed,
	}).Info("✅ [Multisig] transaction executed")
	publish(ctx, s.publisher, StatusEvent{
		Kind:      EventMultisigExecuted,
		Network:   tx.Network,
		Reference: tx.ID,
		Status:    "executed",
		TxHash:    receipt.TxHash,
		Data:      receipt,
	})
	return receipt, nil
}

func executionReceipt(tx *models.MultisigTransaction) *Receipt {
	receipt := &Receipt{TxHash: tx.ExecutionTxHash, GasUsed: tx.GasUsed}
	if tx.BlockNumber != nil {
		receipt.BlockNumber = *tx.BlockNumber
	}
	if tx.ReceiptStatus != nil {
		receipt.Status = *tx.ReceiptStatus
	}
	return receipt
}

func (s *MultisigService) get(ctx context.Context, txID string) (*models.MultisigTransaction, error) {
	tx, err := s.repo.GetByID(ctx, txID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMultisigNotFound, txID)
	}
	return tx, err
}

// Get returns the stored transaction
func (s *MultisigService) Get(ctx context.Context, txID string) (*models.MultisigTransaction, error) {
	return s.get(ctx, txID)
}

// List lists transactions of a network, optionally filtered by execution state
func (s *MultisigService) List(ctx context.Context, network models.Network, executed *bool, limit int) ([]*models.MultisigTransaction, error) {
	return s.repo.List(ctx, repository.MultisigFilter{Network: network, Executed: executed, Limit: limit})
}

// Status reads through to the ledger for a recorded but unsettled execution and
// folds a found receipt into the record.
func (s *MultisigService) Status(ctx context.Context, txID string) (*MultisigStatus, error) {
	unlock := s.txLocks.Lock(txID)
	defer unlock()

	tx, err := s.get(ctx, txID)
	if err != nil {
		return nil, err
	}

	status := &MultisigStatus{
		Transaction:       tx,
		ConfirmationCount: tx.ConfirmationCount(),
		Required:          tx.RequiredConfirmations,
		Executable:        tx.IsExecutable(),
		ChainStatus:       "not_submitted",
	}

	switch {
	case tx.Executed:
		status.ChainStatus = "success"
		status.Receipt = executionReceipt(tx)
	case tx.ExecutionTxHash != "":
		status.ChainStatus = "pending"
		receipt, err := s.ledger.LookupReceipt(ctx, tx.Network, tx.ExecutionTxHash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			status.Receipt = receipt
			if _, err := s.applyReceipt(ctx, tx, receipt); err != nil && !errors.Is(err, ErrExecutionReverted) {
				return nil, err
			}
			status.ChainStatus = "success"
			if !receipt.Succeeded() {
				status.ChainStatus = "reverted"
			}
			status.Executable = tx.IsExecutable()
		}
	case tx.ReceiptStatus != nil && *tx.ReceiptStatus == 0:
		status.ChainStatus = "reverted"
	}
	return status, nil
}
