package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"nvct-backend/internal/metrics"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/utils"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// settlementContractABI settlePayment entry of the settlement contract
const settlementContractABI = `[{
	"inputs": [
		{"name": "recipient", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "transactionId", "type": "string"}
	],
	"name": "settlePayment",
	"outputs": [{"name": "success", "type": "bool"}],
	"stateMutability": "payable",
	"type": "function"
}]`

// ContractResolver looks up deployed contract addresses per network
type ContractResolver interface {
	Resolve(contractName string, network *models.Network) (string, error)
}

// CreateSettlementRequest settlement request body
type CreateSettlementRequest struct {
	FromAddress      string `json:"from_address" binding:"required"`
	ToAddress        string `json:"to_address" binding:"required"`
	Amount           string `json:"amount" binding:"required"` // wei
	AppTransactionID string `json:"app_transaction_id"`        // generated when empty
}

// SettlementService settlement workflow. The application transaction id is the
// record key and is fixed before any chain interaction, so a retry with the same
// id reuses the record instead of creating a second one.
type SettlementService struct {
	repo      repository.SettlementRepository
	ledger    *LedgerConnector
	contracts ContractResolver
	publisher EventPublisher
	locks     *utils.KeyedLock
	abi       abi.ABI
}

// NewSettlementService creates the settlement workflow
func NewSettlementService(repo repository.SettlementRepository, ledger *LedgerConnector, contracts ContractResolver, publisher EventPublisher) (*SettlementService, error) {
	parsed, err := abi.JSON(strings.NewReader(settlementContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement contract ABI: %w", err)
	}
	return &SettlementService{
		repo:      repo,
		ledger:    ledger,
		contracts: contracts,
		publisher: publisher,
		locks:     utils.NewKeyedLock(),
		abi:       parsed,
	}, nil
}

// Create requests a settlement and submits it to the settlement contract.
//
// With an existing appTxID the stored record wins: a terminal record is returned
// untouched, a recorded chain hash is checked against the node and only signed
// again once the node shows it was dropped, a pending record without a hash is
// submitted again. On a failed submission the persisted record is returned together
// with the error so the caller can retry with its id.
func (s *SettlementService) Create(ctx context.Context, nc models.NetworkContext, req CreateSettlementRequest) (*models.Settlement, error) {
	from, err := utils.ParseAddress(req.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: from_address %s: %v", ErrInvalidAddress, req.FromAddress, err)
	}
	to, err := utils.ParseAddress(req.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: to_address %s: %v", ErrInvalidAddress, req.ToAddress, err)
	}
	amount, ok := utils.ParseAmount(req.Amount)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	}
	if _, err := s.ledger.NetworkConfig(nc.Network); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Keyring().Signer(nc.Network, from); err != nil {
		return nil, err
	}

	appTxID := strings.TrimSpace(req.AppTransactionID)
	if appTxID == "" {
		appTxID = uuid.New().String()
	}

	unlock := s.locks.Lock(appTxID)
	defer unlock()

	settlement, err := s.repo.GetByID(ctx, appTxID)
	switch {
	case err == nil:
		if settlement.Network != nc.Network || settlement.FromAddress != from.Hex() ||
			settlement.ToAddress != to.Hex() || settlement.Amount != amount.String() {
			return settlement, fmt.Errorf("%w: transaction id %s already used for a different settlement", ErrInvalidState, appTxID)
		}
		if settlement.Status.IsTerminal() {
			logrus.WithFields(logrus.Fields{
				"transaction_id": appTxID,
				"status":         settlement.Status,
			}).Info("🔁 [Settlement] existing settlement returned")
			return settlement, nil
		}
		if settlement.HasChainHash() {
			done, err := s.reconcile(ctx, settlement, from)
			if err != nil || done {
				return settlement, err
			}
		}
		logrus.WithFields(logrus.Fields{
			"transaction_id": appTxID,
			"attempts":       settlement.Attempts,
		}).Info("🔄 [Settlement] resubmitting pending settlement")
	case errors.Is(err, repository.ErrNotFound):
		settlement = &models.Settlement{
			TransactionID: appTxID,
			Network:       nc.Network,
			FromAddress:   from.Hex(),
			ToAddress:     to.Hex(),
			Amount:        amount.String(),
			Status:        models.SettlementStatusPending,
		}
		if err := s.repo.Create(ctx, settlement); err != nil {
			return nil, fmt.Errorf("failed to store settlement: %w", err)
		}
		metrics.Settlements.WithLabelValues(nc.Network.String(), string(models.SettlementStatusPending)).Inc()
		logrus.WithFields(logrus.Fields{
			"transaction_id": appTxID,
			"network":        nc.Network,
			"from":           settlement.FromAddress,
			"to":             settlement.ToAddress,
			"amount":         settlement.Amount,
			"requested_by":   nc.RequestedBy,
		}).Info("📝 [Settlement] settlement created")
	default:
		return nil, fmt.Errorf("failed to load settlement %s: %w", appTxID, err)
	}

	return s.submit(ctx, settlement, from, to, amount)
}

// reconcile checks a recorded hash against the node. done reports that settlement
// holds the answer; otherwise the node dropped the broadcast, the hash was released
// and a new submission is safe.
func (s *SettlementService) reconcile(ctx context.Context, settlement *models.Settlement, from common.Address) (bool, error) {
	txHash := *settlement.ChainTxHash
	log := logrus.WithFields(logrus.Fields{
		"transaction_id": settlement.TransactionID,
		"tx_hash":        txHash,
	})
	if settlement.Nonce == nil {
		log.Info("🔁 [Settlement] existing settlement returned")
		return true, nil
	}

	state, receipt, err := s.ledger.CheckBroadcast(ctx, settlement.Network, from, *settlement.Nonce, txHash)
	if err != nil {
		return true, err
	}
	switch state {
	case BroadcastMined:
		_, err := s.applyReceipt(ctx, settlement, receipt)
		return true, err
	case BroadcastPending:
		log.Info("🔁 [Settlement] existing settlement still pending")
		return true, nil
	}

	log.Warn("♻️ [Settlement] earlier broadcast dropped by node, releasing")
	if err := s.repo.ReleaseSubmission(ctx, settlement.TransactionID, txHash); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return true, fmt.Errorf("%w: settlement %s changed concurrently", ErrInvalidState, settlement.TransactionID)
		}
		return true, fmt.Errorf("failed to release settlement %s: %w", settlement.TransactionID, err)
	}
	settlement.ChainTxHash = nil
	settlement.Nonce = nil
	return false, nil
}

// submit broadcasts settlePayment and waits for the receipt. The hash is claimed in
// storage after signing and before the send. Caller holds the settlement lock.
func (s *SettlementService) submit(ctx context.Context, settlement *models.Settlement, from, to common.Address, amount *big.Int) (*models.Settlement, error) {
	network := settlement.Network
	contractAddr, err := s.contracts.Resolve(models.ContractSettlement, &network)
	if err != nil {
		return settlement, fmt.Errorf("%w: %w", ErrNetworkUnconfigured, err)
	}
	if !utils.IsEvmAddress(contractAddr) {
		return settlement, fmt.Errorf("%w: settlement contract %q on %s", ErrNetworkUnconfigured, contractAddr, network)
	}
	data, err := s.abi.Pack("settlePayment", to, amount, settlement.TransactionID)
	if err != nil {
		return settlement, fmt.Errorf("failed to encode settlePayment: %w", err)
	}
	networkConfig, _ := s.ledger.NetworkConfig(network)

	now := time.Now()
	settlement.Attempts++
	settlement.SubmittedAt = &now

	claimed, lost := false, false
	handle, err := s.ledger.Submit(ctx, TxSpec{
		Network:   network,
		From:      from,
		To:        common.HexToAddress(contractAddr),
		Value:     amount,
		Data:      data,
		GasLimit:  networkConfig.SettlementGasLimit,
		Reference: settlement.TransactionID,
		OnSigned: func(ctx context.Context, handle *TxHandle) error {
			txHash := handle.Hash.Hex()
			err := s.repo.ClaimSubmission(ctx, settlement.TransactionID, txHash, handle.Nonce)
			if errors.Is(err, repository.ErrConflict) {
				lost = true
				return fmt.Errorf("%w: settlement %s already submitted", ErrInvalidState, settlement.TransactionID)
			}
			if err != nil {
				return fmt.Errorf("failed to claim settlement %s: %w", settlement.TransactionID, err)
			}
			nonce := handle.Nonce
			claimed = true
			settlement.ChainTxHash = &txHash
			settlement.Nonce = &nonce
			settlement.LastError = ""
			return nil
		},
	})
	if err != nil {
		return s.submitFailed(ctx, settlement, err, claimed, lost)
	}

	txHash := handle.Hash.Hex()
	if err := s.repo.Update(ctx, settlement); err != nil {
		return settlement, fmt.Errorf("failed to record settlement hash %s: %w", txHash, err)
	}
	logrus.WithFields(logrus.Fields{
		"transaction_id": settlement.TransactionID,
		"tx_hash":        txHash,
		"contract":       contractAddr,
		"attempt":        settlement.Attempts,
	}).Info("📤 [Settlement] settlement submitted")
	s.notify(ctx, settlement)

	receipt, err := s.ledger.AwaitReceipt(ctx, handle, 0)
	if err != nil {
		// stays pending with its hash; Poll picks it up later
		return settlement, err
	}
	return s.applyReceipt(ctx, settlement, receipt)
}

// submitFailed records a failed submission. A revert at send time is final, an
// unknown send outcome keeps the claimed hash, any other failure releases it.
func (s *SettlementService) submitFailed(ctx context.Context, settlement *models.Settlement, err error, claimed, lost bool) (*models.Settlement, error) {
	log := logrus.WithError(err).WithFields(logrus.Fields{
		"transaction_id": settlement.TransactionID,
		"attempt":        settlement.Attempts,
		"retryable":      IsRetryable(err),
	})
	if lost {
		// another replica owns the submission, its row must not be overwritten
		log.Warn("⏭️  [Settlement] submission claimed elsewhere")
		return settlement, err
	}

	settlement.LastError = err.Error()
	_, unknown := SendOutcomeUnknown(err)
	switch {
	case errors.Is(err, ErrExecutionReverted):
		if claimed {
			if releaseErr := s.repo.ReleaseSubmission(ctx, settlement.TransactionID, *settlement.ChainTxHash); releaseErr != nil {
				logrus.WithError(releaseErr).Warnf("⚠️ [Settlement] failed to release %s", settlement.TransactionID)
			}
		}
		settlement.ChainTxHash = nil
		settlement.Nonce = nil
		settlement.Status = models.SettlementStatusFailed
		s.save(ctx, settlement)
		metrics.Settlements.WithLabelValues(settlement.Network.String(), string(settlement.Status)).Inc()
		metrics.SettlementAttempts.Observe(float64(settlement.Attempts))
		log.Error("❌ [Settlement] settlement rejected by contract")
		s.notify(ctx, settlement)
		return settlement, err
	case claimed && unknown:
		// the node may hold it; the next Create checks before signing again
		s.save(ctx, settlement)
	case claimed:
		if releaseErr := s.repo.ReleaseSubmission(ctx, settlement.TransactionID, *settlement.ChainTxHash); releaseErr != nil {
			logrus.WithError(releaseErr).Warnf("⚠️ [Settlement] failed to release %s", settlement.TransactionID)
		}
		settlement.ChainTxHash = nil
		settlement.Nonce = nil
		s.save(ctx, settlement)
	default:
		s.save(ctx, settlement)
	}
	log.Error("❌ [Settlement] submission failed")
	return settlement, err
}

// applyReceipt moves a pending settlement to confirmed or failed. Caller holds the lock.
func (s *SettlementService) applyReceipt(ctx context.Context, settlement *models.Settlement, receipt *Receipt) (*models.Settlement, error) {
	if settlement.Status.IsTerminal() {
		return settlement, nil
	}
	block := receipt.BlockNumber
	settlement.BlockNumber = &block
	settlement.GasUsed = receipt.GasUsed

	var result error
	if receipt.Succeeded() {
		now := time.Now()
		settlement.Status = models.SettlementStatusConfirmed
		settlement.ConfirmedAt = &now
		settlement.LastError = ""
	} else {
		settlement.Status = models.SettlementStatusFailed
		settlement.LastError = "settlement reverted on-chain"
		result = &LedgerError{Kind: ErrExecutionReverted, Network: settlement.Network, TxHash: receipt.TxHash}
	}
	if err := s.repo.Update(ctx, settlement); err != nil {
		return nil, fmt.Errorf("failed to update settlement %s: %w", settlement.TransactionID, err)
	}

	metrics.Settlements.WithLabelValues(settlement.Network.String(), string(settlement.Status)).Inc()
	metrics.SettlementAttempts.Observe(float64(settlement.Attempts))
	logrus.WithFields(logrus.Fields{
		"transaction_id": settlement.TransactionID,
		"tx_hash":        receipt.TxHash,
		"block":          receipt.BlockNumber,
		"status":         settlement.Status,
	}).Info("✅ [Settlement] settlement finalized")
	s.notify(ctx, settlement)
	return settlement, result
}

// Poll refreshes a pending settlement from its chain receipt. Without a recorded
// hash or a mined receipt the record is returned unchanged.
func (s *SettlementService) Poll(ctx context.Context, appTxID string) (*models.Settlement, error) {
	unlock := s.locks.Lock(appTxID)
	defer unlock()

	settlement, err := s.get(ctx, appTxID)
	if err != nil {
		return nil, err
	}
	if settlement.Status.IsTerminal() || !settlement.HasChainHash() {
		return settlement, nil
	}

	receipt, err := s.ledger.LookupReceipt(ctx, settlement.Network, *settlement.ChainTxHash)
	if err != nil {
		return settlement, err
	}
	if receipt == nil {
		return settlement, nil
	}
	updated, err := s.applyReceipt(ctx, settlement, receipt)
	if errors.Is(err, ErrExecutionReverted) {
		// failed is a valid poll outcome
		return updated, nil
	}
	return updated, err
}

// Cancel marks a pending settlement canceled. Canceled is terminal; a receipt
// arriving later never moves it.
func (s *SettlementService) Cancel(ctx context.Context, appTxID, actor string) (*models.Settlement, error) {
	unlock := s.locks.Lock(appTxID)
	defer unlock()

	settlement, err := s.get(ctx, appTxID)
	if err != nil {
		return nil, err
	}
	if settlement.Status != models.SettlementStatusPending {
		return settlement, fmt.Errorf("%w: settlement %s is %s", ErrInvalidState, appTxID, settlement.Status)
	}

	now := time.Now()
	settlement.Status = models.SettlementStatusCanceled
	settlement.CanceledAt = &now
	if err := s.repo.Update(ctx, settlement); err != nil {
		return nil, fmt.Errorf("failed to cancel settlement %s: %w", appTxID, err)
	}

	metrics.Settlements.WithLabelValues(settlement.Network.String(), string(settlement.Status)).Inc()
	fields := logrus.Fields{"transaction_id": appTxID, "actor": actor}
	if settlement.HasChainHash() {
		// the broadcast itself cannot be withdrawn
		fields["tx_hash"] = *settlement.ChainTxHash
	}
	logrus.WithFields(fields).Warn("🛑 [Settlement] settlement canceled")
	s.notify(ctx, settlement)
	return settlement, nil
}

// Get returns the stored settlement
func (s *SettlementService) Get(ctx context.Context, appTxID string) (*models.Settlement, error) {
	return s.get(ctx, appTxID)
}

// List lists settlements, newest first
func (s *SettlementService) List(ctx context.Context, filter repository.SettlementFilter) ([]*models.Settlement, error) {
	return s.repo.List(ctx, filter)
}

func (s *SettlementService) get(ctx context.Context, appTxID string) (*models.Settlement, error) {
	settlement, err := s.repo.GetByID(ctx, appTxID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, appTxID)
	}
	return settlement, err
}

func (s *SettlementService) save(ctx context.Context, settlement *models.Settlement) {
	if err := s.repo.Update(ctx, settlement); err != nil {
		logrus.WithError(err).Warnf("⚠️ [Settlement] failed to persist %s", settlement.TransactionID)
	}
}

func (s *SettlementService) notify(ctx context.Context, settlement *models.Settlement) {
	event := StatusEvent{
		Kind:      EventSettlementUpdated,
		Network:   settlement.Network,
		Reference: settlement.TransactionID,
		Status:    string(settlement.Status),
		Data:      settlement.Clone(),
	}
	if settlement.HasChainHash() {
		event.TxHash = *settlement.ChainTxHash
	}
	publish(ctx, s.publisher, event)
}
