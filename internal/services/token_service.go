package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"nvct-backend/internal/metrics"
	"nvct-backend/internal/models"
	"nvct-backend/internal/utils"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// nvcTokenABI the NVC token entries the backend drives
const nvcTokenABI = `[
	{"inputs": [{"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}],
	 "name": "transfer", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
	{"inputs": [{"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}],
	 "name": "mint", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
	{"inputs": [{"name": "from", "type": "address"}, {"name": "amount", "type": "uint256"}],
	 "name": "burn", "outputs": [], "stateMutability": "nonpayable", "type": "function"},
	{"inputs": [{"name": "account", "type": "address"}],
	 "name": "balanceOf", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

// TokenTransferRequest moves tokens out of a managed account
type TokenTransferRequest struct {
	FromAddress string `json:"from_address" binding:"required"`
	ToAddress   string `json:"to_address" binding:"required"`
	Amount      string `json:"amount" binding:"required"` // token base units
}

// TokenMintRequest mints to ToAddress. Operator signs; empty means the network's default account.
type TokenMintRequest struct {
	ToAddress string `json:"to_address" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Operator  string `json:"operator"`
}

// TokenBurnRequest burns from FromAddress, signed like a mint
type TokenBurnRequest struct {
	FromAddress string `json:"from_address" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Operator    string `json:"operator"`
}

// TokenTransaction outcome of a token call
type TokenTransaction struct {
	Operation string         `json:"operation"` // transfer | mint | burn
	Network   models.Network `json:"network"`
	Contract  string         `json:"contract"`
	Signer    string         `json:"signer"`
	Account   string         `json:"account"` // recipient, or burned-from account
	Amount    string         `json:"amount"`
	TxHash    string         `json:"tx_hash"`
	Nonce     uint64         `json:"nonce"`
	Status    string         `json:"status"` // pending | confirmed | reverted
	Receipt   *Receipt       `json:"receipt,omitempty"`
}

// TokenService NVC token calls through the ledger connector. Mint and burn are
// high-risk operations at the security gate; the service itself does not check roles.
type TokenService struct {
	ledger    *LedgerConnector
	contracts ContractResolver
	publisher EventPublisher
	abi       abi.ABI
}

// NewTokenService parses the token ABI
func NewTokenService(ledger *LedgerConnector, contracts ContractResolver, publisher EventPublisher) (*TokenService, error) {
	parsed, err := abi.JSON(strings.NewReader(nvcTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	return &TokenService{ledger: ledger, contracts: contracts, publisher: publisher, abi: parsed}, nil
}

func (s *TokenService) contract(network models.Network) (common.Address, error) {
	addr, err := s.contracts.Resolve(models.ContractNVCToken, &network)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrNetworkUnconfigured, err)
	}
	if !utils.IsEvmAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: token contract %q on %s", ErrNetworkUnconfigured, addr, network)
	}
	return common.HexToAddress(addr), nil
}

func parseTokenAmount(raw string) (*big.Int, error) {
	amount, ok := utils.ParseAmount(raw)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	return amount, nil
}

// operator resolves the signing account of mint and burn
func (s *TokenService) operator(network models.Network, raw string) (common.Address, error) {
	if raw == "" {
		return s.ledger.Keyring().DefaultSender(network)
	}
	addr, err := utils.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: operator %s", ErrInvalidAddress, raw)
	}
	return addr, nil
}

// Transfer calls transfer(to, amount) signed by FromAddress
func (s *TokenService) Transfer(ctx context.Context, nc models.NetworkContext, req TokenTransferRequest) (*TokenTransaction, error) {
	from, err := utils.ParseAddress(req.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: from_address %s", ErrInvalidAddress, req.FromAddress)
	}
	to, err := utils.ParseAddress(req.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: to_address %s", ErrInvalidAddress, req.ToAddress)
	}
	amount, err := parseTokenAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, nc, "transfer", from, to, amount)
}

// Mint calls mint(to, amount)
func (s *TokenService) Mint(ctx context.Context, nc models.NetworkContext, req TokenMintRequest) (*TokenTransaction, error) {
	to, err := utils.ParseAddress(req.ToAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: to_address %s", ErrInvalidAddress, req.ToAddress)
	}
	amount, err := parseTokenAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	signer, err := s.operator(nc.Network, req.Operator)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, nc, "mint", signer, to, amount)
}

// Burn calls burn(from, amount)
func (s *TokenService) Burn(ctx context.Context, nc models.NetworkContext, req TokenBurnRequest) (*TokenTransaction, error) {
	from, err := utils.ParseAddress(req.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: from_address %s", ErrInvalidAddress, req.FromAddress)
	}
	amount, err := parseTokenAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	signer, err := s.operator(nc.Network, req.Operator)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, nc, "burn", signer, from, amount)
}

// send packs method(account, amount), broadcasts it from signer and waits for the
// receipt. A receipt timeout returns the pending transaction with the error.
func (s *TokenService) send(ctx context.Context, nc models.NetworkContext, method string, signer, account common.Address, amount *big.Int) (*TokenTransaction, error) {
	contract, err := s.contract(nc.Network)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Keyring().Signer(nc.Network, signer); err != nil {
		return nil, err
	}
	data, err := s.abi.Pack(method, account, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}
	networkConfig, err := s.ledger.NetworkConfig(nc.Network)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"operation":    method,
		"network":      nc.Network,
		"signer":       signer.Hex(),
		"account":      account.Hex(),
		"amount":       amount.String(),
		"requested_by": nc.RequestedBy,
	})

	handle, err := s.ledger.Submit(ctx, TxSpec{
		Network:   nc.Network,
		From:      signer,
		To:        contract,
		Data:      data,
		GasLimit:  networkConfig.SettlementGasLimit,
		Reference: "token:" + method,
	})
	if err != nil {
		metrics.TokenOperations.WithLabelValues(nc.Network.String(), method, "failed").Inc()
		log.WithError(err).Error("❌ [Token] broadcast failed")
		return nil, err
	}

	tx := &TokenTransaction{
		Operation: method,
		Network:   nc.Network,
		Contract:  contract.Hex(),
		Signer:    signer.Hex(),
		Account:   account.Hex(),
		Amount:    amount.String(),
		TxHash:    handle.Hash.Hex(),
		Nonce:     handle.Nonce,
		Status:    "pending",
	}
	log = log.WithField("tx_hash", tx.TxHash)
	log.Info("📤 [Token] transaction broadcast")

	receipt, err := s.ledger.AwaitReceipt(ctx, handle, 0)
	if err != nil {
		s.notify(ctx, tx)
		return tx, err
	}
	tx.Receipt = receipt
	if !receipt.Succeeded() {
		tx.Status = "reverted"
		metrics.TokenOperations.WithLabelValues(nc.Network.String(), method, tx.Status).Inc()
		log.Warn("⚠️ [Token] transaction reverted")
		s.notify(ctx, tx)
		return tx, &LedgerError{Kind: ErrExecutionReverted, Network: nc.Network, Sender: signer, TxHash: tx.TxHash}
	}

	tx.Status = "confirmed"
	metrics.TokenOperations.WithLabelValues(nc.Network.String(), method, tx.Status).Inc()
	log.WithField("block", receipt.BlockNumber).Info("✅ [Token] transaction confirmed")
	s.notify(ctx, tx)
	return tx, nil
}

func (s *TokenService) notify(ctx context.Context, tx *TokenTransaction) {
	publish(ctx, s.publisher, StatusEvent{
		Kind:      EventTokenOperation,
		Network:   tx.Network,
		Reference: tx.TxHash,
		Status:    tx.Operation + "." + tx.Status,
		TxHash:    tx.TxHash,
		Data:      tx,
	})
}

// BalanceOf reads balanceOf(holder) from the token contract
func (s *TokenService) BalanceOf(ctx context.Context, network models.Network, holder common.Address) (*big.Int, error) {
	contract, err := s.contract(network)
	if err != nil {
		return nil, err
	}
	data, err := s.abi.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanceOf: %w", err)
	}
	out, err := s.ledger.Call(ctx, network, contract, data)
	if err != nil {
		return nil, err
	}
	values, err := s.abi.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}
