package services

import (
	"errors"
	"fmt"
	"math/big"

	"nvct-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// Connectivity
var (
	ErrConnection = errors.New("ledger node unreachable")
)

// Chain-execution
var (
	ErrExecutionReverted   = errors.New("transaction reverted on-chain")
	ErrTransactionRejected = errors.New("transaction rejected by node")
	ErrPendingTimeout      = errors.New("receipt not found within timeout")
)

// Validation
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidPayload      = errors.New("invalid operation payload")
	ErrSignerUnavailable   = errors.New("no signing key for sender")
	ErrNetworkUnconfigured = errors.New("network not configured")
	ErrUnknownOperation    = errors.New("no handler for operation type")
)

// State-conflict
var (
	ErrAlreadyConfirmed = errors.New("owner already confirmed transaction")
	ErrAlreadyExecuted  = errors.New("transaction already executed")
	ErrInvalidState     = errors.New("invalid state for operation")

	ErrInsufficientConfirmations = errors.New("insufficient confirmations")
)

// Authorization
var (
	ErrUnknownOwner          = errors.New("not a configured wallet owner")
	ErrInvalidSecurityCode   = errors.New("invalid security code")
	ErrInvalidPassword       = errors.New("invalid admin password")
	ErrNotAdmin              = errors.New("confirming user is not an admin")
	ErrMissingAcknowledgment = errors.New("risk acknowledgements required")
	ErrCodeNotIssued         = errors.New("security code not issued")
)

// Lookup
var (
	ErrMultisigNotFound   = errors.New("multisig transaction not found")
	ErrSettlementNotFound = errors.New("settlement not found")
	ErrOperationNotFound  = errors.New("pending operation not found")
	ErrOperationExpired   = errors.New("pending operation expired")
	ErrDeliveryFailed     = errors.New("security code delivery failed")
)

// LedgerError carries enough context for the caller to decide on a retry
type LedgerError struct {
	Kind    error
	Network models.Network
	Sender  common.Address
	Nonce   *uint64
	Value   *big.Int
	TxHash  string
	Err     error
}

func (e *LedgerError) Error() string {
	msg := fmt.Sprintf("%v: network=%s sender=%s", e.Kind, e.Network, e.Sender.Hex())
	if e.Nonce != nil {
		msg += fmt.Sprintf(" nonce=%d", *e.Nonce)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" value=%s", e.Value.String())
	}
	if e.TxHash != "" {
		msg += " tx=" + e.TxHash
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error kind so callers can use errors.Is(err, ErrConnection)
func (e *LedgerError) Is(target error) bool {
	return e.Kind == target
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// IsRetryable connectivity failures and pending timeouts may be retried by the caller
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrPendingTimeout)
}

// SendOutcomeUnknown reports a signed transaction whose broadcast failed on the
// connection. The node may hold it, so its hash must be kept and checked before
// anything is signed again.
func SendOutcomeUnknown(err error) (*LedgerError, bool) {
	var ledgerErr *LedgerError
	if !errors.As(err, &ledgerErr) {
		return nil, false
	}
	return ledgerErr, ledgerErr.Kind == ErrConnection && ledgerErr.TxHash != "" && ledgerErr.Nonce != nil
}
