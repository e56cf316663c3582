package models

import (
	"encoding/json"
	"time"
)

// OperationType kind of mainnet operation held by the security gate
type OperationType string

const (
	OperationSettlePayment   OperationType = "settle_payment"
	OperationMultisigSubmit  OperationType = "multisig_submit"
	OperationMultisigConfirm OperationType = "multisig_confirm"
	OperationMultisigExecute OperationType = "multisig_execute"
	OperationContractUpdate  OperationType = "contract_update"
	OperationTokenTransfer   OperationType = "token_transfer"
	OperationTokenMint       OperationType = "token_mint"
	OperationTokenBurn       OperationType = "token_burn"
)

// DefaultOperationTTL lifetime of a pending operation
const DefaultOperationTTL = 10 * time.Minute

// PendingOperation mainnet operation waiting for out-of-band confirmation.
// It holds the only copy of its security code.
type PendingOperation struct {
	OperationID  string          `json:"operation_id"`
	Type         OperationType   `json:"operation_type"`
	Network      Network         `json:"network"`
	Payload      json.RawMessage `json:"payload"`
	RequestedBy  string          `json:"requested_by"`
	SecurityCode string          `json:"security_code,omitempty"`
	CodeIssuedAt *time.Time      `json:"code_issued_at,omitempty"`
	IsHighRisk   bool            `json:"is_high_risk"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// CodeIssued whether a security code was delivered for this operation
func (p *PendingOperation) CodeIssued() bool {
	return p.SecurityCode != ""
}

// Expired lazy expiry check
func (p *PendingOperation) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PendingOperationView is what callers see; the code never leaves the gate.
type PendingOperationView struct {
	OperationID string          `json:"operation_id"`
	Type        OperationType   `json:"operation_type"`
	Network     Network         `json:"network"`
	Payload     json.RawMessage `json:"payload"`
	RequestedBy string          `json:"requested_by"`
	CodeIssued  bool            `json:"code_issued"`
	IsHighRisk  bool            `json:"is_high_risk"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// View strips the security code
func (p *PendingOperation) View() PendingOperationView {
	return PendingOperationView{
		OperationID: p.OperationID,
		Type:        p.Type,
		Network:     p.Network,
		Payload:     p.Payload,
		RequestedBy: p.RequestedBy,
		CodeIssued:  p.CodeIssued(),
		IsHighRisk:  p.IsHighRisk,
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
	}
}

// RiskAcknowledgements explicit flags required for high-risk confirmations
type RiskAcknowledgements struct {
	ConfirmOperation  bool `json:"confirm_operation"`
	AcknowledgeRisk   bool `json:"acknowledge_risk"`
	ConfirmAuthorized bool `json:"confirm_authorized"`
}

// Complete all three flags set
func (a RiskAcknowledgements) Complete() bool {
	return a.ConfirmOperation && a.AcknowledgeRisk && a.ConfirmAuthorized
}
