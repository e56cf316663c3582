package dto

import (
	"nvct-backend/internal/models"
)

// ==================== Gated operation payloads ====================
// Bodies stored in PendingOperation.Payload and decoded by the operation handlers.

// ConfirmMultisigPayload multisig_confirm
type ConfirmMultisigPayload struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Owner         string `json:"owner" binding:"required"`
}

// ExecuteMultisigPayload multisig_execute
type ExecuteMultisigPayload struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	Caller        string `json:"caller" binding:"required"`
}

// UpdateContractPayload contract_update
type UpdateContractPayload struct {
	ContractName string `json:"contract_name" binding:"required"`
	Address      string `json:"address" binding:"required"`
}

// ==================== Request bodies ====================

// OwnerRequest body of confirm calls. Owner defaults to the caller's bound address
// and must equal it when given.
type OwnerRequest struct {
	Owner string `json:"owner"`
}

// CallerRequest body of execute calls, same binding rule as OwnerRequest
type CallerRequest struct {
	Caller string `json:"caller"`
}

// AddressRequest body of contract updates
type AddressRequest struct {
	Address string `json:"address" binding:"required"`
}

// SwitchNetworkRequest body of PUT /networks/current
type SwitchNetworkRequest struct {
	Network string `json:"network" binding:"required"`
}

// IssueCodeRequest body of POST /operations/:id/code. The code always goes to the
// caller's registered contact; only the channel is selectable.
type IssueCodeRequest struct {
	Channel string `json:"channel"`
}

// ConfirmOperationRequest body of POST /operations/:id/confirm
type ConfirmOperationRequest struct {
	SecurityCode     string                      `json:"security_code" binding:"required"`
	Password         string                      `json:"password" binding:"required"`
	Acknowledgements models.RiskAcknowledgements `json:"acknowledgements"`
}

// BalanceResponse GET /accounts/:address/balance and GET /tokens/:address/balance
type BalanceResponse struct {
	Network models.Network `json:"network"`
	Address string         `json:"address"`
	Balance string         `json:"balance"` // wei
}
