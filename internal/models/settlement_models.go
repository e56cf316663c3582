package models

import "time"

// SettlementStatus settlement lifecycle status
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusConfirmed SettlementStatus = "confirmed"
	SettlementStatusFailed    SettlementStatus = "failed"
	SettlementStatusCanceled  SettlementStatus = "canceled"
)

// IsTerminal confirmed, failed and canceled never change again
func (s SettlementStatus) IsTerminal() bool {
	return s != SettlementStatusPending
}

// Settlement application level record of a transfer routed through the settlement contract.
// TransactionID is generated before any chain interaction and never equals the chain hash.
type Settlement struct {
	TransactionID string           `json:"transaction_id" gorm:"primaryKey;size:64"`
	Network       Network          `json:"network" gorm:"size:16;not null;index"`
	FromAddress   string           `json:"from_address" gorm:"size:42;not null;index"`
	ToAddress     string           `json:"to_address" gorm:"size:42;not null"`
	Amount        string           `json:"amount" gorm:"not null"` // wei, decimal string
	Status        SettlementStatus `json:"status" gorm:"size:16;not null;default:'pending';index"`

	ChainTxHash *string `json:"chain_tx_hash" gorm:"size:66;uniqueIndex"`
	Nonce       *uint64 `json:"nonce"`
	BlockNumber *uint64 `json:"block_number"`
	GasUsed     uint64  `json:"gas_used"`

	Attempts  int    `json:"attempts" gorm:"default:0"`
	LastError string `json:"last_error" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	CanceledAt  *time.Time `json:"canceled_at"`
}

// TableName 指定表名
func (Settlement) TableName() string {
	return "settlements"
}

// HasChainHash true once a submission was accepted by the node
func (s *Settlement) HasChainHash() bool {
	return s.ChainTxHash != nil && *s.ChainTxHash != ""
}

// Clone deep copy
func (s *Settlement) Clone() *Settlement {
	cp := *s
	if s.ChainTxHash != nil {
		h := *s.ChainTxHash
		cp.ChainTxHash = &h
	}
	if s.Nonce != nil {
		n := *s.Nonce
		cp.Nonce = &n
	}
	if s.BlockNumber != nil {
		b := *s.BlockNumber
		cp.BlockNumber = &b
	}
	if s.SubmittedAt != nil {
		t := *s.SubmittedAt
		cp.SubmittedAt = &t
	}
	if s.ConfirmedAt != nil {
		t := *s.ConfirmedAt
		cp.ConfirmedAt = &t
	}
	if s.CanceledAt != nil {
		t := *s.CanceledAt
		cp.CanceledAt = &t
	}
	return &cp
}
