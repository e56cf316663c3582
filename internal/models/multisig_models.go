package models

import (
	"time"
)

// MultisigTransaction multisig wallet transaction mirrored from chain state
type MultisigTransaction struct {
	ID          string  `json:"id" gorm:"primaryKey;size:36"`
	Network     Network `json:"network" gorm:"size:16;not null;index"`
	Destination string  `json:"destination" gorm:"size:42;not null"`
	Value       string  `json:"value" gorm:"not null"` // wei, decimal string
	Data        string  `json:"data" gorm:"type:text"` // call data (hex)
	Proposer    string  `json:"proposer" gorm:"size:42;not null"`

	RequiredConfirmations int                    `json:"required_confirmations" gorm:"not null"`
	Confirmations         []MultisigConfirmation `json:"confirmations" gorm:"foreignKey:TransactionID;references:ID"`

	Executed   bool       `json:"executed" gorm:"not null;default:false;index"`
	ExecutedAt *time.Time `json:"executed_at"`
	ExecutedBy string     `json:"executed_by" gorm:"size:42"`

	// execution broadcast; set before the receipt is known so a retry re-polls instead of re-sending
	ExecutionTxHash string  `json:"execution_tx_hash" gorm:"size:66;index"`
	ExecutionNonce  *uint64 `json:"execution_nonce"`
	BlockNumber     *uint64 `json:"block_number"`
	GasUsed         uint64  `json:"gas_used"`
	ReceiptStatus   *uint64 `json:"receipt_status"`
	LastError       string  `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (MultisigTransaction) TableName() string {
	return "multisig_transactions"
}

// MultisigConfirmation one owner's confirmation of a transaction
type MultisigConfirmation struct {
	ID            uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	TransactionID string    `json:"transaction_id" gorm:"size:36;not null;uniqueIndex:idx_multisig_tx_owner"`
	Owner         string    `json:"owner" gorm:"size:42;not null;uniqueIndex:idx_multisig_tx_owner"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (MultisigConfirmation) TableName() string {
	return "multisig_confirmations"
}

// HasConfirmation reports whether owner already confirmed. Owners are compared
// in checksum form by callers.
func (t *MultisigTransaction) HasConfirmation(owner string) bool {
	for _, c := range t.Confirmations {
		if c.Owner == owner {
			return true
		}
	}
	return false
}

// ConfirmationCount number of distinct confirming owners
func (t *MultisigTransaction) ConfirmationCount() int {
	return len(t.Confirmations)
}

// IsExecutable derived predicate, evaluated on demand
func (t *MultisigTransaction) IsExecutable() bool {
	return !t.Executed && t.ConfirmationCount() >= t.RequiredConfirmations
}

// Owners confirming owners in confirmation order
func (t *MultisigTransaction) Owners() []string {
	owners := make([]string, 0, len(t.Confirmations))
	for _, c := range t.Confirmations {
		owners = append(owners, c.Owner)
	}
	return owners
}

// Clone returns a deep copy so stores never hand out shared slices
func (t *MultisigTransaction) Clone() *MultisigTransaction {
	cp := *t
	cp.Confirmations = append([]MultisigConfirmation(nil), t.Confirmations...)
	if t.ExecutedAt != nil {
		at := *t.ExecutedAt
		cp.ExecutedAt = &at
	}
	if t.ExecutionNonce != nil {
		n := *t.ExecutionNonce
		cp.ExecutionNonce = &n
	}
	if t.BlockNumber != nil {
		b := *t.BlockNumber
		cp.BlockNumber = &b
	}
	if t.ReceiptStatus != nil {
		s := *t.ReceiptStatus
		cp.ReceiptStatus = &s
	}
	return &cp
}
