package models

import (
	"time"
)

// LedgerSubmissionStatus 链上提交状态
type LedgerSubmissionStatus string

const (
	LedgerSubmissionStatusSubmitted LedgerSubmissionStatus = "submitted" // 已提交到链上
	LedgerSubmissionStatusConfirmed LedgerSubmissionStatus = "confirmed" // 已确认
	LedgerSubmissionStatusFailed    LedgerSubmissionStatus = "failed"    // 失败
	LedgerSubmissionStatusUnknown   LedgerSubmissionStatus = "unknown"   // 发送结果未知
)

// LedgerSubmission audit row for every broadcast transaction
type LedgerSubmission struct {
	ID        string                 `json:"id" gorm:"primaryKey;size:36"`
	Network   Network                `json:"network" gorm:"size:16;not null;index:idx_submission_sender"`
	Sender    string                 `json:"sender" gorm:"size:42;not null;index:idx_submission_sender"`
	Nonce     uint64                 `json:"nonce" gorm:"not null"`
	Recipient string                 `json:"recipient" gorm:"size:42"`
	Value     string                 `json:"value"`
	TxHash    string                 `json:"tx_hash" gorm:"size:66;uniqueIndex"`
	Reference string                 `json:"reference" gorm:"size:64;index"` // settlement or multisig id
	Status    LedgerSubmissionStatus `json:"status" gorm:"size:16;not null;default:submitted;index"`

	BlockNumber *uint64 `json:"block_number"`
	LastError   string  `json:"last_error" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
}

// TableName 指定表名
func (LedgerSubmission) TableName() string {
	return "ledger_submissions"
}
