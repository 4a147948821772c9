// Package domain contains the append-only credit ledger models.
//
// A balance is never stored. It is always derived as SUM(amount) over the
// account's entries, so the ledger remains auditable and reconstructible.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionType classifies a ledger movement.
type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "PURCHASE"
	TransactionTypeDeduction  TransactionType = "USAGE_DEDUCTION"
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	TransactionTypeRefund     TransactionType = "REFUND"
)

// Account is a billing entity. It intentionally carries no balance column.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// LedgerEntry is one immutable signed movement of credits. Entries are
// never updated or deleted after insert.
type LedgerEntry struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID    `gorm:"not null;index:ix_ledger_account_created" json:"account_id"`
	Amount    int64           `gorm:"not null" json:"amount"`
	Type      TransactionType `gorm:"type:text;not null" json:"type"`
	// Optional, but unique when present: a second insert with the same
	// key is a replay and returns the original entry.
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex" json:"idempotency_key,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_ledger_account_created" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
