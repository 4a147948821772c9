package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

type AppendRequest struct {
	AccountID      snowflake.ID
	Amount         int64
	Type           TransactionType
	IdempotencyKey *string
	Metadata       map[string]any
}

type DeductRequest struct {
	AccountID      snowflake.ID
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]any
}

type Service interface {
	// Balance derives the account balance from the entry sum. Read-only.
	Balance(ctx context.Context, accountID snowflake.ID) (int64, error)

	// AppendEntry records one immutable movement. When the idempotency key
	// is already recorded the existing entry is returned unchanged.
	AppendEntry(ctx context.Context, req AppendRequest) (*LedgerEntry, error)

	// Deduct atomically checks the balance and appends a negative entry
	// under the account's exclusive section. Replays by idempotency key
	// return the original deduction.
	Deduct(ctx context.Context, req DeductRequest) (*LedgerEntry, error)

	// Entries lists an account's ledger history, newest first.
	Entries(ctx context.Context, accountID snowflake.ID, limit int) ([]LedgerEntry, error)
}

var (
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidType           = errors.New("invalid_type")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
)

// InsufficientCreditsError carries the balance and the required amount so
// callers can self-diagnose without a second lookup.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient_credits: balance=%d required=%d", e.Balance, e.Required)
}

// IsInsufficientCredits reports whether err is an insufficient-credits
// failure and returns it when so.
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var icErr *InsufficientCreditsError
	if errors.As(err, &icErr) {
		return icErr, true
	}
	return nil, false
}
