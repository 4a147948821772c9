package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
)

func newTestService(t *testing.T) (ledgerdomain.Service, snowflake.ID) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Account{}, &ledgerdomain.LedgerEntry{}))

	// A single connection keeps the in-memory database shared across
	// the goroutines the concurrency tests spawn.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node})

	account := ledgerdomain.Account{ID: node.Generate(), Name: "test"}
	require.NoError(t, db.Create(&account).Error)

	return svc, account.ID
}

func purchase(t *testing.T, svc ledgerdomain.Service, accountID snowflake.ID, amount int64) {
	t.Helper()
	_, err := svc.AppendEntry(context.Background(), ledgerdomain.AppendRequest{
		AccountID: accountID,
		Amount:    amount,
		Type:      ledgerdomain.TransactionTypePurchase,
	})
	require.NoError(t, err)
}

func TestBalanceIsDerivedFromEntrySum(t *testing.T) {
	svc, accountID := newTestService(t)
	ctx := context.Background()

	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Zero(t, balance)

	purchase(t, svc, accountID, 1000)
	_, err = svc.AppendEntry(ctx, ledgerdomain.AppendRequest{
		AccountID: accountID,
		Amount:    -300,
		Type:      ledgerdomain.TransactionTypeAdjustment,
	})
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, ledgerdomain.AppendRequest{
		AccountID: accountID,
		Amount:    50,
		Type:      ledgerdomain.TransactionTypeRefund,
	})
	require.NoError(t, err)

	balance, err = svc.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(750), balance)

	entries, err := svc.Entries(ctx, accountID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestDeductFailsWithoutFunds(t *testing.T) {
	svc, accountID := newTestService(t)
	ctx := context.Background()
	purchase(t, svc, accountID, 100)

	_, err := svc.Deduct(ctx, ledgerdomain.DeductRequest{
		AccountID:      accountID,
		Amount:         101,
		IdempotencyKey: "req-over",
	})

	icErr, ok := ledgerdomain.IsInsufficientCredits(err)
	require.True(t, ok)
	require.Equal(t, int64(100), icErr.Balance)
	require.Equal(t, int64(101), icErr.Required)

	// The failed attempt must not leave an entry behind.
	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance)
}

func TestDeductReplaysIdempotencyKey(t *testing.T) {
	svc, accountID := newTestService(t)
	ctx := context.Background()
	purchase(t, svc, accountID, 1000)

	first, err := svc.Deduct(ctx, ledgerdomain.DeductRequest{
		AccountID:      accountID,
		Amount:         250,
		IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	require.Equal(t, int64(-250), first.Amount)

	second, err := svc.Deduct(ctx, ledgerdomain.DeductRequest{
		AccountID:      accountID,
		Amount:         250,
		IdempotencyKey: "req-1",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(750), balance)
}

func TestDeductValidatesInput(t *testing.T) {
	svc, accountID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: 0, Amount: 10, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)

	_, err = svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 0, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: -5, IdempotencyKey: "k"})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.Deduct(ctx, ledgerdomain.DeductRequest{AccountID: accountID, Amount: 10, IdempotencyKey: ""})
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidIdempotencyKey)
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	svc, accountID := newTestService(t)
	ctx := context.Background()

	const (
		initial = 1000
		amount  = 300
		workers = 10
	)
	purchase(t, svc, accountID, initial)

	var succeeded atomic.Int64
	var insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Deduct(ctx, ledgerdomain.DeductRequest{
				AccountID:      accountID,
				Amount:         amount,
				IdempotencyKey: fmt.Sprintf("concurrent-%d", n),
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			default:
				_, ok := ledgerdomain.IsInsufficientCredits(err)
				require.True(t, ok, "unexpected error: %v", err)
				insufficient.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// floor(1000/300) deductions fit, no matter the interleaving.
	require.Equal(t, int64(3), succeeded.Load())
	require.Equal(t, int64(workers-3), insufficient.Load())

	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(initial-3*amount), balance)
}

func TestConcurrentRetriesDebitOnce(t *testing.T) {
	svc, accountID := newTestService(t)
	ctx := context.Background()
	purchase(t, svc, accountID, 1000)

	const workers = 8
	entries := make([]*ledgerdomain.LedgerEntry, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			entry, err := svc.Deduct(ctx, ledgerdomain.DeductRequest{
				AccountID:      accountID,
				Amount:         100,
				IdempotencyKey: "same-request",
			})
			require.NoError(t, err)
			entries[n] = entry
		}(i)
	}
	wg.Wait()

	for _, entry := range entries {
		require.Equal(t, entries[0].ID, entry.ID)
	}

	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(900), balance)
}

func TestAppendEntryReplaysIdempotencyKey(t *testing.T) {
	svc, accountID := newTestService(t)
	ctx := context.Background()

	key := "purchase-42"
	first, err := svc.AppendEntry(ctx, ledgerdomain.AppendRequest{
		AccountID:      accountID,
		Amount:         500,
		Type:           ledgerdomain.TransactionTypePurchase,
		IdempotencyKey: &key,
	})
	require.NoError(t, err)

	second, err := svc.AppendEntry(ctx, ledgerdomain.AppendRequest{
		AccountID:      accountID,
		Amount:         500,
		Type:           ledgerdomain.TransactionTypePurchase,
		IdempotencyKey: &key,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance)
}
