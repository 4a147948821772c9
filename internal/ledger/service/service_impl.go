package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/credgate/credgate/internal/audit/domain"
	ledgerdomain "github.com/credgate/credgate/internal/ledger/domain"
	obsmetrics "github.com/credgate/credgate/internal/observability/metrics"
	"github.com/credgate/credgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	locks      *accountLocks
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		locks:      newAccountLocks(),
	}
}

func (s *Service) Balance(ctx context.Context, accountID snowflake.ID) (int64, error) {
	if accountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return s.balance(s.db.WithContext(ctx), accountID)
}

func (s *Service) balance(tx *gorm.DB, accountID snowflake.ID) (int64, error) {
	var balance int64
	err := tx.Model(&ledgerdomain.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) AppendEntry(ctx context.Context, req ledgerdomain.AppendRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	switch req.Type {
	case ledgerdomain.TransactionTypePurchase,
		ledgerdomain.TransactionTypeDeduction,
		ledgerdomain.TransactionTypeAdjustment,
		ledgerdomain.TransactionTypeRefund:
	default:
		return nil, ledgerdomain.ErrInvalidType
	}

	if req.IdempotencyKey != nil {
		if *req.IdempotencyKey == "" {
			return nil, ledgerdomain.ErrInvalidIdempotencyKey
		}
		if existing, err := s.findByIdempotencyKey(ctx, *req.IdempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	return s.insertEntry(ctx, s.db.WithContext(ctx), req)
}

// Deduct composes the exclusive section: replay check first (a retry must
// not contend on the lock), then lock, read the derived balance, verify
// funds, append the negative entry.
func (s *Service) Deduct(ctx context.Context, req ledgerdomain.DeductRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if req.IdempotencyKey == "" {
		return nil, ledgerdomain.ErrInvalidIdempotencyKey
	}

	if existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	mu := s.locks.lock(req.AccountID)
	defer mu.Unlock()

	// A concurrent retry may have slipped in between the unlocked replay
	// check and the lock acquisition.
	if existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	var entry *ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.balance(tx, req.AccountID)
		if err != nil {
			return err
		}
		if balance < req.Amount {
			return &ledgerdomain.InsufficientCreditsError{
				Balance:  balance,
				Required: req.Amount,
			}
		}

		entry, err = s.insertEntry(ctx, tx, ledgerdomain.AppendRequest{
			AccountID:      req.AccountID,
			Amount:         -req.Amount,
			Type:           ledgerdomain.TransactionTypeDeduction,
			IdempotencyKey: &req.IdempotencyKey,
			Metadata:       req.Metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Entries(ctx context.Context, accountID snowflake.ID, limit int) ([]ledgerdomain.LedgerEntry, error) {
	if accountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, key string) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).First(&entry, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Service) insertEntry(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (*ledgerdomain.LedgerEntry, error) {
	entry := ledgerdomain.LedgerEntry{
		ID:             s.genID.Generate(),
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Type:           req.Type,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      time.Now().UTC(),
	}

	if err := tx.Create(&entry).Error; err != nil {
		// Unique-index race on the idempotency key: another writer
		// recorded this operation first, return its entry.
		if db.IsDuplicateKeyErr(err) && req.IdempotencyKey != nil {
			if existing, lookupErr := s.findByIdempotencyKey(ctx, *req.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(string(req.Type))
	}
	if s.auditSvc != nil {
		entryID := entry.ID.String()
		if err := s.auditSvc.Log(ctx, auditdomain.Event{
			Action:     "ledger.entry_created",
			TargetType: "ledger_entry",
			TargetID:   &entryID,
			Metadata: map[string]any{
				"account_id": entry.AccountID.String(),
				"amount":     entry.Amount,
				"type":       string(entry.Type),
			},
		}); err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
		}
	}

	return &entry, nil
}
