package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"

	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
)

type CreateRequest struct {
	Target      hierarchydomain.Target `json:"target"`
	Name        string                 `json:"name"`
	Period      Period                 `json:"period"`
	CreditLimit int64                  `json:"credit_limit"`
	AutoDisable bool                   `json:"auto_disable"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Budget, error)
	List(ctx context.Context, target hierarchydomain.Target) ([]Budget, error)
	Delete(ctx context.Context, id snowflake.ID) error

	// Check evaluates every active budget on the agent's chain against
	// the spend it would reach after charging credits. Every violated
	// auto-disable budget deactivates its own node; the first violation
	// found is returned as a *ExceededError.
	Check(ctx context.Context, agentID snowflake.ID, credits int64) error
}

var (
	ErrNotFound      = errors.New("not_found")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidTarget = errors.New("invalid_target")
	ErrInvalidPeriod = errors.New("invalid_period")
	ErrInvalidLimit  = errors.New("invalid_limit")
)

// ExceededError reports the budget a request would overrun.
type ExceededError struct {
	BudgetID    snowflake.ID
	BudgetName  string
	Target      hierarchydomain.Target
	Period      Period
	CreditLimit int64
	Spent       int64
	Requested   int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget_exceeded: %s limit %d, spent %d, requested %d",
		e.BudgetName, e.CreditLimit, e.Spent, e.Requested)
}

// IsExceeded reports whether err is a budget overrun.
func IsExceeded(err error) bool {
	var ee *ExceededError
	return errors.As(err, &ee)
}
