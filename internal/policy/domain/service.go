package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"

	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
)

// EffectivePolicy is the merged view of every policy on an agent's chain.
// A nil AllowedModels means unrestricted; a non-nil empty slice allows
// nothing. Nil limits are unbounded.
type EffectivePolicy struct {
	AllowedModels   []string `json:"allowed_models,omitempty"`
	MaxInputTokens  *int     `json:"max_input_tokens,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	RPMLimit        *int     `json:"rpm_limit,omitempty"`
}

// ModelAllowed reports whether the merged allow-list admits model.
func (e EffectivePolicy) ModelAllowed(model string) bool {
	if e.AllowedModels == nil {
		return true
	}
	for _, m := range e.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

type CreateRequest struct {
	Target          hierarchydomain.Target `json:"target"`
	Name            string                 `json:"name"`
	AllowedModels   []string               `json:"allowed_models,omitempty"`
	MaxInputTokens  *int                   `json:"max_input_tokens,omitempty"`
	MaxOutputTokens *int                   `json:"max_output_tokens,omitempty"`
	RPMLimit        *int                   `json:"rpm_limit,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Policy, error)
	List(ctx context.Context, target hierarchydomain.Target) ([]Policy, error)
	Delete(ctx context.Context, id snowflake.ID) error

	// Effective merges every policy targeting the agent or any of its
	// ancestors. Most restrictive always wins, so the merge is
	// independent of evaluation order.
	Effective(ctx context.Context, agentID snowflake.ID) (EffectivePolicy, error)
}

var (
	ErrNotFound      = errors.New("not_found")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidTarget = errors.New("invalid_target")
	ErrInvalidLimit  = errors.New("invalid_limit")
)

// ViolationError reports a request rejected by the effective policy.
type ViolationError struct {
	Model  string
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("policy_violation: %s", e.Reason)
}

// IsViolation reports whether err is a policy violation.
func IsViolation(err error) bool {
	var ve *ViolationError
	return errors.As(err, &ve)
}

// Merge folds a set of policies into one effective policy. Allow-lists
// intersect (absent lists are the identity) and numeric limits take the
// minimum of all values set.
func Merge(policies []Policy) EffectivePolicy {
	var effective EffectivePolicy
	for i := range policies {
		p := &policies[i]
		if p.AllowedModels != nil {
			effective.AllowedModels = intersect(effective.AllowedModels, p.AllowedModels)
		}
		effective.MaxInputTokens = minLimit(effective.MaxInputTokens, p.MaxInputTokens)
		effective.MaxOutputTokens = minLimit(effective.MaxOutputTokens, p.MaxOutputTokens)
		effective.RPMLimit = minLimit(effective.RPMLimit, p.RPMLimit)
	}
	return effective
}

// Enforce validates the requested model against the effective policy and
// clamps the requested output-token budget to the policy ceiling.
func Enforce(effective EffectivePolicy, model string, requestedMaxOutputTokens int) (int, error) {
	if !effective.ModelAllowed(model) {
		return 0, &ViolationError{
			Model:  model,
			Reason: fmt.Sprintf("model %q is not allowed", model),
		}
	}
	if effective.MaxOutputTokens != nil && requestedMaxOutputTokens > *effective.MaxOutputTokens {
		return *effective.MaxOutputTokens, nil
	}
	return requestedMaxOutputTokens, nil
}

func intersect(current []string, allowed []string) []string {
	if current == nil {
		out := make([]string, len(allowed))
		copy(out, allowed)
		return out
	}
	out := make([]string, 0, len(current))
	for _, m := range current {
		for _, a := range allowed {
			if m == a {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func minLimit(current, candidate *int) *int {
	if candidate == nil {
		return current
	}
	if current == nil || *candidate < *current {
		v := *candidate
		return &v
	}
	return current
}
