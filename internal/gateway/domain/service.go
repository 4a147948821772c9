package domain

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxOutputTokens is assumed when the request does not cap output.
// It also anchors the pre-flight cost estimate.
const DefaultMaxOutputTokens = 1024

type Service interface {
	// Complete runs one request through the whole admission, invocation
	// and billing pipeline. The apiKey is the raw bearer credential.
	Complete(ctx context.Context, apiKey string, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

// ForbiddenError reports a request blocked before the provider call by a
// disabled entity in the agent's chain.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// IsForbidden reports whether err is an admission failure.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
