// Package provider adapts upstream model APIs to one completion shape.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-neutral completion request.
type Request struct {
	Model           string
	Messages        []Message
	MaxOutputTokens int
	Temperature     *float64
}

// Response is the provider-neutral completion result. Token counts come
// from the upstream usage block and drive pricing.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Provider executes one completion against an upstream model API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

var ErrUnknownModel = errors.New("unknown_model")

// Error wraps an upstream failure so callers can tell a provider outage
// apart from their own mistakes.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

// IsProviderError reports whether err originated upstream.
func IsProviderError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
