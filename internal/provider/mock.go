package provider

import (
	"context"
	"fmt"
)

const mockName = "mock"

type mockProvider struct{}

// NewMock returns a deterministic in-process Provider for development and
// tests. Token counts derive from message length: input is one token per
// four characters (minimum 10), output is twice the input.
func NewMock() Provider { return mockProvider{} }

func (mockProvider) Name() string { return mockName }

func (mockProvider) Complete(_ context.Context, req Request) (*Response, error) {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}

	inputTokens := chars / 4
	if inputTokens < 10 {
		inputTokens = 10
	}

	return &Response{
		Content:      fmt.Sprintf("mock response from %s", req.Model),
		FinishReason: "stop",
		InputTokens:  inputTokens,
		OutputTokens: inputTokens * 2,
	}, nil
}
