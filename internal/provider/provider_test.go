package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNameForModel(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "openai"},
		{"gpt-4o-mini", "openai"},
		{"o1-preview", "openai"},
		{"o3-mini", "openai"},
		{"claude-3-haiku", "anthropic"},
		{"claude-sonnet-4", "anthropic"},
		{"mock-model", "mock"},
		{"Mock", "mock"},
	}
	for _, tc := range cases {
		got, err := NameForModel(tc.model)
		require.NoError(t, err, tc.model)
		require.Equal(t, tc.want, got, tc.model)
	}

	_, err := NameForModel("llama-70b")
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestMockTokenCounts(t *testing.T) {
	mock := NewMock()

	resp, err := mock.Complete(context.Background(), Request{
		Model:    "mock-model",
		Messages: []Message{{Role: "user", Content: strings.Repeat("a", 100)}},
	})
	require.NoError(t, err)
	require.Equal(t, 25, resp.InputTokens)
	require.Equal(t, 50, resp.OutputTokens)
	require.NotEmpty(t, resp.Content)

	// Short prompts floor at 10 input tokens.
	resp, err = mock.Complete(context.Background(), Request{
		Model:    "mock-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, 10, resp.InputTokens)
	require.Equal(t, 20, resp.OutputTokens)
}
