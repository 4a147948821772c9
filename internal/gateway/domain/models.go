package domain

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// ChatCompletionRequest is the provider-compatible request shape.
type ChatCompletionRequest struct {
	Model       string    `json:"model" binding:"required"`
	Messages    []Message `json:"messages" binding:"required,min=1"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Extension is additive billing metadata. Clients that ignore unknown
// fields keep working against the provider-compatible core shape.
type Extension struct {
	CreditsCharged int64  `json:"credits_charged"`
	LatencyMs      int64  `json:"latency_ms"`
	RequestID      string `json:"request_id"`
}

// ChatCompletionResponse is the success shape of the gateway endpoint.
type ChatCompletionResponse struct {
	ID        string    `json:"id"`
	Object    string    `json:"object"`
	Created   int64     `json:"created"`
	Model     string    `json:"model"`
	Choices   []Choice  `json:"choices"`
	Usage     Usage     `json:"usage"`
	Extension Extension `json:"extension"`
}
