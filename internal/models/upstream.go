package models

// ChatMessage is one entry of a chat-completion conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// UpstreamPayload is the chat-completion request body sent to DeepSeek.
type UpstreamPayload struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []ChatMessage `json:"messages"`
}

// UpstreamResponse is the subset of the provider response the relay reads.
type UpstreamResponse struct {
	ID      string           `json:"id,omitempty"`
	Model   string           `json:"model,omitempty"`
	Choices []UpstreamChoice `json:"choices"`
}

type UpstreamChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// UpstreamErrorBody is the provider's error envelope.
type UpstreamErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}
