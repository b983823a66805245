package domain

import "time"

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation. Messages are never
// mutated after they are appended to a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Pinned reports whether the message is exempt from eviction.
func (m Message) Pinned() bool { return m.Role == RoleSystem }

// GenerationParams are the per-request generation settings owned by a
// conversation. Temperature is only changed between turns.
type GenerationParams struct {
	Model             string  `json:"model"`
	MaxResponseTokens int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	Stream            bool    `json:"stream"`
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}
