package model

import "time"

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks a message through generation.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
)

// ChatMessage is the provider-facing shape of one prior turn.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MessageMetadata is stored as JSON next to each message. Updates are merged
// key by key, so every field is omitted when zero.
type MessageMetadata struct {
	Model              string  `json:"model,omitempty" yaml:"model,omitempty"`
	Provider           string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	TotalTokens        int     `json:"totalTokens,omitempty" yaml:"totalTokens,omitempty"`
	InputTokens        int     `json:"inputTokens,omitempty" yaml:"inputTokens,omitempty"`
	OutputTokens       int     `json:"outputTokens,omitempty" yaml:"outputTokens,omitempty"`
	TokensPerSecond    float64 `json:"tokensPerSecond,omitempty" yaml:"tokensPerSecond,omitempty"`
	GenerationTime     int64   `json:"generationTime,omitempty" yaml:"generationTime,omitempty"`
	FirstTokenTime     int64   `json:"firstTokenTime,omitempty" yaml:"firstTokenTime,omitempty"`
	ReasoningStartTime int64   `json:"reasoningStartTime,omitempty" yaml:"reasoningStartTime,omitempty"`
	ReasoningEndTime   int64   `json:"reasoningEndTime,omitempty" yaml:"reasoningEndTime,omitempty"`
	Reasoning          string  `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Error              string  `json:"error,omitempty" yaml:"error,omitempty"`
	ContextEdge        bool    `json:"contextEdge,omitempty" yaml:"contextEdge,omitempty"`
}

// Message is one node of a conversation tree.
type Message struct {
	ID             string          `json:"id" yaml:"id"`
	ConversationID string          `json:"conversationId" yaml:"conversationId"`
	ParentID       string          `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Role           Role            `json:"role" yaml:"role"`
	Content        string          `json:"content" yaml:"content"`
	OrderSeq       int             `json:"orderSeq" yaml:"orderSeq"`
	CreatedAt      time.Time       `json:"createdAt" yaml:"createdAt"`
	Status         MessageStatus   `json:"status" yaml:"status"`
	IsVariant      bool            `json:"isVariant" yaml:"isVariant"`
	Metadata       MessageMetadata `json:"metadata" yaml:"metadata"`
}

// ChatMessage returns the provider-facing view of m.
func (m Message) ChatMessage() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}

// ToChatMessages converts a context window into provider input.
func ToChatMessages(messages []Message) []ChatMessage {
	result := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		result[i] = msg.ChatMessage()
	}
	return result
}
