package events

// Topic names published on the bus.
const (
	TopicStreamResponse = "stream.response"
	TopicStreamEnd      = "stream.end"
	TopicStreamError    = "stream.error"

	TopicProviderChanged    = "config.providerChanged"
	TopicModelStatusChanged = "config.modelStatusChanged"
	TopicModelListChanged   = "config.modelListChanged"

	TopicMessageEdited       = "conversation.messageEdited"
	TopicConversationCleared = "conversation.cleared"
)

// StreamTopics lists every topic a session publishes on.
var StreamTopics = []string{TopicStreamResponse, TopicStreamEnd, TopicStreamError}

// StreamResponse carries one delta of a session. Only the newly produced
// text is included.
type StreamResponse struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// StreamEnd is published exactly once when a session completes or is stopped.
type StreamEnd struct {
	SessionID   string `json:"sessionId"`
	UserStopped bool   `json:"userStopped"`
}

// StreamError is published exactly once when a session fails.
type StreamError struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

type ProviderChanged struct {
	ProviderIDs []string `json:"providerIds"`
}

type ModelStatusChanged struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
	Enabled    bool   `json:"enabled"`
}

type ModelListChanged struct {
	ProviderID string `json:"providerId"`
}

type MessageEdited struct {
	MessageID string `json:"messageId"`
}

type ConversationCleared struct {
	ConversationID string `json:"conversationId"`
}
