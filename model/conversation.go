package model

import "time"

// ConversationSummary is a listing entry for one conversation.
type ConversationSummary struct {
	ID           string    `json:"id" yaml:"id"`
	MessageCount int       `json:"messageCount" yaml:"messageCount"`
	FirstMessage string    `json:"firstMessage" yaml:"firstMessage"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updatedAt"`
}
