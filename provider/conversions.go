package provider

import (
	"chatdesk/model"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

func ConvertToOllamaMessages(messages []model.ChatMessage) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return result
}

func ConvertFromOllamaMessages(messages []api.Message) []model.ChatMessage {
	result := make([]model.ChatMessage, len(messages))
	for i, msg := range messages {
		result[i] = model.ChatMessage{
			Role:    model.Role(msg.Role),
			Content: msg.Content,
		}
	}
	return result
}

func ConvertToOpenAIMessages(messages []model.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(msg.Content)
		case model.RoleAssistant:
			result[i] = openai.AssistantMessage(msg.Content)
		default:
			result[i] = openai.UserMessage(msg.Content)
		}
	}

	return result
}
