package testutil

import "chatdesk/model"

func TestMessages() []model.ChatMessage {
	return []model.ChatMessage{
		{Role: model.RoleUser, Content: "Hello, how are you?"},
		{Role: model.RoleAssistant, Content: "I'm doing well, thank you!"},
		{Role: model.RoleUser, Content: "Can you help me with a task?"},
	}
}

func SingleUserMessage(content string) []model.ChatMessage {
	return []model.ChatMessage{{Role: model.RoleUser, Content: content}}
}

// TestProvider returns an enabled descriptor with the given id and api type.
func TestProvider(id, apiType string) model.Provider {
	return model.Provider{
		ID:      id,
		Name:    id,
		APIType: apiType,
		APIKey:  "test-key",
		BaseURL: "http://localhost:0",
		Enabled: true,
	}
}

// BackendFactory returns a factory that hands out the same mock for every
// descriptor, for use with provider.WithBackendFactory.
func BackendFactory(mock *MockBackend) func(model.Provider) (model.Backend, error) {
	return func(model.Provider) (model.Backend, error) {
		return mock, nil
	}
}
