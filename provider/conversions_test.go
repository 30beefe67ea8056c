package provider

import (
	"testing"

	"chatdesk/model"
	"chatdesk/provider/testutil"
)

func TestConvertToOllamaMessages(t *testing.T) {
	messages := testutil.TestMessages()

	result := ConvertToOllamaMessages(messages)

	if len(result) != len(messages) {
		t.Fatalf("expected %d messages, got %d", len(messages), len(result))
	}
	for i, msg := range result {
		if msg.Role != string(messages[i].Role) {
			t.Errorf("message %d: expected role %s, got %s", i, messages[i].Role, msg.Role)
		}
		if msg.Content != messages[i].Content {
			t.Errorf("message %d: expected content %q, got %q", i, messages[i].Content, msg.Content)
		}
	}
}

func TestOllamaMessagesRoundTrip(t *testing.T) {
	original := []model.ChatMessage{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "Hi"},
	}

	back := ConvertFromOllamaMessages(ConvertToOllamaMessages(original))

	for i := range original {
		if back[i] != original[i] {
			t.Errorf("message %d: expected %+v, got %+v", i, original[i], back[i])
		}
	}
}

func TestConvertToOpenAIMessages(t *testing.T) {
	messages := []model.ChatMessage{
		{Role: model.RoleSystem, Content: "system"},
		{Role: model.RoleUser, Content: "user"},
		{Role: model.RoleAssistant, Content: "assistant"},
	}

	result := ConvertToOpenAIMessages(messages)

	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	if result[0].OfSystem == nil {
		t.Error("expected first message to be a system message")
	}
	if result[1].OfUser == nil {
		t.Error("expected second message to be a user message")
	}
	if result[2].OfAssistant == nil {
		t.Error("expected third message to be an assistant message")
	}
}

func TestConvertToAnthropicMessages(t *testing.T) {
	messages := []model.ChatMessage{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "Hi"},
		{Role: model.RoleAssistant, Content: "Hello"},
	}

	msgs, system := convertToAnthropicMessages(messages)

	if len(system) != 1 || system[0].Text != "Be brief." {
		t.Errorf("expected one system block, got %+v", system)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("unexpected roles %s, %s", msgs[0].Role, msgs[1].Role)
	}
}
