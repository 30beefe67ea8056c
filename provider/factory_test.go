package provider

import (
	"errors"
	"testing"

	"chatdesk/model"
)

func TestNewBackend(t *testing.T) {
	tests := []struct {
		name        string
		descriptor  model.Provider
		expectError error
		expectType  string
	}{
		{
			name:       "ollama with defaults",
			descriptor: model.Provider{ID: "ollama", APIType: "ollama"},
			expectType: "*provider.OllamaBackend",
		},
		{
			name:       "openai",
			descriptor: model.Provider{ID: "openai", APIType: "openai", APIKey: "test-key"},
			expectType: "*provider.OpenAIBackend",
		},
		{
			name:       "deepseek uses the openai backend",
			descriptor: model.Provider{ID: "deepseek", APIType: "deepseek", APIKey: "test-key"},
			expectType: "*provider.OpenAIBackend",
		},
		{
			name:       "openai-compatible without key",
			descriptor: model.Provider{ID: "doubao", APIType: "openai-compatible", BaseURL: "https://example.invalid/v3"},
			expectType: "*provider.OpenAIBackend",
		},
		{
			name:       "anthropic",
			descriptor: model.Provider{ID: "anthropic", APIType: "anthropic", APIKey: "test-key"},
			expectType: "*provider.AnthropicBackend",
		},
		{
			name:        "unknown api type",
			descriptor:  model.Provider{ID: "gemini", APIType: "gemini"},
			expectError: model.ErrProviderUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := NewBackend(tt.descriptor)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected %v, got %v", tt.expectError, err)
				}
				if backend != nil {
					t.Error("expected nil backend on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var _ model.Backend = backend
			if got := typeName(backend); got != tt.expectType {
				t.Errorf("expected %s, got %s", tt.expectType, got)
			}
		})
	}
}

func TestNewBackendRequiresKeys(t *testing.T) {
	tests := []model.Provider{
		{ID: "openai", APIType: "openai"},
		{ID: "deepseek", APIType: "deepseek"},
		{ID: "anthropic", APIType: "anthropic"},
		{ID: "compat", APIType: "openai-compatible"}, // no base URL
	}

	for _, p := range tests {
		t.Run(p.ID, func(t *testing.T) {
			if _, err := NewBackend(p); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewOllamaBackendInvalidURL(t *testing.T) {
	_, err := NewBackend(model.Provider{ID: "ollama", APIType: "ollama", BaseURL: "not a url"})
	if err == nil {
		t.Error("expected error for invalid base URL")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *OllamaBackend:
		return "*provider.OllamaBackend"
	case *OpenAIBackend:
		return "*provider.OpenAIBackend"
	case *AnthropicBackend:
		return "*provider.AnthropicBackend"
	default:
		return "unknown"
	}
}
