package config

import "fmt"

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: GetDefaultDataDir(),
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Stream:    StreamConfig{MaxConcurrent: DefaultMaxConcurrentStreams},
		Chat:      ChatConfig{ContextMessages: DefaultContextMessages},
		Providers: DefaultProviders(),
	}
}

// DefaultProviders is the provider table written into a fresh config.toml.
// Every entry starts disabled.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{ID: "ollama", Name: "Ollama", APIType: "ollama", BaseURL: "http://localhost:11434"},
		{ID: "deepseek", Name: "Deepseek", APIType: "deepseek", BaseURL: "https://api.deepseek.com/v1"},
		{ID: "doubao", Name: "Doubao", APIType: "openai-compatible", BaseURL: "https://ark.cn-beijing.volces.com/api/v3"},
		{ID: "openai", Name: "OpenAI", APIType: "openai", BaseURL: "https://api.openai.com/v1"},
		{ID: "anthropic", Name: "Anthropic", APIType: "anthropic", BaseURL: "https://api.anthropic.com"},
		{ID: "github", Name: "GitHub Models", APIType: "openai", BaseURL: "https://models.inference.ai.azure.com"},
		{ID: "moonshot", Name: "Moonshot", APIType: "openai", BaseURL: "https://api.moonshot.cn/v1"},
	}
}

func GenerateSystemConfigTemplate() string {
	return fmt.Sprintf(`# chatdesk System Configuration
# Location: %s
# This file uses TOML format: https://toml.io

# Directory where conversations, model lists and user config are stored
data_directory = %q
`, GetSettingsFilePath(), GetDefaultDataDir())
}
