package provider

import "strings"

// ModelConfig holds known defaults for a model family.
type ModelConfig struct {
	ID            string
	Name          string
	Temperature   float64
	MaxTokens     int
	ContextLength int
	Vision        bool
	// Match lists the substrings that must all appear in a lowercased model id.
	Match []string
}

// defaultModelConfigs is checked in order; more specific entries come first.
var defaultModelConfigs = []ModelConfig{
	{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", Temperature: 0.6, MaxTokens: 8192, ContextLength: 65536, Match: []string{"deepseek", "reasoner"}},
	{ID: "deepseek-chat", Name: "DeepSeek chat", Temperature: 0.6, MaxTokens: 8192, ContextLength: 65536, Match: []string{"deepseek", "chat"}},
	{ID: "deepseek-r1", Name: "DeepSeek R1", Temperature: 0.6, MaxTokens: 8192, ContextLength: 65536, Match: []string{"deepseek", "r1"}},
	{ID: "deepseek-v3", Name: "DeepSeek V3", Temperature: 0.6, MaxTokens: 8192, ContextLength: 65536, Match: []string{"deepseek", "v3"}},
	{ID: "deepseek-v2.5", Name: "DeepSeek V2.5", Temperature: 0.6, MaxTokens: 4096, ContextLength: 32768, Match: []string{"deepseek", "v2.5"}},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Temperature: 0.7, MaxTokens: 16384, ContextLength: 128000, Vision: true, Match: []string{"gpt-4o", "mini"}},
	{ID: "gpt-4o", Name: "GPT-4o", Temperature: 0.7, MaxTokens: 16384, ContextLength: 128000, Vision: true, Match: []string{"gpt-4o"}},
}

// LookupModelConfig returns the first known configuration whose match tokens
// all occur in modelID.
func LookupModelConfig(modelID string) (ModelConfig, bool) {
	id := strings.ToLower(modelID)
	for _, cfg := range defaultModelConfigs {
		if matchesAll(id, cfg.Match) {
			return cfg, true
		}
	}
	return ModelConfig{}, false
}

func matchesAll(id string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, token := range tokens {
		if !strings.Contains(id, token) {
			return false
		}
	}
	return true
}
