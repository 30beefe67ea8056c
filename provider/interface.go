package provider

// APIType selects the backend family used for a provider descriptor.
type APIType string

const (
	APITypeOpenAI           APIType = "openai"
	APITypeDeepSeek         APIType = "deepseek"
	APITypeOpenAICompatible APIType = "openai-compatible"
	APITypeAnthropic        APIType = "anthropic"
	APITypeOllama           APIType = "ollama"
)

// Supported reports whether NewBackend can build a backend for t.
func (t APIType) Supported() bool {
	switch t {
	case APITypeOpenAI, APITypeDeepSeek, APITypeOpenAICompatible, APITypeAnthropic, APITypeOllama:
		return true
	default:
		return false
	}
}

// DefaultBaseURL returns the endpoint used when a descriptor leaves BaseURL empty.
func (t APIType) DefaultBaseURL() string {
	switch t {
	case APITypeOpenAI:
		return "https://api.openai.com/v1"
	case APITypeDeepSeek:
		return "https://api.deepseek.com/v1"
	case APITypeAnthropic:
		return "https://api.anthropic.com"
	case APITypeOllama:
		return "http://localhost:11434"
	default:
		return ""
	}
}
