package provider

import (
	"fmt"

	"chatdesk/model"
)

// BackendFactory builds a backend for a descriptor. The registry uses
// NewBackend unless a different factory is supplied.
type BackendFactory func(p model.Provider) (model.Backend, error)

// NewBackend dispatches on the descriptor's APIType. Unknown types fail with
// model.ErrProviderUnsupported.
func NewBackend(p model.Provider) (model.Backend, error) {
	switch APIType(p.APIType) {
	case APITypeOpenAI, APITypeDeepSeek, APITypeOpenAICompatible:
		return NewOpenAIBackend(p)
	case APITypeAnthropic:
		return NewAnthropicBackend(p)
	case APITypeOllama:
		return NewOllamaBackend(p)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrProviderUnsupported, p.APIType)
	}
}
