package provider

import (
	"context"
	"fmt"

	"chatdesk/model"
	"chatdesk/ollama"

	"github.com/ollama/ollama/api"
)

// OllamaBackend wraps ollama.Client for a local runtime. Ollama's callback
// based chat API is exposed as a pull stream.
type OllamaBackend struct {
	client     *ollama.Client
	providerID string
}

// NewOllamaBackend creates a backend for an ollama descriptor.
//
// BaseURL defaults to "http://localhost:11434". No API key is used.
//
// Example:
//
//	backend, err := NewOllamaBackend(model.Provider{ID: "ollama", APIType: "ollama"})
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewOllamaBackend(p model.Provider) (*OllamaBackend, error) {
	client, err := ollama.NewClient(p.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &OllamaBackend{
		client:     client,
		providerID: p.ID,
	}, nil
}

func chatOptions(opts model.GenerateOptions) ollama.ChatOptions {
	return ollama.ChatOptions{
		Temperature: opts.Temperature,
		NumPredict:  opts.MaxTokens,
	}
}

func (b *OllamaBackend) StreamCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	ollamaMessages := ConvertToOllamaMessages(messages)

	return newCallbackStream(ctx, func(ctx context.Context, emit func(model.Delta) error) error {
		err := b.client.Chat(ctx, modelID, ollamaMessages, chatOptions(opts), true, func(resp api.ChatResponse) error {
			return emit(model.Delta{
				Content:   resp.Message.Content,
				Reasoning: resp.Message.Thinking,
			})
		})
		return classifyError("Ollama streaming", err)
	}), nil
}

func (b *OllamaBackend) Completion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	var result model.Response
	err := b.client.Chat(ctx, modelID, ConvertToOllamaMessages(messages), chatOptions(opts), false, func(resp api.ChatResponse) error {
		result.Content += resp.Message.Content
		result.Reasoning += resp.Message.Thinking
		if resp.Done {
			result.InputTokens = resp.PromptEvalCount
			result.OutputTokens = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, classifyError("Ollama completion", err)
	}
	return &result, nil
}

func (b *OllamaBackend) ListModels(ctx context.Context) ([]model.ModelMeta, error) {
	models, err := b.client.ListModels(ctx)
	if err != nil {
		return nil, classifyError("list Ollama models", err)
	}

	result := make([]model.ModelMeta, 0, len(models))
	for _, m := range models {
		group := m.Family
		if group == "" {
			group = "local"
		}
		result = append(result, model.ModelMeta{
			ID:         m.Name,
			Name:       m.Name,
			Group:      group,
			ProviderID: b.providerID,
		})
	}
	return result, nil
}

func (b *OllamaBackend) Check(ctx context.Context) model.CheckResult {
	if err := b.client.Ping(ctx); err != nil {
		return model.CheckResult{OK: false, ErrorMessage: fmt.Sprintf("Ollama server not reachable at %s: %v", b.client.BaseURL(), err)}
	}
	return model.CheckResult{OK: true}
}
