package provider

import (
	"context"
	"fmt"
	"strings"

	"chatdesk/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicBackend talks to the Messages API. Thinking deltas are reported as
// reasoning.
type AnthropicBackend struct {
	client     *anthropic.Client
	providerID string
	baseURL    string
}

// NewAnthropicBackend creates a backend for an anthropic descriptor.
//
// Parameters:
//   - p.BaseURL: the API endpoint. If empty, defaults to "https://api.anthropic.com".
//   - p.APIKey: required.
//
// Extra request options are appended after the defaults.
func NewAnthropicBackend(p model.Provider, opts ...option.RequestOption) (*AnthropicBackend, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = APITypeAnthropic.DefaultBaseURL()
	}
	if p.APIKey == "" {
		return nil, fmt.Errorf("provider %s: Anthropic API key is required", p.ID)
	}

	requestOpts := append([]option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(p.APIKey),
	}, opts...)
	client := anthropic.NewClient(requestOpts...)

	return &AnthropicBackend{
		client:     &client,
		providerID: p.ID,
		baseURL:    baseURL,
	}, nil
}

func (b *AnthropicBackend) params(messages []model.ChatMessage, modelID string, opts model.GenerateOptions) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := convertToAnthropicMessages(messages)

	maxTokens := int64(anthropicDefaultMaxTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		Messages:  anthropicMessages,
		MaxTokens: maxTokens, // Required by Anthropic API
	}
	if len(systemPrompt) > 0 {
		params.System = systemPrompt
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	return params
}

func (b *AnthropicBackend) StreamCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	stream := b.client.Messages.NewStreaming(ctx, b.params(messages, modelID, opts))
	return newSDKStream(stream, "Anthropic streaming", translateAnthropicEvent), nil
}

func translateAnthropicEvent(event anthropic.MessageStreamEventUnion) model.Delta {
	blockDelta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		return model.Delta{}
	}
	switch delta := blockDelta.Delta.AsAny().(type) {
	case anthropic.TextDelta:
		return model.Delta{Content: delta.Text}
	case anthropic.ThinkingDelta:
		return model.Delta{Reasoning: delta.Thinking}
	default:
		return model.Delta{}
	}
}

func (b *AnthropicBackend) Completion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	msg, err := b.client.Messages.New(ctx, b.params(messages, modelID, opts))
	if err != nil {
		return nil, classifyError("Anthropic completion", err)
	}

	var content, reasoning strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(variant.Text)
		case anthropic.ThinkingBlock:
			reasoning.WriteString(variant.Thinking)
		}
	}

	return &model.Response{
		Content:      content.String(),
		Reasoning:    reasoning.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// anthropicModels is the curated list offered for Anthropic providers.
var anthropicModels = []struct {
	id            anthropic.Model
	name          string
	contextLength int
	maxTokens     int
}{
	{anthropic.ModelClaudeSonnet4_5_20250929, "Claude Sonnet 4.5", 200000, 64000},
	{anthropic.ModelClaude3_5Haiku20241022, "Claude 3.5 Haiku", 200000, 8192},
	{anthropic.ModelClaude_3_Opus_20240229, "Claude 3 Opus", 200000, 4096},
	{anthropic.ModelClaude_3_Haiku_20240307, "Claude 3 Haiku", 200000, 4096},
}

func (b *AnthropicBackend) ListModels(ctx context.Context) ([]model.ModelMeta, error) {
	result := make([]model.ModelMeta, 0, len(anthropicModels))
	for _, m := range anthropicModels {
		result = append(result, model.ModelMeta{
			ID:            string(m.id),
			Name:          m.name,
			Group:         "Claude",
			ProviderID:    b.providerID,
			ContextLength: m.contextLength,
			MaxTokens:     m.maxTokens,
		})
	}
	return result, nil
}

// Check sends a one-token request, since listing models needs no credentials.
func (b *AnthropicBackend) Check(ctx context.Context) model.CheckResult {
	_, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5Haiku20241022,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return model.CheckResult{OK: false, ErrorMessage: err.Error()}
	}
	return model.CheckResult{OK: true}
}

func convertToAnthropicMessages(messages []model.ChatMessage) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var systemBlocks []anthropic.TextBlockParam
	anthropicMsgs := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{
				Text: msg.Content,
			})

		case model.RoleAssistant:
			anthropicMsgs = append(anthropicMsgs,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)),
			)

		default:
			anthropicMsgs = append(anthropicMsgs,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)),
			)
		}
	}

	return anthropicMsgs, systemBlocks
}
