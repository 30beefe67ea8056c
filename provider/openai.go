package provider

import (
	"context"
	"errors"
	"fmt"

	"chatdesk/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

// OpenAIBackend serves every OpenAI-compatible API type: openai, deepseek and
// openai-compatible. Reasoning deltas are read from the "reasoning_content"
// field that DeepSeek-style servers add to each chunk.
type OpenAIBackend struct {
	client     openai.Client
	providerID string
	apiType    APIType
	baseURL    string
}

// NewOpenAIBackend creates a backend for an OpenAI-compatible descriptor.
//
// BaseURL falls back to the API type's default endpoint. The openai and
// deepseek types require an API key; openai-compatible servers such as local
// gateways may run without one but must name their BaseURL.
//
// Extra request options are appended after the defaults, which lets tests
// point the client at an httptest server:
//
//	backend, err := NewOpenAIBackend(desc, option.WithHTTPClient(srv.Client()))
func NewOpenAIBackend(p model.Provider, opts ...option.RequestOption) (*OpenAIBackend, error) {
	apiType := APIType(p.APIType)
	if apiType == "" {
		apiType = APITypeOpenAI
	}

	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = apiType.DefaultBaseURL()
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: base URL is required", p.ID)
	}
	if p.APIKey == "" && apiType != APITypeOpenAICompatible {
		return nil, fmt.Errorf("provider %s: API key is required", p.ID)
	}

	requestOpts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if p.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(p.APIKey))
	}
	requestOpts = append(requestOpts, opts...)

	return &OpenAIBackend{
		client:     openai.NewClient(requestOpts...),
		providerID: p.ID,
		apiType:    apiType,
		baseURL:    baseURL,
	}, nil
}

func (b *OpenAIBackend) params(messages []model.ChatMessage, modelID string, opts model.GenerateOptions) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(messages),
		Model:    openai.ChatModel(modelID),
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	return params
}

func (b *OpenAIBackend) StreamCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	stream := b.client.Chat.Completions.NewStreaming(ctx, b.params(messages, modelID, opts))
	return newSDKStream(stream, "OpenAI streaming", translateOpenAIChunk), nil
}

func translateOpenAIChunk(chunk openai.ChatCompletionChunk) model.Delta {
	if len(chunk.Choices) == 0 {
		return model.Delta{}
	}
	delta := chunk.Choices[0].Delta
	return model.Delta{
		Content:   delta.Content,
		Reasoning: reasoningContent(delta.RawJSON()),
	}
}

// reasoningContent extracts the vendor reasoning field from a raw message or
// delta object.
func reasoningContent(raw string) string {
	if raw == "" {
		return ""
	}
	if r := gjson.Get(raw, "reasoning_content"); r.Exists() {
		return r.String()
	}
	return gjson.Get(raw, "reasoning").String()
}

func (b *OpenAIBackend) Completion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	resp, err := b.client.Chat.Completions.New(ctx, b.params(messages, modelID, opts))
	if err != nil {
		return nil, classifyError("OpenAI completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: OpenAI completion returned no choices", model.ErrProvider)
	}

	msg := resp.Choices[0].Message
	return &model.Response{
		Content:      msg.Content,
		Reasoning:    reasoningContent(msg.RawJSON()),
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (b *OpenAIBackend) ListModels(ctx context.Context) ([]model.ModelMeta, error) {
	page, err := b.client.Models.List(ctx)
	if err != nil {
		return nil, classifyError("list OpenAI models", err)
	}

	result := make([]model.ModelMeta, 0, len(page.Data))
	for _, m := range page.Data {
		group := m.OwnedBy
		if group == "" {
			group = "default"
		}
		result = append(result, model.ModelMeta{
			ID:         m.ID,
			Name:       m.ID,
			Group:      group,
			ProviderID: b.providerID,
		})
	}

	return result, nil
}

func (b *OpenAIBackend) Check(ctx context.Context) model.CheckResult {
	if _, err := b.client.Models.List(ctx); err != nil {
		msg := err.Error()
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg = fmt.Sprintf("%d %s", apiErr.StatusCode, apiErr.Message)
		}
		return model.CheckResult{OK: false, ErrorMessage: msg}
	}
	return model.CheckResult{OK: true}
}
