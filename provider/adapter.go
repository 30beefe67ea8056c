package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"chatdesk/model"

	"github.com/mattn/go-runewidth"
)

var (
	ErrCustomModelExists   = errors.New("custom model already exists")
	ErrCustomModelNotFound = errors.New("custom model not found")
	ErrInvalidModelID      = errors.New("model id is required")
)

const (
	customModelGroup = "custom"
	maxTitleWidth    = 40
	maxSuggestions   = 5
)

const (
	summaryPrompt = "Summarize the following text concisely, keeping the key facts:\n\n"

	suggestionsPrompt = "Based on the conversation below, suggest three short follow-up questions the user might ask next. " +
		"Reply with one question per line and nothing else.\n\n"

	titlePrompt = "Summarize the conversation above as a short title of at most ten words. " +
		"Reply with the title only, without quotes or punctuation at the end."
)

// Adapter is the capability set the rest of the application uses for one
// provider. It wraps the family-specific backend and adds the auxiliary
// generation helpers and the custom model list, which behave the same for
// every family.
type Adapter struct {
	descriptor model.Provider
	backend    model.Backend

	mu     sync.RWMutex
	custom []model.ModelMeta
}

func NewAdapter(descriptor model.Provider, backend model.Backend) *Adapter {
	return &Adapter{
		descriptor: descriptor,
		backend:    backend,
	}
}

// Provider returns the descriptor the adapter was built from.
func (a *Adapter) Provider() model.Provider {
	return a.descriptor
}

func (a *Adapter) ID() string {
	return a.descriptor.ID
}

func (a *Adapter) Backend() model.Backend {
	return a.backend
}

// ListModels fetches the backend's models and fills context and output
// limits from the known model table where the backend left them empty.
func (a *Adapter) ListModels(ctx context.Context) ([]model.ModelMeta, error) {
	models, err := a.backend.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		models[i].ProviderID = a.descriptor.ID
		if cfg, ok := LookupModelConfig(models[i].ID); ok {
			if models[i].MaxTokens == 0 {
				models[i].MaxTokens = cfg.MaxTokens
			}
			if models[i].ContextLength == 0 {
				models[i].ContextLength = cfg.ContextLength
			}
		}
	}
	return models, nil
}

func (a *Adapter) StreamCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	return a.backend.StreamCompletion(ctx, messages, modelID, opts)
}

func (a *Adapter) Completion(ctx context.Context, messages []model.ChatMessage, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	return a.backend.Completion(ctx, messages, modelID, opts)
}

func (a *Adapter) Check(ctx context.Context) model.CheckResult {
	return a.backend.Check(ctx)
}

func userPrompt(content string) []model.ChatMessage {
	return []model.ChatMessage{{Role: model.RoleUser, Content: content}}
}

// StreamSummary streams a summary of text.
func (a *Adapter) StreamSummary(ctx context.Context, text, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	return a.backend.StreamCompletion(ctx, userPrompt(summaryPrompt+text), modelID, opts)
}

// Summary is the non-streaming form of StreamSummary.
func (a *Adapter) Summary(ctx context.Context, text, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	return a.backend.Completion(ctx, userPrompt(summaryPrompt+text), modelID, opts)
}

// StreamText streams a free-form completion of prompt.
func (a *Adapter) StreamText(ctx context.Context, prompt, modelID string, opts model.GenerateOptions) (model.DeltaStream, error) {
	return a.backend.StreamCompletion(ctx, userPrompt(prompt), modelID, opts)
}

func (a *Adapter) GenerateText(ctx context.Context, prompt, modelID string, opts model.GenerateOptions) (*model.Response, error) {
	return a.backend.Completion(ctx, userPrompt(prompt), modelID, opts)
}

// Suggestions asks for follow-up questions to conversationContext and
// returns them one per entry.
func (a *Adapter) Suggestions(ctx context.Context, conversationContext, modelID string, opts model.GenerateOptions) ([]string, error) {
	resp, err := a.backend.Completion(ctx, userPrompt(suggestionsPrompt+conversationContext), modelID, opts)
	if err != nil {
		return nil, err
	}
	return ParseSuggestions(resp.Content), nil
}

// SummaryTitle produces a short conversation title from messages.
func (a *Adapter) SummaryTitle(ctx context.Context, messages []model.ChatMessage, modelID string) (string, error) {
	prompt := make([]model.ChatMessage, 0, len(messages)+1)
	prompt = append(prompt, messages...)
	prompt = append(prompt, model.ChatMessage{Role: model.RoleUser, Content: titlePrompt})

	resp, err := a.backend.Completion(ctx, prompt, modelID, model.GenerateOptions{MaxTokens: 64})
	if err != nil {
		return "", err
	}
	title := CleanTitle(resp.Content)
	if title == "" {
		return "", fmt.Errorf("%w: empty title", model.ErrProvider)
	}
	return title, nil
}

var listMarker = regexp.MustCompile(`^(\d+[.)]|[-*•])\s*`)

// ParseSuggestions splits a model reply into individual suggestions,
// dropping list markers and blank lines.
func ParseSuggestions(content string) []string {
	var result []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		result = append(result, line)
		if len(result) == maxSuggestions {
			break
		}
	}
	return result
}

// CleanTitle keeps the first non-empty line of a model reply, strips quotes
// and a leading "Title:" label, and truncates it to fit a sidebar.
func CleanTitle(content string) string {
	var title string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = line
			break
		}
	}
	if len(title) >= 6 && strings.EqualFold(title[:6], "title:") {
		title = strings.TrimSpace(title[6:])
	}
	title = strings.TrimRight(title, ".。")
	title = strings.Trim(title, "\"'`“”‘’")
	title = strings.TrimSpace(strings.TrimRight(title, ".。"))
	return runewidth.Truncate(title, maxTitleWidth, "…")
}

// AddCustomModel registers a user-defined model. The model is marked custom
// and belongs to this provider regardless of the fields passed in.
func (a *Adapter) AddCustomModel(m model.ModelMeta) (model.ModelMeta, error) {
	if strings.TrimSpace(m.ID) == "" {
		return model.ModelMeta{}, ErrInvalidModelID
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, existing := range a.custom {
		if existing.ID == m.ID {
			return model.ModelMeta{}, fmt.Errorf("%w: %s", ErrCustomModelExists, m.ID)
		}
	}

	m.ProviderID = a.descriptor.ID
	m.IsCustom = true
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.Group == "" {
		m.Group = customModelGroup
	}
	a.custom = append(a.custom, m)
	return m, nil
}

// RemoveCustomModel reports whether a model was removed.
func (a *Adapter) RemoveCustomModel(modelID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, m := range a.custom {
		if m.ID == modelID {
			a.custom = append(a.custom[:i], a.custom[i+1:]...)
			return true
		}
	}
	return false
}

func (a *Adapter) UpdateCustomModel(modelID string, update model.ModelUpdate) (model.ModelMeta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, m := range a.custom {
		if m.ID == modelID {
			a.custom[i] = update.Apply(m)
			return a.custom[i], nil
		}
	}
	return model.ModelMeta{}, fmt.Errorf("%w: %s", ErrCustomModelNotFound, modelID)
}

// CustomModels returns a copy of the custom model list.
func (a *Adapter) CustomModels() []model.ModelMeta {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]model.ModelMeta, len(a.custom))
	copy(result, a.custom)
	return result
}

// SetCustomModels replaces the custom list, typically with the list loaded
// from storage when the adapter is created.
func (a *Adapter) SetCustomModels(models []model.ModelMeta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.custom = make([]model.ModelMeta, 0, len(models))
	for _, m := range models {
		m.ProviderID = a.descriptor.ID
		m.IsCustom = true
		a.custom = append(a.custom, m)
	}
}
