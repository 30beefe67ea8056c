package model

import "context"

// Provider describes one configured backend. A descriptor is immutable once
// handed to the registry; changing any field means replacing the descriptor.
type Provider struct {
	ID      string `json:"id" toml:"id" yaml:"id"`
	Name    string `json:"name" toml:"name" yaml:"name"`
	APIType string `json:"apiType" toml:"api_type" yaml:"apiType"`
	APIKey  string `json:"apiKey,omitempty" toml:"api_key,omitempty" yaml:"-"`
	BaseURL string `json:"baseUrl" toml:"base_url" yaml:"baseUrl"`
	Enabled bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Custom  bool   `json:"custom,omitempty" toml:"custom,omitempty" yaml:"custom,omitempty"`
}

// ModelMeta describes a model offered by a provider. IDs are unique within a provider.
type ModelMeta struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Group         string `json:"group" yaml:"group"`
	ProviderID    string `json:"providerId" yaml:"providerId"`
	ContextLength int    `json:"contextLength" yaml:"contextLength"`
	MaxTokens     int    `json:"maxTokens" yaml:"maxTokens"`
	IsCustom      bool   `json:"isCustom" yaml:"isCustom"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ModelUpdate is a partial update for a custom model. Nil fields are left untouched.
type ModelUpdate struct {
	Name          *string `json:"name,omitempty"`
	Group         *string `json:"group,omitempty"`
	ContextLength *int    `json:"contextLength,omitempty"`
	MaxTokens     *int    `json:"maxTokens,omitempty"`
	Description   *string `json:"description,omitempty"`
}

// Apply returns m with the non-nil fields of u applied.
func (u ModelUpdate) Apply(m ModelMeta) ModelMeta {
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.Group != nil {
		m.Group = *u.Group
	}
	if u.ContextLength != nil {
		m.ContextLength = *u.ContextLength
	}
	if u.MaxTokens != nil {
		m.MaxTokens = *u.MaxTokens
	}
	if u.Description != nil {
		m.Description = *u.Description
	}
	return m
}

// GenerateOptions carries the optional sampling parameters of a request.
// A nil Temperature and a zero MaxTokens mean "backend default".
type GenerateOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Temperature is a helper for building GenerateOptions inline.
func Temperature(t float64) *float64 {
	return &t
}

// Response is the result of a non-streaming completion.
type Response struct {
	Content      string `json:"content"`
	Reasoning    string `json:"reasoning,omitempty"`
	InputTokens  int    `json:"inputTokens,omitempty"`
	OutputTokens int    `json:"outputTokens,omitempty"`
}

// CheckResult is the outcome of a connectivity probe.
type CheckResult struct {
	OK           bool   `json:"ok"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Backend is the capability every backend family implements.
//
// This interface is defined in the model package (not provider package) to avoid
// import cycles: the orchestrator, catalog and test helpers depend on it without
// importing the concrete SDK-backed implementations.
type Backend interface {
	// ListModels returns the models the backend advertises.
	ListModels(ctx context.Context) ([]ModelMeta, error)

	// StreamCompletion opens a streaming chat completion. The returned stream
	// yields partial deltas until the backend signals completion. Cancelling ctx
	// ends the stream.
	StreamCompletion(ctx context.Context, messages []ChatMessage, modelID string, opts GenerateOptions) (DeltaStream, error)

	// Completion is the non-streaming equivalent of StreamCompletion.
	Completion(ctx context.Context, messages []ChatMessage, modelID string, opts GenerateOptions) (*Response, error)

	// Check probes reachability and credentials. It never returns an error;
	// failures are reported in the result.
	Check(ctx context.Context) CheckResult
}
