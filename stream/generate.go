package stream

import (
	"context"

	"chatdesk/model"
)

// The non-streaming calls below bypass session tracking and return backend
// errors to the caller.

func (o *Orchestrator) GenerateCompletion(ctx context.Context, providerID, modelID string, messages []model.ChatMessage, opts model.GenerateOptions) (string, error) {
	a, err := o.reg.Resolve(providerID)
	if err != nil {
		return "", err
	}
	resp, err := a.Completion(ctx, messages, modelID, opts)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (o *Orchestrator) GenerateSummary(ctx context.Context, providerID, modelID, text string, opts model.GenerateOptions) (string, error) {
	a, err := o.reg.Resolve(providerID)
	if err != nil {
		return "", err
	}
	resp, err := a.Summary(ctx, text, modelID, opts)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (o *Orchestrator) GenerateText(ctx context.Context, providerID, modelID, prompt string, opts model.GenerateOptions) (string, error) {
	a, err := o.reg.Resolve(providerID)
	if err != nil {
		return "", err
	}
	resp, err := a.GenerateText(ctx, prompt, modelID, opts)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (o *Orchestrator) GenerateSuggestions(ctx context.Context, providerID, modelID, conversationContext string, opts model.GenerateOptions) ([]string, error) {
	a, err := o.reg.Resolve(providerID)
	if err != nil {
		return nil, err
	}
	return a.Suggestions(ctx, conversationContext, modelID, opts)
}

// SummaryTitle asks the model for a short title for messages.
func (o *Orchestrator) SummaryTitle(ctx context.Context, providerID, modelID string, messages []model.ChatMessage) (string, error) {
	a, err := o.reg.Resolve(providerID)
	if err != nil {
		return "", err
	}
	return a.SummaryTitle(ctx, messages, modelID)
}

// Check probes a provider. Only resolution failures are returned as errors;
// connectivity problems are reported in the result.
func (o *Orchestrator) Check(ctx context.Context, providerID string) (model.CheckResult, error) {
	a, err := o.reg.Resolve(providerID)
	if err != nil {
		return model.CheckResult{}, err
	}
	return a.Check(ctx), nil
}
