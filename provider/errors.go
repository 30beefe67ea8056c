package provider

import (
	"context"
	"errors"
	"fmt"

	"chatdesk/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// classifyError wraps err with ErrProvider when the backend answered with an
// API error and ErrTransport otherwise. Cancellation is passed through as is.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, model.ErrProvider) || errors.Is(err, model.ErrTransport) {
		return err
	}

	var openaiErr *openai.Error
	var anthropicErr *anthropic.Error
	var statusErr api.StatusError
	switch {
	case errors.As(err, &openaiErr), errors.As(err, &anthropicErr), errors.As(err, &statusErr):
		return fmt.Errorf("%w: %s: %w", model.ErrProvider, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", model.ErrTransport, op, err)
	}
}
