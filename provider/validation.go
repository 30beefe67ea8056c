package provider

import (
	"errors"
	"fmt"
	"net/url"

	"chatdesk/model"
)

// CheckDescriptor reports configuration problems in a provider descriptor
// that would make every call to it fail.
func CheckDescriptor(p model.Provider) error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, errors.New("provider id is required"))
	}

	apiType := APIType(p.APIType)
	if !apiType.Supported() {
		errs = append(errs, fmt.Errorf("%w: %q", model.ErrProviderUnsupported, p.APIType))
	}

	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid base URL %q", p.BaseURL))
		}
	} else if apiType == APITypeOpenAICompatible {
		errs = append(errs, errors.New("base URL is required for openai-compatible providers"))
	}

	if p.Enabled && p.APIKey == "" {
		switch apiType {
		case APITypeOpenAI, APITypeDeepSeek, APITypeAnthropic:
			errs = append(errs, errors.New("API key is required"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("provider %s: %w", p.ID, errors.Join(errs...))
}
