package provider

import (
	"log/slog"

	"chatdesk/config"
)

// NewRegistryFromConfig builds a registry with the configured descriptors.
// Descriptors with problems are kept, so they still show up in listings,
// and a warning is logged for each enabled one.
func NewRegistryFromConfig(cfg *config.Config, opts ...RegistryOption) *Registry {
	descriptors := cfg.Descriptors()
	r := NewRegistry(append(opts, WithProviders(descriptors))...)

	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		if err := CheckDescriptor(d); err != nil {
			r.logger.Warn("provider misconfigured", slog.String("provider", d.ID), config.ErrAttr(err))
		}
	}

	return r
}
