// Package catalog keeps the model lists of every provider: remote models
// fetched from the backend, user-defined custom models and the per-model
// enabled flag.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"chatdesk/config"
	"chatdesk/events"
	"chatdesk/model"
	"chatdesk/provider"

	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/errgroup"
)

// statusLookupLimit bounds concurrent status reads in EnabledModels.
const statusLookupLimit = 8

// ModelStore is the persistence the catalog needs.
type ModelStore interface {
	ModelStatus(ctx context.Context, providerID, modelID string) (enabled, found bool, err error)
	SetModelStatus(ctx context.Context, providerID, modelID string, enabled bool) error
	ProviderModels(ctx context.Context, providerID string) ([]model.ModelMeta, error)
	SetProviderModels(ctx context.Context, providerID string, models []model.ModelMeta) error
	CustomModels(ctx context.Context, providerID string) ([]model.ModelMeta, error)
	SetCustomModels(ctx context.Context, providerID string, models []model.ModelMeta) error
}

// Registry is the part of provider.Registry the catalog uses.
type Registry interface {
	Resolve(providerID string) (*provider.Adapter, error)
	Configure(ctx context.Context, descriptors []model.Provider)
	Providers() []model.Provider
	Enabled() []model.Provider
	OnAdapterCreated(hook func(a *provider.Adapter))
}

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// ProviderModels groups the usable models of one provider.
type ProviderModels struct {
	ProviderID   string            `json:"providerId"`
	ProviderName string            `json:"providerName"`
	Models       []model.ModelMeta `json:"models"`
}

type Option func(*Catalog)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

type Catalog struct {
	reg    Registry
	store  ModelStore
	bus    Publisher
	logger *slog.Logger
}

// New creates a catalog. Adapters built by reg from now on start with the
// custom models stored for their provider.
func New(reg Registry, store ModelStore, bus Publisher, opts ...Option) *Catalog {
	c := &Catalog{
		reg:    reg,
		store:  store,
		bus:    bus,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	reg.OnAdapterCreated(c.seedCustomModels)
	return c
}

func (c *Catalog) seedCustomModels(a *provider.Adapter) {
	ctx := context.Background()
	custom, err := c.store.CustomModels(ctx, a.ID())
	if err != nil {
		c.logger.Warn("failed to load custom models", slog.String("provider", a.ID()), config.ErrAttr(err))
		return
	}
	a.SetCustomModels(custom)
}

func (c *Catalog) publish(ctx context.Context, topic string, payload any) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Publish(ctx, topic, payload); err != nil {
		c.logger.WarnContext(ctx, "failed to publish event", slog.String("topic", topic), config.ErrAttr(err))
	}
}

// ConfigureProviders replaces the registry's descriptor set and announces
// the new provider ids.
func (c *Catalog) ConfigureProviders(ctx context.Context, descriptors []model.Provider) {
	c.reg.Configure(ctx, descriptors)

	ids := make([]string, 0, len(descriptors))
	for _, p := range c.reg.Providers() {
		ids = append(ids, p.ID)
	}
	c.publish(ctx, events.TopicProviderChanged, events.ProviderChanged{ProviderIDs: ids})
}

// RefreshModels fetches the provider's model list and stores it. A backend
// failure is logged and stored as an empty list.
func (c *Catalog) RefreshModels(ctx context.Context, providerID string) ([]model.ModelMeta, error) {
	a, err := c.reg.Resolve(providerID)
	if err != nil {
		return nil, err
	}

	models, err := a.ListModels(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to fetch models",
			slog.String("provider", providerID),
			config.ErrAttr(err))
		models = []model.ModelMeta{}
	}

	if err := c.store.SetProviderModels(ctx, providerID, models); err != nil {
		return nil, err
	}
	c.publish(ctx, events.TopicModelListChanged, events.ModelListChanged{ProviderID: providerID})
	return models, nil
}

// ProviderModels returns the last stored remote list for a provider.
func (c *Catalog) ProviderModels(ctx context.Context, providerID string) ([]model.ModelMeta, error) {
	return c.store.ProviderModels(ctx, providerID)
}

func (c *Catalog) CustomModels(providerID string) ([]model.ModelMeta, error) {
	a, err := c.reg.Resolve(providerID)
	if err != nil {
		return nil, err
	}
	return a.CustomModels(), nil
}

func (c *Catalog) AddCustomModel(ctx context.Context, providerID string, m model.ModelMeta) (model.ModelMeta, error) {
	a, err := c.reg.Resolve(providerID)
	if err != nil {
		return model.ModelMeta{}, err
	}
	added, err := a.AddCustomModel(m)
	if err != nil {
		return model.ModelMeta{}, err
	}
	if err := c.saveCustom(ctx, a); err != nil {
		a.RemoveCustomModel(added.ID)
		return model.ModelMeta{}, err
	}
	return added, nil
}

func (c *Catalog) RemoveCustomModel(ctx context.Context, providerID, modelID string) error {
	a, err := c.reg.Resolve(providerID)
	if err != nil {
		return err
	}
	if !a.RemoveCustomModel(modelID) {
		return fmt.Errorf("%w: %s", provider.ErrCustomModelNotFound, modelID)
	}
	return c.saveCustom(ctx, a)
}

func (c *Catalog) UpdateCustomModel(ctx context.Context, providerID, modelID string, update model.ModelUpdate) (model.ModelMeta, error) {
	a, err := c.reg.Resolve(providerID)
	if err != nil {
		return model.ModelMeta{}, err
	}
	updated, err := a.UpdateCustomModel(modelID, update)
	if err != nil {
		return model.ModelMeta{}, err
	}
	if err := c.saveCustom(ctx, a); err != nil {
		return model.ModelMeta{}, err
	}
	return updated, nil
}

func (c *Catalog) saveCustom(ctx context.Context, a *provider.Adapter) error {
	if err := c.store.SetCustomModels(ctx, a.ID(), a.CustomModels()); err != nil {
		return err
	}
	c.publish(ctx, events.TopicModelListChanged, events.ModelListChanged{ProviderID: a.ID()})
	return nil
}

// ModelStatus reports whether a model is enabled. Models without a stored
// flag are enabled; read failures are logged and treated the same way.
func (c *Catalog) ModelStatus(ctx context.Context, providerID, modelID string) bool {
	enabled, found, err := c.store.ModelStatus(ctx, providerID, modelID)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read model status",
			slog.String("provider", providerID),
			slog.String("model", modelID),
			config.ErrAttr(err))
		return true
	}
	if !found {
		return true
	}
	return enabled
}

func (c *Catalog) SetModelStatus(ctx context.Context, providerID, modelID string, enabled bool) error {
	if err := c.store.SetModelStatus(ctx, providerID, modelID, enabled); err != nil {
		return err
	}
	c.publish(ctx, events.TopicModelStatusChanged, events.ModelStatusChanged{
		ProviderID: providerID,
		ModelID:    modelID,
		Enabled:    enabled,
	})
	return nil
}

// allModels returns the stored remote list followed by the custom list.
func (c *Catalog) allModels(ctx context.Context, p model.Provider) ([]model.ModelMeta, error) {
	remote, err := c.store.ProviderModels(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	var custom []model.ModelMeta
	if a, err := c.reg.Resolve(p.ID); err == nil {
		custom = a.CustomModels()
	} else if custom, err = c.store.CustomModels(ctx, p.ID); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(remote)+len(custom))
	all := make([]model.ModelMeta, 0, len(remote)+len(custom))
	for _, m := range append(remote, custom...) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.ProviderID = p.ID
		all = append(all, m)
	}
	return all, nil
}

// EnabledModels lists the enabled models of every enabled provider. Status
// flags are looked up concurrently and all results are gathered before
// filtering.
func (c *Catalog) EnabledModels(ctx context.Context) ([]ProviderModels, error) {
	var result []ProviderModels

	for _, p := range c.reg.Enabled() {
		all, err := c.allModels(ctx, p)
		if err != nil {
			return nil, err
		}

		statuses := make([]bool, len(all))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(statusLookupLimit)
		for i, m := range all {
			g.Go(func() error {
				statuses[i] = c.ModelStatus(gctx, p.ID, m.ID)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		enabled := make([]model.ModelMeta, 0, len(all))
		for i, m := range all {
			if statuses[i] {
				enabled = append(enabled, m)
			}
		}
		if len(enabled) > 0 {
			result = append(result, ProviderModels{ProviderID: p.ID, ProviderName: p.Name, Models: enabled})
		}
	}
	return result, nil
}

type modelSource []model.ModelMeta

func (s modelSource) String(i int) string {
	return s[i].ProviderID + "/" + s[i].ID + " " + s[i].Name
}

func (s modelSource) Len() int {
	return len(s)
}

// SearchModels fuzzy matches query against the enabled models, best match
// first. An empty query returns every enabled model.
func (c *Catalog) SearchModels(ctx context.Context, query string) ([]model.ModelMeta, error) {
	groups, err := c.EnabledModels(ctx)
	if err != nil {
		return nil, err
	}

	var all modelSource
	for _, g := range groups {
		all = append(all, g.Models...)
	}
	if query == "" {
		return all, nil
	}

	matches := fuzzy.FindFrom(query, all)
	result := make([]model.ModelMeta, len(matches))
	for i, match := range matches {
		result[i] = all[match.Index]
	}
	return result, nil
}
