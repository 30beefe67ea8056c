package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatdesk/model"

	"github.com/alphadose/haxmap"
)

// Registry owns the configured provider descriptors and caches one Adapter
// per provider id. Adapters are built on first use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]model.Provider
	order       []string
	current     string
	adapters    *haxmap.Map[string, *Adapter]

	factory BackendFactory
	logger  *slog.Logger

	hookMu           sync.Mutex
	beforeConfigure  []func(ctx context.Context)
	afterConfigure   []func(ctx context.Context)
	onAdapterCreated []func(a *Adapter)
}

type RegistryOption func(*Registry)

func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithBackendFactory replaces NewBackend, mainly for tests.
func WithBackendFactory(factory BackendFactory) RegistryOption {
	return func(r *Registry) {
		r.factory = factory
	}
}

// WithProviders sets the initial descriptor set without running hooks.
func WithProviders(descriptors []model.Provider) RegistryOption {
	return func(r *Registry) {
		r.swap(descriptors)
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		descriptors: map[string]model.Provider{},
		adapters:    haxmap.New[string, *Adapter](),
		factory:     NewBackend,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnBeforeConfigure registers a hook that runs at the start of every
// Configure and SetCurrent call, before any state changes. Hooks run without
// the registry lock held, so they may call Resolve.
func (r *Registry) OnBeforeConfigure(hook func(ctx context.Context)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.beforeConfigure = append(r.beforeConfigure, hook)
}

// OnAfterConfigure registers a hook that runs once Configure or SetCurrent
// has finished, including when SetCurrent fails. Every before hook is
// paired with one run of the after hooks. Hooks run without the registry
// lock held.
func (r *Registry) OnAfterConfigure(hook func(ctx context.Context)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.afterConfigure = append(r.afterConfigure, hook)
}

// OnAdapterCreated registers a hook that runs once for each new adapter,
// before it is returned from Resolve. Hooks must not call back into the
// registry.
func (r *Registry) OnAdapterCreated(hook func(a *Adapter)) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.onAdapterCreated = append(r.onAdapterCreated, hook)
}

func (r *Registry) runBeforeConfigure(ctx context.Context) {
	r.hookMu.Lock()
	hooks := append([]func(context.Context){}, r.beforeConfigure...)
	r.hookMu.Unlock()

	for _, hook := range hooks {
		hook(ctx)
	}
}

func (r *Registry) runAfterConfigure(ctx context.Context) {
	r.hookMu.Lock()
	hooks := append([]func(context.Context){}, r.afterConfigure...)
	r.hookMu.Unlock()

	for _, hook := range hooks {
		hook(ctx)
	}
}

// Configure replaces the full descriptor set. Before-configure hooks run
// first, so in-flight sessions are stopped before any adapter is dropped.
// Cached adapters survive only when their descriptor is unchanged. After
// hooks run once the new set is in place.
func (r *Registry) Configure(ctx context.Context, descriptors []model.Provider) {
	r.runBeforeConfigure(ctx)
	defer r.runAfterConfigure(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.swap(descriptors)

	r.logger.InfoContext(ctx, "providers configured", slog.Int("count", len(r.order)))
}

// swap must be called with mu held (or before the registry is shared).
func (r *Registry) swap(descriptors []model.Provider) {
	next := make(map[string]model.Provider, len(descriptors))
	order := make([]string, 0, len(descriptors))

	for _, d := range descriptors {
		if d.ID == "" {
			r.logger.Warn("skipping provider without id", slog.String("name", d.Name))
			continue
		}
		if _, dup := next[d.ID]; !dup {
			order = append(order, d.ID)
		}
		next[d.ID] = d

		if d.Enabled && !APIType(d.APIType).Supported() {
			r.logger.Warn("unknown provider type",
				slog.String("provider", d.ID),
				slog.String("api_type", d.APIType))
		}
	}

	var stale []string
	r.adapters.ForEach(func(id string, a *Adapter) bool {
		if d, ok := next[id]; !ok || d != a.Provider() {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		r.adapters.Del(id)
	}

	r.descriptors = next
	r.order = order
	if _, ok := next[r.current]; !ok {
		r.current = ""
	}
}

// Resolve returns the adapter for providerID, building and caching it on
// first use.
func (r *Registry) Resolve(providerID string) (*Adapter, error) {
	r.mu.RLock()
	_, known := r.descriptors[providerID]
	a, cached := r.adapters.Get(providerID)
	r.mu.RUnlock()
	if known && cached {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.descriptors[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrProviderNotFound, providerID)
	}
	if a, ok := r.adapters.Get(providerID); ok {
		return a, nil
	}

	if !APIType(desc.APIType).Supported() {
		return nil, fmt.Errorf("%w: provider %s has api type %q", model.ErrProviderUnsupported, providerID, desc.APIType)
	}

	backend, err := r.factory(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", providerID, err)
	}

	a = NewAdapter(desc, backend)

	r.hookMu.Lock()
	hooks := append([]func(*Adapter){}, r.onAdapterCreated...)
	r.hookMu.Unlock()
	for _, hook := range hooks {
		hook(a)
	}

	r.adapters.Set(providerID, a)
	r.logger.Debug("provider adapter created",
		slog.String("provider", providerID),
		slog.String("api_type", desc.APIType))
	return a, nil
}

// Providers returns every descriptor in configuration order.
func (r *Registry) Providers() []model.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.Provider, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.descriptors[id])
	}
	return result
}

// Enabled returns the enabled descriptors in configuration order.
func (r *Registry) Enabled() []model.Provider {
	var result []model.Provider
	for _, p := range r.Providers() {
		if p.Enabled {
			result = append(result, p)
		}
	}
	return result
}

func (r *Registry) Provider(id string) (model.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.descriptors[id]
	if !ok {
		return model.Provider{}, fmt.Errorf("%w: %s", model.ErrProviderNotFound, id)
	}
	return p, nil
}

// SetCurrent selects the default provider. Active sessions are stopped first
// and the adapter is built eagerly.
func (r *Registry) SetCurrent(ctx context.Context, id string) error {
	r.runBeforeConfigure(ctx)
	defer r.runAfterConfigure(ctx)

	if _, err := r.Resolve(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descriptors[id]; !ok {
		return fmt.Errorf("%w: %s", model.ErrProviderNotFound, id)
	}
	r.current = id
	return nil
}

// Current returns the selected default provider, if any.
func (r *Registry) Current() (model.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == "" {
		return model.Provider{}, false
	}
	p, ok := r.descriptors[r.current]
	return p, ok
}
