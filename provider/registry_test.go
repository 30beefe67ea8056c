package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"chatdesk/model"
	"chatdesk/provider/testutil"
)

func newTestRegistry(t *testing.T, descriptors ...model.Provider) (*Registry, *atomic.Int32) {
	t.Helper()
	var built atomic.Int32
	factory := func(p model.Provider) (model.Backend, error) {
		if !APIType(p.APIType).Supported() {
			return nil, model.ErrProviderUnsupported
		}
		built.Add(1)
		return testutil.NewMockBackend(), nil
	}
	r := NewRegistry(WithBackendFactory(factory), WithProviders(descriptors))
	return r, &built
}

func TestRegistryResolve(t *testing.T) {
	tests := []struct {
		name        string
		providerID  string
		expectError error
	}{
		{name: "known provider", providerID: "p1"},
		{name: "disabled provider still resolves", providerID: "p2"},
		{name: "unknown id", providerID: "nope", expectError: model.ErrProviderNotFound},
		{name: "unsupported api type", providerID: "gem", expectError: model.ErrProviderUnsupported},
	}

	disabled := testutil.TestProvider("p2", "ollama")
	disabled.Enabled = false
	r, _ := newTestRegistry(t,
		testutil.TestProvider("p1", "openai"),
		disabled,
		testutil.TestProvider("gem", "gemini"),
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.Resolve(tt.providerID)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.ID() != tt.providerID {
				t.Errorf("expected adapter for %s, got %s", tt.providerID, a.ID())
			}
		})
	}
}

func TestRegistryCachesAdapters(t *testing.T) {
	r, built := newTestRegistry(t, testutil.TestProvider("p1", "openai"))

	var wg sync.WaitGroup
	adapters := make([]*Adapter, 10)
	for i := range adapters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.Resolve("p1")
			if err != nil {
				t.Error(err)
				return
			}
			adapters[i] = a
		}(i)
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Errorf("expected one backend to be built, got %d", built.Load())
	}
	for i, a := range adapters {
		if a != adapters[0] {
			t.Errorf("adapter %d differs from the first", i)
		}
	}
}

func TestRegistryConfigure(t *testing.T) {
	p1 := testutil.TestProvider("p1", "openai")
	p2 := testutil.TestProvider("p2", "ollama")
	r, built := newTestRegistry(t, p1, p2)

	a1, _ := r.Resolve("p1")
	a2, _ := r.Resolve("p2")

	changed := p2
	changed.BaseURL = "http://elsewhere:11434"
	r.Configure(context.Background(), []model.Provider{p1, changed})

	if got, _ := r.Resolve("p1"); got != a1 {
		t.Error("expected unchanged descriptor to keep its adapter")
	}
	got2, err := r.Resolve("p2")
	if err != nil {
		t.Fatal(err)
	}
	if got2 == a2 {
		t.Error("expected changed descriptor to get a new adapter")
	}
	if got2.Provider().BaseURL != changed.BaseURL {
		t.Errorf("expected new base URL, got %s", got2.Provider().BaseURL)
	}
	if built.Load() != 3 {
		t.Errorf("expected 3 backends built, got %d", built.Load())
	}

	r.Configure(context.Background(), nil)
	if _, err := r.Resolve("p1"); !errors.Is(err, model.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound after removal, got %v", err)
	}
	if len(r.Providers()) != 0 {
		t.Errorf("expected no providers, got %d", len(r.Providers()))
	}
}

func TestRegistryConfigureRunsHooksFirst(t *testing.T) {
	r, _ := newTestRegistry(t, testutil.TestProvider("p1", "openai"))

	var sawProviders int
	r.OnBeforeConfigure(func(ctx context.Context) {
		// The old set is still in place while hooks run.
		sawProviders = len(r.Providers())
		if _, err := r.Resolve("p1"); err != nil {
			t.Errorf("Resolve inside hook: %v", err)
		}
	})

	r.Configure(context.Background(), nil)

	if sawProviders != 1 {
		t.Errorf("expected hook to see 1 provider, saw %d", sawProviders)
	}
}

func TestRegistryAfterConfigureHooks(t *testing.T) {
	r, _ := newTestRegistry(t, testutil.TestProvider("p1", "openai"))

	var calls []string
	r.OnBeforeConfigure(func(context.Context) { calls = append(calls, "before") })
	r.OnAfterConfigure(func(context.Context) {
		// The new set is already in place.
		calls = append(calls, fmt.Sprintf("after:%d", len(r.Providers())))
	})

	r.Configure(context.Background(), []model.Provider{
		testutil.TestProvider("p1", "openai"),
		testutil.TestProvider("p2", "ollama"),
	})
	if err := r.SetCurrent(context.Background(), "missing"); err == nil {
		t.Fatal("expected SetCurrent to fail for an unknown provider")
	}

	want := []string{"before", "after:2", "before", "after:2"}
	if !slices.Equal(calls, want) {
		t.Errorf("hook calls = %v, want %v", calls, want)
	}
}

func TestRegistryAdapterCreatedHook(t *testing.T) {
	r, _ := newTestRegistry(t, testutil.TestProvider("p1", "openai"))

	var seeded []string
	r.OnAdapterCreated(func(a *Adapter) {
		seeded = append(seeded, a.ID())
		a.SetCustomModels([]model.ModelMeta{{ID: "stored", Name: "Stored"}})
	})

	a, err := r.Resolve("p1")
	if err != nil {
		t.Fatal(err)
	}
	r.Resolve("p1")

	if len(seeded) != 1 || seeded[0] != "p1" {
		t.Errorf("expected hook to run once for p1, got %v", seeded)
	}
	if custom := a.CustomModels(); len(custom) != 1 || !custom[0].IsCustom {
		t.Errorf("expected seeded custom model, got %+v", custom)
	}
}

func TestRegistryAccessors(t *testing.T) {
	disabled := testutil.TestProvider("p2", "ollama")
	disabled.Enabled = false
	r, _ := newTestRegistry(t, testutil.TestProvider("p1", "openai"), disabled)

	if got := r.Providers(); len(got) != 2 || got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("unexpected providers %+v", got)
	}
	if got := r.Enabled(); len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("unexpected enabled providers %+v", got)
	}
	if _, err := r.Provider("p2"); err != nil {
		t.Errorf("Provider(p2): %v", err)
	}
	if _, err := r.Provider("x"); !errors.Is(err, model.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestRegistrySetCurrent(t *testing.T) {
	r, _ := newTestRegistry(t, testutil.TestProvider("p1", "openai"))

	var stopped int
	r.OnBeforeConfigure(func(context.Context) { stopped++ })

	if err := r.SetCurrent(context.Background(), "p1"); err != nil {
		t.Fatalf("SetCurrent() error: %v", err)
	}
	if cur, ok := r.Current(); !ok || cur.ID != "p1" {
		t.Errorf("expected current p1, got %+v", cur)
	}
	if stopped != 1 {
		t.Errorf("expected hooks to run once, ran %d", stopped)
	}

	if err := r.SetCurrent(context.Background(), "missing"); !errors.Is(err, model.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}

	r.Configure(context.Background(), nil)
	if _, ok := r.Current(); ok {
		t.Error("expected current provider to be cleared when removed")
	}
}
