package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type registration struct {
	factory      ProviderFactory
	defaultModel string
}

// Registry routes a provider name (and optional model) to a Provider.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]registration
	fallback string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]registration)}
}

// Register adds a provider. The first registered provider becomes the
// fallback used when Get is called with an empty name.
func (r *Registry) Register(name, defaultModel string, f ProviderFactory) {
	name = normalizeProviderName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = registration{factory: f, defaultModel: strings.TrimSpace(defaultModel)}
	if r.fallback == "" {
		r.fallback = name
	}
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = normalizeProviderName(name)
	r.mu.RLock()
	if name == "" {
		name = r.fallback
	}
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %q", name)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = reg.defaultModel
	}
	return reg.factory(ctx, model)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
