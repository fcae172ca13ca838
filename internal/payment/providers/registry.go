package providers

import (
	"strings"

	"github.com/smallbiznis/storefront/internal/payment/domain"
)

// Registry resolves configured payment providers by code. Adding a
// provider means registering it here; call sites never branch on the
// code themselves.
type Registry struct {
	providers map[string]domain.Provider
}

func NewRegistry(providers ...domain.Provider) *Registry {
	registry := &Registry{providers: map[string]domain.Provider{}}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		code := strings.ToLower(strings.TrimSpace(provider.Code()))
		if code == "" {
			continue
		}
		registry.providers[code] = provider
	}
	return registry
}

func (r *Registry) Exists(code string) bool {
	if r == nil {
		return false
	}
	_, ok := r.providers[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

func (r *Registry) Get(code string) (domain.Provider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider, ok := r.providers[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}

func (r *Registry) Codes() []string {
	if r == nil {
		return nil
	}
	codes := make([]string, 0, len(r.providers))
	for code := range r.providers {
		codes = append(codes, code)
	}
	return codes
}
