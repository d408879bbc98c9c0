// File: internal/infra/adapters/ai/registry.go
package ai

import (
	"fmt"
	"sort"
	"strings"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/adapter"
)

var _ adapter.ProviderRegistry = (*Registry)(nil)

// Registry is a lookup table of provider clients keyed by lower-case id.
// It is built once at startup and read-only afterwards.
type Registry struct {
	byProvider map[string]adapter.ProviderClient
	aliases    map[string]string // alias -> provider id
}

func NewRegistry(clients ...adapter.ProviderClient) *Registry {
	r := &Registry{
		byProvider: make(map[string]adapter.ProviderClient, len(clients)),
		aliases:    map[string]string{},
	}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c adapter.ProviderClient) {
	r.byProvider[strings.ToLower(c.Name())] = c
}

// Alias makes alias resolve to an already registered provider.
func (r *Registry) Alias(alias, provider string) {
	r.aliases[strings.ToLower(alias)] = strings.ToLower(provider)
}

func (r *Registry) resolve(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if p, ok := r.aliases[id]; ok {
		return p
	}
	return id
}

func (r *Registry) Lookup(id string) (adapter.ProviderClient, error) {
	if c := r.byProvider[r.resolve(id)]; c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, id)
}

// Names lists registered provider ids, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byProvider))
	for name := range r.byProvider {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Wrap replaces every registered client with wrap(client).
func (r *Registry) Wrap(wrap func(adapter.ProviderClient) adapter.ProviderClient) {
	for name, c := range r.byProvider {
		r.byProvider[name] = wrap(c)
	}
}
