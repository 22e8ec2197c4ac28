package gateway

import (
	"fmt"
	"sort"
	"strings"

	"loclab.gg/stringsmith/internal/config"
)

// DefaultProviderName is used when STRINGSMITH_PROVIDER is unset.
const DefaultProviderName = "mock"

// KeySource resolves a stored API key for a provider name. The keyring
// satisfies this. Missing keys return an error; the registry treats that as
// "no stored key".
type KeySource interface {
	Get(provider string) (string, error)
}

// Registry stores providers by case-normalized name and resolves a default.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

func NewRegistry(defaultProvider string) *Registry {
	normalizedDefault := normalizeProviderName(defaultProvider)
	if normalizedDefault == "" {
		normalizedDefault = DefaultProviderName
	}

	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: normalizedDefault,
	}
}

// NewRegistryFromConfig wires every adapter the configuration carries keys
// for. Environment keys win over keyring entries; the mock provider is
// always available. Adapters with neither key are still registered so that
// per-request keys can reach them.
func NewRegistryFromConfig(cfg *config.Config, keys KeySource) *Registry {
	registry := NewRegistry(cfg.Provider)

	_ = registry.Register(NewMockProvider())
	_ = registry.Register(NewDeepLProvider(resolveKey(cfg.DeepLKey, keys, "deepl")))
	_ = registry.Register(NewGoogleProvider(resolveKey(cfg.GoogleKey, keys, "google")))
	_ = registry.Register(NewLibreProvider(cfg.LibreEndpoint, resolveKey(cfg.LibreKey, keys, "libretranslate")))
	_ = registry.Register(NewOpenAIProvider(resolveKey(cfg.OpenAIKey, keys, "openai"), cfg.OpenAIBaseURL, cfg.OpenAIModel))

	if _, exists := registry.providers[registry.defaultProvider]; !exists {
		registry.defaultProvider = DefaultProviderName
	}

	return registry
}

func resolveKey(envKey string, keys KeySource, provider string) string {
	if trimmed := strings.TrimSpace(envKey); trimmed != "" {
		return trimmed
	}
	if keys == nil {
		return ""
	}
	stored, err := keys.Get(provider)
	if err != nil {
		return ""
	}
	return stored
}

// Register adds one provider.
func (r *Registry) Register(provider Provider) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	name := normalizeProviderName(provider.Name())
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	r.providers[name] = provider
	return nil
}

// Provider resolves a provider by name. Empty names use the configured
// default provider. "libre" aliases "libretranslate".
func (r *Registry) Provider(name string) (Provider, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no translation providers are registered")
	}

	resolvedName := normalizeProviderName(name)
	if resolvedName == "" {
		resolvedName = r.defaultProvider
	}
	if resolvedName == "libre" {
		resolvedName = "libretranslate"
	}
	provider, ok := r.providers[resolvedName]
	if ok {
		return provider, nil
	}

	return nil, fmt.Errorf("translation provider %q is not registered (available: %s)", resolvedName, strings.Join(r.ProviderNames(), ", "))
}

func (r *Registry) DefaultProvider() string {
	if r == nil {
		return ""
	}
	return r.defaultProvider
}

func (r *Registry) ProviderNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
