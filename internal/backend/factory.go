package backend

import (
	"fmt"
	"log/slog"

	"registrar/internal/config"
	"registrar/internal/port"
	"registrar/internal/signature"
)

// Options carries the resolved, provider-independent settings a factory needs.
type Options struct {
	Model    string
	Sampling config.SamplingConfig
}

// ProviderFactory creates a Completer from a provider config.
type ProviderFactory func(cfg config.ProviderConfig, opts Options) (Completer, error)

// registry of provider factories, populated by init() in each provider package
// or explicitly via RegisterProvider.
var providers = map[string]ProviderFactory{}

// RegisterProvider registers a provider factory by name.
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// NewCompleter creates a Completer using the registered factory for cfg.Provider.
func NewCompleter(cfg config.ProviderConfig, opts Options) (Completer, error) {
	factory, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown backend provider: %s", cfg.Provider)
	}
	return factory(cfg, opts)
}

// New builds the backend chain described by cfg. A single provider is
// returned bare; several are wrapped in a FallbackBackend.
func New(cfg *config.Config, catalog *signature.Catalog, logger *slog.Logger) (port.Backend, error) {
	provs := cfg.Backend.Providers()
	backends := make([]port.Backend, 0, len(provs))
	names := make([]string, 0, len(provs))
	for _, p := range provs {
		model, err := cfg.ResolveModel(p.Model)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", p.Provider, err)
		}
		c, err := NewCompleter(p, Options{Model: model, Sampling: cfg.Backend.Sampling})
		if err != nil {
			return nil, err
		}
		backends = append(backends, NewAdapter(p.Provider, c, catalog, logger))
		names = append(names, p.Provider)
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewFallbackBackend(backends, names, logger), nil
}
