package supplier

import (
	"fmt"
	"log/slog"
	"sync"
)

// Config is the static configuration for one supplier integration, as
// loaded from the suppliers catalog table.
type Config struct {
	Code       string
	BaseURL    string
	Adapter    string // "generic_rest" for now; room for bespoke adapter names
	SingleStep bool
}

// Factory builds and memoizes one Gateway per supplier code, so a
// reservation touching the same supplier twice in a process lifetime
// reuses its connection pool and token cache instead of rebuilding both.
type Factory struct {
	logger *slog.Logger

	mu       sync.RWMutex
	adapters map[string]Gateway
}

// NewFactory creates an empty Factory.
func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger, adapters: make(map[string]Gateway)}
}

// Get returns the memoized Gateway for cfg.Code, building it on first use.
func (f *Factory) Get(cfg Config) (Gateway, error) {
	f.mu.RLock()
	if g, ok := f.adapters[cfg.Code]; ok {
		f.mu.RUnlock()
		return g, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.adapters[cfg.Code]; ok {
		return g, nil
	}

	g, err := f.build(cfg)
	if err != nil {
		return nil, err
	}
	f.adapters[cfg.Code] = g
	return g, nil
}

func (f *Factory) build(cfg Config) (Gateway, error) {
	switch cfg.Adapter {
	case "", "generic_rest":
		base := NewBaseAdapter(cfg.Code, cfg.BaseURL, f.logger)
		return NewGenericRESTAdapter(base, cfg.SingleStep), nil
	default:
		return nil, fmt.Errorf("supplier %s: unknown adapter %q", cfg.Code, cfg.Adapter)
	}
}

// CloseAll closes every adapter built so far, for graceful shutdown.
func (f *Factory) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for code, g := range f.adapters {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("supplier %s: %w", code, err)
		}
	}
	return firstErr
}
