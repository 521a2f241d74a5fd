package llms

import (
	"errors"
	"fmt"

	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/registry"
)

var (
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrUnknownModel    = errors.New("model not in provider allow-list")
)

// Registry holds the configured providers and their model allow-lists.
// It is frozen after construction and safe for concurrent readers.
type Registry struct {
	providers *registry.BaseRegistry[Provider]
	models    map[string]map[string]bool
}

// NewRegistry builds providers for every configured vendor and freezes the
// result.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		providers: registry.NewBaseRegistry[Provider](),
		models:    make(map[string]map[string]bool),
	}

	for name, pc := range cfg.Providers {
		var (
			provider Provider
			err      error
		)
		switch name {
		case "openai":
			provider, err = NewOpenAIProvider(pc)
		case "anthropic":
			provider, err = NewAnthropicProvider(pc)
		case "gemini":
			provider, err = NewGeminiProvider(pc)
		case "ollama":
			provider, err = NewOllamaProvider(pc)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
		}

		if err := r.providers.Register(name, provider); err != nil {
			return nil, err
		}

		allowed := make(map[string]bool, len(pc.Models))
		for _, model := range pc.Models {
			allowed[model] = true
		}
		r.models[name] = allowed
	}

	r.providers.Freeze()
	return r, nil
}

// Provider returns the named provider.
func (r *Registry) Provider(name string) (Provider, error) {
	p, ok := r.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// ValidateModel checks the provider/model pair against the allow-lists.
func (r *Registry) ValidateModel(provider, model string) error {
	allowed, ok := r.models[provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if !allowed[model] {
		return fmt.Errorf("%w: %s/%s", ErrUnknownModel, provider, model)
	}
	return nil
}

// Names returns the configured provider names in lexical order.
func (r *Registry) Names() []string {
	return r.providers.Names()
}

// Close shuts down every provider.
func (r *Registry) Close() error {
	var firstErr error
	for _, p := range r.providers.List() {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
