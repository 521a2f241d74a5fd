package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/torii/pkg/crypto"
	"github.com/kadirpekel/torii/pkg/llms"
)

// Selection modes for a binding.
const (
	SelectionAll      = "all"
	SelectionSelected = "selected"
)

// Binding is one caller-supplied service attachment.
type Binding struct {
	ServiceClass      string                 `json:"service_class"`
	ToolSelectionMode string                 `json:"tool_selection_mode"`
	SelectedTools     []string               `json:"selected_tools"`
	APIKey            *string                `json:"api_key"`
	Headers           map[string]string      `json:"headers"`
	Config            map[string]interface{} `json:"config,omitempty"`
	Enabled           bool                   `json:"enabled"`
}

// UnmarshalJSON defaults enabled to true: callers disable a binding
// explicitly, omitting the field must not drop the service.
func (b *Binding) UnmarshalJSON(data []byte) error {
	type alias Binding
	tmp := alias{Enabled: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*b = Binding(tmp)
	return nil
}

// CatalogEntry is one resolved tool and the service that executes it.
type CatalogEntry struct {
	Descriptor ToolDescriptor
	Service    Service
}

// Catalog is the per-request tool set, assembled from bindings and frozen
// for the duration of the request.
type Catalog struct {
	entries []CatalogEntry
	byName  map[string]int
}

// BuildCatalog instantiates every enabled binding, discovers remote
// catalogs concurrently, applies per-binding tool selection, de-duplicates
// by tool name (first binding wins), then filters by allowed: nil means
// pass-through, empty means drop all, otherwise keep listed names.
// A remote catalog that fails discovery is logged and skipped.
func BuildCatalog(ctx context.Context, reg *Registry, bindings []Binding, allowed []string, cipher *crypto.Cipher) (*Catalog, error) {
	type bound struct {
		binding Binding
		service Service
		skipped bool
	}

	var services []*bound
	for _, binding := range bindings {
		if !binding.Enabled {
			continue
		}

		auth, err := decryptAuth(binding, cipher)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", binding.ServiceClass, err)
		}

		service, err := reg.Instantiate(binding.ServiceClass, binding.Config, auth)
		if err != nil {
			return nil, err
		}
		services = append(services, &bound{binding: binding, service: service})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range services {
		fetcher, ok := b.service.(Fetcher)
		if !ok {
			continue
		}
		b := b
		g.Go(func() error {
			if err := fetcher.Fetch(gctx); err != nil {
				slog.Warn("Remote catalog unavailable, skipping",
					"service", b.binding.ServiceClass, "error", err)
				b.skipped = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	catalog := &Catalog{byName: make(map[string]int)}
	for _, b := range services {
		if b.skipped {
			continue
		}
		for _, descriptor := range b.service.Tools() {
			if !selectedByBinding(b.binding, descriptor.Name) {
				continue
			}
			if _, exists := catalog.byName[descriptor.Name]; exists {
				continue
			}
			catalog.byName[descriptor.Name] = len(catalog.entries)
			catalog.entries = append(catalog.entries, CatalogEntry{Descriptor: descriptor, Service: b.service})
		}
	}

	if allowed != nil {
		catalog = catalog.filter(allowed)
	}
	return catalog, nil
}

func decryptAuth(binding Binding, cipher *crypto.Cipher) (map[string]string, error) {
	auth := make(map[string]string, len(binding.Headers)+1)
	decrypt := func(value string) (string, error) {
		if cipher == nil || !crypto.IsEnvelope(value) {
			return value, nil
		}
		return cipher.Decrypt(value)
	}

	if binding.APIKey != nil {
		key, err := decrypt(*binding.APIKey)
		if err != nil {
			return nil, err
		}
		auth["api_key"] = key
	}
	for name, value := range binding.Headers {
		decrypted, err := decrypt(value)
		if err != nil {
			return nil, err
		}
		auth[name] = decrypted
	}
	return auth, nil
}

func selectedByBinding(binding Binding, tool string) bool {
	if binding.ToolSelectionMode != SelectionSelected {
		return true
	}
	for _, name := range binding.SelectedTools {
		if name == tool {
			return true
		}
	}
	return false
}

func (c *Catalog) filter(allowed []string) *Catalog {
	keep := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		keep[name] = true
	}

	filtered := &Catalog{byName: make(map[string]int)}
	for _, entry := range c.entries {
		if !keep[entry.Descriptor.Name] {
			continue
		}
		filtered.byName[entry.Descriptor.Name] = len(filtered.entries)
		filtered.entries = append(filtered.entries, entry)
	}
	return filtered
}

// Len returns the catalog size after all filters.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entries returns the resolved tools in assembly order.
func (c *Catalog) Entries() []CatalogEntry {
	return c.entries
}

// Definitions returns the provider function-calling bindings.
func (c *Catalog) Definitions() []llms.ToolDefinition {
	definitions := make([]llms.ToolDefinition, len(c.entries))
	for i, entry := range c.entries {
		definitions[i] = Definition(entry.Descriptor)
	}
	return definitions
}

// Call dispatches one tool invocation to its owning service.
func (c *Catalog) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	i, ok := c.byName[tool]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", tool)
	}
	return c.entries[i].Service.Call(ctx, tool, args)
}

// Has reports whether the tool survived assembly and filtering.
func (c *Catalog) Has(tool string) bool {
	_, ok := c.byName[tool]
	return ok
}

// Counts returns how many catalog tools come from built-in services and
// how many from everything else.
func (c *Catalog) Counts() (basic, service int) {
	for _, entry := range c.entries {
		if entry.Service.Kind() == KindBuiltIn {
			basic++
		} else {
			service++
		}
	}
	return basic, service
}
