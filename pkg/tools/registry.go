package tools

import (
	"context"
	"fmt"

	"github.com/kadirpekel/torii/pkg/registry"
)

// ServiceInfo is the registry's static metadata for one service class,
// exposed by the services listing endpoint without instantiation.
type ServiceInfo struct {
	Class        string        `json:"class_name"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Icon         string        `json:"icon"`
	Kind         Kind          `json:"type"`
	ConfigSchema []SchemaField `json:"config_schema"`
	AuthSchema   []SchemaField `json:"auth_schema"`
}

// Factory registers a service class: its metadata plus a constructor
// taking the caller's config and auth bags.
type Factory struct {
	Info ServiceInfo
	New  func(config map[string]interface{}, auth map[string]string) (Service, error)
}

// Registry holds the service factories. Frozen after construction; safe
// for concurrent readers.
type Registry struct {
	factories *registry.BaseRegistry[Factory]
}

// NewRegistry registers the given factories and freezes the registry.
func NewRegistry(factories ...Factory) (*Registry, error) {
	r := &Registry{factories: registry.NewBaseRegistry[Factory]()}
	for _, f := range factories {
		if err := r.factories.Register(f.Info.Class, f); err != nil {
			return nil, err
		}
	}
	r.factories.Freeze()
	return r, nil
}

// List returns the metadata of every registered class in lexical order.
func (r *Registry) List() []ServiceInfo {
	factories := r.factories.List()
	infos := make([]ServiceInfo, len(factories))
	for i, f := range factories {
		infos[i] = f.Info
	}
	return infos
}

// Has reports whether the class is registered.
func (r *Registry) Has(class string) bool {
	_, ok := r.factories.Get(class)
	return ok
}

// Instantiate builds a service of the given class from the caller's
// config and auth bags.
func (r *Registry) Instantiate(class string, config map[string]interface{}, auth map[string]string) (Service, error) {
	f, ok := r.factories.Get(class)
	if !ok {
		return nil, fmt.Errorf("unknown service class: %s", class)
	}
	return f.New(config, auth)
}

// ServiceTools lists the tools of a class instantiated with empty bags.
// Remote-catalog classes need a configured endpoint and are fetched here
// so the listing reflects the live server.
func (r *Registry) ServiceTools(ctx context.Context, class string) ([]ToolDescriptor, error) {
	service, err := r.Instantiate(class, nil, nil)
	if err != nil {
		return nil, err
	}
	if fetcher, ok := service.(Fetcher); ok {
		if err := fetcher.Fetch(ctx); err != nil {
			return nil, err
		}
	}
	return service.Tools(), nil
}
