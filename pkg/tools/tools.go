// Package tools defines the service/tool model: services expose named
// tools with JSON-schema inputs, a frozen registry holds service
// factories, and per-request catalogs bind services to caller credentials.
package tools

import (
	"context"

	"github.com/kadirpekel/torii/pkg/llms"
)

// Kind classifies a service family.
type Kind string

const (
	KindBuiltIn       Kind = "built_in"
	KindAPIWrapper    Kind = "api_wrapper"
	KindRemoteCatalog Kind = "remote_catalog"
)

// SchemaField describes one config or auth field a service accepts.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Secret      bool   `json:"secret,omitempty"`
}

// ToolDescriptor is the published shape of one tool. InputSchema is a
// JSON-Schema-shaped object tree.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Category    string                 `json:"category,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

// Service is an instantiated tool source bound to its configuration.
// Implementations return user-readable failure strings from Call for
// domain errors; a non-nil error means the invocation itself failed.
type Service interface {
	Class() string
	Name() string
	Kind() Kind
	ConfigSchema() []SchemaField
	AuthSchema() []SchemaField
	Tools() []ToolDescriptor
	Call(ctx context.Context, tool string, args map[string]interface{}) (string, error)
}

// Fetcher is implemented by remote-catalog services whose tool list must
// be discovered over the network before Tools() is meaningful.
type Fetcher interface {
	Fetch(ctx context.Context) error
}

// Definition converts a descriptor to the provider function-calling shape.
// Property types outside {string, integer, number, boolean} collapse to
// string; required and enum are forwarded.
func Definition(d ToolDescriptor) llms.ToolDefinition {
	params := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}

	properties, _ := d.InputSchema["properties"].(map[string]interface{})
	outProperties := params["properties"].(map[string]interface{})
	for name, raw := range properties {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		out := map[string]interface{}{"type": normalizeType(prop["type"])}
		if desc, ok := prop["description"].(string); ok && desc != "" {
			out["description"] = desc
		}
		if enum, ok := prop["enum"]; ok {
			out["enum"] = enum
		}
		outProperties[name] = out
	}

	switch required := d.InputSchema["required"].(type) {
	case []interface{}:
		params["required"] = required
	case []string:
		params["required"] = required
	}

	return llms.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  params,
	}
}

func normalizeType(raw interface{}) string {
	t, _ := raw.(string)
	switch t {
	case "string", "integer", "number", "boolean":
		return t
	default:
		return "string"
	}
}
