package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a minimal in-memory service for catalog tests.
type fakeService struct {
	class     string
	kind      Kind
	tools     []string
	auth     map[string]string
	fetchErr error
}

func (s *fakeService) Class() string               { return s.class }
func (s *fakeService) Name() string                { return s.class }
func (s *fakeService) Kind() Kind                  { return s.kind }
func (s *fakeService) ConfigSchema() []SchemaField { return nil }
func (s *fakeService) AuthSchema() []SchemaField   { return nil }

func (s *fakeService) Tools() []ToolDescriptor {
	descriptors := make([]ToolDescriptor, len(s.tools))
	for i, name := range s.tools {
		descriptors[i] = ToolDescriptor{
			Name:        name,
			Description: name,
			InputSchema: map[string]interface{}{"type": "object"},
		}
	}
	return descriptors
}

func (s *fakeService) Call(_ context.Context, tool string, _ map[string]interface{}) (string, error) {
	return s.class + ":" + tool, nil
}

type fakeFetcher struct {
	fakeService
}

func (s *fakeFetcher) Fetch(context.Context) error { return s.fetchErr }

func fakeFactory(class string, kind Kind, toolNames ...string) Factory {
	return Factory{
		Info: ServiceInfo{Class: class, Name: class, Kind: kind},
		New: func(_ map[string]interface{}, auth map[string]string) (Service, error) {
			return &fakeService{class: class, kind: kind, tools: toolNames, auth: auth}, nil
		},
	}
}

func testToolRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		fakeFactory("AlphaService", KindBuiltIn, "calculate", "get_time"),
		fakeFactory("BetaService", KindAPIWrapper, "calculate", "web_search"),
	)
	require.NoError(t, err)
	return reg
}

func enabled(class string) Binding {
	return Binding{ServiceClass: class, ToolSelectionMode: SelectionAll, Enabled: true}
}

func TestBuildCatalogDedupeFirstBindingWins(t *testing.T) {
	reg := testToolRegistry(t)

	catalog, err := BuildCatalog(context.Background(), reg,
		[]Binding{enabled("AlphaService"), enabled("BetaService")}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, catalog.Len())

	out, err := catalog.Call(context.Background(), "calculate", nil)
	require.NoError(t, err)
	assert.Equal(t, "AlphaService:calculate", out)
}

func TestBuildCatalogSkipsDisabledBindings(t *testing.T) {
	reg := testToolRegistry(t)

	catalog, err := BuildCatalog(context.Background(), reg,
		[]Binding{{ServiceClass: "AlphaService", Enabled: false}, enabled("BetaService")}, nil, nil)
	require.NoError(t, err)

	assert.False(t, catalog.Has("get_time"))
	assert.True(t, catalog.Has("web_search"))
}

// Callers that omit "enabled" get the service; only an explicit false
// disables it.
func TestBindingEnabledDefaultsTrueFromJSON(t *testing.T) {
	var bindings []Binding
	body := `[
		{"service_class": "AlphaService"},
		{"service_class": "BetaService", "enabled": false}
	]`
	require.NoError(t, json.Unmarshal([]byte(body), &bindings))

	require.Len(t, bindings, 2)
	assert.True(t, bindings[0].Enabled)
	assert.False(t, bindings[1].Enabled)

	catalog, err := BuildCatalog(context.Background(), testToolRegistry(t), bindings, nil, nil)
	require.NoError(t, err)
	assert.True(t, catalog.Has("get_time"))
	assert.False(t, catalog.Has("web_search"))
}

func TestBuildCatalogSelectionMode(t *testing.T) {
	reg := testToolRegistry(t)

	catalog, err := BuildCatalog(context.Background(), reg, []Binding{{
		ServiceClass:      "AlphaService",
		ToolSelectionMode: SelectionSelected,
		SelectedTools:     []string{"get_time"},
		Enabled:           true,
	}}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, catalog.Len())
	assert.True(t, catalog.Has("get_time"))
}

func TestBuildCatalogAllowedSemantics(t *testing.T) {
	reg := testToolRegistry(t)
	bindings := []Binding{enabled("AlphaService")}

	// nil passes everything through.
	catalog, err := BuildCatalog(context.Background(), reg, bindings, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())

	// Empty drops everything.
	catalog, err = BuildCatalog(context.Background(), reg, bindings, []string{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, catalog.Len())

	// A list keeps only the named tools.
	catalog, err = BuildCatalog(context.Background(), reg, bindings, []string{"calculate"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
	assert.True(t, catalog.Has("calculate"))
}

func TestBuildCatalogSkipsFailedRemoteFetch(t *testing.T) {
	remote := Factory{
		Info: ServiceInfo{Class: "RemoteService", Kind: KindRemoteCatalog},
		New: func(map[string]interface{}, map[string]string) (Service, error) {
			return &fakeFetcher{fakeService: fakeService{
				class:    "RemoteService",
				kind:     KindRemoteCatalog,
				tools:    []string{"remote_tool"},
				fetchErr: errors.New("connection refused"),
			}}, nil
		},
	}
	reg, err := NewRegistry(fakeFactory("AlphaService", KindBuiltIn, "calculate"), remote)
	require.NoError(t, err)

	catalog, err := BuildCatalog(context.Background(), reg,
		[]Binding{enabled("RemoteService"), enabled("AlphaService")}, nil, nil)
	require.NoError(t, err)

	assert.False(t, catalog.Has("remote_tool"))
	assert.True(t, catalog.Has("calculate"))
}

func TestBuildCatalogUnknownClass(t *testing.T) {
	reg := testToolRegistry(t)

	_, err := BuildCatalog(context.Background(), reg, []Binding{enabled("GammaService")}, nil, nil)
	assert.ErrorContains(t, err, "unknown service class")
}

func TestCatalogCounts(t *testing.T) {
	reg := testToolRegistry(t)

	catalog, err := BuildCatalog(context.Background(), reg,
		[]Binding{enabled("AlphaService"), enabled("BetaService")}, nil, nil)
	require.NoError(t, err)

	basic, service := catalog.Counts()
	assert.Equal(t, 2, basic)
	assert.Equal(t, 1, service)
}

func TestDefinitionAdapter(t *testing.T) {
	def := Definition(ToolDescriptor{
		Name:        "convert_temperature",
		Description: "温度を変換します",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"value":     map[string]interface{}{"type": "number", "description": "値"},
				"count":     map[string]interface{}{"type": "integer"},
				"from_unit": map[string]interface{}{"type": "string", "enum": []interface{}{"C", "F", "K"}},
				"nested":    map[string]interface{}{"type": "object"},
				"flag":      map[string]interface{}{"type": "boolean"},
			},
			"required": []interface{}{"value", "from_unit"},
		},
	})

	properties := def.Parameters["properties"].(map[string]interface{})
	assert.Equal(t, "number", properties["value"].(map[string]interface{})["type"])
	assert.Equal(t, "integer", properties["count"].(map[string]interface{})["type"])
	assert.Equal(t, "boolean", properties["flag"].(map[string]interface{})["type"])
	// Unsupported types collapse to string.
	assert.Equal(t, "string", properties["nested"].(map[string]interface{})["type"])
	assert.Equal(t, []interface{}{"C", "F", "K"}, properties["from_unit"].(map[string]interface{})["enum"])
	assert.Equal(t, []interface{}{"value", "from_unit"}, def.Parameters["required"])
}

func TestSchemaOfArgStruct(t *testing.T) {
	type args struct {
		Expression string `json:"expression" jsonschema:"description=計算式"`
		Precision  int    `json:"precision,omitempty"`
	}

	schema := SchemaOf(&args{})
	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, properties, "expression")
	assert.Equal(t, "string", properties["expression"].(map[string]interface{})["type"])

	assert.Contains(t, schema["required"], "expression")
	assert.NotContains(t, schema["required"], "precision")
}
