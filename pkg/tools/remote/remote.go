// Package remote provides the remote-catalog tool services: tools hosted
// by external servers and discovered at request time. Discovery happens in
// Fetch; until then Tools() is empty. A server that fails discovery is
// skipped by catalog assembly, never fatal to the request.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/torii/pkg/httpclient"
	"github.com/kadirpekel/torii/pkg/tools"
)

const (
	// DiscoveryTimeout bounds the catalog fetch.
	DiscoveryTimeout = 10 * time.Second
	// CallTimeout bounds a single remote tool invocation.
	CallTimeout = 30 * time.Second
)

// CatalogService proxies tools exposed by a server speaking the native
// catalog protocol: GET <base>/catalog for discovery, POST <base>/call_tool
// for invocation.
type CatalogService struct {
	info    tools.ServiceInfo
	baseURL string
	headers map[string]string
	client  *httpclient.Client

	mu          sync.RWMutex
	server      serverInfo
	descriptors []tools.ToolDescriptor
}

type serverInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

type catalogResponse struct {
	Server serverInfo       `json:"server"`
	Tools  []catalogTooling `json:"tools"`
}

type catalogTooling struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Category    string                 `json:"category"`
	Tags        []string               `json:"tags"`
}

// CatalogFactory builds the native remote-catalog factory. The auth bag's
// api_key becomes the bearer token; every other entry is forwarded as an
// HTTP header verbatim.
func CatalogFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "RemoteCatalogService",
		Name:        "リモートカタログ",
		Description: "外部ツールサーバーのカタログを取得し、ツールを中継実行",
		Icon:        "🔌",
		Kind:        tools.KindRemoteCatalog,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "ツールサーバーのベースURL", Required: true},
		},
		AuthSchema: []tools.SchemaField{
			{Name: "api_key", Type: "string", Description: "Bearerトークン", Secret: true},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			baseURL, _ := config["base_url"].(string)
			if baseURL == "" {
				return nil, fmt.Errorf("remote catalog: base_url is required")
			}

			headers := make(map[string]string, len(auth))
			for name, value := range auth {
				if name == "api_key" {
					headers["Authorization"] = "Bearer " + value
					continue
				}
				headers[name] = value
			}

			return &CatalogService{
				info:    info,
				baseURL: strings.TrimRight(baseURL, "/"),
				headers: headers,
				client: httpclient.New(
					httpclient.WithHTTPClient(&http.Client{Timeout: CallTimeout}),
					httpclient.WithMaxRetries(0),
				),
			}, nil
		},
	}
}

func (s *CatalogService) Class() string                     { return s.info.Class }
func (s *CatalogService) Kind() tools.Kind                  { return tools.KindRemoteCatalog }
func (s *CatalogService) ConfigSchema() []tools.SchemaField { return s.info.ConfigSchema }
func (s *CatalogService) AuthSchema() []tools.SchemaField   { return s.info.AuthSchema }

// Name reports the discovered server name, or the base URL before Fetch.
func (s *CatalogService) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server.Name != "" {
		return s.server.Name
	}
	return s.baseURL
}

func (s *CatalogService) Tools() []tools.ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.descriptors
}

// Fetch retrieves the server catalog and replaces the tool list.
func (s *CatalogService) Fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/catalog", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for name, value := range s.headers {
		req.Header.Set(name, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog fetch failed: HTTP %d", resp.StatusCode)
	}

	var catalog catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return fmt.Errorf("catalog decode failed: %w", err)
	}

	descriptors := make([]tools.ToolDescriptor, 0, len(catalog.Tools))
	for _, tool := range catalog.Tools {
		if tool.Name == "" {
			continue
		}
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "ツールへの入力",
					},
				},
			}
		}
		descriptors = append(descriptors, tools.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
			Category:    tool.Category,
			Tags:        tool.Tags,
		})
	}

	s.mu.Lock()
	s.server = catalog.Server
	s.descriptors = descriptors
	s.mu.Unlock()
	return nil
}

// Call proxies one invocation. Upstream failures come back as readable
// strings so the model can react; the error path is reserved for tools
// that never existed in the catalog.
func (s *CatalogService) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	s.mu.RLock()
	known := false
	for _, d := range s.descriptors {
		if d.Name == tool {
			known = true
			break
		}
	}
	s.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("unknown tool: %s", tool)
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"tool":      tool,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/call_tool", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for name, value := range s.headers {
		req.Header.Set(name, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("エラー: ツールサーバーに接続できません - %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("エラー: ツールサーバーが %d を返しました", resp.StatusCode), nil
	}

	// The result field carries the output; anything else is returned
	// verbatim so partial servers still produce something usable.
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body), nil
	}
	if result, ok := parsed["result"]; ok {
		if text, ok := result.(string); ok {
			return text, nil
		}
		rendered, err := json.Marshal(result)
		if err != nil {
			return fmt.Sprintf("%v", result), nil
		}
		return string(rendered), nil
	}
	return string(body), nil
}
