package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/torii/pkg/httpclient"
	"github.com/kadirpekel/torii/pkg/tools"
)

const mcpProtocolVersion = "2024-11-05"

// MCPService proxies tools from a standard MCP server. Stdio transport
// uses the mcp-go subprocess client; HTTP transports speak JSON-RPC
// directly so the retrying HTTP client stays in the path.
type MCPService struct {
	info      tools.ServiceInfo
	url       string
	command   string
	args      []string
	env       map[string]string
	headers   map[string]string
	client    *httpclient.Client
	useStdio  bool
	sessionMu sync.RWMutex
	sessionID string

	mu          sync.Mutex
	stdio       *client.Client
	descriptors []tools.ToolDescriptor
}

// MCPFactory builds the MCP remote-catalog factory. Either url (HTTP
// transports) or command (stdio) must be configured.
func MCPFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "MCPService",
		Name:        "MCP",
		Description: "標準MCPサーバーのツールを取得し、中継実行",
		Icon:        "🧩",
		Kind:        tools.KindRemoteCatalog,
		ConfigSchema: []tools.SchemaField{
			{Name: "url", Type: "string", Description: "MCPサーバーのURL（HTTPトランスポート）"},
			{Name: "command", Type: "string", Description: "起動コマンド（stdioトランスポート）"},
		},
		AuthSchema: []tools.SchemaField{
			{Name: "api_key", Type: "string", Description: "Bearerトークン", Secret: true},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			url, _ := config["url"].(string)
			command, _ := config["command"].(string)
			if url == "" && command == "" {
				return nil, fmt.Errorf("mcp: either url or command is required")
			}

			var args []string
			if raw, ok := config["args"].([]interface{}); ok {
				for _, item := range raw {
					if s, ok := item.(string); ok {
						args = append(args, s)
					}
				}
			}
			env := map[string]string{}
			if raw, ok := config["env"].(map[string]interface{}); ok {
				for name, value := range raw {
					if s, ok := value.(string); ok {
						env[name] = s
					}
				}
			}

			headers := make(map[string]string, len(auth))
			for name, value := range auth {
				if name == "api_key" {
					headers["Authorization"] = "Bearer " + value
					continue
				}
				headers[name] = value
			}

			return &MCPService{
				info:     info,
				url:      url,
				command:  command,
				args:     args,
				env:      env,
				headers:  headers,
				useStdio: command != "",
				client: httpclient.New(
					httpclient.WithHTTPClient(&http.Client{Timeout: CallTimeout}),
					httpclient.WithMaxRetries(0),
				),
			}, nil
		},
	}
}

func (s *MCPService) Class() string                     { return s.info.Class }
func (s *MCPService) Name() string                      { return s.info.Name }
func (s *MCPService) Kind() tools.Kind                  { return tools.KindRemoteCatalog }
func (s *MCPService) ConfigSchema() []tools.SchemaField { return s.info.ConfigSchema }
func (s *MCPService) AuthSchema() []tools.SchemaField   { return s.info.AuthSchema }

func (s *MCPService) Tools() []tools.ToolDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptors
}

// Fetch runs initialize + tools/list on the server.
func (s *MCPService) Fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	if s.useStdio {
		return s.fetchStdio(ctx)
	}
	return s.fetchHTTP(ctx)
}

func (s *MCPService) fetchStdio(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdio == nil {
		mcpClient, err := client.NewStdioMCPClient(s.command, envSlice(s.env), s.args...)
		if err != nil {
			return fmt.Errorf("mcp client: %w", err)
		}
		if err := mcpClient.Start(ctx); err != nil {
			return fmt.Errorf("mcp start: %w", err)
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ClientInfo = mcp.Implementation{Name: "torii", Version: "1.0.0"}
		initReq.Params.ProtocolVersion = mcpProtocolVersion
		if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
			mcpClient.Close()
			return fmt.Errorf("mcp initialize: %w", err)
		}
		s.stdio = mcpClient
	}

	listResp, err := s.stdio.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcp tools/list: %w", err)
	}

	descriptors := make([]tools.ToolDescriptor, 0, len(listResp.Tools))
	for _, tool := range listResp.Tools {
		descriptors = append(descriptors, tools.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
			Category:    "mcp",
		})
	}
	s.descriptors = descriptors
	return nil
}

func (s *MCPService) fetchHTTP(ctx context.Context) error {
	initResp, err := s.rpc(ctx, "initialize", map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo":      map[string]interface{}{"name": "torii", "version": "1.0.0"},
		"capabilities":    map[string]interface{}{},
	})
	if err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("mcp initialize: %s", initResp.Error.Message)
	}

	listResp, err := s.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("mcp tools/list: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("mcp tools/list: %s", listResp.Error.Message)
	}

	result, ok := listResp.Result.(map[string]interface{})
	if !ok {
		return fmt.Errorf("mcp tools/list: unexpected result shape")
	}
	rawTools, ok := result["tools"].([]interface{})
	if !ok {
		return fmt.Errorf("mcp tools/list: missing tools")
	}

	var descriptors []tools.ToolDescriptor
	for _, raw := range rawTools {
		tool, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			continue
		}
		description, _ := tool["description"].(string)
		schema, _ := tool["inputSchema"].(map[string]interface{})
		descriptors = append(descriptors, tools.ToolDescriptor{
			Name:        name,
			Description: description,
			InputSchema: schema,
			Category:    "mcp",
		})
	}

	s.mu.Lock()
	s.descriptors = descriptors
	s.mu.Unlock()
	return nil
}

// Call invokes tools/call. MCP-level failures come back as readable
// strings; the error path means the tool was never discovered.
func (s *MCPService) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	s.mu.Lock()
	known := false
	for _, d := range s.descriptors {
		if d.Name == tool {
			known = true
			break
		}
	}
	stdio := s.stdio
	s.mu.Unlock()
	if !known {
		return "", fmt.Errorf("unknown tool: %s", tool)
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	if s.useStdio {
		if stdio == nil {
			return "", fmt.Errorf("mcp client not connected")
		}
		req := mcp.CallToolRequest{}
		req.Params.Name = tool
		req.Params.Arguments = args

		resp, err := stdio.CallTool(ctx, req)
		if err != nil {
			return fmt.Sprintf("エラー: MCPサーバーの呼び出しに失敗しました - %v", err), nil
		}
		return renderMCPContent(resp.IsError, textContents(resp)), nil
	}

	resp, err := s.rpc(ctx, "tools/call", map[string]interface{}{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return fmt.Sprintf("エラー: MCPサーバーの呼び出しに失敗しました - %v", err), nil
	}
	if resp.Error != nil {
		return fmt.Sprintf("エラー: MCPエラー - %s", resp.Error.Message), nil
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		rendered, _ := json.Marshal(resp.Result)
		return string(rendered), nil
	}

	isError, _ := result["isError"].(bool)
	var texts []string
	if content, ok := result["content"].([]interface{}); ok {
		for _, item := range content {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := entry["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	return renderMCPContent(isError, texts), nil
}

func renderMCPContent(isError bool, texts []string) string {
	joined := strings.TrimSpace(strings.Join(texts, "\n"))
	if isError {
		if joined == "" {
			joined = "不明なエラー"
		}
		return "エラー: " + joined
	}
	return joined
}

func textContents(resp *mcp.CallToolResult) []string {
	var texts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	return texts
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpc posts one JSON-RPC request. Streamable-HTTP servers hand back a
// session id header that must be echoed on subsequent requests; servers
// that answer in SSE framing get their first data event parsed.
func (s *MCPService) rpc(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for name, value := range s.headers {
		req.Header.Set(name, value)
	}

	s.sessionMu.RLock()
	sessionID := s.sessionID
	s.sessionMu.RUnlock()
	if sessionID != "" {
		req.Header.Set("mcp-session-id", sessionID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if newSessionID := resp.Header.Get("mcp-session-id"); newSessionID != "" {
		s.sessionMu.Lock()
		s.sessionID = newSessionID
		s.sessionMu.Unlock()
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(data, &parsed); err == nil {
		return &parsed, nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if err := json.Unmarshal([]byte(payload), &parsed); err == nil {
			return &parsed, nil
		}
	}
	return nil, fmt.Errorf("unparseable response")
}

// Close shuts down the stdio subprocess if one was started.
func (s *MCPService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdio != nil {
		err := s.stdio.Close()
		s.stdio = nil
		return err
	}
	return nil
}

// schemaToMap round-trips the typed MCP schema through JSON into the
// generic map shape the catalog carries.
func schemaToMap(schema mcp.ToolInputSchema) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]interface{}{"type": "object"}
	}
	return out
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for name, value := range env {
		result = append(result, name+"="+value)
	}
	return result
}
