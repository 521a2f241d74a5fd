package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/torii/pkg/agent"
	"github.com/kadirpekel/torii/pkg/auth"
	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/llms"
	"github.com/kadirpekel/torii/pkg/prompts"
	"github.com/kadirpekel/torii/pkg/ratelimit"
	"github.com/kadirpekel/torii/pkg/tools"
	"github.com/kadirpekel/torii/pkg/tools/builtin"
)

// scriptedProvider replays canned streaming turns.
type scriptedProvider struct {
	turns [][]llms.StreamChunk
	turn  int
	text  string
}

func (p *scriptedProvider) Name() string              { return "openai" }
func (p *scriptedProvider) SupportsToolCalling() bool { return true }
func (p *scriptedProvider) Close() error              { return nil }

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, opts llms.Options) (*llms.Completion, error) {
	return &llms.Completion{Text: p.text}, nil
}

func (p *scriptedProvider) GenerateStreaming(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, opts llms.Options) (<-chan llms.StreamChunk, error) {
	if p.turn >= len(p.turns) {
		return nil, fmt.Errorf("script exhausted")
	}
	chunks := p.turns[p.turn]
	p.turn++
	ch := make(chan llms.StreamChunk, len(chunks))
	for _, chunk := range chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

type fakeProviders struct {
	provider llms.Provider
}

func (f *fakeProviders) Provider(name string) (llms.Provider, error) {
	if name != f.provider.Name() {
		return nil, llms.ErrUnknownProvider
	}
	return f.provider, nil
}

func (f *fakeProviders) ValidateModel(provider, model string) error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{
		Environment: "development",
		Providers: map[string]*config.ModelProviderConfig{
			"openai": {APIKey: "sk-test", Models: []string{"gpt-4.1"}},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, provider *scriptedProvider) *Server {
	t.Helper()
	registry, err := tools.NewRegistry(builtin.Factories()...)
	require.NoError(t, err)

	providers := &fakeProviders{provider: provider}
	cfg := testConfig()
	engine := agent.NewEngine(providers, registry, nil, cfg.Agent)

	srv, err := New(cfg, Dependencies{
		Engine:   engine,
		Enhancer: prompts.NewEnhancer(providers, cfg.Enhancement),
		Services: registry,
	})
	require.NoError(t, err)
	return srv
}

func chatBody(message string) string {
	return fmt.Sprintf(`{
		"conversation_id": "conv-1",
		"message": %q,
		"agent_config": {"provider": "openai", "model": "gpt-4.1"}
	}`, message)
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.StreamChunk{{
		{Type: llms.ChunkText, Text: "こんにちは"},
		{Type: llms.ChunkDone, Usage: llms.Usage{TotalTokens: 12}},
	}}}
	router := newTestServer(t, provider).Router()

	rec := postJSON(t, router, "/api/v1/chat", chatBody("やあ"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp agent.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "こんにちは", resp.Message)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.NotNil(t, resp.ToolCalls)
	assert.Equal(t, 12, resp.Metadata.TokensUsed.Total)
}

func TestChatValidationError(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	rec := postJSON(t, router, "/api/v1/chat", chatBody(""))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestChatMalformedJSON(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()
	rec := postJSON(t, router, "/api/v1/chat", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamFrames(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llms.StreamChunk{{
		{Type: llms.ChunkText, Text: "Hello"},
		{Type: llms.ChunkText, Text: " world"},
		{Type: llms.ChunkDone},
	}}}
	router := newTestServer(t, provider).Router()

	rec := postJSON(t, router, "/api/v1/chat/stream", chatBody("hi"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var types []string
	var message string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		types = append(types, frame["type"].(string))
		if frame["type"] == "done" {
			message = frame["message"].(string)
		}
	}
	assert.Equal(t, []string{"token", "token", "done"}, types)
	assert.Equal(t, "Hello world", message)
}

func TestChatStreamGuardFailureIsPlainJSON(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	body := `{
		"message": "hi",
		"completion_mode": "tools_required",
		"agent_config": {"provider": "openai", "model": "gpt-4.1"}
	}`
	rec := postJSON(t, router, "/api/v1/chat/stream", body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var parsed struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, "TOOLS_REQUIRED_BUT_NONE_AVAILABLE", parsed.Error.Code)
}

func TestEnhancePrompt(t *testing.T) {
	provider := &scriptedProvider{text: "あなたは有能なアシスタントです。"}
	router := newTestServer(t, provider).Router()

	rec := postJSON(t, router, "/api/v1/enhance-prompt", `{"current_prompt": "手伝って"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result prompts.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "あなたは有能なアシスタントです。", result.EnhancedPrompt)
	assert.Equal(t, 4, result.Metadata.OriginalLength)
}

func TestEnhancePromptEmptyInput(t *testing.T) {
	provider := &scriptedProvider{text: "汎用プロンプトです。"}
	router := newTestServer(t, provider).Router()

	rec := postJSON(t, router, "/api/v1/enhance-prompt", `{"current_prompt": ""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result prompts.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.EnhancedPrompt)
	assert.Equal(t, 0, result.Metadata.OriginalLength)
}

func TestListServices(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp servicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Count)

	classes := make([]string, 0, len(resp.Services))
	for _, info := range resp.Services {
		classes = append(classes, info.Class)
	}
	assert.Contains(t, classes, "CalculationService")
	assert.Contains(t, classes, "DateTimeService")
}

func TestServiceTools(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services/CalculationService/tools", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp serviceToolsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CalculationService", resp.ServiceClass)
	assert.Equal(t, 3, resp.Count)
}

func TestServiceToolsUnknownClassIs404(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services/NoSuchService/tools", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteTool(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	rec := postJSON(t, router, "/api/v1/services/CalculationService/execute",
		`{"tool_name": "calculate", "arguments": {"expression": "17*23"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp executeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Result, "391")
}

func TestExecuteToolMissingName(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	rec := postJSON(t, router, "/api/v1/services/CalculationService/execute", `{"arguments": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	for _, path := range []string{"/health", "/api/v1/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		var resp healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "torii", resp.Service)
		assert.Equal(t, "ok", resp.Dependencies["openai"])
		assert.Equal(t, "not_configured", resp.Dependencies["anthropic"])
		assert.Empty(t, resp.Errors)
	}
}

func TestHealthUnhealthyWithoutProviders(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	srv.cfg.Providers = nil
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.NotEmpty(t, resp.Errors)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &scriptedProvider{})
	srv.cfg.Server.CORSOrigins = []string{"https://app.example.com"}
	router := srv.Router()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	denied := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	deniedRec := httptest.NewRecorder()
	router.ServeHTTP(deniedRec, denied)
	assert.Empty(t, deniedRec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthRejectsMissingToken(t *testing.T) {
	registry, err := tools.NewRegistry(builtin.Factories()...)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, Secret: "server-test-secret"}
	validator, err := auth.NewValidator(cfg.Auth)
	require.NoError(t, err)

	providers := &fakeProviders{provider: &scriptedProvider{}}
	srv, err := New(cfg, Dependencies{
		Engine:    agent.NewEngine(providers, registry, nil, cfg.Agent),
		Services:  registry,
		Validator: validator,
	})
	require.NoError(t, err)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open even with auth enabled.
	health := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	router.ServeHTTP(healthRec, health)
	assert.Equal(t, http.StatusOK, healthRec.Code)
}

// A nil *auth.JWTValidator (auth disabled) must not turn into a typed-nil
// interface that makes the middleware demand tokens anyway.
func TestAuthDisabledLeavesRoutesOpen(t *testing.T) {
	registry, err := tools.NewRegistry(builtin.Factories()...)
	require.NoError(t, err)

	cfg := testConfig()
	providers := &fakeProviders{provider: &scriptedProvider{}}
	srv, err := New(cfg, Dependencies{
		Engine:    agent.NewEngine(providers, registry, nil, cfg.Agent),
		Services:  registry,
		Validator: nil,
	})
	require.NoError(t, err)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitReturns429(t *testing.T) {
	registry, err := tools.NewRegistry(builtin.Factories()...)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{
		Enabled: true,
		Rules:   []config.RateLimitRule{{Window: "minute", Limit: 1}},
	}
	limiter, err := ratelimit.New(cfg.RateLimit, nil)
	require.NoError(t, err)

	providers := &fakeProviders{provider: &scriptedProvider{}}
	srv, err := New(cfg, Dependencies{
		Engine:   agent.NewEngine(providers, registry, nil, cfg.Agent),
		Services: registry,
		Limiter:  limiter,
	})
	require.NoError(t, err)
	router := srv.Router()

	first := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	firstRec := httptest.NewRecorder()
	router.ServeHTTP(firstRec, first)
	require.Equal(t, http.StatusOK, firstRec.Code)

	second := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	second.RemoteAddr = "10.0.0.1:1234"
	secondRec := httptest.NewRecorder()
	router.ServeHTTP(secondRec, second)
	assert.Equal(t, http.StatusTooManyRequests, secondRec.Code)
	assert.NotEmpty(t, secondRec.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestServer(t, &scriptedProvider{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
