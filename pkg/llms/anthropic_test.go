package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/torii/pkg/config"
)

func newAnthropicTestProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewAnthropicProvider(&config.ModelProviderConfig{
		APIKey:  "sk-ant-test",
		Host:    server.URL,
		Timeout: 10,
	})
	require.NoError(t, err)
	return p
}

func TestAnthropicGenerate(t *testing.T) {
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "you are helpful", req.System)
		assert.NotZero(t, req.MaxTokens)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "hello"},
				{"type": "tool_use", "id": "toolu_1", "name": "calculate", "input": map[string]string{"expression": "1+2"}},
			},
			"usage": map[string]int{"input_tokens": 10, "output_tokens": 4},
		})
	})

	completion, err := p.Generate(context.Background(), []Message{
		SystemMessage("you are helpful"),
		UserMessage("1+2?"),
	}, nil, Options{Model: "claude-sonnet-4-5-20250929"})
	require.NoError(t, err)

	assert.Equal(t, "hello", completion.Text)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "toolu_1", completion.ToolCalls[0].ID)
	assert.Equal(t, "1+2", completion.ToolCalls[0].Args["expression"])
	assert.Equal(t, 14, completion.Usage.TotalTokens)
}

func TestAnthropicStreaming(t *testing.T) {
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message_start\n"))
		w.Write([]byte(`data: {"type":"message_start","message":{"usage":{"input_tokens":9}}}` + "\n\n"))
		w.Write([]byte(`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}` + "\n\n"))
		w.Write([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}` + "\n\n"))
		w.Write([]byte(`data: {"type":"content_block_stop","index":0}` + "\n\n"))
		w.Write([]byte(`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_2","name":"get_current_time"}}` + "\n\n"))
		w.Write([]byte(`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"timezone\":"}}` + "\n\n"))
		w.Write([]byte(`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"UTC\"}"}}` + "\n\n"))
		w.Write([]byte(`data: {"type":"content_block_stop","index":1}` + "\n\n"))
		w.Write([]byte(`data: {"type":"message_delta","usage":{"output_tokens":6}}` + "\n\n"))
		w.Write([]byte(`data: {"type":"message_stop"}` + "\n\n"))
	})

	ch, err := p.GenerateStreaming(context.Background(), []Message{UserMessage("time?")}, nil, Options{Model: "claude-sonnet-4-5-20250929"})
	require.NoError(t, err)

	chunks := collectChunks(t, ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkText, chunks[0].Type)
	assert.Equal(t, "Hi", chunks[0].Text)
	require.Equal(t, ChunkToolCall, chunks[1].Type)
	assert.Equal(t, "toolu_2", chunks[1].ToolCall.ID)
	assert.Equal(t, "UTC", chunks[1].ToolCall.Args["timezone"])
	assert.Equal(t, ChunkDone, chunks[2].Type)
	assert.Equal(t, 9, chunks[2].Usage.PromptTokens)
	assert.Equal(t, 6, chunks[2].Usage.CompletionTokens)
	assert.Equal(t, 15, chunks[2].Usage.TotalTokens)
}

func TestAnthropicStreamingError(t *testing.T) {
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` + "\n\n"))
	})

	ch, err := p.GenerateStreaming(context.Background(), []Message{UserMessage("hi")}, nil, Options{Model: "claude-haiku-4-5-20251001"})
	require.NoError(t, err)

	chunks := collectChunks(t, ch)
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkError, chunks[0].Type)
	assert.ErrorContains(t, chunks[0].Err, "Overloaded")
}

func TestAnthropicBuildRequestToolResult(t *testing.T) {
	p := &AnthropicProvider{config: &config.ModelProviderConfig{APIKey: "k"}}

	req := p.buildRequest([]Message{
		SystemMessage("sys"),
		UserMessage("time?"),
		AssistantMessage("", ToolCall{ID: "toolu_1", Name: "get_current_time"}),
		ToolResultMessage("toolu_1", "get_current_time", "12:00"),
	}, nil, Options{Model: "claude-sonnet-4-5-20250929"}, false)

	assert.Equal(t, "sys", req.System)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "tool_use", req.Messages[1].Content[0].Type)
	assert.NotNil(t, req.Messages[1].Content[0].Input)
	assert.Equal(t, "user", req.Messages[2].Role)
	assert.Equal(t, "tool_result", req.Messages[2].Content[0].Type)
	assert.Equal(t, "toolu_1", req.Messages[2].Content[0].ToolUseID)
}

func TestAnthropicRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(&config.ModelProviderConfig{})
	assert.Error(t, err)
}
