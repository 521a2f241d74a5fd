package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/events"
	"github.com/kadirpekel/torii/pkg/llms"
	"github.com/kadirpekel/torii/pkg/tools"
	"github.com/kadirpekel/torii/pkg/tools/builtin"
	"github.com/kadirpekel/torii/pkg/tools/remote"
)

// scriptedProvider replays canned turns: streaming turns for the
// function-calling strategy, text turns for the text protocol.
type scriptedProvider struct {
	toolCalling bool
	turns       [][]llms.StreamChunk
	textTurns   []string
	turn        int
	blockOnCtx  bool
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) SupportsToolCalling() bool { return p.toolCalling }
func (p *scriptedProvider) Close() error              { return nil }

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, opts llms.Options) (*llms.Completion, error) {
	if p.turn >= len(p.textTurns) {
		return nil, fmt.Errorf("script exhausted at turn %d", p.turn)
	}
	text := p.textTurns[p.turn]
	p.turn++
	return &llms.Completion{Text: text, Usage: llms.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (p *scriptedProvider) GenerateStreaming(ctx context.Context, messages []llms.Message, defs []llms.ToolDefinition, opts llms.Options) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	if p.blockOnCtx {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}
	if p.turn >= len(p.turns) {
		return nil, fmt.Errorf("script exhausted at turn %d", p.turn)
	}
	chunks := p.turns[p.turn]
	p.turn++
	go func() {
		defer close(ch)
		for _, chunk := range chunks {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type fakeProviders struct {
	provider llms.Provider
}

func (f *fakeProviders) Provider(name string) (llms.Provider, error) {
	if f.provider == nil {
		return nil, llms.ErrUnknownProvider
	}
	return f.provider, nil
}

func (f *fakeProviders) ValidateModel(provider, model string) error { return nil }

func textChunk(s string) llms.StreamChunk {
	return llms.StreamChunk{Type: llms.ChunkText, Text: s}
}

func toolChunk(id, name string, args map[string]interface{}) llms.StreamChunk {
	return llms.StreamChunk{Type: llms.ChunkToolCall, ToolCall: &llms.ToolCall{ID: id, Name: name, Args: args}}
}

func doneChunk() llms.StreamChunk {
	return llms.StreamChunk{Type: llms.ChunkDone, Usage: llms.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
}

func testLimits() config.AgentLimits {
	return config.AgentLimits{
		MaxIterations:      10,
		MaxWallTimeSeconds: 120,
		HistoryTokenBudget: 6000,
		EventBufferSize:    100,
		EventIdleSeconds:   2,
	}
}

func newTestEngine(t *testing.T, provider llms.Provider, factories ...tools.Factory) *Engine {
	t.Helper()
	return NewEngine(&fakeProviders{provider: provider}, testRegistry(t, factories...), nil, testLimits())
}

func testRegistry(t *testing.T, factories ...tools.Factory) *tools.Registry {
	t.Helper()
	if factories == nil {
		factories = builtin.Factories()
	}
	reg, err := tools.NewRegistry(factories...)
	require.NoError(t, err)
	return reg
}

func chatRequest(mode string, services ...tools.Binding) *ChatRequest {
	return &ChatRequest{
		ConversationID: "conv-1",
		Message:        "Hello",
		CompletionMode: mode,
		AgentConfig:    AgentConfig{Provider: "scripted", Model: "test-model"},
		Services:       services,
	}
}

func drain(t *testing.T, bus *events.Bus) []events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var all []events.Event
	for {
		event, err := bus.Next(ctx)
		require.NoError(t, err)
		all = append(all, event)
		if event.Terminal() {
			return all
		}
	}
}

func TestPureChatNoTools(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{textChunk("Hello"), textChunk(" there"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	bus, err := engine.Execute(context.Background(), chatRequest(ModeAuto))
	require.NoError(t, err)

	all := drain(t, bus)
	done, ok := all[len(all)-1].(*events.Done)
	require.True(t, ok)

	var concatenated strings.Builder
	for _, event := range all {
		if token, ok := event.(*events.Token); ok {
			concatenated.WriteString(token.Content)
		}
	}
	assert.Equal(t, "Hello there", done.Message)
	assert.Equal(t, concatenated.String(), done.Message)
	assert.Empty(t, done.ToolCalls)
	assert.Equal(t, 0, done.Metadata.ToolsAvailable)
	assert.Equal(t, 15, done.Metadata.TokensUsed.Total)
	assert.Equal(t, "conv-1", done.ConversationID)
}

func TestSingleToolCall(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{toolChunk("call-1", "calculate", map[string]interface{}{"expression": "17*23"}), doneChunk()},
			{textChunk("答えは391です"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	req := chatRequest(ModeAuto, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)

	var start *events.ToolStart
	var end *events.ToolEnd
	for _, event := range all {
		switch typed := event.(type) {
		case *events.ToolStart:
			start = typed
		case *events.ToolEnd:
			end = typed
		}
	}
	require.NotNil(t, start)
	require.NotNil(t, end)
	assert.Equal(t, "calculate", start.ToolName)
	assert.Equal(t, 0, start.InsertPosition)
	assert.Equal(t, start.ToolID, end.ToolID)
	assert.Equal(t, events.StatusCompleted, end.Status)
	assert.Contains(t, end.Output, "391")

	done := all[len(all)-1].(*events.Done)
	assert.Contains(t, done.Message, "391")
	require.Len(t, done.ToolCalls, 1)
	assert.Equal(t, "calculate", done.ToolCalls[0].ToolName)
	assert.Equal(t, 3, done.Metadata.ToolsAvailable)
	assert.Equal(t, 3, done.Metadata.BasicToolsCount)
	assert.Equal(t, 0, done.Metadata.ServiceToolsCount)
	// Usage accumulated across both iterations.
	assert.Equal(t, 30, done.Metadata.TokensUsed.Total)
}

// Request bodies that bind a service without an explicit enabled flag
// must still contribute its tools to the catalog.
func TestServiceBindingWithoutEnabledFieldContributesTools(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{textChunk("こんにちは"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	body := `{
		"conversation_id": "conv-1",
		"message": "Hello",
		"agent_config": {"provider": "scripted", "model": "test-model"},
		"services": [{"service_class": "CalculationService"}]
	}`
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	bus, err := engine.Execute(context.Background(), &req)
	require.NoError(t, err)

	all := drain(t, bus)
	done := all[len(all)-1].(*events.Done)
	assert.Equal(t, 3, done.Metadata.ToolsAvailable)
	assert.Equal(t, 3, done.Metadata.BasicToolsCount)
}

func TestToolsRequiredButNoneAvailable(t *testing.T) {
	engine := newTestEngine(t, &scriptedProvider{toolCalling: true})

	_, err := engine.Execute(context.Background(), chatRequest(ModeToolsRequired))
	require.Error(t, err)

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeToolsNoneAvailable, apiErr.Code)
	assert.Equal(t, 422, apiErr.Code.HTTPStatus())
}

func TestAllowedToolsEmptyDropsCatalog(t *testing.T) {
	engine := newTestEngine(t, &scriptedProvider{toolCalling: true})

	req := chatRequest(ModeToolsRequired, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	req.AllowedTools = []string{}
	_, err := engine.Execute(context.Background(), req)

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeToolsNoneAvailable, apiErr.Code)
}

func TestRemoteServerUnreachableSkipsService(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{textChunk("リモートツールなしで回答します"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider, remote.CatalogFactory())

	req := chatRequest(ModeAuto, tools.Binding{
		ServiceClass: "RemoteCatalogService",
		Enabled:      true,
		Config:       map[string]interface{}{"base_url": "http://127.0.0.1:1"},
	})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	done, ok := all[len(all)-1].(*events.Done)
	require.True(t, ok, "unreachable tool server must not fail the request")
	assert.Empty(t, done.ToolCalls)
	assert.Equal(t, 0, done.Metadata.ToolsAvailable)
}

func TestToolsRequiredButNotUsed(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{textChunk("ツールは不要です"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	req := chatRequest(ModeToolsRequired, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	errEvent, ok := all[len(all)-1].(*events.Error)
	require.True(t, ok)
	assert.Equal(t, string(apierror.CodeToolsNotUsed), errEvent.Code)
}

func TestCompletionOnlyBindsEmptyCatalog(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{textChunk("direct answer"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	req := chatRequest(ModeCompletionOnly, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	done := all[len(all)-1].(*events.Done)
	assert.Equal(t, 0, done.Metadata.ToolsAvailable)
	assert.Equal(t, ModeCompletionOnly, done.Metadata.CompletionMode)
}

func TestInsertPositionTracksEmittedRunes(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{textChunk("計算します"), toolChunk("call-1", "calculate", map[string]interface{}{"expression": "1+1"}), doneChunk()},
			{textChunk("2です"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	req := chatRequest(ModeAuto, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	for _, event := range all {
		if start, ok := event.(*events.ToolStart); ok {
			// "計算します" is 5 runes.
			assert.Equal(t, 5, start.InsertPosition)
		}
	}
	done := all[len(all)-1].(*events.Done)
	require.Len(t, done.ToolCalls, 1)
	assert.Equal(t, 5, done.ToolCalls[0].InsertPosition)
}

func TestToolFailureIsObservationNotStreamError(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{toolChunk("call-1", "no_such_tool", map[string]interface{}{}), doneChunk()},
			{textChunk("そのツールはありません"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	req := chatRequest(ModeAuto, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	var end *events.ToolEnd
	for _, event := range all {
		if typed, ok := event.(*events.ToolEnd); ok {
			end = typed
		}
	}
	require.NotNil(t, end)
	assert.Equal(t, events.StatusFailed, end.Status)
	require.NotNil(t, end.Error)

	_, ok := all[len(all)-1].(*events.Done)
	assert.True(t, ok, "tool failure must not terminate the stream")
}

func TestIterationCapStillEmitsDone(t *testing.T) {
	toolTurn := []llms.StreamChunk{
		toolChunk("", "calculate", map[string]interface{}{"expression": "1+1"}), doneChunk(),
	}
	provider := &scriptedProvider{
		toolCalling: true,
		turns:       [][]llms.StreamChunk{toolTurn, toolTurn},
	}
	limits := testLimits()
	limits.MaxIterations = 2
	engine := NewEngine(&fakeProviders{provider: provider}, testRegistry(t), nil, limits)

	req := chatRequest(ModeAuto, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	done, ok := all[len(all)-1].(*events.Done)
	require.True(t, ok)
	assert.Len(t, done.ToolCalls, 2)
}

func TestWallTimeoutEmitsTimeoutError(t *testing.T) {
	provider := &scriptedProvider{toolCalling: true, blockOnCtx: true}
	limits := testLimits()
	limits.MaxWallTimeSeconds = 1
	engine := NewEngine(&fakeProviders{provider: provider}, testRegistry(t), nil, limits)

	bus, err := engine.Execute(context.Background(), chatRequest(ModeAuto))
	require.NoError(t, err)

	all := drain(t, bus)
	errEvent, ok := all[len(all)-1].(*events.Error)
	require.True(t, ok)
	assert.Equal(t, string(apierror.CodeTimeout), errEvent.Code)
}

func TestCancellationEmitsNoTerminal(t *testing.T) {
	provider := &scriptedProvider{toolCalling: true, blockOnCtx: true}
	engine := newTestEngine(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	bus, err := engine.Execute(ctx, chatRequest(ModeAuto))
	require.NoError(t, err)
	cancel()

	// The producer observes the cancel and stops without a terminal.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()
	_, nextErr := bus.Next(waitCtx)
	require.Error(t, nextErr)
}

func TestTextProtocolToolLoop(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: false,
		textTurns: []string{
			"Thought: 計算が必要です\nAction: calculate\nAction Input: {\"expression\": \"17*23\"}",
			"Thought: 最終的な答えがわかりました\nFinal Answer: 17×23は391です。",
		},
	}
	engine := newTestEngine(t, provider)

	req := chatRequest(ModeAuto, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)

	var sawStart, sawEnd bool
	for _, event := range all {
		switch typed := event.(type) {
		case *events.ToolStart:
			sawStart = true
			assert.Equal(t, "calculate", typed.ToolName)
		case *events.ToolEnd:
			sawEnd = true
			assert.Contains(t, typed.Output, "391")
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawEnd)

	done := all[len(all)-1].(*events.Done)
	assert.Equal(t, "17×23は391です。", done.Message)
}

func TestTextProtocolIterationCapSurfacesLastTurn(t *testing.T) {
	actionTurn := "Thought: まだ計算が必要です\nAction: calculate\nAction Input: {\"expression\": \"1+1\"}"
	provider := &scriptedProvider{
		toolCalling: false,
		textTurns:   []string{actionTurn, actionTurn},
	}
	limits := testLimits()
	limits.MaxIterations = 2
	engine := NewEngine(&fakeProviders{provider: provider}, testRegistry(t), nil, limits)

	req := chatRequest(ModeAuto, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	done, ok := all[len(all)-1].(*events.Done)
	require.True(t, ok)
	// The cap must not swallow the conversation: the last model turn
	// becomes the final message.
	assert.Equal(t, actionTurn, done.Message)
}

func TestTextProtocolRecoversFromMalformedTurn(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: false,
		textTurns: []string{
			"ここにフォーマット無視の応答",
			"Thought: わかりました\nFinal Answer: 整形し直しました。",
		},
	}
	engine := newTestEngine(t, provider)

	req := chatRequest(ModeAuto, tools.Binding{ServiceClass: "CalculationService", Enabled: true})
	bus, err := engine.Execute(context.Background(), req)
	require.NoError(t, err)

	all := drain(t, bus)
	done := all[len(all)-1].(*events.Done)
	assert.Equal(t, "整形し直しました。", done.Message)
}

func TestTextProtocolNoToolsAnswersDirectly(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: false,
		textTurns:   []string{"こんにちは！"},
	}
	engine := newTestEngine(t, provider)

	bus, err := engine.Execute(context.Background(), chatRequest(ModeAuto))
	require.NoError(t, err)

	done := drain(t, bus)[1].(*events.Done)
	assert.Equal(t, "こんにちは！", done.Message)
}

func TestValidationBounds(t *testing.T) {
	base := func() *ChatRequest { return chatRequest(ModeAuto) }

	t.Run("empty message", func(t *testing.T) {
		req := base()
		req.Message = ""
		err := req.Validate()
		require.NotNil(t, err)
		assert.Equal(t, apierror.CodeValidation, err.Code)
	})

	t.Run("message at limit accepted", func(t *testing.T) {
		req := base()
		req.Message = strings.Repeat("あ", 10000)
		require.Nil(t, req.Validate())
	})

	t.Run("message over limit rejected", func(t *testing.T) {
		req := base()
		req.Message = strings.Repeat("あ", 10001)
		require.NotNil(t, req.Validate())
	})

	t.Run("bad completion mode", func(t *testing.T) {
		req := base()
		req.CompletionMode = "sometimes"
		err := req.Validate()
		require.NotNil(t, err)
		assert.Equal(t, apierror.CodeInvalidCompletionMode, err.Code)
	})

	t.Run("temperature out of range", func(t *testing.T) {
		req := base()
		temp := 2.5
		req.AgentConfig.Temperature = &temp
		require.NotNil(t, req.Validate())
	})

	t.Run("max_tokens out of range", func(t *testing.T) {
		req := base()
		req.AgentConfig.MaxTokens = 8001
		require.NotNil(t, req.Validate())
	})

	t.Run("defaults applied", func(t *testing.T) {
		req := base()
		req.CompletionMode = ""
		require.Nil(t, req.Validate())
		assert.Equal(t, ModeAuto, req.CompletionMode)
		assert.Equal(t, 0.7, *req.AgentConfig.Temperature)
		assert.Equal(t, 2000, req.AgentConfig.MaxTokens)
		assert.Equal(t, "assistant", req.AgentConfig.Persona)
	})
}

func TestCollect(t *testing.T) {
	provider := &scriptedProvider{
		toolCalling: true,
		turns: [][]llms.StreamChunk{
			{textChunk("collected"), doneChunk()},
		},
	}
	engine := newTestEngine(t, provider)

	bus, err := engine.Execute(context.Background(), chatRequest(ModeAuto))
	require.NoError(t, err)

	resp, err := Collect(context.Background(), bus)
	require.NoError(t, err)
	assert.Equal(t, "collected", resp.Message)
	assert.Equal(t, "conv-1", resp.ConversationID)
	assert.NotNil(t, resp.ToolCalls)
}

func TestCollectReturnsStreamError(t *testing.T) {
	provider := &scriptedProvider{toolCalling: true, blockOnCtx: true}
	limits := testLimits()
	limits.MaxWallTimeSeconds = 1
	engine := NewEngine(&fakeProviders{provider: provider}, testRegistry(t), nil, limits)

	bus, err := engine.Execute(context.Background(), chatRequest(ModeAuto))
	require.NoError(t, err)

	_, err = Collect(context.Background(), bus)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeTimeout, apiErr.Code)
}

func TestParseReActStep(t *testing.T) {
	t.Run("final answer", func(t *testing.T) {
		step, ok := parseReActStep("Thought: done\nFinal Answer: こたえ")
		require.True(t, ok)
		assert.True(t, step.isFinal)
		assert.Equal(t, "こたえ", step.finalAnswer)
	})

	t.Run("action with json input", func(t *testing.T) {
		step, ok := parseReActStep("Thought: x\nAction: calculate\nAction Input: {\"expression\": \"1+1\"}\nObservation:")
		require.True(t, ok)
		assert.False(t, step.isFinal)
		assert.Equal(t, "calculate", step.action)
		assert.Equal(t, "1+1", step.actionInput["expression"])
	})

	t.Run("action with raw input becomes query", func(t *testing.T) {
		step, ok := parseReActStep("Action: web_search\nAction Input: 東京の天気")
		require.True(t, ok)
		assert.Equal(t, "東京の天気", step.actionInput["query"])
	})

	t.Run("unparseable", func(t *testing.T) {
		_, ok := parseReActStep("自由形式の応答")
		assert.False(t, ok)
	})
}
