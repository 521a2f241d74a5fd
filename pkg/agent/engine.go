package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/crypto"
	"github.com/kadirpekel/torii/pkg/events"
	"github.com/kadirpekel/torii/pkg/llms"
	"github.com/kadirpekel/torii/pkg/prompts"
	"github.com/kadirpekel/torii/pkg/tools"
)

const toolCallTimeout = 30 * time.Second

// ProviderRegistry resolves model providers and their allow-lists.
type ProviderRegistry interface {
	Provider(name string) (llms.Provider, error)
	ValidateModel(provider, model string) error
}

// Engine executes chat requests. Safe for concurrent use; all per-request
// state lives in the run.
type Engine struct {
	providers ProviderRegistry
	services  *tools.Registry
	cipher    *crypto.Cipher
	limits    config.AgentLimits
}

func NewEngine(providers ProviderRegistry, services *tools.Registry, cipher *crypto.Cipher, limits config.AgentLimits) *Engine {
	if limits.MaxIterations == 0 {
		limits.MaxIterations = 10
	}
	if limits.MaxWallTimeSeconds == 0 {
		limits.MaxWallTimeSeconds = 120
	}
	return &Engine{providers: providers, services: services, cipher: cipher, limits: limits}
}

// Execute validates the request, assembles the catalog, and starts the
// agent loop. Guard failures are returned before any event exists, so the
// HTTP layer can answer with a plain status instead of a stream. The
// returned bus carries the run's events; the caller owns consumption.
func (e *Engine) Execute(ctx context.Context, req *ChatRequest) (*events.Bus, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider, err := e.providers.Provider(req.AgentConfig.Provider)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeInvalidProvider,
			fmt.Sprintf("provider %q is not configured", req.AgentConfig.Provider), err)
	}
	if err := e.providers.ValidateModel(req.AgentConfig.Provider, req.AgentConfig.Model); err != nil {
		return nil, apierror.Wrap(apierror.CodeInvalidModel,
			fmt.Sprintf("model %q is not allowed for provider %q", req.AgentConfig.Model, req.AgentConfig.Provider), err)
	}

	bindings := req.Services
	if req.CompletionMode == ModeCompletionOnly {
		bindings = nil
	}
	catalog, err := tools.BuildCatalog(ctx, e.services, bindings, req.AllowedTools, e.cipher)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeValidation, "failed to assemble tool catalog", err)
	}

	if req.CompletionMode == ModeToolsRequired && catalog.Len() == 0 {
		return nil, apierror.New(apierror.CodeToolsNoneAvailable,
			"completion_mode is tools_required but no tools are available")
	}

	bus := events.NewBus(
		events.WithCapacity(e.limits.EventBufferSize),
		events.WithIdleTimeout(time.Duration(e.limits.EventIdleSeconds)*time.Second),
	)
	go e.drive(ctx, req, provider, catalog, bus)
	return bus, nil
}

// run is the per-request loop state.
type run struct {
	engine   *Engine
	req      *ChatRequest
	provider llms.Provider
	catalog  *tools.Catalog
	bus      *events.Bus

	started      time.Time
	emittedRunes int
	message      strings.Builder
	records      []events.ToolCallRecord
	usage        events.TokenUsage
}

func (e *Engine) drive(ctx context.Context, req *ChatRequest, provider llms.Provider, catalog *tools.Catalog, bus *events.Bus) {
	r := &run{
		engine:   e,
		req:      req,
		provider: provider,
		catalog:  catalog,
		bus:      bus,
		started:  time.Now(),
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Agent run panicked", "panic", rec, "conversation_id", req.ConversationID)
			r.fail(ctx, apierror.Newf(apierror.CodeInternal, "internal error"))
		}
	}()

	wall := time.Duration(e.limits.MaxWallTimeSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, wall)
	defer cancel()

	var err error
	if provider.SupportsToolCalling() {
		err = r.runFunctionCalling(ctx)
	} else {
		err = r.runTextProtocol(ctx)
	}
	if err != nil {
		r.fail(ctx, err)
		return
	}

	if req.CompletionMode == ModeToolsRequired && len(r.records) == 0 {
		r.fail(ctx, apierror.New(apierror.CodeToolsNotUsed,
			"completion_mode is tools_required but the agent answered without tools"))
		return
	}

	r.finish(ctx)
}

// baseMessages assembles system prompt + windowed history + user message.
// extraSystem is appended to the system prompt (text-protocol grammar).
func (r *run) baseMessages(extraSystem string) []llms.Message {
	system := prompts.SystemPrompt(r.req.AgentConfig.Persona, r.req.AgentConfig.CustomSystemPrompt, r.req.UserName)
	if extraSystem != "" {
		system += extraSystem
	}

	var history []llms.Message
	for _, turn := range r.req.ConversationHistory {
		switch turn.Role {
		case "user":
			history = append(history, llms.UserMessage(turn.Content))
		case "assistant":
			history = append(history, llms.AssistantMessage(turn.Content))
		case "system":
			history = append(history, llms.SystemMessage(turn.Content))
		}
	}
	history = prompts.WindowHistory(history, r.engine.limits.HistoryTokenBudget)

	messages := make([]llms.Message, 0, len(history)+2)
	messages = append(messages, llms.SystemMessage(system))
	messages = append(messages, history...)
	messages = append(messages, llms.UserMessage(r.req.Message))
	return messages
}

func (r *run) options() llms.Options {
	return llms.Options{
		Model:       r.req.AgentConfig.Model,
		Temperature: *r.req.AgentConfig.Temperature,
		MaxTokens:   r.req.AgentConfig.MaxTokens,
	}
}

func (r *run) emitText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := r.bus.Publish(ctx, events.NewToken(text)); err != nil {
		return err
	}
	r.emittedRunes += utf8.RuneCountInString(text)
	r.message.WriteString(text)
	return nil
}

func (r *run) addUsage(u llms.Usage) {
	r.usage.Prompt += u.PromptTokens
	r.usage.Completion += u.CompletionTokens
	r.usage.Total += u.TotalTokens
}

// invokeTool runs one catalog tool: tool_start at the current insert
// position, bounded execution, tool_end and a durable record. The returned
// observation is the untruncated output (or the failure text) for the
// model; only the event and record are truncated.
func (r *run) invokeTool(ctx context.Context, call llms.ToolCall) (string, error) {
	id := call.ID
	if id == "" {
		id = "call-" + uuid.NewString()
	}

	if err := r.bus.Publish(ctx, events.NewToolStart(id, call.Name, call.Args, r.emittedRunes)); err != nil {
		return "", err
	}

	started := time.Now()
	toolCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	output, callErr := r.catalog.Call(toolCtx, call.Name, call.Args)
	cancel()
	elapsed := time.Since(started).Milliseconds()

	status := events.StatusCompleted
	var errText *string
	observation := output
	if callErr != nil {
		status = events.StatusFailed
		message := callErr.Error()
		errText = &message
		observation = fmt.Sprintf("ツール実行エラー: %s", message)
		output = ""
	}

	truncated := truncateRunes(output, maxOutputRunes)
	if err := r.bus.Publish(ctx, events.NewToolEnd(id, status, truncated, errText, elapsed)); err != nil {
		return "", err
	}

	r.records = append(r.records, events.ToolCallRecord{
		ToolID:          id,
		ToolName:        call.Name,
		Status:          status,
		Input:           call.Args,
		Output:          truncated,
		Error:           errText,
		ExecutionTimeMS: elapsed,
		InsertPosition:  r.emittedRunes,
	})
	return observation, nil
}

func (r *run) metadata() events.Metadata {
	basic, service := r.catalog.Counts()
	return events.Metadata{
		Model:             r.req.AgentConfig.Model,
		Provider:          r.req.AgentConfig.Provider,
		TokensUsed:        r.usage,
		ProcessingTimeMS:  time.Since(r.started).Milliseconds(),
		CompletionMode:    r.req.CompletionMode,
		ToolsAvailable:    r.catalog.Len(),
		BasicToolsCount:   basic,
		ServiceToolsCount: service,
	}
}

func (r *run) finish(ctx context.Context) {
	done := events.NewDone(r.req.ConversationID, r.message.String(), r.records, r.metadata())
	if err := r.bus.Publish(ctx, done); err != nil {
		slog.Warn("Consumer gone before done event", "conversation_id", r.req.ConversationID)
	}
}

// fail maps err onto the taxonomy and publishes the error terminal. The
// publish uses a detached context so a deadline that caused the failure
// cannot also swallow its report.
func (r *run) fail(ctx context.Context, err error) {
	code := apierror.CodeInternal
	message := "internal error"

	var apiErr *apierror.Error
	var vendorErr *llms.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
		message = apiErr.Message
	case errors.As(err, &vendorErr):
		code = apierror.CodeModelAPI
		message = fmt.Sprintf("model API error (%s): %s", vendorErr.Provider, vendorErr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		code = apierror.CodeTimeout
		message = "agent execution timed out"
	case errors.Is(err, context.Canceled):
		// Consumer went away; nobody is listening.
		return
	default:
		message = err.Error()
	}

	slog.Error("Agent run failed", "code", code, "error", err, "conversation_id", r.req.ConversationID)

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = r.bus.Publish(publishCtx, events.NewError(string(code), message))
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

// Collect drains the bus and assembles the non-streaming response. A
// terminal error event comes back as an *apierror.Error.
func Collect(ctx context.Context, bus *events.Bus) (*ChatResponse, error) {
	for {
		event, err := bus.Next(ctx)
		if err != nil {
			if errors.Is(err, events.ErrIdleTimeout) {
				return nil, apierror.New(apierror.CodeTimeout, "agent produced no events within the idle window")
			}
			return nil, err
		}

		switch typed := event.(type) {
		case *events.Done:
			return &ChatResponse{
				ConversationID: typed.ConversationID,
				Message:        typed.Message,
				ToolCalls:      typed.ToolCalls,
				Metadata:       typed.Metadata,
			}, nil
		case *events.Error:
			return nil, apierror.New(apierror.Code(typed.Code), typed.Message)
		}
	}
}
