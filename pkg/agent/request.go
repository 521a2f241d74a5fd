// Package agent drives the model through reason→tool→observe cycles and
// publishes the resulting event stream.
package agent

import (
	"unicode/utf8"

	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/events"
	"github.com/kadirpekel/torii/pkg/prompts"
	"github.com/kadirpekel/torii/pkg/tools"
)

// Completion modes.
const (
	ModeAuto           = "auto"
	ModeToolsRequired  = "tools_required"
	ModeCompletionOnly = "completion_only"
)

// Message bounds (rune counts).
const (
	maxMessageRunes = 10000
	maxOutputRunes  = 500
)

// AgentConfig selects the model and prompt shape for one request.
type AgentConfig struct {
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          int      `json:"max_tokens"`
	Persona            string   `json:"persona"`
	CustomSystemPrompt string   `json:"custom_system_prompt"`
}

// HistoryMessage is one prior conversation turn.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat operation input. AllowedTools keeps its
// three-state semantics: nil passes everything, empty drops everything.
type ChatRequest struct {
	UserID              string           `json:"user_id"`
	UserName            string           `json:"user_name"`
	ConversationID      string           `json:"conversation_id"`
	Message             string           `json:"message"`
	CompletionMode      string           `json:"completion_mode"`
	AllowedTools        []string         `json:"allowed_tools"`
	AgentConfig         AgentConfig      `json:"agent_config"`
	Services            []tools.Binding  `json:"services"`
	ConversationHistory []HistoryMessage `json:"conversation_history"`
}

// ChatResponse is the non-streaming chat result; it mirrors the done event.
type ChatResponse struct {
	ConversationID string                  `json:"conversation_id"`
	Message        string                  `json:"message"`
	ToolCalls      []events.ToolCallRecord `json:"tool_calls"`
	Metadata       events.Metadata         `json:"metadata"`
}

// Validate applies defaults and bounds. It mutates the request in place so
// downstream code always sees resolved values.
func (r *ChatRequest) Validate() *apierror.Error {
	runes := utf8.RuneCountInString(r.Message)
	if runes == 0 {
		return apierror.New(apierror.CodeValidation, "message is required")
	}
	if runes > maxMessageRunes {
		return apierror.Newf(apierror.CodeValidation, "message exceeds %d characters", maxMessageRunes)
	}

	switch r.CompletionMode {
	case "":
		r.CompletionMode = ModeAuto
	case ModeAuto, ModeToolsRequired, ModeCompletionOnly:
	default:
		return apierror.Newf(apierror.CodeInvalidCompletionMode, "unknown completion mode: %s", r.CompletionMode)
	}

	if r.AgentConfig.Provider == "" {
		return apierror.New(apierror.CodeInvalidProvider, "agent_config.provider is required")
	}
	if r.AgentConfig.Model == "" {
		return apierror.New(apierror.CodeInvalidModel, "agent_config.model is required")
	}

	if r.AgentConfig.Temperature == nil {
		t := 0.7
		r.AgentConfig.Temperature = &t
	} else if *r.AgentConfig.Temperature < 0 || *r.AgentConfig.Temperature > 2 {
		return apierror.New(apierror.CodeValidation, "temperature must be between 0 and 2")
	}

	if r.AgentConfig.MaxTokens == 0 {
		r.AgentConfig.MaxTokens = 2000
	} else if r.AgentConfig.MaxTokens < 1 || r.AgentConfig.MaxTokens > 8000 {
		return apierror.New(apierror.CodeValidation, "max_tokens must be between 1 and 8000")
	}

	if r.AgentConfig.Persona == "" {
		r.AgentConfig.Persona = prompts.PersonaAssistant
	}

	return nil
}
