// Package llms provides the uniform model-provider facade: one interface
// over OpenAI, Anthropic, Gemini, and Ollama, with streaming and native
// tool-calling where the vendor supports it.
package llms

import (
	"context"
	"fmt"
)

// Role classifies a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries a tool result back to the model; it references the
	// originating call through ToolCallID.
	RoleTool Role = "tool"
)

// ToolCall is a structured tool request emitted by a model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Message is one turn of model input. Assistant turns may carry the tool
// calls they issued; tool turns carry one result keyed by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

func ToolResultMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: toolName}
}

// ToolDefinition is the vendor-neutral function-calling binding for one
// tool. Parameters is a JSON-Schema-shaped object tree.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage is token accounting reported by the vendor; zero when unavailable.
type Usage struct {
	PromptTokens     int `json:"prompt"`
	CompletionTokens int `json:"completion"`
	TotalTokens      int `json:"total"`
}

// Options are per-request generation parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completion is a finished non-streaming model response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// ChunkType discriminates StreamChunk variants.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
	ChunkDone     ChunkType = "done"
	ChunkError    ChunkType = "error"
)

// StreamChunk is one unit of streaming model output. A stream is a sequence
// of text/tool_call chunks terminated by exactly one done or error chunk.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolCall
	Usage    Usage // populated on done when the vendor reports it
	Err      error
}

// Provider is the uniform model facade. Implementations are safe for
// concurrent use; one instance serves all requests for its vendor.
type Provider interface {
	// Name returns the provider identifier (openai, anthropic, ...).
	Name() string

	// SupportsToolCalling reports whether the vendor has reliable native
	// function calling. Providers without it are driven through the
	// text-protocol agent strategy instead.
	SupportsToolCalling() bool

	Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Completion, error)

	// GenerateStreaming returns a channel closed after the terminal chunk.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error)

	Close() error
}

// APIError is a vendor rejection with the upstream status attached, letting
// the boundary map it onto the error taxonomy without string matching.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}
