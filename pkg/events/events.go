// Package events carries the streaming protocol between the agent engine
// and the HTTP boundary: the five wire event shapes and a bounded
// single-producer single-consumer bus with terminal discipline.
package events

// Type discriminates wire events.
type Type string

const (
	TypeToken     Type = "token"
	TypeToolStart Type = "tool_start"
	TypeToolEnd   Type = "tool_end"
	TypeDone      Type = "done"
	TypeError     Type = "error"
)

// Event is one frame of the stream. Exactly one terminal event (done or
// error) ends a stream.
type Event interface {
	EventType() Type
	Terminal() bool
}

// Token is an incremental piece of assistant text.
type Token struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
}

func NewToken(content string) *Token {
	return &Token{Type: TypeToken, Content: content}
}

func (e *Token) EventType() Type { return TypeToken }
func (e *Token) Terminal() bool  { return false }

// ToolStart announces a tool invocation. InsertPosition is the rune count
// of all token content emitted before this call, anchoring the call site
// in the assembled message.
type ToolStart struct {
	Type           Type                   `json:"type"`
	ToolID         string                 `json:"tool_id"`
	ToolName       string                 `json:"tool_name"`
	Input          map[string]interface{} `json:"input"`
	InsertPosition int                    `json:"insert_position"`
}

func NewToolStart(id, name string, input map[string]interface{}, insertPosition int) *ToolStart {
	return &ToolStart{Type: TypeToolStart, ToolID: id, ToolName: name, Input: input, InsertPosition: insertPosition}
}

func (e *ToolStart) EventType() Type { return TypeToolStart }
func (e *ToolStart) Terminal() bool  { return false }

// Tool invocation statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ToolEnd reports the outcome of a started invocation. Output is truncated
// to 500 runes; the untruncated result only reaches the model.
type ToolEnd struct {
	Type            Type    `json:"type"`
	ToolID          string  `json:"tool_id"`
	Status          string  `json:"status"`
	Output          string  `json:"output"`
	Error           *string `json:"error"`
	ExecutionTimeMS int64   `json:"execution_time_ms"`
}

func NewToolEnd(id, status, output string, errMessage *string, executionTimeMS int64) *ToolEnd {
	return &ToolEnd{Type: TypeToolEnd, ToolID: id, Status: status, Output: output, Error: errMessage, ExecutionTimeMS: executionTimeMS}
}

func (e *ToolEnd) EventType() Type { return TypeToolEnd }
func (e *ToolEnd) Terminal() bool  { return false }

// TokenUsage is model token accounting; zeros when the vendor did not
// report usage.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Metadata summarizes one completed run.
type Metadata struct {
	Model             string     `json:"model"`
	Provider          string     `json:"provider"`
	TokensUsed        TokenUsage `json:"tokens_used"`
	ProcessingTimeMS  int64      `json:"processing_time_ms"`
	CompletionMode    string     `json:"completion_mode_used"`
	ToolsAvailable    int        `json:"tools_available"`
	BasicToolsCount   int        `json:"basic_tools_count"`
	ServiceToolsCount int        `json:"service_tools_count"`
}

// ToolCallRecord is the durable record of one invocation, carried in done.
type ToolCallRecord struct {
	ToolID          string                 `json:"tool_id"`
	ToolName        string                 `json:"tool_name"`
	Status          string                 `json:"status"`
	Input           map[string]interface{} `json:"input"`
	Output          string                 `json:"output"`
	Error           *string                `json:"error"`
	ExecutionTimeMS int64                  `json:"execution_time_ms"`
	InsertPosition  int                    `json:"insert_position"`
}

// Done is the success terminal. Message equals the concatenation of every
// token content emitted before it.
type Done struct {
	Type           Type             `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Message        string           `json:"message"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
	Metadata       Metadata         `json:"metadata"`
}

func NewDone(conversationID, message string, toolCalls []ToolCallRecord, metadata Metadata) *Done {
	if toolCalls == nil {
		toolCalls = []ToolCallRecord{}
	}
	return &Done{Type: TypeDone, ConversationID: conversationID, Message: message, ToolCalls: toolCalls, Metadata: metadata}
}

func (e *Done) EventType() Type { return TypeDone }
func (e *Done) Terminal() bool  { return true }

// Error is the failure terminal. Code is a taxonomy code.
type Error struct {
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) *Error {
	return &Error{Type: TypeError, Code: code, Message: message}
}

func (e *Error) EventType() Type { return TypeError }
func (e *Error) Terminal() bool  { return true }
