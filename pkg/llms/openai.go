package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/httpclient"
)

// OpenAIProvider speaks the chat-completions API directly over HTTP.
type OpenAIProvider struct {
	config     *config.ModelProviderConfig
	host       string
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []openAIMessage      `json:"messages"`
	MaxTokens     *int                 `json:"max_tokens,omitempty"`
	Temperature   float64              `json:"temperature"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
	Tools         []openAITool         `json:"tools,omitempty"`
	ToolChoice    string               `json:"tool_choice,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIUsage  `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content,omitempty"`
			ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage,omitempty"`
	Error *openAIError `json:"error,omitempty"`
}

// NewOpenAIProvider creates the provider from vendor config.
func NewOpenAIProvider(cfg *config.ModelProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}

	host := cfg.Host
	if host == "" {
		host = "https://api.openai.com/v1"
	}

	return &OpenAIProvider{
		config: cfg,
		host:   host,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) SupportsToolCalling() bool {
	return true
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Completion, error) {
	request := p.buildRequest(messages, tools, opts, false)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	if response.Error != nil {
		return nil, &APIError{Provider: "openai", Message: response.Error.Message}
	}
	if len(response.Choices) == 0 {
		return nil, &APIError{Provider: "openai", Message: "no response choices returned"}
	}

	choice := response.Choices[0]

	toolCalls, err := parseOpenAIToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &Completion{
		Text:      choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, tools, opts, true)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{Type: ChunkError, Err: err}
		}
	}()

	return outputCh, nil
}

func roleToOpenAI(role Role) string {
	switch role {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleTool:
		return "tool"
	default:
		return "system"
	}
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, opts Options, stream bool) openAIRequest {
	openaiMessages := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		m := openAIMessage{
			Role:       roleToOpenAI(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			m.ToolCalls = append(m.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}

		openaiMessages = append(openaiMessages, m)
	}

	request := openAIRequest{
		Model:       opts.Model,
		Messages:    openaiMessages,
		Temperature: opts.Temperature,
		Stream:      stream,
	}

	if stream {
		request.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		request.MaxTokens = &maxTokens
	}

	if len(tools) > 0 {
		request.Tools = make([]openAITool, len(tools))
		for i, tool := range tools {
			request.Tools[i] = openAITool{
				Type:     "function",
				Function: openAIToolFunction(tool),
			}
		}
		request.ToolChoice = "auto"
	}

	return request
}

func parseOpenAIToolCalls(calls []openAIToolCall) ([]ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	result := make([]ToolCall, len(calls))
	for i, tc := range calls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		result[i] = ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}
	}
	return result, nil
}

func parseOpenAIErrorBody(body []byte) *openAIError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func (p *OpenAIProvider) newRequest(ctx context.Context, request openAIRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.host+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	return req, nil
}

// checkResponse converts a non-2xx response into an APIError, preferring
// the vendor's structured error body when it parses.
func checkOpenAIResponse(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if apiErr := parseOpenAIErrorBody(body); apiErr != nil {
			return &APIError{Provider: "openai", StatusCode: resp.StatusCode, Message: apiErr.Message}
		}
		return &APIError{Provider: "openai", StatusCode: resp.StatusCode, Message: string(body)}
	}
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("HTTP request failed: no response received")
	}
	return nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkOpenAIResponse(resp, err); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request openAIRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkOpenAIResponse(resp, err); err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	// Tool-call deltas arrive fragmented: the first delta carries the id
	// and name, later ones append argument JSON to the last open call.
	var accumulated []openAIToolCall
	var usage Usage
	finished := false

	flushToolCalls := func() error {
		toolCalls, err := parseOpenAIToolCalls(accumulated)
		if err != nil {
			return err
		}
		for i := range toolCalls {
			tc := toolCalls[i]
			outputCh <- StreamChunk{Type: ChunkToolCall, ToolCall: &tc}
		}
		accumulated = nil
		return nil
	}

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != nil {
			return &APIError{Provider: "openai", Message: streamResp.Error.Message}
		}

		// With include_usage the final chunk has usage and no choices.
		if streamResp.Usage != nil {
			usage = Usage{
				PromptTokens:     streamResp.Usage.PromptTokens,
				CompletionTokens: streamResp.Usage.CompletionTokens,
				TotalTokens:      streamResp.Usage.TotalTokens,
			}
		}

		if len(streamResp.Choices) == 0 {
			continue
		}
		choice := streamResp.Choices[0]

		if choice.Delta.Content != "" {
			outputCh <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}
		}

		for _, deltaCall := range choice.Delta.ToolCalls {
			if deltaCall.ID != "" {
				accumulated = append(accumulated, deltaCall)
			} else if len(accumulated) > 0 {
				accumulated[len(accumulated)-1].Function.Arguments += deltaCall.Function.Arguments
			}
		}

		if choice.FinishReason == "stop" || choice.FinishReason == "tool_calls" {
			if err := flushToolCalls(); err != nil {
				return err
			}
			finished = true
		}
	}

	if !finished {
		if err := flushToolCalls(); err != nil {
			return err
		}
	}

	outputCh <- StreamChunk{Type: ChunkDone, Usage: usage}
	return nil
}
