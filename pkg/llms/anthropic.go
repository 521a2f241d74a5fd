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

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the messages API directly over HTTP.
type AnthropicProvider struct {
	config     *config.ModelProviderConfig
	host       string
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	// Temperature is a pointer so 0 survives serialization.
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []anthropicTool `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock is one block of message content: text, tool_use,
// or tool_result depending on Type.
type anthropicContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
	Error   *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent is the union of SSE event payloads the messages API
// emits; only the fields for the current event type are populated.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta,omitempty"`

	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

// NewAnthropicProvider creates the provider from vendor config.
func NewAnthropicProvider(cfg *config.ModelProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}

	host := cfg.Host
	if host == "" {
		host = "https://api.anthropic.com/v1"
	}

	return &AnthropicProvider{
		config: cfg,
		host:   host,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) SupportsToolCalling() bool {
	return true
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Completion, error) {
	request := p.buildRequest(messages, tools, opts, false)

	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkAnthropicResponse(resp, err); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if response.Error != nil {
		return nil, &APIError{Provider: "anthropic", Message: response.Error.Message}
	}

	completion := &Completion{
		Usage: Usage{
			PromptTokens:     response.Usage.InputTokens,
			CompletionTokens: response.Usage.OutputTokens,
			TotalTokens:      response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			completion.Text += block.Text
		case "tool_use":
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: block.Input,
			})
		}
	}

	return completion, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
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

// buildRequest converts neutral messages into the messages API shape. The
// system prompt travels in its own top-level field, and tool results become
// user-role tool_result blocks.
func (p *AnthropicProvider) buildRequest(messages []Message, tools []ToolDefinition, opts Options, stream bool) anthropicRequest {
	var system string
	anthropicMessages := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case RoleTool:
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case RoleAssistant:
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropicMessage{Role: "assistant", Content: blocks})

		default:
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096 // the messages API requires max_tokens
	}

	temperature := opts.Temperature
	request := anthropicRequest{
		Model:       opts.Model,
		Messages:    anthropicMessages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Stream:      stream,
	}

	if len(tools) > 0 {
		request.Tools = make([]anthropicTool, len(tools))
		for i, tool := range tools {
			request.Tools[i] = anthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.Parameters,
			}
		}
	}

	return request
}

func (p *AnthropicProvider) newRequest(ctx context.Context, request anthropicRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.host+"/messages", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	return req, nil
}

func checkAnthropicResponse(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var errorResp struct {
			Error anthropicError `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil && errorResp.Error.Message != "" {
			return &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Message: errorResp.Error.Message}
		}
		return &APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Message: string(body)}
	}
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("HTTP request failed: no response received")
	}
	return nil
}

// streamingToolCall accumulates one tool_use block across input_json_delta
// events until its content_block_stop arrives.
type streamingToolCall struct {
	id   string
	name string
	json bytes.Buffer
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, request anthropicRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkAnthropicResponse(resp, err); err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	openBlocks := make(map[int]*streamingToolCall)
	var usage Usage

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

		var event anthropicStreamEvent
		if err := json.Unmarshal(line[6:], &event); err != nil {
			continue
		}

		switch event.Type {
		case "error":
			if event.Error != nil {
				return &APIError{Provider: "anthropic", Message: event.Error.Message}
			}

		case "message_start":
			if event.Message != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				openBlocks[event.Index] = &streamingToolCall{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				outputCh <- StreamChunk{Type: ChunkText, Text: event.Delta.Text}
			case "input_json_delta":
				if block, ok := openBlocks[event.Index]; ok {
					block.json.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			block, ok := openBlocks[event.Index]
			if !ok {
				continue
			}
			delete(openBlocks, event.Index)

			args := map[string]interface{}{}
			if block.json.Len() > 0 {
				if err := json.Unmarshal(block.json.Bytes(), &args); err != nil {
					return fmt.Errorf("failed to parse tool arguments for %s: %w", block.name, err)
				}
			}
			outputCh <- StreamChunk{Type: ChunkToolCall, ToolCall: &ToolCall{
				ID:   block.id,
				Name: block.name,
				Args: args,
			}}

		case "message_delta":
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			outputCh <- StreamChunk{Type: ChunkDone, Usage: usage}
			return nil
		}
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	outputCh <- StreamChunk{Type: ChunkDone, Usage: usage}
	return nil
}
