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

// OllamaProvider talks to a local Ollama server. Tool use is driven through
// the text protocol, so SupportsToolCalling reports false and the tools
// argument is ignored.
type OllamaProvider struct {
	config     *config.ModelProviderConfig
	host       string
	httpClient *httpclient.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse is one NDJSON line of /api/chat output. The final line has
// Done set and carries the token counts.
type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider creates the provider from vendor config. No API key
// needed for a local server.
func NewOllamaProvider(cfg *config.ModelProviderConfig) (*OllamaProvider, error) {
	host := cfg.Host
	if host == "" {
		host = "http://localhost:11434"
	}

	return &OllamaProvider{
		config: cfg,
		host:   host,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		),
	}, nil
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) SupportsToolCalling() bool {
	return false
}

func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, _ []ToolDefinition, opts Options) (*Completion, error) {
	req, err := p.newRequest(ctx, p.buildRequest(messages, opts, false))
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkOllamaResponse(resp, err); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if response.Error != "" {
		return nil, &APIError{Provider: "ollama", Message: response.Error}
	}

	return &Completion{
		Text: response.Message.Content,
		Usage: Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
			TotalTokens:      response.PromptEvalCount + response.EvalCount,
		},
	}, nil
}

func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message, _ []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, p.buildRequest(messages, opts, true), outputCh); err != nil {
			outputCh <- StreamChunk{Type: ChunkError, Err: err}
		}
	}()

	return outputCh, nil
}

func (p *OllamaProvider) buildRequest(messages []Message, opts Options, stream bool) ollamaRequest {
	ollamaMessages := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		role := roleToOpenAI(msg.Role)
		if msg.Role == RoleTool {
			// No tool role in the chat API; fold results into user turns.
			role = "user"
		}
		ollamaMessages = append(ollamaMessages, ollamaMessage{Role: role, Content: msg.Content})
	}

	return ollamaRequest{
		Model:    opts.Model,
		Messages: ollamaMessages,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
}

func (p *OllamaProvider) newRequest(ctx context.Context, request ollamaRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.host+"/api/chat", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func checkOllamaResponse(resp *http.Response, err error) error {
	if resp != nil && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Message: string(body)}
	}
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("HTTP request failed: no response received")
	}
	return nil
}

func (p *OllamaProvider) makeStreamingRequest(ctx context.Context, request ollamaRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err := checkOllamaResponse(resp, err); err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var usage Usage
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return &APIError{Provider: "ollama", Message: chunk.Error}
		}

		if chunk.Message.Content != "" {
			outputCh <- StreamChunk{Type: ChunkText, Text: chunk.Message.Content}
		}

		if chunk.Done {
			usage = Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}

	outputCh <- StreamChunk{Type: ChunkDone, Usage: usage}
	return nil
}
