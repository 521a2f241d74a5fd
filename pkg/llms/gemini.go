package llms

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/kadirpekel/torii/pkg/config"
)

// GeminiProvider wraps the official genai SDK.
type GeminiProvider struct {
	config *config.ModelProviderConfig
	client *genai.Client
}

// NewGeminiProvider creates the provider from vendor config.
func NewGeminiProvider(cfg *config.ModelProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{config: cfg, client: client}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) SupportsToolCalling() bool {
	return true
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (*Completion, error) {
	contents, genConfig := p.buildRequest(messages, tools, opts)

	resp, err := p.client.Models.GenerateContent(ctx, opts.Model, contents, genConfig)
	if err != nil {
		return nil, &APIError{Provider: "gemini", Message: err.Error()}
	}

	return parseGeminiResponse(resp)
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition, opts Options) (<-chan StreamChunk, error) {
	contents, genConfig := p.buildRequest(messages, tools, opts)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		var usage Usage
		// Gemini may resend the same function call across chunks with an
		// empty ID; dedupe by stable ID before emitting.
		emitted := make(map[string]bool)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, opts.Model, contents, genConfig) {
			if err != nil {
				outputCh <- StreamChunk{Type: ChunkError, Err: &APIError{Provider: "gemini", Message: err.Error()}}
				return
			}

			if resp.UsageMetadata != nil {
				usage = Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}

			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					outputCh <- StreamChunk{Type: ChunkText, Text: part.Text}
				}
				if part.FunctionCall != nil {
					callID := part.FunctionCall.ID
					if callID == "" {
						callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
					}
					if emitted[callID] {
						continue
					}
					emitted[callID] = true

					outputCh <- StreamChunk{Type: ChunkToolCall, ToolCall: &ToolCall{
						ID:   callID,
						Name: part.FunctionCall.Name,
						Args: part.FunctionCall.Args,
					}}
				}
			}
		}

		outputCh <- StreamChunk{Type: ChunkDone, Usage: usage}
	}()

	return outputCh, nil
}

// stableCallID derives a deterministic ID from the call contents so the
// same call gets the same ID even when the vendor omits one.
func stableCallID(name string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{"name": name, "args": args})
	hash := sha256.Sum256(payload)
	return fmt.Sprintf("call-%x", hash[:16])
}

func (p *GeminiProvider) buildRequest(messages []Message, tools []ToolDefinition, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if systemInstruction == nil {
				systemInstruction = &genai.Content{
					Parts: []*genai.Part{{Text: msg.Content}},
					Role:  "user",
				}
			} else {
				systemInstruction.Parts = append(systemInstruction.Parts, &genai.Part{Text: msg.Content})
			}

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Args,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Parts: parts, Role: "model"})

		case RoleTool:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolName,
						Response: map[string]any{"result": msg.Content},
					},
				}},
				Role: "user",
			})

		default:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
				Role:  "user",
			})
		}
	}

	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Temperature:       genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(opts.MaxTokens)
	}

	for _, t := range tools {
		genConfig.Tools = append(genConfig.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}},
		})
	}

	return contents, genConfig
}

// toGenaiSchema converts a JSON-schema-shaped map to the SDK schema type.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		s.Required = append(s.Required, required...)
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*Completion, error) {
	if len(resp.Candidates) == 0 {
		return nil, &APIError{Provider: "gemini", Message: "empty response"}
	}

	completion := &Completion{}
	if resp.UsageMetadata != nil {
		completion.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return completion, nil
	}

	for _, part := range candidate.Content.Parts {
		if part.Text != "" && !part.Thought {
			completion.Text += part.Text
		}
		if part.FunctionCall != nil {
			callID := part.FunctionCall.ID
			if callID == "" {
				callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
			}
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{
				ID:   callID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}

	return completion, nil
}
