package agent

import (
	"context"
	"strings"

	"github.com/kadirpekel/torii/pkg/llms"
)

// runFunctionCalling drives providers with native tool calling. Each
// iteration streams one model turn: text chunks are forwarded as token
// events immediately; requested tool calls are executed in order and their
// results fed back as tool messages. The loop ends on a turn with no tool
// calls or at the iteration cap.
func (r *run) runFunctionCalling(ctx context.Context) error {
	messages := r.baseMessages("")
	definitions := r.catalog.Definitions()
	opts := r.options()

	for iteration := 0; iteration < r.engine.limits.MaxIterations; iteration++ {
		stream, err := r.provider.GenerateStreaming(ctx, messages, definitions, opts)
		if err != nil {
			return err
		}

		var text strings.Builder
		var calls []llms.ToolCall
		for chunk := range stream {
			switch chunk.Type {
			case llms.ChunkText:
				if err := r.emitText(ctx, chunk.Text); err != nil {
					return err
				}
				text.WriteString(chunk.Text)
			case llms.ChunkToolCall:
				if chunk.ToolCall != nil {
					calls = append(calls, *chunk.ToolCall)
				}
			case llms.ChunkDone:
				r.addUsage(chunk.Usage)
			case llms.ChunkError:
				return chunk.Err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(calls) == 0 {
			return nil
		}

		messages = append(messages, llms.AssistantMessage(text.String(), calls...))
		for _, call := range calls {
			observation, err := r.invokeTool(ctx, call)
			if err != nil {
				return err
			}
			messages = append(messages, llms.ToolResultMessage(call.ID, call.Name, observation))
		}
	}

	// Iteration cap: return whatever has been emitted so far as the final
	// answer rather than discarding completed work.
	return nil
}
