package prompts

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/torii/pkg/llms"
)

// DefaultHistoryBudget is the token ceiling for windowed history.
const DefaultHistoryBudget = 6000

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// cl100k_base approximates well enough across vendors for windowing.
func tokenizer() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	return encoding
}

func countTokens(text string) int {
	enc := tokenizer()
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// messageTokens includes the per-message framing overhead OpenAI documents
// for chat-format prompts.
func messageTokens(m llms.Message) int {
	return 3 + countTokens(string(m.Role)) + countTokens(m.Content)
}

// WindowHistory drops empty-content turns, then drops the oldest remaining
// turns until the rest fits the token budget. Order is preserved; a budget
// of zero or less applies the default.
func WindowHistory(history []llms.Message, budget int) []llms.Message {
	if budget <= 0 {
		budget = DefaultHistoryBudget
	}

	var kept []llms.Message
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}

	total := 3 // reply priming
	start := len(kept)
	for i := len(kept) - 1; i >= 0; i-- {
		tokens := messageTokens(kept[i])
		if total+tokens > budget {
			break
		}
		total += tokens
		start = i
	}
	return kept[start:]
}
