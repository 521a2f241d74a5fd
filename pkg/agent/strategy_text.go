package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kadirpekel/torii/pkg/llms"
)

const recoveryObservation = "形式を解析できませんでした。Thought / Action / Action Input / Observation または Final Answer の形式で回答してください。"

// reactGrammar appends the text-protocol instructions for providers
// without native tool calling.
func reactGrammar(entries []toolEntry) string {
	var b strings.Builder
	b.WriteString("\n\nあなたは以下のツールにアクセスできます:\n")
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", entry.name, entry.description)
		names = append(names, entry.name)
	}
	fmt.Fprintf(&b, `
次の形式を使用してください:

Question: 答える必要がある質問
Thought: 何をすべきか常に考えてください
Action: 実行するアクション、[%s]のいずれか
Action Input: アクションへの入力（JSON形式）
Observation: アクションの結果
... (このThought/Action/Action Input/Observationを必要に応じて繰り返す)
Thought: 最終的な答えがわかりました
Final Answer: 元の質問に対する最終的な答え`, strings.Join(names, ", "))
	return b.String()
}

type toolEntry struct {
	name        string
	description string
}

// reactStep is one parsed model turn.
type reactStep struct {
	action      string
	actionInput map[string]interface{}
	finalAnswer string
	isFinal     bool
}

var (
	actionRe      = regexp.MustCompile(`(?m)^\s*Action:\s*(.+)$`)
	actionInputRe = regexp.MustCompile(`(?ms)^\s*Action Input:\s*(.+?)(?:\n\s*(?:Observation|Thought|Action|Final Answer):|\z)`)
	finalAnswerRe = regexp.MustCompile(`(?ms)Final Answer:\s*(.+)\z`)
)

// parseReActStep is deliberately tolerant: a Final Answer anywhere wins,
// otherwise the first Action/Action Input pair is used. Input that is not
// JSON becomes {"query": <raw>}.
func parseReActStep(text string) (reactStep, bool) {
	if m := finalAnswerRe.FindStringSubmatch(text); m != nil {
		return reactStep{isFinal: true, finalAnswer: strings.TrimSpace(m[1])}, true
	}

	actionMatch := actionRe.FindStringSubmatch(text)
	if actionMatch == nil {
		return reactStep{}, false
	}
	action := strings.TrimSpace(strings.Trim(strings.TrimSpace(actionMatch[1]), "`\"'"))
	if action == "" {
		return reactStep{}, false
	}

	raw := ""
	if m := actionInputRe.FindStringSubmatch(text); m != nil {
		raw = strings.TrimSpace(m[1])
		raw = strings.Trim(raw, "`")
		raw = strings.TrimSpace(raw)
	}

	args := map[string]interface{}{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			args = map[string]interface{}{"query": raw}
		}
	}
	return reactStep{action: action, actionInput: args}, true
}

// runTextProtocol drives providers without native tool calling through the
// Thought/Action/Observation grammar. Model turns are buffered, not
// streamed: only the final answer is emitted as token events. One
// unparseable turn gets a recovery observation; a second is treated as the
// final answer so malformed models still terminate.
func (r *run) runTextProtocol(ctx context.Context) error {
	var entries []toolEntry
	for _, entry := range r.catalog.Entries() {
		entries = append(entries, toolEntry{name: entry.Descriptor.Name, description: entry.Descriptor.Description})
	}

	grammar := ""
	if len(entries) > 0 {
		grammar = reactGrammar(entries)
	}

	base := r.baseMessages(grammar)
	opts := r.options()
	var scratchpad strings.Builder
	recovered := false
	lastText := ""

	for iteration := 0; iteration < r.engine.limits.MaxIterations; iteration++ {
		messages := base
		if scratchpad.Len() > 0 {
			messages = append(append([]llms.Message{}, base...),
				llms.AssistantMessage(scratchpad.String()),
				llms.UserMessage("続けてください。"))
		}

		completion, err := r.provider.Generate(ctx, messages, nil, opts)
		if err != nil {
			return err
		}
		r.addUsage(completion.Usage)

		text := strings.TrimSpace(completion.Text)
		lastText = text
		if len(entries) == 0 {
			// No tools bound: every turn is the answer.
			return r.emitText(ctx, text)
		}

		step, ok := parseReActStep(text)
		if !ok {
			if recovered {
				return r.emitText(ctx, text)
			}
			recovered = true
			scratchpad.WriteString(text)
			scratchpad.WriteString("\nObservation: " + recoveryObservation + "\n")
			continue
		}

		if step.isFinal {
			return r.emitText(ctx, step.finalAnswer)
		}

		if !r.catalog.Has(step.action) {
			scratchpad.WriteString(text)
			fmt.Fprintf(&scratchpad, "\nObservation: ツール '%s' は存在しません。利用可能なツールから選択してください。\n", step.action)
			continue
		}

		observation, err := r.invokeTool(ctx, llms.ToolCall{Name: step.action, Args: step.actionInput})
		if err != nil {
			return err
		}
		scratchpad.WriteString(text)
		scratchpad.WriteString("\nObservation: " + observation + "\n")
	}

	// Iteration cap reached without a Final Answer: surface the last model
	// turn so the conversation still ends with text.
	return r.emitText(ctx, lastText)
}
