// Package prompts builds agent system prompts, windows conversation
// history to a token budget, and hosts the one-shot prompt rewrite.
package prompts

import "fmt"

// Persona names accepted by the chat API.
const (
	PersonaNone       = "none"
	PersonaAssistant  = "assistant"
	PersonaCreative   = "creative"
	PersonaAnalytical = "analytical"
	PersonaConcise    = "concise"
)

var personaBases = map[string]string{
	PersonaNone:       "あなたは有能なAIアシスタントです。ユーザーの質問に対して適切に回答してください。",
	PersonaAssistant:  "あなたは親切で丁寧なアシスタントです。ユーザーの質問に対して、利用可能なツールを効果的に活用して正確で有用な回答を提供してください。",
	PersonaCreative:   "あなたは創造的で柔軟な思考を持つクリエイティブパートナーです。独創的なアイデアを提案し、ユーザーの創造性を刺激してください。",
	PersonaAnalytical: "あなたは論理的で分析的な専門家です。データや事実に基づいた客観的な分析を提供し、明確な結論を導いてください。",
	PersonaConcise:    "あなたは簡潔で要点を絞った応答をする専門家です。無駄を省き、核心的な情報のみを提供してください。",
}

const toolDirectives = `

【ツール活用の最重要指示】
- **利用可能なツールを最大限積極的に活用してください**
- ユーザーの質問に対して、ツールを使うことでより正確で有用な回答ができる場合は、**必ずツールを使用してください**
- 複数のツールを組み合わせることで、より豊かな回答が可能です
- 例：
  * 現在時刻を聞かれたら → 日時計算ツールを使用
  * 天気を聞かれたら → 天気予報ツールを使用
  * 計算が必要なら → 計算ツールを使用
  * 検索が必要なら → 検索ツールを使用
- ツールの結果を受け取ったら、それを元にユーザーにわかりやすく丁寧に説明してください
- **ツールを使わずに推測で答えるのは避けてください**。正確な情報が必要な場合は必ずツールを使用すること

【回答時の追加提案】
- 回答後、**利用可能な他のツールを使ってさらにできることを積極的に紹介してください**
- 例：「ちなみに、天気予報ツールで明日の天気も確認できますよ」「日時計算ツールで〇〇日後の日付も計算できます」
- ユーザーの潜在的なニーズを先回りして提案することで、より有用な体験を提供してください
`

// ValidPersona reports whether name is a known persona. The empty string
// is valid and treated as "none".
func ValidPersona(name string) bool {
	if name == "" {
		return true
	}
	_, ok := personaBases[name]
	return ok
}

// SystemPrompt assembles the agent system prompt: persona base (or the
// caller's custom prompt, which replaces it), an optional user-context
// sentence, then the tool-use directives. Unknown personas fall back to
// the assistant base.
func SystemPrompt(persona, customPrompt, userName string) string {
	base := customPrompt
	if base == "" {
		key := persona
		if key == "" {
			key = PersonaNone
		}
		var ok bool
		base, ok = personaBases[key]
		if !ok {
			base = personaBases[PersonaAssistant]
		}
	}

	userContext := ""
	if userName != "" {
		userContext = fmt.Sprintf("\n\n【会話相手の情報】\nあなたは今、%sさんと会話しています。自然で親しみやすい対話を心がけてください。", userName)
	}

	return base + userContext + toolDirectives
}
