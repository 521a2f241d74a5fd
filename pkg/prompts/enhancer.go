package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/llms"
)

const emptyPromptPlaceholder = "（入力なし：汎用的なアシスタントのプロンプトを生成してください）"

const metaPromptTemplate = `あなたはAIエージェントのシステムプロンプトを改善・強化する専門家です。
ユーザーが入力したシステムプロンプトの**意図を最大限尊重**し、その内容を**極めて詳細で具体的**な形に洗練してください。

【入力されたプロンプト】
%s

【最優先原則: 詳細性を最重視】
- **簡潔さよりも詳細さを優先**: 十分すぎるほど詳しく記述することを恐れない
- **具体例を豊富に含める**: 抽象的な指示には必ず具体的な実例や行動パターンを追加
- **多層的な説明**: 役割、性格、口調、振る舞い、思考プロセスなど多角的に詳述
- **長文を恐れない**: 500-1500文字程度の充実したプロンプトを目指す

【重要原則】
- **ユーザーの意図を変えない**: 入力内容の本質的な意味や方向性を維持
- **詳細に展開する**: 構造化や具体化を積極的に行い、情報を豊かに補完
- **最小限の改善ではなく、最大限の詳細化**: 入力が明確でも、より詳しく具体的に展開

【生成ルール】
1. **ユーザーの入力内容を過剰なくらい、強調しすぎるくらい組み込み、さらに詳細化**:
   - キャラクター名が含まれる場合: その特徴を**徹底的に**忠実に反映し、細部まで再現し、具体的なシーンや台詞例も含める
   - 職業や役割が記載されている場合: その専門性を**極めて具体的に**明確化し、専門用語や業界知識、具体的な業務内容まで記述
   - 具体的な指示がある場合: それを**絶対的な最優先事項として**尊重し、過剰なくらい強調し、実践例を複数追加
   - 抽象的な記述の場合: ユーザーの意図を**限界まで深掘りして**具体化し、様々なシチュエーションでの振る舞いを詳述
   - 入力が空の場合のみ: 詳細で汎用的なアシスタントのプロンプトを提案

   **【超重要】ユーザーの指示は1文字1文字が貴重です。すべての要素を漏らさず、むしろ増幅し、詳細に展開してください**

2. 以下の構造で**詳細に**整理（各セクションを充実させる）:
   - 役割定義: 「あなたは〜です」形式で明確化し、背景や経験も含める
   - 性格・口調: エージェントの話し方や態度の特徴を**極めて詳細に**記述し、具体的な言い回しや表現パターンを例示
   - 行動指針: 対話で心がけることを複数の観点から詳述し、具体的なシナリオでの対応例を含める
   - 専門知識: 持っている知識やスキルを具体的に列挙
   - 制約事項: 避けるべき行動を明確に、理由とともに説明
   - 対応例: 典型的な質問やシチュエーションに対する理想的な応答例を含める

3. 出力要件:
   - 自然で読みやすい日本語
   - **500-1500文字程度（詳細であればあるほど良い）**
   - **入力内容を最優先で反映し、過剰なくらい強調し、さらに詳細化**
   - ユーザーが書いた要素は全て取り入れ、それぞれを深掘りして展開
   - 具体例、シナリオ、応答パターンなどを豊富に含める
   - システムプロンプトの本文のみ出力（説明や前置きは不要）

【最重要原則】
- ユーザーが書いた内容の意図は**絶対に、何があっても変えないこと**
- ユーザーの指示を薄めたり、一般化したりせず、**むしろ詳細化・具体化すること**
- ユーザーの意図を**増幅し、強調し、詳細に具体化すること**
- **詳細性こそが価値**: 簡潔にまとめるのではなく、豊かに展開すること
- 「こう書いてあるから、こう解釈した」ではなく「こう書いてあるから、これを最大限尊重し徹底的に反映し、さらに詳しく具体化した」という姿勢
- システムプロンプトの本文のみを出力（「以下のようなプロンプトを提案します」等の前置き不要）`

// Providers resolves the enhancement provider by name.
type Providers interface {
	Provider(name string) (llms.Provider, error)
}

// Enhancer rewrites caller system prompts with a fixed meta-prompt and a
// single non-streaming model call.
type Enhancer struct {
	providers Providers
	cfg       config.EnhancementConfig
}

// Result is the enhance-prompt response body.
type Result struct {
	EnhancedPrompt string         `json:"enhanced_prompt"`
	Metadata       ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	OriginalLength  int `json:"original_length"`
	GeneratedLength int `json:"generated_length"`
}

func NewEnhancer(providers Providers, cfg config.EnhancementConfig) *Enhancer {
	return &Enhancer{providers: providers, cfg: cfg}
}

// Enhance validates and rewrites prompt. Input length is measured in
// runes; empty input is allowed and produces a generic prompt.
func (e *Enhancer) Enhance(ctx context.Context, prompt string) (*Result, error) {
	maxInput := e.cfg.MaxInput
	if maxInput == 0 {
		maxInput = 5000
	}
	if utf8.RuneCountInString(prompt) > maxInput {
		return nil, apierror.Newf(apierror.CodeValidation, "プロンプトは%d文字以内で入力してください", maxInput)
	}

	input := strings.TrimSpace(prompt)
	if input == "" {
		input = emptyPromptPlaceholder
	}

	provider, err := e.providers.Provider(e.cfg.Provider)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeInvalidProvider,
			fmt.Sprintf("enhancement provider %q is not configured", e.cfg.Provider), err)
	}

	slog.Info("Enhancing prompt", "length", utf8.RuneCountInString(input))

	completion, err := provider.Generate(ctx,
		[]llms.Message{llms.UserMessage(fmt.Sprintf(metaPromptTemplate, input))},
		nil,
		llms.Options{
			Model:       e.cfg.Model,
			Temperature: e.cfg.Temperature,
			MaxTokens:   e.cfg.MaxTokens,
		})
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeModelAPI, "プロンプト生成中にエラーが発生しました", err)
	}

	enhanced := strings.TrimSpace(completion.Text)
	if enhanced == "" {
		return nil, apierror.New(apierror.CodeModelAPI, "空のレスポンスが返されました")
	}

	return &Result{
		EnhancedPrompt: enhanced,
		Metadata: ResultMetadata{
			OriginalLength:  utf8.RuneCountInString(prompt),
			GeneratedLength: utf8.RuneCountInString(enhanced),
		},
	}, nil
}
