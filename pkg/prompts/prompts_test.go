package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/llms"
)

func TestSystemPromptPersonaBase(t *testing.T) {
	prompt := SystemPrompt(PersonaAnalytical, "", "")
	assert.True(t, strings.HasPrefix(prompt, "あなたは論理的で分析的な専門家です。"))
	assert.Contains(t, prompt, "【ツール活用の最重要指示】")
	assert.NotContains(t, prompt, "【会話相手の情報】")
}

func TestSystemPromptEmptyPersonaIsNone(t *testing.T) {
	assert.Equal(t, SystemPrompt(PersonaNone, "", ""), SystemPrompt("", "", ""))
}

func TestSystemPromptUnknownPersonaFallsBack(t *testing.T) {
	assert.Equal(t, SystemPrompt(PersonaAssistant, "", ""), SystemPrompt("pirate", "", ""))
}

func TestSystemPromptCustomReplacesBase(t *testing.T) {
	prompt := SystemPrompt(PersonaCreative, "あなたは俳句の達人です。", "")
	assert.True(t, strings.HasPrefix(prompt, "あなたは俳句の達人です。"))
	assert.NotContains(t, prompt, "クリエイティブパートナー")
	// Directives are appended even with a custom prompt.
	assert.Contains(t, prompt, "【ツール活用の最重要指示】")
}

func TestSystemPromptUserContext(t *testing.T) {
	prompt := SystemPrompt(PersonaAssistant, "", "田中")
	assert.Contains(t, prompt, "あなたは今、田中さんと会話しています。")
}

func TestValidPersona(t *testing.T) {
	assert.True(t, ValidPersona(""))
	assert.True(t, ValidPersona(PersonaConcise))
	assert.False(t, ValidPersona("pirate"))
}

func TestWindowHistoryDropsEmptyTurns(t *testing.T) {
	history := []llms.Message{
		llms.UserMessage("こんにちは"),
		llms.AssistantMessage("   "),
		llms.AssistantMessage("こんにちは！"),
		llms.UserMessage(""),
	}
	windowed := WindowHistory(history, 0)
	require.Len(t, windowed, 2)
	assert.Equal(t, "こんにちは", windowed[0].Content)
	assert.Equal(t, "こんにちは！", windowed[1].Content)
}

func TestWindowHistoryKeepsNewestWithinBudget(t *testing.T) {
	long := strings.Repeat("token words here ", 200)
	history := []llms.Message{
		llms.UserMessage(long),
		llms.AssistantMessage("old answer"),
		llms.UserMessage("latest question"),
	}

	windowed := WindowHistory(history, 100)
	require.NotEmpty(t, windowed)
	assert.Equal(t, "latest question", windowed[len(windowed)-1].Content)
	for _, m := range windowed {
		assert.NotEqual(t, long, m.Content)
	}
}

func TestWindowHistoryPreservesOrder(t *testing.T) {
	history := []llms.Message{
		llms.UserMessage("first"),
		llms.AssistantMessage("second"),
		llms.UserMessage("third"),
	}
	windowed := WindowHistory(history, DefaultHistoryBudget)
	require.Len(t, windowed, 3)
	assert.Equal(t, "first", windowed[0].Content)
	assert.Equal(t, "third", windowed[2].Content)
}

type stubProvider struct {
	llms.Provider
	lastMessages []llms.Message
	lastOpts     llms.Options
	completion   *llms.Completion
	err          error
}

func (p *stubProvider) Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition, opts llms.Options) (*llms.Completion, error) {
	p.lastMessages = messages
	p.lastOpts = opts
	if p.err != nil {
		return nil, p.err
	}
	return p.completion, nil
}

type stubProviders struct {
	provider *stubProvider
}

func (s *stubProviders) Provider(name string) (llms.Provider, error) {
	return s.provider, nil
}

func enhancerConfig() config.EnhancementConfig {
	return config.EnhancementConfig{
		Provider:    "openai",
		Model:       "gpt-4.1",
		Temperature: 0.7,
		MaxTokens:   2000,
		MaxInput:    5000,
	}
}

func TestEnhance(t *testing.T) {
	provider := &stubProvider{completion: &llms.Completion{Text: "  あなたは俳句の達人です。五七五のリズムを大切にし…  "}}
	enhancer := NewEnhancer(&stubProviders{provider: provider}, enhancerConfig())

	result, err := enhancer.Enhance(context.Background(), "俳句の先生")
	require.NoError(t, err)

	assert.Equal(t, "あなたは俳句の達人です。五七五のリズムを大切にし…", result.EnhancedPrompt)
	assert.Equal(t, 5, result.Metadata.OriginalLength)
	assert.Equal(t, 25, result.Metadata.GeneratedLength)

	require.Len(t, provider.lastMessages, 1)
	assert.Contains(t, provider.lastMessages[0].Content, "俳句の先生")
	assert.Contains(t, provider.lastMessages[0].Content, "【入力されたプロンプト】")
	assert.Equal(t, "gpt-4.1", provider.lastOpts.Model)
	assert.Equal(t, 2000, provider.lastOpts.MaxTokens)
}

func TestEnhanceEmptyInputUsesPlaceholder(t *testing.T) {
	provider := &stubProvider{completion: &llms.Completion{Text: "generic prompt"}}
	enhancer := NewEnhancer(&stubProviders{provider: provider}, enhancerConfig())

	result, err := enhancer.Enhance(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, "generic prompt", result.EnhancedPrompt)
	assert.Contains(t, provider.lastMessages[0].Content, "（入力なし：汎用的なアシスタントのプロンプトを生成してください）")
}

func TestEnhanceRejectsOversizedInput(t *testing.T) {
	enhancer := NewEnhancer(&stubProviders{provider: &stubProvider{}}, enhancerConfig())

	_, err := enhancer.Enhance(context.Background(), strings.Repeat("あ", 5001))
	require.Error(t, err)

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeValidation, apiErr.Code)
}

func TestEnhanceEmptyCompletionIsModelError(t *testing.T) {
	provider := &stubProvider{completion: &llms.Completion{Text: "   "}}
	enhancer := NewEnhancer(&stubProviders{provider: provider}, enhancerConfig())

	_, err := enhancer.Enhance(context.Background(), "prompt")
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.CodeModelAPI, apiErr.Code)
}
