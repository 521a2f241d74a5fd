package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type countCharactersArgs struct {
	Text string `json:"text" jsonschema:"description=カウント対象のテキスト"`
}

type textCaseArgs struct {
	Text     string `json:"text" jsonschema:"description=変換対象のテキスト"`
	CaseType string `json:"case_type" jsonschema:"description=変換タイプ,enum=upper,enum=lower,enum=title,enum=capitalize"`
}

type searchTextArgs struct {
	Text          string `json:"text" jsonschema:"description=検索対象のテキスト"`
	Pattern       string `json:"pattern" jsonschema:"description=検索パターン（正規表現可）"`
	CaseSensitive bool   `json:"case_sensitive,omitempty" jsonschema:"description=大文字小文字を区別するか"`
}

type replaceTextArgs struct {
	Text    string `json:"text" jsonschema:"description=対象テキスト"`
	Find    string `json:"find" jsonschema:"description=検索文字列"`
	Replace string `json:"replace" jsonschema:"description=置換文字列"`
}

func newTextProcessingService() *service {
	s := &service{}
	s.info = serviceInfo("TextProcessingService", "テキストサービス",
		"文字数カウント、大文字小文字変換、検索、置換などのテキスト処理機能", "📝")

	s.register("count_characters", "テキストの文字数をカウントします",
		"text", []string{"count", "characters", "length"}, &countCharactersArgs{}, countCharacters)
	s.register("text_case", "テキストの大文字/小文字を変換します",
		"text", []string{"case", "upper", "lower", "transform"}, &textCaseArgs{}, textCase)
	s.register("search_text", "テキスト内の文字列を検索します（正規表現対応）",
		"text", []string{"search", "regex", "find"}, &searchTextArgs{}, searchText)
	s.register("replace_text", "テキスト内の文字列を置換します",
		"text", []string{"replace", "substitute", "transform"}, &replaceTextArgs{}, replaceText)
	return s
}

func countCharacters(_ context.Context, raw map[string]interface{}) string {
	var args countCharactersArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	total := utf8.RuneCountInString(args.Text)
	noSpace := 0
	for _, r := range args.Text {
		if r != ' ' && r != '\n' && r != '\t' {
			noSpace++
		}
	}
	lines := strings.Count(args.Text, "\n") + 1
	words := len(strings.Fields(args.Text))

	return fmt.Sprintf("文字数カウント結果:\n  総文字数: %d文字\n  空白を除く: %d文字\n  単語数: %d語\n  行数: %d行",
		total, noSpace, words, lines)
}

func textCase(_ context.Context, raw map[string]interface{}) string {
	var args textCaseArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	switch strings.ToLower(args.CaseType) {
	case "upper":
		return strings.ToUpper(args.Text)
	case "lower":
		return strings.ToLower(args.Text)
	case "title":
		return titleCase(args.Text)
	case "capitalize":
		return capitalize(args.Text)
	default:
		return "エラー: 未対応の変換タイプです（upper/lower/title/capitalizeのいずれかを指定してください）"
	}
}

func titleCase(text string) string {
	prevLetter := false
	return strings.Map(func(r rune) rune {
		mapped := r
		if unicode.IsLetter(r) {
			if prevLetter {
				mapped = unicode.ToLower(r)
			} else {
				mapped = unicode.ToUpper(r)
			}
			prevLetter = true
		} else {
			prevLetter = false
		}
		return mapped
	}, text)
}

func capitalize(text string) string {
	lower := strings.ToLower(text)
	r, size := utf8.DecodeRuneInString(lower)
	if size == 0 {
		return lower
	}
	return string(unicode.ToUpper(r)) + lower[size:]
}

func searchText(_ context.Context, raw map[string]interface{}) string {
	var args searchTextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	pattern := args.Pattern
	if !args.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Sprintf("エラー: 正規表現が正しくありません - %v", err)
	}

	matches := re.FindAllString(args.Text, -1)
	if len(matches) == 0 {
		return "検索結果: 一致する文字列が見つかりませんでした"
	}

	shown := matches
	suffix := ""
	if len(shown) > 10 {
		shown = shown[:10]
		suffix = "..."
	}
	return fmt.Sprintf("検索結果: %d件の一致が見つかりました\n一致: %s%s",
		len(matches), strings.Join(shown, ", "), suffix)
}

func replaceText(_ context.Context, raw map[string]interface{}) string {
	var args replaceTextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	count := strings.Count(args.Text, args.Find)
	result := strings.ReplaceAll(args.Text, args.Find, args.Replace)
	return fmt.Sprintf("置換完了: %d箇所を置換しました\n\n%s", count, result)
}
