package builtin

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type calculateArgs struct {
	Expression string `json:"expression" jsonschema:"description=計算式（例: '2 + 3 * 4'）"`
}

type calculateStatisticsArgs struct {
	Numbers string `json:"numbers" jsonschema:"description=カンマ区切りの数値リスト"`
}

type percentageArgs struct {
	Value float64 `json:"value" jsonschema:"description=値"`
	Total float64 `json:"total" jsonschema:"description=全体"`
}

func newCalculationService() *service {
	s := &service{}
	s.info = serviceInfo("CalculationService", "計算サービス",
		"数式計算、統計計算、パーセンテージ計算などの数学機能", "🔢")

	s.register("calculate", "簡単な数式を計算します",
		"calculation", []string{"math", "arithmetic", "expression"}, &calculateArgs{}, calculate)
	s.register("calculate_statistics", "数値リストの統計情報を計算します",
		"calculation", []string{"math", "statistics", "analysis"}, &calculateStatisticsArgs{}, calculateStatistics)
	s.register("percentage", "パーセンテージを計算します",
		"calculation", []string{"math", "percentage", "ratio"}, &percentageArgs{}, percentage)
	return s
}

func calculate(_ context.Context, raw map[string]interface{}) string {
	var args calculateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	for _, r := range args.Expression {
		if !strings.ContainsRune("0123456789+-*/.() ", r) {
			return "エラー: 使用できない文字が含まれています（数字と+-*/().スペースのみ使用可能）"
		}
	}

	result, err := evalExpression(args.Expression)
	switch {
	case errors.Is(err, errDivisionByZero):
		return "エラー: ゼロ除算が発生しました"
	case err != nil:
		return "エラー: 数式の構文が正しくありません"
	}

	return fmt.Sprintf("計算結果: %s = %s", args.Expression, formatNumber(result))
}

func calculateStatistics(_ context.Context, raw map[string]interface{}) string {
	var args calculateStatisticsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	var values []float64
	for _, field := range strings.Split(args.Numbers, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return "エラー: 数値として解釈できない値が含まれています"
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return "エラー: 数値が指定されていません"
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	var b strings.Builder
	b.WriteString("統計情報:\n")
	fmt.Fprintf(&b, "  合計: %.2f\n", sum)
	fmt.Fprintf(&b, "  平均: %.2f\n", mean)
	fmt.Fprintf(&b, "  中央値: %.2f\n", median)
	fmt.Fprintf(&b, "  最大値: %.2f\n", sorted[len(sorted)-1])
	fmt.Fprintf(&b, "  最小値: %.2f\n", sorted[0])
	fmt.Fprintf(&b, "  データ数: %d\n", len(values))

	if len(values) >= 2 {
		var sq float64
		for _, v := range values {
			sq += (v - mean) * (v - mean)
		}
		stdev := math.Sqrt(sq / float64(len(values)-1))
		fmt.Fprintf(&b, "  標準偏差: %.2f\n", stdev)
	}

	return strings.TrimRight(b.String(), "\n")
}

func percentage(_ context.Context, raw map[string]interface{}) string {
	var args percentageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}
	if args.Total == 0 {
		return "エラー: 全体が0のためパーセンテージを計算できません"
	}
	return fmt.Sprintf("%s / %s = %.2f%%",
		formatNumber(args.Value), formatNumber(args.Total), args.Value/args.Total*100)
}

var errDivisionByZero = errors.New("division by zero")

// evalExpression evaluates + - * / ( ) with the usual precedence over a
// pre-validated charset. Recursive descent, unary minus allowed.
func evalExpression(expression string) (float64, error) {
	p := &exprParser{input: strings.ReplaceAll(expression, " ", "")}
	if p.input == "" {
		return 0, errors.New("empty expression")
	}
	value, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character at %d", p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseAddSub() (float64, error) {
	value, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			value += rhs
		case '-':
			p.pos++
			rhs, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseMulDiv() (float64, error) {
	value, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case '/':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, errDivisionByZero
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		value, err := p.parseUnary()
		return -value, err
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		value, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at %d", start)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}
