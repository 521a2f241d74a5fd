package wrappers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/torii/pkg/tools"
)

var majorCurrencies = []string{"USD", "EUR", "JPY", "GBP", "AUD", "CAD", "CHF", "CNY"}

type exchangeRateArgs struct {
	FromCurrency string `json:"from_currency" jsonschema:"description=変換元の通貨（例: USD）"`
	ToCurrency   string `json:"to_currency" jsonschema:"description=変換先の通貨（例: JPY）"`
}

type convertCurrencyArgs struct {
	Amount       float64 `json:"amount" jsonschema:"description=金額"`
	FromCurrency string  `json:"from_currency" jsonschema:"description=変換元の通貨（例: USD）"`
	ToCurrency   string  `json:"to_currency" jsonschema:"description=変換先の通貨（例: JPY）"`
}

type majorRatesArgs struct {
	BaseCurrency string `json:"base_currency" jsonschema:"description=基準通貨（例: USD）"`
}

type exchangeRateService struct {
	*service
}

func exchangeRateFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "ExchangeRateService",
		Name:        "為替レート",
		Description: "世界の通貨の為替レート、通貨変換を取得（認証不要の無料API）",
		Icon:        "💱",
		Kind:        tools.KindAPIWrapper,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "エンドポイントの上書き"},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			s := &exchangeRateService{
				service: newService(info, "https://api.exchangerate-api.com/v4/latest", config, auth, 10*time.Second, 0),
			}
			s.register("get_exchange_rate", "2通貨間の為替レートを取得します",
				"finance", []string{"currency", "exchange", "rate"}, &exchangeRateArgs{}, s.getExchangeRate)
			s.register("convert_currency", "通貨を変換します",
				"finance", []string{"currency", "exchange", "conversion"}, &convertCurrencyArgs{}, s.convertCurrency)
			s.register("get_major_rates", "指定した基準通貨の主要通貨レートを取得します",
				"finance", []string{"currency", "exchange", "rate"}, &majorRatesArgs{}, s.getMajorRates)
			return s, nil
		},
	}
}

type ratesResult struct {
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

func (s *exchangeRateService) fetchRates(ctx context.Context, base string) (*ratesResult, string) {
	resp, err := s.get(ctx, "/"+strings.ToUpper(base), nil, nil)
	if err != nil {
		return nil, requestError(err)
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Sprintf("エラー: 為替レートの取得に失敗しました - %d", resp.Status)
	}

	var data ratesResult
	if err := resp.decode(&data); err != nil {
		return nil, requestError(err)
	}
	return &data, ""
}

func (s *exchangeRateService) getExchangeRate(ctx context.Context, raw map[string]interface{}) string {
	var args exchangeRateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	from := strings.ToUpper(args.FromCurrency)
	to := strings.ToUpper(args.ToCurrency)

	data, errMsg := s.fetchRates(ctx, from)
	if errMsg != "" {
		return errMsg
	}
	rate, ok := data.Rates[to]
	if !ok {
		return fmt.Sprintf("エラー: 通貨コード '%s' が見つかりません", to)
	}
	return fmt.Sprintf("1 %s = %.4f %s（%s時点）", from, rate, to, data.Date)
}

func (s *exchangeRateService) convertCurrency(ctx context.Context, raw map[string]interface{}) string {
	var args convertCurrencyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	from := strings.ToUpper(args.FromCurrency)
	to := strings.ToUpper(args.ToCurrency)

	data, errMsg := s.fetchRates(ctx, from)
	if errMsg != "" {
		return errMsg
	}
	rate, ok := data.Rates[to]
	if !ok {
		return fmt.Sprintf("エラー: 通貨コード '%s' が見つかりません", to)
	}
	return fmt.Sprintf("%g %s = %.2f %s\n(レート: 1 %s = %.4f %s)",
		args.Amount, from, args.Amount*rate, to, from, rate, to)
}

func (s *exchangeRateService) getMajorRates(ctx context.Context, raw map[string]interface{}) string {
	var args majorRatesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	base := strings.ToUpper(args.BaseCurrency)
	data, errMsg := s.fetchRates(ctx, base)
	if errMsg != "" {
		return errMsg
	}

	date := data.Date
	if date == "" {
		date = "N/A"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s の為替レート（%s時点）:\n", base, date)
	for _, currency := range majorCurrencies {
		if currency == base {
			continue
		}
		if rate, ok := data.Rates[currency]; ok {
			fmt.Fprintf(&b, "  %s: %.4f\n", currency, rate)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
