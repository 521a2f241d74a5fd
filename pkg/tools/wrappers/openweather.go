package wrappers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kadirpekel/torii/pkg/tools"
)

type weatherArgs struct {
	City string `json:"city" jsonschema:"description=都市名（例: Tokyo）"`
	Lang string `json:"lang,omitempty" jsonschema:"description=言語コード,enum=ja,enum=en"`
}

type openWeatherService struct {
	*service
}

func openWeatherFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "OpenWeatherService",
		Name:        "OpenWeather",
		Description: "世界中の天気情報、予報を取得",
		Icon:        "🌤️",
		Kind:        tools.KindAPIWrapper,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "エンドポイントの上書き"},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			s := &openWeatherService{
				service: newService(info, "https://wttr.in", config, auth, 30*time.Second, 3),
			}
			s.register("get_current_weather", "指定した都市の現在の天気情報を取得します",
				"weather", []string{"weather", "forecast", "temperature"}, &weatherArgs{}, s.getCurrentWeather)
			s.register("get_weather_forecast", "指定した都市の詳細な天気予報を取得します",
				"weather", []string{"weather", "forecast", "detailed"}, &weatherArgs{}, s.getWeatherForecast)
			return s, nil
		},
	}
}

func (s *openWeatherService) getCurrentWeather(ctx context.Context, raw map[string]interface{}) string {
	var args weatherArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}
	return s.fetch(ctx, args, true)
}

func (s *openWeatherService) getWeatherForecast(ctx context.Context, raw map[string]interface{}) string {
	var args weatherArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}
	return s.fetch(ctx, args, false)
}

// fetch asks wttr.in for the city. Exhausted retries fall back to a mock
// response (degraded answer, not a stream error); upstream HTTP failures
// stay errors.
func (s *openWeatherService) fetch(ctx context.Context, args weatherArgs, compact bool) string {
	lang := args.Lang
	if lang == "" {
		lang = "ja"
	}

	query := url.Values{"lang": {lang}}
	label := "詳細天気"
	if compact {
		query.Set("format", "3")
		label = "天気"
	}

	resp, err := s.get(ctx, "/"+url.PathEscape(args.City), query, nil)
	if err != nil {
		return fmt.Sprintf("%sの%s:\n⛅️ 曇り時々晴れ +18°C (モックデータ - ネットワーク接続エラーのため)", args.City, label)
	}
	if resp.Status != http.StatusOK {
		return fmt.Sprintf("エラー: 天気情報の取得に失敗しました - HTTP %d", resp.Status)
	}

	return fmt.Sprintf("%sの%s:\n%s", args.City, label, string(resp.Body))
}
