// Package wrappers provides the API-wrapper tool services: thin clients
// over public HTTP APIs. Outputs are Japanese human-readable strings and
// domain failures come back as "エラー:" strings so the model can react;
// missing credentials are reported the same way, never as transport
// errors.
package wrappers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/torii/pkg/httpclient"
	"github.com/kadirpekel/torii/pkg/tools"
)

type handler func(ctx context.Context, args map[string]interface{}) string

// service is the shared wrapper implementation: descriptors, a dispatch
// table, the caller's auth bag, and a retrying HTTP client.
type service struct {
	info        tools.ServiceInfo
	baseURL     string
	auth        map[string]string
	client      *httpclient.Client
	descriptors []tools.ToolDescriptor
	handlers    map[string]handler
}

func (s *service) Class() string                     { return s.info.Class }
func (s *service) Name() string                      { return s.info.Name }
func (s *service) Kind() tools.Kind                  { return tools.KindAPIWrapper }
func (s *service) ConfigSchema() []tools.SchemaField { return s.info.ConfigSchema }
func (s *service) AuthSchema() []tools.SchemaField   { return s.info.AuthSchema }
func (s *service) Tools() []tools.ToolDescriptor     { return s.descriptors }

func (s *service) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	h, ok := s.handlers[tool]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", tool)
	}
	return h(ctx, args), nil
}

func (s *service) register(name, description, category string, tags []string, argType interface{}, h handler) {
	s.descriptors = append(s.descriptors, tools.ToolDescriptor{
		Name:        name,
		Description: description,
		InputSchema: tools.SchemaOf(argType),
		Category:    category,
		Tags:        tags,
	})
	if s.handlers == nil {
		s.handlers = make(map[string]handler)
	}
	s.handlers[name] = h
}

// newService builds the shared base. config["base_url"] overrides the
// default endpoint; timeout and retries are per-wrapper.
func newService(info tools.ServiceInfo, defaultBaseURL string, config map[string]interface{}, auth map[string]string, timeout time.Duration, maxRetries int) *service {
	baseURL := defaultBaseURL
	if override, ok := config["base_url"].(string); ok && override != "" {
		baseURL = strings.TrimRight(override, "/")
	}
	if auth == nil {
		auth = map[string]string{}
	}
	return &service{
		info:    info,
		baseURL: baseURL,
		auth:    auth,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}
}

// requireAuth returns an "エラー:" string when a credential is absent.
func (s *service) requireAuth(key, message string) (string, bool) {
	if s.auth[key] == "" {
		return message, false
	}
	return "", true
}

type apiResponse struct {
	Status int
	Body   []byte
}

func (r *apiResponse) decode(out interface{}) error {
	return json.Unmarshal(r.Body, out)
}

func (s *service) get(ctx context.Context, path string, query url.Values, headers map[string]string) (*apiResponse, error) {
	return s.do(ctx, http.MethodGet, path, query, headers, nil)
}

func (s *service) post(ctx context.Context, path string, headers map[string]string, payload interface{}) (*apiResponse, error) {
	return s.do(ctx, http.MethodPost, path, nil, headers, payload)
}

func (s *service) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, payload interface{}) (*apiResponse, error) {
	target := s.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &apiResponse{Status: resp.StatusCode, Body: data}, nil
}

// httpErrorMessage maps upstream statuses onto the wrapper taxonomy.
func httpErrorMessage(action string, status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "エラー: APIキーが無効です"
	case http.StatusForbidden:
		return "エラー: このリソースへのアクセス権限がありません"
	case http.StatusNotFound:
		return fmt.Sprintf("エラー: %sに必要なリソースが見つかりませんでした", action)
	case http.StatusTooManyRequests:
		return "エラー: レート制限を超えました。しばらく待ってから再試行してください"
	default:
		return fmt.Sprintf("エラー: %sに失敗しました - %d", action, status)
	}
}

func requestError(err error) string {
	return fmt.Sprintf("エラー: リクエストエラー - %v", err)
}

func decodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(args)
}

func argError(err error) string {
	return fmt.Sprintf("エラー: 引数が正しくありません - %v", err)
}

// Factories returns every API-wrapper factory for registration.
func Factories() []tools.Factory {
	return []tools.Factory{
		openWeatherFactory(),
		ipAPIFactory(),
		exchangeRateFactory(),
		braveSearchFactory(),
		slackFactory(),
		notionFactory(),
		googleCalendarFactory(),
	}
}
