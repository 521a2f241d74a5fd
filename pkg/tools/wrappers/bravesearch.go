package wrappers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/torii/pkg/tools"
)

type braveSearchArgs struct {
	Query      string `json:"query" jsonschema:"description=検索クエリ"`
	Count      int    `json:"count,omitempty" jsonschema:"description=取得する結果数（1-20）"`
	Country    string `json:"country,omitempty" jsonschema:"description=国コード（例: JP）"`
	Lang       string `json:"lang,omitempty" jsonschema:"description=検索言語コード（例: ja）"`
	Freshness  string `json:"freshness,omitempty" jsonschema:"description=期間フィルタ,enum=pd,enum=pw,enum=pm,enum=py"`
	SafeSearch string `json:"safesearch,omitempty" jsonschema:"description=セーフサーチレベル,enum=strict,enum=moderate,enum=off"`
}

type braveSearchService struct {
	*service
}

func braveSearchFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "BraveSearchService",
		Name:        "Brave Search",
		Description: "Brave Search APIによるWeb/ニュース/画像/動画検索",
		Icon:        "🔍",
		Kind:        tools.KindAPIWrapper,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "エンドポイントの上書き"},
		},
		AuthSchema: []tools.SchemaField{
			{Name: "api_key", Type: "string", Description: "Brave Search API キー", Required: true, Secret: true},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			s := &braveSearchService{
				service: newService(info, "https://api.search.brave.com/res/v1", config, auth, 15*time.Second, 0),
			}
			s.register("web_search", "Brave独自インデックスによるWeb検索。言語/地域/期間/セーフサーチのフィルタリング対応",
				"search", []string{"web", "search", "internet", "research"}, &braveSearchArgs{}, s.search("/web/search", "web"))
			s.register("news_search", "ニュース記事を検索します。最新の報道や時事情報の取得に最適",
				"search", []string{"news", "search", "current"}, &braveSearchArgs{}, s.search("/news/search", "news"))
			s.register("image_search", "画像専用検索。写真、イラスト、図表などビジュアルコンテンツを検索",
				"search", []string{"image", "search", "visual"}, &braveSearchArgs{}, s.search("/images/search", "images"))
			s.register("video_search", "動画専用検索。解説動画やレビュー動画の検索に最適",
				"search", []string{"video", "search", "media"}, &braveSearchArgs{}, s.search("/videos/search", "videos"))
			return s, nil
		},
	}
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age"`
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
	Results []braveResult `json:"results"`
}

// search builds the handler for one Brave endpoint. Web results nest
// under "web"; the other endpoints return a flat results list.
func (s *braveSearchService) search(path, kind string) handler {
	return func(ctx context.Context, raw map[string]interface{}) string {
		if msg, ok := s.requireAuth("api_key", "エラー: APIキーが設定されていません"); !ok {
			return msg
		}

		var args braveSearchArgs
		if err := decodeArgs(raw, &args); err != nil {
			return argError(err)
		}

		count := args.Count
		if count <= 0 {
			count = 10
		}
		if count > 20 {
			count = 20
		}
		lang := args.Lang
		if lang == "" {
			lang = "ja"
		}
		safeSearch := args.SafeSearch
		if safeSearch == "" {
			safeSearch = "moderate"
		}

		query := url.Values{
			"q":          {args.Query},
			"count":      {strconv.Itoa(count)},
			"lang":       {lang},
			"safesearch": {safeSearch},
		}
		if args.Country != "" {
			query.Set("country", args.Country)
		}
		if args.Freshness != "" {
			query.Set("freshness", args.Freshness)
		}

		resp, err := s.get(ctx, path, query, map[string]string{
			"X-Subscription-Token": s.auth["api_key"],
		})
		if err != nil {
			return requestError(err)
		}
		if resp.Status != http.StatusOK {
			return httpErrorMessage("検索", resp.Status)
		}

		var data braveResponse
		if err := resp.decode(&data); err != nil {
			return requestError(err)
		}

		results := data.Results
		if kind == "web" {
			results = data.Web.Results
		}
		if len(results) == 0 {
			return fmt.Sprintf("検索クエリ「%s」に対する結果が見つかりませんでした", args.Query)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "検索クエリ「%s」の結果（%d件）:\n\n", args.Query, len(results))
		for i, item := range results {
			title := item.Title
			if title == "" {
				title = "タイトルなし"
			}
			fmt.Fprintf(&b, "%d. %s\n   URL: %s\n", i+1, title, item.URL)
			if item.Description != "" {
				fmt.Fprintf(&b, "   概要: %s\n", item.Description)
			}
			if item.Age != "" {
				fmt.Fprintf(&b, "   公開: %s\n", item.Age)
			}
			b.WriteString("\n")
		}
		return strings.TrimSpace(b.String())
	}
}
