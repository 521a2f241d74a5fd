package wrappers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/torii/pkg/tools"
)

const notionVersion = "2022-06-28"

type searchPagesArgs struct {
	Query    string `json:"query" jsonschema:"description=検索クエリ"`
	PageSize int    `json:"page_size,omitempty" jsonschema:"description=取得するページ数（最大100）"`
}

type getPageContentArgs struct {
	PageID string `json:"page_id" jsonschema:"description=ページID（ハイフンあり/なし両対応）"`
}

type notionService struct {
	*service
}

func notionFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "NotionService",
		Name:        "Notion",
		Description: "Notionのページ検索、ページ内容の取得",
		Icon:        "📝",
		Kind:        tools.KindAPIWrapper,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "エンドポイントの上書き"},
		},
		AuthSchema: []tools.SchemaField{
			{Name: "api_key", Type: "string", Description: "Notion Integration Token", Required: true, Secret: true},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			s := &notionService{
				service: newService(info, "https://api.notion.com/v1", config, auth, 15*time.Second, 0),
			}
			s.register("search_pages", "Notionページを検索します",
				"notion", []string{"notion", "search", "page"}, &searchPagesArgs{}, s.searchPages)
			s.register("get_page_content", "Notionページの内容を取得します",
				"notion", []string{"notion", "page", "content"}, &getPageContentArgs{}, s.getPageContent)
			return s, nil
		},
	}
}

func (s *notionService) headers() map[string]string {
	return map[string]string{
		"Authorization":  "Bearer " + s.auth["api_key"],
		"Notion-Version": notionVersion,
	}
}

type notionPage struct {
	ID         string                    `json:"id"`
	Properties map[string]notionProperty `json:"properties"`
}

type notionProperty struct {
	Type  string `json:"type"`
	Title []struct {
		PlainText string `json:"plain_text"`
	} `json:"title"`
}

func (p notionPage) title() string {
	for _, prop := range p.Properties {
		if prop.Type == "title" && len(prop.Title) > 0 {
			return prop.Title[0].PlainText
		}
	}
	return "タイトルなし"
}

func (s *notionService) searchPages(ctx context.Context, raw map[string]interface{}) string {
	if msg, ok := s.requireAuth("api_key", "エラー: APIキーが設定されていません"); !ok {
		return msg
	}

	var args searchPagesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	resp, err := s.post(ctx, "/search", s.headers(), map[string]interface{}{
		"query":     args.Query,
		"page_size": pageSize,
		"filter":    map[string]string{"value": "page", "property": "object"},
	})
	if err != nil {
		return requestError(err)
	}
	if resp.Status != http.StatusOK {
		return httpErrorMessage("検索", resp.Status)
	}

	var data struct {
		Results []notionPage `json:"results"`
	}
	if err := resp.decode(&data); err != nil {
		return requestError(err)
	}
	if len(data.Results) == 0 {
		return fmt.Sprintf("検索クエリ「%s」に対する結果が見つかりませんでした", args.Query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "検索クエリ「%s」の結果（%d件）:\n\n", args.Query, len(data.Results))
	for i, page := range data.Results {
		fmt.Fprintf(&b, "%d. %s\n   ID: %s\n   URL: https://notion.so/%s\n\n",
			i+1, page.title(), page.ID, strings.ReplaceAll(page.ID, "-", ""))
	}
	return strings.TrimSpace(b.String())
}

// normalizePageID accepts the ID with or without hyphens and returns the
// canonical hyphenated form.
func normalizePageID(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) != 32 {
		return id
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", clean[:8], clean[8:12], clean[12:16], clean[16:20], clean[20:])
}

func (s *notionService) getPageContent(ctx context.Context, raw map[string]interface{}) string {
	if msg, ok := s.requireAuth("api_key", "エラー: APIキーが設定されていません"); !ok {
		return msg
	}

	var args getPageContentArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	pageID := normalizePageID(args.PageID)

	pageResp, err := s.get(ctx, "/pages/"+pageID, nil, s.headers())
	if err != nil {
		return requestError(err)
	}
	if pageResp.Status != http.StatusOK {
		return httpErrorMessage("ページの取得", pageResp.Status)
	}

	var page notionPage
	if err := pageResp.decode(&page); err != nil {
		return requestError(err)
	}

	blocksResp, err := s.get(ctx, "/blocks/"+pageID+"/children", nil, s.headers())
	if err != nil {
		return requestError(err)
	}
	if blocksResp.Status != http.StatusOK {
		return httpErrorMessage("ページの取得", blocksResp.Status)
	}

	var blocks struct {
		Results []map[string]interface{} `json:"results"`
	}
	if err := blocksResp.decode(&blocks); err != nil {
		return requestError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ページタイトル: %s\n\nコンテンツ:\n", page.title())
	for _, block := range blocks.Results {
		blockType, _ := block["type"].(string)
		if text := richText(block, blockType); text != "" {
			prefix := ""
			switch blockType {
			case "heading_1":
				prefix = "# "
			case "heading_2":
				prefix = "## "
			case "heading_3":
				prefix = "### "
			case "bulleted_list_item", "numbered_list_item":
				prefix = "- "
			}
			fmt.Fprintf(&b, "%s%s\n", prefix, text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func richText(block map[string]interface{}, blockType string) string {
	content, _ := block[blockType].(map[string]interface{})
	texts, _ := content["rich_text"].([]interface{})

	var parts []string
	for _, raw := range texts {
		if t, ok := raw.(map[string]interface{}); ok {
			if plain, ok := t["plain_text"].(string); ok && plain != "" {
				parts = append(parts, plain)
			}
		}
	}
	return strings.Join(parts, " ")
}
