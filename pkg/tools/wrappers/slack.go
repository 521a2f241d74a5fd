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

type sendMessageArgs struct {
	Channel string `json:"channel" jsonschema:"description=チャンネルID または チャンネル名"`
	Text    string `json:"text" jsonschema:"description=送信するメッセージ"`
}

type listChannelsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=取得するチャンネル数（最大1000）"`
}

type slackService struct {
	*service
}

func slackFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "SlackService",
		Name:        "Slack",
		Description: "Slackのメッセージ送信、チャンネル一覧取得",
		Icon:        "💬",
		Kind:        tools.KindAPIWrapper,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "エンドポイントの上書き"},
		},
		AuthSchema: []tools.SchemaField{
			{Name: "bot_token", Type: "string", Description: "Slack Bot User OAuth Token (xoxb-で始まる)", Required: true, Secret: true},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			s := &slackService{
				service: newService(info, "https://slack.com/api", config, auth, 15*time.Second, 0),
			}
			s.register("send_message", "Slackチャンネルにメッセージを送信します",
				"slack", []string{"slack", "message", "send"}, &sendMessageArgs{}, s.sendMessage)
			s.register("list_channels", "Slackのチャンネル一覧を取得します",
				"slack", []string{"slack", "channels", "list"}, &listChannelsArgs{}, s.listChannels)
			return s, nil
		},
	}
}

func (s *slackService) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.auth["bot_token"]}
}

func (s *slackService) sendMessage(ctx context.Context, raw map[string]interface{}) string {
	if msg, ok := s.requireAuth("bot_token", "エラー: Bot Tokenが設定されていません"); !ok {
		return msg
	}

	var args sendMessageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	resp, err := s.post(ctx, "/chat.postMessage", s.bearer(), map[string]string{
		"channel": args.Channel,
		"text":    args.Text,
	})
	if err != nil {
		return requestError(err)
	}
	if resp.Status != http.StatusOK {
		return fmt.Sprintf("エラー: メッセージの送信に失敗しました - %d", resp.Status)
	}

	var data struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := resp.decode(&data); err != nil {
		return requestError(err)
	}
	if !data.OK {
		errMsg := data.Error
		if errMsg == "" {
			errMsg = "不明なエラー"
		}
		return fmt.Sprintf("エラー: メッセージの送信に失敗しました - %s", errMsg)
	}

	return fmt.Sprintf("メッセージを送信しました（チャンネル: %s）", args.Channel)
}

func (s *slackService) listChannels(ctx context.Context, raw map[string]interface{}) string {
	if msg, ok := s.requireAuth("bot_token", "エラー: Bot Tokenが設定されていません"); !ok {
		return msg
	}

	var args listChannelsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	resp, err := s.get(ctx, "/conversations.list", url.Values{
		"limit":            {strconv.Itoa(limit)},
		"exclude_archived": {"true"},
	}, s.bearer())
	if err != nil {
		return requestError(err)
	}
	if resp.Status != http.StatusOK {
		return fmt.Sprintf("エラー: チャンネル一覧の取得に失敗しました - %d", resp.Status)
	}

	var data struct {
		OK       bool   `json:"ok"`
		Error    string `json:"error"`
		Channels []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			IsPrivate  bool   `json:"is_private"`
			NumMembers int    `json:"num_members"`
		} `json:"channels"`
	}
	if err := resp.decode(&data); err != nil {
		return requestError(err)
	}
	if !data.OK {
		errMsg := data.Error
		if errMsg == "" {
			errMsg = "不明なエラー"
		}
		return fmt.Sprintf("エラー: チャンネル一覧の取得に失敗しました - %s", errMsg)
	}
	if len(data.Channels) == 0 {
		return "チャンネルが見つかりませんでした"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "チャンネル一覧（%d件）:\n\n", len(data.Channels))
	for _, channel := range data.Channels {
		icon := "🔓"
		if channel.IsPrivate {
			icon = "🔒"
		}
		fmt.Fprintf(&b, "%s #%s\n   ID: %s\n   メンバー数: %d\n\n",
			icon, channel.Name, channel.ID, channel.NumMembers)
	}
	return strings.TrimSpace(b.String())
}
