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

type upcomingEventsArgs struct {
	Days       int `json:"days,omitempty" jsonschema:"description=何日先まで取得するか（デフォルト7日）"`
	MaxResults int `json:"max_results,omitempty" jsonschema:"description=取得するイベント数（最大50）"`
}

type createEventArgs struct {
	Summary     string `json:"summary" jsonschema:"description=イベントのタイトル"`
	StartTime   string `json:"start_time" jsonschema:"description=開始日時（ISO 8601形式、例: 2026-08-25T10:00:00+09:00）"`
	EndTime     string `json:"end_time" jsonschema:"description=終了日時（ISO 8601形式）"`
	Description string `json:"description,omitempty" jsonschema:"description=イベントの説明"`
	Location    string `json:"location,omitempty" jsonschema:"description=場所"`
}

type eventDetailsArgs struct {
	EventID string `json:"event_id" jsonschema:"description=イベントID"`
}

type googleCalendarService struct {
	*service
}

func googleCalendarFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "GoogleCalendarService",
		Name:        "Google Calendar",
		Description: "Googleカレンダーの予定の取得、作成",
		Icon:        "📅",
		Kind:        tools.KindAPIWrapper,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "エンドポイントの上書き"},
		},
		AuthSchema: []tools.SchemaField{
			{Name: "access_token", Type: "string", Description: "Google OAuth2 アクセストークン", Required: true, Secret: true},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			s := &googleCalendarService{
				service: newService(info, "https://www.googleapis.com/calendar/v3", config, auth, 30*time.Second, 0),
			}
			s.register("get_today_events", "今日の予定を取得します",
				"calendar", []string{"calendar", "events", "today"}, &struct{}{}, s.getTodayEvents)
			s.register("get_upcoming_events", "今後の予定を取得します",
				"calendar", []string{"calendar", "events", "upcoming"}, &upcomingEventsArgs{}, s.getUpcomingEvents)
			s.register("create_event", "新しい予定を作成します",
				"calendar", []string{"calendar", "events", "create"}, &createEventArgs{}, s.createEvent)
			s.register("get_event_details", "予定の詳細を取得します",
				"calendar", []string{"calendar", "events", "details"}, &eventDetailsArgs{}, s.getEventDetails)
			return s, nil
		},
	}
}

const missingTokenMessage = "エラー: アクセストークンが設定されていません"

func (s *googleCalendarService) bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.auth["access_token"]}
}

// calendarErrorMessage covers the Calendar API status taxonomy; it is
// wider than httpErrorMessage because the API reports conflicts and
// deleted events explicitly.
func calendarErrorMessage(action string, status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "エラー: アクセストークンが無効または期限切れです"
	case http.StatusForbidden:
		return "エラー: カレンダーへのアクセス権限がありません"
	case http.StatusNotFound:
		return "エラー: 指定されたカレンダーまたは予定が見つかりません"
	case http.StatusConflict:
		return "エラー: 予定が競合しています"
	case http.StatusGone:
		return "エラー: この予定は削除されています"
	case http.StatusTooManyRequests:
		return "エラー: レート制限を超えました。しばらく待ってから再試行してください"
	default:
		if status >= 500 {
			return fmt.Sprintf("エラー: Google Calendar側で問題が発生しています - %d", status)
		}
		return fmt.Sprintf("エラー: %sに失敗しました - %d", action, status)
	}
}

type calendarEvent struct {
	ID          string           `json:"id"`
	Summary     string           `json:"summary"`
	Description string           `json:"description"`
	Location    string           `json:"location"`
	Status      string           `json:"status"`
	Start       calendarDateTime `json:"start"`
	End         calendarDateTime `json:"end"`
	HTMLLink    string           `json:"htmlLink"`
}

type calendarDateTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

// label renders either a timed start or an all-day date.
func (d calendarDateTime) label() string {
	if d.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, d.DateTime); err == nil {
			return t.In(jstLocation).Format("2006-01-02 15:04")
		}
		return d.DateTime
	}
	if d.Date != "" {
		return d.Date + " (終日)"
	}
	return "不明"
}

var jstLocation = time.FixedZone("JST", 9*60*60)

func (e calendarEvent) title() string {
	if e.Summary == "" {
		return "（タイトルなし）"
	}
	return e.Summary
}

func (s *googleCalendarService) listEvents(ctx context.Context, timeMin, timeMax time.Time, maxResults int) ([]calendarEvent, string) {
	resp, err := s.get(ctx, "/calendars/primary/events", url.Values{
		"timeMin":      {timeMin.Format(time.RFC3339)},
		"timeMax":      {timeMax.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {strconv.Itoa(maxResults)},
	}, s.bearer())
	if err != nil {
		return nil, requestError(err)
	}
	if resp.Status != http.StatusOK {
		return nil, calendarErrorMessage("予定の取得", resp.Status)
	}

	var data struct {
		Items []calendarEvent `json:"items"`
	}
	if err := resp.decode(&data); err != nil {
		return nil, requestError(err)
	}
	return data.Items, ""
}

func formatEventList(header string, events []calendarEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s（%d件）:\n\n", header, len(events))
	for i, event := range events {
		fmt.Fprintf(&b, "%d. %s\n   開始: %s\n   終了: %s\n",
			i+1, event.title(), event.Start.label(), event.End.label())
		if event.Location != "" {
			fmt.Fprintf(&b, "   場所: %s\n", event.Location)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func (s *googleCalendarService) getTodayEvents(ctx context.Context, _ map[string]interface{}) string {
	if msg, ok := s.requireAuth("access_token", missingTokenMessage); !ok {
		return msg
	}

	now := time.Now().In(jstLocation)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, jstLocation)
	end := start.Add(24 * time.Hour)

	events, errMsg := s.listEvents(ctx, start, end, 50)
	if errMsg != "" {
		return errMsg
	}
	if len(events) == 0 {
		return "📅 今日の予定はありません。"
	}
	return formatEventList("📅 今日の予定", events)
}

func (s *googleCalendarService) getUpcomingEvents(ctx context.Context, raw map[string]interface{}) string {
	if msg, ok := s.requireAuth("access_token", missingTokenMessage); !ok {
		return msg
	}

	var args upcomingEventsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	days := args.Days
	if days <= 0 {
		days = 7
	}
	maxResults := args.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	if maxResults > 50 {
		maxResults = 50
	}

	now := time.Now().In(jstLocation)
	events, errMsg := s.listEvents(ctx, now, now.AddDate(0, 0, days), maxResults)
	if errMsg != "" {
		return errMsg
	}
	if len(events) == 0 {
		return fmt.Sprintf("📅 今後%d日間の予定はありません。", days)
	}
	return formatEventList(fmt.Sprintf("📅 今後%d日間の予定", days), events)
}

func (s *googleCalendarService) createEvent(ctx context.Context, raw map[string]interface{}) string {
	if msg, ok := s.requireAuth("access_token", missingTokenMessage); !ok {
		return msg
	}

	var args createEventArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}
	if args.Summary == "" || args.StartTime == "" || args.EndTime == "" {
		return "エラー: summary、start_time、end_timeは必須です"
	}

	payload := map[string]interface{}{
		"summary": args.Summary,
		"start":   map[string]string{"dateTime": args.StartTime, "timeZone": "Asia/Tokyo"},
		"end":     map[string]string{"dateTime": args.EndTime, "timeZone": "Asia/Tokyo"},
	}
	if args.Description != "" {
		payload["description"] = args.Description
	}
	if args.Location != "" {
		payload["location"] = args.Location
	}

	resp, err := s.post(ctx, "/calendars/primary/events", s.bearer(), payload)
	if err != nil {
		return requestError(err)
	}
	if resp.Status != http.StatusOK {
		return calendarErrorMessage("予定の作成", resp.Status)
	}

	var event calendarEvent
	if err := resp.decode(&event); err != nil {
		return requestError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ 予定を作成しました:\n  タイトル: %s\n  開始: %s\n  終了: %s\n  ID: %s",
		event.title(), event.Start.label(), event.End.label(), event.ID)
	if event.HTMLLink != "" {
		fmt.Fprintf(&b, "\n  URL: %s", event.HTMLLink)
	}
	return b.String()
}

func (s *googleCalendarService) getEventDetails(ctx context.Context, raw map[string]interface{}) string {
	if msg, ok := s.requireAuth("access_token", missingTokenMessage); !ok {
		return msg
	}

	var args eventDetailsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	resp, err := s.get(ctx, "/calendars/primary/events/"+url.PathEscape(args.EventID), nil, s.bearer())
	if err != nil {
		return requestError(err)
	}
	if resp.Status != http.StatusOK {
		return calendarErrorMessage("予定の取得", resp.Status)
	}

	var event calendarEvent
	if err := resp.decode(&event); err != nil {
		return requestError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "予定の詳細:\n  タイトル: %s\n  開始: %s\n  終了: %s\n  ステータス: %s",
		event.title(), event.Start.label(), event.End.label(), event.Status)
	if event.Location != "" {
		fmt.Fprintf(&b, "\n  場所: %s", event.Location)
	}
	if event.Description != "" {
		fmt.Fprintf(&b, "\n  説明: %s", event.Description)
	}
	if event.HTMLLink != "" {
		fmt.Fprintf(&b, "\n  URL: %s", event.HTMLLink)
	}
	return b.String()
}
