package builtin

import (
	"context"
	"fmt"
	"time"
)

// jst is the display timezone for all datetime tools.
var jst = time.FixedZone("JST", 9*60*60)

// now is swapped in tests.
var now = func() time.Time { return time.Now().In(jst) }

type calculateDateArgs struct {
	Days     int    `json:"days" jsonschema:"description=日数（正の数で未来、負の数で過去）"`
	FromDate string `json:"from_date,omitempty" jsonschema:"description=基準日（YYYY-MM-DD形式、省略時は今日）"`
}

type daysBetweenArgs struct {
	Date1 string `json:"date1" jsonschema:"description=開始日（YYYY-MM-DD形式）"`
	Date2 string `json:"date2" jsonschema:"description=終了日（YYYY-MM-DD形式）"`
}

func newDateTimeService() *service {
	s := &service{}
	s.info = serviceInfo("DateTimeService", "日時サービス",
		"現在時刻の取得、日付計算、日数計算などの日時関連機能", "⏰")

	s.register("get_current_time", "現在の日時（日本時間）を取得します",
		"datetime", []string{"time", "clock", "now"}, &struct{}{}, getCurrentTime)
	s.register("calculate_date", "指定した日数後/前の日付を計算します",
		"datetime", []string{"date", "calculation", "future", "past"}, &calculateDateArgs{}, calculateDate)
	s.register("days_between", "2つの日付間の日数を計算します",
		"datetime", []string{"date", "calculation", "difference"}, &daysBetweenArgs{}, daysBetween)
	return s
}

func getCurrentTime(context.Context, map[string]interface{}) string {
	return fmt.Sprintf("現在の日時（日本時間）: %s", now().Format("2006年01月02日 15:04:05"))
}

func calculateDate(_ context.Context, raw map[string]interface{}) string {
	var args calculateDateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	base := now()
	if args.FromDate != "" {
		parsed, err := time.Parse("2006-01-02", args.FromDate)
		if err != nil {
			return "エラー: 日付形式が正しくありません（YYYY-MM-DD形式で指定してください）"
		}
		base = parsed
	}

	result := base.AddDate(0, 0, args.Days)
	direction := "後"
	if args.Days < 0 {
		direction = "前"
	}
	days := args.Days
	if days < 0 {
		days = -days
	}
	return fmt.Sprintf("%d日%s: %s", days, direction, result.Format("2006年01月02日 (Monday)"))
}

func daysBetween(_ context.Context, raw map[string]interface{}) string {
	var args daysBetweenArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	d1, err1 := time.Parse("2006-01-02", args.Date1)
	d2, err2 := time.Parse("2006-01-02", args.Date2)
	if err1 != nil || err2 != nil {
		return "エラー: 日付形式が正しくありません（YYYY-MM-DD形式で指定してください）"
	}

	diff := int(d2.Sub(d1).Hours() / 24)
	abs := diff
	if abs < 0 {
		abs = -abs
	}
	return fmt.Sprintf("%s から %s まで: %d日間（%d日）", args.Date1, args.Date2, abs, diff)
}
