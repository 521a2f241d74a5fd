package wrappers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kadirpekel/torii/pkg/tools"
)

const ipAPIFields = "status,message,country,countryCode,region,regionName,city,zip,lat,lon,timezone,isp,org,as,query"

type ipInfoArgs struct {
	IPAddress string `json:"ip_address,omitempty" jsonschema:"description=IPアドレス（省略時は自身のIPアドレス）"`
}

type ipAPIService struct {
	*service
}

func ipAPIFactory() tools.Factory {
	info := tools.ServiceInfo{
		Class:       "IPApiService",
		Name:        "IP情報",
		Description: "IPアドレスの位置情報、ISP情報を取得",
		Icon:        "🌐",
		Kind:        tools.KindAPIWrapper,
		ConfigSchema: []tools.SchemaField{
			{Name: "base_url", Type: "string", Description: "エンドポイントの上書き"},
		},
	}
	return tools.Factory{
		Info: info,
		New: func(config map[string]interface{}, auth map[string]string) (tools.Service, error) {
			s := &ipAPIService{
				service: newService(info, "http://ip-api.com/json", config, auth, 10*time.Second, 0),
			}
			s.register("get_ip_info", "IPアドレスの位置情報、ISP情報を取得します",
				"network", []string{"ip", "location", "network"}, &ipInfoArgs{}, s.getIPInfo)
			s.register("get_my_ip_info", "自身のIPアドレスの位置情報を取得します",
				"network", []string{"ip", "location", "network"}, &struct{}{}, s.getMyIPInfo)
			return s, nil
		},
	}
}

type ipAPIResult struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Zip         string  `json:"zip"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
	Query       string  `json:"query"`
}

func (s *ipAPIService) getIPInfo(ctx context.Context, raw map[string]interface{}) string {
	var args ipInfoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}
	return s.lookup(ctx, args.IPAddress)
}

func (s *ipAPIService) getMyIPInfo(ctx context.Context, _ map[string]interface{}) string {
	return s.lookup(ctx, "")
}

func (s *ipAPIService) lookup(ctx context.Context, ip string) string {
	path := ""
	if ip != "" {
		path = "/" + url.PathEscape(ip)
	}

	resp, err := s.get(ctx, path, url.Values{"fields": {ipAPIFields}}, nil)
	if err != nil {
		return requestError(err)
	}
	if resp.Status != http.StatusOK {
		return fmt.Sprintf("エラー: IP情報の取得に失敗しました - %d", resp.Status)
	}

	var data ipAPIResult
	if err := resp.decode(&data); err != nil {
		return requestError(err)
	}
	if data.Status == "fail" {
		message := data.Message
		if message == "" {
			message = "不明なエラー"
		}
		return fmt.Sprintf("エラー: %s", message)
	}

	return fmt.Sprintf(`IP情報:
  IPアドレス: %s
  国: %s (%s)
  地域: %s (%s)
  都市: %s
  郵便番号: %s
  緯度/経度: %g, %g
  タイムゾーン: %s
  ISP: %s
  組織: %s
  AS: %s`,
		data.Query, data.Country, data.CountryCode, data.RegionName, data.Region,
		data.City, data.Zip, data.Lat, data.Lon, data.Timezone, data.ISP, data.Org, data.AS)
}
