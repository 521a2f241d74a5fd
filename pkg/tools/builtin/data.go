package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

type formatJSONArgs struct {
	JSONString string `json:"json_string" jsonschema:"description=整形対象のJSON文字列"`
}

type encodeTextArgs struct {
	Text string `json:"text" jsonschema:"description=エンコード対象のテキスト"`
}

type decodeTextArgs struct {
	EncodedText string `json:"encoded_text" jsonschema:"description=デコード対象のテキスト"`
}

func newDataFormatService() *service {
	s := &service{}
	s.info = serviceInfo("DataFormatService", "データ変換サービス",
		"JSON整形、Base64・URLエンコーディングなどのデータ変換機能", "🔄")

	s.register("format_json", "JSON文字列を整形します",
		"data", []string{"json", "format", "pretty"}, &formatJSONArgs{}, formatJSON)
	s.register("base64_encode", "テキストをBase64エンコードします",
		"data", []string{"base64", "encode", "encoding"}, &encodeTextArgs{}, base64Encode)
	s.register("base64_decode", "Base64文字列をデコードします",
		"data", []string{"base64", "decode", "decoding"}, &decodeTextArgs{}, base64Decode)
	s.register("url_encode", "テキストをURLエンコードします",
		"data", []string{"url", "encode", "encoding"}, &encodeTextArgs{}, urlEncode)
	s.register("url_decode", "URLエンコードされたテキストをデコードします",
		"data", []string{"url", "decode", "decoding"}, &decodeTextArgs{}, urlDecode)
	return s
}

func formatJSON(_ context.Context, raw map[string]interface{}) string {
	var args formatJSONArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(args.JSONString), &parsed); err != nil {
		return fmt.Sprintf("エラー: JSONの解析に失敗しました - %v", err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(parsed); err != nil {
		return fmt.Sprintf("エラー: %v", err)
	}

	return fmt.Sprintf("整形されたJSON:\n%s", strings.TrimRight(buf.String(), "\n"))
}

func base64Encode(_ context.Context, raw map[string]interface{}) string {
	var args encodeTextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}
	return fmt.Sprintf("Base64エンコード結果:\n%s",
		base64.StdEncoding.EncodeToString([]byte(args.Text)))
}

func base64Decode(_ context.Context, raw map[string]interface{}) string {
	var args decodeTextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	decoded, err := base64.StdEncoding.DecodeString(args.EncodedText)
	if err != nil {
		return fmt.Sprintf("エラー: デコードに失敗しました - %v", err)
	}
	return fmt.Sprintf("Base64デコード結果:\n%s", decoded)
}

func urlEncode(_ context.Context, raw map[string]interface{}) string {
	var args encodeTextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}
	return fmt.Sprintf("URLエンコード結果:\n%s", url.QueryEscape(args.Text))
}

func urlDecode(_ context.Context, raw map[string]interface{}) string {
	var args decodeTextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	decoded, err := url.QueryUnescape(args.EncodedText)
	if err != nil {
		return fmt.Sprintf("エラー: デコードに失敗しました - %v", err)
	}
	return fmt.Sprintf("URLデコード結果:\n%s", decoded)
}
