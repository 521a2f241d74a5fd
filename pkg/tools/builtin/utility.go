package builtin

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type hashTextArgs struct {
	Text      string `json:"text" jsonschema:"description=ハッシュ化対象のテキスト"`
	Algorithm string `json:"algorithm,omitempty" jsonschema:"description=ハッシュアルゴリズム,enum=md5,enum=sha1,enum=sha256,enum=sha512"`
}

type convertTemperatureArgs struct {
	Value    float64 `json:"value" jsonschema:"description=温度の値"`
	FromUnit string  `json:"from_unit" jsonschema:"description=変換元の単位（C/F/K）"`
	ToUnit   string  `json:"to_unit" jsonschema:"description=変換先の単位（C/F/K）"`
}

type convertLengthArgs struct {
	Value    float64 `json:"value" jsonschema:"description=長さの値"`
	FromUnit string  `json:"from_unit" jsonschema:"description=変換元の単位（m/km/cm/mm/mile/yard/feet/inch）"`
	ToUnit   string  `json:"to_unit" jsonschema:"description=変換先の単位（m/km/cm/mm/mile/yard/feet/inch）"`
}

func newUtilityService() *service {
	s := &service{}
	s.info = serviceInfo("UtilityService", "ユーティリティサービス",
		"UUID生成、ハッシュ化、単位変換などの便利機能", "🛠️")

	s.register("generate_uuid", "ユニークなUUID（v4）を生成します",
		"utility", []string{"uuid", "generate", "identifier"}, &struct{}{}, generateUUID)
	s.register("hash_text", "テキストのハッシュ値を生成します",
		"utility", []string{"hash", "security", "crypto"}, &hashTextArgs{}, hashText)
	s.register("convert_temperature", "温度を変換します",
		"utility", []string{"temperature", "conversion", "unit"}, &convertTemperatureArgs{}, convertTemperature)
	s.register("convert_length", "長さを変換します",
		"utility", []string{"length", "conversion", "unit"}, &convertLengthArgs{}, convertLength)
	return s
}

func generateUUID(context.Context, map[string]interface{}) string {
	return fmt.Sprintf("生成されたUUID: %s", uuid.NewString())
}

func hashText(_ context.Context, raw map[string]interface{}) string {
	var args hashTextArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	algorithm := strings.ToLower(args.Algorithm)
	if algorithm == "" {
		algorithm = "sha256"
	}

	data := []byte(args.Text)
	var digest []byte
	switch algorithm {
	case "md5":
		sum := md5.Sum(data)
		digest = sum[:]
	case "sha1":
		sum := sha1.Sum(data)
		digest = sum[:]
	case "sha256":
		sum := sha256.Sum256(data)
		digest = sum[:]
	case "sha512":
		sum := sha512.Sum512(data)
		digest = sum[:]
	default:
		return "エラー: 未対応のアルゴリズムです（md5/sha1/sha256/sha512のいずれかを指定）"
	}

	return fmt.Sprintf("%sハッシュ:\n%x", strings.ToUpper(algorithm), digest)
}

func convertTemperature(_ context.Context, raw map[string]interface{}) string {
	var args convertTemperatureArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	from := strings.ToUpper(args.FromUnit)
	to := strings.ToUpper(args.ToUnit)

	var celsius float64
	switch from {
	case "C":
		celsius = args.Value
	case "F":
		celsius = (args.Value - 32) * 5 / 9
	case "K":
		celsius = args.Value - 273.15
	default:
		return "エラー: 未対応の単位です（C/F/Kのいずれかを指定）"
	}

	var result float64
	switch to {
	case "C":
		result = celsius
	case "F":
		result = celsius*9/5 + 32
	case "K":
		result = celsius + 273.15
	default:
		return "エラー: 未対応の単位です（C/F/Kのいずれかを指定）"
	}

	return fmt.Sprintf("%s%s = %.2f%s", formatNumber(args.Value), from, result, to)
}

// lengthUnits maps a unit to its length in meters.
var lengthUnits = map[string]float64{
	"m":    1,
	"km":   1000,
	"cm":   0.01,
	"mm":   0.001,
	"mile": 1609.34,
	"yard": 0.9144,
	"feet": 0.3048,
	"inch": 0.0254,
}

func convertLength(_ context.Context, raw map[string]interface{}) string {
	var args convertLengthArgs
	if err := decodeArgs(raw, &args); err != nil {
		return argError(err)
	}

	from := strings.ToLower(args.FromUnit)
	to := strings.ToLower(args.ToUnit)

	fromFactor, okFrom := lengthUnits[from]
	toFactor, okTo := lengthUnits[to]
	if !okFrom || !okTo {
		return "エラー: 未対応の単位です（対応単位: m, km, cm, mm, mile, yard, feet, inch）"
	}

	result := args.Value * fromFactor / toFactor
	return fmt.Sprintf("%s%s = %.4f%s", formatNumber(args.Value), from, result, to)
}
