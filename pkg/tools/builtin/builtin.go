// Package builtin provides the five zero-I/O tool services. Tool outputs
// are Japanese human-readable strings; domain failures are returned as
// strings prefixed "エラー:" rather than errors, so the model can read
// and recover from them.
package builtin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/torii/pkg/tools"
)

type handler func(ctx context.Context, args map[string]interface{}) string

// service is the shared built-in implementation: static descriptors plus a
// name-to-handler dispatch table.
type service struct {
	info        tools.ServiceInfo
	descriptors []tools.ToolDescriptor
	handlers    map[string]handler
}

func (s *service) Class() string                     { return s.info.Class }
func (s *service) Name() string                      { return s.info.Name }
func (s *service) Kind() tools.Kind                  { return tools.KindBuiltIn }
func (s *service) ConfigSchema() []tools.SchemaField { return nil }
func (s *service) AuthSchema() []tools.SchemaField   { return nil }
func (s *service) Tools() []tools.ToolDescriptor     { return s.descriptors }

func (s *service) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	h, ok := s.handlers[tool]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", tool)
	}
	return h(ctx, args), nil
}

func serviceInfo(class, name, description, icon string) tools.ServiceInfo {
	return tools.ServiceInfo{
		Class:       class,
		Name:        name,
		Description: description,
		Icon:        icon,
		Kind:        tools.KindBuiltIn,
	}
}

// register binds one tool: descriptor schema reflected from the argument
// struct, handler added to the dispatch table.
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

func factory(build func() *service) tools.Factory {
	s := build()
	return tools.Factory{
		Info: s.info,
		New: func(map[string]interface{}, map[string]string) (tools.Service, error) {
			return s, nil
		},
	}
}

// Factories returns every built-in service factory for registration.
func Factories() []tools.Factory {
	return []tools.Factory{
		factory(newDateTimeService),
		factory(newCalculationService),
		factory(newTextProcessingService),
		factory(newDataFormatService),
		factory(newUtilityService),
	}
}

// decodeArgs fills a typed argument struct from the raw call args,
// coercing JSON numbers and numeric strings along the way.
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

// formatNumber prints floats the way a calculator would: no trailing
// zeros, integers without a decimal point.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
