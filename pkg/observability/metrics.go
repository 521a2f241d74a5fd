package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kadirpekel/torii/pkg/config"
)

// Metrics records the gateway's three hot paths. Implementations must be
// safe for concurrent use.
type Metrics interface {
	RecordChatRequest(ctx context.Context, provider, model string, duration time.Duration, tokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordModelCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordChatRequest(context.Context, string, string, time.Duration, int, error) {}
func (NoopMetrics) RecordToolExecution(context.Context, string, time.Duration, error)            {}
func (NoopMetrics) RecordModelCall(context.Context, string, string, time.Duration, int, int, error) {
}

func initMetrics(cfg config.MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("torii")

	m := &prometheusMetrics{}

	if m.chatDuration, err = meter.Float64Histogram(
		"torii_chat_request_duration_seconds",
		metric.WithDescription("Chat request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.chatTotal, err = meter.Int64Counter(
		"torii_chat_requests_total",
		metric.WithDescription("Total chat requests"),
	); err != nil {
		return nil, err
	}
	if m.chatErrors, err = meter.Int64Counter(
		"torii_chat_errors_total",
		metric.WithDescription("Total failed chat requests"),
	); err != nil {
		return nil, err
	}
	if m.chatTokens, err = meter.Int64Counter(
		"torii_chat_tokens_used_total",
		metric.WithDescription("Total model tokens consumed by chat requests"),
	); err != nil {
		return nil, err
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"torii_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.toolTotal, err = meter.Int64Counter(
		"torii_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter(
		"torii_tool_errors_total",
		metric.WithDescription("Total failed tool calls"),
	); err != nil {
		return nil, err
	}

	if m.modelDuration, err = meter.Float64Histogram(
		"torii_model_request_duration_seconds",
		metric.WithDescription("Model request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.modelInputTokens, err = meter.Int64Counter(
		"torii_model_tokens_input_total",
		metric.WithDescription("Total input tokens sent to model providers"),
	); err != nil {
		return nil, err
	}
	if m.modelOutputTokens, err = meter.Int64Counter(
		"torii_model_tokens_output_total",
		metric.WithDescription("Total output tokens from model providers"),
	); err != nil {
		return nil, err
	}
	if m.modelErrors, err = meter.Int64Counter(
		"torii_model_errors_total",
		metric.WithDescription("Total failed model requests"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

type prometheusMetrics struct {
	chatDuration metric.Float64Histogram
	chatTotal    metric.Int64Counter
	chatErrors   metric.Int64Counter
	chatTokens   metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolTotal    metric.Int64Counter
	toolErrors   metric.Int64Counter

	modelDuration     metric.Float64Histogram
	modelInputTokens  metric.Int64Counter
	modelOutputTokens metric.Int64Counter
	modelErrors       metric.Int64Counter
}

func (m *prometheusMetrics) RecordChatRequest(ctx context.Context, provider, model string, duration time.Duration, tokens int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.chatDuration.Record(ctx, duration.Seconds(), attrs)
	m.chatTotal.Add(ctx, 1, attrs)
	if tokens > 0 {
		m.chatTokens.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		m.chatErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *prometheusMetrics) RecordModelCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.modelDuration.Record(ctx, duration.Seconds(), attrs)
	m.modelInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.modelOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.modelErrors.Add(ctx, 1, attrs)
	}
}
