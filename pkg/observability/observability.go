// Package observability wires tracing (OTLP) and metrics (Prometheus via
// the OpenTelemetry SDK) for the gateway. Both are optional; disabled
// components degrade to no-ops so call sites never branch.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/torii/pkg/config"
)

// Manager owns the tracer provider and the metrics recorder.
type Manager struct {
	config config.ObservabilityConfig

	mu             sync.RWMutex
	tracerProvider trace.TracerProvider
	metrics        Metrics
}

func NewManager(cfg config.ObservabilityConfig) *Manager {
	return &Manager{
		config:         cfg,
		tracerProvider: noop.NewTracerProvider(),
		metrics:        NoopMetrics{},
	}
}

// Initialize starts the configured exporters. Must be called before the
// server accepts traffic.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := initTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := initMetrics(m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics
	return nil
}

func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sd, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return sd.Shutdown(ctx)
	}
	return nil
}
