package botbridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metric names and tag keys recorded by the dispatcher.
const (
	MetricDispatchOutcome  = "botbridge.dispatch.outcome"
	MetricDispatchRetries  = "botbridge.dispatch.retries"
	MetricDispatchDuration = "botbridge.dispatch.duration"

	TagCommandType = "command_type"
	TagResult      = "result"
)

// Outcome tag values.
const (
	ResultAck           = "ack"
	ResultTimeout       = "timeout"
	ResultCommandFailed = "command_failed"
	ResultDeadLettered  = "dead_lettered"
)

// latencyBuckets are the fixed boundaries (seconds) for dispatch duration
// histograms. One observation spans all attempts of a dispatch call.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// MetricsCollector abstracts metric accumulation. Implementations must be safe
// for concurrent use.
type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

// NopMetricsCollector is a metrics collector that does nothing.
// It is used as a default when no other collector is provided.
type NopMetricsCollector struct{}

// NewNopMetricsCollector creates a new NopMetricsCollector.
func NewNopMetricsCollector() *NopMetricsCollector {
	return &NopMetricsCollector{}
}

// IncrementCounter implements the MetricsCollector interface.
func (m *NopMetricsCollector) IncrementCounter(name string, tags map[string]string) {}

// RecordDuration implements the MetricsCollector interface.
func (m *NopMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
}

// RecordGauge implements the MetricsCollector interface.
func (m *NopMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {}

// OpenTelemetryMetricsCollector is a metrics collector that uses the
// OpenTelemetry SDK.
type OpenTelemetryMetricsCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64UpDownCounter
}

// NewOpenTelemetryMetricsCollector creates a collector on the global meter.
func NewOpenTelemetryMetricsCollector() *OpenTelemetryMetricsCollector {
	return NewOpenTelemetryMetricsCollectorWithMeter(otel.Meter("botbridge"))
}

// NewOpenTelemetryMetricsCollectorWithMeter creates a collector on a specific meter.
func NewOpenTelemetryMetricsCollectorWithMeter(meter metric.Meter) *OpenTelemetryMetricsCollector {
	return &OpenTelemetryMetricsCollector{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64UpDownCounter),
	}
}

// IncrementCounter implements the MetricsCollector interface using OpenTelemetry.
func (m *OpenTelemetryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	counter, err := m.getOrCreateCounter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(m.convertTagsToAttributes(tags)...))
}

// RecordDuration implements the MetricsCollector interface using OpenTelemetry.
func (m *OpenTelemetryMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	histogram, err := m.getOrCreateHistogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(m.convertTagsToAttributes(tags)...))
}

// RecordGauge implements the MetricsCollector interface using OpenTelemetry.
func (m *OpenTelemetryMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	gauge, err := m.getOrCreateGauge(name)
	if err != nil {
		return
	}
	gauge.Add(context.Background(), value, metric.WithAttributes(m.convertTagsToAttributes(tags)...))
}

func (m *OpenTelemetryMetricsCollector) getOrCreateCounter(name string) (metric.Int64Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if counter, exists := m.counters[name]; exists {
		return counter, nil
	}
	counter, err := m.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	m.counters[name] = counter
	return counter, nil
}

func (m *OpenTelemetryMetricsCollector) getOrCreateHistogram(name string) (metric.Float64Histogram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if histogram, exists := m.histograms[name]; exists {
		return histogram, nil
	}
	histogram, err := m.meter.Float64Histogram(name,
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}
	m.histograms[name] = histogram
	return histogram, nil
}

func (m *OpenTelemetryMetricsCollector) getOrCreateGauge(name string) (metric.Float64UpDownCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gauge, exists := m.gauges[name]; exists {
		return gauge, nil
	}
	gauge, err := m.meter.Float64UpDownCounter(name)
	if err != nil {
		return nil, err
	}
	m.gauges[name] = gauge
	return gauge, nil
}

func (m *OpenTelemetryMetricsCollector) convertTagsToAttributes(tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for key, value := range tags {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}

// NewPrometheusMetrics builds an OpenTelemetry collector backed by a private
// prometheus registry and the http.Handler that serves its exposition.
func NewPrometheusMetrics() (*OpenTelemetryMetricsCollector, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	collector := NewOpenTelemetryMetricsCollectorWithMeter(provider.Meter("botbridge"))
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return collector, handler, nil
}
