package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics and Prometheus integration
// for the execution gateway.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	slicesTotal         metric.Int64Counter
	sliceLatency        metric.Float64Histogram
	requestsTotal       metric.Int64Counter
	activeCredentials   metric.Int64UpDownCounter
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Port           int
	Enabled        bool
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mp, nil
}

// initializeMetrics creates all application metrics
func (mp *MetricsProvider) initializeMetrics() error {
	var err error

	mp.httpRequestsTotal, err = mp.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	mp.httpRequestDuration, err = mp.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	mp.slicesTotal, err = mp.meter.Int64Counter(
		"exec_slices_total",
		metric.WithDescription("Total number of order slices placed, by venue and status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create exec_slices_total counter: %w", err)
	}

	mp.sliceLatency, err = mp.meter.Float64Histogram(
		"exec_slice_latency_seconds",
		metric.WithDescription("Latency of a single slice placement round-trip, by venue"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return fmt.Errorf("failed to create exec_slice_latency_seconds histogram: %w", err)
	}

	mp.requestsTotal, err = mp.meter.Int64Counter(
		"exec_requests_total",
		metric.WithDescription("Total number of entry/exit execution requests processed, by type and result"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create exec_requests_total counter: %w", err)
	}

	mp.activeCredentials, err = mp.meter.Int64UpDownCounter(
		"exec_credential_cache_entries",
		metric.WithDescription("Number of decrypted credentials currently held in the in-memory cache"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create exec_credential_cache_entries gauge: %w", err)
	}

	return nil
}

// RecordHTTPRequest records an HTTP request metric
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if mp.httpRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	}

	mp.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSlice records a single slice placement outcome for a venue.
func (mp *MetricsProvider) RecordSlice(ctx context.Context, venue, status string, latency time.Duration) {
	if mp.slicesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("venue", venue),
		attribute.String("status", status),
	}

	mp.slicesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.sliceLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("venue", venue)))
}

// RecordRequest records a single entry/exit execution request outcome.
func (mp *MetricsProvider) RecordRequest(ctx context.Context, requestType, result string) {
	if mp.requestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("type", requestType),
		attribute.String("result", result),
	}

	mp.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// IncrementCachedCredentials records a credential cache insertion.
func (mp *MetricsProvider) IncrementCachedCredentials(ctx context.Context) {
	if mp.activeCredentials == nil {
		return
	}
	mp.activeCredentials.Add(ctx, 1)
}

// DecrementCachedCredentials records a credential cache eviction.
func (mp *MetricsProvider) DecrementCachedCredentials(ctx context.Context) {
	if mp.activeCredentials == nil {
		return
	}
	mp.activeCredentials.Add(ctx, -1)
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func (mp *MetricsProvider) StartMetricsServer(port int) error {
	if mp.registry == nil {
		return fmt.Errorf("metrics not enabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
